package telemetry

import (
	"context"

	"github.com/dd0wney/cluso-dagvc/pkg/pubsub"
)

// BrokerEmitter publishes events on an in-process broker. The topic is the
// event type, so subscribers may listen to one operation or to
// pubsub.Wildcard.
type BrokerEmitter struct {
	broker *pubsub.Broker[Event]
}

// NewBrokerEmitter wraps broker.
func NewBrokerEmitter(broker *pubsub.Broker[Event]) *BrokerEmitter {
	return &BrokerEmitter{broker: broker}
}

func (b *BrokerEmitter) Emit(e Event) {
	b.broker.Publish(string(e.Type), e)
}

// Subscribe listens for events of type t. An empty type subscribes to all.
func (b *BrokerEmitter) Subscribe(ctx context.Context, t EventType) (*pubsub.Subscription[Event], error) {
	topic := string(t)
	if topic == "" {
		topic = pubsub.Wildcard
	}
	return b.broker.Subscribe(ctx, topic)
}

// Broker returns the underlying broker.
func (b *BrokerEmitter) Broker() *pubsub.Broker[Event] {
	return b.broker
}
