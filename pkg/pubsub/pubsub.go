// Package pubsub is an in-process typed publish/subscribe broker.
package pubsub

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// Wildcard subscribers receive messages of every topic.
const Wildcard = "*"

// DefaultBufferSize is the per-subscription channel buffer.
const DefaultBufferSize = 100

// ErrShutdown is returned when subscribing to a broker that has shut down.
var ErrShutdown = errors.New("pubsub: broker is shut down")

// Broker fans messages out to topic subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the message and the drop is counted.
type Broker[T any] struct {
	subscribers map[string]map[*Subscription[T]]struct{}
	mu          sync.RWMutex
	shutdown    chan struct{}
	isShutdown  bool
	bufferSize  int
	dropped     atomic.Uint64
}

// Subscription represents a subscription to a topic
type Subscription[T any] struct {
	topic     string
	channel   chan T
	broker    *Broker[T]
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// Option configures a Broker.
type Option func(*options)

type options struct {
	bufferSize int
}

// WithBufferSize sets the per-subscription buffer.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

// NewBroker creates a broker.
func NewBroker[T any](opts ...Option) *Broker[T] {
	o := options{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Broker[T]{
		subscribers: make(map[string]map[*Subscription[T]]struct{}),
		shutdown:    make(chan struct{}),
		bufferSize:  o.bufferSize,
	}
}

// Subscribe creates a subscription to topic, or to every topic with
// Wildcard. The subscription ends when ctx is cancelled, Unsubscribe is
// called or the broker shuts down; its channel is then closed.
func (b *Broker[T]) Subscribe(ctx context.Context, topic string) (*Subscription[T], error) {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription[T]{
		topic:   topic,
		channel: make(chan T, b.bufferSize),
		broker:  b,
		cancel:  cancel,
	}

	b.mu.Lock()
	if b.isShutdown {
		b.mu.Unlock()
		cancel()
		return nil, ErrShutdown
	}
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[*Subscription[T]]struct{})
	}
	b.subscribers[topic][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-subCtx.Done():
			sub.Unsubscribe()
		case <-b.shutdown:
		}
	}()

	return sub, nil
}

// Publish delivers msg to the subscribers of topic and to wildcard
// subscribers. It returns the number of subscribers that received it.
func (b *Broker[T]) Publish(topic string, msg T) int {
	// Sends happen under the read lock so a channel cannot be closed mid-send;
	// they are non-blocking, so the lock is held only briefly.
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.isShutdown {
		return 0
	}

	delivered := 0
	deliver := func(subs map[*Subscription[T]]struct{}) {
		for sub := range subs {
			select {
			case sub.channel <- msg:
				delivered++
			default:
				b.dropped.Add(1)
			}
		}
	}
	deliver(b.subscribers[topic])
	if topic != Wildcard {
		deliver(b.subscribers[Wildcard])
	}
	return delivered
}

// SubscriberCount returns the number of subscribers for a topic
func (b *Broker[T]) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (b *Broker[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Shutdown closes every subscription. It is idempotent.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isShutdown {
		return
	}
	b.isShutdown = true
	close(b.shutdown)

	for topic, subs := range b.subscribers {
		for sub := range subs {
			sub.cancel()
			sub.close()
		}
		delete(b.subscribers, topic)
	}
}

// Topic returns the subscribed topic.
func (s *Subscription[T]) Topic() string {
	return s.topic
}

// Channel returns the subscription's message channel
func (s *Subscription[T]) Channel() <-chan T {
	return s.channel
}

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription[T]) Unsubscribe() {
	s.cancel()

	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs := b.subscribers[s.topic]; subs != nil {
		delete(subs, s)
		if len(subs) == 0 {
			delete(b.subscribers, s.topic)
		}
	}
	s.close()
}

// close closes the subscription channel safely (idempotent)
func (s *Subscription[T]) close() {
	s.closeOnce.Do(func() {
		close(s.channel)
	})
}
