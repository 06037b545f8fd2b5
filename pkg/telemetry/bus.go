package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	// Register all transports (tcp, ipc, inproc, ws)
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/cluso-dagvc/pkg/logging"
	"github.com/dd0wney/cluso-dagvc/pkg/metrics"
	"github.com/dd0wney/cluso-dagvc/pkg/pubsub"
)

// ErrBusClosed is returned by a closed publisher or subscriber.
var ErrBusClosed = errors.New("telemetry bus closed")

// EncodeMessage frames an event as "<type> <json>" so subscribers can
// filter on the type prefix.
func EncodeMessage(e Event) ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	msg := make([]byte, 0, len(e.Type)+1+len(body))
	msg = append(msg, e.Type...)
	msg = append(msg, ' ')
	return append(msg, body...), nil
}

// DecodeMessage parses a frame produced by EncodeMessage.
func DecodeMessage(msg []byte) (Event, error) {
	i := bytes.IndexByte(msg, ' ')
	if i < 0 {
		return Event{}, fmt.Errorf("malformed bus message: missing topic separator")
	}
	var e Event
	if err := json.Unmarshal(msg[i+1:], &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if string(e.Type) != string(msg[:i]) {
		return Event{}, fmt.Errorf("malformed bus message: topic %q does not match event type %q", msg[:i], e.Type)
	}
	return e, nil
}

// BusPublisher forwards events to a mangos PUB socket.
type BusPublisher struct {
	sock     mangos.Socket
	addr     string
	registry *metrics.Registry
	logger   logging.Logger

	mu     sync.Mutex
	closed bool
}

// NewBusPublisher listens on addr (e.g. "tcp://127.0.0.1:7070" or
// "inproc://dagvc").
func NewBusPublisher(addr string, registry *metrics.Registry, logger logging.Logger) (*BusPublisher, error) {
	sock, err := pub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("create pub socket: %w", err)
	}
	if err := sock.Listen(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}
	if logger == nil {
		logger = logging.NopLogger{}
	}
	return &BusPublisher{
		sock:     sock,
		addr:     addr,
		registry: registry,
		logger:   logger.With(logging.Component("bus")),
	}, nil
}

// Addr returns the listen address.
func (p *BusPublisher) Addr() string { return p.addr }

// Publish sends one event.
func (p *BusPublisher) Publish(e Event) error {
	msg, err := EncodeMessage(e)
	if err == nil {
		p.mu.Lock()
		if p.closed {
			err = ErrBusClosed
		} else {
			err = p.sock.Send(msg)
		}
		p.mu.Unlock()
	}
	if p.registry != nil {
		p.registry.RecordBusMessage(err)
	}
	return err
}

// Emit publishes e and logs delivery failures.
func (p *BusPublisher) Emit(e Event) {
	if err := p.Publish(e); err != nil && !errors.Is(err, ErrBusClosed) {
		p.logger.Warn("bus publish failed", logging.Error(err), logging.CorrelationID(e.CorrelationID))
	}
}

// Run forwards every event from broker until ctx is cancelled or the broker
// shuts down.
func (p *BusPublisher) Run(ctx context.Context, broker *pubsub.Broker[Event]) error {
	s, err := broker.Subscribe(ctx, pubsub.Wildcard)
	if err != nil {
		return err
	}
	defer s.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-s.Channel():
			if !ok {
				return nil
			}
			p.Emit(e)
		}
	}
}

// Close closes the socket.
func (p *BusPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.sock.Close()
}

// BusSubscriber reads events from a BusPublisher.
type BusSubscriber struct {
	sock mangos.Socket
}

// DialBus connects a SUB socket to addr. With no types it receives every
// event.
func DialBus(addr string, types ...EventType) (*BusSubscriber, error) {
	sock, err := sub.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("create sub socket: %w", err)
	}
	if len(types) == 0 {
		if err := sock.SetOption(mangos.OptionSubscribe, []byte{}); err != nil {
			sock.Close()
			return nil, err
		}
	}
	for _, t := range types {
		if err := sock.SetOption(mangos.OptionSubscribe, []byte(string(t)+" ")); err != nil {
			sock.Close()
			return nil, err
		}
	}
	if err := sock.Dial(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &BusSubscriber{sock: sock}, nil
}

// Recv waits up to timeout for the next event. A zero timeout blocks.
func (s *BusSubscriber) Recv(timeout time.Duration) (Event, error) {
	if timeout > 0 {
		if err := s.sock.SetOption(mangos.OptionRecvDeadline, timeout); err != nil {
			return Event{}, err
		}
	}
	msg, err := s.sock.Recv()
	if err != nil {
		if errors.Is(err, mangos.ErrClosed) {
			return Event{}, ErrBusClosed
		}
		return Event{}, err
	}
	return DecodeMessage(msg)
}

// Close closes the socket.
func (s *BusSubscriber) Close() error {
	return s.sock.Close()
}
