package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dd0wney/cluso-dagvc/pkg/logging"
	"github.com/dd0wney/cluso-dagvc/pkg/metrics"
	"github.com/dd0wney/cluso-dagvc/pkg/pubsub"
	dto "github.com/prometheus/client_model/go"
)

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventStore, "test")
	if e.Type != EventStore || e.Source != "test" {
		t.Errorf("unexpected event %+v", e)
	}
	if e.Status != StatusSuccess {
		t.Errorf("Status = %s, want success", e.Status)
	}
	if e.CorrelationID == "" {
		t.Error("CorrelationID not set")
	}
	if e.Timestamp.IsZero() {
		t.Error("Timestamp not set")
	}
	if other := NewEvent(EventStore, "test"); other.CorrelationID == e.CorrelationID {
		t.Error("correlation ids must be unique")
	}
}

func TestEvent_WithDoesNotAlias(t *testing.T) {
	base := NewEvent(EventDiff, "test").With(AttrHash, "sha256:aa")
	a := base.With(AttrChanges, 2)
	b := base.With(AttrChanges, 5)

	if a.Attr(AttrChanges) != "2" || b.Attr(AttrChanges) != "5" {
		t.Errorf("attributes aliased: a=%s b=%s", a.Attr(AttrChanges), b.Attr(AttrChanges))
	}
	if _, ok := base.Attributes[AttrChanges]; ok {
		t.Error("With mutated the receiver")
	}
	if base.Attr("missing") != "" {
		t.Error("missing attribute should be empty")
	}
}

func TestEvent_Failed(t *testing.T) {
	e := NewEvent(EventRollback, "test").Failed(errors.New("unknown target"))
	if e.Status != StatusFailure {
		t.Errorf("Status = %s", e.Status)
	}
	if e.Attr(AttrError) != "unknown target" {
		t.Errorf("error attribute = %q", e.Attr(AttrError))
	}
	if !strings.Contains(e.String(), "rollback failure") {
		t.Errorf("String() = %s", e.String())
	}
}

func TestRecorder_RingBuffer(t *testing.T) {
	r := NewRecorder(3)
	for i := 0; i < 5; i++ {
		r.Emit(NewEvent(EventStore, "test").With(AttrVersion, fmt.Sprint(i)))
	}

	if r.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", r.Len())
	}
	if r.Total() != 5 {
		t.Errorf("Total() = %d, want 5", r.Total())
	}

	events := r.Events(nil)
	for i, want := range []string{"2", "3", "4"} {
		if got := events[i].Attr(AttrVersion); got != want {
			t.Errorf("Events()[%d] = %s, want %s", i, got, want)
		}
	}

	recent := r.Recent(2)
	if len(recent) != 2 || recent[0].Attr(AttrVersion) != "4" || recent[1].Attr(AttrVersion) != "3" {
		t.Errorf("Recent(2) returned wrong order")
	}
	if len(r.Recent(10)) != 3 {
		t.Error("Recent should cap at Len()")
	}

	r.Clear()
	if r.Len() != 0 || len(r.Events(nil)) != 0 {
		t.Error("Clear did not empty the recorder")
	}
}

func TestRecorder_Filter(t *testing.T) {
	r := NewRecorder(0)
	r.Emit(NewEvent(EventStore, "a"))
	r.Emit(NewEvent(EventRollback, "a").Failed(nil))
	r.Emit(NewEvent(EventStore, "b"))

	if got := len(r.Events(&Filter{Type: EventStore})); got != 2 {
		t.Errorf("type filter matched %d, want 2", got)
	}
	if got := len(r.Events(&Filter{Status: StatusFailure})); got != 1 {
		t.Errorf("status filter matched %d, want 1", got)
	}
	if got := len(r.Events(&Filter{Source: "b"})); got != 1 {
		t.Errorf("source filter matched %d, want 1", got)
	}
	future := time.Now().Add(time.Hour)
	if got := len(r.Events(&Filter{StartTime: &future})); got != 0 {
		t.Errorf("start time filter matched %d, want 0", got)
	}
}

func TestMulti(t *testing.T) {
	var mu sync.Mutex
	var got []string
	record := func(name string) Emitter {
		return EmitterFunc(func(e Event) {
			mu.Lock()
			got = append(got, name+":"+string(e.Type))
			mu.Unlock()
		})
	}

	m := NewMulti(record("a"), nil, Nop{})
	m.Add(record("b"))
	m.Emit(NewEvent(EventApply, "test"))

	if strings.Join(got, ",") != "a:apply,b:apply" {
		t.Errorf("got %v", got)
	}
}

func TestLogEmitter(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewJSONLogger(&buf, logging.DebugLevel)
	l := NewLogEmitter(logger)

	l.Emit(NewEvent(EventStore, "test").With(AttrHash, "sha256:ab"))
	l.Emit(NewEvent(EventRestore, "test").Failed(errors.New("missing bundle")))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}

	var entry logging.LogEntry
	if err := json.Unmarshal([]byte(lines[1]), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry.Level != "WARN" {
		t.Errorf("failure level = %s, want WARN", entry.Level)
	}
	if entry.Fields["event"] != "restore" || entry.Fields[AttrError] != "missing bundle" {
		t.Errorf("unexpected fields %v", entry.Fields)
	}
	if entry.Fields["component"] != "telemetry" {
		t.Errorf("component = %v", entry.Fields["component"])
	}
}

func TestMetricsEmitter(t *testing.T) {
	reg := metrics.NewRegistry()
	m := NewMetricsEmitter(reg)
	m.Emit(NewEvent(EventValidate, "test"))
	m.Emit(NewEvent(EventValidate, "test"))

	var metric dto.Metric
	c, _ := reg.TelemetryEventsTotal.GetMetricWithLabelValues("validate")
	if err := c.Write(&metric); err != nil {
		t.Fatal(err)
	}
	if v := metric.Counter.GetValue(); v != 2 {
		t.Errorf("validate events = %v, want 2", v)
	}
}

func TestBrokerEmitter(t *testing.T) {
	broker := pubsub.NewBroker[Event]()
	defer broker.Shutdown()
	b := NewBrokerEmitter(broker)

	ctx := context.Background()
	stores, err := b.Subscribe(ctx, EventStore)
	if err != nil {
		t.Fatal(err)
	}
	all, err := b.Subscribe(ctx, "")
	if err != nil {
		t.Fatal(err)
	}

	b.Emit(NewEvent(EventStore, "test"))
	b.Emit(NewEvent(EventDiff, "test"))

	select {
	case e := <-stores.Channel():
		if e.Type != EventStore {
			t.Errorf("store subscriber got %s", e.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for store event")
	}
	for i := 0; i < 2; i++ {
		select {
		case <-all.Channel():
		case <-time.After(time.Second):
			t.Fatalf("wildcard subscriber missed event %d", i)
		}
	}
	if b.Broker() != broker {
		t.Error("Broker() returned a different broker")
	}
}

func TestMessageFraming(t *testing.T) {
	e := NewEvent(EventRollback, "test").With(AttrHash, "sha256:01")
	msg, err := EncodeMessage(e)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(msg, []byte("rollback {")) {
		t.Errorf("message = %s", msg)
	}

	got, err := DecodeMessage(msg)
	if err != nil {
		t.Fatal(err)
	}
	if got.CorrelationID != e.CorrelationID || got.Attr(AttrHash) != "sha256:01" {
		t.Errorf("decoded %+v", got)
	}

	for _, bad := range []string{"rollback", "store {}", "store {not json"} {
		if _, err := DecodeMessage([]byte(bad)); err == nil {
			t.Errorf("DecodeMessage(%q) should fail", bad)
		}
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	addr := fmt.Sprintf("inproc://dagvc-bus-%d", time.Now().UnixNano())
	reg := metrics.NewRegistry()

	p, err := NewBusPublisher(addr, reg, nil)
	if err != nil {
		t.Fatalf("NewBusPublisher: %v", err)
	}
	defer p.Close()

	s, err := DialBus(addr, EventStore)
	if err != nil {
		t.Fatalf("DialBus: %v", err)
	}
	defer s.Close()

	// PUB drops messages until the subscription has propagated.
	want := NewEvent(EventStore, "test")
	deadline := time.Now().Add(5 * time.Second)
	var got Event
	for time.Now().Before(deadline) {
		p.Emit(NewEvent(EventDiff, "test"))
		if err := p.Publish(want); err != nil {
			t.Fatalf("Publish: %v", err)
		}
		got, err = s.Recv(100 * time.Millisecond)
		if err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("no event received: %v", err)
	}
	if got.Type != EventStore || got.CorrelationID != want.CorrelationID {
		t.Errorf("received %+v", got)
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := p.Publish(want); !errors.Is(err, ErrBusClosed) {
		t.Errorf("Publish after Close = %v", err)
	}
}

func TestBus_RunForwardsBroker(t *testing.T) {
	addr := fmt.Sprintf("inproc://dagvc-run-%d", time.Now().UnixNano())
	p, err := NewBusPublisher(addr, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	s, err := DialBus(addr)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	broker := pubsub.NewBroker[Event]()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, broker) }()

	deadline := time.Now().Add(5 * time.Second)
	var got Event
	for time.Now().Before(deadline) {
		broker.Publish(string(EventApply), NewEvent(EventApply, "test"))
		if got, err = s.Recv(100 * time.Millisecond); err == nil {
			break
		}
	}
	if err != nil {
		t.Fatalf("no forwarded event: %v", err)
	}
	if got.Type != EventApply {
		t.Errorf("forwarded %s", got.Type)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
	broker.Shutdown()
}
