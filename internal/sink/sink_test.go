package sink

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nao1215/lure/internal/model"
)

// recorder collects written events.
type recorder struct {
	mu     sync.Mutex
	events []*model.Event
}

func (r *recorder) Write(_ context.Context, e *model.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) snapshot() []*model.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*model.Event(nil), r.events...)
}

// countingMetrics records the calls AsyncWriter and Fanout make.
type countingMetrics struct {
	mu         sync.Mutex
	dropped    int
	sinkErrors map[string]int
}

func (m *countingMetrics) ConnectionOpened(model.Protocol)                  {}
func (m *countingMetrics) ConnectionClosed(model.Protocol, time.Duration)   {}
func (m *countingMetrics) EventRecorded(model.Protocol, model.EventType)    {}
func (m *countingMetrics) ReportCycle(int, int)                             {}
func (m *countingMetrics) FindingSubmitted(model.Protocol, model.EventType) {}
func (m *countingMetrics) TrackerError(string)                              {}

func (m *countingMetrics) EventDropped() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropped++
}

func (m *countingMetrics) SinkError(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sinkErrors == nil {
		m.sinkErrors = make(map[string]int)
	}
	m.sinkErrors[name]++
}

func newEvent(typ model.EventType, payload string) *model.Event {
	sess := model.Session{ID: "s1", Protocol: model.ProtocolFTP, SourceIP: "192.0.2.1"}
	e := sess.NewEvent(typ)
	e.Payload = payload
	return e
}

// TestAsyncWriterPreservesOrder tests FIFO delivery and drain on Close.
func TestAsyncWriterPreservesOrder(t *testing.T) {
	t.Parallel()

	target := &recorder{}
	w := NewAsyncWriter(target, WithQueueSize(64))

	payloads := []string{"USER root", "PASS toor", "SYST", "PWD", "QUIT"}
	for _, p := range payloads {
		if err := w.Write(context.Background(), newEvent(model.EventCommand, p)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got := target.snapshot()
	if len(got) != len(payloads) {
		t.Fatalf("got %d events, want %d", len(got), len(payloads))
	}
	for i, e := range got {
		if e.Payload != payloads[i] {
			t.Errorf("event %d payload = %q, want %q", i, e.Payload, payloads[i])
		}
	}
}

// TestAsyncWriterDropsWhenFull tests that a full queue never blocks the caller.
func TestAsyncWriterDropsWhenFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocking := Func(func(context.Context, *model.Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	m := &countingMetrics{}
	w := NewAsyncWriter(blocking, WithQueueSize(2), WithMetrics(m))

	// The first event is taken by the drain goroutine and blocks there.
	if err := w.Write(context.Background(), newEvent(model.EventConnection, "")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	<-started

	for i := 0; i < 2; i++ {
		if err := w.Write(context.Background(), newEvent(model.EventConnection, "")); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- w.Write(context.Background(), newEvent(model.EventConnection, ""))
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueFull) {
			t.Errorf("expected ErrQueueFull, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Write blocked on a full queue")
	}

	m.mu.Lock()
	dropped := m.dropped
	m.mu.Unlock()
	if dropped != 1 {
		t.Errorf("dropped = %d, want 1", dropped)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := w.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

// TestAsyncWriterClosed tests writes after Close.
func TestAsyncWriterClosed(t *testing.T) {
	t.Parallel()

	w := NewAsyncWriter(Discard)
	if w.Cap() != DefaultQueueSize {
		t.Errorf("Cap() = %d, want %d", w.Cap(), DefaultQueueSize)
	}
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := w.Close(context.Background()); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := w.Write(context.Background(), newEvent(model.EventConnection, "")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

// TestFanout tests delivery to every sink despite failures.
func TestFanout(t *testing.T) {
	t.Parallel()

	first := &recorder{}
	second := &recorder{}
	failing := Func(func(context.Context, *model.Event) error {
		return errors.New("connection refused")
	})

	m := &countingMetrics{}
	f := NewFanout(nil, m,
		Named{Name: "database", Sink: first},
		Named{Name: "nats", Sink: failing},
		Named{Name: "archive", Sink: second},
	)
	if f.Len() != 3 {
		t.Errorf("Len() = %d, want 3", f.Len())
	}

	err := f.Write(context.Background(), newEvent(model.EventAuthAttempt, ""))
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(first.snapshot()) != 1 || len(second.snapshot()) != 1 {
		t.Error("healthy sinks must receive the event")
	}
	if m.sinkErrors["nats"] != 1 {
		t.Errorf("sink errors = %v", m.sinkErrors)
	}

	if err := NewFanout(nil, nil, Named{Name: "database", Sink: first}).Write(context.Background(), newEvent(model.EventProbe, "")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestNewEventMsg tests the NATS message encoding.
func TestNewEventMsg(t *testing.T) {
	t.Parallel()

	e := newEvent(model.EventAuthAttempt, "")
	e.ID = 17
	e.Username = "root"
	e.Password = "toor"

	msg, err := newEventMsg("lure.events", e)
	if err != nil {
		t.Fatalf("newEventMsg failed: %v", err)
	}

	if msg.Subject != "lure.events" {
		t.Errorf("Subject = %q", msg.Subject)
	}
	headers := map[string]string{
		"x-protocol":   "ftp",
		"x-event-type": "auth_attempt",
		"x-source-ip":  "192.0.2.1",
		"x-session-id": "s1",
		"x-event-id":   "17",
	}
	for k, want := range headers {
		if got := msg.Header.Get(k); got != want {
			t.Errorf("header %s = %q, want %q", k, got, want)
		}
	}

	var decoded model.Event
	if err := json.Unmarshal(msg.Data, &decoded); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if decoded.Username != "root" || decoded.Password != "toor" {
		t.Errorf("unexpected decoded credentials: %+v", decoded)
	}
}

// TestNATSPublisher publishes to a live server when one is reachable.
func TestNATSPublisher(t *testing.T) {
	url := os.Getenv("LURE_TEST_NATS_URL")
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Timeout(2*time.Second))
	if err != nil {
		t.Skip("NATS server not available, skipping test")
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync("lure.test.events")
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	p, err := NewNATSPublisher(url, "lure.test.events", nil)
	if err != nil {
		t.Fatalf("NewNATSPublisher failed: %v", err)
	}
	if !p.IsReady() {
		t.Error("publisher should be ready")
	}

	if err := p.Write(context.Background(), newEvent(model.EventConnection, "")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	// Delivery is bounded by the caller's context.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Write(cancelled, newEvent(model.EventConnection, "")); !errors.Is(err, context.Canceled) {
		t.Errorf("Write with cancelled context = %v, want context.Canceled", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	msg, err := sub.NextMsg(2 * time.Second)
	if err != nil {
		t.Fatalf("no message received: %v", err)
	}
	if msg.Header.Get("x-event-type") != "connection" {
		t.Errorf("unexpected header: %v", msg.Header)
	}
}
