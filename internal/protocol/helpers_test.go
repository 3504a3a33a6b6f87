package protocol

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/lure/internal/log"
	"github.com/nao1215/lure/internal/metrics"
	"github.com/nao1215/lure/internal/model"
)

// captureSink records events synchronously.
type captureSink struct {
	mu     sync.Mutex
	events []*model.Event
}

func (c *captureSink) Write(_ context.Context, e *model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captureSink) snapshot() []*model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*model.Event(nil), c.events...)
}

func (c *captureSink) types() []model.EventType {
	var types []model.EventType
	for _, e := range c.snapshot() {
		types = append(types, e.Type)
	}
	return types
}

func (c *captureSink) ofType(t model.EventType) []*model.Event {
	var out []*model.Event
	for _, e := range c.snapshot() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestEmitter() (*Emitter, *captureSink) {
	cs := &captureSink{}
	return NewEmitter(cs, metrics.Nop{}, log.Discard()), cs
}

func testSession(p model.Protocol) model.Session {
	return model.Session{
		ID:         "test-session",
		Protocol:   p,
		SourceIP:   "192.0.2.10",
		SourcePort: 40000,
		DestPort:   1234,
		StartedAt:  time.Now().UTC(),
	}
}

// servePipe runs h on one end of a pipe and returns the other end.
func servePipe(t *testing.T, h Handler) (net.Conn, <-chan error) {
	t.Helper()

	server, client := net.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- h.Serve(context.Background(), server, testSession(h.Protocol()))
	}()
	t.Cleanup(func() { _ = client.Close() })

	if err := client.SetDeadline(time.Now().Add(10 * time.Second)); err != nil {
		t.Fatalf("SetDeadline failed: %v", err)
	}
	return client, done
}

// waitServe returns the error of a Serve call started by servePipe.
func waitServe(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return")
		return nil
	}
}

// readUntil reads from r until the accumulated output contains marker.
func readUntil(t *testing.T, r *bufio.Reader, marker string) string {
	t.Helper()

	var sb strings.Builder
	for !strings.Contains(sb.String(), marker) {
		b, err := r.ReadByte()
		if err != nil {
			t.Fatalf("reading until %q: %v (got %q)", marker, err, sb.String())
		}
		sb.WriteByte(b)
	}
	return sb.String()
}

func equalTypes(got, want []model.EventType) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
