package listener

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nao1215/lure/internal/log"
	"github.com/nao1215/lure/internal/metrics"
	"github.com/nao1215/lure/internal/model"
	"github.com/nao1215/lure/internal/protocol"
	"github.com/nao1215/lure/internal/sink"
)

// funcHandler adapts a function to protocol.Handler.
type funcHandler struct {
	protocol model.Protocol
	serve    func(ctx context.Context, conn net.Conn, sess model.Session) error
}

func (h *funcHandler) Protocol() model.Protocol { return h.protocol }

func (h *funcHandler) Serve(ctx context.Context, conn net.Conn, sess model.Session) error {
	return h.serve(ctx, conn, sess)
}

// failingStarter is a handler whose Start always fails.
type failingStarter struct {
	funcHandler
}

func (h *failingStarter) Start(context.Context) error {
	return errors.New("host key unreadable")
}

// connCounter counts connection metrics.
type connCounter struct {
	metrics.Nop
	opened atomic.Int64
	closed atomic.Int64
}

func (c *connCounter) ConnectionOpened(model.Protocol) { c.opened.Add(1) }

func (c *connCounter) ConnectionClosed(model.Protocol, time.Duration) { c.closed.Add(1) }

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// runSupervisor starts s and returns a function that stops it and
// returns the error of Run.
func runSupervisor(t *testing.T, s *Supervisor) func() error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("supervisor did not become ready")
	}

	var once sync.Once
	var err error
	stop := func() error {
		once.Do(func() {
			cancel()
			select {
			case err = <-done:
			case <-time.After(10 * time.Second):
				t.Fatal("Run did not return")
			}
		})
		return err
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()

	if addr == nil {
		t.Fatal("protocol is not being served")
	}
	conn, err := net.DialTimeout("tcp", addr.String(), 5*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func testOptions(m metrics.Recorder) []Option {
	return []Option{
		WithBindAddress("127.0.0.1"),
		WithLogger(log.Discard()),
		WithMetrics(m),
		WithGracePeriod(200 * time.Millisecond),
	}
}

// TestSupervisorServesFTP tests a full FTP exchange through the supervisor.
func TestSupervisorServesFTP(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var events []*model.Event
	capture := sink.Func(func(_ context.Context, e *model.Event) error {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, e)
		return nil
	})

	counter := &connCounter{}
	emit := protocol.NewEmitter(capture, counter, log.Discard())
	s := New([]Binding{
		{Port: freePort(t), Handler: protocol.NewFTPHandler(emit)},
	}, testOptions(counter)...)
	stop := runSupervisor(t, s)

	conn := dial(t, s.Addr(model.ProtocolFTP))
	r := bufio.NewReader(conn)
	for _, cmd := range []string{"", "USER root\r\n", "PASS toor\r\n", "QUIT\r\n"} {
		if cmd != "" {
			if _, err := io.WriteString(conn, cmd); err != nil {
				t.Fatalf("write %q: %v", cmd, err)
			}
		}
		if _, err := r.ReadString('\n'); err != nil {
			t.Fatalf("read reply to %q: %v", cmd, err)
		}
	}
	if _, err := r.ReadString('\n'); !errors.Is(err, io.EOF) {
		t.Errorf("connection not closed after QUIT: %v", err)
	}

	if err := stop(); err != nil {
		t.Errorf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Type != model.EventConnection || events[1].Type != model.EventAuthAttempt {
		t.Errorf("event types = %s, %s", events[0].Type, events[1].Type)
	}
	if events[0].SessionID != events[1].SessionID || events[0].SessionID == "" {
		t.Error("events do not share a session id")
	}
	if events[1].SourceIP != "127.0.0.1" {
		t.Errorf("source ip = %q", events[1].SourceIP)
	}
	if events[1].DestPort != s.Addr(model.ProtocolFTP).(*net.TCPAddr).Port {
		t.Errorf("dest port = %d", events[1].DestPort)
	}
	if counter.opened.Load() != 1 || counter.closed.Load() != 1 {
		t.Errorf("connections opened/closed = %d/%d, want 1/1", counter.opened.Load(), counter.closed.Load())
	}
}

// TestSupervisorSkipsFailedBindings tests that a bind or start failure only
// disables the affected protocol.
func TestSupervisorSkipsFailedBindings(t *testing.T) {
	t.Parallel()

	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	defer occupied.Close()

	echo := func(_ context.Context, conn net.Conn, _ model.Session) error {
		_, err := io.WriteString(conn, "ok\n")
		return err
	}

	s := New([]Binding{
		{Port: occupied.Addr().(*net.TCPAddr).Port, Handler: &funcHandler{protocol: model.ProtocolSMB, serve: echo}},
		{Port: freePort(t), Handler: &failingStarter{funcHandler{protocol: model.ProtocolSSH, serve: echo}}},
		{Port: 0, Handler: &funcHandler{protocol: model.ProtocolRDP, serve: echo}},
		{Port: freePort(t), Handler: &funcHandler{protocol: model.ProtocolTelnet, serve: echo}},
	}, testOptions(metrics.Nop{})...)
	runSupervisor(t, s)

	for _, p := range []model.Protocol{model.ProtocolSMB, model.ProtocolSSH, model.ProtocolRDP} {
		if addr := s.Addr(p); addr != nil {
			t.Errorf("Addr(%s) = %v, want nil", p, addr)
		}
	}

	conn := dial(t, s.Addr(model.ProtocolTelnet))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil || line != "ok\n" {
		t.Errorf("telnet binding read = %q, %v", line, err)
	}
}

// TestSupervisorNoListeners tests that Run fails when nothing can be served.
func TestSupervisorNoListeners(t *testing.T) {
	t.Parallel()

	s := New([]Binding{
		{Port: 0, Handler: &funcHandler{protocol: model.ProtocolFTP}},
	}, testOptions(metrics.Nop{})...)

	if err := s.Run(context.Background()); !errors.Is(err, ErrNoListeners) {
		t.Errorf("Run() error = %v, want ErrNoListeners", err)
	}
}

// TestSupervisorGracePeriod tests that a stuck connection is closed after
// the grace period and that finished connections are not.
func TestSupervisorGracePeriod(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	var sawCancel atomic.Bool
	stuck := func(ctx context.Context, conn net.Conn, _ model.Session) error {
		started <- struct{}{}
		_, err := conn.Read(make([]byte, 1))
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
		return err
	}

	counter := &connCounter{}
	s := New([]Binding{
		{Port: freePort(t), Handler: &funcHandler{protocol: model.ProtocolTelnet, serve: stuck}},
	}, testOptions(counter)...)
	stop := runSupervisor(t, s)

	conn := dial(t, s.Addr(model.ProtocolTelnet))
	_ = conn.SetDeadline(time.Time{})
	<-started

	begin := time.Now()
	if err := stop(); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if elapsed := time.Since(begin); elapsed < 200*time.Millisecond {
		t.Errorf("Run returned after %v, before the grace period", elapsed)
	}
	if !sawCancel.Load() {
		t.Error("handler context was not cancelled at the end of the grace period")
	}
	if s.ActiveConnections() != 0 {
		t.Errorf("ActiveConnections() = %d, want 0", s.ActiveConnections())
	}
	if counter.closed.Load() != 1 {
		t.Errorf("connections closed = %d, want 1", counter.closed.Load())
	}
}

// TestSupervisorInFlightFinishes tests that a connection finishing within
// the grace period is not cut short.
func TestSupervisorInFlightFinishes(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	var finished atomic.Bool
	slow := func(ctx context.Context, conn net.Conn, _ model.Session) error {
		started <- struct{}{}
		time.Sleep(100 * time.Millisecond)
		if ctx.Err() == nil {
			finished.Store(true)
		}
		_, err := io.WriteString(conn, "bye\n")
		return err
	}

	opts := append(testOptions(metrics.Nop{}), WithGracePeriod(5*time.Second))
	s := New([]Binding{
		{Port: freePort(t), Handler: &funcHandler{protocol: model.ProtocolFTP, serve: slow}},
	}, opts...)
	stop := runSupervisor(t, s)

	conn := dial(t, s.Addr(model.ProtocolFTP))
	<-started

	if err := stop(); err != nil {
		t.Errorf("Run() error = %v", err)
	}
	if !finished.Load() {
		t.Error("in-flight handler was cancelled before finishing")
	}
	line, _ := bufio.NewReader(conn).ReadString('\n')
	if line != "bye\n" {
		t.Errorf("read = %q, want %q", line, "bye\n")
	}
}

// TestSupervisorRecoversPanics tests that a panicking handler does not
// take the listener down.
func TestSupervisorRecoversPanics(t *testing.T) {
	t.Parallel()

	var calls atomic.Int64
	flaky := func(_ context.Context, conn net.Conn, _ model.Session) error {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		_, err := io.WriteString(conn, "ok\n")
		return err
	}

	s := New([]Binding{
		{Port: freePort(t), Handler: &funcHandler{protocol: model.ProtocolHTTP, serve: flaky}},
	}, testOptions(metrics.Nop{})...)
	runSupervisor(t, s)

	first := dial(t, s.Addr(model.ProtocolHTTP))
	if _, err := first.Read(make([]byte, 1)); err == nil {
		t.Error("panicking connection was not closed")
	}

	second := dial(t, s.Addr(model.ProtocolHTTP))
	line, err := bufio.NewReader(second).ReadString('\n')
	if err != nil || line != "ok\n" {
		t.Errorf("second connection read = %q, %v", line, err)
	}
}

// TestSupervisorMaxConns tests the per-port connection cap.
func TestSupervisorMaxConns(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var active, peak atomic.Int64
	hold := func(_ context.Context, conn net.Conn, _ model.Session) error {
		n := active.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		active.Add(-1)
		_, err := io.WriteString(conn, "done\n")
		return err
	}

	opts := append(testOptions(metrics.Nop{}), WithMaxConns(2), WithGracePeriod(5*time.Second))
	s := New([]Binding{
		{Port: freePort(t), Handler: &funcHandler{protocol: model.ProtocolRDP, serve: hold}},
	}, opts...)
	stop := runSupervisor(t, s)

	conns := make([]net.Conn, 4)
	for i := range conns {
		conns[i] = dial(t, s.Addr(model.ProtocolRDP))
	}

	time.Sleep(200 * time.Millisecond)
	if got := peak.Load(); got != 2 {
		t.Errorf("concurrent handlers = %d, want 2", got)
	}

	close(release)
	for i, conn := range conns {
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil || line != "done\n" {
			t.Errorf("conn %d read = %q, %v", i, line, err)
		}
	}
	_ = stop()
}

func TestBindingAddress(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	s := New([]Binding{
		{Port: port, Handler: &funcHandler{protocol: model.ProtocolSMB, serve: func(context.Context, net.Conn, model.Session) error { return nil }}},
	}, testOptions(metrics.Nop{})...)
	runSupervisor(t, s)

	want := net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
	if got := s.Addr(model.ProtocolSMB).String(); got != want {
		t.Errorf("Addr() = %s, want %s", got, want)
	}
}
