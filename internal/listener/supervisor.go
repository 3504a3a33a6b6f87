package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/lure/internal/metrics"
	"github.com/nao1215/lure/internal/model"
	"github.com/nao1215/lure/internal/protocol"
)

// Supervisor defaults.
const (
	DefaultBindAddress = "0.0.0.0"
	DefaultMaxConns    = 256
	DefaultGracePeriod = 5 * time.Second

	maxAcceptBackoff = time.Second
)

// ErrNoListeners is returned by Run when no binding could be started.
var ErrNoListeners = errors.New("no listener could be started")

// Binding attaches a handler to a TCP port. Port 0 disables the binding.
type Binding struct {
	Port    int
	Handler protocol.Handler
}

// Supervisor owns the listeners and the connections accepted on them.
// Each Binding gets its own listener and accept loop; every accepted
// connection is served on its own goroutine with a fresh Session.
//
// Design decision: A port that cannot be bound is logged and skipped
// instead of failing the whole process. A honeypot that lost one service
// to a port conflict keeps capturing on the others; Run only fails when
// no listener started at all.
//
// Design decision: Handlers run on a context that is not cancelled when
// Run's context is. Shutdown first closes the listeners, then gives
// in-flight handlers the grace period to finish their exchange, and only
// then closes the remaining connections.
type Supervisor struct {
	bindings    []Binding
	bindAddress string
	maxConns    int
	grace       time.Duration
	logger      *slog.Logger
	metrics     metrics.Recorder

	ready chan struct{}

	mu    sync.Mutex
	addrs map[model.Protocol]net.Addr
	conns map[net.Conn]struct{}

	handlers sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithBindAddress sets the local address all listeners bind to.
func WithBindAddress(addr string) Option {
	return func(s *Supervisor) {
		s.bindAddress = addr
	}
}

// WithMaxConns caps concurrent connections per listener. Zero disables
// the cap.
func WithMaxConns(n int) Option {
	return func(s *Supervisor) {
		if n >= 0 {
			s.maxConns = n
		}
	}
}

// WithGracePeriod sets how long in-flight connections may run after
// shutdown starts.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Supervisor) {
		if d >= 0 {
			s.grace = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Supervisor) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a Supervisor for the given bindings.
func New(bindings []Binding, opts ...Option) *Supervisor {
	s := &Supervisor{
		bindings:    bindings,
		bindAddress: DefaultBindAddress,
		maxConns:    DefaultMaxConns,
		grace:       DefaultGracePeriod,
		logger:      slog.Default(),
		metrics:     metrics.Nop{},
		ready:       make(chan struct{}),
		addrs:       make(map[model.Protocol]net.Addr),
		conns:       make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready is closed once every binding has been started or skipped.
func (s *Supervisor) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address of protocol p, or nil when p is not
// being served.
func (s *Supervisor) Addr(p model.Protocol) net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addrs[p]
}

// ActiveConnections returns the number of open connections.
func (s *Supervisor) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

type bound struct {
	Binding
	ln net.Listener
}

// Run starts every binding and serves until ctx is cancelled. It returns
// after all connections have ended or were closed at the end of the grace
// period.
func (s *Supervisor) Run(ctx context.Context) error {
	// Connections outlive ctx for the grace period.
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConns()

	active := s.start(ctx)
	close(s.ready)
	if len(active) == 0 {
		return ErrNoListeners
	}

	var g errgroup.Group
	for _, b := range active {
		g.Go(func() error {
			return s.acceptLoop(ctx, connCtx, b)
		})
	}

	<-ctx.Done()
	s.logger.Info("shutting down listeners", "grace_period", s.grace)
	for _, b := range active {
		_ = b.ln.Close()
	}
	err := g.Wait()

	s.drain(active, cancelConns)
	return err
}

// start runs the Starter hooks and binds the ports. Failures are logged and
// the binding is skipped.
func (s *Supervisor) start(ctx context.Context) []bound {
	var active []bound
	var lc net.ListenConfig

	for _, b := range s.bindings {
		p := b.Handler.Protocol()
		if b.Port == 0 {
			s.logger.Info("protocol disabled", "protocol", p)
			continue
		}

		if starter, ok := b.Handler.(protocol.Starter); ok {
			if err := starter.Start(ctx); err != nil {
				s.logger.Error("failed to start handler, skipping", "protocol", p, "error", err)
				continue
			}
		}

		address := net.JoinHostPort(s.bindAddress, strconv.Itoa(b.Port))
		ln, err := lc.Listen(ctx, "tcp", address)
		if err != nil {
			s.logger.Error("failed to bind, skipping", "protocol", p, "address", address, "error", err)
			s.shutdownHandler(b.Handler)
			continue
		}
		if s.maxConns > 0 {
			ln = netutil.LimitListener(ln, s.maxConns)
		}

		s.mu.Lock()
		s.addrs[p] = ln.Addr()
		s.mu.Unlock()

		s.logger.Info("listening", "protocol", p, "address", ln.Addr().String(), "max_conns", s.maxConns)
		active = append(active, bound{Binding: b, ln: ln})
	}
	return active
}

// acceptLoop accepts connections until the listener is closed.
func (s *Supervisor) acceptLoop(ctx, connCtx context.Context, b bound) error {
	var backoff time.Duration

	for {
		conn, err := b.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("%s listener closed: %w", b.Handler.Protocol(), err)
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			s.logger.Warn("accept failed, retrying",
				"protocol", b.Handler.Protocol(),
				"error", err,
				"backoff", backoff,
			)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		s.handlers.Add(1)
		go s.serve(connCtx, conn, b.Handler)
	}
}

// serve runs the handler for one connection.
func (s *Supervisor) serve(ctx context.Context, conn net.Conn, h protocol.Handler) {
	defer s.handlers.Done()

	p := h.Protocol()
	sess := model.NewSession(p, conn.RemoteAddr(), conn.LocalAddr())
	logger := s.logger.With(
		"protocol", p,
		"session_id", sess.ID,
		"source_ip", sess.SourceIP,
		"source_port", sess.SourcePort,
	)

	s.track(conn, true)
	defer s.track(conn, false)

	s.metrics.ConnectionOpened(p)
	start := time.Now()
	defer func() {
		s.metrics.ConnectionClosed(p, time.Since(start))
	}()

	defer func() {
		if r := recover(); r != nil {
			_ = conn.Close()
			logger.Error("handler panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	logger.Debug("connection accepted")
	err := h.Serve(ctx, conn, sess)
	_ = conn.Close()

	outcome := protocol.Classify(err)
	if outcome.Expected() {
		logger.Debug("connection closed", "outcome", outcome, "duration", time.Since(start))
		return
	}
	logger.Warn("connection ended with error", "outcome", outcome, "error", err, "duration", time.Since(start))
}

func (s *Supervisor) track(conn net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// drain waits up to the grace period for connections to end, then closes
// the rest.
func (s *Supervisor) drain(active []bound, cancelConns context.CancelFunc) {
	graceCtx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()

	for _, b := range active {
		s.shutdownHandlerContext(graceCtx, b.Handler)
	}

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("all connections finished")
		return
	case <-graceCtx.Done():
	}

	cancelConns()
	s.mu.Lock()
	remaining := len(s.conns)
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.logger.Warn("grace period expired, closed remaining connections", "connections", remaining)

	<-done
}

func (s *Supervisor) shutdownHandler(h protocol.Handler) {
	ctx, cancel := context.WithTimeout(context.Background(), s.grace)
	defer cancel()
	s.shutdownHandlerContext(ctx, h)
}

func (s *Supervisor) shutdownHandlerContext(ctx context.Context, h protocol.Handler) {
	sd, ok := h.(protocol.Shutdowner)
	if !ok {
		return
	}
	if err := sd.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		s.logger.Warn("handler shutdown failed", "protocol", h.Protocol(), "error", err)
	}
}
