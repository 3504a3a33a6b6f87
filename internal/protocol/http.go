package protocol

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nao1215/lure/internal/model"
	"github.com/nao1215/lure/internal/wire"
)

// HTTP defaults.
const (
	DefaultHTTPServerHeader = "nginx/1.18.0 (Ubuntu)"
	DefaultHTTPReadTimeout  = 30 * time.Second
	maxHTTPBody             = 64 << 10
	maxHTTPHeaderBytes      = 16 << 10
)

const loginPage = `<!DOCTYPE html>
<html>
<head><title>Administration Login</title></head>
<body>
<h2>Administration</h2>
<form method="POST" action="/login">
<label>Username <input type="text" name="username"></label><br>
<label>Password <input type="password" name="password"></label><br>
<input type="submit" value="Sign in">
</form>
</body>
</html>
`

const loginFailedPage = `<!DOCTYPE html>
<html>
<head><title>Administration Login</title></head>
<body>
<h2>Administration</h2>
<p style="color:red">Invalid username or password</p>
<form method="POST" action="/login">
<label>Username <input type="text" name="username"></label><br>
<label>Password <input type="password" name="password"></label><br>
<input type="submit" value="Sign in">
</form>
</body>
</html>
`

const notFoundPage = `<html>
<head><title>404 Not Found</title></head>
<body>
<center><h1>404 Not Found</h1></center>
<hr><center>nginx/1.18.0 (Ubuntu)</center>
</body>
</html>
`

// HTTPHandler serves a fake administration login page. All connections
// handed to Serve are multiplexed onto one http.Server.
type HTTPHandler struct {
	emit         *Emitter
	serverHeader string
	readTimeout  time.Duration

	listener  *connListener
	server    *http.Server
	startOnce sync.Once
}

// HTTPOption configures an HTTPHandler.
type HTTPOption func(*HTTPHandler)

// WithHTTPServerHeader sets the Server response header.
func WithHTTPServerHeader(v string) HTTPOption {
	return func(h *HTTPHandler) {
		if v != "" {
			h.serverHeader = v
		}
	}
}

// WithHTTPReadTimeout sets the request read timeout.
func WithHTTPReadTimeout(d time.Duration) HTTPOption {
	return func(h *HTTPHandler) {
		if d > 0 {
			h.readTimeout = d
		}
	}
}

// NewHTTPHandler creates an HTTP handler.
func NewHTTPHandler(emit *Emitter, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{
		emit:         emit,
		serverHeader: DefaultHTTPServerHeader,
		readTimeout:  DefaultHTTPReadTimeout,
		listener:     newConnListener(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.server = &http.Server{
		Handler:           h.Router(),
		ReadTimeout:       h.readTimeout,
		ReadHeaderTimeout: h.readTimeout,
		WriteTimeout:      h.readTimeout,
		IdleTimeout:       h.readTimeout,
		MaxHeaderBytes:    maxHTTPHeaderBytes,
		ErrorLog:          slog.NewLogLogger(emit.logger.Handler(), slog.LevelDebug),
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if sc, ok := c.(*sessionConn); ok {
				return context.WithValue(ctx, sessionKey{}, sc.sess)
			}
			return ctx
		},
	}
	return h
}

// Protocol implements Handler.
func (h *HTTPHandler) Protocol() model.Protocol {
	return model.ProtocolHTTP
}

// Router returns the request router.
func (h *HTTPHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.serverHeaderMiddleware)

	r.Get("/", h.servePage)
	r.Get("/admin", h.servePage)
	r.Get("/login", h.servePage)
	r.Post("/login", h.login)
	r.NotFound(h.probe)
	r.MethodNotAllowed(h.probe)
	return r
}

// Start implements Starter.
func (h *HTTPHandler) Start(_ context.Context) error {
	h.startOnce.Do(func() {
		go func() {
			if err := h.server.Serve(h.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.emit.logger.Error("http server stopped", "error", err)
			}
		}()
	})
	return nil
}

// Serve implements Handler. It returns once the server is done with conn.
func (h *HTTPHandler) Serve(ctx context.Context, conn net.Conn, sess model.Session) error {
	if err := h.Start(ctx); err != nil {
		_ = conn.Close()
		return err
	}

	h.emit.Connection(ctx, sess)

	sc := newSessionConn(conn, sess)
	if err := h.listener.push(ctx, sc); err != nil {
		_ = sc.Close()
		return err
	}

	<-sc.done
	return nil
}

// Shutdown implements Shutdowner. Connections still open when ctx ends
// are closed.
func (h *HTTPHandler) Shutdown(ctx context.Context) error {
	err := h.server.Shutdown(ctx)
	if err != nil {
		_ = h.server.Close()
	}
	_ = h.listener.Close()
	return err
}

func (h *HTTPHandler) serverHeaderMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", h.serverHeader)
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPHandler) servePage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, loginPage)
}

func (h *HTTPHandler) login(w http.ResponseWriter, r *http.Request) {
	sess := requestSession(r)
	r.Body = http.MaxBytesReader(w, r.Body, maxHTTPBody)

	e := sess.NewEvent(model.EventAuthAttempt)
	if err := r.ParseForm(); err != nil {
		e.SetRaw("form_error", err.Error())
	}
	e.Username = r.PostFormValue("username")
	e.Password = r.PostFormValue("password")
	e.UserAgent = r.UserAgent()
	e.Payload = wire.Printable(r.PostForm.Encode())
	setRequestRaw(e, r)
	h.emit.Emit(r.Context(), e)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, loginFailedPage)
}

func (h *HTTPHandler) probe(w http.ResponseWriter, r *http.Request) {
	sess := requestSession(r)

	body, _ := io.ReadAll(io.LimitReader(r.Body, maxHTTPBody))

	e := sess.NewEvent(model.EventProbe)
	e.UserAgent = r.UserAgent()
	e.Payload = wire.Printable(r.Method + " " + r.URL.RequestURI())
	setRequestRaw(e, r)
	if len(body) > 0 {
		e.SetRaw("body", strings.ToValidUTF8(string(body), "�"))
	}
	h.emit.Emit(r.Context(), e)

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, notFoundPage)
}

func setRequestRaw(e *model.Event, r *http.Request) {
	headers := make(map[string]string, len(r.Header))
	for k, v := range r.Header {
		headers[k] = strings.Join(v, ", ")
	}
	e.SetRaw("method", r.Method)
	e.SetRaw("path", r.URL.Path)
	if r.URL.RawQuery != "" {
		e.SetRaw("query", r.URL.RawQuery)
	}
	e.SetRaw("host", r.Host)
	e.SetRaw("proto", r.Proto)
	e.SetRaw("headers", headers)
}

type sessionKey struct{}

// requestSession returns the session of the connection carrying r. Requests
// served outside Serve, as in tests of Router, get a session derived from
// the remote address.
func requestSession(r *http.Request) model.Session {
	if sess, ok := r.Context().Value(sessionKey{}).(model.Session); ok {
		return sess
	}
	var local net.Addr
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		local = addr
	}
	return model.NewSession(model.ProtocolHTTP, remoteAddr(r.RemoteAddr), local)
}

// remoteAddr is a net.Addr for a host:port string.
type remoteAddr string

func (a remoteAddr) Network() string { return "tcp" }
func (a remoteAddr) String() string  { return string(a) }

// sessionConn carries a session through http.Server and signals when the
// server closes the connection.
type sessionConn struct {
	net.Conn
	sess      model.Session
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func newSessionConn(conn net.Conn, sess model.Session) *sessionConn {
	return &sessionConn{Conn: conn, sess: sess, done: make(chan struct{})}
}

// Close closes the connection and releases Serve.
func (c *sessionConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()
		close(c.done)
	})
	return c.closeErr
}

// connListener is a net.Listener fed with connections accepted elsewhere.
type connListener struct {
	conns     chan net.Conn
	closed    chan struct{}
	closeOnce sync.Once
}

func newConnListener() *connListener {
	return &connListener{
		conns:  make(chan net.Conn),
		closed: make(chan struct{}),
	}
}

// Accept implements net.Listener.
func (l *connListener) Accept() (net.Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.closed:
		return nil, net.ErrClosed
	}
}

// Close implements net.Listener.
func (l *connListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

// Addr implements net.Listener.
func (l *connListener) Addr() net.Addr {
	return remoteAddr("lure-http")
}

func (l *connListener) push(ctx context.Context, c net.Conn) error {
	select {
	case l.conns <- c:
		return nil
	case <-l.closed:
		return net.ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}
