package sink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nao1215/lure/internal/metrics"
	"github.com/nao1215/lure/internal/model"
)

// Default AsyncWriter settings.
const (
	DefaultQueueSize    = 1024
	DefaultWriteTimeout = 10 * time.Second
)

// AsyncWriter queues events on a bounded channel drained by one goroutine.
//
// Design decision: Write never blocks a protocol handler. When the queue
// is full the event is dropped, counted in lure_events_dropped_total and
// ErrQueueFull is returned. A slow database must not stall the decoys,
// and an attacker flooding one port must not grow memory without bound.
//
// Close stops accepting events and waits, bounded by its context, until
// the queue has been written to the target.
type AsyncWriter struct {
	target       Sink
	queue        chan *model.Event
	logger       *slog.Logger
	metrics      metrics.Recorder
	writeTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Option configures an AsyncWriter.
type Option func(*AsyncWriter)

// WithQueueSize sets the queue capacity.
func WithQueueSize(n int) Option {
	return func(w *AsyncWriter) {
		if n > 0 {
			w.queue = make(chan *model.Event, n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(w *AsyncWriter) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m metrics.Recorder) Option {
	return func(w *AsyncWriter) {
		if m != nil {
			w.metrics = m
		}
	}
}

// WithWriteTimeout bounds each write to the target.
func WithWriteTimeout(d time.Duration) Option {
	return func(w *AsyncWriter) {
		if d > 0 {
			w.writeTimeout = d
		}
	}
}

// NewAsyncWriter creates the writer and starts its drain goroutine.
// Close must be called to flush the queue and stop the goroutine.
func NewAsyncWriter(target Sink, opts ...Option) *AsyncWriter {
	w := &AsyncWriter{
		target:       target,
		queue:        make(chan *model.Event, DefaultQueueSize),
		logger:       slog.Default(),
		metrics:      metrics.Nop{},
		writeTimeout: DefaultWriteTimeout,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	go w.run()
	return w
}

// Write enqueues e without blocking. It returns ErrQueueFull when the queue
// is at capacity and ErrClosed after Close.
func (w *AsyncWriter) Write(_ context.Context, e *model.Event) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrClosed
	}

	select {
	case w.queue <- e:
		return nil
	default:
		w.metrics.EventDropped()
		w.logger.Warn("event queue full, dropping event",
			"protocol", e.Protocol,
			"event_type", e.Type,
			"source_ip", e.SourceIP,
			"session_id", e.SessionID,
		)
		return ErrQueueFull
	}
}

// Len returns the number of queued events.
func (w *AsyncWriter) Len() int {
	return len(w.queue)
}

// Cap returns the queue capacity.
func (w *AsyncWriter) Cap() int {
	return cap(w.queue)
}

// Close stops accepting events and waits until the queue is drained or
// ctx is done. Events still queued when ctx expires are lost.
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("event queue not drained before shutdown", "remaining", len(w.queue))
		return ctx.Err()
	}
}

func (w *AsyncWriter) run() {
	defer close(w.done)

	for e := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), w.writeTimeout)
		if err := w.target.Write(ctx, e); err != nil {
			w.logger.Error("failed to write event",
				"protocol", e.Protocol,
				"event_type", e.Type,
				"session_id", e.SessionID,
				"error", err,
			)
		}
		cancel()
	}
}
