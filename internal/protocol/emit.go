package protocol

import (
	"context"
	"log/slog"

	"github.com/nao1215/lure/internal/metrics"
	"github.com/nao1215/lure/internal/model"
	"github.com/nao1215/lure/internal/sink"
)

// Emitter hands events to the sink on behalf of handlers.
type Emitter struct {
	sink    sink.Sink
	metrics metrics.Recorder
	logger  *slog.Logger
}

// NewEmitter creates an Emitter. Nil recorder and logger fall back to
// metrics.Nop and slog.Default.
func NewEmitter(s sink.Sink, m metrics.Recorder, logger *slog.Logger) *Emitter {
	if s == nil {
		s = sink.Discard
	}
	if m == nil {
		m = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{sink: s, metrics: m, logger: logger}
}

// Logger returns a logger annotated with the session.
func (em *Emitter) Logger(sess model.Session) *slog.Logger {
	return em.logger.With(
		"protocol", sess.Protocol,
		"session_id", sess.ID,
		"source_ip", sess.SourceIP,
		"source_port", sess.SourcePort,
	)
}

// Emit records e. Sink failures are logged and otherwise ignored.
func (em *Emitter) Emit(ctx context.Context, e *model.Event) {
	em.metrics.EventRecorded(e.Protocol, e.Type)

	if e.Type == model.EventAuthAttempt {
		em.logger.Info("authentication attempt",
			"protocol", e.Protocol,
			"source_ip", e.SourceIP,
			"session_id", e.SessionID,
			"username", e.Username,
			"password", e.Password,
		)
	}

	if err := em.sink.Write(ctx, e); err != nil {
		em.logger.Debug("event not recorded",
			"protocol", e.Protocol,
			"event_type", e.Type,
			"session_id", e.SessionID,
			"error", err,
		)
	}
}

// Connection emits the connection event that opens every session.
func (em *Emitter) Connection(ctx context.Context, sess model.Session) {
	em.Emit(ctx, sess.NewEvent(model.EventConnection))
}
