package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nao1215/lure/internal/metrics"
	"github.com/nao1215/lure/internal/model"
)

// Named pairs a sink with the label used in logs and metrics.
type Named struct {
	Name string
	Sink Sink
}

// Fanout writes every event to each of its sinks in order.
// A failing sink does not prevent delivery to the others.
type Fanout struct {
	sinks   []Named
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewFanout creates a Fanout. Nil logger and recorder fall back to defaults.
func NewFanout(logger *slog.Logger, m metrics.Recorder, sinks ...Named) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Nop{}
	}
	return &Fanout{sinks: sinks, logger: logger, metrics: m}
}

// Write implements Sink. The returned error joins every sink failure.
func (f *Fanout) Write(ctx context.Context, e *model.Event) error {
	var errs []error
	for _, s := range f.sinks {
		if err := s.Sink.Write(ctx, e); err != nil {
			f.metrics.SinkError(s.Name)
			f.logger.Debug("sink write failed", "sink", s.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}
