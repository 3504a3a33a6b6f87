package sink

import (
	"context"
	"errors"

	"github.com/nao1215/lure/internal/model"
)

var (
	// ErrQueueFull is returned by AsyncWriter.Write when the event was dropped.
	ErrQueueFull = errors.New("sink: queue full, event dropped")

	// ErrClosed is returned when writing to a closed sink.
	ErrClosed = errors.New("sink: closed")
)

// Sink accepts events. Implementations must be safe for concurrent use.
type Sink interface {
	Write(ctx context.Context, e *model.Event) error
}

// Func adapts a function to the Sink interface.
type Func func(ctx context.Context, e *model.Event) error

// Write calls f(ctx, e).
func (f Func) Write(ctx context.Context, e *model.Event) error {
	return f(ctx, e)
}

// Discard drops every event.
var Discard Sink = Func(func(context.Context, *model.Event) error { return nil })
