package protocol

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/nao1215/lure/internal/model"
)

// Handler serves one emulated protocol.
type Handler interface {
	// Protocol returns the emulated protocol.
	Protocol() model.Protocol

	// Serve runs the exchange on conn and closes it before returning.
	// The returned error describes why the exchange ended; Classify maps
	// it to an Outcome. It is never fatal to the process.
	Serve(ctx context.Context, conn net.Conn, sess model.Session) error
}

// Starter is implemented by handlers that need preparation before their
// port is bound, such as loading a host key.
type Starter interface {
	Start(ctx context.Context) error
}

// Shutdowner is implemented by handlers holding resources shared across
// connections. Shutdown is called once after accepting has stopped.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

var (
	// ErrIdle ends a connection whose peer stopped sending.
	ErrIdle = errors.New("protocol: idle timeout")

	// ErrLimit ends a connection that reached its exchange bound.
	ErrLimit = errors.New("protocol: exchange limit reached")
)

// Outcome classifies how a connection ended.
type Outcome string

// Outcomes.
const (
	OutcomeDone     Outcome = "done"
	OutcomeEOF      Outcome = "eof"
	OutcomeIdle     Outcome = "idle"
	OutcomeLimit    Outcome = "limit"
	OutcomeReset    Outcome = "reset"
	OutcomeCanceled Outcome = "canceled"
	OutcomeError    Outcome = "error"
)

// Expected reports whether the outcome is part of normal operation.
// Unexpected outcomes are logged at a higher level.
func (o Outcome) Expected() bool {
	return o != OutcomeError
}

// Classify maps the error returned by Serve to an Outcome.
func Classify(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeDone
	case errors.Is(err, ErrLimit):
		return OutcomeLimit
	case errors.Is(err, ErrIdle), errors.Is(err, os.ErrDeadlineExceeded):
		return OutcomeIdle
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return OutcomeEOF
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return OutcomeReset
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return OutcomeIdle
	}
	return OutcomeError
}
