package protocol

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
)

// timeoutError is a net.Error reporting a timeout.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// TestClassify tests the mapping of connection errors to outcomes.
func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{name: "nil", err: nil, want: OutcomeDone},
		{name: "limit", err: fmt.Errorf("%w: 20 commands", ErrLimit), want: OutcomeLimit},
		{name: "idle", err: fmt.Errorf("%w: read", ErrIdle), want: OutcomeIdle},
		{name: "deadline", err: os.ErrDeadlineExceeded, want: OutcomeIdle},
		{name: "net timeout", err: &net.OpError{Op: "read", Err: timeoutError{}}, want: OutcomeIdle},
		{name: "eof", err: io.EOF, want: OutcomeEOF},
		{name: "wrapped eof", err: fmt.Errorf("handshake: %w", io.ErrUnexpectedEOF), want: OutcomeEOF},
		{name: "canceled", err: context.Canceled, want: OutcomeCanceled},
		{name: "closed", err: net.ErrClosed, want: OutcomeReset},
		{name: "closed pipe", err: io.ErrClosedPipe, want: OutcomeReset},
		{name: "reset", err: &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, want: OutcomeReset},
		{name: "other", err: errors.New("ssh: no common algorithm"), want: OutcomeError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Classify(tt.err)
			if got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
			if got.Expected() != (tt.want != OutcomeError) {
				t.Errorf("Expected() = %v for %q", got.Expected(), got)
			}
		})
	}
}

// TestEmitterNilDefaults tests that an Emitter works with nil dependencies.
func TestEmitterNilDefaults(t *testing.T) {
	t.Parallel()

	em := NewEmitter(nil, nil, nil)
	em.Connection(context.Background(), testSession("ftp"))
}
