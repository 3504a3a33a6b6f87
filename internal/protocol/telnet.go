package protocol

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/nao1215/lure/internal/model"
	"github.com/nao1215/lure/internal/wire"
)

// Telnet defaults.
const (
	DefaultTelnetBanner      = "Ubuntu 20.04.6 LTS"
	DefaultTelnetRounds      = 3
	DefaultTelnetReadTimeout = 30 * time.Second
)

const (
	telnetLoginPrompt    = "login: "
	telnetPasswordPrompt = "Password: "
	telnetLoginFailed    = "\r\nLogin incorrect\r\n"
)

// TelnetHandler emulates a telnetd login prompt that rejects every login.
type TelnetHandler struct {
	emit        *Emitter
	banner      string
	rounds      int
	readTimeout time.Duration
}

// TelnetOption configures a TelnetHandler.
type TelnetOption func(*TelnetHandler)

// WithTelnetBanner sets the text shown before the first prompt.
func WithTelnetBanner(banner string) TelnetOption {
	return func(h *TelnetHandler) {
		h.banner = banner
	}
}

// WithTelnetRounds sets the number of login rounds.
func WithTelnetRounds(n int) TelnetOption {
	return func(h *TelnetHandler) {
		if n > 0 {
			h.rounds = n
		}
	}
}

// WithTelnetReadTimeout sets the timeout of each prompt.
func WithTelnetReadTimeout(d time.Duration) TelnetOption {
	return func(h *TelnetHandler) {
		if d > 0 {
			h.readTimeout = d
		}
	}
}

// NewTelnetHandler creates a Telnet handler.
func NewTelnetHandler(emit *Emitter, opts ...TelnetOption) *TelnetHandler {
	h := &TelnetHandler{
		emit:        emit,
		banner:      DefaultTelnetBanner,
		rounds:      DefaultTelnetRounds,
		readTimeout: DefaultTelnetReadTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Protocol implements Handler.
func (h *TelnetHandler) Protocol() model.Protocol {
	return model.ProtocolTelnet
}

// Serve implements Handler.
func (h *TelnetHandler) Serve(ctx context.Context, conn net.Conn, sess model.Session) error {
	defer conn.Close()

	h.emit.Connection(ctx, sess)

	greeting := wire.TelnetNegotiation()
	if h.banner != "" {
		greeting = append(greeting, "\r\n"+h.banner+"\r\n\r\n"...)
	}
	if err := write(conn, greeting); err != nil {
		return err
	}

	lr := &telnetLineReader{
		conn:    conn,
		r:       bufio.NewReaderSize(conn, maxLineLength),
		timeout: h.readTimeout,
	}

	for round := 1; round <= h.rounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := writeString(conn, telnetLoginPrompt); err != nil {
			return err
		}
		username, err := lr.readField()
		if err != nil {
			return err
		}

		if err := writeString(conn, telnetPasswordPrompt); err != nil {
			return err
		}
		password, err := lr.readField()
		if err != nil {
			if username != "" {
				h.emitAttempt(ctx, sess, round, username, "")
			}
			return err
		}

		h.emitAttempt(ctx, sess, round, username, password)

		if err := writeString(conn, telnetLoginFailed); err != nil {
			return err
		}
	}

	return fmt.Errorf("%w: %d login rounds", ErrLimit, h.rounds)
}

func (h *TelnetHandler) emitAttempt(ctx context.Context, sess model.Session, round int, username, password string) {
	e := sess.NewEvent(model.EventAuthAttempt)
	e.Username = username
	e.Password = password
	e.SetRaw("round", round)
	h.emit.Emit(ctx, e)
}

// telnetLineReader frames client input into lines. It is local to one
// connection: pendingCR survives between fields so that the LF or NUL
// completing a CR is dropped even when it arrives in a later segment.
type telnetLineReader struct {
	conn      net.Conn
	r         *bufio.Reader
	timeout   time.Duration
	pendingCR bool
}

// readField reads one input line and removes Telnet commands from it.
// Lines end with CR LF, CR NUL or a bare LF. Commands are consumed before
// terminators are looked for, so option bytes never end a line.
func (tr *telnetLineReader) readField() (string, error) {
	if err := tr.conn.SetReadDeadline(time.Now().Add(tr.timeout)); err != nil {
		return "", err
	}

	var line []byte
	for {
		b, err := tr.r.ReadByte()
		if err != nil {
			if len(line) > 0 {
				return wire.Printable(wire.StripIAC(line)), nil
			}
			return "", idle(err)
		}

		if tr.pendingCR {
			tr.pendingCR = false
			if b == '\n' || b == 0 {
				continue
			}
		}

		switch b {
		case wire.TelnetIAC:
			literal, err := tr.skipCommand()
			if err != nil {
				if len(line) > 0 && !errors.Is(err, ErrLimit) {
					return wire.Printable(wire.StripIAC(line)), nil
				}
				return "", idle(err)
			}
			if literal {
				// Kept escaped; StripIAC turns it back into one 0xFF.
				line = append(line, wire.TelnetIAC, wire.TelnetIAC)
			}
			continue
		case '\n':
			return wire.Printable(wire.StripIAC(line)), nil
		case '\r':
			tr.pendingCR = true
			return wire.Printable(wire.StripIAC(line)), nil
		}

		line = append(line, b)
		if len(line) > maxLineLength {
			return "", fmt.Errorf("%w: %w", ErrLimit, errLineTooLong)
		}
	}
}

// skipCommand consumes the rest of a command that started with IAC.
// It reports true for IAC IAC, the escaped 0xFF data byte.
func (tr *telnetLineReader) skipCommand() (bool, error) {
	cmd, err := tr.r.ReadByte()
	if err != nil {
		return false, err
	}

	switch {
	case cmd == wire.TelnetIAC:
		return true, nil
	case cmd >= wire.TelnetWILL && cmd <= wire.TelnetDONT:
		_, err = tr.r.ReadByte()
		return false, err
	case cmd == wire.TelnetSB:
		return false, tr.skipSubnegotiation()
	default:
		return false, nil
	}
}

// skipSubnegotiation consumes bytes up to and including IAC SE.
func (tr *telnetLineReader) skipSubnegotiation() error {
	prevIAC := false
	for n := 0; n <= maxLineLength; n++ {
		b, err := tr.r.ReadByte()
		if err != nil {
			return err
		}
		if prevIAC && b == wire.TelnetSE {
			return nil
		}
		// IAC IAC inside the payload is data, not the start of IAC SE.
		prevIAC = b == wire.TelnetIAC && !prevIAC
	}
	return fmt.Errorf("%w: %w", ErrLimit, errLineTooLong)
}
