package protocol

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/nao1215/lure/internal/model"
	"github.com/nao1215/lure/internal/wire"
)

// FTP defaults.
const (
	DefaultFTPBanner      = "220 (vsFTPd 3.0.3)"
	DefaultFTPMaxCommands = 20
	DefaultFTPIdleTimeout = 60 * time.Second
)

// FTP replies.
const (
	ftpReplyNeedPassword = "331 Please specify the password."
	ftpReplyLoginFailed  = "530 Login incorrect."
	ftpReplyGoodbye      = "221 Goodbye."
	ftpReplyUnknown      = "500 Unknown command."
	ftpReplyTooMany      = "421 Too many commands, closing control connection."
	ftpReplyTimeout      = "421 Timeout."
)

// FTPHandler emulates a vsFTPd control connection that rejects every login.
type FTPHandler struct {
	emit        *Emitter
	banner      string
	maxCommands int
	idleTimeout time.Duration
}

// FTPOption configures an FTPHandler.
type FTPOption func(*FTPHandler)

// WithFTPBanner sets the greeting line.
func WithFTPBanner(banner string) FTPOption {
	return func(h *FTPHandler) {
		if banner != "" {
			h.banner = banner
		}
	}
}

// WithFTPMaxCommands bounds the number of commands per connection.
func WithFTPMaxCommands(n int) FTPOption {
	return func(h *FTPHandler) {
		if n > 0 {
			h.maxCommands = n
		}
	}
}

// WithFTPIdleTimeout sets the per-read idle timeout.
func WithFTPIdleTimeout(d time.Duration) FTPOption {
	return func(h *FTPHandler) {
		if d > 0 {
			h.idleTimeout = d
		}
	}
}

// NewFTPHandler creates an FTP handler.
func NewFTPHandler(emit *Emitter, opts ...FTPOption) *FTPHandler {
	h := &FTPHandler{
		emit:        emit,
		banner:      DefaultFTPBanner,
		maxCommands: DefaultFTPMaxCommands,
		idleTimeout: DefaultFTPIdleTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Protocol implements Handler.
func (h *FTPHandler) Protocol() model.Protocol {
	return model.ProtocolFTP
}

// Serve implements Handler.
func (h *FTPHandler) Serve(ctx context.Context, conn net.Conn, sess model.Session) error {
	defer conn.Close()

	h.emit.Connection(ctx, sess)

	if err := h.reply(conn, h.banner); err != nil {
		return err
	}

	r := bufio.NewReaderSize(conn, maxLineLength)
	var username string

	for i := 0; i < h.maxCommands; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := readLine(conn, r, h.idleTimeout)
		if err != nil {
			if Classify(err) == OutcomeIdle {
				_ = h.reply(conn, ftpReplyTimeout)
			}
			return err
		}

		cmd, arg := splitFTPCommand(string(line))
		switch cmd {
		case "USER":
			username = arg
			err = h.reply(conn, ftpReplyNeedPassword)
		case "PASS":
			e := sess.NewEvent(model.EventAuthAttempt)
			e.Username = username
			e.Password = arg
			h.emit.Emit(ctx, e)
			err = h.reply(conn, ftpReplyLoginFailed)
		case "QUIT":
			_ = h.reply(conn, ftpReplyGoodbye)
			return nil
		case "":
			err = h.reply(conn, ftpReplyUnknown)
		default:
			e := sess.NewEvent(model.EventCommand)
			e.Username = username
			e.Payload = wire.Printable(string(line))
			e.SetRaw("command", cmd)
			if arg != "" {
				e.SetRaw("argument", arg)
			}
			h.emit.Emit(ctx, e)
			err = h.reply(conn, ftpReplyUnknown)
		}
		if err != nil {
			return err
		}
	}

	_ = h.reply(conn, ftpReplyTooMany)
	return fmt.Errorf("%w: %d commands", ErrLimit, h.maxCommands)
}

func (h *FTPHandler) reply(conn net.Conn, line string) error {
	return writeString(conn, line+"\r\n")
}

// splitFTPCommand returns the upper-cased verb and its argument.
func splitFTPCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	verb, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(wire.Printable(verb)), strings.TrimSpace(arg)
}
