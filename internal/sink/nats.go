package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/nao1215/lure/internal/model"
)

// NATS connection settings.
const (
	DefaultSubject       = "lure.events"
	NATSConnectTimeout   = 10 * time.Second
	NATSReconnectWait    = 5 * time.Second
	natsClientName       = "lure"
	natsPublishTimeout   = 5 * time.Second
	natsReconnectBufSize = 8 * 1024 * 1024
)

// NATSPublisher publishes events as JSON on a NATS subject.
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url, subject string, logger *slog.Logger) (*NATSPublisher, error) {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(url,
		nats.Name(natsClientName),
		nats.Timeout(NATSConnectTimeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(NATSReconnectWait),
		nats.ReconnectBufSize(natsReconnectBufSize),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", "url", nc.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("NATS publisher initialized", "url", conn.ConnectedUrlRedacted(), "subject", subject)
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}, nil
}

// Write implements Sink. It returns once the server has acknowledged the
// message, or fails after natsPublishTimeout. While the connection is down
// messages are kept in the reconnect buffer and Write does not wait.
func (p *NATSPublisher) Write(ctx context.Context, e *model.Event) error {
	msg, err := newEventMsg(p.subject, e)
	if err != nil {
		return err
	}

	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if !p.conn.IsConnected() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, natsPublishTimeout)
	defer cancel()
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}

// IsReady reports whether the connection is currently established.
func (p *NATSPublisher) IsReady() bool {
	return p.conn != nil && p.conn.IsConnected()
}

// Close flushes pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

// newEventMsg encodes e as a NATS message with routing headers.
func newEventMsg(subject string, e *model.Event) (*nats.Msg, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event to JSON: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set("x-protocol", e.Protocol.String())
	msg.Header.Set("x-event-type", e.Type.String())
	msg.Header.Set("x-source-ip", e.SourceIP)
	msg.Header.Set("x-timestamp", strconv.FormatInt(e.Timestamp.UnixMilli(), 10))
	if e.SessionID != "" {
		msg.Header.Set("x-session-id", e.SessionID)
	}
	if e.ID != 0 {
		msg.Header.Set("x-event-id", strconv.FormatInt(e.ID, 10))
	}
	return msg, nil
}
