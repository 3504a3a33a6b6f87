package protocol

import (
	"context"
	"net"
	"time"

	"github.com/nao1215/lure/internal/model"
	"github.com/nao1215/lure/internal/wire"
)

// rdpConnectionConfirm is an X.224 Connection Confirm carrying an
// RDP_NEG_RSP that selects standard RDP security (PROTOCOL_RDP).
var rdpConnectionConfirm = []byte{
	0x03, 0x00, 0x00, 0x13, // TPKT, length 19
	0x0e, 0xd0, 0x00, 0x00, 0x12, 0x34, 0x00, // X.224 CC
	0x02, 0x00, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00, // RDP_NEG_RSP
}

// RDPHandler captures the connection request of RDP clients.
type RDPHandler struct {
	emit        *Emitter
	readTimeout time.Duration
}

// RDPOption configures an RDPHandler.
type RDPOption func(*RDPHandler)

// WithRDPReadTimeout sets the timeout of each read.
func WithRDPReadTimeout(d time.Duration) RDPOption {
	return func(h *RDPHandler) {
		if d > 0 {
			h.readTimeout = d
		}
	}
}

// NewRDPHandler creates an RDP handler.
func NewRDPHandler(emit *Emitter, opts ...RDPOption) *RDPHandler {
	h := &RDPHandler{emit: emit, readTimeout: initialReadTimeout}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Protocol implements Handler.
func (h *RDPHandler) Protocol() model.Protocol {
	return model.ProtocolRDP
}

// Serve implements Handler.
func (h *RDPHandler) Serve(ctx context.Context, conn net.Conn, sess model.Session) error {
	defer conn.Close()

	h.emit.Connection(ctx, sess)

	request, err := readOnce(conn, initialReadSize, h.readTimeout)
	if err != nil {
		return err
	}

	var e *model.Event
	cookie, hasCookie := wire.ExtractRDPCookie(request)
	if hasCookie && cookie.Username != "" {
		e = sess.NewEvent(model.EventAuthAttempt)
		e.Username = cookie.Username
	} else {
		e = sess.NewEvent(model.EventHandshake)
	}
	if hasCookie {
		e.SetRaw("cookie", cookie.Raw)
	}
	if requested, ok := wire.RDPRequestedProtocols(request); ok {
		e.SetRaw("requested_protocols", requested)
	}
	e.SetRaw("length", len(request))
	e.SetRaw("hex", wire.HexPreview(request, hexPreviewBytes))
	h.emit.Emit(ctx, e)

	if err := write(conn, rdpConnectionConfirm); err != nil {
		return err
	}

	next, err := readOnce(conn, initialReadSize, h.readTimeout)
	if err != nil {
		return err
	}

	p := sess.NewEvent(model.EventPayload)
	p.Payload = wire.HexPreview(next, hexPreviewBytes)
	p.SetRaw("length", len(next))
	if len(next) > 0 && next[0] == 0x16 {
		// TLS handshake record despite PROTOCOL_RDP being selected.
		p.SetRaw("tls_client_hello", true)
	}
	h.emit.Emit(ctx, p)
	return nil
}
