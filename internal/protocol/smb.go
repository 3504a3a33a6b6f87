package protocol

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/nao1215/lure/internal/model"
	"github.com/nao1215/lure/internal/wire"
)

// SMB2 negotiate response layout.
const (
	smb2HeaderSize        = 64
	smb2NegotiateBodySize = 65
	smb2Dialect0210       = 0x0210
	smb2MaxIOSize         = 65536
	smb2FlagServerToRedir = 0x00000001
	smb2SecurityModeSign  = 0x0001

	// windowsEpochOffset is the number of 100ns intervals between
	// 1601-01-01 and 1970-01-01.
	windowsEpochOffset = 116444736000000000
)

// smb2ServerGUID is the fixed server identifier of the emulated host.
var smb2ServerGUID = [16]byte{
	0x4c, 0x75, 0x72, 0x65, 0x2d, 0x53, 0x4d, 0x42,
	0x2d, 0x53, 0x65, 0x72, 0x76, 0x65, 0x72, 0x31,
}

// SMBHandler captures SMB dialect negotiation and NTLM session setup.
type SMBHandler struct {
	emit        *Emitter
	readTimeout time.Duration
	now         func() time.Time
}

// SMBOption configures an SMBHandler.
type SMBOption func(*SMBHandler)

// WithSMBReadTimeout sets the timeout of each read.
func WithSMBReadTimeout(d time.Duration) SMBOption {
	return func(h *SMBHandler) {
		if d > 0 {
			h.readTimeout = d
		}
	}
}

// NewSMBHandler creates an SMB handler.
func NewSMBHandler(emit *Emitter, opts ...SMBOption) *SMBHandler {
	h := &SMBHandler{emit: emit, readTimeout: initialReadTimeout, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Protocol implements Handler.
func (h *SMBHandler) Protocol() model.Protocol {
	return model.ProtocolSMB
}

// Serve implements Handler.
func (h *SMBHandler) Serve(ctx context.Context, conn net.Conn, sess model.Session) error {
	defer conn.Close()

	h.emit.Connection(ctx, sess)

	request, err := readOnce(conn, initialReadSize, h.readTimeout)
	if err != nil {
		return err
	}

	dialect := wire.DetectSMB(request)
	if dialect == wire.SMBUnknown {
		e := sess.NewEvent(model.EventPayload)
		e.Payload = wire.HexPreview(request, hexPreviewBytes)
		e.SetRaw("length", len(request))
		h.emit.Emit(ctx, e)
		return nil
	}

	n := sess.NewEvent(model.EventNegotiate)
	n.SetRaw("dialect", dialect.String())
	n.SetRaw("length", len(request))
	n.SetRaw("hex", wire.HexPreview(request, hexPreviewBytes))
	h.emit.Emit(ctx, n)

	if dialect != wire.SMB2 {
		return nil
	}

	if err := write(conn, smb2NegotiateResponse(h.now())); err != nil {
		return err
	}

	setup, err := readOnce(conn, initialReadSize, h.readTimeout)
	if err != nil {
		return err
	}

	msg, ok := wire.ParseNTLM(setup)
	if ok && msg.HasUsername() {
		e := sess.NewEvent(model.EventAuthAttempt)
		e.Username = msg.Username
		e.SetRaw("domain", msg.Domain)
		e.SetRaw("ntlm_type", msg.Type)
		h.emit.Emit(ctx, e)
		return nil
	}

	p := sess.NewEvent(model.EventPayload)
	p.Payload = wire.HexPreview(setup, hexPreviewBytes)
	p.SetRaw("length", len(setup))
	if ok {
		p.SetRaw("ntlm_type", msg.Type)
	}
	h.emit.Emit(ctx, p)
	return nil
}

// smb2NegotiateResponse builds a NetBIOS-framed SMB2 NEGOTIATE response
// selecting dialect 2.1 with no security blob. Every byte is fixed except
// SystemTime, which carries now like a real server's clock.
func smb2NegotiateResponse(now time.Time) []byte {
	le := binary.LittleEndian
	msg := make([]byte, 4+smb2HeaderSize+smb2NegotiateBodySize)

	// NetBIOS session message: type 0, 24-bit big-endian length.
	length := smb2HeaderSize + smb2NegotiateBodySize
	msg[1] = byte(length >> 16)
	msg[2] = byte(length >> 8)
	msg[3] = byte(length)

	hdr := msg[4 : 4+smb2HeaderSize]
	copy(hdr[0:4], []byte{0xFE, 'S', 'M', 'B'})
	le.PutUint16(hdr[4:], smb2HeaderSize) // StructureSize
	le.PutUint16(hdr[12:], 0)             // Command: NEGOTIATE
	le.PutUint16(hdr[14:], 1)             // CreditResponse
	le.PutUint32(hdr[16:], smb2FlagServerToRedir)

	body := msg[4+smb2HeaderSize:]
	le.PutUint16(body[0:], smb2NegotiateBodySize) // StructureSize
	le.PutUint16(body[2:], smb2SecurityModeSign)
	le.PutUint16(body[4:], smb2Dialect0210)
	copy(body[8:24], smb2ServerGUID[:])
	le.PutUint32(body[24:], 0) // Capabilities
	le.PutUint32(body[28:], smb2MaxIOSize)
	le.PutUint32(body[32:], smb2MaxIOSize)
	le.PutUint32(body[36:], smb2MaxIOSize)
	le.PutUint64(body[40:], filetime(now))
	le.PutUint64(body[48:], 0)                 // ServerStartTime
	le.PutUint16(body[56:], smb2HeaderSize+64) // SecurityBufferOffset
	le.PutUint16(body[58:], 0)                 // SecurityBufferLength
	return msg
}

// filetime converts t to a Windows FILETIME.
func filetime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.UnixNano()/100) + windowsEpochOffset
}
