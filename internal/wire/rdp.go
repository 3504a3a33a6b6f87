package wire

import (
	"bytes"
	"encoding/binary"
	"strings"
)

var (
	rdpCookieMarker = []byte("Cookie:")
	crlf            = []byte("\r\n")
)

// mstshashMarker precedes the user name in an RDP routing cookie.
const mstshashMarker = "mstshash="

// RDPCookie is the cookie carried by an X.224 Connection Request.
type RDPCookie struct {
	// Raw is the cookie value without the "Cookie:" prefix.
	Raw string

	// Username is the value after "mstshash=", empty when absent.
	Username string
}

// ExtractRDPCookie finds the "Cookie:" line in an RDP connection request.
// The value runs until the next CRLF, or the end of the buffer when the
// client omitted it. It returns false when there is no cookie.
func ExtractRDPCookie(buf []byte) (RDPCookie, bool) {
	idx := bytes.Index(buf, rdpCookieMarker)
	if idx < 0 {
		return RDPCookie{}, false
	}

	value := buf[idx+len(rdpCookieMarker):]
	if end := bytes.Index(value, crlf); end >= 0 {
		value = value[:end]
	}

	cookie := RDPCookie{Raw: strings.TrimSpace(decodeText(value))}
	if _, user, ok := strings.Cut(cookie.Raw, mstshashMarker); ok {
		cookie.Username = strings.TrimSpace(user)
	}

	return cookie, true
}

// RDP_NEG_REQ layout: type (1), flags (1), length (2, always 8),
// requestedProtocols (4, little endian).
const (
	rdpNegReqType   = 0x01
	rdpNegReqLength = 8
	tpktHeaderSize  = 4
)

// Requested protocol flags of RDP_NEG_REQ.
const (
	RDPProtocolRDP      uint32 = 0x00
	RDPProtocolSSL      uint32 = 0x01
	RDPProtocolHybrid   uint32 = 0x02
	RDPProtocolRDSTLS   uint32 = 0x04
	RDPProtocolHybridEx uint32 = 0x08
)

// RDPRequestedProtocols reads the RDP_NEG_REQ trailing an X.224 Connection
// Request. The TPKT header gives the request length; the negotiation
// request, when present, occupies its last 8 bytes.
func RDPRequestedProtocols(buf []byte) (uint32, bool) {
	if len(buf) < tpktHeaderSize || buf[0] != 0x03 {
		return 0, false
	}
	total := int(binary.BigEndian.Uint16(buf[2:4]))
	if total > len(buf) || total < tpktHeaderSize+rdpNegReqLength {
		return 0, false
	}

	neg := buf[total-rdpNegReqLength : total]
	if neg[0] != rdpNegReqType || binary.LittleEndian.Uint16(neg[2:4]) != rdpNegReqLength {
		return 0, false
	}
	return binary.LittleEndian.Uint32(neg[4:8]), true
}
