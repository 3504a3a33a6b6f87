package model

import (
	"net"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Session is the correlation context of one accepted connection.
// It is built once by the listener and never modified afterwards;
// handlers keep their in-progress state in local variables.
type Session struct {
	// ID is unique per connection. Every Event of the connection carries it.
	ID string

	// Protocol is the emulated service assigned by the listener.
	Protocol Protocol

	// SourceIP and SourcePort identify the peer.
	SourceIP   string
	SourcePort int

	// DestPort is the local port that accepted the connection.
	DestPort int

	// StartedAt is the accept time.
	StartedAt time.Time
}

// NewSession builds a Session for a connection accepted on a listener
// bound to the given protocol.
func NewSession(p Protocol, remote, local net.Addr) Session {
	srcIP, srcPort := splitAddr(remote)
	_, dstPort := splitAddr(local)

	return Session{
		ID:         uuid.NewString(),
		Protocol:   p,
		SourceIP:   srcIP,
		SourcePort: srcPort,
		DestPort:   dstPort,
		StartedAt:  time.Now().UTC(),
	}
}

// NewEvent creates an Event of the given type tagged with this session.
func (s Session) NewEvent(t EventType) *Event {
	return &Event{
		Timestamp:  time.Now().UTC(),
		SourceIP:   s.SourceIP,
		SourcePort: s.SourcePort,
		DestPort:   s.DestPort,
		Protocol:   s.Protocol,
		Type:       t,
		SessionID:  s.ID,
		RawData:    make(map[string]any),
	}
}

// Duration returns the time elapsed since the session started.
func (s Session) Duration() time.Duration {
	return time.Since(s.StartedAt)
}

// splitAddr extracts host and port from a net.Addr.
// Unknown address types yield the string form and port 0.
func splitAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String(), a.Port
	case *net.UDPAddr:
		return a.IP.String(), a.Port
	}

	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return host, 0
	}
	return host, p
}
