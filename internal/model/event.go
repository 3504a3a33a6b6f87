package model

import (
	"encoding/json"
	"time"
)

// EventType classifies what a handler observed.
type EventType string

// Event types.
const (
	// EventConnection is emitted once per connection, before anything else.
	EventConnection EventType = "connection"

	// EventAuthAttempt carries a username and/or password offered by the peer.
	EventAuthAttempt EventType = "auth_attempt"

	// EventCommand carries a command line the peer sent (FTP).
	EventCommand EventType = "command"

	// EventProbe records a request for an unexpected resource (HTTP).
	EventProbe EventType = "probe"

	// EventPayload records bytes that could not be interpreted further.
	EventPayload EventType = "payload"

	// EventNegotiate records an SMB dialect negotiation.
	EventNegotiate EventType = "negotiate"

	// EventHandshake records an RDP connection request without a username.
	EventHandshake EventType = "handshake"
)

// EventTypes lists every event type.
var EventTypes = []EventType{
	EventConnection,
	EventAuthAttempt,
	EventCommand,
	EventProbe,
	EventPayload,
	EventNegotiate,
	EventHandshake,
}

// String returns the event type name.
func (t EventType) String() string {
	return string(t)
}

// Event is one observation made by a protocol handler.
//
// Everything except Reported and TrackerFindingID is fixed when the event
// is written. Those two fields are set exactly once by the reporting loop.
type Event struct {
	// ID is assigned by the event store. Zero until persisted.
	ID int64 `json:"id,omitempty"`

	Timestamp  time.Time `json:"timestamp"`
	SourceIP   string    `json:"source_ip"`
	SourcePort int       `json:"source_port"`
	DestPort   int       `json:"dest_port"`
	Protocol   Protocol  `json:"protocol"`
	Type       EventType `json:"event_type"`

	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Payload   string `json:"payload,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	// RawData holds protocol-specific details (headers, hex previews,
	// negotiated dialects) for later analysis.
	RawData map[string]any `json:"raw_data,omitempty"`

	Reported         bool   `json:"reported_to_tracker"`
	TrackerFindingID *int64 `json:"tracker_finding_id,omitempty"`
}

// SetRaw stores a protocol-specific value. It initializes RawData if needed.
func (e *Event) SetRaw(key string, value any) {
	if e.RawData == nil {
		e.RawData = make(map[string]any)
	}
	e.RawData[key] = value
}

// RawJSON encodes RawData for storage. A nil or empty map encodes as "{}".
func (e *Event) RawJSON() ([]byte, error) {
	if len(e.RawData) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(e.RawData)
}

// GroupKey is the aggregation key used by the reporting loop.
type GroupKey struct {
	SourceIP string
	Protocol Protocol
	Type     EventType
}

// Key returns the aggregation key of the event.
func (e *Event) Key() GroupKey {
	return GroupKey{
		SourceIP: e.SourceIP,
		Protocol: e.Protocol,
		Type:     e.Type,
	}
}
