package model

import (
	"fmt"
	"strings"
)

// Protocol identifies an emulated service.
type Protocol string

// Supported protocols.
const (
	ProtocolSSH    Protocol = "ssh"
	ProtocolHTTP   Protocol = "http"
	ProtocolRDP    Protocol = "rdp"
	ProtocolSMB    Protocol = "smb"
	ProtocolFTP    Protocol = "ftp"
	ProtocolTelnet Protocol = "telnet"
)

// Protocols lists every supported protocol in start-up order.
var Protocols = []Protocol{
	ProtocolSSH,
	ProtocolHTTP,
	ProtocolRDP,
	ProtocolSMB,
	ProtocolFTP,
	ProtocolTelnet,
}

// String returns the protocol name.
func (p Protocol) String() string {
	return string(p)
}

// Valid reports whether p is one of the supported protocols.
func (p Protocol) Valid() bool {
	for _, known := range Protocols {
		if p == known {
			return true
		}
	}
	return false
}

// ParseProtocol converts a case-insensitive name into a Protocol.
func ParseProtocol(s string) (Protocol, error) {
	p := Protocol(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown protocol %q", s)
	}
	return p, nil
}
