package wire

import (
	"bytes"
	"encoding/binary"
)

// ntlmSignature starts every NTLMSSP message.
var ntlmSignature = []byte("NTLMSSP\x00")

// NTLM message types.
const (
	NTLMNegotiate    uint32 = 1
	NTLMChallenge    uint32 = 2
	NTLMAuthenticate uint32 = 3
)

// Offsets from the signature, fixed layout of the AUTHENTICATE message.
const (
	ntlmTypeOffset       = 8
	ntlmDomainLenOffset  = 28
	ntlmDomainOffOffset  = 32
	ntlmUserLenOffset    = 36
	ntlmUserOffOffset    = 40
	ntlmAuthenticateSize = 44
)

// NTLMMessage holds what could be read from an NTLMSSP message.
// Domain and Username are only filled for AUTHENTICATE (type 3) messages.
type NTLMMessage struct {
	Type     uint32
	Domain   string
	Username string
}

// HasUsername reports whether a user name was recovered.
func (m NTLMMessage) HasUsername() bool {
	return m.Username != ""
}

// ParseNTLM locates an NTLMSSP message anywhere in buf, typically inside
// an SMB2 SESSION_SETUP security blob. It returns false when no signature
// with a readable type field is present. Out-of-range length/offset pairs
// leave the corresponding field empty.
func ParseNTLM(buf []byte) (NTLMMessage, bool) {
	sig := bytes.Index(buf, ntlmSignature)
	if sig < 0 || sig+ntlmTypeOffset+4 > len(buf) {
		return NTLMMessage{}, false
	}

	msg := NTLMMessage{
		Type: binary.LittleEndian.Uint32(buf[sig+ntlmTypeOffset:]),
	}
	if msg.Type != NTLMAuthenticate || sig+ntlmAuthenticateSize > len(buf) {
		return msg, true
	}

	msg.Domain, _ = readNTLMField(buf, sig, ntlmDomainLenOffset, ntlmDomainOffOffset)
	msg.Username, _ = readNTLMField(buf, sig, ntlmUserLenOffset, ntlmUserOffOffset)

	return msg, true
}

// readNTLMField reads a (uint16 length, uint32 offset) security buffer
// descriptor and decodes the UTF-16LE payload it points at. Offsets are
// relative to the signature.
func readNTLMField(buf []byte, sig, lenAt, offAt int) (string, bool) {
	length := int(binary.LittleEndian.Uint16(buf[sig+lenAt:]))
	offset := int64(binary.LittleEndian.Uint32(buf[sig+offAt:]))

	start := int64(sig) + offset
	end := start + int64(length)
	if length == 0 || end > int64(len(buf)) {
		return "", false
	}

	return decodeUTF16LE(buf[start:end])
}
