package wire

import (
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// decodeText converts attacker bytes to a string, replacing invalid UTF-8
// sequences with U+FFFD.
func decodeText(b []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return strings.ToValidUTF8(string(b), "�")
	}
	return string(out)
}

// decodeUTF16LE decodes a little-endian UTF-16 field as found in NTLM messages.
func decodeUTF16LE(b []byte) (string, bool) {
	dec := unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
	out, err := dec.Bytes(b)
	if err != nil {
		return "", false
	}
	return string(out), true
}

// Printable returns s with control characters other than tab removed and
// the result trimmed. It is used for values that end up in log lines.
func Printable(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\t' || r >= 0x20 && r != 0x7f {
			return r
		}
		return -1
	}, s))
}
