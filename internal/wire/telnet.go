package wire

// Telnet command bytes (RFC 854).
const (
	TelnetSE   byte = 240
	TelnetSB   byte = 250
	TelnetWILL byte = 251
	TelnetWONT byte = 252
	TelnetDO   byte = 253
	TelnetDONT byte = 254
	TelnetIAC  byte = 255
)

// Telnet options used by the decoy.
const (
	TelnetOptEcho            byte = 1
	TelnetOptSuppressGoAhead byte = 3
)

// StripIAC removes Telnet control sequences from buf and decodes the rest
// as text.
//
//   - IAC WILL/WONT/DO/DONT <option> is dropped (3 bytes).
//   - IAC IAC becomes one literal 0xFF byte.
//   - IAC SB ... IAC SE is dropped as a whole.
//   - Any other IAC <command> is dropped (2 bytes), as is a trailing IAC.
//
// All other bytes keep their order. Invalid UTF-8 is replaced, never rejected.
func StripIAC(buf []byte) string {
	return decodeText(StripIACBytes(buf))
}

// StripIACBytes is StripIAC without the final text decoding.
func StripIACBytes(buf []byte) []byte {
	out := make([]byte, 0, len(buf))

	for i := 0; i < len(buf); {
		b := buf[i]
		if b != TelnetIAC {
			out = append(out, b)
			i++
			continue
		}

		if i+1 >= len(buf) {
			break
		}

		switch cmd := buf[i+1]; {
		case cmd >= TelnetWILL && cmd <= TelnetDONT:
			i += 3
		case cmd == TelnetIAC:
			out = append(out, TelnetIAC)
			i += 2
		case cmd == TelnetSB:
			i = skipSubnegotiation(buf, i+2)
		default:
			i += 2
		}
	}

	return out
}

// skipSubnegotiation returns the index just past the IAC SE that closes a
// subnegotiation starting at from, or len(buf) if it is never closed.
func skipSubnegotiation(buf []byte, from int) int {
	for j := from; j+1 < len(buf); j++ {
		if buf[j] == TelnetIAC && buf[j+1] == TelnetSE {
			return j + 2
		}
	}
	return len(buf)
}

// TelnetNegotiation returns the option offers sent to every client:
// IAC WILL ECHO, IAC WILL SUPPRESS-GO-AHEAD.
func TelnetNegotiation() []byte {
	return []byte{
		TelnetIAC, TelnetWILL, TelnetOptEcho,
		TelnetIAC, TelnetWILL, TelnetOptSuppressGoAhead,
	}
}
