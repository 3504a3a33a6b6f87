package wire

import "bytes"

// SMBDialect is the protocol family of a negotiate request.
type SMBDialect int

// Recognized dialect families.
const (
	SMBUnknown SMBDialect = iota
	SMB1
	SMB2
)

var (
	smb1Magic = []byte{0xFF, 'S', 'M', 'B'}
	smb2Magic = []byte{0xFE, 'S', 'M', 'B'}
)

// String returns the dialect family name.
func (d SMBDialect) String() string {
	switch d {
	case SMB1:
		return "smb1"
	case SMB2:
		return "smb2"
	default:
		return "unknown"
	}
}

// DetectSMB inspects the protocol magic of an SMB message. The magic is
// expected after the 4-byte NetBIOS session header; a bare message
// without the header is accepted too.
func DetectSMB(buf []byte) SMBDialect {
	for _, at := range []int{4, 0} {
		if len(buf) < at+4 {
			continue
		}
		switch magic := buf[at : at+4]; {
		case bytes.Equal(magic, smb1Magic):
			return SMB1
		case bytes.Equal(magic, smb2Magic):
			return SMB2
		}
	}
	return SMBUnknown
}
