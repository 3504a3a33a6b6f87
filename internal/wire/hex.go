package wire

import "encoding/hex"

// HexPreview hex-encodes at most limit leading bytes of buf.
func HexPreview(buf []byte, limit int) string {
	if limit >= 0 && len(buf) > limit {
		buf = buf[:limit]
	}
	return hex.EncodeToString(buf)
}
