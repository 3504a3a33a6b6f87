package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// Shared exchange limits.
const (
	initialReadSize     = 4096
	initialReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	maxLineLength       = 1024
	hexPreviewBytes     = 256
)

// errLineTooLong is wrapped in ErrLimit when a line exceeds its bound.
var errLineTooLong = errors.New("line too long")

// idle turns a read timeout into ErrIdle.
func idle(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", ErrIdle, err)
	}
	return err
}

// readOnce performs a single read of at most size bytes within timeout.
func readOnce(conn net.Conn, size int, timeout time.Duration) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	buf := make([]byte, size)
	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err == nil {
		err = io.EOF
	}
	return nil, idle(err)
}

// write sends data within the default write timeout.
func write(conn net.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return err
	}
	_, err := conn.Write(data)
	return err
}

// writeString sends s within the default write timeout.
func writeString(conn net.Conn, s string) error {
	return write(conn, []byte(s))
}

// readLine reads a LF-terminated line of at most maxLineLength bytes,
// without the line terminator.
func readLine(conn net.Conn, r *bufio.Reader, timeout time.Duration) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	line, err := r.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return nil, fmt.Errorf("%w: %w", ErrLimit, errLineTooLong)
	case err != nil && len(line) == 0:
		return nil, idle(err)
	case err != nil:
		// Unterminated final line.
		return trimEOL(line), nil
	}
	return trimEOL(line), nil
}

func trimEOL(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return append([]byte(nil), line...)
}
