package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
)

// readChunkSize is the size of a single socket read.
const readChunkSize = 4096

// MaxLineLength caps a buffered line that has not seen its terminator.
// Servers limit lines to 512 bytes plus 8191 bytes of tags.
const MaxLineLength = 512 + 8191 + 2

// LineReader splits a byte stream into LF terminated lines. Bytes past the
// last terminator stay buffered across calls, so a read interrupted by a
// deadline never loses or splits a line.
type LineReader struct {
	r   io.Reader
	buf []byte
}

// NewLineReader creates a line reader over r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: r}
}

// Buffered reports whether a complete line is already buffered.
func (lr *LineReader) Buffered() bool {
	return bytes.IndexByte(lr.buf, '\n') >= 0
}

// next pops one buffered line, without its CRLF or LF terminator.
func (lr *LineReader) next() (string, bool) {
	idx := bytes.IndexByte(lr.buf, '\n')
	if idx < 0 {
		return "", false
	}
	line := lr.buf[:idx]
	line = bytes.TrimSuffix(line, []byte{'\r'})
	s := string(line)
	lr.buf = lr.buf[idx+1:]
	return s, true
}

// ReadLine returns the next line. Read errors are returned as is; io.EOF
// is mapped to ErrConnectionClosed.
func (lr *LineReader) ReadLine() (string, error) {
	chunk := make([]byte, readChunkSize)
	for {
		if line, ok := lr.next(); ok {
			return line, nil
		}
		if len(lr.buf) > MaxLineLength {
			return "", fmt.Errorf("%w: line exceeds %d bytes", ErrTransport, MaxLineLength)
		}

		n, err := lr.r.Read(chunk)
		if n > 0 {
			lr.buf = append(lr.buf, chunk[:n]...)
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return "", ErrConnectionClosed
			}
			return "", err
		}
	}
}
