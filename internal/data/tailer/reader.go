// Package tailer reads lines appended to a growing file. It knows nothing
// about patterns or timestamps.
package tailer

import (
	"bytes"
	"errors"
	"io"

	"golang.org/x/text/encoding/unicode"
)

// ChunkSize bounds a single read.
const ChunkSize = 10 * 1024

// Remainder carries an unterminated trailing line between reads. Bytes are
// kept undecoded so a multi-byte character split across reads survives.
type Remainder struct {
	buf []byte
}

// Len is the number of carried bytes.
func (r *Remainder) Len() int { return len(r.buf) }

// Reset drops carried bytes, used after truncation or rotation.
func (r *Remainder) Reset() { r.buf = r.buf[:0] }

// String returns the carried bytes decoded for diagnostics.
func (r *Remainder) String() string { return decode(r.buf) }

// ReadIncrement performs at most one read of ChunkSize bytes from src and
// returns the complete lines now available, each including its trailing
// "\n". Content after the last terminator stays in rem. Reading zero bytes
// returns no lines and no error.
func ReadIncrement(src io.Reader, rem *Remainder) ([]string, error) {
	chunk := make([]byte, ChunkSize)
	n, err := src.Read(chunk)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return rem.feed(chunk[:n]), nil
}

// feed appends data to the carried bytes and splits off complete lines.
func (r *Remainder) feed(data []byte) []string {
	r.buf = append(r.buf, data...)

	var lines []string
	start := 0
	for {
		i := bytes.IndexByte(r.buf[start:], '\n')
		if i < 0 {
			break
		}
		end := start + i + 1
		lines = append(lines, decode(r.buf[start:end]))
		start = end
	}

	if start > 0 {
		n := copy(r.buf, r.buf[start:])
		r.buf = r.buf[:n]
	}
	return lines
}

// decode converts bytes to text, replacing invalid UTF-8 with U+FFFD.
func decode(b []byte) string {
	out, err := unicode.UTF8.NewDecoder().Bytes(b)
	if err != nil {
		return string(bytes.ToValidUTF8(b, []byte("\uFFFD")))
	}
	return string(out)
}
