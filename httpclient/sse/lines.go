package sse

import (
	"bytes"
	"errors"
)

// DefaultMaxLineBytes bounds a single buffered line.
const DefaultMaxLineBytes = 1 << 20

// ErrLineTooLong is returned when a line exceeds the configured maximum
// without a terminator.
var ErrLineTooLong = errors.New("sse: line exceeds maximum length")

// LineSplitter splits a byte stream into lines terminated by \n, \r\n or \r.
// Terminators are not included in the returned lines.
type LineSplitter struct {
	buf     []byte
	max     int
	pending bool // last chunk ended in \r; a leading \n in the next chunk belongs to it
}

// NewLineSplitter creates a splitter. maxLine <= 0 selects DefaultMaxLineBytes.
func NewLineSplitter(maxLine int) *LineSplitter {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &LineSplitter{max: maxLine}
}

// Feed appends chunk and returns every line it completes. Returned slices
// are copies owned by the caller.
func (s *LineSplitter) Feed(chunk []byte) ([][]byte, error) {
	if s.pending && len(chunk) > 0 {
		if chunk[0] == '\n' {
			chunk = chunk[1:]
		}
		s.pending = false
	}
	s.buf = append(s.buf, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexAny(s.buf, "\r\n")
		if i < 0 {
			break
		}
		line := bytes.Clone(s.buf[:i])
		advance := i + 1
		if s.buf[i] == '\r' {
			if i+1 < len(s.buf) {
				if s.buf[i+1] == '\n' {
					advance++
				}
			} else {
				s.pending = true
			}
		}
		s.buf = s.buf[advance:]
		lines = append(lines, line)
	}

	if len(s.buf) > s.max {
		return lines, ErrLineTooLong
	}
	if len(s.buf) == 0 {
		s.buf = nil
	}
	return lines, nil
}

// Flush returns the trailing unterminated line, if any, and resets the splitter.
func (s *LineSplitter) Flush() []byte {
	rest := s.buf
	s.buf = nil
	s.pending = false
	if len(rest) == 0 {
		return nil
	}
	return bytes.Clone(rest)
}

// Buffered returns the number of bytes held for an incomplete line.
func (s *LineSplitter) Buffered() int { return len(s.buf) }
