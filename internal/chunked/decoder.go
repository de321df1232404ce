// Package chunked decodes HTTP/1.1 chunked transfer encoding incrementally.
//
// The Decoder is a pure state machine fed with whatever bytes the caller has;
// it performs no I/O. Reader adapts it to an io.ReadCloser body.
package chunked

import (
	"bytes"
	"errors"
)

// maxLineLength bounds a size or footer line that has not seen its CR yet.
const maxLineLength = 4096

// maxChunkSize bounds a single chunk, since a chunk is buffered whole before it is emitted.
const maxChunkSize = 1 << 30

var (
	// ErrInvalidChunkSize is returned when a chunk-size line is not hexadecimal.
	ErrInvalidChunkSize = errors.New("chunked: invalid chunk size")
	// ErrLineTooLong is returned when a size or footer line exceeds maxLineLength.
	ErrLineTooLong = errors.New("chunked: line too long")
	// ErrMissingCRLF is returned when a line or a chunk payload is not followed by CRLF.
	ErrMissingCRLF = errors.New("chunked: missing CRLF")
)

// State is the position of the decoder within the chunk grammar.
type State int

const (
	// StateSize expects a hex chunk-size line.
	StateSize State = iota
	// StateData expects chunk payload followed by CRLF.
	StateData
	// StateFooter expects trailer lines up to the terminating empty line.
	StateFooter
)

func (s State) String() string {
	switch s {
	case StateSize:
		return "size"
	case StateData:
		return "data"
	case StateFooter:
		return "footer"
	default:
		return "unknown"
	}
}

// Decoder holds the state of one chunked body. It is not safe for concurrent use
// and is never reset.
type Decoder struct {
	state State
	buf   []byte // at most one incomplete unit between calls
	size  int    // expected payload length in StateData
	done  bool
	err   error
}

// NewDecoder returns a Decoder in StateSize.
func NewDecoder() *Decoder {
	return &Decoder{state: StateSize}
}

// State returns the current state.
func (d *Decoder) State() State { return d.state }

// Done reports whether the terminating empty footer line has been consumed.
func (d *Decoder) Done() bool { return d.done }

// Buffered returns the number of bytes held back for an incomplete unit.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Transform merges in with the pending bytes and advances the state machine as far
// as complete units allow. It returns the payload of every chunk completed by this
// call, in order. After an error or the terminal footer, further input is ignored;
// an error is returned again on every later call.
func (d *Decoder) Transform(in []byte) ([][]byte, error) {
	if d.err != nil {
		return nil, d.err
	}
	if d.done {
		return nil, nil
	}
	d.buf = append(d.buf, in...)

	var out [][]byte
	for {
		switch d.state {
		case StateSize:
			i := bytes.IndexByte(d.buf, '\r')
			if i < 0 {
				if len(d.buf) > maxLineLength {
					return out, d.fail(ErrLineTooLong)
				}
				return out, nil
			}
			if i+1 >= len(d.buf) {
				// CR seen, LF not yet.
				return out, nil
			}
			if d.buf[i+1] != '\n' {
				return out, d.fail(ErrMissingCRLF)
			}
			n, err := parseChunkSize(d.buf[:i])
			if err != nil {
				return out, d.fail(err)
			}
			d.buf = d.buf[i+2:]
			if n == 0 {
				d.state = StateFooter
			} else {
				d.size = n
				d.state = StateData
			}

		case StateData:
			if len(d.buf) < d.size+2 {
				return out, nil
			}
			if d.buf[d.size] != '\r' || d.buf[d.size+1] != '\n' {
				return out, d.fail(ErrMissingCRLF)
			}
			chunk := make([]byte, d.size)
			copy(chunk, d.buf[:d.size])
			out = append(out, chunk)
			d.buf = d.buf[d.size+2:]
			d.size = 0
			d.state = StateSize

		case StateFooter:
			i := bytes.IndexByte(d.buf, '\r')
			if i == 0 {
				d.done = true
				d.buf = nil
				return out, nil
			}
			if i < 0 {
				if len(d.buf) > maxLineLength {
					return out, d.fail(ErrLineTooLong)
				}
				return out, nil
			}
			if i+1 >= len(d.buf) {
				return out, nil
			}
			if d.buf[i+1] != '\n' {
				return out, d.fail(ErrMissingCRLF)
			}
			// Trailer fields are dropped uninterpreted.
			d.buf = d.buf[i+2:]
		}
	}
}

func (d *Decoder) fail(err error) error {
	d.err = err
	d.buf = nil
	return err
}

// parseChunkSize parses the chunk-size part of a size line, ignoring any
// chunk extension after ';' and surrounding whitespace.
func parseChunkSize(line []byte) (int, error) {
	if semi := bytes.IndexByte(line, ';'); semi >= 0 {
		line = line[:semi]
	}
	line = bytes.Trim(line, " \t")
	if len(line) == 0 {
		return 0, ErrInvalidChunkSize
	}

	var n uint64
	for i, b := range line {
		switch {
		case '0' <= b && b <= '9':
			b -= '0'
		case 'a' <= b && b <= 'f':
			b = b - 'a' + 10
		case 'A' <= b && b <= 'F':
			b = b - 'A' + 10
		default:
			return 0, ErrInvalidChunkSize
		}
		if i == 16 {
			return 0, ErrInvalidChunkSize
		}
		n <<= 4
		n |= uint64(b)
	}
	if n > maxChunkSize {
		return 0, ErrInvalidChunkSize
	}
	return int(n), nil
}
