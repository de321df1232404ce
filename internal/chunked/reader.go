package chunked

import (
	"errors"
	"io"
)

const readSize = 32 * 1024

// Reader exposes the de-chunked payload of src. Each Read that finds no decoded
// bytes pending issues exactly one Read on src.
type Reader struct {
	src     io.ReadCloser
	dec     *Decoder
	scratch []byte
	out     []byte
	err     error
}

// NewReader returns a Reader decoding src. Closing the Reader closes src.
func NewReader(src io.ReadCloser) *Reader {
	return &Reader{
		src:     src,
		dec:     NewDecoder(),
		scratch: make([]byte, readSize),
	}
}

// Read returns decoded payload bytes. It returns io.EOF after the terminating
// footer line, io.ErrUnexpectedEOF if src ends before that, and the decode error
// once the bytes decoded before the error have been returned.
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.out) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		if r.dec.Done() {
			r.err = io.EOF
			continue
		}

		n, err := r.src.Read(r.scratch)
		if n > 0 {
			units, derr := r.dec.Transform(r.scratch[:n])
			for _, u := range units {
				r.out = append(r.out, u...)
			}
			if derr != nil {
				r.err = derr
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && !r.dec.Done() {
				err = io.ErrUnexpectedEOF
			}
			r.err = err
		}
	}

	n := copy(p, r.out)
	r.out = r.out[n:]
	return n, nil
}

// Close closes the underlying source.
func (r *Reader) Close() error {
	return r.src.Close()
}
