package serial

import (
	"errors"
	"io"
)

// staging holds bytes pulled off a device by Buffered until Read claims
// them. Neither tarm/serial nor go.bug.st/serial exposes the driver's
// unread-byte count, so Buffered performs one timeout-bounded read and
// reports what it got.
type staging struct {
	buf     []byte
	scratch []byte
}

func newStaging(size int) staging {
	return staging{scratch: make([]byte, size)}
}

// fill tops up the staging buffer with one read from r and returns the
// number of staged bytes. A zero-byte read that ends in io.EOF is a read
// timeout, not end of stream.
func (s *staging) fill(r io.Reader) (int, error) {
	if len(s.buf) > 0 {
		return len(s.buf), nil
	}
	n, err := r.Read(s.scratch)
	if n > 0 {
		s.buf = append(s.buf, s.scratch[:n]...)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return len(s.buf), err
	}
	return len(s.buf), nil
}

// read moves staged bytes into p, falling through to r when nothing is
// staged.
func (s *staging) read(r io.Reader, p []byte) (int, error) {
	if len(s.buf) == 0 {
		n, err := r.Read(p)
		if n == 0 && errors.Is(err, io.EOF) {
			return 0, nil
		}
		return n, err
	}
	n := copy(p, s.buf)
	s.buf = s.buf[:copy(s.buf, s.buf[n:])]
	return n, nil
}

func (s *staging) discard() {
	s.buf = s.buf[:0]
}
