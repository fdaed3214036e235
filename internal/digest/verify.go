package digest

import (
	"errors"
	"fmt"
	"io"
)

// ErrMismatch is returned when streamed content does not hash to the
// expected digest.
var ErrMismatch = errors.New("content does not match digest")

type verifyingReader struct {
	r    io.Reader
	w    *Writer
	want Digest
}

// NewVerifyingReader passes r through unchanged but replaces the final
// io.EOF with an ErrMismatch error when the content read so far does not
// hash to want. Consumers that stop on the first error therefore never
// commit mismatching content.
func NewVerifyingReader(r io.Reader, want Digest) io.Reader {
	return &verifyingReader{r: r, w: NewWriter(), want: want}
}

func (v *verifyingReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	if n > 0 {
		_, _ = v.w.Write(p[:n])
	}
	if err == io.EOF {
		if got := v.w.Sum(); got != v.want {
			return n, fmt.Errorf("%w: expected %s, got %s", ErrMismatch, v.want, got)
		}
	}
	return n, err
}
