// Package digest computes the content fingerprints everything else in keep
// is keyed by: SHA-256, rendered as 64 lowercase hex characters.
package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Size is the length of a Digest in characters.
const Size = sha256.Size * 2

// Empty is the digest of the empty byte sequence.
const Empty Digest = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// Digest is an opaque content fingerprint; only equality is meaningful.
type Digest string

func (d Digest) String() string {
	return string(d)
}

// Short returns the first n characters, for display.
func (d Digest) Short(n int) string {
	if n >= len(d) {
		return string(d)
	}
	return string(d[:n])
}

// Valid reports whether s has the shape of a Digest.
func Valid(s string) bool {
	if len(s) != Size {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Parse validates s and converts it to a Digest.
func Parse(s string) (Digest, error) {
	if !Valid(s) {
		return "", fmt.Errorf("malformed digest %q", s)
	}
	return Digest(s), nil
}

func Bytes(b []byte) Digest {
	sum := sha256.Sum256(b)
	return Digest(hex.EncodeToString(sum[:]))
}

// Reader consumes r and returns its digest and the number of bytes read.
func Reader(r io.Reader) (Digest, int64, error) {
	w := NewWriter()
	n, err := io.Copy(w, r)
	if err != nil {
		return "", n, err
	}
	return w.Sum(), n, nil
}

// File hashes the full content of the file at path. Any read failure is
// returned to the caller; there is no skip-and-continue mode.
func File(path string) (Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("could not open '%s' for hashing: %w", path, err)
	}
	defer f.Close()

	d, n, err := Reader(f)
	if err != nil {
		return "", 0, fmt.Errorf("could not read '%s' for hashing: %w", path, err)
	}
	return d, n, nil
}

// Writer accumulates a digest over everything written to it.
type Writer struct {
	h hash.Hash
}

func NewWriter() *Writer {
	return &Writer{h: sha256.New()}
}

func (w *Writer) Write(p []byte) (int, error) {
	return w.h.Write(p)
}

func (w *Writer) Sum() Digest {
	return Digest(hex.EncodeToString(w.h.Sum(nil)))
}
