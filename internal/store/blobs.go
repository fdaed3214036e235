package store

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/torfstack/keep/internal/digest"
	"github.com/torfstack/keep/internal/util"
)

func (s *Store) blobPath(d digest.Digest) string {
	h := d.String()
	return filepath.Join(s.dir, blobsDir, h[0:2], h[2:4], h)
}

func (s *Store) HasBlob(d digest.Digest) (bool, error) {
	if !digest.Valid(d.String()) {
		return false, fmt.Errorf("invalid blob digest '%s'", d)
	}
	_, err := os.Stat(s.blobPath(d))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("could not stat blob %s: %w", d, err)
	}
}

// PutBlob stores the content of r under d. The content must hash to d,
// otherwise an error wrapping digest.ErrMismatch is returned and nothing is
// stored. Storing a blob that already exists is a no-op.
func (s *Store) PutBlob(d digest.Digest, r io.Reader) error {
	ok, err := s.HasBlob(d)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	if err = util.WriteFileAtomic(s.blobPath(d), digest.NewVerifyingReader(r, d), 0444); err != nil {
		return fmt.Errorf("could not store blob %s: %w", d, err)
	}
	return nil
}

// OpenBlob returns the stored content for d. Callers that need to trust the
// content should read it through digest.NewVerifyingReader.
func (s *Store) OpenBlob(d digest.Digest) (io.ReadCloser, error) {
	if !digest.Valid(d.String()) {
		return nil, fmt.Errorf("invalid blob digest '%s'", d)
	}
	f, err := os.Open(s.blobPath(d))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: %s", ErrMissingBlob, d)
	case err != nil:
		return nil, fmt.Errorf("could not open blob %s: %w", d, err)
	}
	return f, nil
}
