package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/torfstack/keep/internal/logging"
)

func OpenWithParents(path string, flag int, perm os.FileMode) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, flag, perm)
}

// WriteFileAtomic writes the content of r next to path and renames it into
// place once the data is on disk. The parent directory is synced afterwards
// so the rename itself survives a crash.
func WriteFileAtomic(path string, r io.Reader, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("could not create directory '%s': %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("could not create temporary file in '%s': %w", dir, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			if errRemove := os.Remove(tmpName); errRemove != nil && !os.IsNotExist(errRemove) {
				logging.Debugf("Could not remove temporary file '%s': %s", tmpName, errRemove)
			}
		}
	}()

	if _, err = io.Copy(tmp, r); err != nil {
		return fmt.Errorf("could not write temporary file '%s': %w", tmpName, err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("could not set mode on '%s': %w", tmpName, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("could not sync temporary file '%s': %w", tmpName, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("could not close temporary file '%s': %w", tmpName, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("could not move '%s' into place: %w", path, err)
	}
	return SyncDir(dir)
}

// SyncDir flushes directory metadata (new and renamed entries) to disk.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("could not open directory '%s' for sync: %w", dir, err)
	}
	defer func(d *os.File) {
		if err := d.Close(); err != nil {
			logging.Debugf("Could not close directory '%s': %s", dir, err)
		}
	}(d)
	if err = d.Sync(); err != nil {
		return fmt.Errorf("could not sync directory '%s': %w", dir, err)
	}
	return nil
}

// IsWithin reports whether path equals dir or lies below it. Both paths are
// expected to be cleaned and absolute.
func IsWithin(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel))
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)
}
