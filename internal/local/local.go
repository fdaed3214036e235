package local

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/torfstack/keep/internal/config"
	"github.com/torfstack/keep/internal/digest"
	"github.com/torfstack/keep/internal/logging"
	"github.com/torfstack/keep/internal/util"
)

// Tree is the live directory tree snapshots are taken from and restored
// into. Paths handed in and out of a Tree are relative to Root and use
// forward slashes.
type Tree struct {
	Root     string
	StoreDir string

	ignore *ignore.GitIgnore
}

// NewTree prepares the tree at root. The store directory is always
// excluded; patterns and the tree's .keepignore file exclude further paths.
func NewTree(root string, patterns []string) (*Tree, error) {
	abs, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("could not stat root '%s': %w", abs, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root '%s' is not a directory", abs)
	}

	matcher, err := compileIgnore(abs, patterns)
	if err != nil {
		return nil, err
	}
	return &Tree{
		Root:     abs,
		StoreDir: config.StoreDir(abs),
		ignore:   matcher,
	}, nil
}

// ResolveRoot returns the absolute path of root with all symlinks
// resolved. Walks do not descend through a symlinked root.
func ResolveRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("could not resolve root '%s': %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("could not resolve root '%s': %w", abs, err)
	}
	return resolved, nil
}

func compileIgnore(root string, patterns []string) (*ignore.GitIgnore, error) {
	ignorePath := filepath.Join(root, config.IgnoreFileName)
	_, err := os.Stat(ignorePath)
	switch {
	case err == nil:
		matcher, err := ignore.CompileIgnoreFileAndLines(ignorePath, patterns...)
		if err != nil {
			return nil, fmt.Errorf("could not read ignore file '%s': %w", ignorePath, err)
		}
		return matcher, nil
	case errors.Is(err, fs.ErrNotExist):
		return ignore.CompileIgnoreLines(patterns...), nil
	default:
		return nil, fmt.Errorf("could not stat ignore file '%s': %w", ignorePath, err)
	}
}

// Ignored reports whether rel is excluded from snapshots. Directories are
// matched with a trailing slash so that patterns like "build/" apply.
func (t *Tree) Ignored(rel string, isDir bool) bool {
	if isDir {
		return t.ignore.MatchesPath(rel + "/")
	}
	return t.ignore.MatchesPath(rel)
}

// Files enumerates every regular file below Root, sorted by path. Symlinks
// and other non-regular entries are not part of a tree and are skipped.
func (t *Tree) Files() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(t.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("could not walk '%s': %w", p, err)
		}
		if p == t.Root {
			return nil
		}
		if p == t.StoreDir {
			return filepath.SkipDir
		}

		rel, err := filepath.Rel(t.Root, p)
		if err != nil {
			return fmt.Errorf("could not relativize '%s': %w", p, err)
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if t.Ignored(rel, true) {
				logging.Debugf("Ignoring directory %s", rel)
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			logging.Debugf("Skipping non-regular file %s", rel)
			return nil
		}
		if t.Ignored(rel, false) {
			logging.Debugf("Ignoring file %s", rel)
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	return paths, nil
}

// Abs maps a tree path to its location on disk. Paths escaping the tree or
// pointing into the store are rejected.
func (t *Tree) Abs(rel string) (string, error) {
	if rel == "" || path.IsAbs(rel) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("invalid tree path '%s'", rel)
	}
	if clean := path.Clean(rel); clean != rel || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid tree path '%s'", rel)
	}
	abs := filepath.Join(t.Root, filepath.FromSlash(rel))
	if util.IsWithin(abs, t.StoreDir) {
		return "", fmt.Errorf("tree path '%s' points into the store", rel)
	}
	return abs, nil
}

// Digest hashes the live file at rel.
func (t *Tree) Digest(rel string) (digest.Digest, error) {
	abs, err := t.Abs(rel)
	if err != nil {
		return "", err
	}
	d, _, err := digest.File(abs)
	return d, err
}

// Write replaces the file at rel with the content of r, which must hash to
// want. The previous file, if any, stays in place until the new content has
// been verified and synced. The new file gets perm; a zero perm carries over
// the previous file's permission bits, or 0644 for a new file.
func (t *Tree) Write(rel string, r io.Reader, want digest.Digest, perm fs.FileMode) error {
	abs, err := t.Abs(rel)
	if err != nil {
		return err
	}

	info, err := os.Lstat(abs)
	switch {
	case err == nil && info.IsDir():
		return fmt.Errorf("could not write '%s': a directory is in the way", rel)
	case err == nil && info.Mode().IsRegular() && perm == 0:
		perm = info.Mode().Perm()
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("could not stat '%s': %w", abs, err)
	}
	if perm == 0 {
		perm = 0644
	}

	if err = util.WriteFileAtomic(abs, digest.NewVerifyingReader(r, want), perm); err != nil {
		return fmt.Errorf("could not write '%s': %w", rel, err)
	}
	return nil
}

// SetMode sets the permission bits of the file at rel and reports whether
// they changed.
func (t *Tree) SetMode(rel string, perm fs.FileMode) (bool, error) {
	abs, err := t.Abs(rel)
	if err != nil {
		return false, err
	}
	info, err := os.Lstat(abs)
	if err != nil {
		return false, fmt.Errorf("could not stat '%s': %w", abs, err)
	}
	if info.Mode().Perm() == perm.Perm() {
		return false, nil
	}
	if err = os.Chmod(abs, perm.Perm()); err != nil {
		return false, fmt.Errorf("could not set mode on '%s': %w", abs, err)
	}
	return true, nil
}

// Remove deletes the file at rel and then every parent directory that the
// deletion left empty, stopping at Root.
func (t *Tree) Remove(rel string) error {
	abs, err := t.Abs(rel)
	if err != nil {
		return err
	}
	if err = os.Remove(abs); err != nil {
		return fmt.Errorf("could not remove at path '%s': %w", abs, err)
	}

	for dir := filepath.Dir(abs); dir != t.Root && util.IsWithin(dir, t.Root); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			break
		}
		if err = os.Remove(dir); err != nil {
			logging.Debugf("Could not remove empty directory '%s': %s", dir, err)
			break
		}
	}
	return nil
}

// RemoveAll deletes the directory at rel with everything below it and
// returns the tree paths of the regular files that were removed.
func (t *Tree) RemoveAll(rel string) ([]string, error) {
	abs, err := t.Abs(rel)
	if err != nil {
		return nil, err
	}

	var removed []string
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			r, err := filepath.Rel(t.Root, p)
			if err != nil {
				return err
			}
			removed = append(removed, filepath.ToSlash(r))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not walk '%s': %w", abs, err)
	}
	if err = os.RemoveAll(abs); err != nil {
		return nil, fmt.Errorf("could not remove '%s': %w", abs, err)
	}
	sort.Strings(removed)
	return removed, nil
}
