// Package restore reconciles a live tree with a stored manifest.
//
// A restore first checks that the store holds every blob the manifest
// needs, then writes all tracked files and only afterwards deletes the files
// the manifest does not know. Nothing is rolled back: with the abort policy
// a failure stops the restore where it is, with the continue policy every
// path is attempted and the failures are reported together.
package restore

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/torfstack/keep/internal/config"
	"github.com/torfstack/keep/internal/digest"
	"github.com/torfstack/keep/internal/local"
	"github.com/torfstack/keep/internal/logging"
	"github.com/torfstack/keep/internal/snapshot"
	"github.com/torfstack/keep/internal/store"
)

// Blobs is the content source a restore reads from.
type Blobs interface {
	HasBlob(d digest.Digest) (bool, error)
	OpenBlob(d digest.Digest) (io.ReadCloser, error)
}

// Failure records a path that could not be restored or deleted.
type Failure struct {
	Path string
	Err  error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Path, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

type Result struct {
	Written   []string
	Unchanged []string
	Deleted   []string
	Failed    []Failure
}

type Restorer struct {
	tree   *local.Tree
	blobs  Blobs
	policy config.RestorePolicy
}

func New(tree *local.Tree, blobs Blobs, policy config.RestorePolicy) *Restorer {
	return &Restorer{tree: tree, blobs: blobs, policy: policy}
}

// Restore makes the live tree match m. Every deleted path is logged and
// listed in the result.
func (r *Restorer) Restore(m snapshot.Manifest) (Result, error) {
	var res Result
	if err := r.preflight(m); err != nil {
		return res, err
	}

	target := m.Paths()
	for _, e := range m.Files {
		if err := r.restoreEntry(e, target, &res); err != nil {
			if stop := r.fail(&res, e.Path, err); stop != nil {
				return res, stop
			}
		}
	}

	live, err := r.tree.Files()
	if err != nil {
		return res, fmt.Errorf("could not list live files: %w", err)
	}
	for _, p := range live {
		if _, ok := target[p]; ok {
			continue
		}
		if err = r.tree.Remove(p); err != nil {
			if stop := r.fail(&res, p, err); stop != nil {
				return res, stop
			}
			continue
		}
		r.deleted(&res, p)
	}

	if len(res.Failed) > 0 {
		errs := make([]error, 0, len(res.Failed))
		for _, f := range res.Failed {
			errs = append(errs, f)
		}
		return res, fmt.Errorf("could not restore %d path(s): %w", len(res.Failed), errors.Join(errs...))
	}
	return res, nil
}

// preflight rejects the restore before any change when a path is invalid
// or content is missing from the store.
func (r *Restorer) preflight(m snapshot.Manifest) error {
	seen := make(map[digest.Digest]struct{}, len(m.Files))
	for _, e := range m.Files {
		if _, err := r.tree.Abs(e.Path); err != nil {
			return err
		}
		if _, ok := seen[e.Digest]; ok {
			continue
		}
		seen[e.Digest] = struct{}{}
		ok, err := r.blobs.HasBlob(e.Digest)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s needed for '%s'", store.ErrMissingBlob, e.Digest, e.Path)
		}
	}
	return nil
}

func (r *Restorer) restoreEntry(e snapshot.Entry, target map[string]struct{}, res *Result) error {
	current, err := r.tree.Digest(e.Path)
	if err == nil && current == e.Digest {
		if e.Mode == 0 {
			res.Unchanged = append(res.Unchanged, e.Path)
			return nil
		}
		changed, err := r.tree.SetMode(e.Path, e.Mode)
		if err != nil {
			return err
		}
		if changed {
			logging.Debugf("Restored mode of %s", e.Path)
			res.Written = append(res.Written, e.Path)
		} else {
			res.Unchanged = append(res.Unchanged, e.Path)
		}
		return nil
	}

	if err = r.clearConflicts(e.Path, res); err != nil {
		return err
	}

	blob, err := r.blobs.OpenBlob(e.Digest)
	if err != nil {
		return err
	}
	defer blob.Close()

	if err = r.tree.Write(e.Path, blob, e.Digest, e.Mode); err != nil {
		return err
	}
	logging.Debugf("Restored %s", e.Path)
	res.Written = append(res.Written, e.Path)
	return nil
}

// clearConflicts removes untracked entries that make writing rel impossible:
// a file where one of its parent directories has to be, or a directory where
// the file itself goes. Neither can be part of the target, which holds rel.
func (r *Restorer) clearConflicts(rel string, res *Result) error {
	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		prefix := strings.Join(parts[:i], "/")
		abs, err := r.tree.Abs(prefix)
		if err != nil {
			return err
		}
		info, err := os.Lstat(abs)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		if err != nil {
			return fmt.Errorf("could not stat '%s': %w", abs, err)
		}
		if info.IsDir() {
			continue
		}
		if err = r.tree.Remove(prefix); err != nil {
			return err
		}
		r.deleted(res, prefix)
		break
	}

	abs, err := r.tree.Abs(rel)
	if err != nil {
		return err
	}
	if info, err := os.Lstat(abs); err == nil && info.IsDir() {
		removed, err := r.tree.RemoveAll(rel)
		if err != nil {
			return err
		}
		for _, p := range removed {
			r.deleted(res, p)
		}
	}
	return nil
}

func (r *Restorer) deleted(res *Result, rel string) {
	logging.Infof("Removed %s", rel)
	res.Deleted = append(res.Deleted, rel)
}

// fail records a failed path. It returns the error to stop with under the
// abort policy, nil when the restore should go on.
func (r *Restorer) fail(res *Result, rel string, err error) error {
	f := Failure{Path: rel, Err: err}
	res.Failed = append(res.Failed, f)
	if r.policy == config.RestoreContinue {
		logging.Errorf("Could not restore %s: %s", rel, err)
		return nil
	}
	return fmt.Errorf("restore aborted: %w", f)
}
