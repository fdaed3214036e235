package snapshot

import (
	"fmt"
	"os"

	"github.com/torfstack/keep/internal/digest"
	"github.com/torfstack/keep/internal/local"
	"github.com/torfstack/keep/internal/logging"
)

// Build hashes every file of tree and returns the resulting snapshot. It has
// no side effects; persisting the result is up to the store. Any file that
// cannot be read fails the whole build.
func Build(tree *local.Tree, message string) (Snapshot, error) {
	paths, err := tree.Files()
	if err != nil {
		return Snapshot{}, fmt.Errorf("could not list files: %w", err)
	}

	entries := make([]Entry, 0, len(paths))
	for _, p := range paths {
		abs, err := tree.Abs(p)
		if err != nil {
			return Snapshot{}, err
		}
		info, err := os.Lstat(abs)
		if err != nil {
			return Snapshot{}, fmt.Errorf("could not stat '%s': %w", p, err)
		}
		d, size, err := digest.File(abs)
		if err != nil {
			return Snapshot{}, fmt.Errorf("could not hash '%s': %w", p, err)
		}
		logging.Debugf("Hashed %s: %s", p, d.Short(12))
		entries = append(entries, Entry{Path: p, Digest: d, Size: size, Mode: info.Mode().Perm()})
	}

	return Snapshot{
		ID:       ComputeID(entries),
		Root:     tree.Root,
		Manifest: Manifest{Message: message, Files: entries},
	}, nil
}
