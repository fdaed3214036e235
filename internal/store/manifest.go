package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/torfstack/keep/internal/digest"
	"github.com/torfstack/keep/internal/snapshot"
	"github.com/torfstack/keep/internal/util"
)

func (s *Store) manifestPath(id digest.Digest) string {
	return filepath.Join(s.dir, manifestsDir, id.String()+".json")
}

func (s *Store) writeManifest(id digest.Digest, m snapshot.Manifest) error {
	if m.Files == nil {
		m.Files = []snapshot.Entry{}
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("could not encode manifest %s: %w", id, err)
	}
	if err = util.WriteFileAtomic(s.manifestPath(id), bytes.NewReader(data), 0644); err != nil {
		return fmt.Errorf("could not write manifest %s: %w", id, err)
	}
	return nil
}

func (s *Store) readManifest(id digest.Digest) (snapshot.Manifest, error) {
	var m snapshot.Manifest
	data, err := os.ReadFile(s.manifestPath(id))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return m, fmt.Errorf("%w: no manifest for %s", ErrNotFound, id)
	case err != nil:
		return m, fmt.Errorf("could not read manifest %s: %w", id, err)
	}

	if err = json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: could not decode manifest %s: %s", ErrCorrupt, id, err)
	}
	sort.Slice(m.Files, func(i, j int) bool { return m.Files[i].Path < m.Files[j].Path })
	for _, e := range m.Files {
		if !digest.Valid(e.Digest.String()) {
			return m, fmt.Errorf("%w: manifest %s has malformed digest for '%s'", ErrCorrupt, id, e.Path)
		}
	}
	return m, nil
}
