// Package snapshot builds point-in-time manifests of a directory tree and
// derives their content-addressed identifiers.
package snapshot

import (
	"encoding/json"
	"io"
	"io/fs"
	"sort"
	"unicode/utf8"

	"github.com/torfstack/keep/internal/digest"
)

// Entry is one tracked file. Path is relative to the snapshotted root and
// uses forward slashes. Size and Mode are recorded for listings and restore
// but are not part of the snapshot id.
type Entry struct {
	Path   string        `json:"path"`
	Digest digest.Digest `json:"digest"`
	Size   int64         `json:"size"`
	Mode   fs.FileMode   `json:"mode,omitempty"`
}

// entryJSON is the stored form of an Entry. Paths that are not valid UTF-8
// go into RawPath, which encodes as base64, so they survive unchanged.
type entryJSON struct {
	Path    string        `json:"path,omitempty"`
	RawPath []byte        `json:"raw_path,omitempty"`
	Digest  digest.Digest `json:"digest"`
	Size    int64         `json:"size"`
	Mode    fs.FileMode   `json:"mode,omitempty"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	j := entryJSON{Digest: e.Digest, Size: e.Size, Mode: e.Mode}
	if utf8.ValidString(e.Path) {
		j.Path = e.Path
	} else {
		j.RawPath = []byte(e.Path)
	}
	return json.Marshal(j)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var j entryJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*e = Entry{Path: j.Path, Digest: j.Digest, Size: j.Size, Mode: j.Mode}
	if j.RawPath != nil {
		e.Path = string(j.RawPath)
	}
	return nil
}

// Manifest maps the files of a snapshot to their content digests. Files is
// sorted by Path.
type Manifest struct {
	Message string  `json:"message"`
	Files   []Entry `json:"files"`
}

// Snapshot is a built manifest together with its identifier and the tree it
// was read from.
type Snapshot struct {
	ID       digest.Digest
	Root     string
	Manifest Manifest
}

func (m Manifest) TotalSize() int64 {
	var total int64
	for _, e := range m.Files {
		total += e.Size
	}
	return total
}

// Paths returns the set of tracked paths.
func (m Manifest) Paths() map[string]struct{} {
	paths := make(map[string]struct{}, len(m.Files))
	for _, e := range m.Files {
		paths[e.Path] = struct{}{}
	}
	return paths
}

// ComputeID folds the entries, in path order, into a single digest. Each
// entry contributes "path NUL digest LF"; the message does not take part. A
// manifest without files therefore has the id digest.Empty.
func ComputeID(entries []Entry) digest.Digest {
	sorted := entries
	if !sort.SliceIsSorted(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path }) {
		sorted = make([]Entry, len(entries))
		copy(sorted, entries)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	}

	w := digest.NewWriter()
	for _, e := range sorted {
		_, _ = io.WriteString(w, e.Path)
		_, _ = w.Write([]byte{0})
		_, _ = io.WriteString(w, e.Digest.String())
		_, _ = w.Write([]byte{'\n'})
	}
	return w.Sum()
}
