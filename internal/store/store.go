// Package store persists snapshots below a store root:
//
//	config.toml         store configuration
//	index.sqlite        ordered index of all snapshots
//	manifests/<id>.json one manifest per snapshot
//	blobs/aa/bb/<hash>  file content, keyed by digest
//
// A snapshot is written content first, then its manifest, then its index
// row. A crash part way leaves at worst unreferenced blobs or an unlisted
// manifest, never an index row pointing at missing data. The store is not
// safe for use by more than one process at a time.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/torfstack/keep/internal/db"
	"github.com/torfstack/keep/internal/digest"
	"github.com/torfstack/keep/internal/logging"
	"github.com/torfstack/keep/internal/snapshot"
)

const (
	indexFileName = "index.sqlite"
	manifestsDir  = "manifests"
	blobsDir      = "blobs"
)

type Store struct {
	dir string
	db  *db.Database
}

// IndexEntry is one row of the snapshot index.
type IndexEntry struct {
	ID         digest.Digest
	Message    string
	FileCount  int64
	TotalBytes int64
	CreatedAt  time.Time
}

// Initialize creates the store at dir. Initializing an existing store is
// fine as long as it holds no snapshots; otherwise ErrAlreadyInitialized is
// returned and nothing is touched.
func Initialize(ctx context.Context, dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create store directory '%s': %w", dir, err)
	}

	d, err := db.New(ctx, filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, fmt.Errorf("could not create index: %w", err)
	}
	count, err := d.Queries().CountSnapshots(ctx)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("could not count snapshots: %w", err)
	}
	if count > 0 {
		_ = d.Close()
		return nil, fmt.Errorf("%w: %d snapshot(s) in '%s'", ErrAlreadyInitialized, count, dir)
	}

	for _, sub := range []string{manifestsDir, blobsDir} {
		if err = os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("could not create store directory '%s': %w", sub, err)
		}
	}

	logging.Debugf("Initialized store at '%s'", dir)
	return &Store{dir: dir, db: d}, nil
}

// Open opens an initialized store.
func Open(ctx context.Context, dir string) (*Store, error) {
	indexPath := filepath.Join(dir, indexFileName)
	_, err := os.Stat(indexPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%w: no index at '%s'", ErrNotInitialized, indexPath)
	case err != nil:
		return nil, fmt.Errorf("could not stat index '%s': %w", indexPath, err)
	}

	d, err := db.New(ctx, indexPath)
	if err != nil {
		return nil, fmt.Errorf("could not open index: %w", err)
	}
	return &Store{dir: dir, db: d}, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Persist makes snap durable: every referenced file's content is copied into
// the blob store, then the manifest is written, then the index is updated.
// Content is re-hashed while copying; a file that no longer matches its
// manifest entry fails with ErrContentChanged before anything refers to it.
func (s *Store) Persist(ctx context.Context, snap snapshot.Snapshot) error {
	for _, e := range snap.Manifest.Files {
		if err := s.persistBlob(snap.Root, e); err != nil {
			return err
		}
	}

	if err := s.writeManifest(snap.ID, snap.Manifest); err != nil {
		return err
	}

	err := s.db.Queries().UpsertSnapshot(ctx, db.UpsertSnapshotParams{
		ID:         snap.ID.String(),
		Message:    snap.Manifest.Message,
		FileCount:  int64(len(snap.Manifest.Files)),
		TotalBytes: snap.Manifest.TotalSize(),
		CreatedAt:  time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("could not update index for snapshot %s: %w", snap.ID, err)
	}
	logging.Debugf("Persisted snapshot %s with %d file(s)", snap.ID, len(snap.Manifest.Files))
	return nil
}

func (s *Store) persistBlob(root string, e snapshot.Entry) error {
	ok, err := s.HasBlob(e.Digest)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	src := filepath.Join(root, filepath.FromSlash(e.Path))
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("could not open '%s' for storing: %w", src, err)
	}
	defer f.Close()

	err = s.PutBlob(e.Digest, f)
	if errors.Is(err, digest.ErrMismatch) {
		return fmt.Errorf("%w: %s", ErrContentChanged, e.Path)
	}
	return err
}

// Lookup returns the manifest of the snapshot with the given id. Snapshots
// without an index row are not visible.
func (s *Store) Lookup(ctx context.Context, id string) (snapshot.Manifest, error) {
	d, err := digest.Parse(id)
	if err != nil {
		return snapshot.Manifest{}, fmt.Errorf("%w: %s", ErrNotFound, err)
	}

	_, err = s.db.Queries().GetSnapshot(ctx, d.String())
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return snapshot.Manifest{}, fmt.Errorf("%w: %s", ErrNotFound, d)
	case err != nil:
		return snapshot.Manifest{}, fmt.Errorf("could not read index: %w", err)
	}

	m, err := s.readManifest(d)
	if err != nil {
		return snapshot.Manifest{}, err
	}
	if got := snapshot.ComputeID(m.Files); got != d {
		return snapshot.Manifest{}, fmt.Errorf("%w: %s hashes to %s", ErrCorrupt, d, got)
	}
	return m, nil
}

// Has reports whether the index holds a snapshot with the given id.
func (s *Store) Has(ctx context.Context, id digest.Digest) (bool, error) {
	_, err := s.db.Queries().GetSnapshot(ctx, id.String())
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("could not read index: %w", err)
	}
	return true, nil
}

// Resolve expands a unique id prefix to the full snapshot id.
func (s *Store) Resolve(ctx context.Context, prefix string) (digest.Digest, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" || len(prefix) > digest.Size || strings.Trim(prefix, "0123456789abcdef") != "" {
		return "", fmt.Errorf("%w: malformed id '%s'", ErrNotFound, prefix)
	}

	rows, err := s.db.Queries().FindSnapshotsByPrefix(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("could not search index: %w", err)
	}
	switch len(rows) {
	case 0:
		return "", fmt.Errorf("%w: %s", ErrNotFound, prefix)
	case 1:
		logging.Debug("Resolved snapshot id", "prefix", prefix, "id", rows[0].ID)
		return digest.Digest(rows[0].ID), nil
	default:
		return "", fmt.Errorf("%w: '%s' matches %d snapshots", ErrAmbiguous, prefix, len(rows))
	}
}

// List returns all snapshots in the order they were first persisted.
func (s *Store) List(ctx context.Context) ([]IndexEntry, error) {
	rows, err := s.db.Queries().ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list snapshots: %w", err)
	}
	entries := make([]IndexEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, IndexEntry{
			ID:         digest.Digest(r.ID),
			Message:    r.Message,
			FileCount:  r.FileCount,
			TotalBytes: r.TotalBytes,
			CreatedAt:  time.Unix(r.CreatedAt, 0),
		})
	}
	return entries, nil
}
