package service

import (
	"context"
	"fmt"

	"github.com/torfstack/keep/internal/config"
	"github.com/torfstack/keep/internal/digest"
	"github.com/torfstack/keep/internal/local"
	"github.com/torfstack/keep/internal/logging"
	"github.com/torfstack/keep/internal/snapshot"
	"github.com/torfstack/keep/internal/store"
)

// Service ties the tree at one root to its store.
type Service struct {
	cfg   config.Config
	tree  *local.Tree
	store *store.Store
}

// NewService opens the store belonging to the tree at root.
func NewService(ctx context.Context, root string) (*Service, error) {
	abs, err := local.ResolveRoot(root)
	if err != nil {
		return nil, err
	}
	storeDir := config.StoreDir(abs)

	cfg, err := config.Load(storeDir)
	if err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	}
	tree, err := local.NewTree(abs, cfg.Ignore)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, storeDir)
	if err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, tree: tree, store: st}, nil
}

func (s *Service) Close() error {
	return s.store.Close()
}

func (s *Service) Root() string {
	return s.tree.Root
}

func (s *Service) Config() config.Config {
	return s.cfg
}

// Snapshot records the current state of the tree. An empty message falls
// back to the configured default.
func (s *Service) Snapshot(ctx context.Context, message string) (snapshot.Snapshot, error) {
	if message == "" {
		message = s.cfg.DefaultMessage
	}
	snap, err := snapshot.Build(s.tree, message)
	if err != nil {
		return snapshot.Snapshot{}, fmt.Errorf("could not build snapshot: %w", err)
	}
	if err = s.persist(ctx, snap); err != nil {
		return snapshot.Snapshot{}, err
	}
	return snap, nil
}

func (s *Service) persist(ctx context.Context, snap snapshot.Snapshot) error {
	if err := s.store.Persist(ctx, snap); err != nil {
		return fmt.Errorf("could not persist snapshot: %w", err)
	}
	logging.Infof("Created snapshot %s with %d file(s)", snap.ID.Short(12), len(snap.Manifest.Files))
	return nil
}

func (s *Service) List(ctx context.Context) ([]store.IndexEntry, error) {
	return s.store.List(ctx)
}

// Show resolves idOrPrefix and returns the manifest it names.
func (s *Service) Show(ctx context.Context, idOrPrefix string) (digest.Digest, snapshot.Manifest, error) {
	id, err := s.store.Resolve(ctx, idOrPrefix)
	if err != nil {
		return "", snapshot.Manifest{}, err
	}
	m, err := s.store.Lookup(ctx, id.String())
	if err != nil {
		return "", snapshot.Manifest{}, err
	}
	return id, m, nil
}
