package service

import (
	"context"

	"github.com/torfstack/keep/internal/digest"
	"github.com/torfstack/keep/internal/logging"
	"github.com/torfstack/keep/internal/restore"
)

// Revert restores the tree to the snapshot named by idOrPrefix. An unknown
// snapshot fails before the tree is touched.
func (s *Service) Revert(ctx context.Context, idOrPrefix string) (digest.Digest, restore.Result, error) {
	id, err := s.store.Resolve(ctx, idOrPrefix)
	if err != nil {
		return "", restore.Result{}, err
	}
	m, err := s.store.Lookup(ctx, id.String())
	if err != nil {
		return "", restore.Result{}, err
	}

	res, err := restore.New(s.tree, s.store, s.cfg.RestorePolicy).Restore(m)
	if err != nil {
		return id, res, err
	}
	logging.Infof(
		"Reverted to %s: %d written, %d unchanged, %d removed",
		id.Short(12), len(res.Written), len(res.Unchanged), len(res.Deleted),
	)
	return id, res, nil
}
