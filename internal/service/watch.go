package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/torfstack/keep/internal/digest"
	"github.com/torfstack/keep/internal/local"
	"github.com/torfstack/keep/internal/logging"
	"github.com/torfstack/keep/internal/snapshot"
	"github.com/torfstack/keep/internal/store"
	"golang.org/x/sync/errgroup"
)

const watchMessageSuffix = " (watch)"

// Watch takes a snapshot each time the tree has been quiet for the
// configured settle time after a change. A tree that matches any recorded
// snapshot is not persisted again. It returns when ctx is done.
func (s *Service) Watch(ctx context.Context) error {
	w, err := local.NewWatcher(s.tree)
	if err != nil {
		return fmt.Errorf("could not create watcher: %w", err)
	}
	defer w.Close()

	last, err := s.latest(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := w.Run(gctx); err != nil {
			return fmt.Errorf("error while running watcher: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return s.consumeWatcherEvents(gctx, w.Events, last)
	})

	logging.Infof("Watching %s", s.tree.Root)
	return g.Wait()
}

func (s *Service) latest(ctx context.Context) (digest.Digest, error) {
	entries, err := s.store.List(ctx)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", nil
	}
	return entries[len(entries)-1].ID, nil
}

func (s *Service) consumeWatcherEvents(ctx context.Context, events <-chan local.WatchEvent, last digest.Digest) error {
	// armed by the first event
	settle := time.NewTimer(s.cfg.WatchSettle)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}
			logging.Debugf("Received %s event: %s", event.Op, event.Path)
			settle.Reset(s.cfg.WatchSettle)

		case <-settle.C:
			id, err := s.autoSnapshot(ctx, last)
			switch {
			case errors.Is(err, store.ErrContentChanged), errors.Is(err, fs.ErrNotExist):
				logging.Warnf("Tree changed during snapshot, retrying: %s", err)
				settle.Reset(s.cfg.WatchSettle)
			case err != nil:
				return err
			default:
				last = id
			}

		case <-ctx.Done():
			return nil
		}
	}
}

func (s *Service) autoSnapshot(ctx context.Context, last digest.Digest) (digest.Digest, error) {
	snap, err := snapshot.Build(s.tree, s.cfg.DefaultMessage+watchMessageSuffix)
	if err != nil {
		return last, fmt.Errorf("could not build snapshot: %w", err)
	}
	if snap.ID == last {
		logging.Debugf("Tree matches snapshot %s, skipping", snap.ID.Short(12))
		return last, nil
	}
	known, err := s.store.Has(ctx, snap.ID)
	if err != nil {
		return last, err
	}
	if known {
		logging.Debugf("Tree matches earlier snapshot %s, skipping", snap.ID.Short(12))
		return snap.ID, nil
	}
	if err = s.persist(ctx, snap); err != nil {
		return last, err
	}
	return snap.ID, nil
}
