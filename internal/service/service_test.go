package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/torfstack/keep/internal/config"
	"github.com/torfstack/keep/internal/digest"
	"github.com/torfstack/keep/internal/store"
)

func TestInit(t *testing.T) {
	tests := []struct {
		name string
		do   func(t *testing.T, root string)
	}{
		{
			name: "creates store and default config",
			do: func(t *testing.T, root string) {
				require.NoError(t, Init(t.Context(), root, false))
				require.True(t, config.Exists(config.StoreDir(root)))

				cfg, err := config.Load(config.StoreDir(root))
				require.NoError(t, err)
				require.Equal(t, config.Default(), cfg)
			},
		},
		{
			name: "existing config is kept",
			do: func(t *testing.T, root string) {
				c := config.Default()
				c.DefaultMessage = "mine"
				require.NoError(t, c.Persist(config.StoreDir(root)))

				require.NoError(t, Init(t.Context(), root, false))
				cfg, err := config.Load(config.StoreDir(root))
				require.NoError(t, err)
				require.Equal(t, "mine", cfg.DefaultMessage)
			},
		},
		{
			name: "empty store can be initialized again",
			do: func(t *testing.T, root string) {
				require.NoError(t, Init(t.Context(), root, false))
				require.NoError(t, Init(t.Context(), root, false))
			},
		},
		{
			name: "populated store is not reinitialized",
			do: func(t *testing.T, root string) {
				writeTree(t, root, map[string]string{"a.txt": "a"})
				s := initService(t, root)
				snap, err := s.Snapshot(t.Context(), "first")
				require.NoError(t, err)
				require.NoError(t, s.Close())

				err = Init(t.Context(), root, false)
				require.ErrorIs(t, err, store.ErrAlreadyInitialized)

				s = openService(t, root)
				entries, err := s.List(t.Context())
				require.NoError(t, err)
				require.Len(t, entries, 1)
				require.Equal(t, snap.ID, entries[0].ID)
				require.Equal(t, "first", entries[0].Message)
			},
		},
		{
			name: "not initialized",
			do: func(t *testing.T, root string) {
				_, err := NewService(t.Context(), root)
				require.ErrorIs(t, err, store.ErrNotInitialized)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.do(t, t.TempDir())
		})
	}
}

func TestSnapshotAndRevert(t *testing.T) {
	tests := []struct {
		name string
		do   func(t *testing.T, root string, s *Service)
	}{
		{
			name: "revert restores the snapshotted tree",
			do: func(t *testing.T, root string, s *Service) {
				original := map[string]string{"a.txt": "alpha", "dir/b.txt": "beta", "dir/deep/c": ""}
				writeTree(t, root, original)
				snap, err := s.Snapshot(t.Context(), "base")
				require.NoError(t, err)

				writeTree(t, root, map[string]string{"a.txt": "changed", "new/file": "n"})
				require.NoError(t, os.Remove(filepath.Join(root, "dir", "b.txt")))

				id, res, err := s.Revert(t.Context(), snap.ID.Short(8))
				require.NoError(t, err)
				require.Equal(t, snap.ID, id)
				require.ElementsMatch(t, []string{"new/file"}, res.Deleted)
				require.Equal(t, original, readTree(t, root))
				require.NoDirExists(t, filepath.Join(root, "new"))
			},
		},
		{
			name: "revert deletes files the snapshot does not know",
			do: func(t *testing.T, root string, s *Service) {
				writeTree(t, root, map[string]string{"a": "a", "b": "b"})
				snap, err := s.Snapshot(t.Context(), "")
				require.NoError(t, err)
				writeTree(t, root, map[string]string{"c": "c"})

				_, res, err := s.Revert(t.Context(), snap.ID.String())
				require.NoError(t, err)
				require.Equal(t, []string{"c"}, res.Deleted)
				require.Equal(t, map[string]string{"a": "a", "b": "b"}, readTree(t, root))
			},
		},
		{
			name: "empty snapshot clears the tree",
			do: func(t *testing.T, root string, s *Service) {
				snap, err := s.Snapshot(t.Context(), "empty")
				require.NoError(t, err)
				require.Equal(t, digest.Empty, snap.ID)

				writeTree(t, root, map[string]string{"a": "a", "x/y": "y"})
				_, res, err := s.Revert(t.Context(), snap.ID.String())
				require.NoError(t, err)
				require.ElementsMatch(t, []string{"a", "x/y"}, res.Deleted)
				require.Empty(t, readTree(t, root))
				require.DirExists(t, config.StoreDir(root))
			},
		},
		{
			name: "snapshots survive later edits",
			do: func(t *testing.T, root string, s *Service) {
				writeTree(t, root, map[string]string{"f": "v1"})
				first, err := s.Snapshot(t.Context(), "v1")
				require.NoError(t, err)
				writeTree(t, root, map[string]string{"f": "v2"})
				second, err := s.Snapshot(t.Context(), "v2")
				require.NoError(t, err)
				require.NotEqual(t, first.ID, second.ID)

				_, _, err = s.Revert(t.Context(), first.ID.String())
				require.NoError(t, err)
				require.Equal(t, map[string]string{"f": "v1"}, readTree(t, root))

				_, _, err = s.Revert(t.Context(), second.ID.String())
				require.NoError(t, err)
				require.Equal(t, map[string]string{"f": "v2"}, readTree(t, root))
			},
		},
		{
			name: "default message is used",
			do: func(t *testing.T, root string, s *Service) {
				_, err := s.Snapshot(t.Context(), "")
				require.NoError(t, err)
				entries, err := s.List(t.Context())
				require.NoError(t, err)
				require.Len(t, entries, 1)
				require.Equal(t, config.Default().DefaultMessage, entries[0].Message)
			},
		},
		{
			name: "unknown snapshot leaves the tree alone",
			do: func(t *testing.T, root string, s *Service) {
				writeTree(t, root, map[string]string{"a": "a"})
				_, _, err := s.Revert(t.Context(), "abcdef")
				require.ErrorIs(t, err, store.ErrNotFound)
				require.Equal(t, map[string]string{"a": "a"}, readTree(t, root))
			},
		},
		{
			name: "show returns the manifest",
			do: func(t *testing.T, root string, s *Service) {
				writeTree(t, root, map[string]string{"b": "bb", "a": "a"})
				snap, err := s.Snapshot(t.Context(), "show me")
				require.NoError(t, err)

				id, m, err := s.Show(t.Context(), snap.ID.Short(6))
				require.NoError(t, err)
				require.Equal(t, snap.ID, id)
				require.Equal(t, "show me", m.Message)
				require.Equal(t, snap.Manifest.Files, m.Files)
				require.Equal(t, int64(3), m.TotalSize())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			tt.do(t, root, initService(t, root))
		})
	}
}

func TestRevertHonorsIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	c := config.Default()
	c.Ignore = []string{"*.log"}
	require.NoError(t, c.Persist(config.StoreDir(root)))
	s := initService(t, root)

	writeTree(t, root, map[string]string{"a": "a", "old.log": "l"})
	snap, err := s.Snapshot(t.Context(), "")
	require.NoError(t, err)
	require.Len(t, snap.Manifest.Files, 1)

	writeTree(t, root, map[string]string{"new.log": "n"})
	_, res, err := s.Revert(t.Context(), snap.ID.String())
	require.NoError(t, err)
	require.Empty(t, res.Deleted)
	require.Equal(t, map[string]string{"a": "a", "old.log": "l", "new.log": "n"}, readTree(t, root))
}

func TestSnapshotAndRevertNonUTF8Path(t *testing.T) {
	root := t.TempDir()
	name := "bad\xffname"
	if err := os.WriteFile(filepath.Join(root, name), []byte("raw"), 0644); err != nil {
		t.Skipf("filesystem rejects non-UTF-8 names: %s", err)
	}
	writeTree(t, root, map[string]string{"ok.txt": "ok"})
	s := initService(t, root)

	snap, err := s.Snapshot(t.Context(), "")
	require.NoError(t, err)
	require.Len(t, snap.Manifest.Files, 2)

	_, m, err := s.Show(t.Context(), snap.ID.String())
	require.NoError(t, err)
	require.Equal(t, snap.Manifest.Files, m.Files)

	require.NoError(t, os.Remove(filepath.Join(root, name)))
	writeTree(t, root, map[string]string{"ok.txt": "changed"})

	_, _, err = s.Revert(t.Context(), snap.ID.String())
	require.NoError(t, err)
	require.Equal(t, map[string]string{name: "raw", "ok.txt": "ok"}, readTree(t, root))
}

func TestSymlinkedRoot(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "project")
	require.NoError(t, os.Mkdir(target, 0755))
	link := filepath.Join(base, "link")
	require.NoError(t, os.Symlink(target, link))

	s := initService(t, link)
	writeTree(t, target, map[string]string{"a": "a", "b/c": "c"})

	snap, err := s.Snapshot(t.Context(), "")
	require.NoError(t, err)
	require.Len(t, snap.Manifest.Files, 2)
	require.NotEqual(t, digest.Empty, snap.ID)
	require.DirExists(t, config.StoreDir(target))

	writeTree(t, target, map[string]string{"d": "d"})
	_, res, err := s.Revert(t.Context(), snap.ID.String())
	require.NoError(t, err)
	require.Equal(t, []string{"d"}, res.Deleted)
	require.Equal(t, map[string]string{"a": "a", "b/c": "c"}, readTree(t, target))
}

func TestWatchKeepsRecordedSnapshots(t *testing.T) {
	root := t.TempDir()
	s := initService(t, root)

	writeTree(t, root, map[string]string{"f": "v1"})
	first, err := s.Snapshot(t.Context(), "release 1")
	require.NoError(t, err)
	writeTree(t, root, map[string]string{"f": "v2"})
	second, err := s.Snapshot(t.Context(), "wip")
	require.NoError(t, err)

	_, _, err = s.Revert(t.Context(), first.ID.String())
	require.NoError(t, err)

	id, err := s.autoSnapshot(t.Context(), second.ID)
	require.NoError(t, err)
	require.Equal(t, first.ID, id)

	entries, err := s.List(t.Context())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "release 1", entries[0].Message)
	require.Equal(t, "wip", entries[1].Message)

	writeTree(t, root, map[string]string{"f": "v3"})
	id, err = s.autoSnapshot(t.Context(), first.ID)
	require.NoError(t, err)
	require.NotEqual(t, first.ID, id)

	entries, err = s.List(t.Context())
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, config.Default().DefaultMessage+watchMessageSuffix, entries[2].Message)
}

func TestWatch(t *testing.T) {
	root := t.TempDir()
	c := config.Default()
	c.WatchSettle = 50 * time.Millisecond
	require.NoError(t, c.Persist(config.StoreDir(root)))
	s := initService(t, root)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Watch(ctx) }()

	// give the watcher time to register the root
	time.Sleep(100 * time.Millisecond)
	writeTree(t, root, map[string]string{"a.txt": "a"})

	require.Eventually(t, func() bool {
		entries, err := s.List(t.Context())
		return err == nil && len(entries) == 1
	}, 5*time.Second, 20*time.Millisecond)

	entries, err := s.List(t.Context())
	require.NoError(t, err)
	require.Equal(t, config.Default().DefaultMessage+watchMessageSuffix, entries[0].Message)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		require.Fail(t, "watch did not stop")
	}
}

func initService(t *testing.T, root string) *Service {
	t.Helper()
	require.NoError(t, Init(t.Context(), root, false))
	return openService(t, root)
}

func openService(t *testing.T, root string) *Service {
	t.Helper()
	s, err := NewService(t.Context(), root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	got := map[string]string{}
	storeDir := config.StoreDir(root)
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == storeDir {
			return filepath.SkipDir
		}
		if !d.Type().IsRegular() {
			return nil
		}
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		got[filepath.ToSlash(rel)] = string(b)
		return nil
	})
	require.NoError(t, err)
	return got
}
