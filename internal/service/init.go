package service

import (
	"context"

	"github.com/torfstack/keep/internal/config"
	"github.com/torfstack/keep/internal/local"
	"github.com/torfstack/keep/internal/logging"
	"github.com/torfstack/keep/internal/store"
)

// Init creates the store for the tree at root. An existing config file is
// kept; otherwise one is written, asking for each value when interactive
// is set. A store that already holds snapshots is left untouched.
func Init(ctx context.Context, root string, interactive bool) error {
	abs, err := local.ResolveRoot(root)
	if err != nil {
		return err
	}
	storeDir := config.StoreDir(abs)

	st, err := store.Initialize(ctx, storeDir)
	if err != nil {
		return err
	}
	defer st.Close()

	if config.Exists(storeDir) {
		logging.Debugf("Keeping existing config at '%s'", config.FilePath(storeDir))
	} else if _, err = config.Initialize(storeDir, interactive); err != nil {
		return err
	}

	logging.Infof("Initialized empty store in %s", storeDir)
	return nil
}
