package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/torfstack/keep/internal/logging"
	"github.com/torfstack/keep/internal/util"
)

const (
	// StoreDirName is the store root created inside every snapshotted tree.
	StoreDirName = ".keep"
	// IgnoreFileName holds gitignore-style patterns at the tree root.
	IgnoreFileName = ".keepignore"

	configFileName = "config.toml"
)

var (
	defaultMessage     = "Snapshot"
	defaultWatchSettle = 2 * time.Second
)

// RestorePolicy decides what a revert does after the first failing path.
type RestorePolicy string

const (
	// RestoreAbort stops at the first failure. Already written or deleted
	// files stay as they are; there is no rollback.
	RestoreAbort RestorePolicy = "abort"
	// RestoreContinue keeps going and reports every failed path at the end.
	RestoreContinue RestorePolicy = "continue"
)

func (p RestorePolicy) Validate() error {
	switch p {
	case RestoreAbort, RestoreContinue:
		return nil
	default:
		return fmt.Errorf("unknown restore policy '%s', expected '%s' or '%s'", p, RestoreAbort, RestoreContinue)
	}
}

type Config struct {
	DefaultMessage string        `toml:"default_message"`
	Ignore         []string      `toml:"ignore"`
	RestorePolicy  RestorePolicy `toml:"restore_policy"`
	WatchSettle    time.Duration `toml:"watch_settle"`
}

// StoreDir returns the store root belonging to the tree at root.
func StoreDir(root string) string {
	return filepath.Join(root, StoreDirName)
}

func FilePath(storeDir string) string {
	return filepath.Join(storeDir, configFileName)
}

// Load reads the config of the store at storeDir. A missing file yields the
// defaults; missing keys in an existing file are filled from the defaults.
func Load(storeDir string) (Config, error) {
	c := Default()
	path := FilePath(storeDir)
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logging.Debugf("No config file at '%s', using defaults", path)
		return c, nil
	case err != nil:
		return c, fmt.Errorf("could not open config file for reading '%s': %w", path, err)
	}
	defer f.Close()

	_, err = toml.NewDecoder(f).Decode(&c)
	if err != nil {
		return c, fmt.Errorf("could not decode config file '%s': %w", path, err)
	}
	if err = c.RestorePolicy.Validate(); err != nil {
		return c, fmt.Errorf("invalid config file '%s': %w", path, err)
	}
	return c, nil
}

// Exists reports whether a config file has been written for storeDir.
func Exists(storeDir string) bool {
	_, err := os.Stat(FilePath(storeDir))
	return err == nil
}

// Initialize writes the default config into storeDir, optionally asking the
// user for each value first.
func Initialize(storeDir string, interactive bool) (Config, error) {
	c := Default()
	if interactive {
		err := guidedInitialization(&c)
		if err != nil {
			return c, fmt.Errorf("could not initialize config interactively: %w", err)
		}
	}
	return c, c.Persist(storeDir)
}

func (c *Config) Persist(storeDir string) error {
	path := FilePath(storeDir)
	f, err := util.OpenWithParents(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("could not open config file for writing '%s': %w", path, err)
	}
	defer f.Close()

	logging.Debugf("Persisting config file to '%s'", path)
	err = toml.NewEncoder(f).Encode(c)
	if err != nil {
		return fmt.Errorf("could not persist config to file '%s': %w", path, err)
	}

	return f.Sync()
}

func Default() Config {
	return Config{
		DefaultMessage: defaultMessage,
		Ignore:         []string{},
		RestorePolicy:  RestoreAbort,
		WatchSettle:    defaultWatchSettle,
	}
}
