package store

import "errors"

var (
	ErrNotFound           = errors.New("snapshot not found")
	ErrAmbiguous          = errors.New("snapshot id prefix is ambiguous")
	ErrAlreadyInitialized = errors.New("store is already initialized and holds snapshots")
	ErrNotInitialized     = errors.New("store is not initialized")
	ErrCorrupt            = errors.New("snapshot manifest does not match its id")
	ErrContentChanged     = errors.New("file changed while the snapshot was taken")
	ErrMissingBlob        = errors.New("content missing from store")
)
