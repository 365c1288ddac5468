package store

import (
	"errors"
	"fmt"
)

var (
	ErrCorrupt    = errors.New("store: corrupt record")
	ErrIncomplete = errors.New("store: incomplete record")
	ErrNoSession  = errors.New("store: no saved session")
)

// StorageError reports a failed read or write of one persisted record.
// Callers treat it as advisory: persistence is best-effort.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Path: path, Err: err}
}
