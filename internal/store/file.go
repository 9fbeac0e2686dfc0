package store

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/google/renameio/v2"
	"github.com/pathakanu/remindbot/internal/model"
)

// FileStore keeps the snapshot in a single file, replaced by rename on each save.
type FileStore struct {
	path string
}

// NewFileStore creates the file with an empty ledger if it does not exist.
func NewFileStore(ctx context.Context, path string) (*FileStore, error) {
	s := &FileStore{path: path}
	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, storageErr("init", err)
		}
		if err := s.Save(ctx, model.NewLedgerState()); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Load reads and decodes the snapshot file. File I/O cannot be interrupted, so
// the context is not consulted.
func (s *FileStore) Load(_ context.Context) (model.LedgerState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return model.LedgerState{}, storageErr("load", err)
	}
	state, err := Decode(data)
	if err != nil {
		return model.LedgerState{}, storageErr("load", err)
	}
	return state, nil
}

// Save writes the snapshot to a temp file and renames it over the old one.
func (s *FileStore) Save(_ context.Context, state model.LedgerState) error {
	data, err := Encode(state)
	if err != nil {
		return storageErr("save", err)
	}
	return storageErr("save", WriteSnapshotFile(s.path, data))
}

func (s *FileStore) Close() error { return nil }

// WriteSnapshotFile atomically replaces path with data.
func WriteSnapshotFile(path string, data []byte) error {
	return renameio.WriteFile(path, data, 0o600)
}
