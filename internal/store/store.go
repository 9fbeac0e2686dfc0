// Package store persists the reminder ledger. Every backend rewrites the whole
// state on each save and replaces it atomically.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pathakanu/remindbot/internal/model"
)

// ErrCorrupt is wrapped by a StorageError when persisted data exists but cannot be parsed.
var ErrCorrupt = errors.New("corrupt ledger state")

// StorageError reports an I/O or corruption failure in a backend.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err carries a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// Store is a durable home for a LedgerState.
type Store interface {
	Load(ctx context.Context) (model.LedgerState, error)
	Save(ctx context.Context, state model.LedgerState) error
	Close() error
}

// Update loads the state, applies fn and saves the result.
func Update(ctx context.Context, s Store, fn func(*model.LedgerState)) error {
	state, err := s.Load(ctx)
	if err != nil {
		return err
	}
	fn(&state)
	return s.Save(ctx, state)
}

// ReadLastSeenAt returns the persisted last-seen timestamp.
func ReadLastSeenAt(ctx context.Context, s Store) (time.Time, error) {
	state, err := s.Load(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return state.LastSeenAt, nil
}

// WriteLastSeenAt persists a new last-seen timestamp.
func WriteLastSeenAt(ctx context.Context, s Store, t time.Time) error {
	return Update(ctx, s, func(state *model.LedgerState) {
		state.LastSeenAt = model.NormalizeTime(t)
	})
}

// ReadReminders returns the persisted reminders in insertion order.
func ReadReminders(ctx context.Context, s Store) ([]model.Reminder, error) {
	state, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return state.Reminders, nil
}

// WriteReminders replaces the persisted reminders.
func WriteReminders(ctx context.Context, s Store, reminders []model.Reminder) error {
	return Update(ctx, s, func(state *model.LedgerState) {
		state.Reminders = append([]model.Reminder{}, reminders...)
	})
}

// ReadNextID returns the persisted id counter.
func ReadNextID(ctx context.Context, s Store) (uint64, error) {
	state, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	return state.NextID, nil
}

// WriteNextID persists the id counter.
func WriteNextID(ctx context.Context, s Store, id uint64) error {
	return Update(ctx, s, func(state *model.LedgerState) {
		state.NextID = id
	})
}
