// Package ledger holds the authoritative reminder collection and the presence
// cooldown that decides when to deliver it.
package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pathakanu/remindbot/internal/model"
	"github.com/pathakanu/remindbot/internal/store"
)

// ErrNotFound is returned when no reminder has the requested id.
var ErrNotFound = errors.New("reminder not found")

// Ledger is the in-memory copy of the persisted state. Every mutation is
// saved before it becomes visible; a failed save leaves the ledger untouched.
type Ledger struct {
	mu    sync.RWMutex
	store store.Store
	state model.LedgerState
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used to stamp new reminders.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Open loads the ledger from s.
func Open(ctx context.Context, s store.Store, opts ...Option) (*Ledger, error) {
	state, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	l := &Ledger{store: s, state: state, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Create appends a reminder with the next id and persists it.
func (l *Ledger) Create(ctx context.Context, text, author string, visibility model.Visibility) (model.Reminder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.state.Clone()
	next.NextID++
	reminder := model.Reminder{
		ID:         next.NextID,
		Text:       text,
		Author:     author,
		CreatedAt:  model.NormalizeTime(l.now()),
		Visibility: visibility,
	}
	next.Reminders = append(next.Reminders, reminder)

	if err := l.commit(ctx, next); err != nil {
		return model.Reminder{}, err
	}
	return reminder, nil
}

// List returns reminders in insertion order. When only is non-empty the result
// is restricted to those visibilities.
func (l *Ledger) List(only ...model.Visibility) []model.Reminder {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]model.Reminder, 0, len(l.state.Reminders))
	for _, r := range l.state.Reminders {
		if len(only) == 0 || containsVisibility(only, r.Visibility) {
			out = append(out, r)
		}
	}
	return out
}

// DeleteByID removes the reminder with id and persists the result.
func (l *Ledger) DeleteByID(ctx context.Context, id uint64) (model.Reminder, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	index := -1
	for i, r := range l.state.Reminders {
		if r.ID == id {
			index = i
			break
		}
	}
	if index < 0 {
		return model.Reminder{}, ErrNotFound
	}

	removed := l.state.Reminders[index]
	next := l.state.Clone()
	next.Reminders = append(next.Reminders[:index], next.Reminders[index+1:]...)

	if err := l.commit(ctx, next); err != nil {
		return model.Reminder{}, err
	}
	return removed, nil
}

// Len returns the number of pending reminders.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.state.Reminders)
}

// LastSeenAt returns when the recipient was last recorded as present.
func (l *Ledger) LastSeenAt() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.LastSeenAt
}

// SetLastSeenAt persists a new presence timestamp.
func (l *Ledger) SetLastSeenAt(ctx context.Context, t time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.state.Clone()
	next.LastSeenAt = model.NormalizeTime(t)
	return l.commit(ctx, next)
}

// Snapshot returns a copy of the current state.
func (l *Ledger) Snapshot() model.LedgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.Clone()
}

// commit must be called with mu held.
func (l *Ledger) commit(ctx context.Context, next model.LedgerState) error {
	if err := l.store.Save(ctx, next); err != nil {
		return err
	}
	l.state = next
	return nil
}

func containsVisibility(set []model.Visibility, v model.Visibility) bool {
	for _, candidate := range set {
		if candidate == v {
			return true
		}
	}
	return false
}
