package ledger

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/pathakanu/remindbot/internal/model"
	"github.com/pathakanu/remindbot/internal/store"
)

// memoryStore is a Store that keeps the last saved state and can be told to fail.
type memoryStore struct {
	state model.LedgerState
	saves int
	fail  bool
}

func (m *memoryStore) Load(context.Context) (model.LedgerState, error) {
	return m.state.Clone(), nil
}

func (m *memoryStore) Save(_ context.Context, state model.LedgerState) error {
	if m.fail {
		return &store.StorageError{Op: "save", Err: errors.New("disk full")}
	}
	m.saves++
	m.state = state.Clone()
	return nil
}

func (m *memoryStore) Close() error { return nil }

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *memoryStore) {
	t.Helper()
	s := &memoryStore{state: model.NewLedgerState()}
	l, err := Open(context.Background(), s, WithClock(func() time.Time { return epoch }))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l, s
}

func TestCreateAssignsIncreasingIDs(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t)

	var last uint64
	for i := 0; i < 5; i++ {
		r, err := l.Create(ctx, "task", "bob", model.Public)
		if err != nil {
			t.Fatalf("Create: %v", err)
		}
		if r.ID != last+1 {
			t.Fatalf("expected id %d, got %d", last+1, r.ID)
		}
		last = r.ID
		if i == 2 {
			if _, err := l.DeleteByID(ctx, r.ID); err != nil {
				t.Fatalf("DeleteByID: %v", err)
			}
		}
	}

	if s.state.NextID != 5 {
		t.Fatalf("persisted NextID = %d, want 5", s.state.NextID)
	}
	if !reflect.DeepEqual(s.state, l.Snapshot()) {
		t.Fatalf("memory and store diverged:\n mem %+v\nstore %+v", l.Snapshot(), s.state)
	}
}

func TestDeletedIDIsNeverReused(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	first, _ := l.Create(ctx, "one", "bob", model.Public)
	if _, err := l.DeleteByID(ctx, first.ID); err != nil {
		t.Fatalf("DeleteByID: %v", err)
	}
	second, _ := l.Create(ctx, "two", "bob", model.Public)
	if second.ID == first.ID {
		t.Fatalf("id %d reused", first.ID)
	}
}

func TestDeleteTwiceReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t)

	r, _ := l.Create(ctx, "call mum", "carol", model.Private)
	removed, err := l.DeleteByID(ctx, r.ID)
	if err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if removed.Text != "call mum" {
		t.Fatalf("unexpected removed reminder %+v", removed)
	}

	saves := s.saves
	if _, err := l.DeleteByID(ctx, r.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
	if s.saves != saves {
		t.Fatalf("not-found delete should not persist")
	}
}

func TestListKeepsInsertionOrderAndFilters(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	l.Create(ctx, "a", "bob", model.Public)
	l.Create(ctx, "b", "carol", model.Private)
	l.Create(ctx, "c", "dave", model.Public)

	all := l.List()
	if len(all) != 3 || all[0].Text != "a" || all[1].Text != "b" || all[2].Text != "c" {
		t.Fatalf("unexpected order: %+v", all)
	}

	public := l.List(model.Public)
	if len(public) != 2 || public[0].Text != "a" || public[1].Text != "c" {
		t.Fatalf("unexpected public list: %+v", public)
	}

	private := l.List(model.Private)
	if len(private) != 1 || private[0].Author != "carol" {
		t.Fatalf("unexpected private list: %+v", private)
	}
}

func TestFailedSaveLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLedger(t)
	r, _ := l.Create(ctx, "keep", "bob", model.Public)

	before := l.Snapshot()
	s.fail = true

	if _, err := l.Create(ctx, "lost", "bob", model.Public); !store.IsStorageError(err) {
		t.Fatalf("Create: expected StorageError, got %v", err)
	}
	if _, err := l.DeleteByID(ctx, r.ID); !store.IsStorageError(err) {
		t.Fatalf("DeleteByID: expected StorageError, got %v", err)
	}
	if err := l.SetLastSeenAt(ctx, epoch); !store.IsStorageError(err) {
		t.Fatalf("SetLastSeenAt: expected StorageError, got %v", err)
	}

	if !reflect.DeepEqual(before, l.Snapshot()) {
		t.Fatalf("state changed after failed saves: %+v", l.Snapshot())
	}
}

func TestOpenLoadsPersistedState(t *testing.T) {
	s := &memoryStore{state: model.LedgerState{
		NextID:    9,
		Reminders: []model.Reminder{{ID: 9, Text: "x", Author: "bob", Visibility: model.Public}},
	}}
	l, err := Open(context.Background(), s)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	r, err := l.Create(context.Background(), "y", "bob", model.Public)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.ID != 10 {
		t.Fatalf("expected id 10 after NextID 9, got %d", r.ID)
	}
}
