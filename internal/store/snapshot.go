package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pathakanu/remindbot/internal/model"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 2

type snapshot struct {
	Version    int                `json:"version"`
	LastSeenAt snapshotTime       `json:"last_seen_at"`
	NextID     uint64             `json:"next_id"`
	Reminders  []snapshotReminder `json:"reminders"`
}

type snapshotReminder struct {
	ID         uint64       `json:"id"`
	Text       string       `json:"text"`
	Author     string       `json:"author"`
	CreatedAt  snapshotTime `json:"created_at"`
	Visibility string       `json:"visibility"`
}

// snapshotTime is an instant as seconds since the Unix epoch plus nanoseconds.
type snapshotTime struct {
	Sec  int64 `json:"sec"`
	Nsec int32 `json:"nsec"`
}

func newSnapshotTime(t time.Time) snapshotTime {
	sec, nsec := model.SplitTime(t)
	return snapshotTime{Sec: sec, Nsec: nsec}
}

// Encode serialises state as a versioned JSON snapshot.
func Encode(state model.LedgerState) ([]byte, error) {
	snap := snapshot{
		Version:    SnapshotVersion,
		LastSeenAt: newSnapshotTime(state.LastSeenAt),
		NextID:     state.NextID,
		Reminders:  make([]snapshotReminder, 0, len(state.Reminders)),
	}
	for _, r := range state.Reminders {
		snap.Reminders = append(snap.Reminders, snapshotReminder{
			ID:         r.ID,
			Text:       r.Text,
			Author:     r.Author,
			CreatedAt:  newSnapshotTime(r.CreatedAt),
			Visibility: string(r.Visibility),
		})
	}
	return json.MarshalIndent(snap, "", "  ")
}

// Decode parses a snapshot produced by Encode. Malformed input yields ErrCorrupt.
func Decode(data []byte) (model.LedgerState, error) {
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return model.LedgerState{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if snap.Version != SnapshotVersion {
		return model.LedgerState{}, fmt.Errorf("%w: unsupported snapshot version %d", ErrCorrupt, snap.Version)
	}

	lastSeen, err := joinTime(snap.LastSeenAt.Sec, snap.LastSeenAt.Nsec)
	if err != nil {
		return model.LedgerState{}, err
	}
	state := model.LedgerState{
		LastSeenAt: lastSeen,
		NextID:     snap.NextID,
		Reminders:  make([]model.Reminder, 0, len(snap.Reminders)),
	}
	for _, r := range snap.Reminders {
		reminder, err := toReminder(r.ID, r.Text, r.Author, r.CreatedAt.Sec, r.CreatedAt.Nsec, r.Visibility)
		if err != nil {
			return model.LedgerState{}, err
		}
		state.Reminders = append(state.Reminders, reminder)
	}
	return state, nil
}

func toReminder(id uint64, text, author string, createdSec int64, createdNsec int32, visibility string) (model.Reminder, error) {
	v := model.Visibility(visibility)
	if !v.Valid() {
		return model.Reminder{}, fmt.Errorf("%w: reminder %d has unknown visibility %q", ErrCorrupt, id, visibility)
	}
	createdAt, err := joinTime(createdSec, createdNsec)
	if err != nil {
		return model.Reminder{}, fmt.Errorf("reminder %d: %w", id, err)
	}
	return model.Reminder{
		ID:         id,
		Text:       text,
		Author:     author,
		CreatedAt:  createdAt,
		Visibility: v,
	}, nil
}

func joinTime(sec int64, nsec int32) (time.Time, error) {
	if nsec < 0 || nsec >= int32(time.Second) {
		return time.Time{}, fmt.Errorf("%w: nanoseconds %d out of range", ErrCorrupt, nsec)
	}
	return model.JoinTime(sec, nsec), nil
}
