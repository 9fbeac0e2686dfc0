package model

import "time"

// Visibility controls where a reminder is delivered and listed.
type Visibility string

const (
	// Public reminders are delivered and listed in the shared channel.
	Public Visibility = "public"
	// Private reminders are only ever shown to the recipient directly.
	Private Visibility = "private"
)

// Valid reports whether v is one of the known visibilities.
func (v Visibility) Valid() bool {
	return v == Public || v == Private
}

// Reminder represents a message left for the recipient.
type Reminder struct {
	ID         uint64
	Text       string
	Author     string
	CreatedAt  time.Time
	Visibility Visibility
}

// LedgerState is everything that survives a restart.
type LedgerState struct {
	LastSeenAt time.Time
	Reminders  []Reminder
	// NextID is the highest id handed out so far; the next reminder gets NextID+1.
	NextID uint64
}

// NewLedgerState returns the state used when no backing data exists yet.
func NewLedgerState() LedgerState {
	return LedgerState{Reminders: []Reminder{}}
}

// Clone returns a copy that shares no slice memory with s.
func (s LedgerState) Clone() LedgerState {
	reminders := make([]Reminder, len(s.Reminders))
	copy(reminders, s.Reminders)
	s.Reminders = reminders
	return s
}

// NormalizeTime strips the monotonic reading and pins t to UTC so that a value
// survives a round trip through storage unchanged.
func NormalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.Round(0).UTC()
}

// SplitTime encodes t as whole seconds since the Unix epoch plus a
// nanosecond remainder. Every representable instant, including the zero time
// and the epoch itself, maps to a distinct pair.
func SplitTime(t time.Time) (sec int64, nsec int32) {
	return t.Unix(), int32(t.Nanosecond())
}

// JoinTime is the inverse of SplitTime. The result is in UTC.
func JoinTime(sec int64, nsec int32) time.Time {
	return time.Unix(sec, int64(nsec)).UTC()
}
