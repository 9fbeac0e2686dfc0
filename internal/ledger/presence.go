package ledger

import (
	"context"
	"time"
)

// DefaultCooldown limits presence-triggered flushes to once per day.
const DefaultCooldown = 24 * time.Hour

// Tracker decides when the recipient has been away long enough to get their
// pending reminders again.
//
// Presence is only recorded while something is pending: with an empty ledger
// neither ShouldFlush nor MarkSeen has any effect.
type Tracker struct {
	ledger   *Ledger
	cooldown time.Duration
}

// NewTracker returns a Tracker; a non-positive cooldown selects DefaultCooldown.
func NewTracker(l *Ledger, cooldown time.Duration) *Tracker {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Tracker{ledger: l, cooldown: cooldown}
}

// Cooldown returns the configured minimum interval between flushes.
func (t *Tracker) Cooldown() time.Duration {
	return t.cooldown
}

// ShouldFlush reports whether pending reminders should be delivered at now.
func (t *Tracker) ShouldFlush(now time.Time) bool {
	if t.ledger.Len() == 0 {
		return false
	}
	return now.Sub(t.ledger.LastSeenAt()) > t.cooldown
}

// MarkSeen records now as the last time the recipient was seen.
func (t *Tracker) MarkSeen(ctx context.Context, now time.Time) error {
	if t.ledger.Len() == 0 {
		return nil
	}
	return t.ledger.SetLastSeenAt(ctx, now)
}
