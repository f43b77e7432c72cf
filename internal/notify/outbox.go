package notify

import (
	"context"
	"time"
)

// Outbox stores notification obligations. Enqueue participates in the
// caller's transaction when one is carried in ctx, so an obligation commits
// or rolls back together with the decision that created it.
type Outbox interface {
	Enqueue(ctx context.Context, ev Event, now time.Time) error
	// Due returns pending records whose next attempt is at or before now,
	// oldest first, up to limit.
	Due(ctx context.Context, now time.Time, limit int) ([]Record, error)
	// Update persists the record's attempts, schedule, state, and per-channel
	// status after a delivery round.
	Update(ctx context.Context, rec Record) error
}
