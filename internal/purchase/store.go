package purchase

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists purchase claims. Implementations are pure I/O; the approval
// engine owns authorization and audit.
//
// Decide is the single CAS the whole design leans on: the transition happens
// iff the current status is pending, atomically at the storage level. It
// returns the claim as stored after the call and whether this call performed
// the transition. A false return with a terminal claim means the caller lost
// the race (or acted on an already-decided claim); the stored decision is
// returned unchanged.
type Store interface {
	Create(ctx context.Context, claim Claim) error
	Get(ctx context.Context, id uuid.UUID) (Claim, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]Claim, error)
	Decide(ctx context.Context, id uuid.UUID, to Status, decidedBy uuid.UUID, reason string, at time.Time) (Claim, bool, error)
}
