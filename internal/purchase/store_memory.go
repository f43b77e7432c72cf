package purchase

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vouch/pkg/platform/sentinel"
)

type InMemoryStore struct {
	mu     sync.Mutex
	claims map[uuid.UUID]Claim
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{claims: make(map[uuid.UUID]Claim)}
}

func (s *InMemoryStore) Create(_ context.Context, claim Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.claims {
		if existing.PrincipalID == claim.PrincipalID &&
			existing.ResourceID == claim.ResourceID &&
			!existing.Status.Terminal() {
			return sentinel.ErrConflict
		}
	}
	s.claims[claim.ID] = claim
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id uuid.UUID) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	claim, ok := s.claims[id]
	if !ok {
		return Claim{}, sentinel.ErrNotFound
	}
	return claim, nil
}

func (s *InMemoryStore) ListByStatus(_ context.Context, status Status, limit int) ([]Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Claim
	for _, claim := range s.claims {
		if claim.Status == status {
			out = append(out, claim)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Decide performs the pending→terminal CAS under the store lock, mirroring
// the conditional UPDATE the Postgres store issues.
func (s *InMemoryStore) Decide(_ context.Context, id uuid.UUID, to Status, decidedBy uuid.UUID, reason string, at time.Time) (Claim, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	claim, ok := s.claims[id]
	if !ok {
		return Claim{}, false, sentinel.ErrNotFound
	}
	if claim.Status != StatusPending {
		return claim, false, nil
	}

	claim.Status = to
	decidedAt := at
	claim.DecidedAt = &decidedAt
	by := decidedBy
	claim.DecidedBy = &by
	claim.RejectionReason = reason
	s.claims[id] = claim
	return claim, true, nil
}
