//go:build integration

package purchase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"vouch/internal/platform/postgres"
	"vouch/pkg/platform/sentinel"
	"vouch/pkg/testutil/containers"
)

// The CAS on status is the hard correctness requirement of the whole design,
// so it gets exercised against a real Postgres, not just the memory store.
func TestPostgresStoreDecideUnderConcurrency(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	ctx := context.Background()
	require.NoError(t, postgres.EnsureSchema(ctx, pc.DB))

	store := NewPostgresStore(pc.DB)

	principal := uuid.New()
	_, err := pc.DB.ExecContext(ctx,
		`INSERT INTO principals (id, email, role) VALUES ($1, $2, 'standard')`,
		principal, "buyer@example.com")
	require.NoError(t, err)

	claim := Claim{
		ID:             uuid.New(),
		PrincipalID:    principal,
		ResourceID:     "course-101",
		TransactionRef: "ABC12345",
		Status:         StatusPending,
		SubmittedAt:    time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, claim))

	const racers = 8
	wins := make(chan bool, racers)
	var wg sync.WaitGroup
	for i := range racers {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			to := StatusApproved
			if n%2 == 1 {
				to = StatusRejected
			}
			_, transitioned, err := store.Decide(ctx, claim.ID, to, uuid.New(), "", time.Now().UTC())
			require.NoError(t, err)
			wins <- transitioned
		}(i)
	}
	wg.Wait()
	close(wins)

	var winners int
	for won := range wins {
		if won {
			winners++
		}
	}
	require.Equal(t, 1, winners)

	got, err := store.Get(ctx, claim.ID)
	require.NoError(t, err)
	require.True(t, got.Status.Terminal())
	require.NotNil(t, got.DecidedAt)
	require.NotNil(t, got.DecidedBy)
}

func TestPostgresStoreDuplicateActiveClaim(t *testing.T) {
	pc := containers.NewPostgresContainer(t)
	ctx := context.Background()
	require.NoError(t, postgres.EnsureSchema(ctx, pc.DB))

	store := NewPostgresStore(pc.DB)

	principal := uuid.New()
	_, err := pc.DB.ExecContext(ctx,
		`INSERT INTO principals (id, email, role) VALUES ($1, $2, 'standard')`,
		principal, "buyer2@example.com")
	require.NoError(t, err)

	first := Claim{
		ID: uuid.New(), PrincipalID: principal, ResourceID: "course-202",
		TransactionRef: "REF00001", Status: StatusPending, SubmittedAt: time.Now().UTC(),
	}
	require.NoError(t, store.Create(ctx, first))

	dup := first
	dup.ID = uuid.New()
	dup.TransactionRef = "REF00002"
	require.ErrorIs(t, store.Create(ctx, dup), sentinel.ErrConflict)

	// Once decided, the pair frees up.
	_, transitioned, err := store.Decide(ctx, first.ID, StatusRejected, uuid.New(), "no payment", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, transitioned)
	require.NoError(t, store.Create(ctx, dup))
}
