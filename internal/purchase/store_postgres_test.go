package purchase

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func claimRows(c Claim) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "principal_id", "resource_id", "transaction_ref", "status",
		"submitted_at", "decided_at", "decided_by", "rejection_reason",
	})
	var decidedAt any
	if c.DecidedAt != nil {
		decidedAt = *c.DecidedAt
	}
	var decidedBy any
	if c.DecidedBy != nil {
		decidedBy = *c.DecidedBy
	}
	rows.AddRow(c.ID, c.PrincipalID, c.ResourceID, c.TransactionRef, string(c.Status),
		c.SubmittedAt, decidedAt, decidedBy, c.RejectionReason)
	return rows
}

func TestPostgresStoreDecideTransitionsPendingClaim(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	claim := pendingClaim(uuid.New())
	admin := uuid.New()
	decidedAt := claimTime().Add(time.Hour)

	approved := claim
	approved.Status = StatusApproved
	approved.DecidedAt = &decidedAt
	approved.DecidedBy = &admin

	mock.ExpectQuery(`(?s)UPDATE purchase_claims\s+SET status = \$2.*WHERE id = \$1 AND status = 'pending'`).
		WithArgs(claim.ID, "approved", admin, decidedAt, "").
		WillReturnRows(claimRows(approved))

	got, transitioned, err := store.Decide(context.Background(), claim.ID, StatusApproved, admin, "", decidedAt)
	require.NoError(t, err)
	require.True(t, transitioned)
	require.Equal(t, StatusApproved, got.Status)
	require.Equal(t, admin, *got.DecidedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreDecideLosingCallFetchesStoredDecision(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	claim := pendingClaim(uuid.New())
	adminA := uuid.New()
	decidedAt := claimTime()

	stored := claim
	stored.Status = StatusApproved
	stored.DecidedAt = &decidedAt
	stored.DecidedBy = &adminA

	// The conditional UPDATE matches no row...
	mock.ExpectQuery(`UPDATE purchase_claims\s+SET status = \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	// ...so the store fetches the current decision.
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT ` + claimColumns + ` FROM purchase_claims WHERE id = $1`)).
		WithArgs(claim.ID).
		WillReturnRows(claimRows(stored))

	got, transitioned, err := store.Decide(context.Background(), claim.ID, StatusRejected, uuid.New(), "late", decidedAt)
	require.NoError(t, err)
	require.False(t, transitioned)
	require.Equal(t, StatusApproved, got.Status)
	require.Equal(t, adminA, *got.DecidedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreListByStatus(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	claim := pendingClaim(uuid.New())

	mock.ExpectQuery(`SELECT .* FROM purchase_claims WHERE status = \$1 ORDER BY submitted_at ASC LIMIT \$2`).
		WithArgs("pending", 100).
		WillReturnRows(claimRows(claim))

	claims, err := store.ListByStatus(context.Background(), StatusPending, 0)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	require.Equal(t, claim.ID, claims[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
