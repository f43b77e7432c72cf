package purchase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"vouch/pkg/platform/sentinel"
	txcontext "vouch/pkg/platform/tx"
)

// PostgresStore persists purchase claims in PostgreSQL. This store is pure
// I/O; authorization and audit belong to the approval engine.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// querier lets Decide participate in the engine's transaction so the claim
// row, the audit entry, and the outbox row commit together.
func (s *PostgresStore) querier(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const claimColumns = `id, principal_id, resource_id, transaction_ref, status, submitted_at, decided_at, decided_by, rejection_reason`

func (s *PostgresStore) Create(ctx context.Context, claim Claim) error {
	query := `
		INSERT INTO purchase_claims (id, principal_id, resource_id, transaction_ref, status, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.querier(ctx).ExecContext(ctx, query,
		claim.ID, claim.PrincipalID, claim.ResourceID, claim.TransactionRef, string(claim.Status), claim.SubmittedAt)
	if err != nil {
		// The partial unique index on (principal_id, resource_id) WHERE
		// status = 'pending' enforces one active claim per pair.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create claim: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (Claim, error) {
	query := fmt.Sprintf(`SELECT %s FROM purchase_claims WHERE id = $1`, claimColumns)
	return scanClaim(s.querier(ctx).QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]Claim, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM purchase_claims WHERE status = $1 ORDER BY submitted_at ASC LIMIT $2`, claimColumns)
	rows, err := s.querier(ctx).QueryContext(ctx, query, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	defer rows.Close()

	var claims []Claim
	for rows.Next() {
		claim, err := scanClaimRow(rows)
		if err != nil {
			return nil, err
		}
		claims = append(claims, claim)
	}
	return claims, rows.Err()
}

// Decide is a single conditional UPDATE: the transition happens iff the row
// is still pending. Losing callers get the stored decision back unchanged.
func (s *PostgresStore) Decide(ctx context.Context, id uuid.UUID, to Status, decidedBy uuid.UUID, reason string, at time.Time) (Claim, bool, error) {
	q := s.querier(ctx)

	query := fmt.Sprintf(`
		UPDATE purchase_claims
		SET status = $2, decided_by = $3, decided_at = $4, rejection_reason = $5
		WHERE id = $1 AND status = 'pending'
		RETURNING %s
	`, claimColumns)
	claim, err := scanClaim(q.QueryRowContext(ctx, query, id, string(to), decidedBy, at, reason))
	if err == nil {
		return claim, true, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return Claim{}, false, err
	}

	// No pending row matched: either the claim is already decided or it
	// doesn't exist. Fetch to distinguish.
	current, err := s.Get(ctx, id)
	if err != nil {
		return Claim{}, false, err
	}
	return current, false, nil
}

func scanClaim(row *sql.Row) (Claim, error) {
	var (
		c         Claim
		status    string
		decidedAt sql.NullTime
		decidedBy sql.Null[uuid.UUID]
	)
	err := row.Scan(&c.ID, &c.PrincipalID, &c.ResourceID, &c.TransactionRef, &status,
		&c.SubmittedAt, &decidedAt, &decidedBy, &c.RejectionReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Claim{}, sentinel.ErrNotFound
		}
		return Claim{}, fmt.Errorf("scan claim: %w", err)
	}
	c.Status = Status(status)
	if decidedAt.Valid {
		c.DecidedAt = &decidedAt.Time
	}
	if decidedBy.Valid {
		c.DecidedBy = &decidedBy.V
	}
	return c, nil
}

func scanClaimRow(rows *sql.Rows) (Claim, error) {
	var (
		c         Claim
		status    string
		decidedAt sql.NullTime
		decidedBy sql.Null[uuid.UUID]
	)
	err := rows.Scan(&c.ID, &c.PrincipalID, &c.ResourceID, &c.TransactionRef, &status,
		&c.SubmittedAt, &decidedAt, &decidedBy, &c.RejectionReason)
	if err != nil {
		return Claim{}, fmt.Errorf("scan claim: %w", err)
	}
	c.Status = Status(status)
	if decidedAt.Valid {
		c.DecidedAt = &decidedAt.Time
	}
	if decidedBy.Valid {
		c.DecidedBy = &decidedBy.V
	}
	return c, nil
}
