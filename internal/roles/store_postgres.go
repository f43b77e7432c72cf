package roles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	emailpkg "vouch/pkg/email"
	"vouch/pkg/platform/sentinel"
)

// PostgresStore persists principals in PostgreSQL. This store is pure I/O;
// fail-closed policy belongs in the service.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) FindByID(ctx context.Context, id uuid.UUID) (Principal, error) {
	query := `SELECT id, email, role FROM principals WHERE id = $1`
	return scanPrincipal(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (Principal, error) {
	query := `SELECT id, email, role FROM principals WHERE email = $1`
	return scanPrincipal(s.db.QueryRowContext(ctx, query, emailpkg.Normalize(email)))
}

func (s *PostgresStore) Save(ctx context.Context, principal Principal) error {
	query := `
		INSERT INTO principals (id, email, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, role = EXCLUDED.role
	`
	_, err := s.db.ExecContext(ctx, query, principal.ID, emailpkg.Normalize(principal.Email), string(principal.Role))
	if err != nil {
		return fmt.Errorf("save principal: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateRole(ctx context.Context, id uuid.UUID, role Role) error {
	res, err := s.db.ExecContext(ctx, `UPDATE principals SET role = $2 WHERE id = $1`, id, string(role))
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update role: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func scanPrincipal(row *sql.Row) (Principal, error) {
	var (
		p    Principal
		role string
	)
	if err := row.Scan(&p.ID, &p.Email, &role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Principal{}, sentinel.ErrNotFound
		}
		return Principal{}, fmt.Errorf("scan principal: %w", err)
	}
	p.Role = Role(role)
	return p, nil
}
