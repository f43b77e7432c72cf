package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	txcontext "vouch/pkg/platform/tx"
)

// PostgresStore persists audit events. The only statements it issues are
// INSERT and SELECT (plus the mirror bookkeeping flag); the table has no
// update or delete path through the application.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// execer lets an Append participate in a caller's transaction so the audit
// entry commits atomically with the state transition it records.
func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	metadata := event.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}

	query := `
		INSERT INTO audit_events (id, occurred_at, actor_id, action, subject_id, decision, reason, request_id, client_ip, user_agent, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		event.ID,
		event.Timestamp,
		event.ActorID,
		string(event.Action),
		event.SubjectID,
		event.Decision,
		event.Reason,
		event.RequestID,
		event.ClientIP,
		event.UserAgent,
		metaJSON,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

const selectColumns = `id, occurred_at, actor_id, action, subject_id, decision, reason, request_id, client_ip, user_agent, metadata`

func (s *PostgresStore) ListByActor(ctx context.Context, actorID string, limit int) ([]Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_events WHERE actor_id = $1 ORDER BY id DESC LIMIT $2`, selectColumns)
	rows, err := s.db.QueryContext(ctx, query, actorID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit events by actor: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_events ORDER BY id DESC LIMIT $1`, selectColumns)
	rows, err := s.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list recent audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) NextUnmirrored(ctx context.Context, limit int) ([]Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM audit_events WHERE mirrored = FALSE ORDER BY id ASC LIMIT $1`, selectColumns)
	rows, err := s.db.QueryContext(ctx, query, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list unmirrored audit events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) MarkMirrored(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE audit_events SET mirrored = TRUE WHERE id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("mark audit events mirrored: %w", err)
	}
	return nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func scanEvents(rows *sql.Rows) ([]Event, error) {
	var events []Event
	for rows.Next() {
		var (
			e        Event
			action   string
			metaJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.ActorID, &action, &e.SubjectID,
			&e.Decision, &e.Reason, &e.RequestID, &e.ClientIP, &e.UserAgent, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		e.Action = Action(action)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal audit metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
