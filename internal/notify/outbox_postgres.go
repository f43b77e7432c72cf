package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"vouch/pkg/platform/sentinel"
	txcontext "vouch/pkg/platform/tx"
)

// PostgresOutbox persists notification obligations. Enqueue honors a
// transaction carried in ctx so the row commits atomically with the decision
// that produced it.
type PostgresOutbox struct {
	db *sql.DB
}

func NewPostgresOutbox(db *sql.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (o *PostgresOutbox) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return o.db
}

// eventBody is the JSONB payload column: the fields not broken out into
// their own columns.
type eventBody struct {
	ResourceID string            `json:"resource_id"`
	Payload    map[string]string `json:"payload,omitempty"`
}

func (o *PostgresOutbox) Enqueue(ctx context.Context, ev Event, now time.Time) error {
	body, err := json.Marshal(eventBody{ResourceID: ev.ResourceID, Payload: ev.Payload})
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	query := `
		INSERT INTO notification_outbox (id, kind, claim_id, recipient, payload, created_at, next_attempt, state, channel_status)
		VALUES ($1, $2, $3, $4, $5, $6, $6, 'pending', '{}'::jsonb)
	`
	_, err = o.execer(ctx).ExecContext(ctx, query, ev.ID, string(ev.Kind), ev.ClaimID, ev.Recipient, body, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (o *PostgresOutbox) Due(ctx context.Context, now time.Time, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, kind, claim_id, recipient, payload, created_at, attempts, next_attempt, state, channel_status
		FROM notification_outbox
		WHERE state = 'pending' AND next_attempt <= $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := o.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due notifications: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec        Record
			kind       string
			state      string
			bodyJSON   []byte
			statusJSON []byte
		)
		if err := rows.Scan(&rec.Event.ID, &kind, &rec.Event.ClaimID, &rec.Event.Recipient,
			&bodyJSON, &rec.CreatedAt, &rec.Attempts, &rec.NextAttempt, &state, &statusJSON); err != nil {
			return nil, fmt.Errorf("scan notification record: %w", err)
		}
		rec.Event.Kind = Kind(kind)
		rec.State = State(state)

		var body eventBody
		if err := json.Unmarshal(bodyJSON, &body); err != nil {
			return nil, fmt.Errorf("unmarshal notification payload: %w", err)
		}
		rec.Event.ResourceID = body.ResourceID
		rec.Event.Payload = body.Payload

		rec.ChannelStatus = make(map[string]DeliveryStatus)
		if len(statusJSON) > 0 {
			if err := json.Unmarshal(statusJSON, &rec.ChannelStatus); err != nil {
				return nil, fmt.Errorf("unmarshal channel status: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (o *PostgresOutbox) Update(ctx context.Context, rec Record) error {
	statusJSON, err := json.Marshal(rec.ChannelStatus)
	if err != nil {
		return fmt.Errorf("marshal channel status: %w", err)
	}

	query := `
		UPDATE notification_outbox
		SET attempts = $2, next_attempt = $3, state = $4, channel_status = $5
		WHERE id = $1
	`
	res, err := o.db.ExecContext(ctx, query, rec.Event.ID, rec.Attempts, rec.NextAttempt, string(rec.State), statusJSON)
	if err != nil {
		return fmt.Errorf("update notification record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update notification record: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
