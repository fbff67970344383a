package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLRepo appends events to the call_events table. It never updates or
// deletes rows.
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo {
	return &SQLRepo{db: db}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS call_events (
  id         TEXT PRIMARY KEY,
  deal_id    TEXT NOT NULL,
  type       TEXT NOT NULL,
  actor_uid  TEXT NOT NULL DEFAULT '',
  ip_address TEXT NOT NULL DEFAULT '',
  status     TEXT NOT NULL DEFAULT '',
  message    TEXT NOT NULL DEFAULT '',
  metadata   TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS call_events_deal_id_idx ON call_events (deal_id, created_at)`,
}

func (r *SQLRepo) Migrate(ctx context.Context) error {
	for _, q := range schema {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("audit: migrate: %w", err)
		}
	}
	return nil
}

func (r *SQLRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_events (id, deal_id, type, actor_uid, ip_address, status, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.DealID,
		string(e.Type),
		e.ActorUID,
		e.IPAddress,
		e.Status,
		e.Message,
		e.Metadata,
		e.CreatedAt.UnixMilli(),
	)
	return err
}

// ListByDeal returns the events of one call, oldest first.
func (r *SQLRepo) ListByDeal(ctx context.Context, dealID string) ([]Event, error) {
	const q = `
SELECT id, deal_id, type, actor_uid, ip_address, status, message, metadata, created_at
FROM call_events
WHERE deal_id = $1
ORDER BY created_at ASC, id ASC
`
	rows, err := r.db.QueryContext(ctx, q, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e         Event
			typ       string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.DealID, &typ, &e.ActorUID, &e.IPAddress, &e.Status, &e.Message, &e.Metadata, &createdAt); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
