package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"call-signaling/pkg/utils"
)

// SQLRepo persists sessions in a single "calls" table, one row per deal id.
//
// Timestamps are stored as unix milliseconds so the same schema and queries
// run on Postgres (pgx) and SQLite (modernc). Placeholders appear in
// ascending order in every statement for the same reason.
type SQLRepo struct {
	db      *sql.DB
	dialect utils.Dialect
	clock   func() time.Time
}

func NewSQLRepo(db *sql.DB, dialect utils.Dialect) *SQLRepo {
	return &SQLRepo{db: db, dialect: dialect, clock: time.Now}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS calls (
  deal_id             TEXT PRIMARY KEY,
  status              TEXT NOT NULL,
  channel_name        TEXT NOT NULL,
  caller_identity     TEXT NOT NULL,
  receiver_identity   TEXT NOT NULL,
  caller_name         TEXT NOT NULL DEFAULT '',
  caller_numeric_id   BIGINT NOT NULL,
  receiver_numeric_id BIGINT NOT NULL,
  caller_token        TEXT NOT NULL,
  receiver_token      TEXT NOT NULL,
  token_expires_at    BIGINT NOT NULL,
  caller_push_token   TEXT NOT NULL DEFAULT '',
  receiver_push_token TEXT NOT NULL DEFAULT '',
  version             BIGINT NOT NULL,
  created_at          BIGINT NOT NULL,
  updated_at          BIGINT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS calls_status_updated_at_idx ON calls (status, updated_at)`,
}

// Migrate creates the calls table if it does not exist.
func (r *SQLRepo) Migrate(ctx context.Context) error {
	for _, q := range schema {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("calls: migrate: %w", err)
		}
	}
	return nil
}

const selectColumns = `deal_id, status, channel_name, caller_identity, receiver_identity, caller_name,
       caller_numeric_id, receiver_numeric_id, caller_token, receiver_token, token_expires_at,
       caller_push_token, receiver_push_token, version, created_at, updated_at`

func (r *SQLRepo) Create(ctx context.Context, s CallSession) (Change, error) {
	if err := validateSession(s); err != nil {
		return Change{}, err
	}
	now := r.clock().UTC().Truncate(time.Millisecond)
	var out Change

	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		prev, found, err := r.getTx(ctx, tx, s.DealID)
		if err != nil {
			return err
		}
		out = Change{DealID: s.DealID}
		if found {
			if prev.Status.Terminal() {
				return ErrTerminal
			}
			out.Before = &prev
			s.Version = prev.Version + 1
			s.CreatedAt = prev.CreatedAt
		} else {
			s.Version = 1
			s.CreatedAt = s.CreatedAt.UTC().Truncate(time.Millisecond)
			if s.CreatedAt.IsZero() {
				s.CreatedAt = now
			}
		}
		s.UpdatedAt = now

		// The WHERE on the conflict branch keeps terminal rows untouched even
		// if a concurrent terminate committed after our read.
		const q = `
INSERT INTO calls (
  deal_id, status, channel_name, caller_identity, receiver_identity, caller_name,
  caller_numeric_id, receiver_numeric_id, caller_token, receiver_token, token_expires_at,
  caller_push_token, receiver_push_token, version, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
ON CONFLICT (deal_id) DO UPDATE SET
  status = EXCLUDED.status,
  channel_name = EXCLUDED.channel_name,
  caller_identity = EXCLUDED.caller_identity,
  receiver_identity = EXCLUDED.receiver_identity,
  caller_name = EXCLUDED.caller_name,
  caller_numeric_id = EXCLUDED.caller_numeric_id,
  receiver_numeric_id = EXCLUDED.receiver_numeric_id,
  caller_token = EXCLUDED.caller_token,
  receiver_token = EXCLUDED.receiver_token,
  token_expires_at = EXCLUDED.token_expires_at,
  caller_push_token = EXCLUDED.caller_push_token,
  receiver_push_token = EXCLUDED.receiver_push_token,
  version = EXCLUDED.version,
  updated_at = EXCLUDED.updated_at
WHERE calls.status NOT IN ('ended', 'declined', 'canceled')
`
		res, err := tx.ExecContext(ctx, q,
			s.DealID,
			string(s.Status),
			s.ChannelName,
			s.CallerIdentity,
			s.ReceiverIdentity,
			s.CallerName,
			int64(s.CallerNumericID),
			int64(s.ReceiverNumericID),
			s.CallerToken,
			s.ReceiverToken,
			toMillis(s.TokenExpiresAt),
			s.CallerPushToken,
			s.ReceiverPushToken,
			s.Version,
			toMillis(s.CreatedAt),
			toMillis(s.UpdatedAt),
		)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrTerminal
		}
		out.After = s
		return nil
	})
	if err != nil {
		return Change{}, err
	}
	return out, nil
}

func (r *SQLRepo) Transition(ctx context.Context, dealID string, to Status) (Change, error) {
	if dealID == "" || !to.Valid() {
		return Change{}, ErrInvalidArgument
	}
	now := r.clock().UTC().Truncate(time.Millisecond)
	var out Change

	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		prev, found, err := r.getTx(ctx, tx, dealID)
		if err != nil {
			return err
		}
		if !found {
			return ErrNotFound
		}
		if prev.Status.Terminal() {
			return ErrTerminal
		}

		next := prev
		next.Status = to
		next.Version = prev.Version + 1
		next.UpdatedAt = now

		const q = `
UPDATE calls
SET status = $1, version = $2, updated_at = $3
WHERE deal_id = $4 AND status NOT IN ('ended', 'declined', 'canceled')
`
		res, err := tx.ExecContext(ctx, q, string(next.Status), next.Version, toMillis(next.UpdatedAt), dealID)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return ErrTerminal
		}
		out = Change{DealID: dealID, Before: &prev, After: next}
		return nil
	})
	if err != nil {
		return Change{}, err
	}
	return out, nil
}

func (r *SQLRepo) Get(ctx context.Context, dealID string) (CallSession, error) {
	q := `SELECT ` + selectColumns + ` FROM calls WHERE deal_id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, dealID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, ErrNotFound
		}
		return CallSession{}, err
	}
	return s, nil
}

func (r *SQLRepo) PurgeTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
DELETE FROM calls
WHERE status IN ('ended', 'declined', 'canceled') AND updated_at < $1
`
	res, err := r.db.ExecContext(ctx, q, toMillis(cutoff))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// getTx reads the current row, locking it on Postgres to serialize writers
// per deal id. SQLite serializes write transactions on its own.
func (r *SQLRepo) getTx(ctx context.Context, tx *sql.Tx, dealID string) (CallSession, bool, error) {
	q := r.dialect.ForUpdate(`SELECT ` + selectColumns + ` FROM calls WHERE deal_id = $1`)
	s, err := scanSession(tx.QueryRowContext(ctx, q, dealID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallSession{}, false, nil
		}
		return CallSession{}, false, err
	}
	return s, true, nil
}

func scanSession(row *sql.Row) (CallSession, error) {
	var (
		s                               CallSession
		status                          string
		callerNumeric, receiverNumeric  int64
		expiresAt, createdAt, updatedAt int64
	)
	if err := row.Scan(
		&s.DealID,
		&status,
		&s.ChannelName,
		&s.CallerIdentity,
		&s.ReceiverIdentity,
		&s.CallerName,
		&callerNumeric,
		&receiverNumeric,
		&s.CallerToken,
		&s.ReceiverToken,
		&expiresAt,
		&s.CallerPushToken,
		&s.ReceiverPushToken,
		&s.Version,
		&createdAt,
		&updatedAt,
	); err != nil {
		return CallSession{}, err
	}
	s.Status = Status(status)
	s.CallerNumericID = uint32(callerNumeric)
	s.ReceiverNumericID = uint32(receiverNumeric)
	s.TokenExpiresAt = fromMillis(expiresAt)
	s.CreatedAt = fromMillis(createdAt)
	s.UpdatedAt = fromMillis(updatedAt)
	return s, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
