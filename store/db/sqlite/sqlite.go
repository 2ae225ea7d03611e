// Package sqlite implements the store driver on sqlite.
package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/platewise/platewise/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_session (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL DEFAULT 0,
	guest_id TEXT NOT NULL DEFAULT '',
	thread_id TEXT NOT NULL DEFAULT '',
	transcript TEXT NOT NULL DEFAULT '[]',
	follow_ups TEXT NOT NULL DEFAULT '[]',
	updated_ts BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_chat_session_updated_ts ON chat_session (updated_ts);
`

// Driver is the sqlite store driver.
type Driver struct {
	db *sql.DB
}

// NewDriver opens (or creates) the database at dsn.
func NewDriver(dsn string) (*Driver, error) {
	db, err := sql.Open("sqlite", dsn+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "open sqlite db %s", dsn)
	}
	return &Driver{db: db}, nil
}

// GetDB exposes the raw handle for tests.
func (d *Driver) GetDB() *sql.DB {
	return d.db
}

func (d *Driver) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schema)
	return errors.Wrap(err, "apply schema")
}

func (d *Driver) UpsertSession(ctx context.Context, row *store.SessionRow) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO chat_session (id, user_id, guest_id, thread_id, transcript, follow_ups, updated_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			guest_id = excluded.guest_id,
			thread_id = excluded.thread_id,
			transcript = excluded.transcript,
			follow_ups = excluded.follow_ups,
			updated_ts = excluded.updated_ts`,
		row.ID, row.UserID, row.GuestID, row.ThreadID, row.Transcript, row.FollowUps, row.UpdatedTs,
	)
	return errors.Wrap(err, "upsert session")
}

func (d *Driver) GetSession(ctx context.Context, id string) (*store.SessionRow, error) {
	row := &store.SessionRow{}
	err := d.db.QueryRowContext(ctx, `
		SELECT id, user_id, guest_id, thread_id, transcript, follow_ups, updated_ts
		FROM chat_session WHERE id = ?`, id,
	).Scan(&row.ID, &row.UserID, &row.GuestID, &row.ThreadID, &row.Transcript, &row.FollowUps, &row.UpdatedTs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get session")
	}
	return row, nil
}

func (d *Driver) DeleteSessionsBefore(ctx context.Context, updatedTs int64) (int64, error) {
	result, err := d.db.ExecContext(ctx, `DELETE FROM chat_session WHERE updated_ts < ?`, updatedTs)
	if err != nil {
		return 0, errors.Wrap(err, "delete stale sessions")
	}
	return result.RowsAffected()
}

func (d *Driver) Close() error {
	return d.db.Close()
}
