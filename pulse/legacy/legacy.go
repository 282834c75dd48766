// Package legacy manages shared state left behind by the single-process
// execution model: the serialized event blob and its run lock.
package legacy

import (
	"context"
	"database/sql"

	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/pulse/clock"
)

// Keys removed by the daily cleaner.
const (
	KeyEventBlob = "cron"
	KeyRunLock   = "a8c_cron_control_run_events_lock"
)

// Keys returns every key the cleaner removes.
func Keys() []string {
	return []string{KeyEventBlob, KeyRunLock}
}

// Store deletes shared state by key.
type Store interface {
	// Delete removes the given keys and reports how many existed.
	Delete(ctx context.Context, keys ...string) (int64, error)
}

// SQLiteStore keeps shared state in the shared_state table.
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a shared-state store over a migrated database.
func NewSQLiteStore(conn *sql.DB, clk clock.Clock) *SQLiteStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &SQLiteStore{db: conn, clock: clk}
}

// Set writes a value.
func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shared_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, s.clock.Now().Unix())
	if err != nil {
		return errors.MarkUnavailable(err, "failed to write shared state")
	}
	return nil
}

// Get reads a value. Returns ErrNotFound for missing keys.
func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM shared_state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.NewNotFoundError("shared state %q not set", key)
	}
	if err != nil {
		return "", errors.MarkUnavailable(err, "failed to read shared state")
	}
	return value, nil
}

// Delete removes keys. Missing keys are ignored.
func (s *SQLiteStore) Delete(ctx context.Context, keys ...string) (int64, error) {
	var removed int64
	for _, key := range keys {
		res, err := s.db.ExecContext(ctx, `DELETE FROM shared_state WHERE key = ?`, key)
		if err != nil {
			return removed, errors.WithDetailf(
				errors.MarkUnavailable(err, "failed to delete shared state"),
				"key=%s", key)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return removed, errors.MarkUnavailable(err, "failed to read affected rows")
		}
		removed += n
	}
	return removed, nil
}
