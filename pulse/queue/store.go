package queue

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/cronctl/db"
	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/pulse/clock"
)

// Store is the queue contract the reconciliation passes depend on.
type Store interface {
	// FindPending returns the pending entry for (action, instanceKey), or
	// nil when there is none.
	FindPending(ctx context.Context, action, instanceKey string) (*Entry, error)
	// Create enqueues a pending entry. A pending duplicate yields ErrConflict.
	Create(ctx context.Context, ts time.Time, action string, sched Schedule, args []string) (*Entry, error)
	// Cancel retires the pending entry for (action, instanceKey), if any.
	Cancel(ctx context.Context, action, instanceKey string) error
	// PurgeCompleted deletes completed entries finished at or before the
	// cutoff and returns how many were removed.
	PurgeCompleted(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteStore is the SQLite-backed Store. Timestamps are stored as epoch
// seconds.
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a queue store over a migrated database.
func NewSQLiteStore(conn *sql.DB, clk clock.Clock) *SQLiteStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &SQLiteStore{db: conn, clock: clk}
}

// FindPending returns the pending entry for (action, instanceKey) or nil.
func (s *SQLiteStore) FindPending(ctx context.Context, action, instanceKey string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries
		WHERE action = ? AND instance_key = ? AND status = 'pending'`

	e, err := scanEntry(s.db.QueryRowContext(ctx, query, action, instanceKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithDetailf(
			errors.MarkUnavailable(err, "failed to find pending entry"),
			"action=%s instance_key=%s", action, instanceKey)
	}
	return e, nil
}

// Get returns the entry with the given ID, in any status.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries WHERE id = ?`

	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("queue entry not found: %s", id)
	}
	if err != nil {
		return nil, errors.MarkUnavailable(err, "failed to get entry")
	}
	return e, nil
}

// Create enqueues a pending entry at ts, truncated to the second.
func (s *SQLiteStore) Create(ctx context.Context, ts time.Time, action string, sched Schedule, args []string) (*Entry, error) {
	if action == "" {
		return nil, errors.New("action is required")
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	if args == nil {
		args = []string{}
	}
	e := &Entry{
		ID:          uuid.NewString(),
		Action:      action,
		InstanceKey: InstanceKey(args),
		Args:        args,
		Timestamp:   ts.UTC().Truncate(time.Second),
		Cadence:     sched.Cadence,
		Interval:    int64(sched.Interval / time.Second),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	query := `
		INSERT INTO queue_entries (
			id, action, instance_key, args, timestamp,
			cadence, interval_seconds, status,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Action,
		e.InstanceKey,
		string(encodeArgs(e.Args)),
		e.Timestamp.Unix(),
		e.Cadence,
		e.Interval,
		e.Status,
		e.CreatedAt.Unix(),
		e.UpdatedAt.Unix(),
	)
	if db.IsUniqueViolation(err) {
		return nil, errors.WithDetailf(
			errors.MarkConflict(err, "pending entry already exists"),
			"action=%s instance_key=%s", action, e.InstanceKey)
	}
	if err != nil {
		return nil, errors.WithDetailf(
			errors.MarkUnavailable(err, "failed to create entry"),
			"action=%s timestamp=%d", action, e.Timestamp.Unix())
	}
	return e, nil
}

// Cancel retires the pending entry for (action, instanceKey) by marking it
// completed, so the purger removes it later. Cancelling nothing is not an error.
func (s *SQLiteStore) Cancel(ctx context.Context, action, instanceKey string) error {
	now := s.clock.Now().Unix()
	query := `
		UPDATE queue_entries
		SET status = 'completed', completed_at = ?, updated_at = ?
		WHERE action = ? AND instance_key = ? AND status = 'pending'
	`
	if _, err := s.db.ExecContext(ctx, query, now, now, action, instanceKey); err != nil {
		return errors.WithDetailf(
			errors.MarkUnavailable(err, "failed to cancel entry"),
			"action=%s instance_key=%s", action, instanceKey)
	}
	return nil
}

// Complete marks a pending entry completed by ID. Returns ErrNotFound when
// the entry is missing or already completed, which lets concurrent runners
// claim an entry exactly once.
func (s *SQLiteStore) Complete(ctx context.Context, id string) error {
	now := s.clock.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = 'completed', completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, now, now, id)
	if err != nil {
		return errors.MarkUnavailable(err, "failed to complete entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.MarkUnavailable(err, "failed to read affected rows")
	}
	if n == 0 {
		return errors.NewNotFoundError("no pending entry with id %s", id)
	}
	return nil
}

// PurgeCompleted deletes completed entries with completed_at <= before.
func (s *SQLiteStore) PurgeCompleted(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM queue_entries WHERE status = 'completed' AND completed_at <= ?`,
		before.Unix())
	if err != nil {
		return 0, errors.MarkUnavailable(err, "failed to purge completed entries")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.MarkUnavailable(err, "failed to read affected rows")
	}
	return n, nil
}

// ListDue returns pending entries with timestamp <= now, oldest first.
// Entries whose action is in priority sort ahead of all others, so a backlog
// of ordinary entries cannot push them past the limit.
func (s *SQLiteStore) ListDue(ctx context.Context, now time.Time, limit int, priority ...string) ([]*Entry, error) {
	order := `ORDER BY timestamp ASC, created_at ASC`
	args := []interface{}{now.Unix()}
	if len(priority) > 0 {
		order = `ORDER BY CASE WHEN action IN (?` + strings.Repeat(`, ?`, len(priority)-1) +
			`) THEN 0 ELSE 1 END, timestamp ASC, created_at ASC`
		for _, action := range priority {
			args = append(args, action)
		}
	}
	args = append(args, limit)

	query := `SELECT ` + entryColumns + ` FROM queue_entries
		WHERE status = 'pending' AND timestamp <= ?
		` + order + `
		LIMIT ?`
	return s.list(ctx, query, args...)
}

// ListPending returns pending entries ordered by timestamp.
func (s *SQLiteStore) ListPending(ctx context.Context, limit int) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM queue_entries
		WHERE status = 'pending'
		ORDER BY timestamp ASC, action ASC
		LIMIT ?`
	return s.list(ctx, query, limit)
}

func (s *SQLiteStore) list(ctx context.Context, query string, args ...interface{}) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.MarkUnavailable(err, "failed to list entries")
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, errors.MarkUnavailable(err, "failed to scan entry")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.MarkUnavailable(err, "failed to iterate entries")
	}
	return entries, nil
}
