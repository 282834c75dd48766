package entity

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/internal/util"
	"github.com/teranos/cronctl/pulse/clock"
)

const entityColumns = `id, desired_at, status, finalized_at, created_at, updated_at`

// SQLiteStore is the SQLite-backed Store.
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates an entity store over a migrated database.
func NewSQLiteStore(conn *sql.DB, clk clock.Clock) *SQLiteStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &SQLiteStore{db: conn, clock: clk}
}

// Schedule creates the entity or moves its desired time, returning it to
// the scheduled state.
func (s *SQLiteStore) Schedule(ctx context.Context, id string, desiredAt time.Time) (*Entity, error) {
	if id == "" {
		return nil, errors.New("entity id is required")
	}
	now := s.clock.Now().Unix()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, desired_at, status, created_at, updated_at)
		VALUES (?, ?, 'scheduled', ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			desired_at = excluded.desired_at,
			status = 'scheduled',
			finalized_at = NULL,
			updated_at = excluded.updated_at
	`, id, desiredAt.Unix(), now, now)
	if err != nil {
		return nil, errors.WithDetailf(
			errors.MarkUnavailable(err, "failed to schedule entity"),
			"id=%s", id)
	}
	return s.Get(ctx, id)
}

// Get returns the entity with the given ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("entity not found: %s", id)
	}
	if err != nil {
		return nil, errors.MarkUnavailable(err, "failed to get entity")
	}
	return e, nil
}

// Query returns entities matching f, ordered by desired time then ID.
func (s *SQLiteStore) Query(ctx context.Context, f Filter, limit, offset int) ([]*Entity, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.DueBy != nil {
		where = append(where, "desired_at <= ?")
		args = append(args, f.DueBy.Unix())
	}
	if f.After != nil {
		where = append(where, "desired_at > ?")
		args = append(args, f.After.Unix())
	}

	query := `SELECT ` + entityColumns + ` FROM entities`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY desired_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.MarkUnavailable(err, "failed to query entities")
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, errors.MarkUnavailable(err, "failed to scan entity")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.MarkUnavailable(err, "failed to iterate entities")
	}
	return out, nil
}

// Finalize marks a scheduled entity finalized. Already-finalized entities
// are left untouched; a missing entity yields ErrNotFound.
func (s *SQLiteStore) Finalize(ctx context.Context, id string) error {
	now := s.clock.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE entities
		SET status = 'finalized', finalized_at = ?, updated_at = ?
		WHERE id = ? AND status = 'scheduled'
	`, now, now, id)
	if err != nil {
		return errors.WithDetailf(
			errors.MarkUnavailable(err, "failed to finalize entity"),
			"id=%s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.MarkUnavailable(err, "failed to read affected rows")
	}
	if n > 0 {
		return nil
	}

	// Nothing changed: either already finalized or missing
	_, err = s.Get(ctx, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row rowScanner) (*Entity, error) {
	var (
		e           Entity
		desiredAt   int64
		finalizedAt sql.NullInt64
		createdAt   int64
		updatedAt   int64
	)
	if err := row.Scan(&e.ID, &desiredAt, &e.Status, &finalizedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	e.DesiredAt = util.FromUnix(desiredAt)
	e.FinalizedAt = util.FromNullUnix(finalizedAt)
	e.CreatedAt = util.FromUnix(createdAt)
	e.UpdatedAt = util.FromUnix(updatedAt)
	return &e, nil
}
