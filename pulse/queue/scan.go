package queue

import (
	"database/sql"

	"github.com/teranos/cronctl/errors"
	"github.com/teranos/cronctl/internal/util"
)

// entryColumns is the standard SELECT list, in scanEntry order.
const entryColumns = `id, action, instance_key, args, timestamp, cadence,
	interval_seconds, status, created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e           Entry
		rawArgs     string
		timestamp   int64
		createdAt   int64
		updatedAt   int64
		completedAt sql.NullInt64
	)
	err := row.Scan(
		&e.ID,
		&e.Action,
		&e.InstanceKey,
		&rawArgs,
		&timestamp,
		&e.Cadence,
		&e.Interval,
		&e.Status,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	args, err := decodeArgs(rawArgs)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode args for entry %s", e.ID)
	}
	e.Args = args
	e.Timestamp = util.FromUnix(timestamp)
	e.CreatedAt = util.FromUnix(createdAt)
	e.UpdatedAt = util.FromUnix(updatedAt)
	e.CompletedAt = util.FromNullUnix(completedAt)
	return &e, nil
}
