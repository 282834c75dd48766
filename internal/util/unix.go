package util

import (
	"database/sql"
	"time"
)

// FromUnix converts epoch seconds to a UTC time.
func FromUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// FromNullUnix converts a nullable epoch-seconds column value to an optional time.
func FromNullUnix(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := FromUnix(n.Int64)
	return &t
}
