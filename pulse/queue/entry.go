// Package queue persists deferred executions ("entries").
//
// An entry is one pending or completed run of an action at a timestamp.
// At most one pending entry may exist per (action, instance key); the store
// enforces that with a partial unique index and reports violations as
// errors.ErrConflict.
package queue

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"
)

// Status is the lifecycle state of an entry.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Schedule is the recurrence recorded on an entry. The zero value is a
// one-off.
type Schedule struct {
	Cadence  string
	Interval time.Duration
}

// Recurring reports whether the schedule names a cadence.
func (s Schedule) Recurring() bool {
	return s.Cadence != ""
}

// Entry is one execution of an action.
type Entry struct {
	ID          string     `json:"id"`
	Action      string     `json:"action"`
	InstanceKey string     `json:"instance_key"`
	Args        []string   `json:"args"`
	Timestamp   time.Time  `json:"timestamp"`
	Cadence     string     `json:"cadence,omitempty"`
	Interval    int64      `json:"interval_seconds,omitempty"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Schedule returns the recurrence recorded on the entry.
func (e *Entry) Schedule() Schedule {
	return Schedule{Cadence: e.Cadence, Interval: time.Duration(e.Interval) * time.Second}
}

// InstanceKey derives the instance key for an argument list: the hex md5 of
// its JSON encoding. Nil and empty lists share one key.
func InstanceKey(args []string) string {
	sum := md5.Sum(encodeArgs(args))
	return hex.EncodeToString(sum[:])
}

func encodeArgs(args []string) []byte {
	if args == nil {
		args = []string{}
	}
	// Marshalling a []string cannot fail
	b, _ := json.Marshal(args)
	return b
}

func decodeArgs(raw string) ([]string, error) {
	var args []string
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}
