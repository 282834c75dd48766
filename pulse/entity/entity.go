// Package entity stores records that carry their own desired execution time,
// such as a post scheduled for future publication.
package entity

import (
	"context"
	"time"
)

// Status is the publication state of an entity.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusFinalized Status = "finalized"
)

// Entity is a record reconciled against the queue.
type Entity struct {
	ID          string     `json:"id"`
	DesiredAt   time.Time  `json:"desired_at"`
	Status      Status     `json:"status"`
	FinalizedAt *time.Time `json:"finalized_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Filter selects entities for Query. Zero fields do not filter.
type Filter struct {
	Status Status
	// DueBy keeps entities with DesiredAt <= DueBy.
	DueBy *time.Time
	// After keeps entities with DesiredAt > After.
	After *time.Time
}

// Store is the entity contract the reconciliation passes depend on.
type Store interface {
	// Query returns matching entities ordered by DesiredAt, oldest first.
	Query(ctx context.Context, f Filter, limit, offset int) ([]*Entity, error)
	// Finalize marks an entity finalized. Finalizing twice is a no-op.
	Finalize(ctx context.Context, id string) error
}
