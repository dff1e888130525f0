// Package store persists authored records in SQLite.
package store

import (
	"context"

	"github.com/fincraft/ledgerform/internal/types"
)

// Filter narrows List results. Zero value matches everything.
type Filter struct {
	TypeID    string
	ParentID  string
	Lifecycle types.Lifecycle
}

// Store is the record persistence interface.
type Store interface {
	// Create assigns an ID and timestamps and inserts the record.
	Create(ctx context.Context, rec types.Record) (*types.Record, error)

	// Update replaces a record's mutable fields. Returns ErrNotFound when
	// the record no longer exists.
	Update(ctx context.Context, rec types.Record) (*types.Record, error)

	// Delete removes a record. Only incomplete records may be deleted;
	// anything else returns ErrNotDeletable.
	Delete(ctx context.Context, id string) error

	// Get retrieves a record by ID.
	Get(ctx context.Context, id string) (*types.Record, error)

	// List retrieves records matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]types.Record, error)

	// Count returns the total number of records.
	Count(ctx context.Context) (int64, error)
}
