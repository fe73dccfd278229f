package store

import (
	"context"
	"time"
)

// MareStore is the record store used by the HTTP layer. Implementations are
// safe for concurrent use.
type MareStore interface {
	// Create validates and inserts a record, returning its new id.
	Create(ctx context.Context, name string, breed Breed) (string, error)
	// Get returns false when no record has the id.
	Get(ctx context.Context, id string) (Record, bool, error)
	// Update applies name and breed only if the stored ModifiedAt still equals
	// expectedModifiedAt. Conflict and absence are results, not errors.
	Update(ctx context.Context, id, name string, breed Breed, expectedModifiedAt time.Time) (SetResult, error)
	// Remove deletes and returns the prior record; false when it did not exist.
	Remove(ctx context.Context, id string) (Record, bool, error)
	// List returns every record. Use Page for bounded responses.
	List(ctx context.Context) ([]Record, error)
	// Page returns up to PageSize records around cursor, ascending by id.
	Page(ctx context.Context, cursor string, dir Direction) ([]Record, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
	// Ping checks that the storage engine is reachable.
	Ping(ctx context.Context) error
}
