package audit

import "context"

// Store is the persistence contract for standalone audit records.
// Mutations that must be atomic with their config change pass the record
// into the mutating store method instead.
type Store interface {
	// Insert appends an audit record. Records are immutable once written.
	Insert(ctx context.Context, rec *Record) error

	// List returns the most recent records, newest first, up to limit.
	List(ctx context.Context, limit int) ([]Record, error)
}
