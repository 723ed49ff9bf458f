package source

import (
	"context"

	"github.com/driftline/driftline/internal/domain/audit"
)

// Store is the persistence contract for sources. Admin-initiated mutations
// take the audit record that must be written in the same transaction.
type Store interface {
	// Create inserts the source and its audit record atomically.
	// Returns ErrDuplicateKey if the key is taken.
	Create(ctx context.Context, s *Source, rec *audit.Record) error

	// Update persists the source's mutable fields and the audit record
	// atomically. Returns ErrNotFound if absent.
	Update(ctx context.Context, s *Source, rec *audit.Record) error

	// RotateKey replaces the stored credential hash and writes the audit
	// record atomically; the old credential becomes invalid with the commit.
	RotateKey(ctx context.Context, id, newHash string, rec *audit.Record) (*Source, error)

	// GetByID returns the source, or ErrNotFound.
	GetByID(ctx context.Context, id string) (*Source, error)

	// GetByKey returns the source with the given short key, or ErrNotFound.
	GetByKey(ctx context.Context, key string) (*Source, error)

	// List returns all sources ordered by creation time.
	List(ctx context.Context) ([]Source, error)
}
