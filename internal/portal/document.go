// Package portal is the application-facing document store side of
// membersync: pluggable document backends, the capture write path the
// portal application uses, and the Applier the orchestrator delivers
// registry changes through.
package portal

import (
	"context"

	"github.com/roach88/membersync/internal/ir"
)

// DocumentStore holds one nested member document per entity key.
// Missing documents are reported as store.ErrNotFound.
type DocumentStore interface {
	// Get returns a copy of the document.
	Get(ctx context.Context, key string) (ir.Object, error)

	// Put replaces the whole document, creating it if needed.
	Put(ctx context.Context, key string, doc ir.Object) error

	// Merge deep-merges fragment into an existing document.
	Merge(ctx context.Context, key string, fragment ir.Object) error

	// Delete removes the document.
	Delete(ctx context.Context, key string) error

	// Count returns the number of documents.
	Count(ctx context.Context) (int, error)

	Close() error
}
