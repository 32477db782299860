package contracts

import (
	"context"

	"possync/internal/core/domain"
)

// WatchHandler receives deliveries from a remote watch. It is invoked from a
// single goroutine per watch, in the order the store observed the changes.
// A non-nil err is terminal: no further calls follow it.
type WatchHandler func(snap domain.Snapshot, err error)

// Watcher stops a remote watch. Stop is idempotent and, once it returns,
// the handler is not invoked again.
type Watcher interface {
	Stop()
}

// MutateFunc computes the next state of a document inside a transaction.
// current is the zero Document when exists is false. Returning commit=false
// aborts without writing.
type MutateFunc func(current domain.Document, exists bool) (next map[string]any, commit bool)

// DocumentStore is the remote document database the engine synchronizes with.
type DocumentStore interface {
	// Get returns the document or an error wrapping domain.ErrNotFound.
	Get(ctx context.Context, path domain.ResourcePath) (domain.Document, error)
	// Set writes data to a document path. merge=true patches only the given
	// top-level fields; merge=false replaces the document.
	Set(ctx context.Context, path domain.ResourcePath, data map[string]any, merge bool) (domain.Document, error)
	// Delete removes a document. Missing documents are not an error.
	Delete(ctx context.Context, path domain.ResourcePath) error
	// Query returns the documents of a collection matching every filter.
	Query(ctx context.Context, collection string, filters []domain.Filter) ([]domain.Document, error)
	// Watch starts a live subscription. The first delivery is the current state.
	Watch(ctx context.Context, path domain.ResourcePath, handler WatchHandler) (Watcher, error)
	// BatchCommit applies writes in order. With atomic=true either every write
	// is applied or none is.
	BatchCommit(ctx context.Context, writes []domain.PendingWrite, atomic bool) error
	// RunTransaction performs one optimistic read-modify-write attempt on path.
	// It fails with domain.ErrTransactionConflict if the document changed
	// between the read and the commit.
	RunTransaction(ctx context.Context, path domain.ResourcePath, fn MutateFunc) (domain.Document, bool, error)
	// NewDocumentID returns a fresh server-style identifier.
	NewDocumentID(collection string) string
	// MaxBatchSize is the atomic write limit of the store.
	MaxBatchSize() int
	Close() error
}
