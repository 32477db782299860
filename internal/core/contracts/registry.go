package contracts

import (
	"context"

	"possync/internal/core/domain"
)

// Sink receives what the listener registry forwards from remote watches.
// Calls for one subscription are serialized.
type Sink interface {
	// Open starts a stream for sub, superseding any earlier one on the same path.
	Open(sub domain.Subscription)
	// Publish delivers a snapshot for sub.
	Publish(sub domain.Subscription, snap domain.Snapshot)
	// Fail emits a terminal error for sub and closes it.
	Fail(sub domain.Subscription, err error)
	// Drop closes sub without an error after its last subscriber left.
	Drop(sub domain.Subscription)
}

// Registry owns the remote subscriptions, at most one per resource path.
type Registry interface {
	// Subscribe opens a remote watch or shares the existing one.
	Subscribe(ctx context.Context, path domain.ResourcePath) (domain.SubscriptionHandle, error)
	// Unsubscribe releases a handle. Unknown or already released handles are a no-op.
	Unsubscribe(h domain.SubscriptionHandle)
	// SubscriberCount reports how many handles share the watch on path.
	SubscriberCount(path domain.ResourcePath) int
	// Active lists live subscriptions.
	Active() []domain.Subscription
	// Close releases every watch.
	Close()
}
