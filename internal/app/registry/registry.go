package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"possync/internal/core/contracts"
	"possync/internal/core/domain"
	"possync/internal/platform/metrics"
	"possync/pkg/logging"

	"github.com/google/uuid"
)

// Registry owns every remote watch. Each resource path has at most one live
// watch, shared by reference-counted handles. Entries present in the map are
// active; closing removes them.
type Registry struct {
	mu      sync.Mutex
	store   contracts.DocumentStore
	sink    contracts.Sink
	log     *slog.Logger
	entries map[domain.ResourcePath]*entry
	handles map[string]*entry // handle id -> subscription
}

var _ contracts.Registry = (*Registry)(nil)

type entry struct {
	sub     domain.Subscription
	refs    int
	handles map[string]struct{}
	watcher contracts.Watcher
	cancel  context.CancelFunc
	ready   chan struct{} // closed once the remote watch is open or failed
	openErr error
	failed  bool

	deliverMu sync.Mutex
	closed    bool // guarded by deliverMu
}

func NewRegistry(log *slog.Logger, store contracts.DocumentStore, sink contracts.Sink) *Registry {
	return &Registry{
		store:   store,
		sink:    sink,
		log:     log,
		entries: make(map[domain.ResourcePath]*entry),
		handles: make(map[string]*entry),
	}
}

func (r *Registry) Subscribe(ctx context.Context, path domain.ResourcePath) (domain.SubscriptionHandle, error) {
	if err := path.Validate(); err != nil {
		return domain.SubscriptionHandle{}, domain.Classify("watch", path, err)
	}
	r.mu.Lock()
	e, shared := r.entries[path]
	if !shared {
		e = &entry{
			sub: domain.Subscription{
				ID:        uuid.NewString(),
				Path:      path,
				Status:    domain.SubscriptionActive,
				CreatedAt: time.Now().UTC(),
			},
			handles: make(map[string]struct{}),
			ready:   make(chan struct{}),
		}
		r.entries[path] = e
		r.sink.Open(e.sub)
	}
	h := domain.SubscriptionHandle{
		ID:             uuid.NewString(),
		SubscriptionID: e.sub.ID,
		Path:           path,
	}
	e.refs++
	e.handles[h.ID] = struct{}{}
	r.handles[h.ID] = e
	r.mu.Unlock()

	if !shared {
		r.open(ctx, e)
	}
	select {
	case <-e.ready:
	case <-ctx.Done():
		r.Unsubscribe(h)
		return domain.SubscriptionHandle{}, domain.Classify("watch", path, ctx.Err())
	}
	if e.openErr != nil {
		return domain.SubscriptionHandle{}, e.openErr
	}
	r.log.DebugContext(ctx, "registry - subscribe - handle issued",
		logging.Path(path), logging.Subscription(e.sub.ID), logging.Handle(h.ID), "shared", shared)
	return h, nil
}

// open runs without r.mu held; the remote round trip must not block other paths.
func (r *Registry) open(ctx context.Context, e *entry) {
	path := e.sub.Path
	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w, err := r.store.Watch(watchCtx, path, r.deliver(e))

	r.mu.Lock()
	abandoned := r.entries[path] != e
	failed := e.failed
	switch {
	case err != nil:
		e.openErr = domain.Classify("watch", path, err)
		r.removeLocked(e)
	case !abandoned:
		e.watcher = w
		e.cancel = cancel
	}
	close(e.ready)
	r.mu.Unlock()

	if err != nil {
		cancel()
		r.markClosed(e)
		r.sink.Fail(e.sub, e.openErr)
		r.log.ErrorContext(ctx, "registry - subscribe - open remote watch failed",
			logging.Path(path), logging.Err(err))
		return
	}
	metrics.WatchOpened()
	switch {
	case failed:
		// the watch reported a fatal error before open returned; fail() has
		// already published it
		cancel()
	case abandoned:
		// every handle was released while the watch was opening
		cancel()
		r.markClosed(e)
		w.Stop()
		r.sink.Drop(e.sub)
		metrics.WatchClosed("released")
	default:
		r.log.InfoContext(ctx, "registry - subscribe - remote watch opened",
			logging.Path(path), logging.Subscription(e.sub.ID))
	}
}

func (r *Registry) deliver(e *entry) contracts.WatchHandler {
	return func(snap domain.Snapshot, err error) {
		e.deliverMu.Lock()
		if e.closed {
			e.deliverMu.Unlock()
			return
		}
		if err == nil {
			r.sink.Publish(e.sub, snap)
			e.deliverMu.Unlock()
			metrics.SnapshotPublished()
			return
		}
		e.closed = true
		e.deliverMu.Unlock()
		r.fail(e, err)
	}
}

// fail tears down a subscription whose remote watch reported a fatal error.
// The entry leaves the map so the next Subscribe opens a fresh watch.
func (r *Registry) fail(e *entry, err error) {
	serr := domain.Classify("watch", e.sub.Path, err)
	r.mu.Lock()
	e.failed = true
	r.removeLocked(e)
	cancel := e.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.sink.Fail(e.sub, serr)
	metrics.WatchClosed("failed")
	r.log.Error("registry - watch - remote watch failed",
		logging.Path(e.sub.Path), logging.Subscription(e.sub.ID), logging.Err(serr))
}

// removeLocked marks e closed and drops it with all of its handles. Callers
// hold r.mu; the status write also takes deliverMu so deliveries in flight
// never copy a half-updated Subscription.
func (r *Registry) removeLocked(e *entry) {
	e.deliverMu.Lock()
	e.sub.Status = domain.SubscriptionClosed
	e.deliverMu.Unlock()
	if r.entries[e.sub.Path] == e {
		delete(r.entries, e.sub.Path)
	}
	for id := range e.handles {
		delete(r.handles, id)
	}
	e.handles = map[string]struct{}{}
	e.refs = 0
}

func (r *Registry) markClosed(e *entry) bool {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()
	was := e.closed
	e.closed = true
	return was
}

func (r *Registry) Unsubscribe(h domain.SubscriptionHandle) {
	r.mu.Lock()
	e, ok := r.handles[h.ID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.handles, h.ID)
	delete(e.handles, h.ID)
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	r.removeLocked(e)
	w, cancel := e.watcher, e.cancel
	r.mu.Unlock()

	if r.markClosed(e) {
		return
	}
	if cancel != nil {
		cancel()
	}
	if w != nil {
		w.Stop()
		r.sink.Drop(e.sub)
		metrics.WatchClosed("released")
		r.log.Info("registry - unsubscribe - remote watch closed",
			logging.Path(e.sub.Path), logging.Subscription(e.sub.ID))
	}
	// w == nil: still opening, open() stops the watch once it returns.
}

func (r *Registry) SubscriberCount(path domain.ResourcePath) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[path]; ok {
		return e.refs
	}
	return 0
}

func (r *Registry) Active() []domain.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Subscription, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.sub)
	}
	return out
}

// Close releases every watch. Used on process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	var hs []domain.SubscriptionHandle
	for id, e := range r.handles {
		hs = append(hs, domain.SubscriptionHandle{ID: id, SubscriptionID: e.sub.ID, Path: e.sub.Path})
	}
	r.mu.Unlock()
	for _, h := range hs {
		r.Unsubscribe(h)
	}
}
