package services

import (
	"context"
	"log/slog"
	"sync"

	"possync/internal/app/publisher"
	"possync/internal/app/registry"
	"possync/internal/core/contracts"
	"possync/internal/core/domain"
	"possync/pkg/logging"
)

// Options tune an Engine. Zero values select the defaults.
type Options struct {
	// TxMaxRetries bounds conflict re-runs per transaction. NoTxRetries runs
	// each transaction exactly once.
	TxMaxRetries    int
	Retry           RetryConfig
	PublisherBuffer int
}

// Engine is the single entry point for document synchronization: shared live
// subscriptions, CRUD, batches and transactions over one DocumentStore.
// Its lifecycle belongs to the caller.
type Engine struct {
	log         *slog.Logger
	store       contracts.DocumentStore
	publisher   *publisher.Publisher[domain.Snapshot]
	registry    contracts.Registry
	coordinator *Coordinator
	retry       RetryConfig

	mu      sync.Mutex
	streams map[string]func() // handle id -> stop
	docs    *Gateway[domain.Document]
}

func NewEngine(log *slog.Logger, store contracts.DocumentStore, opts Options) *Engine {
	switch {
	case opts.TxMaxRetries == 0:
		opts.TxMaxRetries = DefaultTxMaxRetries
	case opts.TxMaxRetries < 0:
		opts.TxMaxRetries = 0
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryConfig()
	}
	pub := publisher.New[domain.Snapshot](publisher.WithBuffer(opts.PublisherBuffer))
	e := &Engine{
		log:         log,
		store:       store,
		publisher:   pub,
		registry:    registry.NewRegistry(log, store, pub),
		coordinator: NewCoordinator(log, store, opts.TxMaxRetries),
		retry:       opts.Retry,
		streams:     make(map[string]func()),
	}
	e.docs = NewGateway[domain.Document](e, DocumentCodec{})
	return e
}

// Documents is untyped CRUD over raw documents.
func (e *Engine) Documents() *Gateway[domain.Document] { return e.docs }

// Subscribe streams raw snapshots of path. Subscribers of the same path share
// one remote watch.
func (e *Engine) Subscribe(ctx context.Context, path domain.ResourcePath) (*Stream[domain.Document], error) {
	return Subscribe[domain.Document](ctx, e, path, DocumentCodec{})
}

// Unsubscribe releases a handle returned by any Subscribe. Repeated or
// unknown handles are a no-op.
func (e *Engine) Unsubscribe(h domain.SubscriptionHandle) {
	e.mu.Lock()
	stop := e.streams[h.ID]
	delete(e.streams, h.ID)
	e.mu.Unlock()
	if stop != nil {
		stop()
	}
	e.registry.Unsubscribe(h)
}

// Batch commits writes in one round trip, atomically if requested.
func (e *Engine) Batch(ctx context.Context, writes []domain.PendingWrite, atomic bool) error {
	return e.coordinator.Batch(ctx, domain.BatchOperation{Writes: writes, Atomic: atomic})
}

// Transact runs an optimistic read-modify-write on a raw document.
func (e *Engine) Transact(ctx context.Context, path domain.ResourcePath, fn contracts.MutateFunc) (TxResult, error) {
	return e.coordinator.Transact(ctx, path, fn)
}

// Latest returns the last snapshot delivered on path, if any.
func (e *Engine) Latest(path domain.ResourcePath) (domain.Snapshot, bool) {
	v, ok := e.publisher.Latest(path)
	return v.Value, ok
}

func (e *Engine) SubscriberCount(path domain.ResourcePath) int {
	return e.registry.SubscriberCount(path)
}

func (e *Engine) ActiveSubscriptions() []domain.Subscription {
	return e.registry.Active()
}

// Close releases every subscription and the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	stops := make([]func(), 0, len(e.streams))
	for id, stop := range e.streams {
		stops = append(stops, stop)
		delete(e.streams, id)
	}
	e.mu.Unlock()
	for _, stop := range stops {
		stop()
	}
	e.registry.Close()
	if err := e.store.Close(); err != nil {
		e.log.Error("engine - close - store close failed", logging.Err(err))
		return domain.Classify("close", domain.ResourcePath{}, err)
	}
	e.log.Info("engine - close - done")
	return nil
}

// attach registers a handle and an observer on its subscription. The observer
// replays the latest snapshot if one was already delivered.
func (e *Engine) attach(ctx context.Context, path domain.ResourcePath) (domain.SubscriptionHandle, *publisher.Observer[domain.Snapshot], error) {
	h, err := e.registry.Subscribe(ctx, path)
	if err != nil {
		return domain.SubscriptionHandle{}, nil, domain.Classify("watch", path, err)
	}
	obs := e.publisher.Observe(domain.Subscription{ID: h.SubscriptionID, Path: path})
	return h, obs, nil
}

func (e *Engine) track(h domain.SubscriptionHandle, stop func()) {
	e.mu.Lock()
	e.streams[h.ID] = stop
	e.mu.Unlock()
}

// forget drops bookkeeping for a stream that ended on its own.
func (e *Engine) forget(h domain.SubscriptionHandle) {
	e.mu.Lock()
	delete(e.streams, h.ID)
	e.mu.Unlock()
}

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
)

// InitDefault builds the process-wide engine on first call; later calls return
// it unchanged. The default engine is never torn down.
func InitDefault(build func() *Engine) *Engine {
	defaultOnce.Do(func() { defaultEngine = build() })
	return defaultEngine
}

// Default returns the process-wide engine, or nil before InitDefault.
func Default() *Engine {
	return defaultEngine
}
