package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"possync/internal/core/contracts"
	"possync/internal/core/domain"
	"possync/internal/platform/metrics"
	"possync/pkg/logging"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultTxMaxRetries bounds how many times a conflicting transaction is re-run.
const DefaultTxMaxRetries = 5

// NoTxRetries disables conflict re-runs in Options.TxMaxRetries.
const NoTxRetries = -1

// TxResult describes a finished transaction.
type TxResult struct {
	Document  domain.Document
	Committed bool // false when the mutation declined to write
	Attempts  int
}

// Coordinator groups writes. Batches commit through the store's native
// multi-write; transactions run optimistic read-modify-write with a bounded
// number of re-runs on conflict.
type Coordinator struct {
	store      contracts.DocumentStore
	log        *slog.Logger
	maxRetries int
}

// NewCoordinator re-runs a conflicting transaction at most maxRetries times;
// zero or less runs it once.
func NewCoordinator(log *slog.Logger, store contracts.DocumentStore, maxRetries int) *Coordinator {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Coordinator{store: store, log: log, maxRetries: maxRetries}
}

// Batch commits op.Writes in one round trip. With op.Atomic either every write
// lands or none does. An empty batch is a no-op.
func (c *Coordinator) Batch(ctx context.Context, op domain.BatchOperation) (err error) {
	ctx, span := tracer.Start(ctx, "Coordinator.Batch", trace.WithAttributes(
		attribute.Int("writes", len(op.Writes)),
		attribute.Bool("atomic", op.Atomic),
	))
	defer func() { endSpan(span, err) }()

	if len(op.Writes) == 0 {
		return nil
	}
	if limit := c.store.MaxBatchSize(); limit > 0 && len(op.Writes) > limit {
		return domain.NewError("batch", domain.ResourcePath{}, domain.ErrBatchTooLarge,
			fmt.Errorf("%d writes, limit %d", len(op.Writes), limit))
	}
	writes := make([]domain.PendingWrite, len(op.Writes))
	for i, w := range op.Writes {
		if err := w.Path.Validate(); err != nil {
			return domain.Classify("batch", w.Path, err)
		}
		if w.Path.IsCollection() {
			return domain.NewError("batch", w.Path, domain.ErrWriteFailed,
				fmt.Errorf("write %d targets a collection", i))
		}
		if w.IdempotencyKey == "" {
			w.IdempotencyKey = ulid.Make().String()
		}
		writes[i] = w
	}
	metrics.Batch(len(writes))
	err = c.store.BatchCommit(ctx, writes, op.Atomic)
	metrics.Write("batch", err)
	if err != nil {
		err = domain.Classify("batch", domain.ResourcePath{}, err)
		c.log.ErrorContext(ctx, "coordinator - batch - commit failed",
			"writes", len(writes), "atomic", op.Atomic, logging.Err(err))
		return err
	}
	c.log.DebugContext(ctx, "coordinator - batch - committed", "writes", len(writes), "atomic", op.Atomic)
	return nil
}

// Transact runs fn against the current document and commits its result only
// if the document did not change in between. Conflicts re-run fn, up to the
// configured number of retries; fn must therefore be free of side effects.
func (c *Coordinator) Transact(ctx context.Context, path domain.ResourcePath, fn contracts.MutateFunc) (res TxResult, err error) {
	ctx, span := tracer.Start(ctx, "Coordinator.Transact", trace.WithAttributes(
		attribute.String("path", path.Key()),
	))
	defer func() {
		span.SetAttributes(attribute.Int("attempts", res.Attempts))
		endSpan(span, err)
	}()

	if err := path.Validate(); err != nil {
		return res, domain.Classify("transact", path, err)
	}
	if path.IsCollection() {
		return res, domain.NewError("transact", path, domain.ErrWriteFailed, errors.New("transaction needs a document path"))
	}
	var last error
	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, domain.Classify("transact", path, ctxErr)
		}
		res.Attempts = attempt
		doc, committed, err := c.store.RunTransaction(ctx, path, fn)
		if err == nil {
			res.Document, res.Committed = doc, committed
			metrics.Write("transact", nil)
			return res, nil
		}
		if !errors.Is(err, domain.ErrTransactionConflict) {
			err = domain.Classify("transact", path, err)
			metrics.Write("transact", err)
			return res, err
		}
		last = err
		metrics.TransactionRetry()
		c.log.DebugContext(ctx, "coordinator - transact - conflict, retrying",
			logging.Path(path), "attempt", attempt)
	}
	err = domain.NewError("transact", path, domain.ErrTransactionConflict, last)
	metrics.Write("transact", err)
	c.log.WarnContext(ctx, "coordinator - transact - retries exhausted",
		logging.Path(path), "attempts", res.Attempts)
	return res, err
}
