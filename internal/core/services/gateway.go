package services

import (
	"context"
	"errors"
	"log/slog"

	"possync/internal/core/contracts"
	"possync/internal/core/domain"
	"possync/internal/platform/metrics"
	"possync/pkg/logging"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("sync-engine")

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Gateway is typed CRUD over one entity type. Every returned error is a
// *domain.SyncError.
type Gateway[T any] struct {
	engine *Engine
	store  contracts.DocumentStore
	codec  Codec[T]
	log    *slog.Logger
	retry  RetryConfig
}

func NewGateway[T any](e *Engine, codec Codec[T]) *Gateway[T] {
	return &Gateway[T]{
		engine: e,
		store:  e.store,
		codec:  codec,
		log:    e.log,
		retry:  e.retry,
	}
}

// Create stores v under a new document in collection. An id already carried
// by v is kept, otherwise the store assigns one before the first write. The
// returned entity carries the id.
func (g *Gateway[T]) Create(ctx context.Context, collection domain.ResourcePath, v T) (out T, err error) {
	ctx, span := tracer.Start(ctx, "Gateway.Create", trace.WithAttributes(
		attribute.String("collection", collection.Key()),
	))
	defer func() { endSpan(span, err) }()

	if err := collection.Validate(); err != nil {
		return out, domain.Classify("create", collection, err)
	}
	if !collection.IsCollection() {
		return out, domain.NewError("create", collection, domain.ErrWriteFailed, errors.New("create needs a collection path"))
	}
	id := g.codec.ID(v)
	if id == "" {
		id = g.store.NewDocumentID(collection.Collection)
	}
	path := collection.Doc(id)
	fields, err := g.codec.Encode(v)
	if err != nil {
		return out, domain.Classify("create", path, err)
	}
	doc, err := g.write(ctx, "create", path, fields, false)
	if err != nil {
		return out, err
	}
	g.log.DebugContext(ctx, "gateway - create - stored", logging.Path(path))
	return g.decode("create", doc)
}

// Update merges the encoded fields of v into the document at path. Fields
// not present in the encoding keep their stored values; a missing document
// is created.
func (g *Gateway[T]) Update(ctx context.Context, path domain.ResourcePath, v T) (out T, err error) {
	ctx, span := tracer.Start(ctx, "Gateway.Update", trace.WithAttributes(
		attribute.String("path", path.Key()),
	))
	defer func() { endSpan(span, err) }()

	if err := g.documentPath("update", path); err != nil {
		return out, err
	}
	fields, err := g.codec.Encode(v)
	if err != nil {
		return out, domain.Classify("update", path, err)
	}
	doc, err := g.write(ctx, "update", path, fields, true)
	if err != nil {
		return out, err
	}
	return g.decode("update", doc)
}

// Patch merges raw fields into the document at path.
func (g *Gateway[T]) Patch(ctx context.Context, path domain.ResourcePath, fields map[string]any) (out T, err error) {
	ctx, span := tracer.Start(ctx, "Gateway.Patch", trace.WithAttributes(
		attribute.String("path", path.Key()),
	))
	defer func() { endSpan(span, err) }()

	if err := g.documentPath("update", path); err != nil {
		return out, err
	}
	doc, err := g.write(ctx, "update", path, fields, true)
	if err != nil {
		return out, err
	}
	return g.decode("update", doc)
}

// Replace overwrites the document at path with v.
func (g *Gateway[T]) Replace(ctx context.Context, path domain.ResourcePath, v T) (out T, err error) {
	ctx, span := tracer.Start(ctx, "Gateway.Replace", trace.WithAttributes(
		attribute.String("path", path.Key()),
	))
	defer func() { endSpan(span, err) }()

	if err := g.documentPath("set", path); err != nil {
		return out, err
	}
	fields, err := g.codec.Encode(v)
	if err != nil {
		return out, domain.Classify("set", path, err)
	}
	doc, err := g.write(ctx, "set", path, fields, false)
	if err != nil {
		return out, err
	}
	return g.decode("set", doc)
}

// Delete removes the document at path. Deleting a missing document succeeds.
func (g *Gateway[T]) Delete(ctx context.Context, path domain.ResourcePath) (err error) {
	ctx, span := tracer.Start(ctx, "Gateway.Delete", trace.WithAttributes(
		attribute.String("path", path.Key()),
	))
	defer func() { endSpan(span, err) }()

	if err := g.documentPath("delete", path); err != nil {
		return err
	}
	_, err = WithRetry(ctx, g.retry, func() (struct{}, error) {
		return struct{}{}, domain.Classify("delete", path, g.store.Delete(ctx, path))
	})
	metrics.Write("delete", err)
	if err != nil {
		g.log.ErrorContext(ctx, "gateway - delete - failed", logging.Path(path), logging.Err(err))
	}
	return err
}

// Get reads one document.
func (g *Gateway[T]) Get(ctx context.Context, path domain.ResourcePath) (out T, err error) {
	ctx, span := tracer.Start(ctx, "Gateway.Get", trace.WithAttributes(
		attribute.String("path", path.Key()),
	))
	defer func() { endSpan(span, err) }()

	if err := g.documentPath("get", path); err != nil {
		return out, err
	}
	doc, err := WithRetry(ctx, g.retry, func() (domain.Document, error) {
		d, err := g.store.Get(ctx, path)
		return d, domain.Classify("get", path, err)
	})
	if err != nil {
		return out, err
	}
	return g.decode("get", doc)
}

// GetAll reads every document of a collection. Documents that fail to decode
// are skipped and logged.
func (g *Gateway[T]) GetAll(ctx context.Context, collection domain.ResourcePath) ([]T, error) {
	return g.Query(ctx, collection)
}

// Query reads the documents of a collection matching every filter.
func (g *Gateway[T]) Query(ctx context.Context, collection domain.ResourcePath, filters ...domain.Filter) (out []T, err error) {
	ctx, span := tracer.Start(ctx, "Gateway.Query", trace.WithAttributes(
		attribute.String("collection", collection.Key()),
		attribute.Int("filters", len(filters)),
	))
	defer func() { endSpan(span, err) }()

	if err := collection.Validate(); err != nil {
		return nil, domain.Classify("query", collection, err)
	}
	if !collection.IsCollection() {
		return nil, domain.NewError("query", collection, domain.ErrNotFound, errors.New("query needs a collection path"))
	}
	docs, err := WithRetry(ctx, g.retry, func() ([]domain.Document, error) {
		d, err := g.store.Query(ctx, collection.Collection, filters)
		return d, domain.Classify("query", collection, err)
	})
	if err != nil {
		return nil, err
	}
	return decodeAll(g.log, docs, g.codec), nil
}

// Subscribe streams the entities at path.
func (g *Gateway[T]) Subscribe(ctx context.Context, path domain.ResourcePath) (*Stream[T], error) {
	return Subscribe(ctx, g.engine, path, g.codec)
}

// Transact runs an optimistic read-modify-write on the entity at path. fn
// receives the current entity (zero value if missing) and returns the next
// one; returning commit=false aborts without writing.
func (g *Gateway[T]) Transact(ctx context.Context, path domain.ResourcePath, fn func(cur T, exists bool) (next T, commit bool)) (T, TxResult, error) {
	var (
		zero      T
		decodeErr error
	)
	res, err := g.engine.coordinator.Transact(ctx, path, func(cur domain.Document, exists bool) (map[string]any, bool) {
		decodeErr = nil
		var v T
		if exists {
			d, err := g.codec.Decode(cur)
			if err != nil {
				decodeErr = err
				return nil, false
			}
			v = d
		}
		next, commit := fn(v, exists)
		if !commit {
			return nil, false
		}
		fields, err := g.codec.Encode(next)
		if err != nil {
			decodeErr = err
			return nil, false
		}
		return fields, true
	})
	if err == nil && decodeErr != nil {
		err = domain.Classify("transact", path, decodeErr)
	}
	if err != nil {
		return zero, res, err
	}
	if !res.Committed {
		return zero, res, nil
	}
	out, err := g.decode("transact", res.Document)
	return out, res, err
}

func (g *Gateway[T]) documentPath(op string, path domain.ResourcePath) error {
	if err := path.Validate(); err != nil {
		return domain.Classify(op, path, err)
	}
	if path.IsCollection() {
		kind := domain.ErrWriteFailed
		if op == "get" {
			kind = domain.ErrNotFound
		}
		return domain.NewError(op, path, kind, errors.New("document path required"))
	}
	return nil
}

func (g *Gateway[T]) write(ctx context.Context, op string, path domain.ResourcePath, fields map[string]any, merge bool) (domain.Document, error) {
	doc, err := WithRetry(ctx, g.retry, func() (domain.Document, error) {
		d, err := g.store.Set(ctx, path, fields, merge)
		return d, domain.Classify(op, path, err)
	})
	metrics.Write(op, err)
	if err != nil {
		g.log.ErrorContext(ctx, "gateway - "+op+" - write failed", logging.Path(path), logging.Err(err))
	}
	return doc, err
}

func (g *Gateway[T]) decode(op string, doc domain.Document) (T, error) {
	v, err := g.codec.Decode(doc)
	if err != nil {
		var zero T
		return zero, domain.Classify(op, doc.Path, err)
	}
	return v, nil
}
