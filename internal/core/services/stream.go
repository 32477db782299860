package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"possync/internal/app/publisher"
	"possync/internal/core/domain"
	"possync/internal/platform/metrics"
	"possync/pkg/logging"
)

// Result is one delivery on a typed stream. A non-nil Err is a *domain.SyncError,
// is terminal, and is followed by the channel closing.
type Result[T any] struct {
	Path       domain.ResourcePath
	Items      []T
	Exists     bool
	ReceivedAt time.Time
	Err        error
}

// Stream is a typed view of a shared subscription. Values coalesce: a slow
// reader sees the latest snapshot, never a backlog.
type Stream[T any] struct {
	Handle domain.SubscriptionHandle

	engine  *Engine
	out     chan Result[T]
	mu      sync.Mutex
	stopped bool
	obs     *publisher.Observer[domain.Snapshot]
}

// C delivers snapshots until Unsubscribe or a terminal error.
func (s *Stream[T]) C() <-chan Result[T] { return s.out }

// Unsubscribe releases the handle. Nothing is delivered once it returns.
func (s *Stream[T]) Unsubscribe() { s.engine.Unsubscribe(s.Handle) }

// Subscribe opens a typed stream on path. Documents that fail to decode are
// skipped and logged; the rest of the snapshot is delivered.
func Subscribe[T any](ctx context.Context, e *Engine, path domain.ResourcePath, codec Codec[T]) (*Stream[T], error) {
	h, obs, err := e.attach(ctx, path)
	if err != nil {
		return nil, err
	}
	s := &Stream[T]{
		Handle: h,
		engine: e,
		out:    make(chan Result[T], 1),
		obs:    obs,
	}
	e.track(h, s.stop)
	go s.relay(e.log, codec)
	return s, nil
}

func (s *Stream[T]) relay(log *slog.Logger, codec Codec[T]) {
	defer s.engine.forget(s.Handle)
	for ev := range s.obs.C() {
		res := Result[T]{Path: ev.Path, ReceivedAt: ev.ReceivedAt}
		if ev.Err != nil {
			res.Err = domain.Classify("watch", s.Handle.Path, ev.Err)
		} else {
			res.Exists = ev.Value.Exists
			res.Items = decodeAll(log, ev.Value.Documents, codec)
		}
		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			return
		}
		s.offer(res)
		s.mu.Unlock()
	}
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.out)
	}
	s.mu.Unlock()
}

// offer replaces an unread value with res. Callers hold s.mu.
func (s *Stream[T]) offer(res Result[T]) {
	select {
	case <-s.out:
	default:
	}
	s.out <- res
}

func (s *Stream[T]) stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		select {
		case <-s.out:
		default:
		}
		close(s.out)
	}
	s.mu.Unlock()
	s.obs.Cancel()
}

func decodeAll[T any](log *slog.Logger, docs []domain.Document, codec Codec[T]) []T {
	items := make([]T, 0, len(docs))
	for _, d := range docs {
		v, err := codec.Decode(d)
		if err != nil {
			metrics.DocumentSkipped()
			log.Warn("engine - decode - skipping malformed document",
				logging.Path(d.Path), logging.Err(err))
			continue
		}
		items = append(items, v)
	}
	return items
}
