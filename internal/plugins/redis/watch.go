package redis

import (
	"context"
	"fmt"
	"sync"

	"possync/internal/core/contracts"
	"possync/internal/core/domain"

	"github.com/redis/go-redis/v9"
)

type watcher struct {
	ps   *redis.PubSub
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// Watch subscribes to the change channel before reading the initial state, so
// no commit between the two is missed. Change notifications only carry the
// path; every delivery re-reads the current state and bursts coalesce.
func (s *DocumentStore) Watch(ctx context.Context, path domain.ResourcePath, handler contracts.WatchHandler) (contracts.Watcher, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	ps := s.rdb.Subscribe(ctx, s.changesChannel())
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, mapErr(err)
	}
	w := &watcher{
		ps:   ps,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.run(ctx, w, path, handler)
	return w, nil
}

func (s *DocumentStore) run(ctx context.Context, w *watcher, path domain.ResourcePath, handler contracts.WatchHandler) {
	defer close(w.done)
	defer w.ps.Close()
	ch := w.ps.Channel()
	emit := func() bool {
		snap, err := s.snapshot(ctx, path)
		select {
		case <-w.stop:
			return false
		default:
		}
		if err != nil {
			handler(domain.Snapshot{Path: path}, err)
			return false
		}
		handler(snap, nil)
		return true
	}
	if !emit() {
		return
	}
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				select {
				case <-w.stop:
				default:
					handler(domain.Snapshot{Path: path},
						fmt.Errorf("%w: %w: change feed closed", domain.ErrTransport, domain.ErrUnavailable))
				}
				return
			}
			if !affects(path, msg.Payload) {
				continue
			}
			drain(ch)
			if !emit() {
				return
			}
		}
	}
}

// drain discards queued notifications; the next read covers them.
func drain(ch <-chan *redis.Message) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func affects(watched domain.ResourcePath, changedKey string) bool {
	changed, err := domain.ParsePath(changedKey)
	if err != nil {
		return false
	}
	if watched.IsCollection() {
		return changed.Collection == watched.Collection
	}
	return changed == watched
}

func (s *DocumentStore) snapshot(ctx context.Context, path domain.ResourcePath) (domain.Snapshot, error) {
	snap := domain.Snapshot{Path: path, ReadAt: s.now().UTC()}
	if path.IsCollection() {
		docs, err := s.query(ctx, s.rdb, path.Collection, nil)
		if err != nil {
			return snap, err
		}
		snap.Documents, snap.Exists = docs, true
		return snap, nil
	}
	doc, exists, err := s.load(ctx, s.rdb, path)
	if err != nil {
		return snap, err
	}
	if exists {
		snap.Documents, snap.Exists = []domain.Document{doc}, true
	}
	return snap, nil
}

// Stop returns once the handler can no longer be invoked.
func (w *watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
		_ = w.ps.Close()
	})
	<-w.done
}
