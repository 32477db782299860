package memory

import (
	"context"
	"sync"

	"possync/internal/core/contracts"
	"possync/internal/core/domain"
)

type watch struct {
	path    domain.ResourcePath
	handler contracts.WatchHandler
	notify  chan struct{}
	fail    chan error
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Watch delivers the current state immediately, then a fresh snapshot after
// every committed change to path. Bursts of changes coalesce into one delivery.
func (s *Store) Watch(ctx context.Context, path domain.ResourcePath, handler contracts.WatchHandler) (contracts.Watcher, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	w := &watch{
		path:    path,
		handler: handler,
		notify:  make(chan struct{}, 1),
		fail:    make(chan error, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	if err := s.ready(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.watches[w] = struct{}{}
	s.opened++
	s.mu.Unlock()

	w.notify <- struct{}{}
	go s.run(ctx, w)
	return w, nil
}

func (s *Store) run(ctx context.Context, w *watch) {
	defer close(w.done)
	defer s.forget(w)
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case err := <-w.fail:
			w.handler(domain.Snapshot{Path: w.path}, err)
			return
		case <-w.notify:
			select {
			case <-w.stop:
				return
			default:
			}
			w.handler(s.snapshot(w.path), nil)
		}
	}
}

func (s *Store) snapshot(path domain.ResourcePath) domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := domain.Snapshot{Path: path, ReadAt: s.now().UTC()}
	if path.IsCollection() {
		snap.Documents = s.query(path.Collection, nil)
		snap.Exists = true
		return snap
	}
	if rec := s.lookup(path); rec != nil {
		snap.Documents = []domain.Document{rec.document(path)}
		snap.Exists = true
	}
	return snap
}

func (s *Store) forget(w *watch) {
	s.mu.Lock()
	delete(s.watches, w)
	s.mu.Unlock()
}

// notify wakes every watch on path or on its collection. Callers hold s.mu.
func (s *Store) notify(path domain.ResourcePath) {
	for w := range s.watches {
		if w.path == path || (w.path.IsCollection() && w.path.Collection == path.Collection) {
			select {
			case w.notify <- struct{}{}:
			default:
			}
		}
	}
}

// Stop returns once the handler can no longer be invoked.
func (w *watch) Stop() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

// FailWatches makes every watch on path report err as a fatal watch error,
// the way a revoked permission or severed connection would.
func (s *Store) FailWatches(path domain.ResourcePath, err error) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for w := range s.watches {
		if w.path == path {
			select {
			case w.fail <- err:
				n++
			default:
			}
		}
	}
	return n
}

// WatchesOpened counts every successful Watch call since the store was created.
func (s *Store) WatchesOpened() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opened
}

// ActiveWatches counts watches that have not stopped yet.
func (s *Store) ActiveWatches() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.watches)
}
