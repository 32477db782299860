package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"possync/internal/core/contracts"
	"possync/internal/core/domain"

	"github.com/jackc/pgx/v5/stdlib"
)

// listener owns one pooled connection parked in LISTEN and fans
// notifications out to every watch of the store.
type listener struct {
	conn   *sql.Conn
	cancel context.CancelFunc
	done   chan struct{}
}

type watch struct {
	store   *DocumentStore
	path    domain.ResourcePath
	handler contracts.WatchHandler
	notify  chan struct{}
	fail    chan error
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// Watch starts the shared listener if needed, then delivers the current state
// and a fresh snapshot after every change to path.
func (s *DocumentStore) Watch(ctx context.Context, path domain.ResourcePath, handler contracts.WatchHandler) (contracts.Watcher, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}
	w := &watch{
		store:   s,
		path:    path,
		handler: handler,
		notify:  make(chan struct{}, 1),
		fail:    make(chan error, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		l, err := s.startListener(ctx)
		if err != nil {
			return nil, err
		}
		s.listener = l
	}
	s.watches[w] = struct{}{}
	w.notify <- struct{}{}
	go w.run(ctx)
	return w, nil
}

// startListener issues LISTEN before returning, so a snapshot read after it
// cannot miss a change. Callers hold s.mu.
func (s *DocumentStore) startListener(ctx context.Context) (*listener, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	if _, err := conn.ExecContext(ctx, "LISTEN "+notifyChannel); err != nil {
		_ = conn.Close()
		return nil, mapErr(err)
	}
	lctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	l := &listener{conn: conn, cancel: cancel, done: make(chan struct{})}
	go s.listen(lctx, l)
	return l, nil
}

func (s *DocumentStore) listen(ctx context.Context, l *listener) {
	defer close(l.done)
	defer func() {
		// the connection is still LISTENing; never hand it back to the pool
		_ = l.conn.Raw(func(any) error { return driver.ErrBadConn })
		_ = l.conn.Close()
	}()
	for {
		var payload string
		err := l.conn.Raw(func(dc any) error {
			c, ok := dc.(*stdlib.Conn)
			if !ok {
				return fmt.Errorf("unexpected driver connection %T", dc)
			}
			n, err := c.Conn().WaitForNotification(ctx)
			if err != nil {
				return err
			}
			payload = n.Payload
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			s.failAll(l, fmt.Errorf("%w: %w: listen: %w", domain.ErrTransport, domain.ErrUnavailable, err))
			return
		}
		changed, err := domain.ParsePath(payload)
		if err != nil {
			continue
		}
		s.mu.Lock()
		for w := range s.watches {
			if w.affectedBy(changed) {
				select {
				case w.notify <- struct{}{}:
				default:
				}
			}
		}
		s.mu.Unlock()
	}
}

// failAll ends every watch after the listener connection broke. The next
// Watch starts a new listener.
func (s *DocumentStore) failAll(l *listener, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == l {
		s.listener = nil
	}
	for w := range s.watches {
		select {
		case w.fail <- err:
		default:
		}
	}
}

func (l *listener) stop() {
	l.cancel()
	<-l.done
}

func (w *watch) affectedBy(changed domain.ResourcePath) bool {
	if w.path.IsCollection() {
		return changed.Collection == w.path.Collection
	}
	return changed == w.path
}

func (w *watch) run(ctx context.Context) {
	defer close(w.done)
	defer w.store.forget(w)
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
			snap, err := w.store.snapshot(ctx, w.path)
			select {
			case <-w.stop:
				return
			default:
			}
			if err != nil {
				w.handler(domain.Snapshot{Path: w.path}, err)
				return
			}
			w.handler(snap, nil)
		}
	}
}

func (s *DocumentStore) snapshot(ctx context.Context, path domain.ResourcePath) (domain.Snapshot, error) {
	snap := domain.Snapshot{Path: path, ReadAt: time.Now().UTC()}
	if path.IsCollection() {
		docs, err := s.Query(ctx, path.Collection, nil)
		if err != nil {
			return snap, err
		}
		snap.Documents, snap.Exists = docs, true
		return snap, nil
	}
	doc, exists, err := s.load(ctx, path)
	if err != nil {
		return snap, err
	}
	if exists {
		snap.Documents, snap.Exists = []domain.Document{doc}, true
	}
	return snap, nil
}

// forget unregisters w and parks the listener once no watch is left.
func (s *DocumentStore) forget(w *watch) {
	s.mu.Lock()
	delete(s.watches, w)
	var idle *listener
	if len(s.watches) == 0 && s.listener != nil {
		idle = s.listener
		s.listener = nil
	}
	s.mu.Unlock()
	if idle != nil {
		idle.stop()
	}
}

// Stop returns once the handler can no longer be invoked.
func (w *watch) Stop() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}
