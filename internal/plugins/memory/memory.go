// Package memory is an in-process DocumentStore. It backs local development
// and tests, and can inject transport faults to exercise failure paths.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"possync/internal/core/contracts"
	"possync/internal/core/domain"

	"github.com/google/uuid"
)

// DefaultMaxBatchSize mirrors the write limit of hosted document stores.
const DefaultMaxBatchSize = 500

var ErrClosed = errors.New("memory store closed")

// FaultFunc simulates a transport failure for a write. index is the position
// of the write inside a batch and 0 for single writes.
type FaultFunc func(op domain.WriteOp, path domain.ResourcePath, index int) error

type record struct {
	data    map[string]any
	version int64
	updated time.Time
}

type Store struct {
	mu       sync.RWMutex
	docs     map[string]map[string]*record // collection -> id -> record
	watches  map[*watch]struct{}
	seq      int64
	maxBatch int
	fault    FaultFunc
	opened   int
	closed   bool
	now      func() time.Time
}

type Option func(*Store)

func WithMaxBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

func WithFault(f FaultFunc) Option {
	return func(s *Store) { s.fault = f }
}

func New(opts ...Option) *Store {
	s := &Store{
		docs:     make(map[string]map[string]*record),
		watches:  make(map[*watch]struct{}),
		maxBatch: DefaultMaxBatchSize,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ contracts.DocumentStore = (*Store)(nil)

// SetFault replaces the fault injector; nil disables it.
func (s *Store) SetFault(f FaultFunc) {
	s.mu.Lock()
	s.fault = f
	s.mu.Unlock()
}

func (s *Store) MaxBatchSize() int { return s.maxBatch }

func (s *Store) NewDocumentID(string) string { return uuid.NewString() }

func (s *Store) checkFault(op domain.WriteOp, path domain.ResourcePath, index int) error {
	if s.fault == nil {
		return nil
	}
	return s.fault(op, path, index)
}

func documentPath(path domain.ResourcePath) error {
	if err := path.Validate(); err != nil {
		return err
	}
	if path.IsCollection() {
		return fmt.Errorf("%w: %s is a collection", domain.ErrInvalidPath, path.Key())
	}
	return nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path domain.ResourcePath) (domain.Document, error) {
	if err := documentPath(path); err != nil {
		return domain.Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(ctx); err != nil {
		return domain.Document{}, err
	}
	rec := s.lookup(path)
	if rec == nil {
		return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrNotFound, path.Key())
	}
	return rec.document(path), nil
}

func (s *Store) Set(ctx context.Context, path domain.ResourcePath, data map[string]any, merge bool) (domain.Document, error) {
	if err := documentPath(path); err != nil {
		return domain.Document{}, err
	}
	op := domain.OpSet
	if merge {
		op = domain.OpUpdate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return domain.Document{}, err
	}
	if err := s.checkFault(op, path, 0); err != nil {
		return domain.Document{}, err
	}
	rec := s.put(path, s.lookup(path), data, merge)
	s.notify(path)
	return rec.document(path), nil
}

func (s *Store) Delete(ctx context.Context, path domain.ResourcePath) error {
	if err := documentPath(path); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return err
	}
	if err := s.checkFault(domain.OpDelete, path, 0); err != nil {
		return err
	}
	if s.lookup(path) == nil {
		return nil
	}
	delete(s.docs[path.Collection], path.DocumentID)
	s.notify(path)
	return nil
}

func (s *Store) Query(ctx context.Context, collection string, filters []domain.Filter) ([]domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	return s.query(collection, filters), nil
}

func (s *Store) query(collection string, filters []domain.Filter) []domain.Document {
	docs := make([]domain.Document, 0, len(s.docs[collection]))
	for id, rec := range s.docs[collection] {
		if !domain.MatchAll(rec.data, filters) {
			continue
		}
		docs = append(docs, rec.document(domain.DocumentPath(collection, id)))
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path.DocumentID < docs[j].Path.DocumentID })
	return docs
}

// BatchCommit stages every write against a private overlay and only swaps it
// in once all writes succeeded when atomic is set.
func (s *Store) BatchCommit(ctx context.Context, writes []domain.PendingWrite, atomic bool) error {
	if len(writes) > s.maxBatch {
		return fmt.Errorf("%w: %d writes, limit %d", domain.ErrBatchTooLarge, len(writes), s.maxBatch)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return err
	}
	if !atomic {
		var errs []error
		for i, w := range writes {
			if err := s.apply(w, i, s.lookup, s.commit); err != nil {
				errs = append(errs, fmt.Errorf("write %d (%s %s): %w", i, w.Op, w.Path.Key(), err))
			}
		}
		return errors.Join(errs...)
	}

	staged := make(map[domain.ResourcePath]*record)
	deleted := make(map[domain.ResourcePath]bool)
	view := func(p domain.ResourcePath) *record {
		if deleted[p] {
			return nil
		}
		if r, ok := staged[p]; ok {
			return r
		}
		return s.lookup(p)
	}
	stage := func(p domain.ResourcePath, r *record) {
		if r == nil {
			deleted[p] = true
			delete(staged, p)
			return
		}
		delete(deleted, p)
		staged[p] = r
	}
	for i, w := range writes {
		if err := s.apply(w, i, view, stage); err != nil {
			return fmt.Errorf("write %d (%s %s): %w", i, w.Op, w.Path.Key(), err)
		}
	}
	for p := range deleted {
		s.commit(p, nil)
	}
	for p, r := range staged {
		s.commit(p, r)
	}
	return nil
}

func (s *Store) apply(
	w domain.PendingWrite,
	index int,
	view func(domain.ResourcePath) *record,
	commit func(domain.ResourcePath, *record),
) error {
	if err := documentPath(w.Path); err != nil {
		return err
	}
	if err := s.checkFault(w.Op, w.Path, index); err != nil {
		return err
	}
	cur := view(w.Path)
	switch w.Op {
	case domain.OpDelete:
		if cur != nil {
			commit(w.Path, nil)
		}
		return nil
	case domain.OpCreate:
		if cur != nil {
			return fmt.Errorf("%w: %s already exists", domain.ErrWriteFailed, w.Path.Key())
		}
	}
	fields, err := w.Fields()
	if err != nil {
		return err
	}
	commit(w.Path, s.next(cur, fields, w.Merge()))
	return nil
}

// commit installs r (nil deletes) and notifies watchers. Callers hold s.mu.
func (s *Store) commit(path domain.ResourcePath, r *record) {
	if r == nil {
		delete(s.docs[path.Collection], path.DocumentID)
	} else {
		col := s.docs[path.Collection]
		if col == nil {
			col = make(map[string]*record)
			s.docs[path.Collection] = col
		}
		col[path.DocumentID] = r
	}
	s.notify(path)
}

func (s *Store) next(cur *record, data map[string]any, merge bool) *record {
	s.seq++
	out := &record{version: s.seq, updated: s.now().UTC()}
	if merge && cur != nil {
		out.data = domain.MergeFields(cur.data, data)
	} else {
		out.data = domain.MergeFields(nil, data)
	}
	return out
}

func (s *Store) put(path domain.ResourcePath, cur *record, data map[string]any, merge bool) *record {
	rec := s.next(cur, data, merge)
	col := s.docs[path.Collection]
	if col == nil {
		col = make(map[string]*record)
		s.docs[path.Collection] = col
	}
	col[path.DocumentID] = rec
	return rec
}

// RunTransaction reads outside the write lock and commits only if the
// document version is unchanged.
func (s *Store) RunTransaction(ctx context.Context, path domain.ResourcePath, fn contracts.MutateFunc) (domain.Document, bool, error) {
	if err := documentPath(path); err != nil {
		return domain.Document{}, false, err
	}
	s.mu.RLock()
	if err := s.ready(ctx); err != nil {
		s.mu.RUnlock()
		return domain.Document{}, false, err
	}
	var (
		current domain.Document
		version int64
	)
	rec := s.lookup(path)
	exists := rec != nil
	if exists {
		current, version = rec.document(path), rec.version
	}
	s.mu.RUnlock()

	next, commit := fn(current, exists)
	if !commit {
		return current, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(ctx); err != nil {
		return domain.Document{}, false, err
	}
	now := s.lookup(path)
	if (now != nil) != exists || (now != nil && now.version != version) {
		return domain.Document{}, false, fmt.Errorf("%w: %s changed since read", domain.ErrTransactionConflict, path.Key())
	}
	if err := s.checkFault(domain.OpSet, path, 0); err != nil {
		return domain.Document{}, false, err
	}
	out := s.put(path, now, next, false)
	s.notify(path)
	return out.document(path), true, nil
}

// lookup returns the record at path. Callers hold s.mu.
func (s *Store) lookup(path domain.ResourcePath) *record {
	return s.docs[path.Collection][path.DocumentID]
}

func (r *record) document(path domain.ResourcePath) domain.Document {
	return domain.Document{
		Path:      path,
		Data:      domain.MergeFields(nil, r.data),
		Version:   r.version,
		UpdatedAt: r.updated,
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ws := make([]*watch, 0, len(s.watches))
	for w := range s.watches {
		ws = append(ws, w)
	}
	s.mu.Unlock()
	for _, w := range ws {
		w.Stop()
	}
	return nil
}
