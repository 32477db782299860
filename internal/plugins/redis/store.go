package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"possync/internal/core/contracts"
	"possync/internal/core/domain"
	"possync/internal/platform/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultMaxBatchSize keeps one MULTI/EXEC block well under proto limits.
const DefaultMaxBatchSize = 500

// maxOptimisticRuns bounds internal WATCH retries for plain and batch writes.
// User transactions surface conflicts to the coordinator instead.
const maxOptimisticRuns = 10

// DocumentStore keeps each document in a hash {prefix}:doc:{collection}:{id}
// (fields data, version, updated_at) and indexes ids per collection in a set.
// Every commit publishes the changed path on {prefix}:changes.
type DocumentStore struct {
	rdb      *redis.Client
	prefix   string
	maxBatch int
	now      func() time.Time
}

type Option func(*DocumentStore)

func WithMaxBatchSize(n int) Option {
	return func(s *DocumentStore) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

func NewDocumentStore(rdb *redis.Client, prefix string, opts ...Option) *DocumentStore {
	if prefix == "" {
		prefix = "possync"
	}
	s := &DocumentStore{rdb: rdb, prefix: prefix, maxBatch: DefaultMaxBatchSize, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ contracts.DocumentStore = (*DocumentStore)(nil)

func (s *DocumentStore) docKey(p domain.ResourcePath) string {
	return s.prefix + ":doc:" + p.Collection + ":" + p.DocumentID
}

func (s *DocumentStore) indexKey(collection string) string {
	return s.prefix + ":idx:" + collection
}

func (s *DocumentStore) changesChannel() string {
	return s.prefix + ":changes"
}

func (s *DocumentStore) MaxBatchSize() int { return s.maxBatch }

func (s *DocumentStore) NewDocumentID(string) string { return uuid.NewString() }

func (s *DocumentStore) Close() error { return s.rdb.Close() }

func documentPath(path domain.ResourcePath) error {
	if err := path.Validate(); err != nil {
		return err
	}
	if path.IsCollection() {
		return fmt.Errorf("%w: %s is a collection", domain.ErrInvalidPath, path.Key())
	}
	return nil
}

// reader is the part of the client and of a WATCHing tx used for reads.
type reader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	SMembers(ctx context.Context, key string) *redis.StringSliceCmd
}

// load reads a document through c, which is either the client or a WATCHing tx.
func (s *DocumentStore) load(ctx context.Context, c reader, path domain.ResourcePath) (domain.Document, bool, error) {
	m, err := c.HGetAll(ctx, s.docKey(path)).Result()
	if err != nil {
		return domain.Document{}, false, mapErr(err)
	}
	if len(m) == 0 {
		return domain.Document{Path: path}, false, nil
	}
	doc, err := decodeHash(path, m)
	return doc, err == nil, err
}

func decodeHash(path domain.ResourcePath, m map[string]string) (domain.Document, error) {
	doc := domain.Document{Path: path}
	if err := json.Unmarshal([]byte(m["data"]), &doc.Data); err != nil {
		return doc, fmt.Errorf("%w: %s: %v", domain.ErrDecoding, path.Key(), err)
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}
	doc.Version, _ = strconv.ParseInt(m["version"], 10, 64)
	if ns, err := strconv.ParseInt(m["updated_at"], 10, 64); err == nil {
		doc.UpdatedAt = time.Unix(0, ns).UTC()
	}
	return doc, nil
}

// queueWrite adds the commands storing data at path to a MULTI block.
func (s *DocumentStore) queueWrite(ctx context.Context, p redis.Pipeliner, path domain.ResourcePath, data map[string]any, at time.Time) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", domain.ErrWriteFailed, path.Key(), err)
	}
	key := s.docKey(path)
	p.HSet(ctx, key, "data", b, "updated_at", at.UnixNano())
	p.HIncrBy(ctx, key, "version", 1)
	p.SAdd(ctx, s.indexKey(path.Collection), path.DocumentID)
	p.Publish(ctx, s.changesChannel(), path.Key())
	return nil
}

func (s *DocumentStore) queueDelete(ctx context.Context, p redis.Pipeliner, path domain.ResourcePath) {
	p.Del(ctx, s.docKey(path))
	p.SRem(ctx, s.indexKey(path.Collection), path.DocumentID)
	p.Publish(ctx, s.changesChannel(), path.Key())
}

func (s *DocumentStore) Get(ctx context.Context, path domain.ResourcePath) (domain.Document, error) {
	if err := documentPath(path); err != nil {
		return domain.Document{}, err
	}
	doc, exists, err := s.load(ctx, s.rdb, path)
	if err != nil {
		return domain.Document{}, err
	}
	if !exists {
		return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrNotFound, path.Key())
	}
	return doc, nil
}

// Set writes data at path. A merge needs the current fields, so it runs
// under WATCH and re-runs if the document moves underneath it.
func (s *DocumentStore) Set(ctx context.Context, path domain.ResourcePath, data map[string]any, merge bool) (domain.Document, error) {
	if err := documentPath(path); err != nil {
		return domain.Document{}, err
	}
	var out domain.Document
	err := s.optimistic(ctx, func(tx *redis.Tx) error {
		next := domain.MergeFields(nil, data)
		var version int64
		if cur, exists, err := s.load(ctx, tx, path); err != nil {
			return err
		} else if exists {
			version = cur.Version
			if merge {
				next = domain.MergeFields(cur.Data, data)
			}
		}
		at := s.now().UTC()
		_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			return s.queueWrite(ctx, p, path, next, at)
		})
		if err != nil {
			return err
		}
		out = domain.Document{Path: path, Data: next, Version: version + 1, UpdatedAt: at}
		return nil
	}, s.docKey(path))
	return out, err
}

func (s *DocumentStore) Delete(ctx context.Context, path domain.ResourcePath) error {
	if err := documentPath(path); err != nil {
		return err
	}
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		s.queueDelete(ctx, p, path)
		return nil
	})
	return mapErr(err)
}

func (s *DocumentStore) Query(ctx context.Context, collection string, filters []domain.Filter) ([]domain.Document, error) {
	return s.query(ctx, s.rdb, collection, filters)
}

func (s *DocumentStore) query(ctx context.Context, c reader, collection string, filters []domain.Filter) ([]domain.Document, error) {
	ids, err := c.SMembers(ctx, s.indexKey(collection)).Result()
	if err != nil {
		return nil, mapErr(err)
	}
	sort.Strings(ids)
	cmds, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			p.HGetAll(ctx, s.docKey(domain.DocumentPath(collection, id)))
		}
		return nil
	})
	if err != nil {
		return nil, mapErr(err)
	}
	docs := make([]domain.Document, 0, len(ids))
	for i, cmd := range cmds {
		m, err := cmd.(*redis.MapStringStringCmd).Result()
		if err != nil || len(m) == 0 {
			continue // removed between SMEMBERS and HGETALL
		}
		doc, err := decodeHash(domain.DocumentPath(collection, ids[i]), m)
		if err != nil {
			metrics.DocumentSkipped()
			continue
		}
		if domain.MatchAll(doc.Data, filters) {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// BatchCommit applies writes in one MULTI/EXEC. Atomic batches WATCH every
// target so a concurrent change re-runs validation.
func (s *DocumentStore) BatchCommit(ctx context.Context, writes []domain.PendingWrite, atomic bool) error {
	if len(writes) > s.maxBatch {
		return fmt.Errorf("%w: %d writes, limit %d", domain.ErrBatchTooLarge, len(writes), s.maxBatch)
	}
	for _, w := range writes {
		if err := documentPath(w.Path); err != nil {
			return err
		}
	}
	if !atomic {
		var errs []error
		for i, w := range writes {
			if err := s.applyOne(ctx, w); err != nil {
				errs = append(errs, fmt.Errorf("write %d (%s %s): %w", i, w.Op, w.Path.Key(), err))
			}
		}
		return errors.Join(errs...)
	}

	keys := make([]string, len(writes))
	for i, w := range writes {
		keys[i] = s.docKey(w.Path)
	}
	return s.optimistic(ctx, func(tx *redis.Tx) error {
		view := make(map[domain.ResourcePath]*domain.Document)
		lookup := func(p domain.ResourcePath) (*domain.Document, error) {
			if d, ok := view[p]; ok {
				return d, nil
			}
			d, exists, err := s.load(ctx, tx, p)
			if err != nil {
				return nil, err
			}
			if !exists {
				view[p] = nil
				return nil, nil
			}
			view[p] = &d
			return &d, nil
		}
		type step struct {
			path domain.ResourcePath
			data map[string]any // nil deletes
		}
		steps := make([]step, 0, len(writes))
		for i, w := range writes {
			cur, err := lookup(w.Path)
			if err != nil {
				return err
			}
			if w.Op == domain.OpDelete {
				view[w.Path] = nil
				steps = append(steps, step{path: w.Path})
				continue
			}
			if w.Op == domain.OpCreate && cur != nil {
				return fmt.Errorf("write %d (%s %s): %w: already exists", i, w.Op, w.Path.Key(), domain.ErrWriteFailed)
			}
			fields, err := w.Fields()
			if err != nil {
				return fmt.Errorf("write %d (%s %s): %w", i, w.Op, w.Path.Key(), err)
			}
			next := domain.MergeFields(nil, fields)
			if w.Merge() && cur != nil {
				next = domain.MergeFields(cur.Data, fields)
			}
			view[w.Path] = &domain.Document{Path: w.Path, Data: next}
			steps = append(steps, step{path: w.Path, data: next})
		}
		at := s.now().UTC()
		_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, st := range steps {
				if st.data == nil {
					s.queueDelete(ctx, p, st.path)
					continue
				}
				if err := s.queueWrite(ctx, p, st.path, st.data, at); err != nil {
					return err
				}
			}
			return nil
		})
		return err
	}, keys...)
}

func (s *DocumentStore) applyOne(ctx context.Context, w domain.PendingWrite) error {
	if w.Op == domain.OpDelete {
		return s.Delete(ctx, w.Path)
	}
	fields, err := w.Fields()
	if err != nil {
		return err
	}
	if w.Op != domain.OpCreate {
		_, err = s.Set(ctx, w.Path, fields, w.Merge())
		return err
	}
	return s.optimistic(ctx, func(tx *redis.Tx) error {
		if _, exists, err := s.load(ctx, tx, w.Path); err != nil {
			return err
		} else if exists {
			return fmt.Errorf("%w: %s already exists", domain.ErrWriteFailed, w.Path.Key())
		}
		at := s.now().UTC()
		_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			return s.queueWrite(ctx, p, w.Path, fields, at)
		})
		return err
	}, s.docKey(w.Path))
}

// RunTransaction makes a single optimistic attempt. A concurrent write to the
// document between read and EXEC fails it with ErrTransactionConflict.
func (s *DocumentStore) RunTransaction(ctx context.Context, path domain.ResourcePath, fn contracts.MutateFunc) (domain.Document, bool, error) {
	if err := documentPath(path); err != nil {
		return domain.Document{}, false, err
	}
	var (
		out       domain.Document
		committed bool
	)
	err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, exists, err := s.load(ctx, tx, path)
		if err != nil {
			return err
		}
		next, commit := fn(cur, exists)
		if !commit {
			out = cur
			return nil
		}
		at := s.now().UTC()
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			return s.queueWrite(ctx, p, path, next, at)
		})
		if err != nil {
			return err
		}
		out = domain.Document{Path: path, Data: domain.MergeFields(nil, next), Version: cur.Version + 1, UpdatedAt: at}
		committed = true
		return nil
	}, s.docKey(path))
	if err != nil {
		return domain.Document{}, false, mapErr(err)
	}
	return out, committed, nil
}

// optimistic runs fn under WATCH keys, re-running it while EXEC is aborted by
// a concurrent writer.
func (s *DocumentStore) optimistic(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	var err error
	for i := 0; i < maxOptimisticRuns; i++ {
		err = s.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return mapErr(err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return mapErr(err)
}
