package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"possync/internal/core/contracts"
	"possync/internal/core/domain"
	"possync/internal/platform/metrics"

	"github.com/google/uuid"
)

// DefaultMaxBatchSize bounds the statements issued inside one batch transaction.
const DefaultMaxBatchSize = 500

// DocumentStore keeps documents as jsonb rows keyed by (collection, id). The
// version column drives optimistic transactions; a row trigger NOTIFYs every
// change for watches.
type DocumentStore struct {
	db       *sql.DB
	maxBatch int

	mu       sync.Mutex
	listener *listener
	watches  map[*watch]struct{}
}

type Option func(*DocumentStore)

func WithMaxBatchSize(n int) Option {
	return func(s *DocumentStore) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

func NewDocumentStore(db *sql.DB, opts ...Option) *DocumentStore {
	s := &DocumentStore{
		db:       db,
		maxBatch: DefaultMaxBatchSize,
		watches:  make(map[*watch]struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ contracts.DocumentStore = (*DocumentStore)(nil)

func (s *DocumentStore) MaxBatchSize() int { return s.maxBatch }

func (s *DocumentStore) NewDocumentID(string) string { return uuid.NewString() }

func documentPath(path domain.ResourcePath) error {
	if err := path.Validate(); err != nil {
		return err
	}
	if path.IsCollection() {
		return fmt.Errorf("%w: %s is a collection", domain.ErrInvalidPath, path.Key())
	}
	return nil
}

func scanDocument(path domain.ResourcePath, raw []byte, version int64, updated time.Time) (domain.Document, error) {
	doc := domain.Document{Path: path, Version: version, UpdatedAt: updated.UTC()}
	if err := json.Unmarshal(raw, &doc.Data); err != nil {
		return doc, fmt.Errorf("%w: %s: %v", domain.ErrDecoding, path.Key(), err)
	}
	if doc.Data == nil {
		doc.Data = map[string]any{}
	}
	return doc, nil
}

func encode(path domain.ResourcePath, data map[string]any) ([]byte, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrWriteFailed, path.Key(), err)
	}
	return b, nil
}

func (s *DocumentStore) Get(ctx context.Context, path domain.ResourcePath) (domain.Document, error) {
	if err := documentPath(path); err != nil {
		return domain.Document{}, err
	}
	doc, exists, err := s.load(ctx, path)
	if err != nil {
		return domain.Document{}, err
	}
	if !exists {
		return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrNotFound, path.Key())
	}
	return doc, nil
}

func (s *DocumentStore) load(ctx context.Context, path domain.ResourcePath) (domain.Document, bool, error) {
	var (
		raw     []byte
		version int64
		updated time.Time
	)
	exec := GetExecutor(ctx, s.db)
	err := exec.QueryRowContext(ctx,
		`SELECT data, version, updated_at FROM documents WHERE collection = $1 AND id = $2`,
		path.Collection, path.DocumentID,
	).Scan(&raw, &version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{Path: path}, false, nil
	}
	if err != nil {
		return domain.Document{}, false, mapErr(err)
	}
	doc, err := scanDocument(path, raw, version, updated)
	return doc, err == nil, err
}

func (s *DocumentStore) Set(ctx context.Context, path domain.ResourcePath, data map[string]any, merge bool) (domain.Document, error) {
	if err := documentPath(path); err != nil {
		return domain.Document{}, err
	}
	return s.upsert(ctx, path, data, merge)
}

func (s *DocumentStore) upsert(ctx context.Context, path domain.ResourcePath, data map[string]any, merge bool) (domain.Document, error) {
	b, err := encode(path, data)
	if err != nil {
		return domain.Document{}, err
	}
	set := "EXCLUDED.data"
	if merge {
		set = "documents.data || EXCLUDED.data"
	}
	var (
		raw     []byte
		version int64
		updated time.Time
	)
	exec := GetExecutor(ctx, s.db)
	err = exec.QueryRowContext(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO UPDATE
		SET data = `+set+`, version = documents.version + 1, updated_at = now()
		RETURNING data, version, updated_at`,
		path.Collection, path.DocumentID, b,
	).Scan(&raw, &version, &updated)
	if err != nil {
		return domain.Document{}, mapErr(err)
	}
	return scanDocument(path, raw, version, updated)
}

// insert fails with ErrWriteFailed when the document already exists.
func (s *DocumentStore) insert(ctx context.Context, path domain.ResourcePath, data map[string]any) error {
	b, err := encode(path, data)
	if err != nil {
		return err
	}
	exec := GetExecutor(ctx, s.db)
	res, err := exec.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data)
		VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (collection, id) DO NOTHING`,
		path.Collection, path.DocumentID, b,
	)
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s already exists", domain.ErrWriteFailed, path.Key())
	}
	return nil
}

func (s *DocumentStore) Delete(ctx context.Context, path domain.ResourcePath) error {
	if err := documentPath(path); err != nil {
		return err
	}
	exec := GetExecutor(ctx, s.db)
	_, err := exec.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		path.Collection, path.DocumentID,
	)
	return mapErr(err)
}

// Query pushes equality filters down as jsonb containment; the remaining
// comparisons run on the decoded documents.
func (s *DocumentStore) Query(ctx context.Context, collection string, filters []domain.Filter) ([]domain.Document, error) {
	var (
		where strings.Builder
		args  = []any{collection}
		rest  []domain.Filter
	)
	where.WriteString("collection = $1")
	for _, f := range filters {
		if f.Op != domain.OpEq {
			rest = append(rest, f)
			continue
		}
		b, err := json.Marshal(map[string]any{f.Field: f.Value})
		if err != nil {
			rest = append(rest, f)
			continue
		}
		args = append(args, b)
		where.WriteString(" AND data @> $" + strconv.Itoa(len(args)) + "::jsonb")
	}
	exec := GetExecutor(ctx, s.db)
	rows, err := exec.QueryContext(ctx,
		`SELECT id, data, version, updated_at FROM documents WHERE `+where.String()+` ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()
	var docs []domain.Document
	for rows.Next() {
		var (
			id      string
			raw     []byte
			version int64
			updated time.Time
		)
		if err := rows.Scan(&id, &raw, &version, &updated); err != nil {
			return nil, mapErr(err)
		}
		doc, err := scanDocument(domain.DocumentPath(collection, id), raw, version, updated)
		if err != nil {
			metrics.DocumentSkipped()
			continue
		}
		if domain.MatchAll(doc.Data, rest) {
			docs = append(docs, doc)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return docs, nil
}

// BatchCommit runs every write in one SQL transaction when atomic; otherwise
// each write commits on its own and failures are joined.
func (s *DocumentStore) BatchCommit(ctx context.Context, writes []domain.PendingWrite, atomic bool) error {
	if len(writes) > s.maxBatch {
		return fmt.Errorf("%w: %d writes, limit %d", domain.ErrBatchTooLarge, len(writes), s.maxBatch)
	}
	if !atomic {
		var errs []error
		for i, w := range writes {
			if err := s.apply(ctx, w); err != nil {
				errs = append(errs, fmt.Errorf("write %d (%s %s): %w", i, w.Op, w.Path.Key(), err))
			}
		}
		return errors.Join(errs...)
	}
	err := WithTx(ctx, s.db, func(ctx context.Context) error {
		for i, w := range writes {
			if err := s.apply(ctx, w); err != nil {
				return fmt.Errorf("write %d (%s %s): %w", i, w.Op, w.Path.Key(), err)
			}
		}
		return nil
	})
	return mapErr(err)
}

func (s *DocumentStore) apply(ctx context.Context, w domain.PendingWrite) error {
	if err := documentPath(w.Path); err != nil {
		return err
	}
	if w.Op == domain.OpDelete {
		return s.Delete(ctx, w.Path)
	}
	fields, err := w.Fields()
	if err != nil {
		return err
	}
	if w.Op == domain.OpCreate {
		return s.insert(ctx, w.Path, fields)
	}
	_, err = s.upsert(ctx, w.Path, fields, w.Merge())
	return err
}

// RunTransaction reads the row, runs fn and writes back only if the version
// is still the one read. A lost race fails with ErrTransactionConflict.
func (s *DocumentStore) RunTransaction(ctx context.Context, path domain.ResourcePath, fn contracts.MutateFunc) (domain.Document, bool, error) {
	if err := documentPath(path); err != nil {
		return domain.Document{}, false, err
	}
	cur, exists, err := s.load(ctx, path)
	if err != nil {
		return domain.Document{}, false, err
	}
	next, commit := fn(cur, exists)
	if !commit {
		return cur, false, nil
	}
	b, err := encode(path, next)
	if err != nil {
		return domain.Document{}, false, err
	}
	var (
		raw     []byte
		version int64
		updated time.Time
	)
	exec := GetExecutor(ctx, s.db)
	if exists {
		err = exec.QueryRowContext(ctx, `
			UPDATE documents SET data = $3::jsonb, version = version + 1, updated_at = now()
			WHERE collection = $1 AND id = $2 AND version = $4
			RETURNING data, version, updated_at`,
			path.Collection, path.DocumentID, b, cur.Version,
		).Scan(&raw, &version, &updated)
	} else {
		err = exec.QueryRowContext(ctx, `
			INSERT INTO documents (collection, id, data)
			VALUES ($1, $2, $3::jsonb)
			ON CONFLICT (collection, id) DO NOTHING
			RETURNING data, version, updated_at`,
			path.Collection, path.DocumentID, b,
		).Scan(&raw, &version, &updated)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Document{}, false, fmt.Errorf("%w: %s changed since read", domain.ErrTransactionConflict, path.Key())
	}
	if err != nil {
		return domain.Document{}, false, mapErr(err)
	}
	doc, err := scanDocument(path, raw, version, updated)
	return doc, err == nil, err
}

func (s *DocumentStore) Close() error {
	s.mu.Lock()
	l := s.listener
	s.listener = nil
	ws := make([]*watch, 0, len(s.watches))
	for w := range s.watches {
		ws = append(ws, w)
	}
	s.mu.Unlock()
	for _, w := range ws {
		w.Stop()
	}
	if l != nil {
		l.stop()
	}
	return s.db.Close()
}
