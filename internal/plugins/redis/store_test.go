package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"possync/internal/core/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T, opts ...Option) (*DocumentStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewDocumentStore(rdb, "test", opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func mustWrite(t *testing.T, op domain.WriteOp, path domain.ResourcePath, payload any) domain.PendingWrite {
	t.Helper()
	w, err := domain.NewPendingWrite(op, path, payload)
	if err != nil {
		t.Fatalf("pending write: %v", err)
	}
	return w
}

func TestSetGetMerge(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	p := domain.DocumentPath("menu_items", "latte")

	if _, err := s.Set(ctx, p, map[string]any{"name": "Latte", "price": 4.5}, false); err != nil {
		t.Fatalf("set: %v", err)
	}
	doc, err := s.Set(ctx, p, map[string]any{"price": 5.0}, true)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if doc.Version != 2 {
		t.Fatalf("expected version 2, got %d", doc.Version)
	}
	got, err := s.Get(ctx, p)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Data["name"] != "Latte" || got.Data["price"] != 5.0 {
		t.Fatalf("merge lost fields: %v", got.Data)
	}
}

func TestGetMissing(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Get(context.Background(), domain.DocumentPath("menu_items", "nope"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	p := domain.DocumentPath("staff", "ana")
	if _, err := s.Set(ctx, p, map[string]any{"name": "Ana"}, false); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Delete(ctx, p); err != nil {
			t.Fatalf("delete %d: %v", i, err)
		}
	}
	docs, err := s.Query(ctx, "staff", nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected empty collection, got %d", len(docs))
	}
}

func TestQueryFiltersAndSkipsCorrupt(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	for id, price := range map[string]float64{"a": 2, "b": 5, "c": 9} {
		if _, err := s.Set(ctx, domain.DocumentPath("menu_items", id), map[string]any{"price": price}, false); err != nil {
			t.Fatal(err)
		}
	}
	mr.HSet("test:doc:menu_items:d", "data", "{not json")
	mr.SAdd("test:idx:menu_items", "d")

	docs, err := s.Query(ctx, "menu_items", []domain.Filter{domain.Where("price", domain.OpGte, 5)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(docs) != 2 || docs[0].ID() != "b" || docs[1].ID() != "c" {
		t.Fatalf("unexpected result %+v", docs)
	}
}

func TestAtomicBatchAllOrNothing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	existing := domain.DocumentPath("inventory", "milk")
	if _, err := s.Set(ctx, existing, map[string]any{"quantity": 3}, false); err != nil {
		t.Fatal(err)
	}
	writes := []domain.PendingWrite{
		mustWrite(t, domain.OpSet, domain.DocumentPath("inventory", "beans"), map[string]any{"quantity": 10}),
		mustWrite(t, domain.OpUpdate, existing, map[string]any{"quantity": 4}),
		mustWrite(t, domain.OpCreate, existing, map[string]any{"quantity": 99}),
	}
	err := s.BatchCommit(ctx, writes, true)
	if !errors.Is(err, domain.ErrWriteFailed) {
		t.Fatalf("expected write failed, got %v", err)
	}
	if _, err := s.Get(ctx, domain.DocumentPath("inventory", "beans")); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("first write leaked: %v", err)
	}
	doc, err := s.Get(ctx, existing)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Data["quantity"] != 3.0 {
		t.Fatalf("second write leaked: %v", doc.Data)
	}
}

func TestBatchTooLarge(t *testing.T) {
	s, _ := newTestStore(t, WithMaxBatchSize(2))
	writes := make([]domain.PendingWrite, 3)
	for i := range writes {
		writes[i] = mustWrite(t, domain.OpDelete, domain.DocumentPath("staff", "x"), nil)
	}
	if err := s.BatchCommit(context.Background(), writes, true); !errors.Is(err, domain.ErrBatchTooLarge) {
		t.Fatalf("expected batch too large, got %v", err)
	}
}

func TestRunTransactionConflict(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	p := domain.DocumentPath("counters", "orders")
	if _, err := s.Set(ctx, p, map[string]any{"value": 1}, false); err != nil {
		t.Fatal(err)
	}
	_, _, err := s.RunTransaction(ctx, p, func(cur domain.Document, exists bool) (map[string]any, bool) {
		// a second writer lands between read and commit
		if _, err := s.Set(ctx, p, map[string]any{"value": 100}, false); err != nil {
			t.Errorf("concurrent set: %v", err)
		}
		return map[string]any{"value": cur.Data["value"].(float64) + 1}, true
	})
	if !errors.Is(err, domain.ErrTransactionConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	doc, _, err := s.RunTransaction(ctx, p, func(cur domain.Document, exists bool) (map[string]any, bool) {
		return map[string]any{"value": cur.Data["value"].(float64) + 1}, true
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if doc.Data["value"] != 101.0 {
		t.Fatalf("expected 101, got %v", doc.Data["value"])
	}
}

func TestRunTransactionAbort(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	p := domain.DocumentPath("counters", "refunds")
	_, committed, err := s.RunTransaction(ctx, p, func(domain.Document, bool) (map[string]any, bool) {
		return nil, false
	})
	if err != nil || committed {
		t.Fatalf("expected clean abort, got committed=%v err=%v", committed, err)
	}
	if _, err := s.Get(ctx, p); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("abort wrote a document: %v", err)
	}
}

func TestWatchDeliversChanges(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	col := domain.CollectionPath("menu_items")

	snaps := make(chan domain.Snapshot, 16)
	w, err := s.Watch(ctx, col, func(snap domain.Snapshot, err error) {
		if err != nil {
			t.Errorf("watch error: %v", err)
			return
		}
		snaps <- snap
	})
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer w.Stop()

	first := waitSnapshot(t, snaps)
	if len(first.Documents) != 0 {
		t.Fatalf("expected empty initial snapshot, got %d docs", len(first.Documents))
	}
	if _, err := s.Set(ctx, col.Doc("mocha"), map[string]any{"name": "Mocha"}, false); err != nil {
		t.Fatal(err)
	}
	// unrelated collections never wake the watch
	if _, err := s.Set(ctx, domain.DocumentPath("staff", "bo"), map[string]any{"name": "Bo"}, false); err != nil {
		t.Fatal(err)
	}
	for {
		snap := waitSnapshot(t, snaps)
		if len(snap.Documents) == 1 && snap.Documents[0].ID() == "mocha" {
			return
		}
	}
}

func TestWatchStopSilencesHandler(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	p := domain.DocumentPath("menu_items", "tea")
	calls := make(chan struct{}, 16)
	w, err := s.Watch(ctx, p, func(domain.Snapshot, error) { calls <- struct{}{} })
	if err != nil {
		t.Fatal(err)
	}
	<-calls
	w.Stop()
	w.Stop()
	if _, err := s.Set(ctx, p, map[string]any{"name": "Tea"}, false); err != nil {
		t.Fatal(err)
	}
	select {
	case <-calls:
		t.Fatal("handler ran after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func waitSnapshot(t *testing.T, ch <-chan domain.Snapshot) domain.Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return domain.Snapshot{}
}

func TestMapErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil key", redis.Nil, domain.ErrNotFound},
		{"tx aborted", redis.TxFailedErr, domain.ErrTransactionConflict},
		{"closed", redis.ErrClosed, domain.ErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapErr(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("mapErr(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
	if !domain.Transient(domain.Classify("get", domain.ResourcePath{}, mapErr(redis.ErrClosed))) {
		t.Fatal("closed client should classify as transient")
	}
}

func TestAffectsNestedCollections(t *testing.T) {
	nested := domain.CollectionPath("shops/s1/menus")
	tests := []struct {
		watched domain.ResourcePath
		key     string
		want    bool
	}{
		{nested, "shops/s1/menus/m1", true},
		{nested, "shops/s1", false},
		{domain.DocumentPath("shops", "s1"), "shops/s1", true},
		{domain.DocumentPath("shops", "s1"), "shops/s1/menus/m1", false},
		{domain.CollectionPath("shops"), "shops/s1", true},
	}
	for _, tt := range tests {
		if got := affects(tt.watched, tt.key); got != tt.want {
			t.Errorf("affects(%s, %q) = %v, want %v", tt.watched, tt.key, got, tt.want)
		}
	}
}
