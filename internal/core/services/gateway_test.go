package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"possync/internal/core/domain"
)

func TestGatewayCreateGetUpdate(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	items := NewGateway[domain.MenuItem](e, NewJSONCodec[domain.MenuItem]())
	ctx := context.Background()
	col := domain.ShopPath("s1", domain.CollectionMenuItems, "")

	created, err := items.Create(ctx, col, domain.MenuItem{Name: "Latte", Price: 4.5, Available: true})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("create did not assign an id")
	}
	path := col.Doc(created.ID)

	updated, err := items.Update(ctx, path, domain.MenuItem{Price: 5})
	if err != nil {
		t.Fatal(err)
	}
	if updated.Name != "Latte" || updated.Price != 5 || !updated.Available {
		t.Fatalf("update did not merge: %+v", updated)
	}

	got, err := items.Get(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != updated.ID || got.Name != updated.Name || got.Price != updated.Price {
		t.Fatalf("get = %+v, want %+v", got, updated)
	}

	fixed, err := items.Create(ctx, col, domain.MenuItem{ID: "espresso", Name: "Espresso"})
	if err != nil || fixed.ID != "espresso" {
		t.Fatalf("create with id: %+v %v", fixed, err)
	}
}

func TestGatewayReplaceAndPatch(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	staff := NewGateway[domain.StaffMember](e, NewJSONCodec[domain.StaffMember]())
	ctx := context.Background()
	path := domain.ShopPath("s1", domain.CollectionStaff, "ana")

	if _, err := staff.Replace(ctx, path, domain.StaffMember{Name: "Ana", Role: "barista", Active: true}); err != nil {
		t.Fatal(err)
	}
	got, err := staff.Patch(ctx, path, map[string]any{"active": false})
	if err != nil {
		t.Fatal(err)
	}
	if got.Active || got.Role != "barista" || got.ID != "ana" {
		t.Fatalf("patch: %+v", got)
	}
	got, err = staff.Replace(ctx, path, domain.StaffMember{Name: "Ana"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Role != "" {
		t.Fatalf("replace kept old fields: %+v", got)
	}
}

func TestGatewayErrors(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	items := NewGateway[domain.MenuItem](e, NewJSONCodec[domain.MenuItem]())
	ctx := context.Background()
	col := domain.CollectionPath("menu_items")

	if _, err := items.Get(ctx, col.Doc("missing")); kindOf(t, err) != domain.ErrNotFound {
		t.Fatalf("missing: %v", err)
	}
	if _, err := items.Get(ctx, col); kindOf(t, err) != domain.ErrNotFound {
		t.Fatalf("collection get: %v", err)
	}
	if _, err := items.Update(ctx, col, domain.MenuItem{}); kindOf(t, err) != domain.ErrWriteFailed {
		t.Fatalf("collection update: %v", err)
	}
	if err := items.Delete(ctx, col.Doc("missing")); err != nil {
		t.Fatalf("delete missing: %v", err)
	}

	if _, err := store.Set(ctx, col.Doc("bad"), map[string]any{"price": "free"}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := items.Get(ctx, col.Doc("bad")); kindOf(t, err) != domain.ErrDecoding {
		t.Fatalf("malformed get: %v", err)
	}
	if _, err := items.Create(ctx, col, domain.MenuItem{ID: "ok", Name: "Tea"}); err != nil {
		t.Fatal(err)
	}
	all, err := items.GetAll(ctx, col)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != "ok" {
		t.Fatalf("GetAll should skip the malformed document: %+v", all)
	}

	store.Close()
	if _, err := items.Get(ctx, col.Doc("ok")); kindOf(t, err) != domain.ErrTransport {
		t.Fatalf("closed store: %v", err)
	}
}

func TestGatewayRetriesTransientWrites(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	items := NewGateway[domain.MenuItem](e, NewJSONCodec[domain.MenuItem]())
	ctx := context.Background()

	var calls atomic.Int32
	store.SetFault(func(domain.WriteOp, domain.ResourcePath, int) error {
		if calls.Add(1) <= 2 {
			return domain.ErrUnavailable
		}
		return nil
	})
	if _, err := items.Create(ctx, domain.CollectionPath("menu_items"), domain.MenuItem{Name: "Mocha"}); err != nil {
		t.Fatalf("create should succeed on the third attempt: %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("attempts = %d", calls.Load())
	}

	store.SetFault(func(domain.WriteOp, domain.ResourcePath, int) error { return domain.ErrUnavailable })
	_, err := items.Create(ctx, domain.CollectionPath("menu_items"), domain.MenuItem{Name: "Chai"})
	if kindOf(t, err) != domain.ErrTransport || !domain.Transient(err) {
		t.Fatalf("exhausted retries: %v", err)
	}

	denied := errors.New("rejected by rules")
	calls.Store(0)
	store.SetFault(func(domain.WriteOp, domain.ResourcePath, int) error {
		calls.Add(1)
		return denied
	})
	_, err = items.Create(ctx, domain.CollectionPath("menu_items"), domain.MenuItem{Name: "Chai"})
	if kindOf(t, err) != domain.ErrWriteFailed || calls.Load() != 1 {
		t.Fatalf("permanent failure must not retry: %v after %d calls", err, calls.Load())
	}
}

func TestGatewayTransactDecodeFailure(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	inv := NewInventoryService(e)
	ctx := context.Background()
	path := inv.Items("s1").Doc("milk")
	if _, err := store.Set(ctx, path, map[string]any{"quantity": "lots"}, false); err != nil {
		t.Fatal(err)
	}
	if _, err := inv.Adjust(ctx, "s1", "milk", 1); kindOf(t, err) != domain.ErrDecoding {
		t.Fatalf("got %v", err)
	}
}
