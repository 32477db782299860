package services

import (
	"context"
	"testing"

	"possync/internal/core/domain"
	"possync/internal/plugins/memory"
)

func TestMenuSetAvailabilityIsAtomic(t *testing.T) {
	e, store := newTestEngine(t, Options{})
	menu := NewMenuService(e)
	ctx := context.Background()

	for _, id := range []string{"latte", "mocha"} {
		if _, err := menu.AddItem(ctx, "s1", domain.MenuItem{ID: id, Name: id, Price: 4, Available: true}); err != nil {
			t.Fatal(err)
		}
	}
	if err := menu.SetAvailability(ctx, "s1", []string{"latte", "mocha"}, false); err != nil {
		t.Fatal(err)
	}
	items, err := menu.ListItems(ctx, "s1", domain.Where("available", domain.OpEq, false))
	if err != nil || len(items) != 2 {
		t.Fatalf("got %d unavailable items, %v", len(items), err)
	}
	if items[0].Price != 4 {
		t.Fatal("availability update replaced the item")
	}

	store.SetFault(func(_ domain.WriteOp, _ domain.ResourcePath, index int) error {
		if index == 1 {
			return domain.ErrUnavailable
		}
		return nil
	})
	err = menu.SetAvailability(ctx, "s1", []string{"latte", "mocha"}, true)
	if kindOf(t, err) != domain.ErrTransport {
		t.Fatalf("got %v", err)
	}
	store.SetFault(nil)
	item, err := menu.Item(ctx, "s1", "latte")
	if err != nil {
		t.Fatal(err)
	}
	if item.Available {
		t.Fatal("failed atomic batch changed the first item")
	}
}

func TestMenusAndStaff(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	ctx := context.Background()
	menu := NewMenuService(e)
	staff := NewStaffService(e)

	if _, err := menu.CreateMenu(ctx, "s1", domain.Menu{Name: "Breakfast", Active: true}); err != nil {
		t.Fatal(err)
	}
	menus, err := menu.ListMenus(ctx, "s1")
	if err != nil || len(menus) != 1 || menus[0].ID == "" {
		t.Fatalf("menus = %+v, %v", menus, err)
	}

	ana, err := staff.Add(ctx, "s1", domain.StaffMember{Name: "Ana", Role: "barista"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := staff.Add(ctx, "s1", domain.StaffMember{Name: "Ben", Role: "cashier"}); err != nil {
		t.Fatal(err)
	}
	if err := staff.Deactivate(ctx, "s1", ana.ID); err != nil {
		t.Fatal(err)
	}
	active, err := staff.Active(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Name != "Ben" {
		t.Fatalf("active staff = %+v", active)
	}
	if err := menu.RemoveItem(ctx, "s1", "never-existed"); err != nil {
		t.Fatal(err)
	}
}

func TestInventoryAdjustAndReorder(t *testing.T) {
	e, _ := newTestEngine(t, Options{})
	inv := NewInventoryService(e)
	ctx := context.Background()

	if _, err := inv.Upsert(ctx, "s1", domain.InventoryItem{ID: "milk", Name: "Milk", Quantity: 10, ReorderLevel: 4}); err != nil {
		t.Fatal(err)
	}
	item, err := inv.Adjust(ctx, "s1", "milk", -7)
	if err != nil {
		t.Fatal(err)
	}
	if item.Quantity != 3 || item.Name != "Milk" {
		t.Fatalf("adjusted = %+v", item)
	}
	fresh, err := inv.Adjust(ctx, "s1", "cups", 50)
	if err != nil || fresh.Quantity != 50 {
		t.Fatalf("adjust on missing item: %+v %v", fresh, err)
	}
	low, err := inv.BelowReorder(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(low) != 1 || low[0].ID != "milk" {
		t.Fatalf("below reorder = %+v", low)
	}
}

func TestAnalyticsIncrement(t *testing.T) {
	e, _ := newTestEngine(t, Options{}, memory.WithMaxBatchSize(10))
	analytics := NewAnalyticsService(e)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := analytics.Increment(ctx, "s1", "covers", 2); err != nil {
			t.Fatal(err)
		}
	}
	c, err := analytics.Get(ctx, analytics.Counter("s1", "covers"))
	if err != nil || c.Value != 6 {
		t.Fatalf("counter = %+v, %v", c, err)
	}
}
