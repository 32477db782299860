package services

import (
	"context"
	"time"

	"possync/internal/core/domain"
)

// ShopService manages top-level shops.
type ShopService struct {
	*Gateway[domain.Shop]
}

func NewShopService(e *Engine) *ShopService {
	return &ShopService{Gateway: NewGateway[domain.Shop](e, NewJSONCodec[domain.Shop]())}
}

func (s *ShopService) Open(ctx context.Context, shop domain.Shop) (domain.Shop, error) {
	if shop.CreatedAt.IsZero() {
		shop.CreatedAt = time.Now().UTC()
	}
	shop.Active = true
	return s.Create(ctx, domain.CollectionPath(domain.CollectionShops), shop)
}

func (s *ShopService) Path(shopID string) domain.ResourcePath {
	return domain.DocumentPath(domain.CollectionShops, shopID)
}

func (s *ShopService) Watch(ctx context.Context, shopID string) (*Stream[domain.Shop], error) {
	return s.Subscribe(ctx, s.Path(shopID))
}

// MenuService manages the menu items of a shop.
type MenuService struct {
	engine *Engine
	menus  *Gateway[domain.Menu]
	items  *Gateway[domain.MenuItem]
}

func NewMenuService(e *Engine) *MenuService {
	return &MenuService{
		engine: e,
		menus:  NewGateway[domain.Menu](e, NewJSONCodec[domain.Menu]()),
		items:  NewGateway[domain.MenuItem](e, NewJSONCodec[domain.MenuItem]()),
	}
}

func (s *MenuService) Items(shopID string) domain.ResourcePath {
	return domain.ShopPath(shopID, domain.CollectionMenuItems, "")
}

func (s *MenuService) Menus(shopID string) domain.ResourcePath {
	return domain.ShopPath(shopID, domain.CollectionMenus, "")
}

func (s *MenuService) CreateMenu(ctx context.Context, shopID string, m domain.Menu) (domain.Menu, error) {
	return s.menus.Create(ctx, s.Menus(shopID), m)
}

func (s *MenuService) ListMenus(ctx context.Context, shopID string) ([]domain.Menu, error) {
	return s.menus.GetAll(ctx, s.Menus(shopID))
}

func (s *MenuService) AddItem(ctx context.Context, shopID string, item domain.MenuItem) (domain.MenuItem, error) {
	return s.items.Create(ctx, s.Items(shopID), item)
}

func (s *MenuService) UpdateItem(ctx context.Context, shopID string, item domain.MenuItem) (domain.MenuItem, error) {
	return s.items.Update(ctx, s.Items(shopID).Doc(item.ID), item)
}

func (s *MenuService) RemoveItem(ctx context.Context, shopID, itemID string) error {
	return s.items.Delete(ctx, s.Items(shopID).Doc(itemID))
}

func (s *MenuService) Item(ctx context.Context, shopID, itemID string) (domain.MenuItem, error) {
	return s.items.Get(ctx, s.Items(shopID).Doc(itemID))
}

func (s *MenuService) ListItems(ctx context.Context, shopID string, filters ...domain.Filter) ([]domain.MenuItem, error) {
	return s.items.Query(ctx, s.Items(shopID), filters...)
}

func (s *MenuService) WatchItems(ctx context.Context, shopID string) (*Stream[domain.MenuItem], error) {
	return s.items.Subscribe(ctx, s.Items(shopID))
}

// SetAvailability flips several items in one atomic batch.
func (s *MenuService) SetAvailability(ctx context.Context, shopID string, itemIDs []string, available bool) error {
	writes := make([]domain.PendingWrite, 0, len(itemIDs))
	for _, id := range itemIDs {
		w, err := domain.NewPendingWrite(domain.OpUpdate, s.Items(shopID).Doc(id),
			map[string]any{"available": available})
		if err != nil {
			return domain.Classify("batch", s.Items(shopID).Doc(id), err)
		}
		writes = append(writes, w)
	}
	return s.engine.Batch(ctx, writes, true)
}

// InventoryService tracks stock levels. Quantity changes go through
// transactions so concurrent adjustments never lose an update.
type InventoryService struct {
	*Gateway[domain.InventoryItem]
}

func NewInventoryService(e *Engine) *InventoryService {
	return &InventoryService{Gateway: NewGateway[domain.InventoryItem](e, NewJSONCodec[domain.InventoryItem]())}
}

func (s *InventoryService) Items(shopID string) domain.ResourcePath {
	return domain.ShopPath(shopID, domain.CollectionInventory, "")
}

func (s *InventoryService) Upsert(ctx context.Context, shopID string, item domain.InventoryItem) (domain.InventoryItem, error) {
	item.UpdatedAt = time.Now().UTC()
	if item.ID == "" {
		return s.Create(ctx, s.Items(shopID), item)
	}
	return s.Replace(ctx, s.Items(shopID).Doc(item.ID), item)
}

// Adjust adds delta to the stocked quantity. A missing item is created with
// quantity delta.
func (s *InventoryService) Adjust(ctx context.Context, shopID, itemID string, delta float64) (domain.InventoryItem, error) {
	item, _, err := s.Transact(ctx, s.Items(shopID).Doc(itemID), func(cur domain.InventoryItem, _ bool) (domain.InventoryItem, bool) {
		cur.ID = itemID
		cur.Quantity += delta
		cur.UpdatedAt = time.Now().UTC()
		return cur, true
	})
	return item, err
}

// BelowReorder lists items at or under their reorder level.
func (s *InventoryService) BelowReorder(ctx context.Context, shopID string) ([]domain.InventoryItem, error) {
	items, err := s.GetAll(ctx, s.Items(shopID))
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, it := range items {
		if it.ReorderLevel > 0 && it.Quantity <= it.ReorderLevel {
			out = append(out, it)
		}
	}
	return out, nil
}

func (s *InventoryService) Watch(ctx context.Context, shopID string) (*Stream[domain.InventoryItem], error) {
	return s.Subscribe(ctx, s.Items(shopID))
}

// StaffService manages shop staff records.
type StaffService struct {
	*Gateway[domain.StaffMember]
}

func NewStaffService(e *Engine) *StaffService {
	return &StaffService{Gateway: NewGateway[domain.StaffMember](e, NewJSONCodec[domain.StaffMember]())}
}

func (s *StaffService) Members(shopID string) domain.ResourcePath {
	return domain.ShopPath(shopID, domain.CollectionStaff, "")
}

func (s *StaffService) Add(ctx context.Context, shopID string, m domain.StaffMember) (domain.StaffMember, error) {
	m.Active = true
	return s.Create(ctx, s.Members(shopID), m)
}

// Deactivate keeps the record for history.
func (s *StaffService) Deactivate(ctx context.Context, shopID, memberID string) error {
	_, err := s.Patch(ctx, s.Members(shopID).Doc(memberID), map[string]any{"active": false})
	return err
}

func (s *StaffService) Active(ctx context.Context, shopID string) ([]domain.StaffMember, error) {
	return s.Query(ctx, s.Members(shopID), domain.Where("active", domain.OpEq, true))
}

func (s *StaffService) Watch(ctx context.Context, shopID string) (*Stream[domain.StaffMember], error) {
	return s.Subscribe(ctx, s.Members(shopID))
}

// AnalyticsService maintains named counters. Only the increments live here;
// reporting is computed elsewhere.
type AnalyticsService struct {
	*Gateway[domain.Counter]
}

func NewAnalyticsService(e *Engine) *AnalyticsService {
	return &AnalyticsService{Gateway: NewGateway[domain.Counter](e, NewJSONCodec[domain.Counter]())}
}

func (s *AnalyticsService) Counter(shopID, name string) domain.ResourcePath {
	return domain.ShopPath(shopID, domain.CollectionCounters, name)
}

func (s *AnalyticsService) Increment(ctx context.Context, shopID, name string, by int64) (domain.Counter, error) {
	c, _, err := s.Transact(ctx, s.Counter(shopID, name), func(cur domain.Counter, _ bool) (domain.Counter, bool) {
		cur.ID = name
		cur.Value += by
		return cur, true
	})
	return c, err
}

func (s *AnalyticsService) Watch(ctx context.Context, shopID, name string) (*Stream[domain.Counter], error) {
	return s.Subscribe(ctx, s.Counter(shopID, name))
}
