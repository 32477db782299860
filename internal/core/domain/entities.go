package domain

import "time"

// Collection names under a shop.
const (
	CollectionShops     = "shops"
	CollectionMenus     = "menus"
	CollectionMenuItems = "menu_items"
	CollectionStaff     = "staff"
	CollectionInventory = "inventory"
	CollectionCounters  = "counters"
)

// Shop is a top-level point of sale location.
type Shop struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Address   string    `json:"address,omitempty"`
	Active    bool      `json:"active,omitempty"`
	CreatedAt time.Time `json:"created_at,omitzero"`
}

type Menu struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Active bool   `json:"active,omitempty"`
}

type MenuItem struct {
	ID        string   `json:"id,omitempty"`
	MenuID    string   `json:"menu_id,omitempty"`
	Name      string   `json:"name,omitempty"`
	Category  string   `json:"category,omitempty"`
	Price     float64  `json:"price,omitempty"`
	Available bool     `json:"available,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

type InventoryItem struct {
	ID           string    `json:"id,omitempty"`
	Name         string    `json:"name,omitempty"`
	Unit         string    `json:"unit,omitempty"`
	Quantity     float64   `json:"quantity"`
	ReorderLevel float64   `json:"reorder_level,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitzero"`
}

type StaffMember struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	Phone  string `json:"phone,omitempty"`
	Active bool   `json:"active,omitempty"`
}

// Counter is a named running total. Aggregation is done by callers.
type Counter struct {
	ID    string `json:"id,omitempty"`
	Value int64  `json:"value"`
}
