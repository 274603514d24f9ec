package catalog

import (
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("product not found")
	ErrStockNotFound = errors.New("stock item not found")
)

// Product is a catalog entry identified by its SKU.
type Product struct {
	ID              int64      `json:"id"`
	SKU             string     `json:"sku"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Price           float64    `json:"price"`
	TypeID          string     `json:"type_id"`
	AttributeSetID  int        `json:"attribute_set_id"`
	Status          int        `json:"status"`
	Visibility      int        `json:"visibility"`
	WebsiteIDs      []int      `json:"website_ids"`
	SyncedFromSheet bool       `json:"synced_from_sheet"`
	LastSyncedAt    *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Stock           *StockItem `json:"stock,omitempty"`
}

// StockItem is the inventory row attached to a product.
type StockItem struct {
	SKU       string  `json:"sku"`
	Qty       float64 `json:"qty"`
	IsInStock bool    `json:"is_in_stock"`
}

// NewStockItem builds a stock row; a product is in stock when qty > 0.
func NewStockItem(sku string, qty float64) *StockItem {
	return &StockItem{SKU: sku, Qty: qty, IsInStock: qty > 0}
}

type ListQuery struct {
	Q          string
	SyncedOnly bool
	Limit      int
	Offset     int
}
