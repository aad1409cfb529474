package domain

import "time"

// Product is the catalog entry the ledger tracks. Only Stock and SoldCount
// are written by the ledger.
type Product struct {
	ID                string    `json:"id"`
	SKU               string    `json:"sku"`
	Name              string    `json:"name"`
	Stock             int       `json:"stock"`
	LowStockThreshold int       `json:"low_stock_threshold"`
	SoldCount         int       `json:"sold_count"`
	IsActive          bool      `json:"is_active"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsLowStock reports whether the cached stock is at or below the threshold.
func (p *Product) IsLowStock() bool {
	return p.Stock <= p.LowStockThreshold
}

// WarehouseType classifies a stock location.
type WarehouseType string

const (
	WarehouseTypeMain     WarehouseType = "MAIN"
	WarehouseTypeRegional WarehouseType = "REGIONAL"
	WarehouseTypeStore    WarehouseType = "STORE"
	WarehouseTypeVirtual  WarehouseType = "VIRTUAL"
)

// IsValid reports whether t is a known warehouse type.
func (t WarehouseType) IsValid() bool {
	switch t {
	case WarehouseTypeMain, WarehouseTypeRegional, WarehouseTypeStore, WarehouseTypeVirtual:
		return true
	}
	return false
}

// Warehouse is a stock location.
type Warehouse struct {
	ID       string        `json:"id"`
	Code     string        `json:"code"`
	Name     string        `json:"name"`
	Type     WarehouseType `json:"type"`
	IsActive bool          `json:"is_active"`
}

// LowStockProduct is one row of the low-stock report.
type LowStockProduct struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
	Threshold int    `json:"threshold"`
}
