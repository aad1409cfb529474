package domain

import "time"

// Inventory is the authoritative counter row for one product in one
// warehouse. Available always equals Quantity - Reserved.
type Inventory struct {
	ID           string    `json:"id"`
	ProductID    string    `json:"product_id"`
	WarehouseID  string    `json:"warehouse_id"`
	Quantity     int       `json:"quantity"`
	Reserved     int       `json:"reserved"`
	Available    int       `json:"available"`
	ReorderPoint *int      `json:"reorder_point,omitempty"`
	LastUpdated  time.Time `json:"last_updated"`
}

// Consistent reports whether the row satisfies every counter invariant.
func (inv *Inventory) Consistent() bool {
	return inv.Quantity >= 0 &&
		inv.Reserved >= 0 &&
		inv.Available >= 0 &&
		inv.Reserved <= inv.Quantity &&
		inv.Available == inv.Quantity-inv.Reserved
}

// Applied returns the row after adding quantityDelta to Quantity and
// reservedDelta to Reserved, and whether the result is consistent.
// The receiver is not modified.
func (inv Inventory) Applied(quantityDelta, reservedDelta int) (Inventory, bool) {
	inv.Quantity += quantityDelta
	inv.Reserved += reservedDelta
	inv.Available += quantityDelta - reservedDelta
	return inv, inv.Consistent()
}

// BelowReorderPoint reports whether available stock has reached the row's
// reorder point. Rows without one never report true.
func (inv *Inventory) BelowReorderPoint() bool {
	return inv.ReorderPoint != nil && inv.Available <= *inv.ReorderPoint
}

// StockCheckItem is one line of an availability check.
type StockCheckItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"gte=1"`
}

// AvailabilityResult is the outcome of CheckStockAvailability. OutOfStock
// holds product names (or ids for unknown products) in request order.
type AvailabilityResult struct {
	Available  bool     `json:"available"`
	OutOfStock []string `json:"out_of_stock,omitempty"`
}
