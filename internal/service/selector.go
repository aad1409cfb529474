package service

import "github.com/utafrali/stockledger/internal/domain"

// WarehouseSelector picks the inventory row that serves a whole request.
// Candidates are locked rows in active warehouses, ordered by warehouse id.
type WarehouseSelector interface {
	Select(candidates []domain.Inventory, quantity int) (domain.Inventory, bool)
}

// MostAvailableSelector picks the row with the most available units. Ties go
// to the lexicographically smaller warehouse id.
type MostAvailableSelector struct{}

// Select implements WarehouseSelector.
func (MostAvailableSelector) Select(candidates []domain.Inventory, quantity int) (domain.Inventory, bool) {
	var (
		best  domain.Inventory
		found bool
	)
	for _, c := range candidates {
		if c.Available < quantity {
			continue
		}
		if !found ||
			c.Available > best.Available ||
			(c.Available == best.Available && c.WarehouseID < best.WarehouseID) {
			best = c
			found = true
		}
	}
	return best, found
}
