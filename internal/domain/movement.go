package domain

import "time"

// MovementType is the closed set of reasons a stock counter can change.
type MovementType string

const (
	MovementSale        MovementType = "SALE"
	MovementReturn      MovementType = "RETURN"
	MovementRestock     MovementType = "RESTOCK"
	MovementAdjustment  MovementType = "ADJUSTMENT"
	MovementReservation MovementType = "RESERVATION"
	MovementRelease     MovementType = "RELEASE"
	MovementTransferIn  MovementType = "TRANSFER_IN"
	MovementTransferOut MovementType = "TRANSFER_OUT"
	MovementDamaged     MovementType = "DAMAGED"
)

// MovementTypes lists every movement type.
func MovementTypes() []MovementType {
	return []MovementType{
		MovementSale, MovementReturn, MovementRestock, MovementAdjustment,
		MovementReservation, MovementRelease, MovementTransferIn, MovementTransferOut,
		MovementDamaged,
	}
}

// IsValid reports whether t is one of the known movement types.
func (t MovementType) IsValid() bool {
	for _, v := range MovementTypes() {
		if v == t {
			return true
		}
	}
	return false
}

// Adjustable reports whether t may be used for a direct quantity
// adjustment. Reservation and release only move units between the
// reserved and available counters and have their own operations.
func (t MovementType) Adjustable() bool {
	return t.IsValid() && t != MovementReservation && t != MovementRelease
}

// StockMovement is an immutable audit record of one counter change.
// StockAfter - StockBefore always equals Quantity.
type StockMovement struct {
	ID           string       `json:"id"`
	ProductID    string       `json:"product_id"`
	WarehouseID  string       `json:"warehouse_id"`
	Quantity     int          `json:"quantity"`
	StockBefore  int          `json:"stock_before"`
	StockAfter   int          `json:"stock_after"`
	MovementType MovementType `json:"movement_type"`
	ReferenceID  *string      `json:"reference_id,omitempty"`
	Note         *string      `json:"note,omitempty"`
	CreatedBy    *string      `json:"created_by,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// StringPtr returns nil for an empty string, otherwise a pointer to s.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
