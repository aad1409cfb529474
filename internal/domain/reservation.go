package domain

import "time"

// ReservationStatus is the lifecycle state of a Reservation.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "HELD"
	ReservationConfirmed ReservationStatus = "CONFIRMED"
	ReservationReleased  ReservationStatus = "RELEASED"
	ReservationExpired   ReservationStatus = "EXPIRED"
)

// IsValid reports whether s is a known status.
func (s ReservationStatus) IsValid() bool {
	switch s {
	case ReservationHeld, ReservationConfirmed, ReservationReleased, ReservationExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible from s.
func (s ReservationStatus) IsTerminal() bool {
	return s == ReservationConfirmed || s == ReservationReleased || s == ReservationExpired
}

// Reservation is a hold on available units in one warehouse for one order.
//
//	HELD --confirm--> CONFIRMED
//	HELD --release--> RELEASED
//	HELD --expiry---> EXPIRED
//
// Partial confirms and releases move units from Quantity to SettledQuantity
// while the reservation stays HELD; it moves to the terminal state when
// Quantity reaches zero. Quantity+SettledQuantity is the amount first held.
type Reservation struct {
	ID              string            `json:"id"`
	ProductID       string            `json:"product_id"`
	WarehouseID     string            `json:"warehouse_id"`
	OrderID         string            `json:"order_id"`
	Quantity        int               `json:"quantity"`
	SettledQuantity int               `json:"settled_quantity"`
	Status          ReservationStatus `json:"status"`
	ExpiresAt       time.Time         `json:"expires_at"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// IsHeld reports whether the reservation still holds units.
func (r *Reservation) IsHeld() bool {
	return r.Status == ReservationHeld
}

// IsExpired reports whether a held reservation has passed its expiry at now.
func (r *Reservation) IsExpired(now time.Time) bool {
	return r.IsHeld() && !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Consume takes up to n units from the reservation, moving it to terminal
// when nothing remains, and returns the units taken.
func (r *Reservation) Consume(n int, terminal ReservationStatus, now time.Time) int {
	if n > r.Quantity {
		n = r.Quantity
	}
	r.Quantity -= n
	r.SettledQuantity += n
	if r.Quantity == 0 {
		r.Status = terminal
	}
	r.UpdatedAt = now
	return n
}

// HeldQuantity is the amount first held.
func (r *Reservation) HeldQuantity() int {
	return r.Quantity + r.SettledQuantity
}

// TotalHeld sums the quantity of the held reservations in rs.
func TotalHeld(rs []Reservation) int {
	total := 0
	for i := range rs {
		if rs[i].IsHeld() {
			total += rs[i].Quantity
		}
	}
	return total
}
