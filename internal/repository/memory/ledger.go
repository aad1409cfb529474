package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/stockledger/internal/domain"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

// SumAvailable implements repository.InventoryRepository.
func (s *Store) SumAvailable(_ context.Context, productID string) (int, error) {
	total := 0
	err := s.view("SumAvailable", func(st *state) error {
		for _, inv := range st.inventory {
			if w, ok := st.warehouses[inv.WarehouseID]; ok && w.IsActive && inv.ProductID == productID {
				total += inv.Available
			}
		}
		return nil
	})
	return total, err
}

// SumQuantity implements repository.InventoryRepository.
func (s *Store) SumQuantity(_ context.Context, productID string) (int, error) {
	total := 0
	err := s.view("SumQuantity", func(st *state) error {
		for _, inv := range st.inventory {
			if inv.ProductID == productID {
				total += inv.Quantity
			}
		}
		return nil
	})
	return total, err
}

func rowsOf(st *state, productID string, keep func(domain.Inventory) bool) []domain.Inventory {
	var out []domain.Inventory
	for _, inv := range st.inventory {
		if inv.ProductID == productID && keep(inv) {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WarehouseID < out[j].WarehouseID })
	return out
}

// ListByProduct implements repository.InventoryRepository.
func (s *Store) ListByProduct(_ context.Context, productID string) ([]domain.Inventory, error) {
	var out []domain.Inventory
	err := s.view("ListByProduct", func(st *state) error {
		out = rowsOf(st, productID, func(domain.Inventory) bool { return true })
		return nil
	})
	return out, err
}

// EnsureInventory implements repository.InventoryRepository.
func (s *Store) EnsureInventory(_ context.Context, productID, warehouseID string) (*domain.Inventory, error) {
	var out domain.Inventory
	err := s.view("EnsureInventory", func(st *state) error {
		key := pairKey{productID, warehouseID}
		id, ok := st.pairs[key]
		if !ok {
			id = uuid.NewString()
			st.pairs[key] = id
			st.inventory[id] = domain.Inventory{
				ID:          id,
				ProductID:   productID,
				WarehouseID: warehouseID,
				LastUpdated: s.sh.now(),
			}
		}
		out = st.inventory[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LockInventory implements repository.InventoryRepository.
func (s *Store) LockInventory(_ context.Context, productID, warehouseID string) (*domain.Inventory, error) {
	var out domain.Inventory
	err := s.view("LockInventory", func(st *state) error {
		id, ok := st.pairs[pairKey{productID, warehouseID}]
		if !ok {
			return notFoundf("lock inventory %s/%s", productID, warehouseID)
		}
		out = st.inventory[id]
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// LockCandidates implements repository.InventoryRepository.
func (s *Store) LockCandidates(_ context.Context, productID string, minAvailable int) ([]domain.Inventory, error) {
	var out []domain.Inventory
	err := s.view("LockCandidates", func(st *state) error {
		out = rowsOf(st, productID, func(inv domain.Inventory) bool {
			w, ok := st.warehouses[inv.WarehouseID]
			return ok && w.IsActive && inv.Available >= minAvailable
		})
		return nil
	})
	return out, err
}

// ApplyDelta implements repository.InventoryRepository.
func (s *Store) ApplyDelta(_ context.Context, inventoryID string, quantityDelta, reservedDelta int) (*domain.Inventory, error) {
	var out domain.Inventory
	err := s.view("ApplyDelta", func(st *state) error {
		inv, ok := st.inventory[inventoryID]
		if !ok {
			return fmt.Errorf("apply delta to inventory %s: %w", inventoryID, apperrors.ErrInvalidOperation)
		}
		next, consistent := inv.Applied(quantityDelta, reservedDelta)
		if !consistent {
			return fmt.Errorf("apply delta to inventory %s: %w", inventoryID, apperrors.ErrInvalidOperation)
		}
		next.LastUpdated = s.sh.now()
		st.inventory[inventoryID] = next
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AppendMovement implements repository.MovementRepository.
func (s *Store) AppendMovement(_ context.Context, m *domain.StockMovement) error {
	return s.view("AppendMovement", func(st *state) error {
		st.movements = append(st.movements, *m)
		return nil
	})
}

// ListMovements implements repository.MovementRepository.
func (s *Store) ListMovements(_ context.Context, productID string, limit, offset int) ([]domain.StockMovement, int, error) {
	var (
		out   []domain.StockMovement
		total int
	)
	err := s.view("ListMovements", func(st *state) error {
		for i := len(st.movements) - 1; i >= 0; i-- {
			m := st.movements[i]
			if m.ProductID != productID {
				continue
			}
			if total >= offset && len(out) < limit {
				out = append(out, m)
			}
			total++
		}
		return nil
	})
	return out, total, err
}

// CreateReservation implements repository.ReservationRepository.
func (s *Store) CreateReservation(_ context.Context, r *domain.Reservation) error {
	return s.view("CreateReservation", func(st *state) error {
		st.reservations = append(st.reservations, *r)
		return nil
	})
}

func (s *Store) heldWhere(op string, match func(domain.Reservation) bool) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := s.view(op, func(st *state) error {
		for _, r := range st.reservations {
			if r.IsHeld() && match(r) {
				out = append(out, r)
			}
		}
		return nil
	})
	return out, err
}

// LockHeldReservations implements repository.ReservationRepository.
func (s *Store) LockHeldReservations(_ context.Context, productID, orderID string) ([]domain.Reservation, error) {
	return s.heldWhere("LockHeldReservations", func(r domain.Reservation) bool {
		return r.ProductID == productID && r.OrderID == orderID
	})
}

// LockHeldReservationsByOrder implements repository.ReservationRepository.
func (s *Store) LockHeldReservationsByOrder(_ context.Context, orderID string) ([]domain.Reservation, error) {
	return s.heldWhere("LockHeldReservationsByOrder", func(r domain.Reservation) bool {
		return r.OrderID == orderID
	})
}

// LockReservation implements repository.ReservationRepository.
func (s *Store) LockReservation(_ context.Context, id string) (*domain.Reservation, error) {
	var out *domain.Reservation
	err := s.view("LockReservation", func(st *state) error {
		for _, r := range st.reservations {
			if r.ID == id {
				r := r
				out = &r
				return nil
			}
		}
		return notFoundf("lock reservation %s", id)
	})
	return out, err
}

// UpdateReservation implements repository.ReservationRepository.
func (s *Store) UpdateReservation(_ context.Context, r *domain.Reservation) error {
	return s.view("UpdateReservation", func(st *state) error {
		for i := range st.reservations {
			if st.reservations[i].ID == r.ID {
				st.reservations[i].Quantity = r.Quantity
				st.reservations[i].SettledQuantity = r.SettledQuantity
				st.reservations[i].Status = r.Status
				st.reservations[i].UpdatedAt = r.UpdatedAt
				return nil
			}
		}
		return notFoundf("update reservation %s", r.ID)
	})
}

// ListExpiredReservations implements repository.ReservationRepository.
func (s *Store) ListExpiredReservations(_ context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	out, err := s.heldWhere("ListExpiredReservations", func(r domain.Reservation) bool {
		return r.ExpiresAt.Before(now)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListReservationsByOrder implements repository.ReservationRepository.
func (s *Store) ListReservationsByOrder(_ context.Context, orderID string) ([]domain.Reservation, error) {
	var out []domain.Reservation
	err := s.view("ListReservationsByOrder", func(st *state) error {
		for _, r := range st.reservations {
			if r.OrderID == orderID {
				out = append(out, r)
			}
		}
		return nil
	})
	return out, err
}
