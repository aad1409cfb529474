// Package memory is an in-process implementation of repository.Store.
// Transactions are serialized by one mutex and applied copy-on-commit, which
// gives the same isolation the PostgreSQL store gets from row locks.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

type pairKey struct {
	productID   string
	warehouseID string
}

type state struct {
	products     map[string]domain.Product
	warehouses   map[string]domain.Warehouse
	inventory    map[string]domain.Inventory
	pairs        map[pairKey]string
	movements    []domain.StockMovement
	reservations []domain.Reservation
}

func newState() *state {
	return &state{
		products:   make(map[string]domain.Product),
		warehouses: make(map[string]domain.Warehouse),
		inventory:  make(map[string]domain.Inventory),
		pairs:      make(map[pairKey]string),
	}
}

func (s *state) clone() *state {
	c := &state{
		products:     make(map[string]domain.Product, len(s.products)),
		warehouses:   make(map[string]domain.Warehouse, len(s.warehouses)),
		inventory:    make(map[string]domain.Inventory, len(s.inventory)),
		pairs:        make(map[pairKey]string, len(s.pairs)),
		movements:    append([]domain.StockMovement(nil), s.movements...),
		reservations: append([]domain.Reservation(nil), s.reservations...),
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.warehouses {
		c.warehouses[k] = v
	}
	for k, v := range s.inventory {
		c.inventory[k] = v
	}
	for k, v := range s.pairs {
		c.pairs[k] = v
	}
	return c
}

type shared struct {
	mu     sync.Mutex
	state  *state
	faults map[string]error
	now    func() time.Time
}

// Store is a repository.Store kept in memory.
type Store struct {
	sh *shared
	tx *state
}

var _ repository.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{sh: &shared{state: newState(), faults: make(map[string]error), now: time.Now}}
}

// WithinTx runs fn on a private copy of the data and publishes the copy
// only when fn succeeds.
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}

	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	work := s.sh.state.clone()
	if err := fn(&Store{sh: s.sh, tx: work}); err != nil {
		return err
	}
	s.sh.state = work
	return nil
}

// view runs fn against the transaction copy, or the committed state under
// the lock when called outside a transaction.
func (s *Store) view(op string, fn func(st *state) error) error {
	if s.tx != nil {
		if err := s.fault(op); err != nil {
			return err
		}
		return fn(s.tx)
	}

	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	if err := s.fault(op); err != nil {
		return err
	}
	return fn(s.sh.state)
}

func (s *Store) fault(op string) error {
	if err, ok := s.sh.faults[op]; ok {
		delete(s.sh.faults, op)
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// FailNext makes the next call of the named Store method return err.
func (s *Store) FailNext(op string, err error) {
	s.sh.mu.Lock()
	defer s.sh.mu.Unlock()
	s.sh.faults[op] = err
}

// ---------------------------------------------------------------------------
// Seeding and inspection
// ---------------------------------------------------------------------------

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p domain.Product) {
	_ = s.view("", func(st *state) error {
		st.products[p.ID] = p
		return nil
	})
}

// PutWarehouse inserts or replaces a warehouse.
func (s *Store) PutWarehouse(w domain.Warehouse) {
	_ = s.view("", func(st *state) error {
		st.warehouses[w.ID] = w
		return nil
	})
}

// PutInventory sets a row's counters directly, creating it if needed.
func (s *Store) PutInventory(productID, warehouseID string, quantity, reserved int) domain.Inventory {
	var out domain.Inventory
	_ = s.view("", func(st *state) error {
		key := pairKey{productID, warehouseID}
		id, ok := st.pairs[key]
		if !ok {
			id = uuid.NewString()
			st.pairs[key] = id
		}
		out = domain.Inventory{
			ID:          id,
			ProductID:   productID,
			WarehouseID: warehouseID,
			Quantity:    quantity,
			Reserved:    reserved,
			Available:   quantity - reserved,
			LastUpdated: s.sh.now(),
		}
		st.inventory[id] = out
		return nil
	})
	return out
}

// Inventory returns the committed row for a pair.
func (s *Store) Inventory(productID, warehouseID string) (domain.Inventory, bool) {
	var (
		out domain.Inventory
		ok  bool
	)
	_ = s.view("", func(st *state) error {
		var id string
		if id, ok = st.pairs[pairKey{productID, warehouseID}]; ok {
			out = st.inventory[id]
		}
		return nil
	})
	return out, ok
}

// Product returns the committed product.
func (s *Store) Product(id string) (domain.Product, bool) {
	var (
		out domain.Product
		ok  bool
	)
	_ = s.view("", func(st *state) error {
		out, ok = st.products[id]
		return nil
	})
	return out, ok
}

// Movements returns a product's movements oldest first.
func (s *Store) Movements(productID string) []domain.StockMovement {
	var out []domain.StockMovement
	_ = s.view("", func(st *state) error {
		for _, m := range st.movements {
			if m.ProductID == productID {
				out = append(out, m)
			}
		}
		return nil
	})
	return out
}

// AllInventory returns every committed inventory row.
func (s *Store) AllInventory() []domain.Inventory {
	var out []domain.Inventory
	_ = s.view("", func(st *state) error {
		for _, inv := range st.inventory {
			out = append(out, inv)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, apperrors.ErrNotFound)...)
}
