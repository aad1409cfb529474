package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	s.PutProduct(domain.Product{ID: "p1", SKU: "SKU-1", Name: "Widget", Stock: 10, LowStockThreshold: 5, IsActive: true})
	s.PutWarehouse(domain.Warehouse{ID: "w1", Code: "MAIN", Type: domain.WarehouseTypeMain, IsActive: true})
	s.PutWarehouse(domain.Warehouse{ID: "w2", Code: "EAST", Type: domain.WarehouseTypeRegional, IsActive: true})
	s.PutWarehouse(domain.Warehouse{ID: "w3", Code: "OLD", Type: domain.WarehouseTypeStore, IsActive: false})
	return s
}

func TestStore_SumsAndCandidates(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	s.PutInventory("p1", "w1", 10, 4)
	s.PutInventory("p1", "w2", 3, 0)
	s.PutInventory("p1", "w3", 50, 0)

	available, err := s.SumAvailable(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 9, available, "inactive warehouses do not count as available")

	quantity, err := s.SumQuantity(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 63, quantity)

	none, err := s.SumAvailable(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, none)

	candidates, err := s.LockCandidates(ctx, "p1", 3)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "w1", candidates[0].WarehouseID)
	assert.Equal(t, "w2", candidates[1].WarehouseID)

	candidates, err = s.LockCandidates(ctx, "p1", 7)
	require.NoError(t, err)
	assert.Empty(t, candidates, "inactive warehouses are never candidates")
}

func TestStore_ApplyDeltaRejectsInconsistentRows(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	inv := s.PutInventory("p1", "w1", 6, 2)

	_, err := s.ApplyDelta(ctx, inv.ID, -5, 0)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidOperation))

	unchanged, ok := s.Inventory("p1", "w1")
	require.True(t, ok)
	assert.Equal(t, 6, unchanged.Quantity)
	assert.Equal(t, 4, unchanged.Available)

	updated, err := s.ApplyDelta(ctx, inv.ID, -2, -2)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Quantity)
	assert.Equal(t, 0, updated.Reserved)
	assert.Equal(t, 4, updated.Available)
}

func TestStore_EnsureInventoryIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	first, err := s.EnsureInventory(ctx, "p1", "w1")
	require.NoError(t, err)
	second, err := s.EnsureInventory(ctx, "p1", "w1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Zero(t, second.Quantity)
	assert.Len(t, s.AllInventory(), 1)

	_, err = s.LockInventory(ctx, "p1", "w2")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestStore_WithinTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	inv := s.PutInventory("p1", "w1", 10, 0)
	boom := errors.New("boom")

	err := s.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.ApplyDelta(ctx, inv.ID, 5, 0); err != nil {
			return err
		}
		if err := tx.AppendMovement(ctx, &domain.StockMovement{ID: "m1", ProductID: "p1"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	row, _ := s.Inventory("p1", "w1")
	assert.Equal(t, 10, row.Quantity)
	assert.Empty(t, s.Movements("p1"))
}

func TestStore_WithinTxCommits(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	inv := s.PutInventory("p1", "w1", 10, 0)

	err := s.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.ApplyDelta(ctx, inv.ID, 0, 3); err != nil {
			return err
		}
		return tx.AppendMovement(ctx, &domain.StockMovement{ID: "m1", ProductID: "p1", Quantity: -3})
	})
	require.NoError(t, err)

	row, _ := s.Inventory("p1", "w1")
	assert.Equal(t, 3, row.Reserved)
	assert.Equal(t, 7, row.Available)
	assert.Len(t, s.Movements("p1"), 1)
}

func TestStore_FailNext(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	boom := errors.New("disk full")
	s.FailNext("AppendMovement", boom)

	err := s.AppendMovement(ctx, &domain.StockMovement{ID: "m1", ProductID: "p1"})
	require.ErrorIs(t, err, boom)

	require.NoError(t, s.AppendMovement(ctx, &domain.StockMovement{ID: "m2", ProductID: "p1"}))
	assert.Len(t, s.Movements("p1"), 1)
}

func TestStore_ListMovementsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, s.AppendMovement(ctx, &domain.StockMovement{ID: id, ProductID: "p1"}))
	}
	require.NoError(t, s.AppendMovement(ctx, &domain.StockMovement{ID: "other", ProductID: "p2"}))

	page, total, err := s.ListMovements(ctx, "p1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "m3", page[0].ID)
	assert.Equal(t, "m2", page[1].ID)

	page, _, err = s.ListMovements(ctx, "p1", 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "m1", page[0].ID)
}

func TestStore_Reservations(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateReservation(ctx, &domain.Reservation{ID: "r1", ProductID: "p1", WarehouseID: "w1", OrderID: "o1", Quantity: 2, Status: domain.ReservationHeld, ExpiresAt: now.Add(-time.Minute)}))
	require.NoError(t, s.CreateReservation(ctx, &domain.Reservation{ID: "r2", ProductID: "p2", WarehouseID: "w1", OrderID: "o1", Quantity: 1, Status: domain.ReservationHeld, ExpiresAt: now.Add(time.Hour)}))
	require.NoError(t, s.CreateReservation(ctx, &domain.Reservation{ID: "r3", ProductID: "p1", WarehouseID: "w2", OrderID: "o2", Quantity: 5, Status: domain.ReservationHeld, ExpiresAt: now.Add(-time.Hour)}))

	held, err := s.LockHeldReservations(ctx, "p1", "o1")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, "r1", held[0].ID)

	byOrder, err := s.LockHeldReservationsByOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, byOrder, 2)

	expired, err := s.ListExpiredReservations(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, expired, 2)
	assert.Equal(t, "r3", expired[0].ID)

	r := held[0]
	r.Consume(2, domain.ReservationConfirmed, now)
	require.NoError(t, s.UpdateReservation(ctx, &r))

	held, err = s.LockHeldReservations(ctx, "p1", "o1")
	require.NoError(t, err)
	assert.Empty(t, held)

	all, err := s.ListReservationsByOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	locked, err := s.LockReservation(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationConfirmed, locked.Status)
	assert.Zero(t, locked.Quantity)
	assert.Equal(t, 2, locked.SettledQuantity)

	_, err = s.LockReservation(ctx, "nope")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestStore_Catalog(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	s.PutProduct(domain.Product{ID: "p2", SKU: "SKU-2", Name: "Gadget", Stock: 1, LowStockThreshold: 2, IsActive: true})
	s.PutProduct(domain.Product{ID: "p3", SKU: "SKU-3", Name: "Gizmo", Stock: 0, LowStockThreshold: 2, IsActive: false})

	p, err := s.GetProductBySKU(ctx, "SKU-2")
	require.NoError(t, err)
	assert.Equal(t, "p2", p.ID)

	_, err = s.GetProductBySKU(ctx, "SKU-404")
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))

	w, err := s.GetWarehouseByCode(ctx, "EAST")
	require.NoError(t, err)
	assert.Equal(t, "w2", w.ID)

	names, err := s.ProductNames(ctx, []string{"p1", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"p1": "Widget"}, names)

	low, total, err := s.ListLowStock(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, []domain.LowStockProduct{{ID: "p2", Name: "Gadget", Stock: 1, Threshold: 2}}, low)

	require.NoError(t, s.ApplySale(ctx, "p1", 4))
	got, _ := s.Product("p1")
	assert.Equal(t, 6, got.Stock)
	assert.Equal(t, 4, got.SoldCount)

	err = s.SetCachedStock(ctx, "ghost", 1)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestStore_ReconcileStockCache(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)
	s.PutProduct(domain.Product{ID: "p2", Name: "Gadget", Stock: 0, IsActive: true})
	s.PutInventory("p1", "w1", 7, 0)
	s.PutInventory("p1", "w2", 3, 1)

	changed, err := s.ReconcileStockCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, changed, "p1 already caches 10 and p2 has no rows")

	s.PutInventory("p1", "w2", 5, 1)
	changed, err = s.ReconcileStockCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, _ := s.Product("p1")
	assert.Equal(t, 12, got.Stock)
}
