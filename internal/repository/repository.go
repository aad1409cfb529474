package repository

import (
	"context"
	"time"

	"github.com/utafrali/stockledger/internal/domain"
)

// InventoryRepository reads and writes per-warehouse stock counters.
type InventoryRepository interface {
	// SumAvailable returns SUM(available) over the product's rows in active
	// warehouses, 0 without rows.
	SumAvailable(ctx context.Context, productID string) (int, error)

	// SumQuantity returns SUM(quantity) for a product, 0 without rows.
	SumQuantity(ctx context.Context, productID string) (int, error)

	// ListByProduct returns every inventory row of a product ordered by warehouse.
	ListByProduct(ctx context.Context, productID string) ([]domain.Inventory, error)

	// EnsureInventory creates a zero row for the pair if none exists and
	// returns the row locked for update.
	EnsureInventory(ctx context.Context, productID, warehouseID string) (*domain.Inventory, error)

	// LockInventory returns the existing row for the pair locked for update,
	// or ErrNotFound.
	LockInventory(ctx context.Context, productID, warehouseID string) (*domain.Inventory, error)

	// LockCandidates locks and returns the product's rows in active
	// warehouses with available >= minAvailable, ordered by warehouse id.
	LockCandidates(ctx context.Context, productID string, minAvailable int) ([]domain.Inventory, error)

	// ApplyDelta adds quantityDelta to quantity and reservedDelta to reserved
	// (available moves by quantityDelta - reservedDelta) in one conditional
	// statement. It returns ErrInvalidOperation and leaves the row unchanged
	// when the result would break a counter invariant.
	ApplyDelta(ctx context.Context, inventoryID string, quantityDelta, reservedDelta int) (*domain.Inventory, error)
}

// MovementRepository appends to and reads the stock movement log.
type MovementRepository interface {
	AppendMovement(ctx context.Context, m *domain.StockMovement) error

	// ListMovements returns a product's movements newest first and the total count.
	ListMovements(ctx context.Context, productID string, limit, offset int) ([]domain.StockMovement, int, error)
}

// ReservationRepository persists reservation holds.
type ReservationRepository interface {
	CreateReservation(ctx context.Context, r *domain.Reservation) error

	// LockHeldReservations locks the HELD reservations of an order for one
	// product, oldest first.
	LockHeldReservations(ctx context.Context, productID, orderID string) ([]domain.Reservation, error)

	// LockHeldReservationsByOrder locks every HELD reservation of an order,
	// oldest first.
	LockHeldReservationsByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error)

	// LockReservation locks one reservation by id, or returns ErrNotFound.
	LockReservation(ctx context.Context, id string) (*domain.Reservation, error)

	// UpdateReservation persists quantity, status and updated_at.
	UpdateReservation(ctx context.Context, r *domain.Reservation) error

	// ListExpiredReservations returns up to limit HELD reservations whose
	// expires_at is before now, oldest expiry first.
	ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error)

	// ListReservationsByOrder returns all reservations of an order in any status.
	ListReservationsByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error)
}

// CatalogRepository reads products and warehouses and maintains the
// product stock cache.
type CatalogRepository interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error)

	// ProductNames maps the given ids to product names. Unknown ids are absent.
	ProductNames(ctx context.Context, ids []string) (map[string]string, error)

	GetWarehouse(ctx context.Context, id string) (*domain.Warehouse, error)
	GetWarehouseByCode(ctx context.Context, code string) (*domain.Warehouse, error)

	// ApplySale decrements the cached stock and increments sold_count by quantity.
	ApplySale(ctx context.Context, productID string, quantity int) error

	// SetCachedStock overwrites the product's cached stock, or returns ErrNotFound.
	SetCachedStock(ctx context.Context, productID string, stock int) error

	// ReconcileStockCache rewrites every product whose cached stock differs
	// from SUM(inventory.quantity) and returns how many changed.
	ReconcileStockCache(ctx context.Context) (int, error)

	// ListLowStock returns active products with stock <= threshold ordered by
	// stock ascending, and the total count.
	ListLowStock(ctx context.Context, limit, offset int) ([]domain.LowStockProduct, int, error)
}

// Store is the full ledger persistence surface.
type Store interface {
	InventoryRepository
	MovementRepository
	ReservationRepository
	CatalogRepository

	// WithinTx runs fn against a Store bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// SeedRepository inserts catalog rows for development and demo data. A row
// whose id, SKU or code already exists is left untouched and reported as
// not inserted.
type SeedRepository interface {
	InsertWarehouse(ctx context.Context, w *domain.Warehouse) (bool, error)
	InsertProduct(ctx context.Context, p *domain.Product) (bool, error)
}
