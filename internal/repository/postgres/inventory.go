package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/pkg/database"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

const inventoryColumns = `id, product_id, warehouse_id, quantity, reserved, available, reorder_point, last_updated`

const (
	sumAvailableSQL = `SELECT COALESCE(SUM(i.available), 0)
		FROM inventory i
		JOIN warehouses w ON w.id = i.warehouse_id
		WHERE i.product_id = $1 AND w.is_active`

	sumQuantitySQL = `SELECT COALESCE(SUM(quantity), 0) FROM inventory WHERE product_id = $1`

	listInventorySQL = `SELECT ` + inventoryColumns + `
		FROM inventory
		WHERE product_id = $1
		ORDER BY warehouse_id`

	insertInventorySQL = `
		INSERT INTO inventory (id, product_id, warehouse_id, quantity, reserved, available, last_updated)
		VALUES (gen_random_uuid(), $1, $2, 0, 0, 0, NOW())
		ON CONFLICT (product_id, warehouse_id) DO NOTHING`

	lockInventorySQL = `SELECT ` + inventoryColumns + `
		FROM inventory
		WHERE product_id = $1 AND warehouse_id = $2
		FOR UPDATE`

	lockCandidatesSQL = `SELECT i.id, i.product_id, i.warehouse_id, i.quantity, i.reserved, i.available, i.reorder_point, i.last_updated
		FROM inventory i
		JOIN warehouses w ON w.id = i.warehouse_id
		WHERE i.product_id = $1 AND i.available >= $2 AND w.is_active
		ORDER BY i.warehouse_id
		FOR UPDATE OF i`

	applyDeltaSQL = `
		UPDATE inventory
		SET quantity = quantity + $2,
			reserved = reserved + $3,
			available = available + $2 - $3,
			last_updated = NOW()
		WHERE id = $1
			AND quantity + $2 >= 0
			AND reserved + $3 >= 0
			AND available + $2 - $3 >= 0
		RETURNING ` + inventoryColumns
)

func scanInventory(row pgx.Row) (*domain.Inventory, error) {
	var inv domain.Inventory
	err := row.Scan(
		&inv.ID,
		&inv.ProductID,
		&inv.WarehouseID,
		&inv.Quantity,
		&inv.Reserved,
		&inv.Available,
		&inv.ReorderPoint,
		&inv.LastUpdated,
	)
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func collectInventory(rows pgx.Rows) ([]domain.Inventory, error) {
	defer rows.Close()

	var out []domain.Inventory
	for rows.Next() {
		inv, err := scanInventory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// SumAvailable returns the product's available units across warehouses.
func (r *Repository) SumAvailable(ctx context.Context, productID string) (total int, err error) {
	ctx, end := database.TraceQuery(ctx, "SumAvailable", sumAvailableSQL)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, sumAvailableSQL, productID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum available: %w", err)
	}
	return total, nil
}

// SumQuantity returns the product's on-hand units across warehouses.
func (r *Repository) SumQuantity(ctx context.Context, productID string) (total int, err error) {
	ctx, end := database.TraceQuery(ctx, "SumQuantity", sumQuantitySQL)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, sumQuantitySQL, productID).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum quantity: %w", err)
	}
	return total, nil
}

// ListByProduct returns the product's per-warehouse rows.
func (r *Repository) ListByProduct(ctx context.Context, productID string) (_ []domain.Inventory, err error) {
	ctx, end := database.TraceQuery(ctx, "ListInventory", listInventorySQL)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, listInventorySQL, productID)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	out, err := collectInventory(rows)
	if err != nil {
		return nil, fmt.Errorf("scan inventory: %w", err)
	}
	return out, nil
}

// EnsureInventory is an atomic upsert: concurrent first writers both succeed
// in the insert-or-skip and then serialize on the row lock.
func (r *Repository) EnsureInventory(ctx context.Context, productID, warehouseID string) (_ *domain.Inventory, err error) {
	ctx, end := database.TraceQuery(ctx, "EnsureInventory", insertInventorySQL)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, insertInventorySQL, productID, warehouseID); err != nil {
		return nil, fmt.Errorf("insert inventory: %w", err)
	}

	inv, err := scanInventory(r.db.QueryRow(ctx, lockInventorySQL, productID, warehouseID))
	if err != nil {
		return nil, fmt.Errorf("lock inventory: %w", err)
	}
	return inv, nil
}

// LockInventory locks an existing row.
func (r *Repository) LockInventory(ctx context.Context, productID, warehouseID string) (_ *domain.Inventory, err error) {
	ctx, end := database.TraceQuery(ctx, "LockInventory", lockInventorySQL)
	defer func() { end(err) }()

	inv, err := scanInventory(r.db.QueryRow(ctx, lockInventorySQL, productID, warehouseID))
	if err != nil {
		return nil, fmt.Errorf("lock inventory: %w", notFound(err))
	}
	return inv, nil
}

// LockCandidates locks rows that could serve minAvailable units. Rows are
// locked in warehouse id order so concurrent reservations cannot deadlock.
func (r *Repository) LockCandidates(ctx context.Context, productID string, minAvailable int) (_ []domain.Inventory, err error) {
	ctx, end := database.TraceQuery(ctx, "LockCandidates", lockCandidatesSQL)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, lockCandidatesSQL, productID, minAvailable)
	if err != nil {
		return nil, fmt.Errorf("lock candidates: %w", err)
	}
	out, err := collectInventory(rows)
	if err != nil {
		return nil, fmt.Errorf("scan candidates: %w", err)
	}
	return out, nil
}

// ApplyDelta moves the counters in one conditional UPDATE. No row returned
// means the guard rejected the change.
func (r *Repository) ApplyDelta(ctx context.Context, inventoryID string, quantityDelta, reservedDelta int) (_ *domain.Inventory, err error) {
	ctx, end := database.TraceQuery(ctx, "ApplyDelta", applyDeltaSQL)
	defer func() { end(err) }()

	inv, err := scanInventory(r.db.QueryRow(ctx, applyDeltaSQL, inventoryID, quantityDelta, reservedDelta))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("apply delta to inventory %s: %w", inventoryID, apperrors.ErrInvalidOperation)
		}
		return nil, fmt.Errorf("apply delta: %w", err)
	}
	return inv, nil
}
