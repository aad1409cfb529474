package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/pkg/database"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

const productColumns = `id, sku, name, stock, low_stock_threshold, sold_count, is_active, updated_at`

const (
	getProductSQL = `SELECT ` + productColumns + ` FROM products WHERE id = $1`

	getProductBySKUSQL = `SELECT ` + productColumns + ` FROM products WHERE sku = $1`

	productNamesSQL = `SELECT id, name FROM products WHERE id = ANY($1)`

	getWarehouseSQL = `SELECT id, code, name, type, is_active FROM warehouses WHERE id = $1`

	getWarehouseByCodeSQL = `SELECT id, code, name, type, is_active FROM warehouses WHERE code = $1`

	applySaleSQL = `
		UPDATE products
		SET stock = stock - $2, sold_count = sold_count + $2, updated_at = NOW()
		WHERE id = $1`

	setCachedStockSQL = `UPDATE products SET stock = $2, updated_at = NOW() WHERE id = $1`

	reconcileStockCacheSQL = `
		UPDATE products p
		SET stock = totals.quantity, updated_at = NOW()
		FROM (
			SELECT pr.id, COALESCE(SUM(i.quantity), 0) AS quantity
			FROM products pr
			LEFT JOIN inventory i ON i.product_id = pr.id
			GROUP BY pr.id
		) totals
		WHERE p.id = totals.id AND p.stock <> totals.quantity`

	listLowStockSQL = `
		SELECT id, name, stock, low_stock_threshold, count(*) OVER() AS total_count
		FROM products
		WHERE is_active AND stock <= low_stock_threshold
		ORDER BY stock ASC, name ASC
		LIMIT $1 OFFSET $2`

	countLowStockSQL = `SELECT count(*) FROM products WHERE is_active AND stock <= low_stock_threshold`
)

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.Stock, &p.LowStockThreshold, &p.SoldCount, &p.IsActive, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanWarehouse(row pgx.Row) (*domain.Warehouse, error) {
	var (
		w   domain.Warehouse
		typ string
	)
	if err := row.Scan(&w.ID, &w.Code, &w.Name, &typ, &w.IsActive); err != nil {
		return nil, err
	}
	w.Type = domain.WarehouseType(typ)
	return &w, nil
}

// GetProduct loads a product by id.
func (r *Repository) GetProduct(ctx context.Context, id string) (_ *domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, "GetProduct", getProductSQL)
	defer func() { end(err) }()

	p, err := scanProduct(r.db.QueryRow(ctx, getProductSQL, id))
	if err != nil {
		return nil, fmt.Errorf("get product: %w", notFound(err))
	}
	return p, nil
}

// GetProductBySKU loads a product by SKU.
func (r *Repository) GetProductBySKU(ctx context.Context, sku string) (_ *domain.Product, err error) {
	ctx, end := database.TraceQuery(ctx, "GetProductBySKU", getProductBySKUSQL)
	defer func() { end(err) }()

	p, err := scanProduct(r.db.QueryRow(ctx, getProductBySKUSQL, sku))
	if err != nil {
		return nil, fmt.Errorf("get product by sku: %w", notFound(err))
	}
	return p, nil
}

// ProductNames resolves display names for ids in one round trip.
func (r *Repository) ProductNames(ctx context.Context, ids []string) (_ map[string]string, err error) {
	ctx, end := database.TraceQuery(ctx, "ProductNames", productNamesSQL)
	defer func() { end(err) }()

	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}

	rows, err := r.db.Query(ctx, productNamesSQL, ids)
	if err != nil {
		return nil, fmt.Errorf("product names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err = rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("scan product name: %w", err)
		}
		names[id] = name
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate product names: %w", err)
	}
	return names, nil
}

// GetWarehouse loads a warehouse by id.
func (r *Repository) GetWarehouse(ctx context.Context, id string) (_ *domain.Warehouse, err error) {
	ctx, end := database.TraceQuery(ctx, "GetWarehouse", getWarehouseSQL)
	defer func() { end(err) }()

	w, err := scanWarehouse(r.db.QueryRow(ctx, getWarehouseSQL, id))
	if err != nil {
		return nil, fmt.Errorf("get warehouse: %w", notFound(err))
	}
	return w, nil
}

// GetWarehouseByCode loads a warehouse by its code.
func (r *Repository) GetWarehouseByCode(ctx context.Context, code string) (_ *domain.Warehouse, err error) {
	ctx, end := database.TraceQuery(ctx, "GetWarehouseByCode", getWarehouseByCodeSQL)
	defer func() { end(err) }()

	w, err := scanWarehouse(r.db.QueryRow(ctx, getWarehouseByCodeSQL, code))
	if err != nil {
		return nil, fmt.Errorf("get warehouse by code: %w", notFound(err))
	}
	return w, nil
}

func (r *Repository) execProduct(ctx context.Context, op, sql string, args ...any) (err error) {
	ctx, end := database.TraceQuery(ctx, op, sql)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: product %v: %w", op, args[0], apperrors.ErrNotFound)
	}
	return nil
}

// ApplySale moves quantity from the cached stock to sold_count.
func (r *Repository) ApplySale(ctx context.Context, productID string, quantity int) error {
	return r.execProduct(ctx, "ApplySale", applySaleSQL, productID, quantity)
}

// SetCachedStock overwrites the cached stock.
func (r *Repository) SetCachedStock(ctx context.Context, productID string, stock int) error {
	return r.execProduct(ctx, "SetCachedStock", setCachedStockSQL, productID, stock)
}

// ReconcileStockCache fixes every drifted product in one statement.
func (r *Repository) ReconcileStockCache(ctx context.Context) (_ int, err error) {
	ctx, end := database.TraceQuery(ctx, "ReconcileStockCache", reconcileStockCacheSQL)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, reconcileStockCacheSQL)
	if err != nil {
		return 0, fmt.Errorf("reconcile stock cache: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListLowStock pages through the low-stock report.
func (r *Repository) ListLowStock(ctx context.Context, limit, offset int) (_ []domain.LowStockProduct, total int, err error) {
	ctx, end := database.TraceQuery(ctx, "ListLowStock", listLowStockSQL)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, listLowStockSQL, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list low stock: %w", err)
	}
	defer rows.Close()

	var out []domain.LowStockProduct
	for rows.Next() {
		var p domain.LowStockProduct
		if err = rows.Scan(&p.ID, &p.Name, &p.Stock, &p.Threshold, &total); err != nil {
			return nil, 0, fmt.Errorf("scan low stock: %w", err)
		}
		out = append(out, p)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate low stock: %w", err)
	}
	rows.Close()

	if len(out) == 0 && offset > 0 {
		total, err = r.countAll(ctx, "count low stock", countLowStockSQL)
		if err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}
