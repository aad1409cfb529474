package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	"github.com/utafrali/stockledger/pkg/database"
)

var _ repository.SeedRepository = (*Repository)(nil)

const (
	insertWarehouseSQL = `
		INSERT INTO warehouses (id, code, name, type, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`

	insertProductSQL = `
		INSERT INTO products (id, sku, name, stock, low_stock_threshold, sold_count, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT DO NOTHING`
)

// InsertWarehouse adds a warehouse unless its id or code is taken.
func (r *Repository) InsertWarehouse(ctx context.Context, w *domain.Warehouse) (_ bool, err error) {
	ctx, end := database.TraceQuery(ctx, "InsertWarehouse", insertWarehouseSQL)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, insertWarehouseSQL, w.ID, w.Code, w.Name, string(w.Type), w.IsActive)
	if err != nil {
		return false, fmt.Errorf("insert warehouse %s: %w", w.Code, err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertProduct adds a product unless its id or SKU is taken.
func (r *Repository) InsertProduct(ctx context.Context, p *domain.Product) (_ bool, err error) {
	ctx, end := database.TraceQuery(ctx, "InsertProduct", insertProductSQL)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, insertProductSQL,
		p.ID, p.SKU, p.Name, p.Stock, p.LowStockThreshold, p.SoldCount, p.IsActive)
	if err != nil {
		return false, fmt.Errorf("insert product %s: %w", p.SKU, err)
	}
	return tag.RowsAffected() == 1, nil
}
