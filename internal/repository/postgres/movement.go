package postgres

import (
	"context"
	"fmt"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/pkg/database"
)

const (
	insertMovementSQL = `
		INSERT INTO stock_movements
			(id, product_id, warehouse_id, quantity, stock_before, stock_after, movement_type, reference_id, note, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	listMovementsSQL = `
		SELECT id, product_id, warehouse_id, quantity, stock_before, stock_after, movement_type,
			reference_id, note, created_by, created_at, count(*) OVER() AS total_count
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`

	countMovementsSQL = `SELECT count(*) FROM stock_movements WHERE product_id = $1`
)

// AppendMovement inserts one audit record.
func (r *Repository) AppendMovement(ctx context.Context, m *domain.StockMovement) (err error) {
	ctx, end := database.TraceQuery(ctx, "AppendMovement", insertMovementSQL)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, insertMovementSQL,
		m.ID,
		m.ProductID,
		m.WarehouseID,
		m.Quantity,
		m.StockBefore,
		m.StockAfter,
		string(m.MovementType),
		m.ReferenceID,
		m.Note,
		m.CreatedBy,
		m.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stock movement: %w", err)
	}
	return nil
}

// ListMovements pages through a product's movement log, newest first.
func (r *Repository) ListMovements(ctx context.Context, productID string, limit, offset int) (_ []domain.StockMovement, total int, err error) {
	ctx, end := database.TraceQuery(ctx, "ListMovements", listMovementsSQL)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, listMovementsSQL, productID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list movements: %w", err)
	}
	defer rows.Close()

	var out []domain.StockMovement
	for rows.Next() {
		var (
			m  domain.StockMovement
			mt string
		)
		if err = rows.Scan(
			&m.ID,
			&m.ProductID,
			&m.WarehouseID,
			&m.Quantity,
			&m.StockBefore,
			&m.StockAfter,
			&mt,
			&m.ReferenceID,
			&m.Note,
			&m.CreatedBy,
			&m.CreatedAt,
			&total,
		); err != nil {
			return nil, 0, fmt.Errorf("scan movement: %w", err)
		}
		m.MovementType = domain.MovementType(mt)
		out = append(out, m)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate movements: %w", err)
	}
	rows.Close()

	if len(out) == 0 && offset > 0 {
		total, err = r.countAll(ctx, "count movements", countMovementsSQL, productID)
		if err != nil {
			return nil, 0, err
		}
	}
	return out, total, nil
}
