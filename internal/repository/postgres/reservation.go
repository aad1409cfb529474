package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/pkg/database"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
)

const reservationColumns = `id, product_id, warehouse_id, order_id, quantity, settled_quantity, status, expires_at, created_at, updated_at`

const (
	insertReservationSQL = `
		INSERT INTO stock_reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	lockHeldByProductOrderSQL = `SELECT ` + reservationColumns + `
		FROM stock_reservations
		WHERE product_id = $1 AND order_id = $2 AND status = 'HELD'
		ORDER BY created_at, id
		FOR UPDATE`

	lockHeldByOrderSQL = `SELECT ` + reservationColumns + `
		FROM stock_reservations
		WHERE order_id = $1 AND status = 'HELD'
		ORDER BY created_at, id
		FOR UPDATE`

	lockReservationSQL = `SELECT ` + reservationColumns + `
		FROM stock_reservations
		WHERE id = $1
		FOR UPDATE`

	updateReservationSQL = `
		UPDATE stock_reservations
		SET quantity = $2, settled_quantity = $3, status = $4, updated_at = $5
		WHERE id = $1`

	listExpiredSQL = `SELECT ` + reservationColumns + `
		FROM stock_reservations
		WHERE status = 'HELD' AND expires_at < $1
		ORDER BY expires_at, id
		LIMIT $2`

	listByOrderSQL = `SELECT ` + reservationColumns + `
		FROM stock_reservations
		WHERE order_id = $1
		ORDER BY created_at, id`
)

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var (
		res    domain.Reservation
		status string
	)
	err := row.Scan(
		&res.ID,
		&res.ProductID,
		&res.WarehouseID,
		&res.OrderID,
		&res.Quantity,
		&res.SettledQuantity,
		&status,
		&res.ExpiresAt,
		&res.CreatedAt,
		&res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	res.Status = domain.ReservationStatus(status)
	return &res, nil
}

func (r *Repository) queryReservations(ctx context.Context, op, sql string, args ...any) (_ []domain.Reservation, err error) {
	ctx, end := database.TraceQuery(ctx, op, sql)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var out []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, *res)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	return out, nil
}

// CreateReservation inserts a new hold.
func (r *Repository) CreateReservation(ctx context.Context, res *domain.Reservation) (err error) {
	ctx, end := database.TraceQuery(ctx, "CreateReservation", insertReservationSQL)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, insertReservationSQL,
		res.ID,
		res.ProductID,
		res.WarehouseID,
		res.OrderID,
		res.Quantity,
		res.SettledQuantity,
		string(res.Status),
		res.ExpiresAt,
		res.CreatedAt,
		res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// LockHeldReservations locks an order's holds on one product.
func (r *Repository) LockHeldReservations(ctx context.Context, productID, orderID string) ([]domain.Reservation, error) {
	return r.queryReservations(ctx, "LockHeldReservations", lockHeldByProductOrderSQL, productID, orderID)
}

// LockHeldReservationsByOrder locks all of an order's holds.
func (r *Repository) LockHeldReservationsByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	return r.queryReservations(ctx, "LockHeldReservationsByOrder", lockHeldByOrderSQL, orderID)
}

// LockReservation locks one reservation.
func (r *Repository) LockReservation(ctx context.Context, id string) (_ *domain.Reservation, err error) {
	ctx, end := database.TraceQuery(ctx, "LockReservation", lockReservationSQL)
	defer func() { end(err) }()

	res, err := scanReservation(r.db.QueryRow(ctx, lockReservationSQL, id))
	if err != nil {
		return nil, fmt.Errorf("lock reservation: %w", notFound(err))
	}
	return res, nil
}

// UpdateReservation stores the reservation's quantities and status.
func (r *Repository) UpdateReservation(ctx context.Context, res *domain.Reservation) (err error) {
	ctx, end := database.TraceQuery(ctx, "UpdateReservation", updateReservationSQL)
	defer func() { end(err) }()

	tag, err := r.db.Exec(ctx, updateReservationSQL, res.ID, res.Quantity, res.SettledQuantity, string(res.Status), res.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update reservation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update reservation %s: %w", res.ID, apperrors.ErrNotFound)
	}
	return nil
}

// ListExpiredReservations returns holds past their expiry.
func (r *Repository) ListExpiredReservations(ctx context.Context, now time.Time, limit int) ([]domain.Reservation, error) {
	return r.queryReservations(ctx, "ListExpiredReservations", listExpiredSQL, now, limit)
}

// ListReservationsByOrder returns an order's reservations in any state.
func (r *Repository) ListReservationsByOrder(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	return r.queryReservations(ctx, "ListReservationsByOrder", listByOrderSQL, orderID)
}
