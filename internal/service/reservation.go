package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
	"github.com/utafrali/stockledger/pkg/tracing"
)

// expiryBatchSize bounds how many holds one sweep releases.
const expiryBatchSize = 500

type rowKey struct {
	productID   string
	warehouseID string
}

// settle consumes up to quantity units from held reservations, oldest
// first, moving each emptied hold to terminal. Units are applied once per
// inventory row: a confirm removes them from quantity and reserved (SALE),
// a release or expiry returns them to available (RELEASE).
func (s *StockService) settle(
	ctx context.Context,
	tx repository.Store,
	held []domain.Reservation,
	quantity int,
	terminal domain.ReservationStatus,
	note string,
) ([]*domain.StockMovement, error) {
	now := s.clock()
	perRow := make(map[rowKey]int)
	orders := make(map[rowKey]string)

	remaining := quantity
	for i := range held {
		if remaining == 0 {
			break
		}
		r := &held[i]
		taken := r.Consume(remaining, terminal, now)
		remaining -= taken

		key := rowKey{r.ProductID, r.WarehouseID}
		perRow[key] += taken
		orders[key] = r.OrderID

		if err := tx.UpdateReservation(ctx, r); err != nil {
			return nil, fmt.Errorf("update reservation %s: %w", r.ID, err)
		}
	}

	keys := make([]rowKey, 0, len(perRow))
	for k := range perRow {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].productID != keys[j].productID {
			return keys[i].productID < keys[j].productID
		}
		return keys[i].warehouseID < keys[j].warehouseID
	})

	movements := make([]*domain.StockMovement, 0, len(keys))
	for _, k := range keys {
		n := perRow[k]
		inv, err := tx.LockInventory(ctx, k.productID, k.warehouseID)
		if err != nil {
			return nil, fmt.Errorf("lock inventory %s/%s: %w", k.productID, k.warehouseID, err)
		}

		quantityDelta, movementType := 0, domain.MovementRelease
		if terminal == domain.ReservationConfirmed {
			quantityDelta, movementType = -n, domain.MovementSale
		}

		_, m, err := s.applyAndRecord(ctx, tx, inv, quantityDelta, -n, movementType, orders[k], note, "")
		if err != nil {
			return nil, fmt.Errorf("settle %d units in warehouse %s: %w", n, k.warehouseID, err)
		}
		movements = append(movements, m)
	}
	return movements, nil
}

// ConfirmSale turns quantity units held for an order into a sale. The units
// leave the warehouse each reservation was made in, and the product cache
// drops by the same amount. It fails with InsufficientReservation when the
// order holds fewer units of the product.
func (s *StockService) ConfirmSale(ctx context.Context, productID string, quantity int, orderID string) (err error) {
	ctx, span := tracing.Start(ctx, "StockService.ConfirmSale",
		attribute.String("product.id", productID),
		attribute.String("order.id", orderID),
		attribute.Int("quantity", quantity),
	)
	defer func() { tracing.End(span, err) }()
	defer observe("confirm", time.Now(), &err)

	if err := requireID("product_id", productID); err != nil {
		return err
	}
	if err := requireID("order_id", orderID); err != nil {
		return err
	}
	if err := requirePositive("quantity", quantity); err != nil {
		return err
	}

	var movements []*domain.StockMovement
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		held, err := tx.LockHeldReservations(ctx, productID, orderID)
		if err != nil {
			return fmt.Errorf("lock reservations: %w", err)
		}
		if total := domain.TotalHeld(held); total < quantity {
			return apperrors.InsufficientReservation(fmt.Sprintf(
				"order %s holds %d units of product %s, cannot confirm %d",
				orderID, total, productID, quantity,
			))
		}

		movements, err = s.settle(ctx, tx, held, quantity, domain.ReservationConfirmed, "")
		if err != nil {
			return err
		}
		if err := tx.ApplySale(ctx, productID, quantity); err != nil {
			return notFoundAs(err, "product", productID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range movements {
		s.publish(ctx, "stock.sold", s.publisher.PublishStockSold(ctx, m))
	}

	s.log(ctx).InfoContext(ctx, "sale confirmed",
		slog.String("product_id", productID),
		slog.String("order_id", orderID),
		slog.Int("quantity", quantity),
	)

	return nil
}

// ReleaseReservation returns up to quantity held units of a product to
// available. Releasing when nothing is held is a logged no-op.
func (s *StockService) ReleaseReservation(ctx context.Context, productID string, quantity int, orderID string) (err error) {
	ctx, span := tracing.Start(ctx, "StockService.ReleaseReservation",
		attribute.String("product.id", productID),
		attribute.String("order.id", orderID),
		attribute.Int("quantity", quantity),
	)
	defer func() { tracing.End(span, err) }()
	defer observe("release", time.Now(), &err)

	if err := requireID("product_id", productID); err != nil {
		return err
	}
	if err := requireID("order_id", orderID); err != nil {
		return err
	}
	if err := requirePositive("quantity", quantity); err != nil {
		return err
	}

	var (
		movements []*domain.StockMovement
		held      int
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		reservations, err := tx.LockHeldReservations(ctx, productID, orderID)
		if err != nil {
			return fmt.Errorf("lock reservations: %w", err)
		}
		held = domain.TotalHeld(reservations)
		if held == 0 {
			return nil
		}
		movements, err = s.settle(ctx, tx, reservations, min(quantity, held), domain.ReservationReleased, "")
		return err
	})
	if err != nil {
		return err
	}

	if held == 0 {
		s.log(ctx).WarnContext(ctx, "nothing held to release",
			slog.String("product_id", productID),
			slog.String("order_id", orderID),
			slog.Int("quantity", quantity),
		)
		return nil
	}
	if held < quantity {
		s.log(ctx).WarnContext(ctx, "released less than requested",
			slog.String("product_id", productID),
			slog.String("order_id", orderID),
			slog.Int("requested", quantity),
			slog.Int("released", held),
		)
	}

	for _, m := range movements {
		s.publish(ctx, "stock.released", s.publisher.PublishStockReleased(ctx, m))
	}

	s.log(ctx).InfoContext(ctx, "reservation released",
		slog.String("product_id", productID),
		slog.String("order_id", orderID),
		slog.Int("quantity", min(quantity, held)),
	)

	return nil
}

// ConfirmOrder confirms every hold of an order and returns the units sold.
// An order with nothing held confirms zero units, so redelivered order
// events are harmless.
func (s *StockService) ConfirmOrder(ctx context.Context, orderID string) (_ int, err error) {
	ctx, span := tracing.Start(ctx, "StockService.ConfirmOrder", attribute.String("order.id", orderID))
	defer func() { tracing.End(span, err) }()
	defer observe("confirm_order", time.Now(), &err)

	if err := requireID("order_id", orderID); err != nil {
		return 0, err
	}

	var (
		movements []*domain.StockMovement
		units     int
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		held, err := tx.LockHeldReservationsByOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("lock reservations: %w", err)
		}
		units = domain.TotalHeld(held)
		if units == 0 {
			return nil
		}

		sold := make(map[string]int)
		for _, r := range held {
			sold[r.ProductID] += r.Quantity
		}

		movements, err = s.settle(ctx, tx, held, units, domain.ReservationConfirmed, "")
		if err != nil {
			return err
		}
		for _, productID := range sortedKeys(sold) {
			if err := tx.ApplySale(ctx, productID, sold[productID]); err != nil {
				return notFoundAs(err, "product", productID)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, m := range movements {
		s.publish(ctx, "stock.sold", s.publisher.PublishStockSold(ctx, m))
	}

	s.log(ctx).InfoContext(ctx, "order confirmed",
		slog.String("order_id", orderID),
		slog.Int("units", units),
	)
	return units, nil
}

// ReleaseOrder releases every hold of an order and returns the units freed.
func (s *StockService) ReleaseOrder(ctx context.Context, orderID string) (_ int, err error) {
	ctx, span := tracing.Start(ctx, "StockService.ReleaseOrder", attribute.String("order.id", orderID))
	defer func() { tracing.End(span, err) }()
	defer observe("release_order", time.Now(), &err)

	if err := requireID("order_id", orderID); err != nil {
		return 0, err
	}

	var (
		movements []*domain.StockMovement
		units     int
	)
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		held, err := tx.LockHeldReservationsByOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("lock reservations: %w", err)
		}
		units = domain.TotalHeld(held)
		if units == 0 {
			return nil
		}
		movements, err = s.settle(ctx, tx, held, units, domain.ReservationReleased, "")
		return err
	})
	if err != nil {
		return 0, err
	}

	for _, m := range movements {
		s.publish(ctx, "stock.released", s.publisher.PublishStockReleased(ctx, m))
	}

	s.log(ctx).InfoContext(ctx, "order released",
		slog.String("order_id", orderID),
		slog.Int("units", units),
	)
	return units, nil
}

// ReleaseExpiredReservations releases holds past their expiry and marks
// them EXPIRED. Each hold is settled in its own transaction; failures are
// logged and returned together after the batch.
func (s *StockService) ReleaseExpiredReservations(ctx context.Context) (_ int, err error) {
	ctx, span := tracing.Start(ctx, "StockService.ReleaseExpiredReservations")
	defer func() { tracing.End(span, err) }()
	defer observe("expire", time.Now(), &err)

	now := s.clock()
	expired, err := s.store.ListExpiredReservations(ctx, now, expiryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list expired reservations: %w", err)
	}

	var (
		released int
		errs     []error
	)
	for _, candidate := range expired {
		var movements []*domain.StockMovement
		txErr := s.store.WithinTx(ctx, func(tx repository.Store) error {
			r, err := tx.LockReservation(ctx, candidate.ID)
			if err != nil {
				return fmt.Errorf("lock reservation: %w", err)
			}
			if !r.IsExpired(now) {
				return nil
			}
			movements, err = s.settle(ctx, tx, []domain.Reservation{*r}, r.Quantity, domain.ReservationExpired, "reservation expired")
			return err
		})
		if txErr != nil {
			s.log(ctx).ErrorContext(ctx, "failed to expire reservation",
				slog.String("reservation_id", candidate.ID),
				slog.String("error", txErr.Error()),
			)
			errs = append(errs, fmt.Errorf("expire reservation %s: %w", candidate.ID, txErr))
			continue
		}
		if len(movements) == 0 {
			continue
		}

		released++
		reservationsExpired.Inc()
		for _, m := range movements {
			s.publish(ctx, "stock.released", s.publisher.PublishStockReleased(ctx, m))
		}
	}

	if released > 0 {
		s.log(ctx).InfoContext(ctx, "expired reservations released", slog.Int("count", released))
	}
	return released, errors.Join(errs...)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
