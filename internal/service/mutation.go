package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
	"github.com/utafrali/stockledger/pkg/tracing"
)

// AdjustStockInput describes an administrative quantity change.
type AdjustStockInput struct {
	ProductID    string
	WarehouseID  string
	Delta        int
	MovementType domain.MovementType
	Note         string
	ReferenceID  string
	CreatedBy    string
}

// AdjustStockResult is the row after an adjustment and its movement.
type AdjustStockResult struct {
	Inventory *domain.Inventory     `json:"inventory"`
	Movement  *domain.StockMovement `json:"movement"`
}

// AdjustStock changes the on-hand quantity of one product in one warehouse
// by a signed delta, creating the inventory row on first use. It fails with
// InvalidOperation when quantity or available would drop below zero. The
// product stock cache is not touched; call SyncProductStock afterwards.
func (s *StockService) AdjustStock(ctx context.Context, in AdjustStockInput) (_ *AdjustStockResult, err error) {
	ctx, span := tracing.Start(ctx, "StockService.AdjustStock",
		attribute.String("product.id", in.ProductID),
		attribute.String("warehouse.id", in.WarehouseID),
		attribute.Int("delta", in.Delta),
	)
	defer func() { tracing.End(span, err) }()
	defer observe("adjust", time.Now(), &err)

	if err := requireID("product_id", in.ProductID); err != nil {
		return nil, err
	}
	if err := requireID("warehouse_id", in.WarehouseID); err != nil {
		return nil, err
	}
	if in.Delta == 0 {
		return nil, apperrors.InvalidInput("quantity must not be zero")
	}
	if !in.MovementType.Adjustable() {
		return nil, apperrors.InvalidInput(fmt.Sprintf("movement type %q cannot be used for an adjustment", in.MovementType))
	}

	var result AdjustStockResult
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.GetProduct(ctx, in.ProductID); err != nil {
			return notFoundAs(err, "product", in.ProductID)
		}
		if _, err := tx.GetWarehouse(ctx, in.WarehouseID); err != nil {
			return notFoundAs(err, "warehouse", in.WarehouseID)
		}

		inv, err := tx.EnsureInventory(ctx, in.ProductID, in.WarehouseID)
		if err != nil {
			return fmt.Errorf("ensure inventory: %w", err)
		}

		updated, m, err := s.applyAndRecord(ctx, tx, inv, in.Delta, 0, in.MovementType, in.ReferenceID, in.Note, in.CreatedBy)
		if errors.Is(err, apperrors.ErrInvalidOperation) {
			return apperrors.InvalidOperation(fmt.Sprintf(
				"adjusting product %s in warehouse %s by %d would leave quantity %d with %d reserved",
				in.ProductID, in.WarehouseID, in.Delta, inv.Quantity+in.Delta, inv.Reserved,
			))
		}
		if err != nil {
			return err
		}

		result = AdjustStockResult{Inventory: updated, Movement: m}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "stock.adjusted", s.publisher.PublishStockAdjusted(ctx, result.Inventory, result.Movement))
	if in.Delta < 0 {
		s.checkLowStock(ctx, in.ProductID)
	}

	s.log(ctx).InfoContext(ctx, "stock adjusted",
		slog.String("product_id", in.ProductID),
		slog.String("warehouse_id", in.WarehouseID),
		slog.Int("delta", in.Delta),
		slog.String("movement_type", string(in.MovementType)),
		slog.Int("quantity", result.Inventory.Quantity),
		slog.Int("available", result.Inventory.Available),
	)

	return &result, nil
}

// ReserveStock holds quantity units of a product for an order in the single
// warehouse chosen by the selector. It returns false, with nothing changed,
// when no warehouse can serve the whole quantity.
func (s *StockService) ReserveStock(ctx context.Context, productID string, quantity int, orderID string) (_ bool, err error) {
	ctx, span := tracing.Start(ctx, "StockService.ReserveStock",
		attribute.String("product.id", productID),
		attribute.String("order.id", orderID),
		attribute.Int("quantity", quantity),
	)
	defer func() { tracing.End(span, err) }()
	defer observe("reserve", time.Now(), &err)

	if err := requireID("product_id", productID); err != nil {
		return false, err
	}
	if err := requireID("order_id", orderID); err != nil {
		return false, err
	}
	if err := requirePositive("quantity", quantity); err != nil {
		return false, err
	}

	var reservation *domain.Reservation
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		candidates, err := tx.LockCandidates(ctx, productID, quantity)
		if err != nil {
			return fmt.Errorf("lock candidates: %w", err)
		}
		choice, ok := s.selector.Select(candidates, quantity)
		if !ok {
			return nil
		}

		if _, _, err := s.applyAndRecord(ctx, tx, &choice, 0, quantity, domain.MovementReservation, orderID, "", ""); err != nil {
			return fmt.Errorf("reserve in warehouse %s: %w", choice.WarehouseID, err)
		}

		now := s.clock()
		r := &domain.Reservation{
			ID:          uuid.New().String(),
			ProductID:   productID,
			WarehouseID: choice.WarehouseID,
			OrderID:     orderID,
			Quantity:    quantity,
			Status:      domain.ReservationHeld,
			ExpiresAt:   now.Add(s.reservationTTL),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.CreateReservation(ctx, r); err != nil {
			return fmt.Errorf("create reservation: %w", err)
		}
		reservation = r
		return nil
	})
	if err != nil {
		return false, err
	}

	if reservation == nil {
		noCapacity.WithLabelValues("reserve").Inc()
		s.log(ctx).InfoContext(ctx, "no warehouse can serve reservation",
			slog.String("product_id", productID),
			slog.String("order_id", orderID),
			slog.Int("quantity", quantity),
		)
		return false, nil
	}

	s.publish(ctx, "stock.reserved", s.publisher.PublishStockReserved(ctx, reservation))
	s.checkLowStock(ctx, productID)

	s.log(ctx).InfoContext(ctx, "stock reserved",
		slog.String("reservation_id", reservation.ID),
		slog.String("product_id", productID),
		slog.String("warehouse_id", reservation.WarehouseID),
		slog.String("order_id", orderID),
		slog.Int("quantity", quantity),
	)

	return true, nil
}

// DirectSale sells quantity units without a prior reservation from the
// warehouse chosen by the selector. Like ReserveStock it returns false when
// no single warehouse has enough available.
func (s *StockService) DirectSale(ctx context.Context, productID string, quantity int, orderID string) (_ bool, err error) {
	ctx, span := tracing.Start(ctx, "StockService.DirectSale",
		attribute.String("product.id", productID),
		attribute.String("order.id", orderID),
		attribute.Int("quantity", quantity),
	)
	defer func() { tracing.End(span, err) }()
	defer observe("direct_sale", time.Now(), &err)

	if err := requireID("product_id", productID); err != nil {
		return false, err
	}
	if err := requirePositive("quantity", quantity); err != nil {
		return false, err
	}

	var movement *domain.StockMovement
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		candidates, err := tx.LockCandidates(ctx, productID, quantity)
		if err != nil {
			return fmt.Errorf("lock candidates: %w", err)
		}
		choice, ok := s.selector.Select(candidates, quantity)
		if !ok {
			return nil
		}

		_, m, err := s.applyAndRecord(ctx, tx, &choice, -quantity, 0, domain.MovementSale, orderID, "", "")
		if err != nil {
			return fmt.Errorf("sell from warehouse %s: %w", choice.WarehouseID, err)
		}
		if err := tx.ApplySale(ctx, productID, quantity); err != nil {
			return notFoundAs(err, "product", productID)
		}
		movement = m
		return nil
	})
	if err != nil {
		return false, err
	}

	if movement == nil {
		noCapacity.WithLabelValues("direct_sale").Inc()
		s.log(ctx).InfoContext(ctx, "no warehouse can serve direct sale",
			slog.String("product_id", productID),
			slog.String("order_id", orderID),
			slog.Int("quantity", quantity),
		)
		return false, nil
	}

	s.publish(ctx, "stock.sold", s.publisher.PublishStockSold(ctx, movement))
	s.checkLowStock(ctx, productID)

	s.log(ctx).InfoContext(ctx, "direct sale completed",
		slog.String("product_id", productID),
		slog.String("warehouse_id", movement.WarehouseID),
		slog.String("order_id", orderID),
		slog.Int("quantity", quantity),
	)

	return true, nil
}

// TransferStockInput moves units between two warehouses.
type TransferStockInput struct {
	ProductID       string
	FromWarehouseID string
	ToWarehouseID   string
	Quantity        int
	Note            string
	CreatedBy       string
}

// TransferStockResult holds both rows and both movements of a transfer.
type TransferStockResult struct {
	From        *domain.Inventory     `json:"from"`
	To          *domain.Inventory     `json:"to"`
	OutMovement *domain.StockMovement `json:"out_movement"`
	InMovement  *domain.StockMovement `json:"in_movement"`
}

// TransferStock moves available units of a product from one warehouse to
// another in one transaction. The product's total, and so its cache, does
// not change.
func (s *StockService) TransferStock(ctx context.Context, in TransferStockInput) (_ *TransferStockResult, err error) {
	ctx, span := tracing.Start(ctx, "StockService.TransferStock",
		attribute.String("product.id", in.ProductID),
		attribute.String("warehouse.from", in.FromWarehouseID),
		attribute.String("warehouse.to", in.ToWarehouseID),
		attribute.Int("quantity", in.Quantity),
	)
	defer func() { tracing.End(span, err) }()
	defer observe("transfer", time.Now(), &err)

	if err := requireID("product_id", in.ProductID); err != nil {
		return nil, err
	}
	if err := requireID("from_warehouse_id", in.FromWarehouseID); err != nil {
		return nil, err
	}
	if err := requireID("to_warehouse_id", in.ToWarehouseID); err != nil {
		return nil, err
	}
	if in.FromWarehouseID == in.ToWarehouseID {
		return nil, apperrors.InvalidInput("source and destination warehouse must differ")
	}
	if err := requirePositive("quantity", in.Quantity); err != nil {
		return nil, err
	}

	var result TransferStockResult
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.GetProduct(ctx, in.ProductID); err != nil {
			return notFoundAs(err, "product", in.ProductID)
		}
		for _, id := range []string{in.FromWarehouseID, in.ToWarehouseID} {
			if _, err := tx.GetWarehouse(ctx, id); err != nil {
				return notFoundAs(err, "warehouse", id)
			}
		}

		from, to, err := lockTransferRows(ctx, tx, in.ProductID, in.FromWarehouseID, in.ToWarehouseID)
		if err != nil {
			return err
		}

		note := in.Note
		if note == "" {
			note = fmt.Sprintf("transfer %s -> %s", in.FromWarehouseID, in.ToWarehouseID)
		}
		reference := uuid.New().String()

		fromAfter, out, err := s.applyAndRecord(ctx, tx, from, -in.Quantity, 0, domain.MovementTransferOut, reference, note, in.CreatedBy)
		if errors.Is(err, apperrors.ErrInvalidOperation) {
			return apperrors.InvalidOperation(fmt.Sprintf(
				"warehouse %s has %d available of product %s, cannot transfer %d",
				in.FromWarehouseID, from.Available, in.ProductID, in.Quantity,
			))
		}
		if err != nil {
			return err
		}
		toAfter, inMove, err := s.applyAndRecord(ctx, tx, to, in.Quantity, 0, domain.MovementTransferIn, reference, note, in.CreatedBy)
		if err != nil {
			return err
		}

		result = TransferStockResult{From: fromAfter, To: toAfter, OutMovement: out, InMovement: inMove}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, "stock.transferred", s.publisher.PublishStockTransferred(ctx, result.OutMovement, result.InMovement))

	s.log(ctx).InfoContext(ctx, "stock transferred",
		slog.String("product_id", in.ProductID),
		slog.String("from_warehouse_id", in.FromWarehouseID),
		slog.String("to_warehouse_id", in.ToWarehouseID),
		slog.Int("quantity", in.Quantity),
	)

	return &result, nil
}

// lockTransferRows locks both rows in warehouse id order. A missing source
// row holds nothing, so the transfer is an invalid operation.
func lockTransferRows(ctx context.Context, tx repository.Store, productID, fromID, toID string) (from, to *domain.Inventory, err error) {
	lockFrom := func() error {
		from, err = tx.LockInventory(ctx, productID, fromID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return apperrors.InvalidOperation(fmt.Sprintf("warehouse %s holds no stock of product %s", fromID, productID))
		}
		if err != nil {
			return fmt.Errorf("lock source inventory: %w", err)
		}
		return nil
	}
	lockTo := func() error {
		to, err = tx.EnsureInventory(ctx, productID, toID)
		if err != nil {
			return fmt.Errorf("ensure destination inventory: %w", err)
		}
		return nil
	}

	steps := []func() error{lockFrom, lockTo}
	if toID < fromID {
		steps = []func() error{lockTo, lockFrom}
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, nil, err
		}
	}
	return from, to, nil
}
