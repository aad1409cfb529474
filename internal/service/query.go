package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/stockledger/internal/domain"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
	"github.com/utafrali/stockledger/pkg/pagination"
	"github.com/utafrali/stockledger/pkg/tracing"
	"github.com/utafrali/stockledger/pkg/validator"
)

// GetAvailableStock returns the sellable units of a product across all
// warehouses. Products without inventory rows have zero.
func (s *StockService) GetAvailableStock(ctx context.Context, productID string) (_ int, err error) {
	ctx, span := tracing.Start(ctx, "StockService.GetAvailableStock", attribute.String("product.id", productID))
	defer func() { tracing.End(span, err) }()

	if err := requireID("product_id", productID); err != nil {
		return 0, err
	}
	total, err := s.store.SumAvailable(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("get available stock: %w", err)
	}
	return total, nil
}

// GetTotalStock returns the on-hand units of a product, reserved included.
func (s *StockService) GetTotalStock(ctx context.Context, productID string) (_ int, err error) {
	ctx, span := tracing.Start(ctx, "StockService.GetTotalStock", attribute.String("product.id", productID))
	defer func() { tracing.End(span, err) }()

	if err := requireID("product_id", productID); err != nil {
		return 0, err
	}
	total, err := s.store.SumQuantity(ctx, productID)
	if err != nil {
		return 0, fmt.Errorf("get total stock: %w", err)
	}
	return total, nil
}

// CheckStockAvailability reports which requested products cannot be served
// from current availability. It takes no locks, so a later reservation may
// still fail.
func (s *StockService) CheckStockAvailability(ctx context.Context, items []domain.StockCheckItem) (_ *domain.AvailabilityResult, err error) {
	ctx, span := tracing.Start(ctx, "StockService.CheckStockAvailability", attribute.Int("items", len(items)))
	defer func() { tracing.End(span, err) }()
	defer observe("check", time.Now(), &err)

	var short []string
	for i := range items {
		if err := validator.Validate(&items[i]); err != nil {
			return nil, apperrors.InvalidInput(fmt.Sprintf("items[%d]: %s", i, err))
		}
		available, err := s.store.SumAvailable(ctx, items[i].ProductID)
		if err != nil {
			return nil, fmt.Errorf("check availability of %s: %w", items[i].ProductID, err)
		}
		if available < items[i].Quantity {
			short = append(short, items[i].ProductID)
		}
	}

	if len(short) == 0 {
		return &domain.AvailabilityResult{Available: true}, nil
	}

	names, err := s.store.ProductNames(ctx, short)
	if err != nil {
		return nil, fmt.Errorf("resolve product names: %w", err)
	}
	out := make([]string, len(short))
	for i, id := range short {
		if name, ok := names[id]; ok {
			out[i] = name
		} else {
			out[i] = id
		}
	}
	return &domain.AvailabilityResult{Available: false, OutOfStock: out}, nil
}

// GetLowStockProducts pages through active products whose cached stock is
// at or below their threshold, lowest stock first.
func (s *StockService) GetLowStockProducts(ctx context.Context, params pagination.Params) (pagination.Result[domain.LowStockProduct], error) {
	items, total, err := s.store.ListLowStock(ctx, params.PerPage, params.Offset)
	if err != nil {
		return pagination.Result[domain.LowStockProduct]{}, fmt.Errorf("list low stock: %w", err)
	}
	return pagination.NewResult(items, total, params), nil
}

// GetProductInventory returns the per-warehouse rows of a product.
func (s *StockService) GetProductInventory(ctx context.Context, productID string) ([]domain.Inventory, error) {
	if err := requireID("product_id", productID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetProduct(ctx, productID); err != nil {
		return nil, notFoundAs(err, "product", productID)
	}
	rows, err := s.store.ListByProduct(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("list inventory: %w", err)
	}
	if rows == nil {
		rows = []domain.Inventory{}
	}
	return rows, nil
}

// ListMovements pages through a product's audit log, newest first.
func (s *StockService) ListMovements(ctx context.Context, productID string, params pagination.Params) (pagination.Result[domain.StockMovement], error) {
	if productID == "" {
		return pagination.Result[domain.StockMovement]{}, apperrors.InvalidInput("product_id is required")
	}
	items, total, err := s.store.ListMovements(ctx, productID, params.PerPage, params.Offset)
	if err != nil {
		return pagination.Result[domain.StockMovement]{}, fmt.Errorf("list movements: %w", err)
	}
	return pagination.NewResult(items, total, params), nil
}

// ListOrderReservations returns every reservation of an order in any state,
// oldest first.
func (s *StockService) ListOrderReservations(ctx context.Context, orderID string) ([]domain.Reservation, error) {
	if err := requireID("order_id", orderID); err != nil {
		return nil, err
	}
	out, err := s.store.ListReservationsByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list order reservations: %w", err)
	}
	if out == nil {
		out = []domain.Reservation{}
	}
	return out, nil
}
