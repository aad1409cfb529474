package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/stockledger/internal/domain"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
	"github.com/utafrali/stockledger/pkg/tracing"
)

// importNote is recorded on every movement created by a bulk import.
const importNote = "bulk import"

// BulkImportStock restocks each row in order through AdjustStock. A failing
// row is reported and skipped. Every product touched by a successful row is
// synced once at the end.
func (s *StockService) BulkImportStock(ctx context.Context, rows []domain.ImportRow) (_ *domain.ImportResult, err error) {
	ctx, span := tracing.Start(ctx, "StockService.BulkImportStock", attribute.Int("rows", len(rows)))
	defer func() { tracing.End(span, err) }()
	defer observe("import", time.Now(), &err)

	result := &domain.ImportResult{Errors: []domain.ImportError{}}
	var touched []string
	seen := make(map[string]bool)

	for i, row := range rows {
		productID, err := s.importRow(ctx, row)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, domain.ImportError{
				Row:           i + 1,
				SKU:           row.SKU,
				WarehouseCode: row.WarehouseCode,
				Message:       errorMessage(err),
			})
			continue
		}
		result.Success++
		if !seen[productID] {
			seen[productID] = true
			touched = append(touched, productID)
		}
	}

	for _, id := range touched {
		if _, err := s.SyncProductStock(ctx, id); err != nil {
			s.log(ctx).ErrorContext(ctx, "failed to sync product after import",
				slog.String("product_id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	s.log(ctx).InfoContext(ctx, "bulk import finished",
		slog.Int("success", result.Success),
		slog.Int("failed", result.Failed),
		slog.Int("products", len(touched)),
	)
	return result, nil
}

func (s *StockService) importRow(ctx context.Context, row domain.ImportRow) (string, error) {
	if row.SKU == "" {
		return "", apperrors.InvalidInput("sku is required")
	}
	if row.WarehouseCode == "" {
		return "", apperrors.InvalidInput("warehouse_code is required")
	}

	product, err := s.store.GetProductBySKU(ctx, row.SKU)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return "", apperrors.InvalidInput(fmt.Sprintf("unknown sku %q", row.SKU))
		}
		return "", err
	}
	warehouse, err := s.store.GetWarehouseByCode(ctx, row.WarehouseCode)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return "", apperrors.InvalidInput(fmt.Sprintf("unknown warehouse code %q", row.WarehouseCode))
		}
		return "", err
	}

	_, err = s.AdjustStock(ctx, AdjustStockInput{
		ProductID:    product.ID,
		WarehouseID:  warehouse.ID,
		Delta:        row.Quantity,
		MovementType: domain.MovementRestock,
		Note:         importNote,
	})
	if err != nil {
		return "", err
	}
	return product.ID, nil
}

// errorMessage prefers the client-facing message of an AppError.
func errorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
