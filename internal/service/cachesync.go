package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/utafrali/stockledger/internal/repository"
	"github.com/utafrali/stockledger/pkg/tracing"
)

// SyncProductStock overwrites the product's cached stock with its total
// on-hand quantity and returns the new value.
func (s *StockService) SyncProductStock(ctx context.Context, productID string) (_ int, err error) {
	ctx, span := tracing.Start(ctx, "StockService.SyncProductStock", attribute.String("product.id", productID))
	defer func() { tracing.End(span, err) }()
	defer observe("sync", time.Now(), &err)

	if err := requireID("product_id", productID); err != nil {
		return 0, err
	}

	var total int
	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.GetProduct(ctx, productID); err != nil {
			return notFoundAs(err, "product", productID)
		}
		sum, err := tx.SumQuantity(ctx, productID)
		if err != nil {
			return fmt.Errorf("sum quantity: %w", err)
		}
		if err := tx.SetCachedStock(ctx, productID, sum); err != nil {
			return notFoundAs(err, "product", productID)
		}
		total = sum
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log(ctx).DebugContext(ctx, "product stock synced",
		slog.String("product_id", productID),
		slog.Int("stock", total),
	)
	return total, nil
}

// ReconcileStockCache rewrites every drifted product cache and returns how
// many products changed.
func (s *StockService) ReconcileStockCache(ctx context.Context) (_ int, err error) {
	ctx, span := tracing.Start(ctx, "StockService.ReconcileStockCache")
	defer func() { tracing.End(span, err) }()
	defer observe("reconcile", time.Now(), &err)

	changed, err := s.store.ReconcileStockCache(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconcile stock cache: %w", err)
	}

	cacheCorrections.Add(float64(changed))
	if changed > 0 {
		s.log(ctx).WarnContext(ctx, "corrected drifted stock cache", slog.Int("products", changed))
	}
	return changed, nil
}
