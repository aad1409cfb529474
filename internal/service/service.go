// Package service implements the stock ledger: availability queries,
// transactional stock mutations, the product stock cache and bulk import.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/repository"
	apperrors "github.com/utafrali/stockledger/pkg/errors"
	"github.com/utafrali/stockledger/pkg/logger"
)

// DefaultReservationTTL is how long a hold lives before the expiry sweep
// releases it.
const DefaultReservationTTL = 15 * time.Minute

// EventPublisher announces committed ledger changes.
type EventPublisher interface {
	PublishStockAdjusted(ctx context.Context, inv *domain.Inventory, m *domain.StockMovement) error
	PublishStockReserved(ctx context.Context, r *domain.Reservation) error
	PublishStockReleased(ctx context.Context, m *domain.StockMovement) error
	PublishStockSold(ctx context.Context, m *domain.StockMovement) error
	PublishStockTransferred(ctx context.Context, out, in *domain.StockMovement) error
	PublishLowStock(ctx context.Context, productID string, available, threshold int) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) PublishStockAdjusted(context.Context, *domain.Inventory, *domain.StockMovement) error {
	return nil
}
func (NopPublisher) PublishStockReserved(context.Context, *domain.Reservation) error   { return nil }
func (NopPublisher) PublishStockReleased(context.Context, *domain.StockMovement) error { return nil }
func (NopPublisher) PublishStockSold(context.Context, *domain.StockMovement) error     { return nil }
func (NopPublisher) PublishStockTransferred(context.Context, *domain.StockMovement, *domain.StockMovement) error {
	return nil
}
func (NopPublisher) PublishLowStock(context.Context, string, int, int) error { return nil }

// Option configures a StockService.
type Option func(*StockService)

// WithSelector replaces the default MostAvailableSelector.
func WithSelector(sel WarehouseSelector) Option {
	return func(s *StockService) { s.selector = sel }
}

// WithReservationTTL sets how long new reservations are held.
func WithReservationTTL(ttl time.Duration) Option {
	return func(s *StockService) {
		if ttl > 0 {
			s.reservationTTL = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *StockService) { s.now = now }
}

// StockService is the stock ledger.
type StockService struct {
	store          repository.Store
	selector       WarehouseSelector
	publisher      EventPublisher
	logger         *slog.Logger
	reservationTTL time.Duration
	now            func() time.Time
}

// NewStockService creates a stock service. A nil publisher disables events.
func NewStockService(store repository.Store, publisher EventPublisher, logger *slog.Logger, opts ...Option) *StockService {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	s := &StockService{
		store:          store,
		selector:       MostAvailableSelector{},
		publisher:      publisher,
		logger:         logger,
		reservationTTL: DefaultReservationTTL,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *StockService) log(ctx context.Context) *slog.Logger {
	return logger.WithContext(ctx, s.logger)
}

func (s *StockService) clock() time.Time {
	return s.now().UTC()
}

// newMovement builds the audit record for one counter change from before
// to after, measured on whichever counter the movement type tracks.
func (s *StockService) newMovement(ctx context.Context, inv *domain.Inventory, t domain.MovementType, before, after int, referenceID, note, createdBy string) *domain.StockMovement {
	if createdBy == "" {
		createdBy = logger.ActorFromContext(ctx)
	}
	return &domain.StockMovement{
		ID:           uuid.New().String(),
		ProductID:    inv.ProductID,
		WarehouseID:  inv.WarehouseID,
		Quantity:     after - before,
		StockBefore:  before,
		StockAfter:   after,
		MovementType: t,
		ReferenceID:  domain.StringPtr(referenceID),
		Note:         domain.StringPtr(note),
		CreatedBy:    domain.StringPtr(createdBy),
		CreatedAt:    s.clock(),
	}
}

// applyAndRecord applies one conditional counter update to a locked row and
// appends the matching movement in the same transaction.
func (s *StockService) applyAndRecord(
	ctx context.Context,
	tx repository.Store,
	inv *domain.Inventory,
	quantityDelta, reservedDelta int,
	t domain.MovementType,
	referenceID, note, createdBy string,
) (*domain.Inventory, *domain.StockMovement, error) {
	updated, err := tx.ApplyDelta(ctx, inv.ID, quantityDelta, reservedDelta)
	if err != nil {
		return nil, nil, err
	}

	var m *domain.StockMovement
	switch t {
	case domain.MovementReservation, domain.MovementRelease:
		m = s.newMovement(ctx, updated, t, inv.Available, updated.Available, referenceID, note, createdBy)
	default:
		m = s.newMovement(ctx, updated, t, inv.Quantity, updated.Quantity, referenceID, note, createdBy)
	}
	if err := tx.AppendMovement(ctx, m); err != nil {
		return nil, nil, fmt.Errorf("append %s movement: %w", t, err)
	}

	unitsMoved.WithLabelValues(string(t)).Add(float64(abs(m.Quantity)))
	return updated, m, nil
}

// publish logs instead of failing: the ledger change is already committed.
func (s *StockService) publish(ctx context.Context, event string, err error) {
	if err != nil {
		s.log(ctx).ErrorContext(ctx, "failed to publish event",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// checkLowStock emits a low-stock event for every product whose available
// total sits at or below its threshold.
func (s *StockService) checkLowStock(ctx context.Context, productIDs ...string) {
	for _, id := range productIDs {
		product, err := s.store.GetProduct(ctx, id)
		if err != nil {
			s.log(ctx).DebugContext(ctx, "skip low stock check",
				slog.String("product_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		available, err := s.store.SumAvailable(ctx, id)
		if err != nil {
			s.log(ctx).WarnContext(ctx, "low stock check failed",
				slog.String("product_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if available <= product.LowStockThreshold {
			s.publish(ctx, "stock.low_stock", s.publisher.PublishLowStock(ctx, id, available, product.LowStockThreshold))
		}
	}
}

func requirePositive(name string, v int) error {
	if v <= 0 {
		return apperrors.InvalidInput(fmt.Sprintf("%s must be positive", name))
	}
	return nil
}

func requireID(name, v string) error {
	if v == "" {
		return apperrors.InvalidInput(name + " is required")
	}
	return nil
}

// notFoundAs turns a repository ErrNotFound into a typed 404 for resource.
func notFoundAs(err error, resource, id string) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return apperrors.NotFound(resource, id)
	}
	return err
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
