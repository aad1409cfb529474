package event

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/stockledger/internal/domain"
	"github.com/utafrali/stockledger/internal/service"
	pkgkafka "github.com/utafrali/stockledger/pkg/kafka"
	"github.com/utafrali/stockledger/pkg/logger"
)

// Kafka topic constants for stock ledger events.
const (
	TopicStockAdjusted    = "ecommerce.stock.adjusted"
	TopicStockReserved    = "ecommerce.stock.reserved"
	TopicStockReleased    = "ecommerce.stock.released"
	TopicStockSold        = "ecommerce.stock.sold"
	TopicStockTransferred = "ecommerce.stock.transferred"
	TopicStockLowStock    = "ecommerce.stock.low_stock"
)

// AggregateTypeStock is the aggregate type of every stock event. The
// aggregate id is the product id, so one product's events stay ordered.
const AggregateTypeStock = "stock"

// SourceStockLedger identifies events originating from this service.
const SourceStockLedger = "stock-ledger"

// MovementData is the payload shared by adjusted, released and sold events.
type MovementData struct {
	MovementID   string `json:"movement_id"`
	ProductID    string `json:"product_id"`
	WarehouseID  string `json:"warehouse_id"`
	MovementType string `json:"movement_type"`
	Quantity     int    `json:"quantity"`
	StockBefore  int    `json:"stock_before"`
	StockAfter   int    `json:"stock_after"`
	ReferenceID  string `json:"reference_id,omitempty"`
}

// StockAdjustedData is the payload of a stock.adjusted event.
type StockAdjustedData struct {
	MovementData
	OnHand    int `json:"on_hand"`
	Reserved  int `json:"reserved"`
	Available int `json:"available"`
}

// StockReservedData is the payload of a stock.reserved event.
type StockReservedData struct {
	ReservationID string    `json:"reservation_id"`
	OrderID       string    `json:"order_id"`
	ProductID     string    `json:"product_id"`
	WarehouseID   string    `json:"warehouse_id"`
	Quantity      int       `json:"quantity"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// StockTransferredData is the payload of a stock.transferred event.
type StockTransferredData struct {
	ProductID       string `json:"product_id"`
	FromWarehouseID string `json:"from_warehouse_id"`
	ToWarehouseID   string `json:"to_warehouse_id"`
	Quantity        int    `json:"quantity"`
	TransferID      string `json:"transfer_id"`
}

// LowStockData is the payload of a stock.low_stock event.
type LowStockData struct {
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	Threshold int    `json:"threshold"`
}

// publisher is the part of *pkgkafka.Producer used here.
type publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes stock ledger events to Kafka.
type Producer struct {
	kafka  publisher
	logger *slog.Logger
}

var _ service.EventPublisher = (*Producer)(nil)

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{kafka: kafka, logger: logger}
}

func (p *Producer) send(ctx context.Context, topic, productID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, productID, AggregateTypeStock, SourceStockLedger, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	if actor := logger.ActorFromContext(ctx); actor != "" {
		event.WithMetadata("actor", actor)
	}

	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("event_id", event.EventID),
		slog.String("product_id", productID),
	)
	return nil
}

func movementData(m *domain.StockMovement) MovementData {
	d := MovementData{
		MovementID:   m.ID,
		ProductID:    m.ProductID,
		WarehouseID:  m.WarehouseID,
		MovementType: string(m.MovementType),
		Quantity:     m.Quantity,
		StockBefore:  m.StockBefore,
		StockAfter:   m.StockAfter,
	}
	if m.ReferenceID != nil {
		d.ReferenceID = *m.ReferenceID
	}
	return d
}

// PublishStockAdjusted publishes a stock.adjusted event.
func (p *Producer) PublishStockAdjusted(ctx context.Context, inv *domain.Inventory, m *domain.StockMovement) error {
	return p.send(ctx, TopicStockAdjusted, inv.ProductID, StockAdjustedData{
		MovementData: movementData(m),
		OnHand:       inv.Quantity,
		Reserved:     inv.Reserved,
		Available:    inv.Available,
	})
}

// PublishStockReserved publishes a stock.reserved event.
func (p *Producer) PublishStockReserved(ctx context.Context, r *domain.Reservation) error {
	return p.send(ctx, TopicStockReserved, r.ProductID, StockReservedData{
		ReservationID: r.ID,
		OrderID:       r.OrderID,
		ProductID:     r.ProductID,
		WarehouseID:   r.WarehouseID,
		Quantity:      r.Quantity,
		ExpiresAt:     r.ExpiresAt,
	})
}

// PublishStockReleased publishes a stock.released event.
func (p *Producer) PublishStockReleased(ctx context.Context, m *domain.StockMovement) error {
	return p.send(ctx, TopicStockReleased, m.ProductID, movementData(m))
}

// PublishStockSold publishes a stock.sold event.
func (p *Producer) PublishStockSold(ctx context.Context, m *domain.StockMovement) error {
	return p.send(ctx, TopicStockSold, m.ProductID, movementData(m))
}

// PublishStockTransferred publishes one stock.transferred event for the
// pair of movements of a transfer.
func (p *Producer) PublishStockTransferred(ctx context.Context, out, in *domain.StockMovement) error {
	data := StockTransferredData{
		ProductID:       out.ProductID,
		FromWarehouseID: out.WarehouseID,
		ToWarehouseID:   in.WarehouseID,
		Quantity:        in.Quantity,
	}
	if out.ReferenceID != nil {
		data.TransferID = *out.ReferenceID
	}
	return p.send(ctx, TopicStockTransferred, out.ProductID, data)
}

// PublishLowStock publishes a stock.low_stock event.
func (p *Producer) PublishLowStock(ctx context.Context, productID string, available, threshold int) error {
	return p.send(ctx, TopicStockLowStock, productID, LowStockData{
		ProductID: productID,
		Available: available,
		Threshold: threshold,
	})
}
