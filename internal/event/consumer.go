package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/utafrali/stockledger/pkg/kafka"
)

// Kafka topics consumed by the stock ledger.
const (
	TopicOrderConfirmed = "ecommerce.order.confirmed"
	TopicOrderCanceled  = "ecommerce.order.canceled"
)

// OrderService is the part of the stock service the consumer drives.
type OrderService interface {
	ConfirmOrder(ctx context.Context, orderID string) (int, error)
	ReleaseOrder(ctx context.Context, orderID string) (int, error)
}

// OrderEventData is the payload of order.confirmed and order.canceled.
type OrderEventData struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason,omitempty"`
}

// Consumer turns order lifecycle events into reservation settlements.
type Consumer struct {
	service OrderService
	logger  *slog.Logger
}

// NewConsumer creates a new order event consumer.
func NewConsumer(service OrderService, logger *slog.Logger) *Consumer {
	return &Consumer{service: service, logger: logger}
}

// Handlers maps each consumed topic to its handler, deduplicated by event
// id through store.
func (c *Consumer) Handlers(store pkgkafka.IdempotencyStore) map[string]pkgkafka.Handler {
	return map[string]pkgkafka.Handler{
		TopicOrderConfirmed: pkgkafka.IdempotentHandler(store, c.HandleOrderConfirmed, c.logger),
		TopicOrderCanceled:  pkgkafka.IdempotentHandler(store, c.HandleOrderCanceled, c.logger),
	}
}

func orderID(event *pkgkafka.Event) (string, error) {
	var data OrderEventData
	if err := event.UnmarshalData(&data); err != nil {
		return "", err
	}
	if data.OrderID == "" {
		return "", fmt.Errorf("%s event %s has no order_id", event.EventType, event.EventID)
	}
	return data.OrderID, nil
}

// HandleOrderConfirmed confirms every hold of the order.
func (c *Consumer) HandleOrderConfirmed(ctx context.Context, event *pkgkafka.Event) error {
	id, err := orderID(event)
	if err != nil {
		return err
	}

	units, err := c.service.ConfirmOrder(ctx, id)
	if err != nil {
		return fmt.Errorf("confirm order %s: %w", id, err)
	}

	c.logger.InfoContext(ctx, "stock confirmed for order",
		slog.String("order_id", id),
		slog.String("event_id", event.EventID),
		slog.Int("units", units),
	)
	return nil
}

// HandleOrderCanceled releases every hold of the order.
func (c *Consumer) HandleOrderCanceled(ctx context.Context, event *pkgkafka.Event) error {
	id, err := orderID(event)
	if err != nil {
		return err
	}

	units, err := c.service.ReleaseOrder(ctx, id)
	if err != nil {
		return fmt.Errorf("release order %s: %w", id, err)
	}

	c.logger.InfoContext(ctx, "stock released for canceled order",
		slog.String("order_id", id),
		slog.String("event_id", event.EventID),
		slog.Int("units", units),
	)
	return nil
}
