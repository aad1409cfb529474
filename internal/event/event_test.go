package event

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/stockledger/internal/domain"
	pkgkafka "github.com/utafrali/stockledger/pkg/kafka"
	"github.com/utafrali/stockledger/pkg/logger"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type published struct {
	topic string
	event *pkgkafka.Event
}

type fakeKafka struct {
	sent []published
	err  error
}

func (f *fakeKafka) Publish(_ context.Context, topic string, event *pkgkafka.Event) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{topic: topic, event: event})
	return nil
}

func newTestProducer() (*Producer, *fakeKafka) {
	fk := &fakeKafka{}
	return &Producer{kafka: fk, logger: newTestLogger()}, fk
}

func sale() *domain.StockMovement {
	return &domain.StockMovement{
		ID:           "m1",
		ProductID:    "p1",
		WarehouseID:  "w1",
		Quantity:     -4,
		StockBefore:  10,
		StockAfter:   6,
		MovementType: domain.MovementSale,
		ReferenceID:  domain.StringPtr("ord1"),
	}
}

func TestProducer_PublishStockSold(t *testing.T) {
	p, fk := newTestProducer()
	ctx := logger.WithActor(logger.WithCorrelationID(context.Background(), "corr-1"), "checkout")

	require.NoError(t, p.PublishStockSold(ctx, sale()))

	require.Len(t, fk.sent, 1)
	got := fk.sent[0]
	assert.Equal(t, TopicStockSold, got.topic)
	assert.Equal(t, TopicStockSold, got.event.EventType)
	assert.Equal(t, "p1", got.event.AggregateID)
	assert.Equal(t, AggregateTypeStock, got.event.AggregateType)
	assert.Equal(t, SourceStockLedger, got.event.Source)
	assert.Equal(t, "corr-1", got.event.CorrelationID)
	assert.Equal(t, "checkout", got.event.Metadata["actor"])

	var data MovementData
	require.NoError(t, got.event.UnmarshalData(&data))
	assert.Equal(t, MovementData{
		MovementID:   "m1",
		ProductID:    "p1",
		WarehouseID:  "w1",
		MovementType: "SALE",
		Quantity:     -4,
		StockBefore:  10,
		StockAfter:   6,
		ReferenceID:  "ord1",
	}, data)
}

func TestProducer_PublishStockAdjusted(t *testing.T) {
	p, fk := newTestProducer()
	inv := &domain.Inventory{ProductID: "p1", WarehouseID: "w1", Quantity: 6, Reserved: 1, Available: 5}

	require.NoError(t, p.PublishStockAdjusted(context.Background(), inv, sale()))

	require.Len(t, fk.sent, 1)
	var data StockAdjustedData
	require.NoError(t, fk.sent[0].event.UnmarshalData(&data))
	assert.Equal(t, TopicStockAdjusted, fk.sent[0].topic)
	assert.Equal(t, 6, data.OnHand)
	assert.Equal(t, 5, data.Available)
	assert.Equal(t, "m1", data.MovementID)
	assert.Empty(t, fk.sent[0].event.CorrelationID)
}

func TestProducer_PublishStockReservedAndTransferred(t *testing.T) {
	p, fk := newTestProducer()
	ctx := context.Background()
	expires := time.Date(2026, 3, 1, 10, 15, 0, 0, time.UTC)

	require.NoError(t, p.PublishStockReserved(ctx, &domain.Reservation{
		ID: "r1", ProductID: "p1", WarehouseID: "w2", OrderID: "ord1", Quantity: 3, ExpiresAt: expires,
	}))
	require.NoError(t, p.PublishStockTransferred(ctx,
		&domain.StockMovement{ProductID: "p1", WarehouseID: "w1", Quantity: -2, ReferenceID: domain.StringPtr("t1")},
		&domain.StockMovement{ProductID: "p1", WarehouseID: "w2", Quantity: 2, ReferenceID: domain.StringPtr("t1")},
	))
	require.NoError(t, p.PublishLowStock(ctx, "p1", 1, 5))

	require.Len(t, fk.sent, 3)

	var reserved StockReservedData
	require.NoError(t, fk.sent[0].event.UnmarshalData(&reserved))
	assert.Equal(t, TopicStockReserved, fk.sent[0].topic)
	assert.Equal(t, "ord1", reserved.OrderID)
	assert.True(t, expires.Equal(reserved.ExpiresAt))

	var transferred StockTransferredData
	require.NoError(t, fk.sent[1].event.UnmarshalData(&transferred))
	assert.Equal(t, StockTransferredData{
		ProductID: "p1", FromWarehouseID: "w1", ToWarehouseID: "w2", Quantity: 2, TransferID: "t1",
	}, transferred)

	var low LowStockData
	require.NoError(t, fk.sent[2].event.UnmarshalData(&low))
	assert.Equal(t, TopicStockLowStock, fk.sent[2].topic)
	assert.Equal(t, LowStockData{ProductID: "p1", Available: 1, Threshold: 5}, low)
}

func TestProducer_PublishError(t *testing.T) {
	p, fk := newTestProducer()
	fk.err = errors.New("broker unavailable")

	err := p.PublishStockReleased(context.Background(), sale())
	require.Error(t, err)
	assert.Contains(t, err.Error(), TopicStockReleased)
	assert.ErrorIs(t, err, fk.err)
}

// --- Consumer ---

type mockOrderService struct {
	mock.Mock
}

func (m *mockOrderService) ConfirmOrder(ctx context.Context, orderID string) (int, error) {
	args := m.Called(ctx, orderID)
	return args.Int(0), args.Error(1)
}

func (m *mockOrderService) ReleaseOrder(ctx context.Context, orderID string) (int, error) {
	args := m.Called(ctx, orderID)
	return args.Int(0), args.Error(1)
}

func orderEvent(t *testing.T, topic string, data any) *pkgkafka.Event {
	t.Helper()
	ev, err := pkgkafka.NewEvent(topic, "ord1", "order", "order-service", data)
	require.NoError(t, err)
	return ev
}

func TestConsumer_HandleOrderConfirmed(t *testing.T) {
	svc := new(mockOrderService)
	c := NewConsumer(svc, newTestLogger())
	ctx := context.Background()
	svc.On("ConfirmOrder", ctx, "ord1").Return(3, nil).Once()

	err := c.HandleOrderConfirmed(ctx, orderEvent(t, TopicOrderConfirmed, OrderEventData{OrderID: "ord1"}))
	require.NoError(t, err)
	svc.AssertExpectations(t)
}

func TestConsumer_HandleOrderCanceled(t *testing.T) {
	svc := new(mockOrderService)
	c := NewConsumer(svc, newTestLogger())
	ctx := context.Background()
	svc.On("ReleaseOrder", ctx, "ord1").Return(0, errors.New("db down")).Once()

	err := c.HandleOrderCanceled(ctx, orderEvent(t, TopicOrderCanceled, OrderEventData{OrderID: "ord1", Reason: "payment failed"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "release order ord1")
	svc.AssertExpectations(t)
}

func TestConsumer_RejectsBadPayload(t *testing.T) {
	svc := new(mockOrderService)
	c := NewConsumer(svc, newTestLogger())
	ctx := context.Background()

	err := c.HandleOrderConfirmed(ctx, orderEvent(t, TopicOrderConfirmed, map[string]string{"checkout_id": "x"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no order_id")

	bad := &pkgkafka.Event{EventID: "e1", EventType: TopicOrderCanceled, Data: []byte(`"not an object"`)}
	require.Error(t, c.HandleOrderCanceled(ctx, bad))

	svc.AssertNotCalled(t, "ConfirmOrder", mock.Anything, mock.Anything)
	svc.AssertNotCalled(t, "ReleaseOrder", mock.Anything, mock.Anything)
}

func TestConsumer_HandlersSkipDuplicates(t *testing.T) {
	svc := new(mockOrderService)
	c := NewConsumer(svc, newTestLogger())
	ctx := context.Background()
	svc.On("ConfirmOrder", ctx, "ord1").Return(2, nil).Once()

	handlers := c.Handlers(pkgkafka.NewMemoryIdempotencyStore(time.Hour))
	require.Len(t, handlers, 2)

	ev := orderEvent(t, TopicOrderConfirmed, OrderEventData{OrderID: "ord1"})
	require.NoError(t, handlers[TopicOrderConfirmed](ctx, ev))
	require.NoError(t, handlers[TopicOrderConfirmed](ctx, ev))

	svc.AssertExpectations(t)
	svc.AssertNumberOfCalls(t, "ConfirmOrder", 1)
}
