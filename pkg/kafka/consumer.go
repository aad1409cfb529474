package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultMaxRetries   = 3
	defaultRetryBackoff = 100 * time.Millisecond
)

// Handler processes one decoded event.
type Handler func(ctx context.Context, event *Event) error

// messageReader is the subset of *kafka.Reader used here.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type deadLetterPublisher interface {
	Publish(ctx context.Context, msg kafka.Message, lastErr error, consumerGroup string) error
	Close() error
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers      []string
	GroupID      string
	Topic        string
	MinBytes     int
	MaxBytes     int
	MaxRetries   int
	RetryBackoff time.Duration
	// EnableDLQ republishes messages that exhaust their retries to
	// DLQTopic(Topic) before committing them.
	EnableDLQ bool
}

// Consumer reads one topic in a consumer group and dispatches to a Handler.
// Offsets are committed only after the handler succeeded, or after a
// message was given up on.
type Consumer struct {
	reader    messageReader
	dlq       deadLetterPublisher
	handler   Handler
	logger    *slog.Logger
	topic     string
	group     string
	retries   int
	backoff   time.Duration
	closeOnce sync.Once
}

// NewConsumer creates a consumer for cfg.Topic in group cfg.GroupID.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})

	var dlq deadLetterPublisher
	if cfg.EnableDLQ {
		dlq = NewDLQProducer(cfg.Brokers, logger)
	}

	return newConsumer(r, dlq, cfg, handler, logger)
}

func newConsumer(r messageReader, dlq deadLetterPublisher, cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	backoff := cfg.RetryBackoff
	if backoff < 0 {
		backoff = 0
	} else if backoff == 0 {
		backoff = defaultRetryBackoff
	}

	return &Consumer{
		reader:  r,
		dlq:     dlq,
		handler: handler,
		logger:  logger,
		topic:   cfg.Topic,
		group:   cfg.GroupID,
		retries: retries,
		backoff: backoff,
	}
}

// Start consumes until ctx is canceled, then closes the consumer.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started", slog.String("topic", c.topic), slog.String("group", c.group))

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				c.logger.Info("consumer stopping", slog.String("topic", c.topic))
				return c.Close()
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			if !sleep(ctx, c.backoff) {
				return c.Close()
			}
			continue
		}

		c.process(ctx, msg)
	}
}

// process handles one message and commits it. Undecodable messages and
// messages whose handler keeps failing go to the DLQ when enabled.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	start := time.Now()
	defer func() {
		consumerProcessingDuration.WithLabelValues(c.topic, c.group).Observe(time.Since(start).Seconds())
	}()

	ctx = otel.GetTextMapPropagator().Extract(ctx, NewHeaderCarrier(&msg))
	ctx, span := otel.Tracer("github.com/utafrali/stockledger/pkg/kafka").Start(ctx, "consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.String("messaging.consumer.group.name", c.group),
			attribute.Int64("messaging.kafka.offset", msg.Offset),
		),
	)
	defer span.End()

	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to unmarshal event",
			slog.String("error", err.Error()),
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
		)
		span.SetStatus(codes.Error, "undecodable message")
		c.giveUp(ctx, msg, err)
		return
	}

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		lastErr = c.handler(ctx, event)
		if lastErr == nil {
			break
		}

		c.logger.WarnContext(ctx, "handler failed",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.String("error", lastErr.Error()),
			slog.Int64("offset", msg.Offset),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", c.retries),
		)

		if attempt < c.retries && !sleep(ctx, time.Duration(attempt)*c.backoff) {
			return
		}
	}

	if lastErr != nil {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, lastErr.Error())
		c.logger.ErrorContext(ctx, "handler failed after all retries, skipping message",
			slog.String("event_type", event.EventType),
			slog.String("aggregate_id", event.AggregateID),
			slog.String("error", lastErr.Error()),
			slog.Int64("offset", msg.Offset),
		)
		c.giveUp(ctx, msg, lastErr)
		return
	}

	consumerMessagesProcessed.WithLabelValues(c.topic, c.group).Inc()
	c.commit(ctx, msg)
}

func (c *Consumer) giveUp(ctx context.Context, msg kafka.Message, cause error) {
	consumerMessagesFailed.WithLabelValues(c.topic, c.group).Inc()
	if c.dlq != nil {
		if err := c.dlq.Publish(ctx, msg, cause, c.group); err != nil {
			c.logger.ErrorContext(ctx, "dead-letter publish failed, committing anyway",
				slog.String("error", err.Error()),
			)
		}
	}
	c.commit(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.ErrorContext(ctx, "failed to commit message",
			slog.String("error", err.Error()),
			slog.Int64("offset", msg.Offset),
		)
	}
}

// Close closes the reader and the DLQ producer. Safe to call repeatedly.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
		if c.dlq != nil {
			err = errors.Join(err, c.dlq.Close())
		}
	})
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
