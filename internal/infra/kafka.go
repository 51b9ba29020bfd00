package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaProducer wraps a kafka-go writer for publishing messages.
type KafkaProducer struct {
	writer  *kafka.Writer
	logger  *slog.Logger
	enabled bool
}

// NewKafkaProducer creates a Kafka producer. If brokers is empty or disabled, writes are no-ops.
func NewKafkaProducer(brokers string, enabled bool, logger *slog.Logger) *KafkaProducer {
	if !enabled || brokers == "" {
		logger.Info("kafka producer disabled")
		return &KafkaProducer{enabled: false, logger: logger}
	}

	w := &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(brokers, ",")...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	logger.Info("kafka producer initialized", "brokers", brokers)
	return &KafkaProducer{writer: w, logger: logger, enabled: true}
}

// Enabled reports whether messages actually leave the process.
func (p *KafkaProducer) Enabled() bool { return p.enabled }

// Publish sends a message to the given topic. Messages sharing a key keep
// their order. No-op if disabled.
func (p *KafkaProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	if !p.enabled {
		return nil
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
	})
}

// PublishJSON marshals v and publishes it under key.
func (p *KafkaProducer) PublishJSON(ctx context.Context, topic, key string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s message: %w", topic, err)
	}
	return p.Publish(ctx, topic, []byte(key), body)
}

// Close shuts down the Kafka writer.
func (p *KafkaProducer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// KafkaConsumer wraps a kafka-go reader for consuming messages.
type KafkaConsumer struct {
	reader  *kafka.Reader
	logger  *slog.Logger
	enabled bool
}

// NewKafkaConsumer creates a Kafka consumer for the given topic and group.
func NewKafkaConsumer(brokers, topic, groupID string, enabled bool, logger *slog.Logger) *KafkaConsumer {
	if !enabled || brokers == "" {
		return &KafkaConsumer{enabled: false, logger: logger}
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(brokers, ","),
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1e6,
	})

	return &KafkaConsumer{reader: r, logger: logger.With("topic", topic), enabled: true}
}

// Run fetches messages and hands them to handle until ctx is cancelled. A
// message is committed only after handle succeeds; failures are logged and
// the message is committed anyway so one bad record cannot wedge the group.
func (c *KafkaConsumer) Run(ctx context.Context, handle func(context.Context, kafka.Message) error) error {
	if !c.enabled {
		<-ctx.Done()
		return nil
	}
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}
		if err := handle(ctx, msg); err != nil {
			c.logger.Error("kafka message handler failed", "offset", msg.Offset, "key", string(msg.Key), "error", err)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Warn("kafka commit failed", "offset", msg.Offset, "error", err)
		}
	}
}

// Close shuts down the Kafka reader.
func (c *KafkaConsumer) Close() error {
	if c.reader != nil {
		return c.reader.Close()
	}
	return nil
}

// CardInvalidator drops cached card definitions.
type CardInvalidator interface {
	Invalidate(cardID string)
	InvalidateAll()
}

type cardUpdated struct {
	CardID string `json:"cardId"`
}

// CatalogInvalidation returns a consumer handler for card_updated messages.
// The card id comes from the message key or the cardId field; a message with
// neither flushes the whole cache.
func CatalogInvalidation(cache CardInvalidator, logger *slog.Logger) func(context.Context, kafka.Message) error {
	return func(_ context.Context, msg kafka.Message) error {
		id := string(msg.Key)
		if id == "" && len(msg.Value) > 0 {
			var body cardUpdated
			if err := json.Unmarshal(msg.Value, &body); err != nil {
				return fmt.Errorf("decode card_updated: %w", err)
			}
			id = body.CardID
		}
		if id == "" {
			cache.InvalidateAll()
			logger.Info("card catalog flushed")
			return nil
		}
		cache.Invalidate(id)
		logger.Info("card invalidated", "card_id", id)
		return nil
	}
}
