package infra

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/repository"
	"github.com/jonboulle/clockwork"
)

// Publisher is the part of KafkaProducer the relay needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// OutboxPoller drains the event_outbox table into Kafka.
type OutboxPoller struct {
	db        repository.DBTX
	outbox    repository.OutboxRepository
	producer  Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	prefix    string
	interval  time.Duration
	batchSize int
}

// NewOutboxPoller creates a new outbox poller. Topics are "<prefix>.<eventType>"
// with the event type's own dotted prefix stripped.
func NewOutboxPoller(db repository.DBTX, outbox repository.OutboxRepository, producer Publisher, clock clockwork.Clock, cfg *Config, logger *slog.Logger) *OutboxPoller {
	return &OutboxPoller{
		db:        db,
		outbox:    outbox,
		producer:  producer,
		clock:     clock,
		logger:    logger.With("component", "outbox"),
		prefix:    cfg.TopicPrefix,
		interval:  cfg.OutboxEvery,
		batchSize: cfg.OutboxBatch,
	}
}

// Run polls until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) error {
	p.logger.Info("outbox poller started", "interval", p.interval, "batch_size", p.batchSize)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox poller stopped")
			return nil
		case <-ticker.Chan():
			if _, err := p.Poll(ctx); err != nil {
				p.logger.Error("outbox poll error", "error", err)
			}
		}
	}
}

// Poll publishes one batch and returns how many events were relayed. Events
// are relayed in sequence order; the batch stops at the first publish failure
// so later events never overtake an unpublished one.
func (p *OutboxPoller) Poll(ctx context.Context) (int, error) {
	events, err := p.outbox.FetchUnpublished(ctx, p.db, p.batchSize)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	published := make([]int64, 0, len(events))
	var publishErr error
	for _, e := range events {
		msg, err := json.Marshal(envelopeOf(e))
		if err != nil {
			publishErr = fmt.Errorf("marshal event %s: %w", e.EventID, err)
			break
		}
		if err := p.producer.Publish(ctx, p.Topic(e.EventType), []byte(e.PartitionKey), msg); err != nil {
			publishErr = fmt.Errorf("publish event %s: %w", e.EventID, err)
			break
		}
		published = append(published, e.SeqID)
	}

	if err := p.outbox.MarkPublished(ctx, p.db, published); err != nil {
		return 0, err
	}
	p.logger.Debug("outbox poll complete", "published", len(published))
	return len(published), publishErr
}

// Topic maps an event type onto its Kafka topic.
func (p *OutboxPoller) Topic(t domain.EventType) string {
	name := string(t)
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return p.prefix + "." + name
}

type relayEnvelope struct {
	EventID       string          `json:"event_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func envelopeOf(e domain.OutboxRow) relayEnvelope {
	return relayEnvelope{
		EventID:       e.EventID.String(),
		AggregateType: string(e.AggregateType),
		AggregateID:   e.AggregateID,
		EventType:     string(e.EventType),
		Payload:       e.Payload,
		OccurredAt:    e.OccurredAt,
	}
}
