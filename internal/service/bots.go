package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/infra"
	"github.com/jonboulle/clockwork"
)

// BotService hands timed-out searches to the bot-opponent service over Kafka.
type BotService struct {
	producer infra.Publisher
	topic    string
	clock    clockwork.Clock
}

// NewBotService creates a BotService publishing to topic.
func NewBotService(producer infra.Publisher, topic string, clock clockwork.Clock) *BotService {
	return &BotService{producer: producer, topic: topic, clock: clock}
}

// BotSuggested is the message published for a player who waited too long.
type BotSuggested struct {
	EventType   domain.EventType `json:"eventType"`
	SessionID   string           `json:"sessionId"`
	UserID      string           `json:"userId"`
	Trophies    int              `json:"trophies"`
	Level       int              `json:"level"`
	Arena       int              `json:"arena"`
	GameMode    domain.GameMode  `json:"gameMode"`
	Region      string           `json:"region"`
	Deck        []string         `json:"deck"`
	WaitedMs    int64            `json:"waitedMs"`
	SuggestedAt time.Time        `json:"suggestedAt"`
}

// SuggestBot publishes a bot suggestion keyed by user id.
func (s *BotService) SuggestBot(ctx context.Context, entry domain.QueueEntry) error {
	now := s.clock.Now()
	msg := BotSuggested{
		EventType:   domain.EventBotSuggested,
		SessionID:   entry.SessionID,
		UserID:      entry.UserID,
		Trophies:    entry.Trophies,
		Level:       entry.Level,
		Arena:       entry.Arena,
		GameMode:    entry.GameMode,
		Region:      entry.Region,
		Deck:        entry.Deck,
		WaitedMs:    now.Sub(entry.EnqueuedAt).Milliseconds(),
		SuggestedAt: now,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal bot suggestion: %w", err)
	}
	if err := s.producer.Publish(ctx, s.topic, []byte(entry.UserID), body); err != nil {
		return fmt.Errorf("publish bot suggestion: %w", err)
	}
	return nil
}
