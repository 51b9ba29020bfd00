package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates all domain event types.
type EventType string

const (
	EventBattleFinished  EventType = "arena.battle.finished"
	EventBotSuggested    EventType = "arena.matchmaking.bot_suggested"
	EventTrophiesChanged EventType = "arena.player.trophies_changed"
)

// AggregateType enumerates the aggregate root types for outbox events.
type AggregateType string

const (
	AggregateBattle AggregateType = "battle"
	AggregatePlayer AggregateType = "player"
)

// OutboxDraft is the payload written to the event_outbox table.
type OutboxDraft struct {
	EventID       uuid.UUID       `json:"eventId"`
	AggregateType AggregateType   `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     EventType       `json:"eventType"`
	PartitionKey  string          `json:"partitionKey"`
	Headers       json.RawMessage `json:"headers"`
	Payload       json.RawMessage `json:"payload"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// OutboxRow is an outbox draft with its sequence id, as read by the relay.
type OutboxRow struct {
	SeqID int64
	OutboxDraft
}

// NewOutboxDraft marshals payload into a draft stamped with a fresh event id.
func NewOutboxDraft(aggType AggregateType, aggID string, eventType EventType, payload any, now time.Time) (OutboxDraft, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxDraft{}, err
	}
	return OutboxDraft{
		EventID:       uuid.New(),
		AggregateType: aggType,
		AggregateID:   aggID,
		EventType:     eventType,
		PartitionKey:  aggID,
		Headers:       json.RawMessage(`{}`),
		Payload:       body,
		OccurredAt:    now,
	}, nil
}
