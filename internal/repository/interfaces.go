package repository

import (
	"context"

	"github.com/crownarena/server/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// AccountRepository provides read access to accounts and their stats.
type AccountRepository interface {
	// FindByUserID returns the account joined with its stats, or nil if not found.
	FindByUserID(ctx context.Context, db DBTX, userID string) (*domain.Identity, error)
}

// CardRepository provides access to the card catalog.
type CardRepository interface {
	// FindByID returns a card at base level, or nil if not found.
	FindByID(ctx context.Context, db DBTX, cardID string) (*domain.CardStats, error)

	// ListAll returns every card ordered by id.
	ListAll(ctx context.Context, db DBTX) ([]domain.CardStats, error)
}

// ResultRepository provides access to battle_results and player_stats.
type ResultRepository interface {
	// Insert stores a result. It reports false when the battle was already recorded.
	Insert(ctx context.Context, db DBTX, res domain.BattleResult) (bool, error)

	// ApplyOutcome bumps a user's win/loss/draw counter and trophies, floored at zero.
	ApplyOutcome(ctx context.Context, db DBTX, userID string, outcome domain.Outcome, trophyDelta int) error
}

// OutboxRepository provides access to the event_outbox table.
type OutboxRepository interface {
	// Insert writes an outbox event (within the same transaction as the result).
	Insert(ctx context.Context, db DBTX, draft domain.OutboxDraft) error

	// FetchUnpublished returns unpublished events for the outbox relay, oldest first.
	FetchUnpublished(ctx context.Context, db DBTX, limit int) ([]domain.OutboxRow, error)

	// MarkPublished deletes published events.
	MarkPublished(ctx context.Context, db DBTX, ids []int64) error
}
