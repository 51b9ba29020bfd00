package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/crownarena/server/internal/domain"
	"github.com/jackc/pgx/v5"
)

const cardColumns = `id, name, type, rarity, cost, health, damage, speed, range, unit_count, arena_unlock`

// PgCardRepository implements CardRepository using pgx.
type PgCardRepository struct{}

// NewPgCardRepository creates a new PgCardRepository.
func NewPgCardRepository() *PgCardRepository {
	return &PgCardRepository{}
}

// FindByID returns a card, or nil if not found.
func (r *PgCardRepository) FindByID(ctx context.Context, db DBTX, cardID string) (*domain.CardStats, error) {
	row := db.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, cardID)
	c, err := scanCard(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListAll returns every card ordered by id.
func (r *PgCardRepository) ListAll(ctx context.Context, db DBTX) ([]domain.CardStats, error) {
	rows, err := db.Query(ctx, `SELECT `+cardColumns+` FROM cards ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	defer rows.Close()

	var cards []domain.CardStats
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("scan card: %w", err)
		}
		cards = append(cards, *c)
	}
	return cards, rows.Err()
}

func scanCard(row pgx.Row) (*domain.CardStats, error) {
	c := &domain.CardStats{Level: 1}
	var cardType string
	err := row.Scan(&c.ID, &c.Name, &cardType, &c.Rarity, &c.Cost,
		&c.Health, &c.Damage, &c.Speed, &c.Range, &c.Count, &c.ArenaUnlock)
	if err != nil {
		return nil, err
	}
	c.Type = domain.CardType(cardType)
	return c, nil
}
