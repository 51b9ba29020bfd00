package service

import (
	"context"

	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/repository"
)

// CardSource serves card definitions from Postgres to the catalog cache.
type CardSource struct {
	db    repository.DBTX
	cards repository.CardRepository
}

// NewCardSource creates a CardSource.
func NewCardSource(db repository.DBTX, cards repository.CardRepository) *CardSource {
	return &CardSource{db: db, cards: cards}
}

func (s *CardSource) Card(ctx context.Context, cardID string) (domain.CardStats, error) {
	card, err := s.cards.FindByID(ctx, s.db, cardID)
	if err != nil {
		return domain.CardStats{}, err
	}
	if card == nil {
		return domain.CardStats{}, domain.ErrCardNotFound(cardID)
	}
	return *card, nil
}

func (s *CardSource) All(ctx context.Context) ([]domain.CardStats, error) {
	return s.cards.ListAll(ctx, s.db)
}
