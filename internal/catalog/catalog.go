// Package catalog is the read side of the card catalog consumed by the world
// hub (deck validation) and battle sessions (stat lookup).
package catalog

import (
	"context"
	"fmt"

	"github.com/crownarena/server/internal/domain"
)

// Reader resolves level-scaled card stats and validates decks.
type Reader interface {
	GetCardStats(ctx context.Context, cardID string, level int) (domain.CardStats, error)
	ValidateDeck(ctx context.Context, cardIDs []string, arenaID int) (domain.ValidationResult, error)
}

// Source loads base (level 1) card definitions. It returns
// domain.ErrCardNotFound for unknown ids; any other error is treated as the
// source being unavailable.
type Source interface {
	Card(ctx context.Context, cardID string) (domain.CardStats, error)
	All(ctx context.Context) ([]domain.CardStats, error)
}

// levelBonus is the per-level increase applied to health and damage.
const levelBonus = 0.10

// ScaleToLevel returns base stats resolved at level. Levels below 1 count as 1.
func ScaleToLevel(base domain.CardStats, level int) domain.CardStats {
	level = max(level, 1)
	factor := 1 + levelBonus*float64(level-1)
	out := base
	out.Level = level
	out.Health = base.Health * factor
	out.Damage = base.Damage * factor
	return out
}

// checkDeck applies the deck rules against already resolved base cards.
// Unknown ids are reported through missing.
func checkDeck(cardIDs []string, arenaID int, lookup func(string) (domain.CardStats, bool)) domain.ValidationResult {
	if err := domain.ValidateDeckShape(cardIDs); err != nil {
		return domain.ValidationResult{Valid: false, Reasons: []string{err.(*domain.AppError).Message}}
	}
	var reasons []string
	for _, id := range cardIDs {
		card, ok := lookup(id)
		if !ok {
			reasons = append(reasons, fmt.Sprintf("unknown card %s", id))
			continue
		}
		if card.ArenaUnlock > arenaID {
			reasons = append(reasons, fmt.Sprintf("card %s unlocks in arena %d", id, card.ArenaUnlock))
		}
	}
	return domain.ValidationResult{Valid: len(reasons) == 0, Reasons: reasons}
}
