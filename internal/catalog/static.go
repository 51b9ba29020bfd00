package catalog

import (
	"context"
	"slices"
	"strings"

	"github.com/crownarena/server/internal/domain"
)

// DefaultCards is the built-in card set used when no database catalog is
// configured and for seeding the cards table.
var DefaultCards = []domain.CardStats{
	{ID: "knight", Name: "Knight", Type: domain.CardTroop, Rarity: "common", Cost: 3, Health: 1400, Damage: 160, Speed: 1, Range: 0.5, Count: 1, ArenaUnlock: 1},
	{ID: "archers", Name: "Archers", Type: domain.CardTroop, Rarity: "common", Cost: 3, Health: 250, Damage: 90, Speed: 1, Range: 5, Count: 2, ArenaUnlock: 1},
	{ID: "goblins", Name: "Goblins", Type: domain.CardTroop, Rarity: "common", Cost: 2, Health: 160, Damage: 100, Speed: 1.5, Range: 0.5, Count: 3, ArenaUnlock: 1},
	{ID: "skeletons", Name: "Skeletons", Type: domain.CardTroop, Rarity: "common", Cost: 1, Health: 70, Damage: 70, Speed: 1.5, Range: 0.5, Count: 3, ArenaUnlock: 1},
	{ID: "giant", Name: "Giant", Type: domain.CardTroop, Rarity: "rare", Cost: 5, Health: 3300, Damage: 210, Speed: 0.75, Range: 0.5, Count: 1, ArenaUnlock: 1},
	{ID: "musketeer", Name: "Musketeer", Type: domain.CardTroop, Rarity: "rare", Cost: 4, Health: 600, Damage: 180, Speed: 1, Range: 6, Count: 1, ArenaUnlock: 1},
	{ID: "mini_pekka", Name: "Mini P.E.K.K.A", Type: domain.CardTroop, Rarity: "rare", Cost: 4, Health: 1100, Damage: 600, Speed: 1.5, Range: 0.5, Count: 1, ArenaUnlock: 1},
	{ID: "cannon", Name: "Cannon", Type: domain.CardBuilding, Rarity: "common", Cost: 3, Health: 800, Damage: 130, Range: 5.5, Count: 1, ArenaUnlock: 1},
	{ID: "fireball", Name: "Fireball", Type: domain.CardSpell, Rarity: "rare", Cost: 4, Damage: 570, Range: 2.5, Count: 1, ArenaUnlock: 1},
	{ID: "arrows", Name: "Arrows", Type: domain.CardSpell, Rarity: "common", Cost: 3, Damage: 300, Range: 4, Count: 1, ArenaUnlock: 1},
	{ID: "minions", Name: "Minions", Type: domain.CardTroop, Rarity: "common", Cost: 3, Health: 190, Damage: 85, Speed: 1.5, Range: 2, Count: 3, ArenaUnlock: 2},
	{ID: "valkyrie", Name: "Valkyrie", Type: domain.CardTroop, Rarity: "rare", Cost: 4, Health: 1650, Damage: 220, Speed: 1, Range: 0.5, Count: 1, ArenaUnlock: 2},
	{ID: "barbarians", Name: "Barbarians", Type: domain.CardTroop, Rarity: "common", Cost: 5, Health: 640, Damage: 150, Speed: 1, Range: 0.5, Count: 4, ArenaUnlock: 3},
	{ID: "tesla", Name: "Tesla", Type: domain.CardBuilding, Rarity: "common", Cost: 4, Health: 950, Damage: 190, Range: 5.5, Count: 1, ArenaUnlock: 3},
	{ID: "zap", Name: "Zap", Type: domain.CardSpell, Rarity: "common", Cost: 2, Damage: 160, Range: 2.5, Count: 1, ArenaUnlock: 3},
	{ID: "hog_rider", Name: "Hog Rider", Type: domain.CardTroop, Rarity: "rare", Cost: 4, Health: 1400, Damage: 260, Speed: 2, Range: 0.5, Count: 1, ArenaUnlock: 4},
	{ID: "pekka", Name: "P.E.K.K.A", Type: domain.CardTroop, Rarity: "epic", Cost: 7, Health: 3400, Damage: 680, Speed: 0.75, Range: 0.5, Count: 1, ArenaUnlock: 4},
	{ID: "balloon", Name: "Balloon", Type: domain.CardTroop, Rarity: "epic", Cost: 5, Health: 1400, Damage: 800, Speed: 1, Range: 0.5, Count: 1, ArenaUnlock: 5},
	{ID: "wizard", Name: "Wizard", Type: domain.CardTroop, Rarity: "rare", Cost: 5, Health: 720, Damage: 280, Speed: 1, Range: 5, Count: 1, ArenaUnlock: 5},
	{ID: "prince", Name: "Prince", Type: domain.CardTroop, Rarity: "epic", Cost: 5, Health: 1700, Damage: 320, Speed: 1, Range: 0.5, Count: 1, ArenaUnlock: 7},
}

// StaticSource serves a fixed card set from memory.
type StaticSource struct {
	cards map[string]domain.CardStats
}

// NewStaticSource indexes cards by id. Ids are matched case-insensitively.
func NewStaticSource(cards []domain.CardStats) *StaticSource {
	s := &StaticSource{cards: make(map[string]domain.CardStats, len(cards))}
	for _, c := range cards {
		c.Level = 1
		s.cards[domain.NormalizeCardID(c.ID)] = c
	}
	return s
}

func (s *StaticSource) Card(_ context.Context, cardID string) (domain.CardStats, error) {
	c, ok := s.cards[domain.NormalizeCardID(cardID)]
	if !ok {
		return domain.CardStats{}, domain.ErrCardNotFound(cardID)
	}
	return c, nil
}

func (s *StaticSource) All(_ context.Context) ([]domain.CardStats, error) {
	out := make([]domain.CardStats, 0, len(s.cards))
	for _, c := range s.cards {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b domain.CardStats) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}
