package domain

import (
	"fmt"
	"strings"
)

// DeckSize is the fixed number of distinct cards in a deck.
const DeckSize = 8

// CardType classifies how a card behaves on placement.
type CardType string

const (
	CardTroop    CardType = "troop"
	CardBuilding CardType = "building"
	CardSpell    CardType = "spell"
)

// CardStats are the level-resolved stats of a card.
type CardStats struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        CardType `json:"type"`
	Rarity      string   `json:"rarity"`
	Cost        int      `json:"cost"`
	Level       int      `json:"level"`
	Health      float64  `json:"health"`
	Damage      float64  `json:"damage"`
	Speed       float64  `json:"speed"`
	Range       float64  `json:"range"`
	Count       int      `json:"count"`
	ArenaUnlock int      `json:"arenaUnlock"`
}

// ValidationResult is the outcome of a catalog deck check.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Reasons []string `json:"reasons,omitempty"`
}

// Err converts an invalid result into an InvalidDeck error.
func (v ValidationResult) Err() error {
	if v.Valid {
		return nil
	}
	msg := "invalid deck"
	if len(v.Reasons) > 0 {
		msg = v.Reasons[0]
	}
	return ErrInvalidDeck(msg)
}

// NormalizeCardID returns the canonical form of a card id. Card ids are
// case-insensitive.
func NormalizeCardID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// NormalizeDeck returns a copy of deck with every id normalized.
func NormalizeDeck(deck []string) []string {
	out := make([]string, len(deck))
	for i, id := range deck {
		out[i] = NormalizeCardID(id)
	}
	return out
}

// ValidateDeckShape checks the structural deck rule: exactly DeckSize entries,
// no blanks and no duplicates. Ids differing only in case are duplicates.
func ValidateDeckShape(deck []string) error {
	if len(deck) != DeckSize {
		return ErrInvalidDeck(fmt.Sprintf("deck must contain exactly %d cards, got %d", DeckSize, len(deck)))
	}
	seen := make(map[string]bool, len(deck))
	for _, raw := range deck {
		id := NormalizeCardID(raw)
		if id == "" {
			return ErrInvalidDeck("deck contains an empty card id")
		}
		if seen[id] {
			return ErrInvalidDeck(fmt.Sprintf("duplicate card %s in deck", id))
		}
		seen[id] = true
	}
	return nil
}
