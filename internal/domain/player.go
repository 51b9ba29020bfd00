package domain

import "time"

// PlayerStatus is the matchmaking-facing state of an online player.
type PlayerStatus string

const (
	StatusIdle      PlayerStatus = "idle"
	StatusSearching PlayerStatus = "searching"
	StatusInBattle  PlayerStatus = "in_battle"
)

// Valid reports whether s is a known status.
func (s PlayerStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusSearching, StatusInBattle:
		return true
	}
	return false
}

// Identity is an already-authenticated account as supplied by the account store.
type Identity struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Level    int    `json:"level"`
	Trophies int    `json:"trophies"`
	Wins     int    `json:"wins"`
	Losses   int    `json:"losses"`
	Banned   bool   `json:"-"`
}

// PlayerRecord is the lightweight public record the world hub keeps for every
// connected session.
type PlayerRecord struct {
	SessionID    string       `json:"session_id"`
	UserID       string       `json:"user_id"`
	Username     string       `json:"username"`
	Level        int          `json:"level"`
	Trophies     int          `json:"trophies"`
	Arena        int          `json:"arena"`
	Status       PlayerStatus `json:"status"`
	LastActivity time.Time    `json:"last_activity"`
	Wins         int          `json:"wins"`
	Losses       int          `json:"losses"`
	BattleID     string       `json:"battle_id,omitempty"`
}

// NewPlayerRecord builds an idle record for a freshly joined session.
func NewPlayerRecord(sessionID string, id Identity, now time.Time) *PlayerRecord {
	return &PlayerRecord{
		SessionID:    sessionID,
		UserID:       id.UserID,
		Username:     id.Username,
		Level:        max(id.Level, 1),
		Trophies:     max(id.Trophies, 0),
		Arena:        ArenaForTrophies(id.Trophies).ID,
		Status:       StatusIdle,
		LastActivity: now,
		Wins:         id.Wins,
		Losses:       id.Losses,
	}
}

// WinRate returns wins / games in [0,1], or 0 when no games were played.
func (p *PlayerRecord) WinRate() float64 {
	games := p.Wins + p.Losses
	if games == 0 {
		return 0
	}
	return float64(p.Wins) / float64(games)
}

// ApplyTrophies adjusts trophies by delta, never below zero, and refreshes the arena.
func (p *PlayerRecord) ApplyTrophies(delta int) {
	p.Trophies = max(p.Trophies+delta, 0)
	p.Arena = ArenaForTrophies(p.Trophies).ID
}

// PublicPlayer is the view of a record sent to other clients.
type PublicPlayer struct {
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	Level    int     `json:"level"`
	Trophies int     `json:"trophies"`
	Arena    int     `json:"arena"`
	WinRate  float64 `json:"winRate"`
}

// Public projects the record for broadcast.
func (p *PlayerRecord) Public() PublicPlayer {
	return PublicPlayer{
		UserID:   p.UserID,
		Username: p.Username,
		Level:    p.Level,
		Trophies: p.Trophies,
		Arena:    p.Arena,
		WinRate:  p.WinRate(),
	}
}
