package domain

import "time"

// GameMode is a hard matchmaking partition; entries with different modes never pair.
type GameMode string

const (
	ModeLadder    GameMode = "ladder"
	ModeCasual    GameMode = "casual"
	ModeTouchdown GameMode = "touchdown"
)

// SearchPreferences are the client-chosen search options.
type SearchPreferences struct {
	GameMode GameMode `json:"gameMode"`
	Region   string   `json:"region"`
}

// QueueEntry is a player waiting in the matchmaking queue.
type QueueEntry struct {
	SessionID      string        `json:"sessionId"`
	UserID         string        `json:"userId"`
	Username       string        `json:"username"`
	Level          int           `json:"level"`
	Trophies       int           `json:"trophies"`
	WinRate        float64       `json:"winRate"`
	Arena          int           `json:"arena"`
	GameMode       GameMode      `json:"gameMode"`
	Region         string        `json:"region"`
	Deck           []string      `json:"deck"`
	EnqueuedAt     time.Time     `json:"enqueuedAt"`
	EstimatedWait  time.Duration `json:"estimatedWait"`
	SearchAttempts int           `json:"searchAttempts"`
}

// NewQueueEntry projects a player record into a queue entry.
func NewQueueEntry(p *PlayerRecord, deck []string, prefs SearchPreferences, now time.Time) *QueueEntry {
	mode := prefs.GameMode
	if mode == "" {
		mode = ModeLadder
	}
	return &QueueEntry{
		SessionID:  p.SessionID,
		UserID:     p.UserID,
		Username:   p.Username,
		Level:      p.Level,
		Trophies:   p.Trophies,
		WinRate:    p.WinRate(),
		Arena:      p.Arena,
		GameMode:   mode,
		Region:     prefs.Region,
		Deck:       append([]string(nil), deck...),
		EnqueuedAt: now,
	}
}

// Wait returns how long the entry has been queued at now.
func (e *QueueEntry) Wait(now time.Time) time.Duration {
	return now.Sub(e.EnqueuedAt)
}

// Match pairs two queue entries into a battle. It is immutable once created.
type Match struct {
	ID             string     `json:"id"`
	PlayerOne      QueueEntry `json:"playerOne"`
	PlayerTwo      QueueEntry `json:"playerTwo"`
	Quality        float64    `json:"quality"`
	WinProbability float64    `json:"winProbability"`
	Arena          int        `json:"arena"`
	BattleID       string     `json:"battleId"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// WinCondition is how a battle was decided.
type WinCondition string

const (
	ConditionTowers  WinCondition = "towers"
	ConditionTime    WinCondition = "time"
	ConditionForfeit WinCondition = "forfeit"
)

// DrawWinner is the winner value of a drawn battle.
const DrawWinner = "draw"

// BattleResult is what a finished battle reports back to the world hub.
type BattleResult struct {
	BattleID         string         `json:"battleId"`
	MatchID          string         `json:"matchId"`
	Winner           string         `json:"winner"`
	WinnerUserID     string         `json:"winnerUserId,omitempty"`
	LoserUserID      string         `json:"loserUserId,omitempty"`
	WinningSide      string         `json:"winningSide,omitempty"`
	Condition        WinCondition   `json:"condition"`
	Duration         time.Duration  `json:"duration"`
	Crowns           map[string]int `json:"crowns"`
	Participants     []string       `json:"participants"`
	ParticipantUsers []string       `json:"participantUsers"`
	FinishedAt       time.Time      `json:"finishedAt"`
}

// IsDraw reports whether nobody won.
func (r BattleResult) IsDraw() bool {
	return r.Winner == DrawWinner
}

// Outcome is one participant's view of a result.
type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// OutcomeFor returns how the battle went for userID.
func (r BattleResult) OutcomeFor(userID string) Outcome {
	switch {
	case r.IsDraw():
		return OutcomeDraw
	case userID == r.WinnerUserID:
		return OutcomeWin
	}
	return OutcomeLoss
}
