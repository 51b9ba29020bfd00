package protocol

import "github.com/crownarena/server/internal/domain"

// SearchBattleRequest is the search_battle payload.
type SearchBattleRequest struct {
	Deck     []string        `json:"deck"`
	GameMode domain.GameMode `json:"gameMode"`
	Region   string          `json:"region"`
}

// LeaderboardRequest is the get_leaderboard payload.
type LeaderboardRequest struct {
	Limit int `json:"limit"`
}

// UpdateStatusRequest is the update_status payload.
type UpdateStatusRequest struct {
	Status domain.PlayerStatus `json:"status"`
}

// PlaceCardRequest is the place_card payload.
type PlaceCardRequest struct {
	CardID string  `json:"cardId"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
}

// EmoteRequest is the emote payload in both directions.
type EmoteRequest struct {
	Emote    string `json:"emote"`
	PlayerID string `json:"playerId,omitempty"`
}

type PlayerProfile struct {
	SessionID string              `json:"sessionId"`
	Player    domain.PublicPlayer `json:"player"`
	Status    domain.PlayerStatus `json:"status"`
	Wins      int                 `json:"wins"`
	Losses    int                 `json:"losses"`
}

type SearchStarted struct {
	EstimatedTime int `json:"estimatedTime"` // seconds
}

type SearchTimeout struct {
	SuggestBot bool `json:"suggestBot"`
}

type MatchFound struct {
	Opponent     domain.PublicPlayer `json:"opponent"`
	BattleRoomID string              `json:"battleRoomId"`
	Countdown    int                 `json:"countdown"`
	Arena        int                 `json:"arena"`
}

type Leaderboard struct {
	Players []domain.PublicPlayer `json:"players"`
}

type ArenaInfo struct {
	Arena       domain.Arena  `json:"arena"`
	Trophies    int           `json:"trophies"`
	Next        *domain.Arena `json:"next,omitempty"`
	OnlineCount int           `json:"onlineCount"`
}

type HeartbeatAck struct {
	ServerTime int64 `json:"serverTime"` // unix millis
}

type StatusUpdated struct {
	Status domain.PlayerStatus `json:"status"`
}

// Error is sent for hub errors and fatal battle errors.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// CardError is sent to the offending client only.
type CardError struct {
	Message   string `json:"message"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ErrorFrom converts any error into a client-safe Error payload.
func ErrorFrom(err error) Error {
	if appErr, ok := err.(*domain.AppError); ok {
		return Error{Message: appErr.Message, Code: appErr.Code}
	}
	return Error{Message: "internal server error", Code: domain.CodeInternal}
}

// CardErrorFrom converts a placement error into a card_error payload.
func CardErrorFrom(err error) CardError {
	if appErr, ok := err.(*domain.AppError); ok {
		return CardError{Message: appErr.Message, Code: appErr.Code, Retryable: appErr.Retryable}
	}
	return CardError{Message: "internal server error", Code: domain.CodeInternal}
}

type BattlePlayer struct {
	PlayerID string `json:"playerId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Side     string `json:"side"`
	Trophies int    `json:"trophies"`
	Level    int    `json:"level"`
}

type BattleInfo struct {
	BattleID string         `json:"battleId"`
	Players  []BattlePlayer `json:"players"`
	Duration int            `json:"duration"` // seconds
	Overtime int            `json:"overtime"` // seconds, 0 when disabled
	Arena    int            `json:"arena"`
}

type BattleStarted struct {
	StartTime int64 `json:"startTime"` // unix millis
	EndTime   int64 `json:"endTime"`
	Duration  int   `json:"duration"`
}

type OvertimeStarted struct {
	EndTime  int64 `json:"endTime"`
	Duration int   `json:"duration"`
}

type CardPlaced struct {
	PlayerID        string   `json:"playerId"`
	CardID          string   `json:"cardId"`
	X               float64  `json:"x"`
	Y               float64  `json:"y"`
	UnitCount       int      `json:"unitCount"`
	UnitIDs         []string `json:"unitIds"`
	RemainingElixir int      `json:"remainingElixir"`
}

type UnitDestroyed struct {
	UnitID string `json:"unitId"`
}

type PlayerReady struct {
	PlayerID string `json:"playerId"`
}

type BattleEnded struct {
	Winner      string         `json:"winner"`
	WinningSide string         `json:"winningSide,omitempty"`
	Condition   string         `json:"condition"`
	Duration    int            `json:"duration"` // seconds
	Crowns      map[string]int `json:"crowns"`
}

type BattleVoided struct {
	Reason string `json:"reason"`
}
