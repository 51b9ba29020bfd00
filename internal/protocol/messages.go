// Package protocol defines the JSON wire contract between clients, the world
// hub and battle sessions.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope wraps every frame in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals a typed payload into an envelope frame.
func Encode(msgType string, data any) ([]byte, error) {
	env := Envelope{Type: msgType}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", msgType, err)
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

// Decode parses a raw frame into an envelope.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing type")
	}
	return env, nil
}

// Bind unmarshals the envelope data into dst. Empty data leaves dst untouched.
func (e Envelope) Bind(dst any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Client -> world hub.
const (
	MsgSearchBattle   = "search_battle"
	MsgCancelSearch   = "cancel_search"
	MsgGetLeaderboard = "get_leaderboard"
	MsgGetArenaInfo   = "get_arena_info"
	MsgUpdateStatus   = "update_status"
	MsgHeartbeat      = "heartbeat"
)

// World hub -> client.
const (
	MsgPlayerProfile   = "player_profile"
	MsgSearchStarted   = "search_started"
	MsgSearchCancelled = "search_cancelled"
	MsgSearchTimeout   = "search_timeout"
	MsgMatchFound      = "match_found"
	MsgLeaderboard     = "leaderboard"
	MsgArenaInfo       = "arena_info"
	MsgHeartbeatAck    = "heartbeat_ack"
	MsgStatusUpdated   = "status_updated"
	MsgError           = "error"
)

// Client -> battle session.
const (
	MsgPlayerReady = "player_ready"
	MsgPlaceCard   = "place_card"
	MsgEmote       = "emote"
	MsgForfeit     = "forfeit"
)

// Battle session -> client.
const (
	MsgBattleInfo      = "battle_info"
	MsgBattleStarted   = "battle_started"
	MsgBattleState     = "battle_state"
	MsgOvertimeStarted = "overtime_started"
	MsgCardPlaced      = "card_placed"
	MsgCardError       = "card_error"
	MsgUnitDestroyed   = "unit_destroyed"
	MsgBattleEnded     = "battle_ended"
	MsgBattleVoided    = "battle_voided"
)
