package world

import (
	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/protocol"
)

// BattleEnded applies a finished battle to the roster: both players return to
// idle, the winner gains and the loser drops trophies. Draws change nothing.
// The result is then handed to the recorder.
func (h *Hub) BattleEnded(res domain.BattleResult) {
	h.mu.Lock()
	h.battlesFinished++
	var profiles []protocol.PlayerProfile
	for _, id := range res.Participants {
		rec, ok := h.players[id]
		if !ok || rec.BattleID != res.BattleID {
			continue
		}
		rec.Status = domain.StatusIdle
		rec.BattleID = ""
		rec.LastActivity = res.FinishedAt
		if !res.IsDraw() {
			if id == res.Winner {
				rec.Wins++
				rec.ApplyTrophies(h.cfg.TrophyDelta)
			} else {
				rec.Losses++
				rec.ApplyTrophies(-h.cfg.TrophyDelta)
			}
		}
		profiles = append(profiles, profileOf(rec))
	}
	h.mu.Unlock()

	h.logger.Info("battle result applied",
		"battle_id", res.BattleID,
		"winner", res.Winner,
		"condition", res.Condition,
	)
	for _, p := range profiles {
		h.notify(p.SessionID, protocol.MsgPlayerProfile, p)
	}
	if h.deps.Results != nil {
		h.deps.Results.Submit(res)
	}
}

// BattleCancelled returns the players of a voided or aborted battle to idle
// without any trophy change.
func (h *Hub) BattleCancelled(battleID string, playerIDs []string, reason string) {
	h.mu.Lock()
	for _, id := range playerIDs {
		if rec, ok := h.players[id]; ok && rec.BattleID == battleID {
			rec.Status = domain.StatusIdle
			rec.BattleID = ""
		}
	}
	h.mu.Unlock()
	h.logger.Warn("battle cancelled", "battle_id", battleID, "reason", reason)
}

// BattleDisposed forgets a battle session once it has shut down.
func (h *Hub) BattleDisposed(battleID string) {
	h.mu.Lock()
	delete(h.battles, battleID)
	h.mu.Unlock()
}
