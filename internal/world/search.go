package world

import (
	"context"
	"time"

	"github.com/crownarena/server/internal/battle"
	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/matchmaking"
	"github.com/crownarena/server/internal/protocol"
)

// RequestSearch validates the deck and queues the session for matchmaking.
func (h *Hub) RequestSearch(ctx context.Context, sessionID string, deck []string, prefs domain.SearchPreferences) error {
	h.mu.Lock()
	rec, err := h.idleLocked(sessionID)
	var arena int
	if err == nil {
		arena = rec.Arena
	}
	h.mu.Unlock()
	if err != nil {
		return err
	}

	if err := domain.ValidateDeckShape(deck); err != nil {
		return err
	}
	deck = domain.NormalizeDeck(deck)
	result, err := h.deps.Catalog.ValidateDeck(ctx, deck, arena)
	if err != nil {
		return err
	}
	if err := result.Err(); err != nil {
		return err
	}

	now := h.deps.Clock.Now()
	h.mu.Lock()
	// The roster may have changed while the catalog was consulted.
	rec, err = h.idleLocked(sessionID)
	if err != nil {
		h.mu.Unlock()
		return err
	}
	entry := domain.NewQueueEntry(rec, deck, prefs, now)
	if err := h.mm.Enqueue(entry); err != nil {
		h.mu.Unlock()
		return err
	}
	rec.Status = domain.StatusSearching
	rec.LastActivity = now
	h.mu.Unlock()

	h.logger.Info("search started",
		"session_id", sessionID,
		"game_mode", entry.GameMode,
		"trophies", entry.Trophies,
		"estimated_wait", entry.EstimatedWait.String(),
	)
	h.notify(sessionID, protocol.MsgSearchStarted, protocol.SearchStarted{
		EstimatedTime: int(entry.EstimatedWait / time.Second),
	})
	return nil
}

func (h *Hub) idleLocked(sessionID string) (*domain.PlayerRecord, error) {
	rec, ok := h.players[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound(sessionID)
	}
	switch rec.Status {
	case domain.StatusSearching:
		return nil, domain.ErrAlreadySearching()
	case domain.StatusInBattle:
		return nil, domain.ErrAlreadyInBattle()
	}
	return rec, nil
}

// CancelSearch takes the session out of the queue.
func (h *Hub) CancelSearch(sessionID string) error {
	h.mu.Lock()
	rec, ok := h.players[sessionID]
	if !ok {
		h.mu.Unlock()
		return domain.ErrSessionNotFound(sessionID)
	}
	if rec.Status != domain.StatusSearching {
		h.mu.Unlock()
		return domain.ErrNothingToCancel()
	}
	h.mm.Dequeue(sessionID)
	rec.Status = domain.StatusIdle
	rec.LastActivity = h.deps.Clock.Now()
	h.mu.Unlock()

	h.logger.Info("search cancelled", "session_id", sessionID)
	h.notify(sessionID, protocol.MsgSearchCancelled, nil)
	return nil
}

// MatchmakingPass runs one matchmaker pass, spawns a battle session per match
// and returns timed-out searchers to idle.
func (h *Hub) MatchmakingPass(now time.Time) matchmaking.PassResult {
	res := h.mm.RunPass(now)
	for _, m := range res.Matches {
		h.startMatch(m)
	}
	for _, bot := range res.Bots {
		h.searchTimedOut(bot)
	}
	return res
}

func (h *Hub) startMatch(m domain.Match) {
	h.mu.Lock()
	one, okOne := h.searchingLocked(m.PlayerOne.SessionID)
	two, okTwo := h.searchingLocked(m.PlayerTwo.SessionID)
	if !okOne || !okTwo {
		// One side left between the pass and now; the other keeps its place.
		for _, survivor := range []struct {
			ok    bool
			entry domain.QueueEntry
		}{{okOne, m.PlayerOne}, {okTwo, m.PlayerTwo}} {
			if survivor.ok {
				entry := survivor.entry
				if err := h.mm.Enqueue(&entry); err != nil {
					h.logger.Warn("requeue failed", "session_id", entry.SessionID, "error", err)
				}
			}
		}
		h.mu.Unlock()
		h.logger.Info("match dropped, player gone", "match_id", m.ID)
		return
	}

	for _, rec := range []*domain.PlayerRecord{one, two} {
		rec.Status = domain.StatusInBattle
		rec.BattleID = m.BattleID
	}
	sess := battle.NewSession(m.BattleID, m.ID, m.Arena,
		participantOf(one, m.PlayerOne.Deck),
		participantOf(two, m.PlayerTwo.Deck),
		h.battleCfg,
		battle.Deps{
			Catalog:  h.deps.Catalog,
			Sender:   h.deps.Battles,
			Listener: h,
			Clock:    h.deps.Clock,
			Logger:   h.deps.Logger,
		},
	)
	h.battles[m.BattleID] = sess
	h.matchesCreated++
	pubOne, pubTwo := one.Public(), two.Public()
	h.mu.Unlock()

	sess.Start(h.lifetime)

	h.logger.Info("battle spawned",
		"battle_id", m.BattleID,
		"match_id", m.ID,
		"quality", m.Quality,
		"arena", m.Arena,
	)
	h.notify(m.PlayerOne.SessionID, protocol.MsgMatchFound, protocol.MatchFound{
		Opponent:     pubTwo,
		BattleRoomID: m.BattleID,
		Countdown:    h.cfg.MatchCountdown,
		Arena:        m.Arena,
	})
	h.notify(m.PlayerTwo.SessionID, protocol.MsgMatchFound, protocol.MatchFound{
		Opponent:     pubOne,
		BattleRoomID: m.BattleID,
		Countdown:    h.cfg.MatchCountdown,
		Arena:        m.Arena,
	})
}

func (h *Hub) searchingLocked(sessionID string) (*domain.PlayerRecord, bool) {
	rec, ok := h.players[sessionID]
	if !ok || rec.Status != domain.StatusSearching {
		return nil, false
	}
	return rec, true
}

func (h *Hub) searchTimedOut(bot matchmaking.BotSuggestion) {
	id := bot.Entry.SessionID
	h.mu.Lock()
	rec, ok := h.searchingLocked(id)
	if ok {
		rec.Status = domain.StatusIdle
	}
	h.mu.Unlock()
	if !ok {
		return
	}

	h.logger.Info("search timed out", "session_id", id, "waited", bot.Waited.String())
	h.notify(id, protocol.MsgSearchTimeout, protocol.SearchTimeout{SuggestBot: true})

	if h.deps.Bots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(h.lifetime, h.cfg.CallTimeout)
	defer cancel()
	if err := h.deps.Bots.SuggestBot(ctx, bot.Entry); err != nil {
		h.logger.Warn("bot suggestion failed", "session_id", id, "error", err)
	}
}

func participantOf(rec *domain.PlayerRecord, deck []string) battle.Participant {
	return battle.Participant{
		PlayerID: rec.SessionID,
		UserID:   rec.UserID,
		Username: rec.Username,
		Level:    rec.Level,
		Trophies: rec.Trophies,
		Deck:     deck,
	}
}
