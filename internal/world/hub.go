// Package world keeps the roster of online players and routes their intents:
// searching, cancelling, leaderboards and the hand-off into battle sessions.
package world

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/crownarena/server/internal/battle"
	"github.com/crownarena/server/internal/catalog"
	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/matchmaking"
	"github.com/crownarena/server/internal/protocol"
	"github.com/jonboulle/clockwork"
)

// Notifier delivers world-channel messages and closes world connections.
type Notifier interface {
	Send(sessionID, msgType string, data any)
	Disconnect(sessionID string, code int, reason string)
}

// AccountStore supplies the persisted profile of an authenticated user.
type AccountStore interface {
	LoadProfile(ctx context.Context, userID string) (domain.Identity, error)
}

// BotService receives suggestions to back-fill a timed-out search with a bot.
type BotService interface {
	SuggestBot(ctx context.Context, entry domain.QueueEntry) error
}

// ResultRecorder persists finished battles. Submit must not block.
type ResultRecorder interface {
	Submit(res domain.BattleResult)
}

// Config holds world hub settings.
type Config struct {
	InactivityTimeout time.Duration
	SweepInterval     time.Duration
	MatchInterval     time.Duration
	MatchCountdown    int
	TrophyDelta       int
	LeaderboardLimit  int
	CallTimeout       time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		InactivityTimeout: 10 * time.Minute,
		SweepInterval:     time.Minute,
		MatchInterval:     2 * time.Second,
		MatchCountdown:    3,
		TrophyDelta:       30,
		LeaderboardLimit:  100,
		CallTimeout:       2 * time.Second,
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = d.InactivityTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.MatchInterval <= 0 {
		c.MatchInterval = d.MatchInterval
	}
	if c.MatchCountdown <= 0 {
		c.MatchCountdown = d.MatchCountdown
	}
	if c.TrophyDelta <= 0 {
		c.TrophyDelta = d.TrophyDelta
	}
	if c.LeaderboardLimit <= 0 {
		c.LeaderboardLimit = d.LeaderboardLimit
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = d.CallTimeout
	}
}

// Deps are the hub's collaborators. Accounts, Bots and Results are optional.
type Deps struct {
	Notifier Notifier
	Battles  battle.Sender
	Catalog  catalog.Reader
	Accounts AccountStore
	Bots     BotService
	Results  ResultRecorder
	Clock    clockwork.Clock
	Logger   *slog.Logger
}

// Stats is a point-in-time summary of the world.
type Stats struct {
	Online          int     `json:"online"`
	Searching       int     `json:"searching"`
	InBattle        int     `json:"inBattle"`
	ActiveBattles   int     `json:"activeBattles"`
	QueueSize       int     `json:"queueSize"`
	MatchesCreated  int64   `json:"matchesCreated"`
	BattlesFinished int64   `json:"battlesFinished"`
	AverageQuality  float64 `json:"averageQuality"`
}

// Hub is the world hub. The roster lock is never held while calling into a
// battle session or any I/O collaborator.
type Hub struct {
	cfg       Config
	battleCfg battle.Config
	deps      Deps
	mm        *matchmaking.Matchmaker
	logger    *slog.Logger

	lifetime context.Context
	stop     context.CancelFunc

	mu              sync.Mutex
	players         map[string]*domain.PlayerRecord
	users           map[string]string // user id -> session id
	battles         map[string]*battle.Session
	matchesCreated  int64
	battlesFinished int64
}

// New creates a hub. Shutdown cancels every battle session it spawned.
func New(cfg Config, battleCfg battle.Config, mm *matchmaking.Matchmaker, deps Deps) *Hub {
	cfg.normalize()
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:       cfg,
		battleCfg: battleCfg,
		deps:      deps,
		mm:        mm,
		logger:    deps.Logger.With("component", "world"),
		lifetime:  ctx,
		stop:      cancel,
		players:   make(map[string]*domain.PlayerRecord),
		users:     make(map[string]string),
		battles:   make(map[string]*battle.Session),
	}
}

// Shutdown aborts all running battles and waits for them to dispose.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.stop()
	h.mu.Lock()
	sessions := make([]*battle.Session, 0, len(h.battles))
	for _, s := range h.battles {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Join registers a connected session for an authenticated user.
func (h *Hub) Join(ctx context.Context, sessionID string, id domain.Identity) (domain.PlayerRecord, error) {
	if h.deps.Accounts != nil {
		profile, err := h.deps.Accounts.LoadProfile(ctx, id.UserID)
		switch {
		case err == nil:
			if profile.Username == "" {
				profile.Username = id.Username
			}
			id = profile
		case errors.Is(err, domain.ErrNotFound("", "")):
			// First visit: play with the token identity.
		default:
			return domain.PlayerRecord{}, fmt.Errorf("load profile %s: %w", id.UserID, err)
		}
	}
	if id.Banned {
		return domain.PlayerRecord{}, domain.ErrBanned()
	}

	now := h.deps.Clock.Now()
	h.mu.Lock()
	if _, exists := h.players[sessionID]; exists {
		h.mu.Unlock()
		return domain.PlayerRecord{}, domain.ErrDuplicateSession(sessionID)
	}
	// One world session per account.
	if other, exists := h.users[id.UserID]; exists && id.UserID != "" {
		h.mu.Unlock()
		return domain.PlayerRecord{}, domain.ErrDuplicateSession(other)
	}
	rec := domain.NewPlayerRecord(sessionID, id, now)
	h.players[sessionID] = rec
	if id.UserID != "" {
		h.users[id.UserID] = sessionID
	}
	snapshot := *rec
	h.mu.Unlock()

	h.logger.Info("player joined", "session_id", sessionID, "user_id", id.UserID, "trophies", snapshot.Trophies)
	h.notify(sessionID, protocol.MsgPlayerProfile, profileOf(&snapshot))
	return snapshot, nil
}

// Leave removes the session. A searching player is dequeued; a player in
// battle is reported to the session as disconnected.
func (h *Hub) Leave(sessionID string) {
	h.mu.Lock()
	rec, ok := h.players[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.players, sessionID)
	if h.users[rec.UserID] == sessionID {
		delete(h.users, rec.UserID)
	}
	if rec.Status == domain.StatusSearching {
		h.mm.Dequeue(sessionID)
	}
	var sess *battle.Session
	if rec.Status == domain.StatusInBattle {
		sess = h.battles[rec.BattleID]
	}
	h.mu.Unlock()

	if sess != nil {
		sess.Disconnect(sessionID)
	}
	h.logger.Info("player left", "session_id", sessionID, "status", rec.Status)
}

// Player returns a copy of the session's record.
func (h *Hub) Player(sessionID string) (domain.PlayerRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.players[sessionID]
	if !ok {
		return domain.PlayerRecord{}, false
	}
	return *rec, true
}

// Heartbeat refreshes the session's activity and acknowledges with server time.
func (h *Hub) Heartbeat(sessionID string) (time.Time, error) {
	now := h.deps.Clock.Now()
	if err := h.touch(sessionID, now); err != nil {
		return time.Time{}, err
	}
	h.notify(sessionID, protocol.MsgHeartbeatAck, protocol.HeartbeatAck{ServerTime: now.UnixMilli()})
	return now, nil
}

// Touch marks the session active without replying.
func (h *Hub) Touch(sessionID string) {
	_ = h.touch(sessionID, h.deps.Clock.Now())
}

func (h *Hub) touch(sessionID string, now time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.players[sessionID]
	if !ok {
		return domain.ErrSessionNotFound(sessionID)
	}
	rec.LastActivity = now
	return nil
}

// Leaderboard returns online players by trophies, highest first. limit is
// clamped to [1, LeaderboardLimit]; zero or less means the maximum.
func (h *Hub) Leaderboard(limit int) []domain.PublicPlayer {
	if limit <= 0 || limit > h.cfg.LeaderboardLimit {
		limit = h.cfg.LeaderboardLimit
	}

	h.mu.Lock()
	recs := make([]domain.PlayerRecord, 0, len(h.players))
	for _, rec := range h.players {
		recs = append(recs, *rec)
	}
	h.mu.Unlock()

	slices.SortFunc(recs, func(a, b domain.PlayerRecord) int {
		if c := cmp.Compare(b.Trophies, a.Trophies); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	out := make([]domain.PublicPlayer, 0, min(limit, len(recs)))
	for i := 0; i < len(recs) && i < limit; i++ {
		out = append(out, recs[i].Public())
	}
	return out
}

// ArenaInfo describes the session's current arena tier and the next one.
func (h *Hub) ArenaInfo(sessionID string) (protocol.ArenaInfo, error) {
	h.mu.Lock()
	rec, ok := h.players[sessionID]
	var trophies int
	if ok {
		trophies = rec.Trophies
	}
	online := len(h.players)
	h.mu.Unlock()
	if !ok {
		return protocol.ArenaInfo{}, domain.ErrSessionNotFound(sessionID)
	}

	current := domain.ArenaForTrophies(trophies)
	info := protocol.ArenaInfo{Arena: current, Trophies: trophies, OnlineCount: online}
	if next, ok := domain.NextArena(current.ID); ok {
		info.Next = &next
	}
	return info, nil
}

// UpdateStatus applies a client-requested status change. Only searching to
// idle is allowed; it behaves like CancelSearch.
func (h *Hub) UpdateStatus(sessionID string, status domain.PlayerStatus) error {
	if !status.Valid() {
		return domain.ErrValidation(fmt.Sprintf("unknown status %q", status))
	}
	h.mu.Lock()
	rec, ok := h.players[sessionID]
	if !ok {
		h.mu.Unlock()
		return domain.ErrSessionNotFound(sessionID)
	}
	current := rec.Status
	h.mu.Unlock()

	switch {
	case current == status:
		return nil
	case current == domain.StatusSearching && status == domain.StatusIdle:
		if err := h.CancelSearch(sessionID); err != nil {
			return err
		}
		h.notify(sessionID, protocol.MsgStatusUpdated, protocol.StatusUpdated{Status: status})
		return nil
	}
	return domain.ErrInvalidStatusTransition(current, status)
}

// Battle returns a running battle session.
func (h *Hub) Battle(battleID string) (*battle.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.battles[battleID]
	return s, ok
}

// Stats summarises the roster, queue and battles.
func (h *Hub) Stats() Stats {
	mm := h.mm.Stats(h.deps.Clock.Now())

	h.mu.Lock()
	defer h.mu.Unlock()
	st := Stats{
		Online:          len(h.players),
		ActiveBattles:   len(h.battles),
		QueueSize:       mm.QueueSize,
		MatchesCreated:  h.matchesCreated,
		BattlesFinished: h.battlesFinished,
		AverageQuality:  mm.AverageQuality,
	}
	for _, rec := range h.players {
		switch rec.Status {
		case domain.StatusSearching:
			st.Searching++
		case domain.StatusInBattle:
			st.InBattle++
		}
	}
	return st
}

// Sweep removes sessions idle longer than the inactivity timeout and closes
// their connections. It returns how many were removed.
func (h *Hub) Sweep(now time.Time) int {
	h.mu.Lock()
	var stale []string
	for id, rec := range h.players {
		if now.Sub(rec.LastActivity) > h.cfg.InactivityTimeout {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		h.Leave(id)
		if h.deps.Notifier != nil {
			h.deps.Notifier.Disconnect(id, protocol.CloseInactive, "inactive")
		}
	}
	if len(stale) > 0 {
		h.logger.Info("inactive sessions swept", "count", len(stale))
	}
	return len(stale)
}

func (h *Hub) notify(sessionID, msgType string, data any) {
	if h.deps.Notifier != nil {
		h.deps.Notifier.Send(sessionID, msgType, data)
	}
}

func profileOf(rec *domain.PlayerRecord) protocol.PlayerProfile {
	return protocol.PlayerProfile{
		SessionID: rec.SessionID,
		Player:    rec.Public(),
		Status:    rec.Status,
		Wins:      rec.Wins,
		Losses:    rec.Losses,
	}
}
