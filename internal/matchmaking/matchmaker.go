// Package matchmaking pairs queued players using criteria that relax the
// longer a player waits.
package matchmaking

import (
	"cmp"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/crownarena/server/internal/domain"
	"github.com/google/uuid"
)

// BotSuggestion is emitted for an entry that exhausted its search attempts.
type BotSuggestion struct {
	Entry  domain.QueueEntry
	Waited time.Duration
}

// PassResult is the outcome of one pairing pass.
type PassResult struct {
	Matches []domain.Match
	Bots    []BotSuggestion
}

// Stats is a point-in-time summary of the matchmaker.
type Stats struct {
	QueueSize      int           `json:"queueSize"`
	MatchesCreated int64         `json:"matchesCreated"`
	BotSuggestions int64         `json:"botSuggestions"`
	AverageQuality float64       `json:"averageQuality"`
	AverageWait    time.Duration `json:"averageWait"`
}

// Matchmaker owns the search queue and the bounded match history.
type Matchmaker struct {
	cfg    Config
	logger *slog.Logger

	mu             sync.Mutex
	queue          map[string]*domain.QueueEntry
	history        []domain.Match // ring buffer
	historyNext    int
	matchesCreated int64
	botSuggestions int64
}

// New creates an empty matchmaker.
func New(cfg Config, logger *slog.Logger) *Matchmaker {
	cfg = cfg.normalize()
	return &Matchmaker{
		cfg:     cfg,
		logger:  logger,
		queue:   make(map[string]*domain.QueueEntry),
		history: make([]domain.Match, 0, cfg.HistorySize),
	}
}

// Enqueue adds an entry. A session may hold only one entry.
func (m *Matchmaker) Enqueue(e *domain.QueueEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queue[e.SessionID]; ok {
		return domain.ErrAlreadySearching()
	}
	e.EstimatedWait = m.estimateWaitLocked(e.GameMode)
	m.queue[e.SessionID] = e
	return nil
}

// Dequeue removes the entry for sessionID and reports whether one existed.
func (m *Matchmaker) Dequeue(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queue[sessionID]; !ok {
		return false
	}
	delete(m.queue, sessionID)
	return true
}

// Contains reports whether sessionID is queued.
func (m *Matchmaker) Contains(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.queue[sessionID]
	return ok
}

// Len returns the queue size.
func (m *Matchmaker) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// EstimateWait returns the average wait of recent matches in mode, or the
// configured default when there is no history.
func (m *Matchmaker) EstimateWait(mode domain.GameMode) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.estimateWaitLocked(mode)
}

const estimateWindow = 50

func (m *Matchmaker) estimateWaitLocked(mode domain.GameMode) time.Duration {
	var total time.Duration
	var n int
	m.eachRecentLocked(func(match domain.Match) bool {
		if match.PlayerOne.GameMode != mode {
			return true
		}
		total += match.CreatedAt.Sub(match.PlayerOne.EnqueuedAt)
		total += match.CreatedAt.Sub(match.PlayerTwo.EnqueuedAt)
		n += 2
		return n < 2*estimateWindow
	})
	if n == 0 {
		return m.cfg.DefaultWait
	}
	return (total / time.Duration(n)).Round(time.Second)
}

// eachRecentLocked walks the history newest first until fn returns false.
func (m *Matchmaker) eachRecentLocked(fn func(domain.Match) bool) {
	size := len(m.history)
	for i := 0; i < size; i++ {
		idx := (m.historyNext - 1 - i + size) % size
		if !fn(m.history[idx]) {
			return
		}
	}
}

func (m *Matchmaker) recordLocked(match domain.Match) {
	if len(m.history) < m.cfg.HistorySize {
		m.history = append(m.history, match)
		m.historyNext = len(m.history) % m.cfg.HistorySize
		return
	}
	m.history[m.historyNext] = match
	m.historyNext = (m.historyNext + 1) % m.cfg.HistorySize
}

// History returns the retained matches, oldest first.
func (m *Matchmaker) History() []domain.Match {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Match, 0, len(m.history))
	if len(m.history) < m.cfg.HistorySize {
		return append(out, m.history...)
	}
	out = append(out, m.history[m.historyNext:]...)
	return append(out, m.history[:m.historyNext]...)
}

// Stats summarizes the queue and history.
func (m *Matchmaker) Stats(now time.Time) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		QueueSize:      len(m.queue),
		MatchesCreated: m.matchesCreated,
		BotSuggestions: m.botSuggestions,
	}
	if len(m.history) > 0 {
		var q float64
		for _, match := range m.history {
			q += match.Quality
		}
		s.AverageQuality = q / float64(len(m.history))
	}
	if len(m.queue) > 0 {
		var w time.Duration
		for _, e := range m.queue {
			w += e.Wait(now)
		}
		s.AverageWait = w / time.Duration(len(m.queue))
	}
	return s
}

// RunPass performs one pairing pass over the whole queue. Both entries of a
// match leave the queue inside the pass, so no entry is matched twice.
func (m *Matchmaker) RunPass(now time.Time) PassResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make([]*domain.QueueEntry, 0, len(m.queue))
	for _, e := range m.queue {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b *domain.QueueEntry) int {
		if c := a.EnqueuedAt.Compare(b.EnqueuedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})

	var res PassResult
	matched := make(map[string]bool)

	for _, a := range entries {
		if matched[a.SessionID] {
			continue
		}
		criteria := m.cfg.RelaxedCriteria(a.Wait(now))

		var best *domain.QueueEntry
		bestScore := -1.0
		for _, b := range entries {
			if b == a || matched[b.SessionID] || !criteria.Allows(a, b) {
				continue
			}
			if s := Score(a, b, now); s > bestScore {
				best, bestScore = b, s
			}
		}
		if best == nil || bestScore < m.threshold(a, best, now) {
			continue
		}

		matched[a.SessionID] = true
		matched[best.SessionID] = true
		delete(m.queue, a.SessionID)
		delete(m.queue, best.SessionID)

		match := m.newMatch(a, best, bestScore, now)
		m.recordLocked(match)
		m.matchesCreated++
		res.Matches = append(res.Matches, match)

		m.logger.Info("match created",
			"match_id", match.ID,
			"battle_id", match.BattleID,
			"player_one", a.SessionID,
			"player_two", best.SessionID,
			"quality", match.Quality,
			"win_probability", match.WinProbability,
		)
	}

	escalateAfter := 2 * m.cfg.NominalMaxWait
	for _, e := range entries {
		if matched[e.SessionID] || e.Wait(now) <= escalateAfter {
			continue
		}
		e.SearchAttempts++
		if e.SearchAttempts < m.cfg.MaxSearchAttempts {
			continue
		}
		delete(m.queue, e.SessionID)
		m.botSuggestions++
		res.Bots = append(res.Bots, BotSuggestion{Entry: *e, Waited: e.Wait(now)})
		m.logger.Info("search exhausted, suggesting bot",
			"session_id", e.SessionID,
			"waited", e.Wait(now).String(),
			"attempts", e.SearchAttempts,
		)
	}

	return res
}

func (m *Matchmaker) threshold(a, b *domain.QueueEntry, now time.Time) float64 {
	if a.Wait(now) > m.cfg.RelaxAfter || b.Wait(now) > m.cfg.RelaxAfter {
		return m.cfg.RelaxedMinQuality
	}
	return m.cfg.MinQuality
}

func (m *Matchmaker) newMatch(a, b *domain.QueueEntry, quality float64, now time.Time) domain.Match {
	arena := a.Arena
	if b.Trophies > a.Trophies {
		arena = b.Arena
	}
	return domain.Match{
		ID:             uuid.NewString(),
		PlayerOne:      *a,
		PlayerTwo:      *b,
		Quality:        quality,
		WinProbability: WinProbability(a, b),
		Arena:          arena,
		BattleID:       uuid.NewString(),
		CreatedAt:      now,
	}
}
