package matchmaking

import (
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/crownarena/server/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMatchmaker(cfg Config) *Matchmaker {
	return New(cfg, slog.New(slog.DiscardHandler))
}

func entry(id string, trophies int, enqueuedAt time.Time) *domain.QueueEntry {
	return &domain.QueueEntry{
		SessionID:  id,
		UserID:     "user-" + id,
		Username:   id,
		Level:      10,
		Trophies:   trophies,
		WinRate:    0.5,
		Arena:      domain.ArenaForTrophies(trophies).ID,
		GameMode:   domain.ModeLadder,
		Region:     "eu",
		Deck:       []string{"knight", "archers", "giant", "fireball", "musketeer", "minions", "arrows", "hog_rider"},
		EnqueuedAt: enqueuedAt,
	}
}

// --- Pairing Tests ---

func TestRunPass_CloseTrophiesMatchInOnePass(t *testing.T) {
	m := newTestMatchmaker(DefaultConfig())
	require.NoError(t, m.Enqueue(entry("a", 1000, t0)))
	require.NoError(t, m.Enqueue(entry("b", 1010, t0.Add(time.Second))))

	res := m.RunPass(t0.Add(2 * time.Second))

	require.Len(t, res.Matches, 1)
	match := res.Matches[0]
	assert.GreaterOrEqual(t, match.Quality, 70.0)
	assert.Equal(t, "a", match.PlayerOne.SessionID)
	assert.Equal(t, "b", match.PlayerTwo.SessionID)
	assert.NotEmpty(t, match.ID)
	assert.NotEmpty(t, match.BattleID)
	assert.Equal(t, 0, m.Len())
}

func TestRunPass_NeverMixesGameModes(t *testing.T) {
	m := newTestMatchmaker(DefaultConfig())
	ladder := entry("a", 1000, t0)
	casual := entry("b", 1000, t0)
	casual.GameMode = domain.ModeCasual
	require.NoError(t, m.Enqueue(ladder))
	require.NoError(t, m.Enqueue(casual))

	for _, wait := range []time.Duration{2 * time.Second, 31 * time.Second, 61 * time.Second, 5 * time.Minute} {
		res := m.RunPass(t0.Add(wait))
		assert.Empty(t, res.Matches, "wait %s", wait)
	}
}

func TestRunPass_NeverPairsAccountWithItself(t *testing.T) {
	m := newTestMatchmaker(DefaultConfig())
	first := entry("a", 1000, t0)
	second := entry("b", 1000, t0)
	second.UserID = first.UserID
	require.NoError(t, m.Enqueue(first))
	require.NoError(t, m.Enqueue(second))

	res := m.RunPass(t0.Add(2 * time.Second))
	assert.Empty(t, res.Matches)
	assert.False(t, DefaultConfig().RelaxedCriteria(5*time.Minute).Allows(first, second))

	require.NoError(t, m.Enqueue(entry("c", 1000, t0)))
	res = m.RunPass(t0.Add(3 * time.Second))
	require.Len(t, res.Matches, 1)
	assert.NotEqual(t, res.Matches[0].PlayerOne.UserID, res.Matches[0].PlayerTwo.UserID)
}

func TestRunPass_RelaxedThresholdAfterThirtySeconds(t *testing.T) {
	m := newTestMatchmaker(DefaultConfig())
	a := entry("a", 1000, t0)
	b := entry("b", 1090, t0)
	a.Level, b.Level = 10, 12
	a.WinRate, b.WinRate = 0.8, 0.2
	require.NoError(t, m.Enqueue(a))
	require.NoError(t, m.Enqueue(b))

	// Score sits between 50 and 70: rejected while fresh.
	res := m.RunPass(t0.Add(time.Second))
	assert.Empty(t, res.Matches)

	res = m.RunPass(t0.Add(31 * time.Second))
	require.Len(t, res.Matches, 1)
	assert.GreaterOrEqual(t, res.Matches[0].Quality, 50.0)
	assert.Less(t, res.Matches[0].Quality, 70.0)
}

func TestRunPass_TrophyToleranceGrowsWithWait(t *testing.T) {
	m := newTestMatchmaker(DefaultConfig())
	require.NoError(t, m.Enqueue(entry("a", 1000, t0)))
	require.NoError(t, m.Enqueue(entry("b", 1150, t0)))

	res := m.RunPass(t0.Add(10 * time.Second))
	assert.Empty(t, res.Matches, "150 trophies apart exceeds base tolerance")

	// 50s wait: multiplier 1.67, tolerance 166.
	res = m.RunPass(t0.Add(50 * time.Second))
	require.Len(t, res.Matches, 1)
}

func TestRunPass_NoEntryMatchedTwice(t *testing.T) {
	m := newTestMatchmaker(DefaultConfig())
	require.NoError(t, m.Enqueue(entry("a", 1000, t0)))
	require.NoError(t, m.Enqueue(entry("b", 1000, t0.Add(time.Millisecond))))
	require.NoError(t, m.Enqueue(entry("c", 1000, t0.Add(2*time.Millisecond))))

	res := m.RunPass(t0.Add(2 * time.Second))

	require.Len(t, res.Matches, 1)
	match := res.Matches[0]
	assert.NotEqual(t, match.PlayerOne.SessionID, match.PlayerTwo.SessionID)
	assert.Equal(t, "a", match.PlayerOne.SessionID, "oldest entry has priority")
	assert.True(t, m.Contains("c"))
	assert.Equal(t, 1, m.Len())
}

func TestRunPass_ElectsHigherTrophyArena(t *testing.T) {
	m := newTestMatchmaker(DefaultConfig())
	// 990 (arena 3) and 1010 (arena 4): allowed once same-arena is dropped.
	require.NoError(t, m.Enqueue(entry("a", 990, t0)))
	require.NoError(t, m.Enqueue(entry("b", 1010, t0)))

	res := m.RunPass(t0.Add(5 * time.Second))
	assert.Empty(t, res.Matches)

	res = m.RunPass(t0.Add(31 * time.Second))
	require.Len(t, res.Matches, 1)
	assert.Equal(t, 4, res.Matches[0].Arena)
}

func TestRunPass_SuggestsBotAfterThreeCycles(t *testing.T) {
	m := newTestMatchmaker(DefaultConfig())
	require.NoError(t, m.Enqueue(entry("lonely", 1000, t0)))

	res := m.RunPass(t0.Add(59 * time.Second))
	assert.Empty(t, res.Bots)

	res = m.RunPass(t0.Add(61 * time.Second))
	assert.Empty(t, res.Bots)
	res = m.RunPass(t0.Add(63 * time.Second))
	assert.Empty(t, res.Bots)

	res = m.RunPass(t0.Add(65 * time.Second))
	require.Len(t, res.Bots, 1)
	assert.Equal(t, "lonely", res.Bots[0].Entry.SessionID)
	assert.Equal(t, 3, res.Bots[0].Entry.SearchAttempts)
	assert.Equal(t, 65*time.Second, res.Bots[0].Waited)
	assert.False(t, m.Contains("lonely"))
	assert.Equal(t, int64(1), m.Stats(t0).BotSuggestions)
}

// --- Queue Tests ---

func TestEnqueue_RejectsDuplicateSession(t *testing.T) {
	m := newTestMatchmaker(DefaultConfig())
	require.NoError(t, m.Enqueue(entry("a", 1000, t0)))

	err := m.Enqueue(entry("a", 1000, t0))
	assert.ErrorIs(t, err, domain.ErrAlreadySearching())
	assert.Equal(t, 1, m.Len())
}

func TestDequeue(t *testing.T) {
	m := newTestMatchmaker(DefaultConfig())
	require.NoError(t, m.Enqueue(entry("a", 1000, t0)))

	assert.True(t, m.Dequeue("a"))
	assert.False(t, m.Dequeue("a"))
	assert.False(t, m.Contains("a"))
}

// --- History Tests ---

func TestHistory_CappedOldestEvicted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	m := newTestMatchmaker(cfg)

	for i := range 5 {
		require.NoError(t, m.Enqueue(entry(fmt.Sprintf("p%d-a", i), 1000, t0)))
		require.NoError(t, m.Enqueue(entry(fmt.Sprintf("p%d-b", i), 1000, t0)))
		res := m.RunPass(t0.Add(time.Duration(i+1) * time.Second))
		require.Len(t, res.Matches, 1)
	}

	history := m.History()
	require.Len(t, history, 3)
	assert.Equal(t, "p2-a", history[0].PlayerOne.SessionID)
	assert.Equal(t, "p4-a", history[2].PlayerOne.SessionID)
	assert.Equal(t, int64(5), m.Stats(t0).MatchesCreated)
}

func TestEstimateWait(t *testing.T) {
	m := newTestMatchmaker(DefaultConfig())
	assert.Equal(t, 30*time.Second, m.EstimateWait(domain.ModeLadder))

	require.NoError(t, m.Enqueue(entry("a", 1000, t0)))
	require.NoError(t, m.Enqueue(entry("b", 1000, t0.Add(2*time.Second))))
	m.RunPass(t0.Add(6 * time.Second))

	// Waits of 6s and 4s.
	assert.Equal(t, 5*time.Second, m.EstimateWait(domain.ModeLadder))
	assert.Equal(t, 30*time.Second, m.EstimateWait(domain.ModeCasual))

	next := entry("c", 1000, t0)
	require.NoError(t, m.Enqueue(next))
	assert.Equal(t, 5*time.Second, next.EstimatedWait)
}

// --- Criteria Tests ---

func TestRelaxedCriteria(t *testing.T) {
	cfg := DefaultConfig()
	tests := []struct {
		wait       time.Duration
		trophies   int
		levels     int
		sameArena  bool
		sameRegion bool
	}{
		{0, 100, 2, true, true},
		{30 * time.Second, 100, 2, true, true},
		{45 * time.Second, 150, 3, false, true},
		{60 * time.Second, 200, 4, false, true},
		{61 * time.Second, 203, 4, false, false},
		{90 * time.Second, 300, 6, false, false},
		{10 * time.Minute, 300, 6, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.wait.String(), func(t *testing.T) {
			c := cfg.RelaxedCriteria(tt.wait)
			assert.Equal(t, tt.trophies, c.TrophyTolerance)
			assert.Equal(t, tt.levels, c.LevelTolerance)
			assert.Equal(t, tt.sameArena, c.RequireSameArena)
			assert.Equal(t, tt.sameRegion, c.RequireSameRegion)
		})
	}
}

func TestConfig_MultiplierNeverCappedBelowThree(t *testing.T) {
	cfg := Config{MaxToleranceMultiplier: 1.5}.normalize()
	assert.Equal(t, 3.0, cfg.ToleranceMultiplier(time.Hour))

	cfg = Config{MaxToleranceMultiplier: 5}.normalize()
	assert.Equal(t, 5.0, cfg.ToleranceMultiplier(time.Hour))
}

func TestCriteria_RegionMismatch(t *testing.T) {
	a := entry("a", 1000, t0)
	b := entry("b", 1000, t0)
	b.Region = "us"

	assert.False(t, DefaultConfig().RelaxedCriteria(0).Allows(a, b))
	assert.True(t, DefaultConfig().RelaxedCriteria(61*time.Second).Allows(a, b))

	b.Region = ""
	assert.True(t, DefaultConfig().RelaxedCriteria(0).Allows(a, b), "no preference matches anyone")
}

// --- Score Tests ---

func TestScore_MonotonicInCloseness(t *testing.T) {
	base := entry("a", 1000, t0)
	now := t0.Add(time.Second)

	t.Run("trophies", func(t *testing.T) {
		prev := 101.0
		for diff := 0; diff <= 600; diff += 10 {
			other := entry("b", 1000+diff, t0)
			other.Arena = base.Arena
			s := Score(base, other, now)
			assert.LessOrEqual(t, s, prev, "diff %d", diff)
			prev = s
		}
	})

	t.Run("levels", func(t *testing.T) {
		prev := 101.0
		for diff := 0; diff <= 10; diff++ {
			other := entry("b", 1000, t0)
			other.Level = base.Level + diff
			s := Score(base, other, now)
			assert.LessOrEqual(t, s, prev, "diff %d", diff)
			prev = s
		}
	})
}

func TestScore_Bounds(t *testing.T) {
	a := entry("a", 1000, t0)
	b := entry("b", 1000, t0)
	s := Score(a, b, t0.Add(time.Hour))
	assert.InDelta(t, 100.0, s, 1e-9)

	far := entry("c", 5000, t0)
	far.Level, far.WinRate, far.Region = 1, 1, "us"
	assert.GreaterOrEqual(t, Score(a, far, t0), 0.0)
}

func TestWinProbability_Clamped(t *testing.T) {
	strong := entry("a", 4000, t0)
	strong.Level, strong.WinRate = 14, 0.9
	weak := entry("b", 0, t0)
	weak.Level, weak.WinRate = 1, 0.1

	assert.Equal(t, 90.0, WinProbability(strong, weak))
	assert.Equal(t, 10.0, WinProbability(weak, strong))
	assert.Equal(t, 50.0, WinProbability(entry("c", 1000, t0), entry("d", 1000, t0)))
}
