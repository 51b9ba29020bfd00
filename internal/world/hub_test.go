package world

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/crownarena/server/internal/battle"
	"github.com/crownarena/server/internal/catalog"
	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/matchmaking"
	"github.com/crownarena/server/internal/protocol"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	epoch    = time.Date(2026, 5, 4, 18, 0, 0, 0, time.UTC)
	testDeck = []string{"knight", "archers", "giant", "fireball", "musketeer", "skeletons", "arrows", "cannon"}
	euLadder = domain.SearchPreferences{GameMode: domain.ModeLadder, Region: "eu"}
)

type sentMsg struct {
	to   string
	typ  string
	data any
}

type recorder struct {
	mu     sync.Mutex
	msgs   []sentMsg
	closed map[string]int
}

func (r *recorder) Send(to, typ string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, sentMsg{to: to, typ: typ, data: data})
}

func (r *recorder) Disconnect(id string, code int, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed == nil {
		r.closed = make(map[string]int)
	}
	r.closed[id] = code
}

func (r *recorder) last(to, typ string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.msgs) - 1; i >= 0; i-- {
		if r.msgs[i].to == to && r.msgs[i].typ == typ {
			return r.msgs[i].data, true
		}
	}
	return nil, false
}

func (r *recorder) closeCode(id string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.closed[id]
	return code, ok
}

type fakeAccounts struct {
	profiles map[string]domain.Identity
	err      error
}

func (f *fakeAccounts) LoadProfile(_ context.Context, userID string) (domain.Identity, error) {
	if f.err != nil {
		return domain.Identity{}, f.err
	}
	p, ok := f.profiles[userID]
	if !ok {
		return domain.Identity{}, domain.ErrNotFound("account", userID)
	}
	return p, nil
}

type fakeBots struct {
	mu      sync.Mutex
	entries []domain.QueueEntry
}

func (f *fakeBots) SuggestBot(_ context.Context, e domain.QueueEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

type fakeResults struct {
	mu      sync.Mutex
	results []domain.BattleResult
}

func (f *fakeResults) Submit(res domain.BattleResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, res)
}

func (f *fakeResults) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.results)
}

type world struct {
	hub      *Hub
	notifier *recorder
	battles  *recorder
	bots     *fakeBots
	results  *fakeResults
	clock    *clockwork.FakeClock
}

func newWorld(t *testing.T, accounts AccountStore) *world {
	t.Helper()
	clock := clockwork.NewFakeClockAt(epoch)
	logger := slog.New(slog.DiscardHandler)
	w := &world{
		notifier: &recorder{},
		battles:  &recorder{},
		bots:     &fakeBots{},
		results:  &fakeResults{},
		clock:    clock,
	}
	w.hub = New(DefaultConfig(), battle.DefaultConfig(), matchmaking.New(matchmaking.DefaultConfig(), logger), Deps{
		Notifier: w.notifier,
		Battles:  w.battles,
		Catalog:  catalog.NewCache(catalog.NewStaticSource(catalog.DefaultCards), clock, catalog.CacheConfig{}, logger),
		Accounts: accounts,
		Bots:     w.bots,
		Results:  w.results,
		Clock:    clock,
		Logger:   logger,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = w.hub.Shutdown(ctx)
	})
	return w
}

func (w *world) join(t *testing.T, sessionID string, trophies int) {
	t.Helper()
	_, err := w.hub.Join(context.Background(), sessionID, domain.Identity{
		UserID: "user-" + sessionID, Username: sessionID, Level: 5, Trophies: trophies,
	})
	require.NoError(t, err)
}

func (w *world) status(t *testing.T, sessionID string) domain.PlayerStatus {
	t.Helper()
	rec, ok := w.hub.Player(sessionID)
	require.True(t, ok)
	return rec.Status
}

// matched puts two players into a battle and returns its id.
func (w *world) matched(t *testing.T, a, b string, trophiesA, trophiesB int) string {
	t.Helper()
	w.join(t, a, trophiesA)
	w.join(t, b, trophiesB)
	require.NoError(t, w.hub.RequestSearch(context.Background(), a, testDeck, euLadder))
	require.NoError(t, w.hub.RequestSearch(context.Background(), b, testDeck, euLadder))
	res := w.hub.MatchmakingPass(w.clock.Now())
	require.Len(t, res.Matches, 1)
	return res.Matches[0].BattleID
}

// --- Roster Tests ---

func TestHub_Join(t *testing.T) {
	w := newWorld(t, nil)
	rec, err := w.hub.Join(context.Background(), "s1", domain.Identity{UserID: "u1", Username: "ana", Trophies: 1200})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusIdle, rec.Status)
	assert.Equal(t, 4, rec.Arena)

	data, ok := w.notifier.last("s1", protocol.MsgPlayerProfile)
	require.True(t, ok)
	assert.Equal(t, "ana", data.(protocol.PlayerProfile).Player.Username)

	_, err = w.hub.Join(context.Background(), "s1", domain.Identity{UserID: "u1"})
	assert.ErrorIs(t, err, domain.ErrDuplicateSession(""))
}

func TestHub_JoinOneSessionPerUser(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()
	_, err := w.hub.Join(ctx, "s1", domain.Identity{UserID: "u1", Username: "ana"})
	require.NoError(t, err)

	_, err = w.hub.Join(ctx, "s2", domain.Identity{UserID: "u1", Username: "ana"})
	assert.ErrorIs(t, err, domain.ErrDuplicateSession(""))
	_, ok := w.hub.Player("s2")
	assert.False(t, ok)

	// A failed second login must not release the first session's claim.
	w.hub.Leave("s2")
	_, err = w.hub.Join(ctx, "s3", domain.Identity{UserID: "u1"})
	assert.ErrorIs(t, err, domain.ErrDuplicateSession(""))

	w.hub.Leave("s1")
	_, err = w.hub.Join(ctx, "s3", domain.Identity{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 1, w.hub.Stats().Online)
}

func TestHub_JoinUsesAccountStore(t *testing.T) {
	accounts := &fakeAccounts{profiles: map[string]domain.Identity{
		"u1":     {UserID: "u1", Username: "stored", Trophies: 2100, Wins: 7, Losses: 3},
		"banned": {UserID: "banned", Banned: true},
	}}

	t.Run("profile", func(t *testing.T) {
		w := newWorld(t, accounts)
		rec, err := w.hub.Join(context.Background(), "s1", domain.Identity{UserID: "u1", Username: "token"})
		require.NoError(t, err)
		assert.Equal(t, "stored", rec.Username)
		assert.Equal(t, 2100, rec.Trophies)
		assert.InDelta(t, 0.7, rec.WinRate(), 1e-9)
	})
	t.Run("banned", func(t *testing.T) {
		w := newWorld(t, accounts)
		_, err := w.hub.Join(context.Background(), "s1", domain.Identity{UserID: "banned"})
		assert.ErrorIs(t, err, domain.ErrBanned())
		_, ok := w.hub.Player("s1")
		assert.False(t, ok)
	})
	t.Run("unknown account plays with token identity", func(t *testing.T) {
		w := newWorld(t, accounts)
		rec, err := w.hub.Join(context.Background(), "s1", domain.Identity{UserID: "new", Username: "fresh"})
		require.NoError(t, err)
		assert.Equal(t, "fresh", rec.Username)
	})
	t.Run("store down", func(t *testing.T) {
		w := newWorld(t, &fakeAccounts{err: errors.New("connection refused")})
		_, err := w.hub.Join(context.Background(), "s1", domain.Identity{UserID: "u1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "load profile")
	})
}

func TestHub_LeaveWhileSearchingDequeues(t *testing.T) {
	w := newWorld(t, nil)
	w.join(t, "s1", 1000)
	require.NoError(t, w.hub.RequestSearch(context.Background(), "s1", testDeck, euLadder))
	assert.Equal(t, 1, w.hub.Stats().QueueSize)

	w.hub.Leave("s1")
	w.hub.Leave("s1")

	assert.Equal(t, 0, w.hub.Stats().QueueSize)
	assert.Equal(t, 0, w.hub.Stats().Online)
}

func TestHub_Heartbeat(t *testing.T) {
	w := newWorld(t, nil)
	w.join(t, "s1", 0)
	w.clock.Advance(5 * time.Minute)

	now, err := w.hub.Heartbeat("s1")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(5*time.Minute), now)

	data, ok := w.notifier.last("s1", protocol.MsgHeartbeatAck)
	require.True(t, ok)
	assert.Equal(t, now.UnixMilli(), data.(protocol.HeartbeatAck).ServerTime)

	_, err = w.hub.Heartbeat("ghost")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound(""))
}

func TestHub_Leaderboard(t *testing.T) {
	w := newWorld(t, nil)
	w.join(t, "low", 100)
	w.join(t, "high", 2500)
	w.join(t, "mid", 1200)

	board := w.hub.Leaderboard(0)
	require.Len(t, board, 3)
	assert.Equal(t, []int{2500, 1200, 100}, []int{board[0].Trophies, board[1].Trophies, board[2].Trophies})

	assert.Len(t, w.hub.Leaderboard(2), 2)
	assert.Len(t, w.hub.Leaderboard(1000), 3)
}

func TestHub_ArenaInfo(t *testing.T) {
	w := newWorld(t, nil)
	w.join(t, "s1", 1050)

	info, err := w.hub.ArenaInfo("s1")
	require.NoError(t, err)
	assert.Equal(t, 4, info.Arena.ID)
	require.NotNil(t, info.Next)
	assert.Equal(t, 1300, info.Next.MinTrophies)
	assert.Equal(t, 1, info.OnlineCount)
}

func TestHub_UpdateStatus(t *testing.T) {
	w := newWorld(t, nil)
	w.join(t, "s1", 0)

	assert.NoError(t, w.hub.UpdateStatus("s1", domain.StatusIdle), "same status is a no-op")
	assert.ErrorIs(t, w.hub.UpdateStatus("s1", domain.StatusInBattle), domain.ErrInvalidStatusTransition("", ""))
	assert.ErrorIs(t, w.hub.UpdateStatus("s1", "dancing"), domain.ErrValidation(""))

	require.NoError(t, w.hub.RequestSearch(context.Background(), "s1", testDeck, euLadder))
	require.NoError(t, w.hub.UpdateStatus("s1", domain.StatusIdle))
	assert.Equal(t, domain.StatusIdle, w.status(t, "s1"))
	_, ok := w.notifier.last("s1", protocol.MsgSearchCancelled)
	assert.True(t, ok)
	_, ok = w.notifier.last("s1", protocol.MsgStatusUpdated)
	assert.True(t, ok)
}

func TestHub_SweepRemovesInactive(t *testing.T) {
	w := newWorld(t, nil)
	w.join(t, "sleepy", 0)
	w.clock.Advance(9 * time.Minute)
	w.join(t, "fresh", 0)

	assert.Zero(t, w.hub.Sweep(w.clock.Now()))
	w.clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, w.hub.Sweep(w.clock.Now()))

	_, ok := w.hub.Player("sleepy")
	assert.False(t, ok)
	code, ok := w.notifier.closeCode("sleepy")
	require.True(t, ok)
	assert.Equal(t, protocol.CloseInactive, code)
	_, ok = w.hub.Player("fresh")
	assert.True(t, ok)
}

func TestHub_RegisterJobsRunsPassAndSweep(t *testing.T) {
	w := newWorld(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w.join(t, "sleepy", 1000)
	w.clock.Advance(11 * time.Minute)
	w.join(t, "a", 1000)
	w.join(t, "b", 1000)
	require.NoError(t, w.hub.RequestSearch(ctx, "a", testDeck, euLadder))
	require.NoError(t, w.hub.RequestSearch(ctx, "b", testDeck, euLadder))

	s, err := gocron.NewScheduler(gocron.WithClock(w.clock))
	require.NoError(t, err)
	require.NoError(t, w.hub.RegisterJobs(s))
	s.Start()
	t.Cleanup(func() { _ = s.Shutdown() })

	require.NoError(t, w.clock.BlockUntilContext(ctx, 2))
	w.clock.Advance(2 * time.Second)
	require.Eventually(t, func() bool {
		return w.hub.Stats().MatchesCreated == 1
	}, 2*time.Second, 10*time.Millisecond)
	_, ok := w.hub.Player("sleepy")
	assert.True(t, ok, "sweep waits for its own interval")

	w.clock.Advance(time.Minute)
	require.Eventually(t, func() bool {
		_, closed := w.notifier.closeCode("sleepy")
		return closed
	}, 2*time.Second, 10*time.Millisecond)
	code, _ := w.notifier.closeCode("sleepy")
	assert.Equal(t, protocol.CloseInactive, code)
	_, ok = w.hub.Player("sleepy")
	assert.False(t, ok)
}

// --- Search Tests ---

func TestHub_RequestSearch(t *testing.T) {
	w := newWorld(t, nil)
	w.join(t, "s1", 1000)

	require.NoError(t, w.hub.RequestSearch(context.Background(), "s1", testDeck, euLadder))
	assert.Equal(t, domain.StatusSearching, w.status(t, "s1"))
	data, ok := w.notifier.last("s1", protocol.MsgSearchStarted)
	require.True(t, ok)
	assert.Equal(t, 30, data.(protocol.SearchStarted).EstimatedTime)

	err := w.hub.RequestSearch(context.Background(), "s1", testDeck, euLadder)
	assert.ErrorIs(t, err, domain.ErrAlreadySearching())
}

func TestHub_RequestSearchNormalizesDeck(t *testing.T) {
	w := newWorld(t, nil)
	w.join(t, "s1", 1000)
	w.join(t, "s2", 1000)

	shouting := make([]string, len(testDeck))
	for i, id := range testDeck {
		shouting[i] = strings.ToUpper(id)
	}
	require.NoError(t, w.hub.RequestSearch(context.Background(), "s1", shouting, euLadder))
	require.NoError(t, w.hub.RequestSearch(context.Background(), "s2", testDeck, euLadder))

	res := w.hub.MatchmakingPass(w.clock.Now())
	require.Len(t, res.Matches, 1)
	assert.Equal(t, testDeck, res.Matches[0].PlayerOne.Deck)
	assert.Equal(t, testDeck, res.Matches[0].PlayerTwo.Deck)
}

func TestHub_RequestSearchInvalidDeck(t *testing.T) {
	tests := []struct {
		name string
		deck []string
	}{
		{"seven cards", testDeck[:7]},
		{"duplicate", append(append([]string{}, testDeck[:7]...), "knight")},
		{"duplicate in another case", append(append([]string{}, testDeck[:7]...), "KNIGHT")},
		{"unknown card", append(append([]string{}, testDeck[:7]...), "dragon")},
		{"locked card", append(append([]string{}, testDeck[:7]...), "prince")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWorld(t, nil)
			w.join(t, "s1", 100)
			err := w.hub.RequestSearch(context.Background(), "s1", tt.deck, euLadder)
			assert.ErrorIs(t, err, domain.ErrInvalidDeck(""))
			assert.Equal(t, domain.StatusIdle, w.status(t, "s1"))
		})
	}
}

func TestHub_CancelSearch(t *testing.T) {
	w := newWorld(t, nil)
	w.join(t, "s1", 1000)

	assert.ErrorIs(t, w.hub.CancelSearch("s1"), domain.ErrNothingToCancel())

	require.NoError(t, w.hub.RequestSearch(context.Background(), "s1", testDeck, euLadder))
	require.NoError(t, w.hub.CancelSearch("s1"))
	assert.Equal(t, domain.StatusIdle, w.status(t, "s1"))
	assert.Equal(t, 0, w.hub.Stats().QueueSize)
}

// --- Matchmaking Tests ---

func TestHub_MatchSpawnsBattle(t *testing.T) {
	w := newWorld(t, nil)
	battleID := w.matched(t, "s1", "s2", 1000, 1010)

	for _, id := range []string{"s1", "s2"} {
		rec, ok := w.hub.Player(id)
		require.True(t, ok)
		assert.Equal(t, domain.StatusInBattle, rec.Status)
		assert.Equal(t, battleID, rec.BattleID)

		data, ok := w.notifier.last(id, protocol.MsgMatchFound)
		require.True(t, ok)
		found := data.(protocol.MatchFound)
		assert.Equal(t, battleID, found.BattleRoomID)
		assert.Equal(t, 3, found.Countdown)
	}
	data, _ := w.notifier.last("s1", protocol.MsgMatchFound)
	assert.Equal(t, "s2", data.(protocol.MatchFound).Opponent.Username)

	sess, ok := w.hub.Battle(battleID)
	require.True(t, ok)
	assert.True(t, sess.IsParticipant("s1"))

	st := w.hub.Stats()
	assert.Equal(t, 2, st.InBattle)
	assert.Equal(t, 1, st.ActiveBattles)
	assert.EqualValues(t, 1, st.MatchesCreated)

	err := w.hub.RequestSearch(context.Background(), "s1", testDeck, euLadder)
	assert.ErrorIs(t, err, domain.ErrAlreadyInBattle())
}

func TestHub_MatchWithDepartedPlayerRequeuesSurvivor(t *testing.T) {
	w := newWorld(t, nil)
	w.join(t, "s1", 1000)
	w.join(t, "s2", 1000)
	require.NoError(t, w.hub.RequestSearch(context.Background(), "s1", testDeck, euLadder))
	require.NoError(t, w.hub.RequestSearch(context.Background(), "s2", testDeck, euLadder))

	// Simulate a departure racing the pass: the record goes, the entry stays.
	w.hub.mu.Lock()
	delete(w.hub.players, "s2")
	w.hub.mu.Unlock()

	res := w.hub.MatchmakingPass(w.clock.Now())
	require.Len(t, res.Matches, 1)
	assert.Equal(t, domain.StatusSearching, w.status(t, "s1"))
	assert.Equal(t, 1, w.hub.Stats().QueueSize)
	assert.Zero(t, w.hub.Stats().ActiveBattles)
}

func TestHub_SearchTimeoutSuggestsBot(t *testing.T) {
	w := newWorld(t, nil)
	w.join(t, "lonely", 1000)
	require.NoError(t, w.hub.RequestSearch(context.Background(), "lonely", testDeck, euLadder))

	for _, at := range []time.Duration{61, 63, 65} {
		w.hub.MatchmakingPass(epoch.Add(at * time.Second))
	}

	assert.Equal(t, domain.StatusIdle, w.status(t, "lonely"))
	data, ok := w.notifier.last("lonely", protocol.MsgSearchTimeout)
	require.True(t, ok)
	assert.True(t, data.(protocol.SearchTimeout).SuggestBot)
	require.Len(t, w.bots.entries, 1)
	assert.Equal(t, "lonely", w.bots.entries[0].SessionID)
}

// --- Result Tests ---

func TestHub_ForfeitUpdatesTrophies(t *testing.T) {
	w := newWorld(t, nil)
	battleID := w.matched(t, "s1", "s2", 1000, 1010)
	sess, ok := w.hub.Battle(battleID)
	require.True(t, ok)

	require.NoError(t, sess.Join(context.Background(), "s1"))
	require.NoError(t, sess.Join(context.Background(), "s2"))
	sess.Forfeit("s2")

	require.Eventually(t, func() bool { return w.results.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	winner, _ := w.hub.Player("s1")
	loser, _ := w.hub.Player("s2")
	assert.Equal(t, domain.StatusIdle, winner.Status)
	assert.Equal(t, 1030, winner.Trophies)
	assert.Equal(t, 1, winner.Wins)
	assert.Equal(t, 980, loser.Trophies)
	assert.Equal(t, 1, loser.Losses)
	assert.Empty(t, loser.BattleID)

	_, ok = w.battles.last("s1", protocol.MsgBattleEnded)
	assert.True(t, ok)
}

func TestHub_BattleEndedFloorsTrophiesAndSkipsDraws(t *testing.T) {
	w := newWorld(t, nil)
	battleID := w.matched(t, "s1", "s2", 10, 20)

	w.hub.BattleEnded(domain.BattleResult{
		BattleID:     battleID,
		Winner:       "s1",
		Participants: []string{"s1", "s2"},
		FinishedAt:   w.clock.Now(),
	})

	loser, _ := w.hub.Player("s2")
	assert.Zero(t, loser.Trophies)
	winner, _ := w.hub.Player("s1")
	assert.Equal(t, 40, winner.Trophies)

	w2 := newWorld(t, nil)
	drawID := w2.matched(t, "a", "b", 500, 500)
	w2.hub.BattleEnded(domain.BattleResult{
		BattleID:     drawID,
		Winner:       domain.DrawWinner,
		Participants: []string{"a", "b"},
	})
	for _, id := range []string{"a", "b"} {
		rec, _ := w2.hub.Player(id)
		assert.Equal(t, 500, rec.Trophies)
		assert.Equal(t, domain.StatusIdle, rec.Status)
	}
}

func TestHub_LeaveBeforeBattleStartsVoids(t *testing.T) {
	w := newWorld(t, nil)
	battleID := w.matched(t, "s1", "s2", 1000, 1000)
	sess, _ := w.hub.Battle(battleID)
	require.NoError(t, sess.Join(context.Background(), "s2"))

	w.hub.Leave("s1")

	require.Eventually(t, func() bool {
		rec, _ := w.hub.Player("s2")
		return rec.Status == domain.StatusIdle
	}, 2*time.Second, 5*time.Millisecond)
	rec, _ := w.hub.Player("s2")
	assert.Equal(t, 1000, rec.Trophies)
	assert.Zero(t, w.results.count())
	_, ok := w.battles.last("s2", protocol.MsgBattleVoided)
	assert.True(t, ok)
}
