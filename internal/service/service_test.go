package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

// fakeTx satisfies pgx.Tx; repositories in these tests never touch it.
type fakeTx struct {
	pgx.Tx
	db *fakeDB
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.db.mu.Lock()
	defer tx.db.mu.Unlock()
	tx.db.commits++
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error { return nil }

type fakeDB struct {
	mu      sync.Mutex
	commits int
}

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	return &fakeTx{db: db}, nil
}

type outcomeCall struct {
	userID  string
	outcome domain.Outcome
	delta   int
}

type fakeResultRepo struct {
	mu       sync.Mutex
	failures int
	stored   map[string]bool
	inserts  int
	outcomes []outcomeCall
}

func (r *fakeResultRepo) Insert(_ context.Context, _ repository.DBTX, res domain.BattleResult) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserts++
	if r.failures > 0 {
		r.failures--
		return false, errors.New("connection reset")
	}
	if r.stored == nil {
		r.stored = map[string]bool{}
	}
	if r.stored[res.BattleID] {
		return false, nil
	}
	r.stored[res.BattleID] = true
	return true, nil
}

func (r *fakeResultRepo) ApplyOutcome(_ context.Context, _ repository.DBTX, userID string, o domain.Outcome, delta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcomeCall{userID, o, delta})
	return nil
}

type fakeOutbox struct {
	mu     sync.Mutex
	drafts []domain.OutboxDraft
}

func (o *fakeOutbox) Insert(_ context.Context, _ repository.DBTX, d domain.OutboxDraft) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drafts = append(o.drafts, d)
	return nil
}

func (o *fakeOutbox) FetchUnpublished(context.Context, repository.DBTX, int) ([]domain.OutboxRow, error) {
	return nil, nil
}

func (o *fakeOutbox) MarkPublished(context.Context, repository.DBTX, []int64) error { return nil }

type published struct {
	topic      string
	key, value []byte
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, topic string, key, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, published{topic, key, value})
	return nil
}

type fakeAccountRepo struct {
	accounts map[string]domain.Identity
	err      error
}

func (r *fakeAccountRepo) FindByUserID(_ context.Context, _ repository.DBTX, userID string) (*domain.Identity, error) {
	if r.err != nil {
		return nil, r.err
	}
	id, ok := r.accounts[userID]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

type fakeCardRepo struct {
	cards map[string]domain.CardStats
}

func (r *fakeCardRepo) FindByID(_ context.Context, _ repository.DBTX, id string) (*domain.CardStats, error) {
	c, ok := r.cards[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *fakeCardRepo) ListAll(context.Context, repository.DBTX) ([]domain.CardStats, error) {
	out := make([]domain.CardStats, 0, len(r.cards))
	for _, c := range r.cards {
		out = append(out, c)
	}
	return out, nil
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func finished(battleID string) domain.BattleResult {
	return domain.BattleResult{
		BattleID:         battleID,
		MatchID:          "m-" + battleID,
		Winner:           "s1",
		WinnerUserID:     "u1",
		LoserUserID:      "u2",
		WinningSide:      "blue",
		Condition:        domain.ConditionTowers,
		Duration:         95 * time.Second,
		Participants:     []string{"s1", "s2"},
		ParticipantUsers: []string{"u1", "u2"},
	}
}

type resultHarness struct {
	svc     *ResultService
	db      *fakeDB
	results *fakeResultRepo
	outbox  *fakeOutbox
	clock   *clockwork.FakeClock
}

func newResultHarness(failures int) *resultHarness {
	h := &resultHarness{
		db:      &fakeDB{},
		results: &fakeResultRepo{failures: failures},
		outbox:  &fakeOutbox{},
		clock:   clockwork.NewFakeClock(),
	}
	h.svc = NewResultService(h.db, h.results, h.outbox, h.clock, ResultConfig{
		Attempts:    3,
		Backoff:     250 * time.Millisecond,
		TrophyDelta: 30,
	}, testLogger())
	return h
}

// --- ResultService Tests ---

func TestResultService_Record(t *testing.T) {
	h := newResultHarness(0)
	require.NoError(t, h.svc.Record(context.Background(), finished("b1")))

	assert.Equal(t, 1, h.db.commits)
	assert.Equal(t, []outcomeCall{
		{"u1", domain.OutcomeWin, 30},
		{"u2", domain.OutcomeLoss, -30},
	}, h.results.outcomes)

	require.Len(t, h.outbox.drafts, 1)
	draft := h.outbox.drafts[0]
	assert.Equal(t, domain.EventBattleFinished, draft.EventType)
	assert.Equal(t, "b1", draft.AggregateID)
	var body domain.BattleResult
	require.NoError(t, json.Unmarshal(draft.Payload, &body))
	assert.Equal(t, "u1", body.WinnerUserID)
}

func TestResultService_DrawKeepsTrophies(t *testing.T) {
	h := newResultHarness(0)
	res := finished("b1")
	res.Winner = domain.DrawWinner
	res.WinnerUserID, res.LoserUserID = "", ""
	require.NoError(t, h.svc.Record(context.Background(), res))

	assert.Equal(t, []outcomeCall{
		{"u1", domain.OutcomeDraw, 0},
		{"u2", domain.OutcomeDraw, 0},
	}, h.results.outcomes)
}

func TestResultService_RecordsOnce(t *testing.T) {
	h := newResultHarness(0)
	ctx := context.Background()
	require.NoError(t, h.svc.Record(ctx, finished("b1")))
	require.NoError(t, h.svc.Record(ctx, finished("b1")))

	assert.Equal(t, 1, h.results.inserts)
	assert.Len(t, h.outbox.drafts, 1)
}

func TestResultService_AlreadyStoredSkipsStats(t *testing.T) {
	h := newResultHarness(0)
	h.results.stored = map[string]bool{"b1": true}
	require.NoError(t, h.svc.Record(context.Background(), finished("b1")))

	assert.Empty(t, h.results.outcomes)
	assert.Empty(t, h.outbox.drafts)
	assert.Equal(t, 0, h.db.commits)
}

func TestResultService_RetriesWithBackoff(t *testing.T) {
	h := newResultHarness(2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- h.svc.Record(ctx, finished("b1")) }()

	for _, wait := range []time.Duration{250 * time.Millisecond, 500 * time.Millisecond} {
		require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
		h.clock.Advance(wait)
	}
	require.NoError(t, <-errc)
	assert.Equal(t, 3, h.results.inserts)
	assert.Equal(t, 1, h.db.commits)
}

func TestResultService_GivesUpAfterAttempts(t *testing.T) {
	h := newResultHarness(10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- h.svc.Record(ctx, finished("b1")) }()

	for range 2 {
		require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
		h.clock.Advance(time.Second)
	}
	err := <-errc
	assert.ErrorIs(t, err, domain.ErrPersistenceFailed(nil))
	assert.Equal(t, 3, h.results.inserts)

	// The battle id is released so a later submission can try again.
	h.results.failures = 0
	require.NoError(t, h.svc.Record(ctx, finished("b1")))
	assert.Equal(t, 1, h.db.commits)
}

func TestResultService_SubmitAndWait(t *testing.T) {
	h := newResultHarness(0)
	h.svc.Submit(finished("b1"))
	h.svc.Submit(finished("b2"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Wait(ctx))
	assert.Equal(t, 2, h.db.commits)
}

// --- AccountService Tests ---

func TestAccountService_LoadProfile(t *testing.T) {
	repo := &fakeAccountRepo{accounts: map[string]domain.Identity{
		"u1": {UserID: "u1", Username: "ana", Trophies: 1200, Wins: 10},
	}}
	svc := NewAccountService(nil, repo)

	id, err := svc.LoadProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1200, id.Trophies)

	_, err = svc.LoadProfile(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound("", ""))

	repo.err = errors.New("db down")
	_, err = svc.LoadProfile(context.Background(), "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound("", ""))
}

// --- CardSource Tests ---

func TestCardSource(t *testing.T) {
	src := NewCardSource(nil, &fakeCardRepo{cards: map[string]domain.CardStats{
		"knight": {ID: "knight", Cost: 3},
	}})

	card, err := src.Card(context.Background(), "knight")
	require.NoError(t, err)
	assert.Equal(t, 3, card.Cost)

	_, err = src.Card(context.Background(), "dragon")
	assert.ErrorIs(t, err, domain.ErrCardNotFound(""))

	all, err := src.All(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

// --- BotService Tests ---

func TestBotService_SuggestBot(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 18, 1, 0, 0, time.UTC))
	pub := &fakePublisher{}
	svc := NewBotService(pub, "arena.matchmaking.bot_suggested", clock)

	entry := domain.QueueEntry{
		SessionID:  "s1",
		UserID:     "u1",
		Trophies:   900,
		GameMode:   domain.ModeLadder,
		Region:     "eu",
		EnqueuedAt: clock.Now().Add(-61 * time.Second),
	}
	require.NoError(t, svc.SuggestBot(context.Background(), entry))

	require.Len(t, pub.msgs, 1)
	msg := pub.msgs[0]
	assert.Equal(t, "arena.matchmaking.bot_suggested", msg.topic)
	assert.Equal(t, "u1", string(msg.key))

	var body BotSuggested
	require.NoError(t, json.Unmarshal(msg.value, &body))
	assert.Equal(t, domain.EventBotSuggested, body.EventType)
	assert.Equal(t, int64(61000), body.WaitedMs)

	pub.err = errors.New("broker down")
	assert.Error(t, svc.SuggestBot(context.Background(), entry))
}
