package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/guard"
	"github.com/crownarena/server/internal/repository"
	"github.com/jackc/pgx/v5"
	"github.com/jonboulle/clockwork"
)

const resultBreakerKey = "battle_results"

// TxBeginner starts transactions. *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ResultConfig tunes result persistence.
type ResultConfig struct {
	Attempts    int
	Backoff     time.Duration
	TrophyDelta int
	Timeout     time.Duration
}

// ResultService persists finished battles: the result row, both players'
// stats and a battle.finished outbox event, in one transaction.
type ResultService struct {
	db      TxBeginner
	results repository.ResultRepository
	outbox  repository.OutboxRepository
	clock   clockwork.Clock
	breaker *guard.CircuitBreaker
	seen    *guard.IdempotencyGuard
	cfg     ResultConfig
	logger  *slog.Logger

	wg sync.WaitGroup
}

// NewResultService creates a ResultService.
func NewResultService(
	db TxBeginner,
	results repository.ResultRepository,
	outbox repository.OutboxRepository,
	clock clockwork.Clock,
	cfg ResultConfig,
	logger *slog.Logger,
) *ResultService {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 250 * time.Millisecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ResultService{
		db:      db,
		results: results,
		outbox:  outbox,
		clock:   clock,
		breaker: guard.NewCircuitBreaker(clock, 5, 30*time.Second),
		seen:    guard.NewIdempotencyGuard(clock, time.Hour),
		cfg:     cfg,
		logger:  logger.With("component", "results"),
	}
}

// Submit records res in the background. The caller never waits on storage.
func (s *ResultService) Submit(res domain.BattleResult) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
		defer cancel()
		if err := s.Record(ctx, res); err != nil {
			s.logger.Error("battle result lost", "battle_id", res.BattleID, "error", err)
		}
	}()
}

// Wait blocks until in-flight submissions finish or ctx ends.
func (s *ResultService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record persists res with retries and exponential backoff. A battle id is
// recorded at most once.
func (s *ResultService) Record(ctx context.Context, res domain.BattleResult) error {
	if g := s.seen.Check(ctx, res.BattleID); !g.Allowed {
		s.logger.Debug("battle result already submitted", "battle_id", res.BattleID)
		return nil
	}

	backoff := s.cfg.Backoff
	var err error
	for attempt := 1; ; attempt++ {
		if g := s.breaker.Check(ctx, resultBreakerKey); !g.Allowed {
			err = errors.New(g.Reason)
		} else if err = s.record(ctx, res); err == nil {
			s.breaker.RecordSuccess(resultBreakerKey)
			return nil
		} else {
			s.breaker.RecordFailure(resultBreakerKey)
		}

		s.logger.Warn("record battle result failed",
			"battle_id", res.BattleID,
			"attempt", attempt,
			"error", err,
		)
		if attempt >= s.cfg.Attempts {
			break
		}
		if werr := s.sleep(ctx, backoff); werr != nil {
			err = werr
			break
		}
		backoff *= 2
	}

	// Let a later resubmission try again.
	s.seen.Remove(res.BattleID)
	return domain.ErrPersistenceFailed(err)
}

func (s *ResultService) sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-s.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ResultService) record(ctx context.Context, res domain.BattleResult) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := s.results.Insert(ctx, tx, res)
	if err != nil {
		return err
	}
	if !inserted {
		s.logger.Info("battle result already stored", "battle_id", res.BattleID)
		return nil
	}

	for _, userID := range res.ParticipantUsers {
		if userID == "" {
			continue
		}
		outcome := res.OutcomeFor(userID)
		if err := s.results.ApplyOutcome(ctx, tx, userID, outcome, s.trophyDelta(outcome)); err != nil {
			return err
		}
	}

	draft, err := domain.NewOutboxDraft(domain.AggregateBattle, res.BattleID, domain.EventBattleFinished, res, s.clock.Now())
	if err != nil {
		return fmt.Errorf("build outbox draft: %w", err)
	}
	if err := s.outbox.Insert(ctx, tx, draft); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.logger.Info("battle result stored", "battle_id", res.BattleID, "winner", res.Winner)
	return nil
}

func (s *ResultService) trophyDelta(o domain.Outcome) int {
	switch o {
	case domain.OutcomeWin:
		return s.cfg.TrophyDelta
	case domain.OutcomeLoss:
		return -s.cfg.TrophyDelta
	}
	return 0
}
