package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crownarena/server/internal/domain"
)

// PgResultRepository implements ResultRepository using pgx.
type PgResultRepository struct{}

// NewPgResultRepository creates a new PgResultRepository.
func NewPgResultRepository() *PgResultRepository {
	return &PgResultRepository{}
}

// Insert stores a battle result keyed by battle id.
func (r *PgResultRepository) Insert(ctx context.Context, db DBTX, res domain.BattleResult) (bool, error) {
	crowns, err := json.Marshal(res.Crowns)
	if err != nil {
		return false, fmt.Errorf("marshal crowns: %w", err)
	}
	tag, err := db.Exec(ctx, `
		INSERT INTO battle_results
		  (battle_id, match_id, winner, winner_user_id, loser_user_id, winning_side,
		   condition, duration_ms, crowns, participants, participant_users, finished_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, $8, $9, $10, $11, $12)
		ON CONFLICT (battle_id) DO NOTHING`,
		res.BattleID,
		res.MatchID,
		res.Winner,
		res.WinnerUserID,
		res.LoserUserID,
		res.WinningSide,
		string(res.Condition),
		res.Duration.Milliseconds(),
		crowns,
		res.Participants,
		res.ParticipantUsers,
		res.FinishedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert battle result: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ApplyOutcome uses server-side arithmetic so concurrent results never lose updates.
func (r *PgResultRepository) ApplyOutcome(ctx context.Context, db DBTX, userID string, outcome domain.Outcome, trophyDelta int) error {
	var wins, losses, draws int
	switch outcome {
	case domain.OutcomeWin:
		wins = 1
	case domain.OutcomeLoss:
		losses = 1
	default:
		draws = 1
	}
	_, err := db.Exec(ctx, `
		INSERT INTO player_stats (user_id, wins, losses, draws, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (user_id) DO UPDATE SET
		  wins = player_stats.wins + EXCLUDED.wins,
		  losses = player_stats.losses + EXCLUDED.losses,
		  draws = player_stats.draws + EXCLUDED.draws,
		  updated_at = now()`,
		userID, wins, losses, draws)
	if err != nil {
		return fmt.Errorf("upsert player stats: %w", err)
	}
	if trophyDelta == 0 {
		return nil
	}
	_, err = db.Exec(ctx,
		`UPDATE accounts SET trophies = GREATEST(trophies + $2, 0), updated_at = now() WHERE user_id = $1`,
		userID, trophyDelta)
	if err != nil {
		return fmt.Errorf("update trophies: %w", err)
	}
	return nil
}
