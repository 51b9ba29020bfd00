package repository

import (
	"context"
	"errors"

	"github.com/crownarena/server/internal/domain"
	"github.com/jackc/pgx/v5"
)

// PgAccountRepository implements AccountRepository using pgx.
type PgAccountRepository struct{}

// NewPgAccountRepository creates a new PgAccountRepository.
func NewPgAccountRepository() *PgAccountRepository {
	return &PgAccountRepository{}
}

// FindByUserID returns an account, or nil if not found.
func (r *PgAccountRepository) FindByUserID(ctx context.Context, db DBTX, userID string) (*domain.Identity, error) {
	row := db.QueryRow(ctx,
		`SELECT a.user_id, a.username, a.level, a.trophies, a.banned,
		        COALESCE(s.wins, 0), COALESCE(s.losses, 0)
		 FROM accounts a
		 LEFT JOIN player_stats s ON s.user_id = a.user_id
		 WHERE a.user_id = $1`, userID)

	id := &domain.Identity{}
	err := row.Scan(&id.UserID, &id.Username, &id.Level, &id.Trophies, &id.Banned, &id.Wins, &id.Losses)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return id, nil
}
