package service

import (
	"context"
	"fmt"

	"github.com/crownarena/server/internal/domain"
	"github.com/crownarena/server/internal/repository"
)

// AccountService reads account profiles for the world hub.
type AccountService struct {
	db       repository.DBTX
	accounts repository.AccountRepository
}

// NewAccountService creates an AccountService.
func NewAccountService(db repository.DBTX, accounts repository.AccountRepository) *AccountService {
	return &AccountService{db: db, accounts: accounts}
}

// LoadProfile returns the stored identity of userID, or a NotFound error for
// users who have never finished a battle.
func (s *AccountService) LoadProfile(ctx context.Context, userID string) (domain.Identity, error) {
	id, err := s.accounts.FindByUserID(ctx, s.db, userID)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("find account: %w", err)
	}
	if id == nil {
		return domain.Identity{}, domain.ErrNotFound("account", userID)
	}
	return *id, nil
}
