package service

import (
	"context"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/repository"
)

type ProviderLinkService struct {
	users    repository.UserRepository
	accounts repository.OAuthAccountRepository
}

func NewProviderLinkService(users repository.UserRepository, accounts repository.OAuthAccountRepository) *ProviderLinkService {
	return &ProviderLinkService{users: users, accounts: accounts}
}

func (s *ProviderLinkService) List(ctx context.Context, userID domain.UserID) ([]domain.OAuthAccount, error) {
	accounts, err := s.accounts.ListByUserID(ctx, userID)
	if err != nil {
		return nil, repositoryError(err)
	}
	return accounts, nil
}

// Unlink refuses to remove the user's last way to sign in.
func (s *ProviderLinkService) Unlink(ctx context.Context, userID domain.UserID, provider domain.Provider) error {
	user, err := loadUser(ctx, s.users, userID)
	if err != nil {
		return err
	}
	accounts, err := s.accounts.ListByUserID(ctx, userID)
	if err != nil {
		return repositoryError(err)
	}
	linked := false
	for _, a := range accounts {
		if a.Provider == provider {
			linked = true
			break
		}
	}
	if !linked {
		return ErrProviderNotLinked
	}
	if !user.HasPassword() && len(accounts) == 1 {
		return ErrLastLoginMethod
	}
	if err := s.accounts.DeleteByUserIDAndProvider(ctx, userID, provider); err != nil {
		return repositoryError(err)
	}
	return nil
}
