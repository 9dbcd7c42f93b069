package service

import (
	"context"
	"time"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/repository"
)

type AssociationPreview struct {
	Email     string          `json:"email"`
	Provider  domain.Provider `json:"provider"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// AccountAssociationService completes the linkable outcomes of a provider callback.
type AccountAssociationService struct {
	users        repository.UserRepository
	associations *AccountAssociationSessions
	sessions     *LoginSessions
	linker       *AccountLinker
	limiter      *RateLimiter
	codePolicy   RateLimitPolicy
}

func NewAccountAssociationService(
	users repository.UserRepository,
	associations *AccountAssociationSessions,
	sessions *LoginSessions,
	linker *AccountLinker,
	limiter *RateLimiter,
	codePolicy RateLimitPolicy,
) *AccountAssociationService {
	return &AccountAssociationService{users: users, associations: associations, sessions: sessions, linker: linker, limiter: limiter, codePolicy: codePolicy}
}

// Preview does not consume the pending link.
func (s *AccountAssociationService) Preview(ctx context.Context, token string) (*AssociationPreview, error) {
	rec, _, err := s.associations.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	return &AssociationPreview{Email: rec.Email, Provider: rec.Provider, ExpiresAt: rec.ExpiresAt}, nil
}

func (s *AccountAssociationService) Confirm(ctx context.Context, token, code string) (*LoginResult, error) {
	rec, _, err := s.associations.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := checkCode(ctx, s.limiter, s.codePolicy, string(rec.ID), rec.Code, code); err != nil {
		return nil, err
	}
	if err := s.linker.linkToUser(ctx, rec.UserID, rec.Provider, rec.ProviderID); err != nil {
		return nil, err
	}
	if err := s.associations.Revoke(ctx, rec.ID); err != nil {
		return nil, err
	}
	user, err := loadUser(ctx, s.users, rec.UserID)
	if err != nil {
		return nil, err
	}
	return issueLogin(ctx, s.sessions, user)
}
