package repository

import (
	"context"
	"time"

	"github.com/sandeepkv93/identity-core/internal/domain"

	"gorm.io/gorm"
)

type OAuthAccountRepository interface {
	FindByProviderAndProviderID(ctx context.Context, provider domain.Provider, providerID string) (*domain.OAuthAccount, error)
	FindByUserIDAndProvider(ctx context.Context, userID domain.UserID, provider domain.Provider) (*domain.OAuthAccount, error)
	ListByUserID(ctx context.Context, userID domain.UserID) ([]domain.OAuthAccount, error)
	Save(ctx context.Context, account *domain.OAuthAccount) error
	DeleteByUserIDAndProvider(ctx context.Context, userID domain.UserID, provider domain.Provider) error
}

type GormOAuthAccountRepository struct{ conn }

func NewOAuthAccountRepository(db *gorm.DB, timeout time.Duration) OAuthAccountRepository {
	return &GormOAuthAccountRepository{conn{db: db, timeout: timeout}}
}

func (r *GormOAuthAccountRepository) FindByProviderAndProviderID(ctx context.Context, provider domain.Provider, providerID string) (*domain.OAuthAccount, error) {
	db, cancel := r.with(ctx)
	defer cancel()
	var a domain.OAuthAccount
	err := db.Where("provider = ? AND provider_id = ?", string(provider), providerID).First(&a).Error
	if err := record(ctx, "oauth_account", "find_by_provider_id", err); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *GormOAuthAccountRepository) FindByUserIDAndProvider(ctx context.Context, userID domain.UserID, provider domain.Provider) (*domain.OAuthAccount, error) {
	db, cancel := r.with(ctx)
	defer cancel()
	var a domain.OAuthAccount
	err := db.Where("user_id = ? AND provider = ?", string(userID), string(provider)).First(&a).Error
	if err := record(ctx, "oauth_account", "find_by_user_provider", err); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *GormOAuthAccountRepository) ListByUserID(ctx context.Context, userID domain.UserID) ([]domain.OAuthAccount, error) {
	db, cancel := r.with(ctx)
	defer cancel()
	var accounts []domain.OAuthAccount
	err := db.Where("user_id = ?", string(userID)).Order("linked_at asc").Find(&accounts).Error
	if err := record(ctx, "oauth_account", "list_by_user", err); err != nil {
		return nil, err
	}
	return accounts, nil
}

// Save inserts a new link. Either uniqueness violation surfaces as ErrDuplicate.
func (r *GormOAuthAccountRepository) Save(ctx context.Context, account *domain.OAuthAccount) error {
	db, cancel := r.with(ctx)
	defer cancel()
	return record(ctx, "oauth_account", "save", db.Create(account).Error)
}

func (r *GormOAuthAccountRepository) DeleteByUserIDAndProvider(ctx context.Context, userID domain.UserID, provider domain.Provider) error {
	db, cancel := r.with(ctx)
	defer cancel()
	err := db.Where("user_id = ? AND provider = ?", string(userID), string(provider)).Delete(&domain.OAuthAccount{}).Error
	return record(ctx, "oauth_account", "delete_by_user_provider", err)
}
