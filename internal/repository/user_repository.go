package repository

import (
	"context"
	"time"

	"github.com/sandeepkv93/identity-core/internal/domain"

	"gorm.io/gorm"
)

type UserRepository interface {
	FindByID(ctx context.Context, id domain.UserID) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	Update(ctx context.Context, user *domain.User) error
	// Register writes the user, the optional provider link and the first login session in one transaction.
	Register(ctx context.Context, user *domain.User, account *domain.OAuthAccount, session *domain.Session) error
}

type GormUserRepository struct{ conn }

func NewUserRepository(db *gorm.DB, timeout time.Duration) UserRepository {
	return &GormUserRepository{conn{db: db, timeout: timeout}}
}

func (r *GormUserRepository) FindByID(ctx context.Context, id domain.UserID) (*domain.User, error) {
	db, cancel := r.with(ctx)
	defer cancel()
	var u domain.User
	if err := record(ctx, "user", "find_by_id", db.Where("id = ?", string(id)).First(&u).Error); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	db, cancel := r.with(ctx)
	defer cancel()
	var u domain.User
	if err := record(ctx, "user", "find_by_email", db.Where("email = ?", email).First(&u).Error); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	db, cancel := r.with(ctx)
	defer cancel()
	return record(ctx, "user", "create", db.Create(user).Error)
}

func (r *GormUserRepository) Update(ctx context.Context, user *domain.User) error {
	db, cancel := r.with(ctx)
	defer cancel()
	return record(ctx, "user", "update", db.Save(user).Error)
}

func (r *GormUserRepository) Register(ctx context.Context, user *domain.User, account *domain.OAuthAccount, session *domain.Session) error {
	db, cancel := r.with(ctx)
	defer cancel()
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		if account != nil {
			if err := tx.Create(account).Error; err != nil {
				return err
			}
		}
		if session != nil {
			if err := tx.Create(session).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return record(ctx, "user", "register", err)
}
