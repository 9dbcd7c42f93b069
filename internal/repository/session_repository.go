package repository

import (
	"context"
	"time"

	"github.com/sandeepkv93/identity-core/internal/domain"

	"gorm.io/gorm"
)

// SessionRepository stores the records of one session kind.
type SessionRepository[ID ~string, T any] interface {
	FindByID(ctx context.Context, id ID) (*T, error)
	Save(ctx context.Context, rec *T) error
	DeleteByID(ctx context.Context, id ID) error
	DeleteByUserID(ctx context.Context, userID domain.UserID) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type GormSessionRepository[ID ~string, T any] struct {
	conn
	entity     string
	userColumn string
}

func newSessionRepository[ID ~string, T any](db *gorm.DB, timeout time.Duration, entity, userColumn string) *GormSessionRepository[ID, T] {
	return &GormSessionRepository[ID, T]{conn: conn{db: db, timeout: timeout}, entity: entity, userColumn: userColumn}
}

func NewSessionRepository(db *gorm.DB, timeout time.Duration) SessionRepository[domain.SessionID, domain.Session] {
	return newSessionRepository[domain.SessionID, domain.Session](db, timeout, "session", "user_id")
}

func NewEmailVerificationSessionRepository(db *gorm.DB, timeout time.Duration) SessionRepository[domain.EmailVerificationSessionID, domain.EmailVerificationSession] {
	return newSessionRepository[domain.EmailVerificationSessionID, domain.EmailVerificationSession](db, timeout, "email_verification_session", "user_id")
}

func NewPasswordResetSessionRepository(db *gorm.DB, timeout time.Duration) SessionRepository[domain.PasswordResetSessionID, domain.PasswordResetSession] {
	return newSessionRepository[domain.PasswordResetSessionID, domain.PasswordResetSession](db, timeout, "password_reset_session", "user_id")
}

// Signup sessions are not owned by a user yet, so DeleteByUserID is a no-op for them.
func NewSignupSessionRepository(db *gorm.DB, timeout time.Duration) SessionRepository[domain.SignupSessionID, domain.SignupSession] {
	return newSessionRepository[domain.SignupSessionID, domain.SignupSession](db, timeout, "signup_session", "")
}

func NewAccountAssociationSessionRepository(db *gorm.DB, timeout time.Duration) SessionRepository[domain.AccountAssociationSessionID, domain.AccountAssociationSession] {
	return newSessionRepository[domain.AccountAssociationSessionID, domain.AccountAssociationSession](db, timeout, "account_association_session", "user_id")
}

func (r *GormSessionRepository[ID, T]) FindByID(ctx context.Context, id ID) (*T, error) {
	db, cancel := r.with(ctx)
	defer cancel()
	var rec T
	if err := record(ctx, r.entity, "find_by_id", db.Where("id = ?", string(id)).First(&rec).Error); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *GormSessionRepository[ID, T]) Save(ctx context.Context, rec *T) error {
	db, cancel := r.with(ctx)
	defer cancel()
	return record(ctx, r.entity, "save", db.Save(rec).Error)
}

// DeleteByID is idempotent.
func (r *GormSessionRepository[ID, T]) DeleteByID(ctx context.Context, id ID) error {
	db, cancel := r.with(ctx)
	defer cancel()
	return record(ctx, r.entity, "delete_by_id", db.Where("id = ?", string(id)).Delete(new(T)).Error)
}

func (r *GormSessionRepository[ID, T]) DeleteByUserID(ctx context.Context, userID domain.UserID) error {
	if r.userColumn == "" {
		return nil
	}
	db, cancel := r.with(ctx)
	defer cancel()
	return record(ctx, r.entity, "delete_by_user_id", db.Where(r.userColumn+" = ?", string(userID)).Delete(new(T)).Error)
}

func (r *GormSessionRepository[ID, T]) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	db, cancel := r.with(ctx)
	defer cancel()
	res := db.Where("expires_at <= ?", now).Delete(new(T))
	if err := record(ctx, r.entity, "delete_expired", res.Error); err != nil {
		return 0, err
	}
	return res.RowsAffected, nil
}
