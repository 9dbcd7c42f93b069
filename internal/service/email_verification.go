package service

import (
	"context"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/repository"
	"github.com/sandeepkv93/identity-core/internal/security"
)

type EmailVerificationService struct {
	users      repository.UserRepository
	sessions   *EmailVerificationSessions
	mailer     Mailer
	limiter    *RateLimiter
	codePolicy RateLimitPolicy
}

func NewEmailVerificationService(users repository.UserRepository, sessions *EmailVerificationSessions, mailer Mailer, limiter *RateLimiter, codePolicy RateLimitPolicy) *EmailVerificationService {
	return &EmailVerificationService{users: users, sessions: sessions, mailer: mailer, limiter: limiter, codePolicy: codePolicy}
}

// Request replaces any pending verification of the user and mails a new code.
func (s *EmailVerificationService) Request(ctx context.Context, userID domain.UserID) (string, error) {
	user, err := loadUser(ctx, s.users, userID)
	if err != nil {
		return "", err
	}
	if user.EmailVerified {
		return "", ErrEmailAlreadyVerified
	}
	code, err := security.GenerateCode()
	if err != nil {
		return "", err
	}
	if err := s.sessions.RevokeByUser(ctx, user.ID); err != nil {
		return "", err
	}
	rec := &domain.EmailVerificationSession{UserID: user.ID, Email: user.Email, Code: code}
	token, err := s.sessions.Create(ctx, rec)
	if err != nil {
		return "", err
	}
	if err := s.mailer.Send(ctx, codeMessage(MailEmailVerification, user.Email, code)); err != nil {
		s.sessions.Discard(ctx, rec.ID, "mail_failed")
		return "", ErrMailUnavailable.wrap(err)
	}
	return token, nil
}

// Confirm marks the address verified. The session must belong to userID and the address must
// not have changed since the code was sent.
func (s *EmailVerificationService) Confirm(ctx context.Context, userID domain.UserID, token, code string) error {
	rec, _, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return ErrSessionNotFound
	}
	if err := checkCode(ctx, s.limiter, s.codePolicy, string(rec.ID), rec.Code, code); err != nil {
		return err
	}
	user, err := loadUser(ctx, s.users, rec.UserID)
	if err != nil {
		return err
	}
	if user.Email != rec.Email {
		s.sessions.Discard(ctx, rec.ID, "email_changed")
		return ErrSessionNotFound
	}
	user.EmailVerified = true
	if err := s.users.Update(ctx, user); err != nil {
		return repositoryError(err)
	}
	return s.sessions.Revoke(ctx, rec.ID)
}
