package service

import (
	"context"
	"errors"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/repository"
	"github.com/sandeepkv93/identity-core/internal/security"
)

type PasswordResetService struct {
	users      repository.UserRepository
	resets     *PasswordResetSessions
	sessions   *LoginSessions
	mailer     Mailer
	limiter    *RateLimiter
	codePolicy RateLimitPolicy
}

func NewPasswordResetService(
	users repository.UserRepository,
	resets *PasswordResetSessions,
	sessions *LoginSessions,
	mailer Mailer,
	limiter *RateLimiter,
	codePolicy RateLimitPolicy,
) *PasswordResetService {
	return &PasswordResetService{users: users, resets: resets, sessions: sessions, mailer: mailer, limiter: limiter, codePolicy: codePolicy}
}

// Request always returns a well-formed token so callers cannot tell whether the email exists.
// For unknown emails the token is never stored and fails validation.
func (s *PasswordResetService) Request(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return "", ErrInvalidEmail
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return "", repositoryError(err)
		}
		return decoyToken(domain.PasswordResetSessionIDPrefix)
	}
	code, err := security.GenerateCode()
	if err != nil {
		return "", err
	}
	if err := s.resets.RevokeByUser(ctx, user.ID); err != nil {
		return "", err
	}
	rec := &domain.PasswordResetSession{UserID: user.ID, Email: user.Email, Code: code}
	token, err := s.resets.Create(ctx, rec)
	if err != nil {
		return "", err
	}
	if err := s.mailer.Send(ctx, codeMessage(MailPasswordReset, user.Email, code)); err != nil {
		s.resets.Discard(ctx, rec.ID, "mail_failed")
		return "", ErrMailUnavailable.wrap(err)
	}
	return token, nil
}

func (s *PasswordResetService) VerifyEmail(ctx context.Context, token, code string) error {
	rec, _, err := s.resets.Validate(ctx, token)
	if err != nil {
		return err
	}
	if err := checkCode(ctx, s.limiter, s.codePolicy, string(rec.ID), rec.Code, code); err != nil {
		return err
	}
	rec.EmailVerified = true
	return s.resets.Update(ctx, rec)
}

// Reset sets the new password, signs the user out everywhere and returns a fresh login session.
func (s *PasswordResetService) Reset(ctx context.Context, token, newPassword string) (*LoginResult, error) {
	rec, _, err := s.resets.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if !rec.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	hash, err := security.HashPassword(newPassword)
	if err != nil {
		if errors.Is(err, security.ErrPasswordPolicy) {
			return nil, ErrPasswordPolicy
		}
		return nil, err
	}
	user, err := loadUser(ctx, s.users, rec.UserID)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = &hash
	user.EmailVerified = true
	if err := s.users.Update(ctx, user); err != nil {
		return nil, repositoryError(err)
	}
	if err := s.sessions.RevokeByUser(ctx, user.ID); err != nil {
		return nil, err
	}
	if err := s.resets.RevokeByUser(ctx, user.ID); err != nil {
		return nil, err
	}
	return issueLogin(ctx, s.sessions, user)
}

func decoyToken(prefix string) (string, error) {
	id, err := security.GenerateID(prefix)
	if err != nil {
		return "", err
	}
	secret, err := security.GenerateSecret()
	if err != nil {
		return "", err
	}
	return security.FormatToken(id, secret), nil
}
