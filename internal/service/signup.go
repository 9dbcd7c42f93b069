package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/repository"
	"github.com/sandeepkv93/identity-core/internal/security"
)

type SignupService struct {
	users      repository.UserRepository
	signups    *SignupSessions
	sessions   *LoginSessions
	mailer     Mailer
	limiter    *RateLimiter
	codePolicy RateLimitPolicy
}

func NewSignupService(
	users repository.UserRepository,
	signups *SignupSessions,
	sessions *LoginSessions,
	mailer Mailer,
	limiter *RateLimiter,
	codePolicy RateLimitPolicy,
) *SignupService {
	return &SignupService{users: users, signups: signups, sessions: sessions, mailer: mailer, limiter: limiter, codePolicy: codePolicy}
}

func (s *SignupService) Request(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	if !validEmail(email) {
		return "", ErrInvalidEmail
	}
	if err := s.ensureEmailFree(ctx, email); err != nil {
		return "", err
	}
	code, err := security.GenerateCode()
	if err != nil {
		return "", err
	}
	rec := &domain.SignupSession{Email: email, Code: code}
	token, err := s.signups.Create(ctx, rec)
	if err != nil {
		return "", err
	}
	if err := s.mailer.Send(ctx, codeMessage(MailSignup, email, code)); err != nil {
		s.signups.Discard(ctx, rec.ID, "mail_failed")
		return "", ErrMailUnavailable.wrap(err)
	}
	return token, nil
}

func (s *SignupService) VerifyEmail(ctx context.Context, token, code string) error {
	rec, _, err := s.signups.Validate(ctx, token)
	if err != nil {
		return err
	}
	if err := checkCode(ctx, s.limiter, s.codePolicy, string(rec.ID), rec.Code, code); err != nil {
		return err
	}
	rec.EmailVerified = true
	return s.signups.Update(ctx, rec)
}

// Confirm creates the user and its first login session in one write.
func (s *SignupService) Confirm(ctx context.Context, token, name, password string) (*LoginResult, error) {
	rec, _, err := s.signups.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	if !rec.EmailVerified {
		return nil, ErrEmailNotVerified
	}
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 255 {
		return nil, ErrInvalidUserInput
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordPolicy) {
			return nil, ErrPasswordPolicy
		}
		return nil, err
	}
	user := &domain.User{
		ID:            domain.UserID(uuid.NewString()),
		Email:         rec.Email,
		EmailVerified: true,
		Name:          name,
		PasswordHash:  &hash,
	}
	session := &domain.Session{UserID: user.ID}
	sessionToken, err := s.sessions.Prepare(session)
	if err != nil {
		return nil, err
	}
	if err := s.users.Register(ctx, user, nil, session); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, repositoryError(err)
	}
	if err := s.signups.Revoke(ctx, rec.ID); err != nil {
		return nil, err
	}
	return &LoginResult{User: user, SessionToken: sessionToken, SessionExpiresAt: session.ExpiresAt}, nil
}

func (s *SignupService) ensureEmailFree(ctx context.Context, email string) error {
	_, err := s.users.FindByEmail(ctx, email)
	switch {
	case err == nil:
		return ErrEmailAlreadyRegistered
	case errors.Is(err, repository.ErrNotFound):
		return nil
	default:
		return repositoryError(err)
	}
}

func validEmail(email string) bool {
	if email == "" || len(email) > 320 {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
