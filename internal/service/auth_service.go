package service

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/observability"
	"github.com/sandeepkv93/identity-core/internal/repository"
	"github.com/sandeepkv93/identity-core/internal/security"
)

type LoginResult struct {
	User             *domain.User
	SessionToken     string
	SessionExpiresAt time.Time
}

// Authenticated is a validated login session. Fresh means the expiry moved and the token
// should be sent to the client again.
type Authenticated struct {
	Session *domain.Session
	Token   string
	Fresh   bool
}

type AuthService struct {
	users       repository.UserRepository
	sessions    *LoginSessions
	limiter     *RateLimiter
	emailPolicy RateLimitPolicy
}

func NewAuthService(users repository.UserRepository, sessions *LoginSessions, limiter *RateLimiter, emailPolicy RateLimitPolicy) *AuthService {
	return &AuthService{users: users, sessions: sessions, limiter: limiter, emailPolicy: emailPolicy}
}

// PasswordLogin checks the per-email bucket before touching credentials. Unknown emails and
// wrong passwords return the same error after the same amount of work.
func (s *AuthService) PasswordLogin(ctx context.Context, email, password string) (*LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	if err := s.limiter.Check(ctx, email, s.emailPolicy); err != nil {
		observability.RecordAuthAttempt(ctx, "password", "rate_limited")
		return nil, err
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, repositoryError(err)
		}
		security.ComparePlaceholder(password)
		observability.RecordAuthAttempt(ctx, "password", "invalid")
		return nil, ErrInvalidCredentials
	}
	if !user.HasPassword() {
		security.ComparePlaceholder(password)
		observability.RecordAuthAttempt(ctx, "password", "invalid")
		return nil, ErrInvalidCredentials
	}
	if !security.ComparePassword(*user.PasswordHash, password) {
		observability.RecordAuthAttempt(ctx, "password", "invalid")
		return nil, ErrInvalidCredentials
	}
	res, err := issueLogin(ctx, s.sessions, user)
	if err != nil {
		return nil, err
	}
	observability.RecordAuthAttempt(ctx, "password", "success")
	return res, nil
}

func (s *AuthService) Authenticate(ctx context.Context, token string) (*Authenticated, error) {
	session, fresh, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	return &Authenticated{Session: session, Token: token, Fresh: fresh}, nil
}

// Logout revokes the session behind token. Tokens that no longer validate are already logged out.
func (s *AuthService) Logout(ctx context.Context, token string) error {
	session, _, err := s.sessions.Validate(ctx, token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired) || errors.Is(err, ErrInvalidToken) {
			return nil
		}
		return err
	}
	return s.sessions.Revoke(ctx, session.ID)
}

func (s *AuthService) LogoutAll(ctx context.Context, userID domain.UserID) error {
	return s.sessions.RevokeByUser(ctx, userID)
}

func (s *AuthService) CurrentUser(ctx context.Context, userID domain.UserID) (*domain.User, error) {
	return loadUser(ctx, s.users, userID)
}

func issueLogin(ctx context.Context, sessions *LoginSessions, user *domain.User) (*LoginResult, error) {
	session := &domain.Session{UserID: user.ID}
	token, err := sessions.Create(ctx, session)
	if err != nil {
		return nil, err
	}
	return &LoginResult{User: user, SessionToken: token, SessionExpiresAt: session.ExpiresAt}, nil
}

// checkCode compares a submitted one-time code after charging the per-session bucket.
func checkCode(ctx context.Context, limiter *RateLimiter, policy RateLimitPolicy, key, expected, given string) error {
	if err := limiter.Check(ctx, key, policy); err != nil {
		return err
	}
	if given == "" || !security.EqualConstantTime(expected, given) {
		return ErrInvalidCode
	}
	return nil
}

func loadUser(ctx context.Context, users repository.UserRepository, id domain.UserID) (*domain.User, error) {
	user, err := users.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, repositoryError(err)
	}
	return user, nil
}
