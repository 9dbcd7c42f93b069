package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/observability"
	"github.com/sandeepkv93/identity-core/internal/repository"
	"github.com/sandeepkv93/identity-core/internal/security"
)

// SessionLifecycle creates, validates, refreshes and revokes the records of one session kind.
// R is the pointer type of the record, which exposes the shared metadata.
type SessionLifecycle[ID ~string, T any, R interface {
	*T
	domain.SessionRecord[ID]
}] struct {
	kind   domain.SessionKind
	repo   repository.SessionRepository[ID, T]
	hasher *security.SecretHasher
	now    func() time.Time
}

type (
	LoginSessions              = SessionLifecycle[domain.SessionID, domain.Session, *domain.Session]
	EmailVerificationSessions  = SessionLifecycle[domain.EmailVerificationSessionID, domain.EmailVerificationSession, *domain.EmailVerificationSession]
	PasswordResetSessions      = SessionLifecycle[domain.PasswordResetSessionID, domain.PasswordResetSession, *domain.PasswordResetSession]
	SignupSessions             = SessionLifecycle[domain.SignupSessionID, domain.SignupSession, *domain.SignupSession]
	AccountAssociationSessions = SessionLifecycle[domain.AccountAssociationSessionID, domain.AccountAssociationSession, *domain.AccountAssociationSession]
)

func NewSessionLifecycle[ID ~string, T any, R interface {
	*T
	domain.SessionRecord[ID]
}](kind domain.SessionKind, repo repository.SessionRepository[ID, T], hasher *security.SecretHasher, now func() time.Time) *SessionLifecycle[ID, T, R] {
	if now == nil {
		now = time.Now
	}
	return &SessionLifecycle[ID, T, R]{kind: kind, repo: repo, hasher: hasher, now: now}
}

func (l *SessionLifecycle[ID, T, R]) Kind() domain.SessionKind { return l.kind }

// Prepare assigns a fresh id, secret hash and expiry to rec without persisting it.
func (l *SessionLifecycle[ID, T, R]) Prepare(rec R) (string, error) {
	id, err := security.GenerateID(l.kind.IDPrefix)
	if err != nil {
		return "", err
	}
	secret, err := security.GenerateSecret()
	if err != nil {
		return "", err
	}
	now := l.now().UTC()
	meta := rec.Meta()
	meta.ID = ID(id)
	meta.SecretHash = l.hasher.Hash(secret)
	meta.ExpiresAt = now.Add(l.kind.TTL)
	meta.CreatedAt = now
	return security.FormatToken(id, secret), nil
}

// Create persists rec under a new id and returns the token handed to the client.
func (l *SessionLifecycle[ID, T, R]) Create(ctx context.Context, rec R) (string, error) {
	token, err := l.Prepare(rec)
	if err != nil {
		return "", err
	}
	if err := l.repo.Save(ctx, (*T)(rec)); err != nil {
		return "", repositoryError(err)
	}
	observability.RecordSessionIssued(ctx, l.kind.Name)
	return token, nil
}

// Validate returns the record for token. fresh reports whether the expiry was extended and
// the client should receive the token again.
func (l *SessionLifecycle[ID, T, R]) Validate(ctx context.Context, token string) (R, bool, error) {
	var none R
	id, secret, ok := security.ParseKindToken[ID](token, l.kind.IDPrefix)
	if !ok {
		observability.RecordSessionValidation(ctx, l.kind.Name, "invalid")
		return none, false, ErrInvalidToken
	}
	found, err := l.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			observability.RecordSessionValidation(ctx, l.kind.Name, "not_found")
			return none, false, ErrSessionNotFound
		}
		return none, false, repositoryError(err)
	}
	rec := R(found)
	meta := rec.Meta()
	if !l.hasher.Verify(secret, meta.SecretHash) {
		observability.RecordSessionValidation(ctx, l.kind.Name, "secret_mismatch")
		return none, false, ErrSessionNotFound
	}

	now := l.now().UTC()
	if meta.Expired(now) {
		if err := l.repo.DeleteByID(ctx, id); err != nil {
			return none, false, repositoryError(err)
		}
		observability.RecordSessionValidation(ctx, l.kind.Name, "expired")
		return none, false, ErrSessionExpired
	}
	if l.kind.RefreshWindow > 0 && !now.Before(meta.ExpiresAt.Add(-l.kind.RefreshWindow)) {
		meta.ExpiresAt = now.Add(l.kind.TTL)
		if err := l.repo.Save(ctx, found); err != nil {
			return none, false, repositoryError(err)
		}
		observability.RecordSessionValidation(ctx, l.kind.Name, "refreshed")
		return rec, true, nil
	}
	observability.RecordSessionValidation(ctx, l.kind.Name, "valid")
	return rec, false, nil
}

// Update persists changes to kind-specific fields of an already validated record.
func (l *SessionLifecycle[ID, T, R]) Update(ctx context.Context, rec R) error {
	if err := l.repo.Save(ctx, (*T)(rec)); err != nil {
		return repositoryError(err)
	}
	return nil
}

// Revoke deletes the record. Absent records are not an error.
func (l *SessionLifecycle[ID, T, R]) Revoke(ctx context.Context, id ID) error {
	if err := l.repo.DeleteByID(ctx, id); err != nil {
		return repositoryError(err)
	}
	return nil
}

// Discard revokes a record whose issuance could not complete. A failed delete leaves an
// orphaned pending session until the sweeper removes it, so it is logged rather than returned.
func (l *SessionLifecycle[ID, T, R]) Discard(ctx context.Context, id ID, reason string) {
	if err := l.Revoke(context.WithoutCancel(ctx), id); err != nil {
		slog.WarnContext(ctx, "pending session discard failed",
			"kind", l.kind.Name,
			"session_id", string(id),
			"reason", reason,
			"error", err,
		)
	}
}

func (l *SessionLifecycle[ID, T, R]) RevokeByUser(ctx context.Context, userID domain.UserID) error {
	if err := l.repo.DeleteByUserID(ctx, userID); err != nil {
		return repositoryError(err)
	}
	return nil
}

func (l *SessionLifecycle[ID, T, R]) SweepExpired(ctx context.Context) (int64, error) {
	n, err := l.repo.DeleteExpired(ctx, l.now().UTC())
	if err != nil {
		return 0, repositoryError(err)
	}
	observability.RecordSessionsSwept(ctx, l.kind.Name, n)
	return n, nil
}

// SessionKinds builds the per-kind configuration from process settings.
func SessionKinds(sessionTTL, refreshWindow, oneTimeTTL, associationTTL time.Duration) SessionKindSet {
	return SessionKindSet{
		Login:              domain.SessionKind{Name: "session", IDPrefix: domain.SessionIDPrefix, TTL: sessionTTL, RefreshWindow: refreshWindow},
		EmailVerification:  domain.SessionKind{Name: "email_verification", IDPrefix: domain.EmailVerificationSessionIDPrefix, TTL: oneTimeTTL},
		PasswordReset:      domain.SessionKind{Name: "password_reset", IDPrefix: domain.PasswordResetSessionIDPrefix, TTL: oneTimeTTL},
		Signup:             domain.SessionKind{Name: "signup", IDPrefix: domain.SignupSessionIDPrefix, TTL: oneTimeTTL},
		AccountAssociation: domain.SessionKind{Name: "account_association", IDPrefix: domain.AccountAssociationSessionIDPrefix, TTL: associationTTL},
	}
}

type SessionKindSet struct {
	Login              domain.SessionKind
	EmailVerification  domain.SessionKind
	PasswordReset      domain.SessionKind
	Signup             domain.SessionKind
	AccountAssociation domain.SessionKind
}
