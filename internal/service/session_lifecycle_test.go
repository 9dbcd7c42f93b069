package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/repository"
	"github.com/sandeepkv93/identity-core/internal/security"
)

func TestSessionLifecycleCreateAndValidate(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	token, err := h.sessions.Create(ctx, &domain.Session{UserID: "u1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id, secret, ok := security.ParseToken(token)
	if !ok || !strings.HasPrefix(id, domain.SessionIDPrefix) {
		t.Fatalf("unexpected token shape %q", token)
	}
	stored, err := h.sessionRepo.FindByID(ctx, domain.SessionID(id))
	if err != nil {
		t.Fatalf("find stored: %v", err)
	}
	if string(stored.SecretHash) == secret || !h.hasher.Verify(secret, stored.SecretHash) {
		t.Fatal("stored hash must verify the secret and differ from it")
	}
	if !stored.ExpiresAt.Equal(h.clock.Now().Add(domain.DefaultSessionTTL)) {
		t.Fatalf("unexpected expiry %v", stored.ExpiresAt)
	}

	rec, fresh, err := h.sessions.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if fresh || rec.UserID != "u1" {
		t.Fatalf("unexpected validation result fresh=%v user=%s", fresh, rec.UserID)
	}
}

func TestSessionLifecycleRefreshBoundary(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	token, err := h.sessions.Create(ctx, &domain.Session{UserID: "u1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	created := h.clock.Now()
	saves := h.sessionRepo.saveCount()

	// One second before the refresh window opens.
	h.clock.Advance(domain.DefaultSessionTTL - domain.DefaultSessionRefreshWindow - time.Second)
	rec, fresh, err := h.sessions.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate outside window: %v", err)
	}
	if fresh || !rec.ExpiresAt.Equal(created.Add(domain.DefaultSessionTTL)) {
		t.Fatalf("expected untouched session, fresh=%v expires=%v", fresh, rec.ExpiresAt)
	}
	if h.sessionRepo.saveCount() != saves {
		t.Fatal("validation outside the refresh window must not write")
	}

	// expiresAt is now refreshWindow - 1s away.
	h.clock.Advance(2 * time.Second)
	rec, fresh, err = h.sessions.Validate(ctx, token)
	if err != nil {
		t.Fatalf("validate inside window: %v", err)
	}
	want := h.clock.Now().Add(domain.DefaultSessionTTL)
	if !fresh || !rec.ExpiresAt.Equal(want) {
		t.Fatalf("expected refresh to %v, fresh=%v expires=%v", want, fresh, rec.ExpiresAt)
	}
	stored, err := h.sessionRepo.FindByID(ctx, rec.ID)
	if err != nil || !stored.ExpiresAt.Equal(want) {
		t.Fatalf("refreshed expiry not persisted: %+v err=%v", stored, err)
	}
}

func TestSessionLifecycleExpiredIsDeleted(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	token, err := h.sessions.Create(ctx, &domain.Session{UserID: "u1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id, _, _ := security.ParseKindToken[domain.SessionID](token, domain.SessionIDPrefix)

	h.clock.Advance(domain.DefaultSessionTTL + time.Second)
	if _, _, err := h.sessions.Validate(ctx, token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expired, got %v", err)
	}
	if _, err := h.sessionRepo.FindByID(ctx, id); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expired session must be deleted, got %v", err)
	}
	if _, _, err := h.sessions.Validate(ctx, token); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found after deletion, got %v", err)
	}
}

func TestSessionLifecycleRejectsBadTokens(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	token, err := h.sessions.Create(ctx, &domain.Session{UserID: "u1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id, _, _ := security.ParseToken(token)
	assocToken, err := h.associations.Create(ctx, &domain.AccountAssociationSession{UserID: "u1", Email: "a@example.com", Provider: domain.ProviderGoogle, ProviderID: "g"})
	if err != nil {
		t.Fatalf("create association: %v", err)
	}

	cases := []struct {
		name  string
		token string
		want  error
	}{
		{"empty", "", ErrInvalidToken},
		{"no separator", id, ErrInvalidToken},
		{"other kind", assocToken, ErrInvalidToken},
		{"wrong secret", security.FormatToken(id, "wrongsecret"), ErrSessionNotFound},
		{"unknown id", security.FormatToken(domain.SessionIDPrefix+"missing", "secret"), ErrSessionNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := h.sessions.Validate(ctx, tc.token); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if h.sessionRepo.len() != 1 {
		t.Fatal("rejected tokens must not delete live sessions")
	}
}

func TestSessionLifecycleOneTimeKindDoesNotRefresh(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	token, err := h.associations.Create(ctx, &domain.AccountAssociationSession{UserID: "u1", Email: "a@example.com", Provider: domain.ProviderGoogle, ProviderID: "g"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	h.clock.Advance(domain.DefaultOneTimeSessionTTL - time.Second)
	_, fresh, err := h.associations.Validate(ctx, token)
	if err != nil || fresh {
		t.Fatalf("expected valid non-refreshed record, fresh=%v err=%v", fresh, err)
	}
	h.clock.Advance(time.Second)
	if _, _, err := h.associations.Validate(ctx, token); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expiry at exactly expiresAt, got %v", err)
	}
}

func TestSessionLifecycleRevokeAndSweep(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	t1, _ := h.sessions.Create(ctx, &domain.Session{UserID: "u1"})
	_, _ = h.sessions.Create(ctx, &domain.Session{UserID: "u1"})
	_, _ = h.sessions.Create(ctx, &domain.Session{UserID: "u2"})

	id, _, _ := security.ParseKindToken[domain.SessionID](t1, domain.SessionIDPrefix)
	if err := h.sessions.Revoke(ctx, id); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := h.sessions.Revoke(ctx, id); err != nil {
		t.Fatalf("revoke must be idempotent: %v", err)
	}
	if err := h.sessions.RevokeByUser(ctx, "u1"); err != nil {
		t.Fatalf("revoke by user: %v", err)
	}
	if h.sessionRepo.len() != 1 {
		t.Fatalf("expected only u2 session left, got %d", h.sessionRepo.len())
	}

	h.clock.Advance(domain.DefaultSessionTTL)
	n, err := h.sessions.SweepExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 swept, got %d err=%v", n, err)
	}
}

func TestSweeperSweepsAllKinds(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, _ = h.sessions.Create(ctx, &domain.Session{UserID: "u1"})
	_, _ = h.associations.Create(ctx, &domain.AccountAssociationSession{UserID: "u1", Email: "a@example.com", Provider: domain.ProviderGoogle, ProviderID: "g"})
	_, _ = h.signups.Create(ctx, &domain.SignupSession{Email: "b@example.com", Code: "12345678"})

	h.clock.Advance(time.Hour)
	sweeper := NewSweeper(time.Minute, discardLogger(), h.sessions, h.associations, h.signups, h.resets, h.emailVerify)
	counts, err := sweeper.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if counts["session"] != 0 || counts["account_association"] != 1 || counts["signup"] != 1 {
		t.Fatalf("unexpected sweep counts %v", counts)
	}
}
