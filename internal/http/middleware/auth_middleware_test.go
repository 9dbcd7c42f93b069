package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/service"
)

type stubAuthenticator struct {
	fresh bool
	err   error
	seen  string
}

func (s *stubAuthenticator) Authenticate(_ context.Context, token string) (*service.Authenticated, error) {
	s.seen = token
	if s.err != nil {
		return nil, s.err
	}
	session := &domain.Session{UserID: "u1"}
	session.ExpiresAt = time.Now().Add(time.Hour)
	return &service.Authenticated{Session: session, Token: token, Fresh: s.fresh}, nil
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a, ok := SessionFromContext(r.Context())
		if !ok || a.Session.UserID != "u1" {
			t.Fatalf("session missing from context")
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthMiddlewareMissingTokenReturnsUnauthorized(t *testing.T) {
	h := AuthMiddleware(&stubAuthenticator{}, SessionCookies{})(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing token, got %d", rr.Code)
	}
}

func TestAuthMiddlewareValidBearerTokenPasses(t *testing.T) {
	auth := &stubAuthenticator{fresh: true}
	h := AuthMiddleware(auth, SessionCookies{})(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer ses_abc.secret")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for valid token, got %d", rr.Code)
	}
	if auth.seen != "ses_abc.secret" {
		t.Fatalf("unexpected token passed through: %q", auth.seen)
	}
	if rr.Header().Get("Set-Cookie") != "" {
		t.Fatal("bearer clients must not receive a cookie")
	}
}

func TestAuthMiddlewareRefreshesFreshCookie(t *testing.T) {
	h := AuthMiddleware(&stubAuthenticator{fresh: true}, SessionCookies{Secure: true})(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "ses_abc.secret"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value != "ses_abc.secret" || !cookies[0].HttpOnly || !cookies[0].Secure {
		t.Fatalf("expected refreshed session cookie, got %+v", cookies)
	}
}

func TestAuthMiddlewareExpiredSessionClearsCookie(t *testing.T) {
	h := AuthMiddleware(&stubAuthenticator{err: service.ErrSessionExpired}, SessionCookies{})(okHandler(t))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "ses_abc.secret"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired session, got %d", rr.Code)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", cookies)
	}
}
