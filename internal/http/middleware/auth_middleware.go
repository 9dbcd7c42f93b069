package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/identity-core/internal/http/response"
	"github.com/sandeepkv93/identity-core/internal/service"
)

type contextKey string

const (
	SessionContextKey contextKey = "session"

	SessionCookieName = "session_token"
)

// SessionAuthenticator is satisfied by *service.AuthService.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*service.Authenticated, error)
}

// SessionCookies writes the login session cookie.
type SessionCookies struct {
	Secure bool
}

func (c SessionCookies) Set(w http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(time.Until(expiresAt).Seconds()),
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c SessionCookies) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// SessionToken returns the token from the session cookie, falling back to a bearer header.
func SessionToken(r *http.Request) (token, source string) {
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		return c.Value, "cookie"
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return strings.TrimSpace(auth[7:]), "bearer"
	}
	return "", "none"
}

// AuthMiddleware requires a valid login session. When validation moved the expiry, cookie
// clients receive the cookie again.
func AuthMiddleware(auth SessionAuthenticator, cookies SessionCookies) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := SessionToken(r)
			if raw == "" {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing session token", nil)
				return
			}
			authenticated, err := auth.Authenticate(r.Context(), raw)
			if err != nil {
				if source == "cookie" && service.AsError(err).Kind != service.KindRepository {
					cookies.Clear(w)
				}
				response.FromError(w, r, err)
				return
			}
			if authenticated.Fresh && source == "cookie" {
				cookies.Set(w, raw, authenticated.Session.ExpiresAt)
			}
			ctx := context.WithValue(r.Context(), SessionContextKey, authenticated)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func SessionFromContext(ctx context.Context) (*service.Authenticated, bool) {
	a, ok := ctx.Value(SessionContextKey).(*service.Authenticated)
	return a, ok
}
