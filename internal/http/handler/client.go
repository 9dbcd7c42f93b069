package handler

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/http/middleware"
	"github.com/sandeepkv93/identity-core/internal/http/response"
	"github.com/sandeepkv93/identity-core/internal/service"
)

const (
	stateCookieName       = "oauth_state"
	verifierCookieName    = "oauth_code_verifier"
	associationCookieName = "association_token"
	oauthCookiePath       = "/api/v1/auth"
	oauthCookieTTL        = 10 * time.Minute
)

// ClientConfig controls where browser and app clients land after a provider redirect.
type ClientConfig struct {
	WebBaseURL   string
	MobileScheme string
	CookieSecure bool
}

func (c ClientConfig) sessionCookies() middleware.SessionCookies {
	return middleware.SessionCookies{Secure: c.CookieSecure}
}

// landing builds the client URL for a finished callback. Mobile clients get values in the
// fragment so they never reach a server log.
func (c ClientConfig) landing(client domain.ClientType, values url.Values) string {
	if client == domain.ClientTypeMobile {
		return strings.TrimRight(c.MobileScheme, "/") + "/auth/callback#" + values.Encode()
	}
	target := strings.TrimRight(c.WebBaseURL, "/") + "/auth/callback"
	if len(values) > 0 {
		target += "?" + values.Encode()
	}
	return target
}

func (c ClientConfig) setShortCookie(w http.ResponseWriter, name, value, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(oauthCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (c ClientConfig) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	if c, err := r.Cookie(name); err == nil {
		return c.Value
	}
	return ""
}

// writeLogin finishes a login for either client type. Web clients get the cookie only.
func (c ClientConfig) writeLogin(w http.ResponseWriter, r *http.Request, status int, client domain.ClientType, res *service.LoginResult) {
	body := sessionResponse{UserID: string(res.User.ID), ExpiresAt: res.SessionExpiresAt.Unix()}
	if client == domain.ClientTypeMobile {
		body.Token = res.SessionToken
	} else {
		c.sessionCookies().Set(w, res.SessionToken, res.SessionExpiresAt)
	}
	response.JSON(w, r, status, body)
}

// clientType reads the client from the route or the X-Client-Type header, defaulting to web.
func clientType(r *http.Request, raw string) (domain.ClientType, bool) {
	if raw == "" {
		raw = r.Header.Get("X-Client-Type")
	}
	if raw == "" {
		return domain.ClientTypeWeb, true
	}
	ct, err := domain.ParseClientType(raw)
	return ct, err == nil
}
