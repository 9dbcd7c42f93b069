package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/http/handler"
	"github.com/sandeepkv93/identity-core/internal/repository"
	"github.com/sandeepkv93/identity-core/internal/security"
	"github.com/sandeepkv93/identity-core/internal/service"
)

type stubGateway struct{}

func (stubGateway) Provider() domain.Provider { return domain.ProviderGoogle }

func (stubGateway) AuthorizationURL(state, _, redirectURL string) string {
	return "https://provider.test/authorize?" + url.Values{"state": {state}, "redirect_uri": {redirectURL}}.Encode()
}

func (stubGateway) ExchangeCode(context.Context, string, string, string) (domain.ProviderTokens, error) {
	return domain.ProviderTokens{AccessToken: "access"}, nil
}

func (stubGateway) FetchAccountInfo(context.Context, string) (*domain.ProviderAccountInfo, error) {
	return &domain.ProviderAccountInfo{ProviderID: "g-1", Email: "oauth@example.com", EmailVerified: true, Name: "OAuth User"}, nil
}

func (stubGateway) RevokeToken(context.Context, string) error { return nil }

func loosePolicy(scope string) service.RateLimitPolicy {
	return service.RateLimitPolicy{Scope: scope, MaxTokens: 1000, RefillRate: 1000, RefillInterval: time.Minute, Cost: 1}
}

type routerEnv struct {
	srv   *httptest.Server
	users repository.UserRepository
}

func newRouterEnv(t *testing.T, policies Policies, readiness func(context.Context) error, opts ...func(*Dependencies)) *routerEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	db, err := repository.Open("file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared", nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	hasher, err := security.NewSecretHasher(strings.Repeat("p", 32))
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	codec, err := security.NewSignedStateCodec(strings.Repeat("s", 32))
	if err != nil {
		t.Fatalf("codec: %v", err)
	}

	kinds := service.SessionKinds(domain.DefaultSessionTTL, domain.DefaultSessionRefreshWindow, domain.DefaultOneTimeSessionTTL, domain.DefaultOneTimeSessionTTL)
	login := service.NewSessionLifecycle[domain.SessionID, domain.Session, *domain.Session](
		kinds.Login, repository.NewSessionRepository(db, time.Second), hasher, nil)
	verify := service.NewSessionLifecycle[domain.EmailVerificationSessionID, domain.EmailVerificationSession, *domain.EmailVerificationSession](
		kinds.EmailVerification, repository.NewEmailVerificationSessionRepository(db, time.Second), hasher, nil)
	resets := service.NewSessionLifecycle[domain.PasswordResetSessionID, domain.PasswordResetSession, *domain.PasswordResetSession](
		kinds.PasswordReset, repository.NewPasswordResetSessionRepository(db, time.Second), hasher, nil)
	signups := service.NewSessionLifecycle[domain.SignupSessionID, domain.SignupSession, *domain.SignupSession](
		kinds.Signup, repository.NewSignupSessionRepository(db, time.Second), hasher, nil)
	associations := service.NewSessionLifecycle[domain.AccountAssociationSessionID, domain.AccountAssociationSession, *domain.AccountAssociationSession](
		kinds.AccountAssociation, repository.NewAccountAssociationSessionRepository(db, time.Second), hasher, nil)

	users := repository.NewUserRepository(db, time.Second)
	accounts := repository.NewOAuthAccountRepository(db, time.Second)
	limiter := service.NewRateLimiter(service.NewMemoryBucketStore(time.Minute, nil), service.FailClosed, nil)
	mailer := service.NewLogMailer(logger)
	linker := service.NewAccountLinker(users, accounts, login, associations, mailer, logger)
	oauth := service.NewOAuthFlowCoordinator([]service.OAuthProviderGateway{stubGateway{}}, codec, linker, "http://api.test", time.Second, logger)
	auth := service.NewAuthService(users, login, limiter, loosePolicy("login_email"))
	code := loosePolicy("code")
	clients := handler.ClientConfig{WebBaseURL: "https://app.test", MobileScheme: "identity://app"}

	authHandler := handler.NewAuthHandler(
		oauth,
		auth,
		service.NewSignupService(users, signups, login, mailer, limiter, code),
		service.NewPasswordResetService(users, resets, login, mailer, limiter, code),
		service.NewAccountAssociationService(users, associations, login, linker, limiter, code),
		clients,
	)
	userHandler := handler.NewUserHandler(auth, service.NewProviderLinkService(users, accounts), service.NewEmailVerificationService(users, verify, mailer, limiter, code), oauth, clients)

	if readiness == nil {
		readiness = func(ctx context.Context) error { return repository.Ping(ctx, db) }
	}
	dep := Dependencies{
		AuthHandler: authHandler,
		UserHandler: userHandler,
		Sessions:    auth,
		Limiter:     limiter,
		Policies:    policies,
		Readiness:   readiness,
	}
	for _, opt := range opts {
		opt(&dep)
	}
	srv := httptest.NewServer(NewRouter(dep))
	t.Cleanup(srv.Close)
	return &routerEnv{srv: srv, users: users}
}

func defaultPolicies() Policies {
	return Policies{OAuth: loosePolicy("oauth"), Login: loosePolicy("login"), Signup: loosePolicy("signup"), Me: loosePolicy("me")}
}

func (e *routerEnv) addPasswordUser(t *testing.T, email, password string) {
	t.Helper()
	hash, err := security.HashPassword(password)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := e.users.Create(context.Background(), &domain.User{ID: "user-1", Email: email, EmailVerified: true, Name: "Pat", PasswordHash: &hash}); err != nil {
		t.Fatalf("create user: %v", err)
	}
}

func (e *routerEnv) do(t *testing.T, method, path, body string, mutate func(*http.Request)) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(req)
	}
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeEnvelope(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var env map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func cookieNamed(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHealthEndpoints(t *testing.T) {
	env := newRouterEnv(t, defaultPolicies(), nil)
	if resp := env.do(t, http.MethodGet, "/health/live", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected live 200, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/health/ready", "", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready 200, got %d", resp.StatusCode)
	}
}

func TestReadinessFailureReturns503(t *testing.T) {
	env := newRouterEnv(t, defaultPolicies(), func(context.Context) error { return errors.New("db down") })
	resp := env.do(t, http.MethodGet, "/health/ready", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
	body := decodeEnvelope(t, resp)
	if body["success"] != false {
		t.Fatalf("expected failure envelope, got %v", body)
	}
}

func TestMeRequiresSession(t *testing.T) {
	env := newRouterEnv(t, defaultPolicies(), nil)
	resp := env.do(t, http.MethodGet, "/api/v1/me", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	resp = env.do(t, http.MethodGet, "/api/v1/me", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer ses_bogus.secret")
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", resp.StatusCode)
	}
}

func TestWebPasswordLoginUsesCookie(t *testing.T) {
	env := newRouterEnv(t, defaultPolicies(), nil)
	env.addPasswordUser(t, "pat@example.com", "correct horse battery")

	resp := env.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"pat@example.com","password":"correct horse battery"}`, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	cookie := cookieNamed(resp, "session_token")
	if cookie == nil || !cookie.HttpOnly || cookie.Value == "" {
		t.Fatalf("expected http-only session cookie, got %+v", cookie)
	}
	data := decodeEnvelope(t, resp)["data"].(map[string]any)
	if _, leaked := data["session_token"]; leaked {
		t.Fatal("web login must not return the token in the body")
	}

	me := env.do(t, http.MethodGet, "/api/v1/me", "", func(r *http.Request) { r.AddCookie(cookie) })
	if me.StatusCode != http.StatusOK {
		t.Fatalf("expected /me 200, got %d", me.StatusCode)
	}
	user := decodeEnvelope(t, me)["data"].(map[string]any)
	if user["email"] != "pat@example.com" {
		t.Fatalf("unexpected user %v", user)
	}
	if _, leaked := user["PasswordHash"]; leaked {
		t.Fatal("password hash must not be serialized")
	}

	out := env.do(t, http.MethodPost, "/api/v1/auth/logout", "", func(r *http.Request) { r.AddCookie(cookie) })
	if out.StatusCode >= 300 {
		t.Fatalf("expected logout success, got %d", out.StatusCode)
	}
	again := env.do(t, http.MethodGet, "/api/v1/me", "", func(r *http.Request) { r.AddCookie(cookie) })
	if again.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected revoked session to be rejected, got %d", again.StatusCode)
	}
}

func TestMobilePasswordLoginReturnsToken(t *testing.T) {
	env := newRouterEnv(t, defaultPolicies(), nil)
	env.addPasswordUser(t, "pat@example.com", "correct horse battery")

	resp := env.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"pat@example.com","password":"correct horse battery"}`, func(r *http.Request) {
		r.Header.Set("X-Client-Type", "mobile")
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if cookieNamed(resp, "session_token") != nil {
		t.Fatal("mobile login must not set a cookie")
	}
	token, _ := decodeEnvelope(t, resp)["data"].(map[string]any)["session_token"].(string)
	if !strings.HasPrefix(token, domain.SessionIDPrefix) {
		t.Fatalf("expected session token in body, got %q", token)
	}
	me := env.do(t, http.MethodGet, "/api/v1/me", "", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) })
	if me.StatusCode != http.StatusOK {
		t.Fatalf("expected /me 200 with bearer, got %d", me.StatusCode)
	}
}

func TestWrongPasswordIsUnauthorized(t *testing.T) {
	env := newRouterEnv(t, defaultPolicies(), nil)
	env.addPasswordUser(t, "pat@example.com", "correct horse battery")
	resp := env.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"pat@example.com","password":"wrong password"}`, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	errBody := decodeEnvelope(t, resp)["error"].(map[string]any)
	if errBody["code"] != "INVALID_CREDENTIALS" {
		t.Fatalf("unexpected error %v", errBody)
	}
}

func TestLoginRateLimitedPerIP(t *testing.T) {
	policies := defaultPolicies()
	policies.Login = service.RateLimitPolicy{Scope: "login", MaxTokens: 2, RefillRate: 2, RefillInterval: time.Minute, Cost: 1}
	env := newRouterEnv(t, policies, nil)

	body := `{"email":"nobody@example.com","password":"whatever123"}`
	for i := 0; i < 2; i++ {
		if resp := env.do(t, http.MethodPost, "/api/v1/auth/login", body, nil); resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, resp.StatusCode)
		}
	}
	resp := env.do(t, http.MethodPost, "/api/v1/auth/login", body, nil)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestLoginRateLimitIgnoresForwardingHeadersByDefault(t *testing.T) {
	policies := defaultPolicies()
	policies.Login = service.RateLimitPolicy{Scope: "login", MaxTokens: 2, RefillRate: 2, RefillInterval: time.Minute, Cost: 1}
	env := newRouterEnv(t, policies, nil)

	limited := 0
	for i := 0; i < 20; i++ {
		body := fmt.Sprintf(`{"email":"user%d@example.com","password":"whatever123"}`, i)
		resp := env.do(t, http.MethodPost, "/api/v1/auth/login", body, func(r *http.Request) {
			addr := fmt.Sprintf("203.0.113.%d", i+1)
			r.Header.Set("X-Forwarded-For", addr)
			r.Header.Set("X-Real-IP", addr)
			r.Header.Set("True-Client-IP", addr)
		})
		if resp.StatusCode == http.StatusTooManyRequests {
			limited++
		}
	}
	if limited != 18 {
		t.Fatalf("expected 18 of 20 requests from one peer to be limited, got %d", limited)
	}
}

func TestLoginRateLimitUsesForwardingHeadersWhenTrusted(t *testing.T) {
	policies := defaultPolicies()
	policies.Login = service.RateLimitPolicy{Scope: "login", MaxTokens: 1, RefillRate: 1, RefillInterval: time.Minute, Cost: 1}
	env := newRouterEnv(t, policies, nil, func(d *Dependencies) { d.TrustProxyHeaders = true })

	body := `{"email":"nobody@example.com","password":"whatever123"}`
	from := func(addr string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-Forwarded-For", addr) }
	}
	if resp := env.do(t, http.MethodPost, "/api/v1/auth/login", body, from("198.51.100.1")); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first client: expected 401, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/api/v1/auth/login", body, from("198.51.100.1")); resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("first client again: expected 429, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodPost, "/api/v1/auth/login", body, from("198.51.100.2")); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("second client behind the proxy: expected 401, got %d", resp.StatusCode)
	}
}

func startOAuth(t *testing.T, env *routerEnv, path string) (state string, cookies []*http.Cookie) {
	t.Helper()
	resp := env.do(t, http.MethodGet, path, "", nil)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	state = loc.Query().Get("state")
	stateCookie := cookieNamed(resp, "oauth_state")
	verifierCookie := cookieNamed(resp, "oauth_code_verifier")
	if stateCookie == nil || verifierCookie == nil || stateCookie.Value != state {
		t.Fatalf("expected state and verifier cookies matching the redirect")
	}
	if !strings.Contains(loc.Query().Get("redirect_uri"), "/api/v1/auth/") {
		t.Fatalf("unexpected redirect uri %q", loc.Query().Get("redirect_uri"))
	}
	return state, []*http.Cookie{stateCookie, verifierCookie}
}

func TestOAuthSignupRoundTrip(t *testing.T) {
	env := newRouterEnv(t, defaultPolicies(), nil)
	state, cookies := startOAuth(t, env, "/api/v1/auth/web/signup/google")

	resp := env.do(t, http.MethodGet, "/api/v1/auth/web/signup/google/callback?"+url.Values{"state": {state}, "code": {"abc"}}.Encode(), "", func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	})
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "https://app.test/auth/callback?outcome=SIGNUP_SUCCESS" {
		t.Fatalf("unexpected landing %q", loc)
	}
	if c := cookieNamed(resp, "oauth_state"); c == nil || c.MaxAge >= 0 {
		t.Fatal("expected state cookie to be cleared")
	}
	session := cookieNamed(resp, "session_token")
	if session == nil || session.Value == "" {
		t.Fatal("expected session cookie after signup")
	}

	providers := env.do(t, http.MethodGet, "/api/v1/me/providers", "", func(r *http.Request) { r.AddCookie(session) })
	if providers.StatusCode != http.StatusOK {
		t.Fatalf("expected providers 200, got %d", providers.StatusCode)
	}
}

func TestOAuthCallbackUnknownAccountRedirectsWithError(t *testing.T) {
	env := newRouterEnv(t, defaultPolicies(), nil)
	state, cookies := startOAuth(t, env, "/api/v1/auth/mobile/login/google")

	resp := env.do(t, http.MethodGet, "/api/v1/auth/mobile/login/google/callback?"+url.Values{"state": {state}, "code": {"abc"}}.Encode(), "", func(r *http.Request) {
		for _, c := range cookies {
			r.AddCookie(c)
		}
	})
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "identity://app/auth/callback#error=ACCOUNT_NOT_FOUND" {
		t.Fatalf("unexpected landing %q", loc)
	}
}

func TestOAuthCallbackWithoutCookieIsRejected(t *testing.T) {
	env := newRouterEnv(t, defaultPolicies(), nil)
	state, _ := startOAuth(t, env, "/api/v1/auth/web/login/google")
	resp := env.do(t, http.MethodGet, "/api/v1/auth/web/login/google/callback?"+url.Values{"state": {state}, "code": {"abc"}}.Encode(), "", nil)
	loc := resp.Header.Get("Location")
	if resp.StatusCode != http.StatusFound || !strings.HasPrefix(loc, "https://app.test/auth/callback?error=") {
		t.Fatalf("expected error landing, got %d %q", resp.StatusCode, loc)
	}
}

func TestOAuthStartRejectsUnknownProviderAndUnconfigured(t *testing.T) {
	env := newRouterEnv(t, defaultPolicies(), nil)
	if resp := env.do(t, http.MethodGet, "/api/v1/auth/web/login/github", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown provider, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/auth/web/login/discord", "", nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unconfigured provider, got %d", resp.StatusCode)
	}
	if resp := env.do(t, http.MethodGet, "/api/v1/auth/tv/login/google", "", nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown client, got %d", resp.StatusCode)
	}
}
