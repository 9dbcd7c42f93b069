package di

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sandeepkv93/identity-core/internal/config"
	"github.com/sandeepkv93/identity-core/internal/observability"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		AppEnv:                       "test",
		HTTPAddr:                     "127.0.0.1:0",
		DatabaseURL:                  "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared",
		RepositoryTimeout:            2 * time.Second,
		SessionSecretPepper:          strings.Repeat("p", 32),
		OAuthStateSecret:             strings.Repeat("s", 32),
		SessionTTL:                   720 * time.Hour,
		SessionRefreshWindow:         360 * time.Hour,
		OneTimeSessionTTL:            10 * time.Minute,
		AssociationSessionTTL:        10 * time.Minute,
		SweepInterval:                time.Hour,
		WebBaseURL:                   "http://localhost:3000",
		MobileScheme:                 "identity",
		APIBaseURL:                   "http://localhost:8080",
		GoogleClientID:               "google-client",
		GoogleClientSecret:           "google-secret",
		OAuthHTTPTimeout:             5 * time.Second,
		RateLimitFailureMode:         "fail_closed",
		RateLimitOAuth:               config.RateLimitConfig{MaxTokens: 10, RefillRate: 10, RefillInterval: time.Minute, Cost: 1},
		RateLimitLogin:               config.RateLimitConfig{MaxTokens: 10, RefillRate: 10, RefillInterval: time.Minute, Cost: 1},
		RateLimitLoginEmail:          config.RateLimitConfig{MaxTokens: 5, RefillRate: 5, RefillInterval: time.Minute, Cost: 1},
		RateLimitSignup:              config.RateLimitConfig{MaxTokens: 5, RefillRate: 5, RefillInterval: time.Minute, Cost: 1},
		RateLimitCode:                config.RateLimitConfig{MaxTokens: 5, RefillRate: 5, RefillInterval: time.Minute, Cost: 1},
		RateLimitMe:                  config.RateLimitConfig{MaxTokens: 10, RefillRate: 10, RefillInterval: time.Minute, Cost: 1},
		ShutdownTimeout:              5 * time.Second,
		ShutdownHTTPDrainTimeout:     time.Second,
		ShutdownObservabilityTimeout: time.Second,
	}
}

func testRuntime() *observability.Runtime {
	return &observability.Runtime{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func TestInitializeAppServesConfiguredProviders(t *testing.T) {
	a, cleanup, err := InitializeApp(testConfig(t), testRuntime())
	if err != nil {
		t.Fatalf("initialize app: %v", err)
	}
	defer cleanup()
	if a.Sweeper == nil || a.Readiness == nil {
		t.Fatal("expected sweeper and readiness to be wired")
	}
	if err := a.Readiness(context.Background()); err != nil {
		t.Fatalf("readiness: %v", err)
	}

	srv := httptest.NewServer(a.Server.Handler)
	defer srv.Close()
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}

	resp, err := client.Get(srv.URL + "/health/ready")
	if err != nil {
		t.Fatalf("ready request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected ready 200, got %d", resp.StatusCode)
	}

	resp, err = client.Get(srv.URL + "/api/v1/auth/web/login/google")
	if err != nil {
		t.Fatalf("oauth start: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect to google, got %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "https://accounts.google.com/") {
		t.Fatalf("unexpected location %q", loc)
	}

	resp, err = client.Get(srv.URL + "/api/v1/auth/web/login/discord")
	if err != nil {
		t.Fatalf("oauth start discord: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode == http.StatusFound {
		t.Fatal("expected unconfigured discord to be rejected")
	}
}

func TestInitializeAppRejectsShortSecrets(t *testing.T) {
	cfg := testConfig(t)
	cfg.OAuthStateSecret = "short"
	if _, _, err := InitializeApp(cfg, testRuntime()); err == nil {
		t.Fatal("expected short state secret to fail wiring")
	}
}

func TestInitializeSweeperCoversEveryKind(t *testing.T) {
	sweeper, cleanup, err := InitializeSweeper(testConfig(t), testRuntime())
	if err != nil {
		t.Fatalf("initialize sweeper: %v", err)
	}
	defer cleanup()
	counts, err := sweeper.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(counts) != 5 {
		t.Fatalf("expected 5 session kinds swept, got %v", counts)
	}
}
