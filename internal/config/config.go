package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type RateLimitConfig struct {
	MaxTokens      float64       `env:"MAX_TOKENS"`
	RefillRate     float64       `env:"REFILL_RATE"`
	RefillInterval time.Duration `env:"REFILL_INTERVAL"`
	Cost           float64       `env:"COST" envDefault:"1"`
}

type Config struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	DatabaseURL       string        `env:"DATABASE_URL" envDefault:"file:identity.db"`
	RepositoryTimeout time.Duration `env:"REPOSITORY_TIMEOUT" envDefault:"5s"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	SessionSecretPepper   string        `env:"SESSION_SECRET_PEPPER,required"`
	OAuthStateSecret      string        `env:"OAUTH_STATE_SECRET,required"`
	SessionTTL            time.Duration `env:"SESSION_TTL" envDefault:"720h"`
	SessionRefreshWindow  time.Duration `env:"SESSION_REFRESH_WINDOW" envDefault:"360h"`
	OneTimeSessionTTL     time.Duration `env:"ONE_TIME_SESSION_TTL" envDefault:"10m"`
	AssociationSessionTTL time.Duration `env:"ASSOCIATION_SESSION_TTL" envDefault:"10m"`
	SweepInterval         time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	CookieSecure          bool          `env:"COOKIE_SECURE" envDefault:"true"`
	WebBaseURL            string        `env:"WEB_BASE_URL" envDefault:"http://localhost:3000"`
	MobileScheme          string        `env:"MOBILE_SCHEME" envDefault:"identity-app://"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For, X-Real-IP and
	// True-Client-IP. Enable only behind a proxy that overwrites them.
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// APIBaseURL is the public origin of this service; provider callbacks are registered under it.
	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:8080"`

	GoogleClientID     string `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"GOOGLE_CLIENT_SECRET"`

	DiscordClientID     string `env:"DISCORD_CLIENT_ID"`
	DiscordClientSecret string `env:"DISCORD_CLIENT_SECRET"`

	OAuthHTTPTimeout time.Duration `env:"OAUTH_HTTP_TIMEOUT" envDefault:"10s"`

	RateLimitFailureMode string          `env:"RATE_LIMIT_FAILURE_MODE" envDefault:"fail_closed"`
	RateLimitOAuth       RateLimitConfig `envPrefix:"RATE_LIMIT_OAUTH_"`
	RateLimitLogin       RateLimitConfig `envPrefix:"RATE_LIMIT_LOGIN_"`
	RateLimitLoginEmail  RateLimitConfig `envPrefix:"RATE_LIMIT_LOGIN_EMAIL_"`
	RateLimitSignup      RateLimitConfig `envPrefix:"RATE_LIMIT_SIGNUP_"`
	RateLimitCode        RateLimitConfig `envPrefix:"RATE_LIMIT_CODE_"`
	RateLimitMe          RateLimitConfig `envPrefix:"RATE_LIMIT_ME_"`

	PostmarkServerToken string `env:"POSTMARK_SERVER_TOKEN"`
	MailFrom            string `env:"MAIL_FROM" envDefault:"no-reply@localhost"`

	LogLevel                  string        `env:"LOG_LEVEL" envDefault:"info"`
	OTELServiceName           string        `env:"OTEL_SERVICE_NAME" envDefault:"identity-core"`
	OTELEnvironment           string        `env:"OTEL_ENVIRONMENT" envDefault:"development"`
	OTELExporterOTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELMetricsEnabled        bool          `env:"OTEL_METRICS_ENABLED" envDefault:"false"`
	OTELTracingEnabled        bool          `env:"OTEL_TRACING_ENABLED" envDefault:"false"`
	OTELLogsEnabled           bool          `env:"OTEL_LOGS_ENABLED" envDefault:"false"`
	OTELMetricsExportInterval time.Duration `env:"OTEL_METRICS_EXPORT_INTERVAL" envDefault:"15s"`
	OTELTraceSamplingRatio    float64       `env:"OTEL_TRACE_SAMPLING_RATIO" envDefault:"1"`

	ShutdownTimeout              time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"20s"`
	ShutdownHTTPDrainTimeout     time.Duration `env:"SHUTDOWN_HTTP_DRAIN_TIMEOUT" envDefault:"10s"`
	ShutdownObservabilityTimeout time.Duration `env:"SHUTDOWN_OBSERVABILITY_TIMEOUT" envDefault:"5s"`
}

// Load reads an optional env file, then the process environment. Existing variables win over the file.
func Load(envFiles ...string) (*Config, error) {
	cfg, err := load(envFiles...)
	if err != nil {
		recordConfigValidationEvent(context.Background(), os.Getenv("APP_ENV"), "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), cfg.AppEnv, "success", "none")
	return cfg, nil
}

func load(envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", f, err)
		}
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.applyRateLimitDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyRateLimitDefaults() {
	fill := func(rl *RateLimitConfig, maxTokens, rate float64, interval time.Duration) {
		if rl.MaxTokens == 0 {
			rl.MaxTokens = maxTokens
		}
		if rl.RefillRate == 0 {
			rl.RefillRate = rate
		}
		if rl.RefillInterval == 0 {
			rl.RefillInterval = interval
		}
		if rl.Cost == 0 {
			rl.Cost = 1
		}
	}
	fill(&c.RateLimitOAuth, 10, 10, time.Minute)
	fill(&c.RateLimitLogin, 20, 20, time.Minute)
	fill(&c.RateLimitLoginEmail, 5, 5, time.Minute)
	fill(&c.RateLimitSignup, 5, 5, 10*time.Minute)
	fill(&c.RateLimitCode, 5, 5, 10*time.Minute)
	fill(&c.RateLimitMe, 100, 100, time.Minute)
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.SessionSecretPepper) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET_PEPPER must be at least 32 bytes"))
	}
	if len(c.OAuthStateSecret) < 32 {
		errs = append(errs, errors.New("OAUTH_STATE_SECRET must be at least 32 bytes"))
	}
	if c.SessionTTL <= 0 || c.SessionRefreshWindow < 0 || c.SessionRefreshWindow >= c.SessionTTL {
		errs = append(errs, errors.New("SESSION_TTL must be positive and greater than SESSION_REFRESH_WINDOW"))
	}
	if c.OneTimeSessionTTL <= 0 || c.AssociationSessionTTL <= 0 {
		errs = append(errs, errors.New("one-time session TTLs must be positive"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	switch c.RateLimitFailureMode {
	case "fail_open", "fail_closed":
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_FAILURE_MODE must be fail_open or fail_closed, got %q", c.RateLimitFailureMode))
	}
	for name, rl := range map[string]RateLimitConfig{
		"OAUTH":       c.RateLimitOAuth,
		"LOGIN":       c.RateLimitLogin,
		"LOGIN_EMAIL": c.RateLimitLoginEmail,
		"SIGNUP":      c.RateLimitSignup,
		"CODE":        c.RateLimitCode,
		"ME":          c.RateLimitMe,
	} {
		if rl.MaxTokens <= 0 || rl.RefillRate <= 0 || rl.RefillInterval <= 0 || rl.Cost <= 0 || rl.Cost > rl.MaxTokens {
			errs = append(errs, fmt.Errorf("RATE_LIMIT_%s_* must be positive with cost <= max tokens", name))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production") || strings.EqualFold(c.AppEnv, "prod")
}

func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

func (c *Config) DiscordEnabled() bool {
	return c.DiscordClientID != "" && c.DiscordClientSecret != ""
}
