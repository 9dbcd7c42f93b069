package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/mrz1836/postmark"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/identity-core/internal/app"
	"github.com/sandeepkv93/identity-core/internal/config"
	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/gateway"
	"github.com/sandeepkv93/identity-core/internal/http/handler"
	"github.com/sandeepkv93/identity-core/internal/http/router"
	"github.com/sandeepkv93/identity-core/internal/observability"
	"github.com/sandeepkv93/identity-core/internal/repository"
	"github.com/sandeepkv93/identity-core/internal/security"
	"github.com/sandeepkv93/identity-core/internal/service"
)

var StorageSet = wire.NewSet(
	provideLogger,
	provideDB,
	provideReadiness,
	provideRedis,
	provideBucketStore,
	provideUserRepository,
	provideOAuthAccountRepository,
)

var SessionSet = wire.NewSet(
	provideSecretHasher,
	provideSessionKinds,
	provideLoginSessions,
	provideEmailVerificationSessions,
	providePasswordResetSessions,
	provideSignupSessions,
	provideAccountAssociationSessions,
	provideSweeper,
)

var ServiceSet = wire.NewSet(
	provideRateLimiter,
	provideMailer,
	provideGateways,
	provideSignedStateCodec,
	provideAccountLinker,
	provideOAuthFlowCoordinator,
	provideAuthService,
	provideSignupService,
	providePasswordResetService,
	provideEmailVerificationService,
	provideAccountAssociationService,
	service.NewProviderLinkService,
)

var HTTPSet = wire.NewSet(
	provideClientConfig,
	handler.NewAuthHandler,
	handler.NewUserHandler,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
	provideApp,
)

func policy(scope string, rl config.RateLimitConfig) service.RateLimitPolicy {
	return service.RateLimitPolicy{
		Scope:          scope,
		MaxTokens:      rl.MaxTokens,
		RefillRate:     rl.RefillRate,
		RefillInterval: rl.RefillInterval,
		Cost:           rl.Cost,
	}
}

func provideDB(cfg *config.Config, logger *slog.Logger) (*gorm.DB, func(), error) {
	db, err := repository.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := repository.Migrate(db); err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	return db, cleanup, nil
}

// provideRedis returns nil when no address is configured.
func provideRedis(cfg *config.Config) (redis.UniversalClient, func()) {
	if cfg.RedisAddr == "" {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	return client, func() { _ = client.Close() }
}

// provideBucketStore shares buckets through redis when available so every replica sees the
// same limits.
func provideBucketStore(client redis.UniversalClient, logger *slog.Logger) (service.BucketStore, func()) {
	if client != nil {
		return service.NewRedisBucketStore(client, ""), func() {}
	}
	logger.Warn("REDIS_ADDR not set, rate limits are per process")
	store := service.NewMemoryBucketStore(time.Minute, nil)
	go store.Start(context.Background())
	return store, store.Stop
}

func provideUserRepository(db *gorm.DB, cfg *config.Config) repository.UserRepository {
	return repository.NewUserRepository(db, cfg.RepositoryTimeout)
}

func provideOAuthAccountRepository(db *gorm.DB, cfg *config.Config) repository.OAuthAccountRepository {
	return repository.NewOAuthAccountRepository(db, cfg.RepositoryTimeout)
}

func provideSecretHasher(cfg *config.Config) (*security.SecretHasher, error) {
	return security.NewSecretHasher(cfg.SessionSecretPepper)
}

func provideSignedStateCodec(cfg *config.Config) (*security.SignedStateCodec, error) {
	return security.NewSignedStateCodec(cfg.OAuthStateSecret)
}

func provideSessionKinds(cfg *config.Config) service.SessionKindSet {
	return service.SessionKinds(cfg.SessionTTL, cfg.SessionRefreshWindow, cfg.OneTimeSessionTTL, cfg.AssociationSessionTTL)
}

func provideLoginSessions(kinds service.SessionKindSet, db *gorm.DB, cfg *config.Config, hasher *security.SecretHasher) *service.LoginSessions {
	return service.NewSessionLifecycle[domain.SessionID, domain.Session, *domain.Session](
		kinds.Login, repository.NewSessionRepository(db, cfg.RepositoryTimeout), hasher, nil)
}

func provideEmailVerificationSessions(kinds service.SessionKindSet, db *gorm.DB, cfg *config.Config, hasher *security.SecretHasher) *service.EmailVerificationSessions {
	return service.NewSessionLifecycle[domain.EmailVerificationSessionID, domain.EmailVerificationSession, *domain.EmailVerificationSession](
		kinds.EmailVerification, repository.NewEmailVerificationSessionRepository(db, cfg.RepositoryTimeout), hasher, nil)
}

func providePasswordResetSessions(kinds service.SessionKindSet, db *gorm.DB, cfg *config.Config, hasher *security.SecretHasher) *service.PasswordResetSessions {
	return service.NewSessionLifecycle[domain.PasswordResetSessionID, domain.PasswordResetSession, *domain.PasswordResetSession](
		kinds.PasswordReset, repository.NewPasswordResetSessionRepository(db, cfg.RepositoryTimeout), hasher, nil)
}

func provideSignupSessions(kinds service.SessionKindSet, db *gorm.DB, cfg *config.Config, hasher *security.SecretHasher) *service.SignupSessions {
	return service.NewSessionLifecycle[domain.SignupSessionID, domain.SignupSession, *domain.SignupSession](
		kinds.Signup, repository.NewSignupSessionRepository(db, cfg.RepositoryTimeout), hasher, nil)
}

func provideAccountAssociationSessions(kinds service.SessionKindSet, db *gorm.DB, cfg *config.Config, hasher *security.SecretHasher) *service.AccountAssociationSessions {
	return service.NewSessionLifecycle[domain.AccountAssociationSessionID, domain.AccountAssociationSession, *domain.AccountAssociationSession](
		kinds.AccountAssociation, repository.NewAccountAssociationSessionRepository(db, cfg.RepositoryTimeout), hasher, nil)
}

func provideSweeper(
	cfg *config.Config,
	logger *slog.Logger,
	login *service.LoginSessions,
	verify *service.EmailVerificationSessions,
	reset *service.PasswordResetSessions,
	signup *service.SignupSessions,
	association *service.AccountAssociationSessions,
) *service.Sweeper {
	return service.NewSweeper(cfg.SweepInterval, logger, login, verify, reset, signup, association)
}

func provideRateLimiter(store service.BucketStore, cfg *config.Config) *service.RateLimiter {
	return service.NewRateLimiter(store, service.FailureMode(cfg.RateLimitFailureMode), nil)
}

func provideMailer(cfg *config.Config, logger *slog.Logger) service.Mailer {
	if cfg.PostmarkServerToken == "" {
		logger.Warn("POSTMARK_SERVER_TOKEN not set, verification codes are not delivered")
		return service.NewLogMailer(logger)
	}
	return service.NewPostmarkMailer(postmark.NewClient(cfg.PostmarkServerToken, ""), cfg.MailFrom)
}

func provideGateways(cfg *config.Config) []service.OAuthProviderGateway {
	client := gateway.NewHTTPClient(cfg.OAuthHTTPTimeout)
	var gateways []service.OAuthProviderGateway
	if cfg.GoogleEnabled() {
		gateways = append(gateways, gateway.NewGoogleGateway(
			gateway.Credentials{ClientID: cfg.GoogleClientID, ClientSecret: cfg.GoogleClientSecret},
			gateway.GoogleEndpoints, client))
	}
	if cfg.DiscordEnabled() {
		gateways = append(gateways, gateway.NewDiscordGateway(
			gateway.Credentials{ClientID: cfg.DiscordClientID, ClientSecret: cfg.DiscordClientSecret},
			gateway.DiscordEndpoints, client))
	}
	return gateways
}

func provideAccountLinker(
	users repository.UserRepository,
	accounts repository.OAuthAccountRepository,
	sessions *service.LoginSessions,
	associations *service.AccountAssociationSessions,
	mailer service.Mailer,
	logger *slog.Logger,
) *service.AccountLinker {
	return service.NewAccountLinker(users, accounts, sessions, associations, mailer, logger)
}

func provideOAuthFlowCoordinator(cfg *config.Config, gateways []service.OAuthProviderGateway, codec *security.SignedStateCodec, linker *service.AccountLinker, logger *slog.Logger) *service.OAuthFlowCoordinator {
	return service.NewOAuthFlowCoordinator(gateways, codec, linker, cfg.APIBaseURL, cfg.OAuthHTTPTimeout, logger)
}

func provideAuthService(cfg *config.Config, users repository.UserRepository, sessions *service.LoginSessions, limiter *service.RateLimiter) *service.AuthService {
	return service.NewAuthService(users, sessions, limiter, policy("login_email", cfg.RateLimitLoginEmail))
}

func provideSignupService(cfg *config.Config, users repository.UserRepository, signups *service.SignupSessions, sessions *service.LoginSessions, mailer service.Mailer, limiter *service.RateLimiter) *service.SignupService {
	return service.NewSignupService(users, signups, sessions, mailer, limiter, policy("code", cfg.RateLimitCode))
}

func providePasswordResetService(cfg *config.Config, users repository.UserRepository, resets *service.PasswordResetSessions, sessions *service.LoginSessions, mailer service.Mailer, limiter *service.RateLimiter) *service.PasswordResetService {
	return service.NewPasswordResetService(users, resets, sessions, mailer, limiter, policy("code", cfg.RateLimitCode))
}

func provideEmailVerificationService(cfg *config.Config, users repository.UserRepository, sessions *service.EmailVerificationSessions, mailer service.Mailer, limiter *service.RateLimiter) *service.EmailVerificationService {
	return service.NewEmailVerificationService(users, sessions, mailer, limiter, policy("code", cfg.RateLimitCode))
}

func provideAccountAssociationService(cfg *config.Config, users repository.UserRepository, associations *service.AccountAssociationSessions, sessions *service.LoginSessions, linker *service.AccountLinker, limiter *service.RateLimiter) *service.AccountAssociationService {
	return service.NewAccountAssociationService(users, associations, sessions, linker, limiter, policy("code", cfg.RateLimitCode))
}

func provideClientConfig(cfg *config.Config) handler.ClientConfig {
	return handler.ClientConfig{WebBaseURL: cfg.WebBaseURL, MobileScheme: cfg.MobileScheme, CookieSecure: cfg.CookieSecure}
}

func provideRouterDependencies(
	cfg *config.Config,
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	auth *service.AuthService,
	limiter *service.RateLimiter,
	readiness func(context.Context) error,
) router.Dependencies {
	return router.Dependencies{
		AuthHandler: authHandler,
		UserHandler: userHandler,
		Sessions:    auth,
		Limiter:     limiter,
		Policies: router.Policies{
			OAuth:  policy("oauth", cfg.RateLimitOAuth),
			Login:  policy("login", cfg.RateLimitLogin),
			Signup: policy("signup", cfg.RateLimitSignup),
			Me:     policy("me", cfg.RateLimitMe),
		},
		CookieSecure:      cfg.CookieSecure,
		Readiness:         readiness,
		EnableOTelHTTP:    cfg.OTELTracingEnabled,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func provideReadiness(db *gorm.DB) func(context.Context) error {
	return func(ctx context.Context) error { return repository.Ping(ctx, db) }
}

func provideLogger(runtime *observability.Runtime) *slog.Logger {
	return runtime.Logger
}

func provideApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	sweeper *service.Sweeper,
	readiness func(context.Context) error,
	store service.BucketStore,
) *app.App {
	stop := func() {
		if s, ok := store.(interface{ Stop() }); ok {
			s.Stop()
		}
	}
	return app.New(cfg, logger, server, runtime, sweeper, readiness, stop)
}

// MigrateOnly opens the configured database and applies the schema.
func MigrateOnly(cfg *config.Config, logger *slog.Logger) error {
	_, cleanup, err := provideDB(cfg, logger)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	cleanup()
	return nil
}
