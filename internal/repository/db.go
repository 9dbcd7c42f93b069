package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sandeepkv93/identity-core/internal/domain"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// Models lists every table owned by the identity core.
func Models() []any {
	return []any{
		&domain.User{},
		&domain.OAuthAccount{},
		&domain.Session{},
		&domain.EmailVerificationSession{},
		&domain.PasswordResetSession{},
		&domain.SignupSession{},
		&domain.AccountAssociationSession{},
	}
}

// Open connects to postgres for postgres:// URLs and to sqlite for anything else.
func Open(dsn string, log *slog.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
	var dialector gorm.Dialector
	driver := "sqlite"
	if isPostgresDSN(dsn) {
		dialector = postgres.Open(dsn)
		driver = "postgres"
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if log != nil {
		log.Info("database connected", "driver", driver)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Ping is used by readiness checks.
func Ping(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func isPostgresDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") ||
		strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=")
}

// conn scopes a query to ctx plus the repository deadline.
type conn struct {
	db      *gorm.DB
	timeout time.Duration
}

func (c conn) with(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	if c.timeout <= 0 {
		return c.db.WithContext(ctx), func() {}
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return c.db.WithContext(ctx), cancel
}

// translate maps driver errors onto the package sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate key value") {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func record(ctx context.Context, entity, op string, err error) error {
	err = translate(err)
	switch {
	case err == nil:
		recordOutcome(ctx, entity, op, "success")
	case errors.Is(err, ErrNotFound):
		recordOutcome(ctx, entity, op, "not_found")
	case errors.Is(err, ErrDuplicate):
		recordOutcome(ctx, entity, op, "duplicate")
	default:
		recordOutcome(ctx, entity, op, "error")
	}
	return err
}
