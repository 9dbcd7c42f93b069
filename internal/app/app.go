package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/identity-core/internal/config"
	"github.com/sandeepkv93/identity-core/internal/observability"
	"github.com/sandeepkv93/identity-core/internal/service"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime
	Sweeper       *service.Sweeper
	Readiness     func(context.Context) error

	ShutdownTimeout              time.Duration
	ShutdownHTTPDrainTimeout     time.Duration
	ShutdownObservabilityTimeout time.Duration

	stopBackground func()
}

func New(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	runtime *observability.Runtime,
	sweeper *service.Sweeper,
	readiness func(context.Context) error,
	stopBackground func(),
) *App {
	return &App{
		Config:                       cfg,
		Logger:                       logger,
		Server:                       server,
		Observability:                runtime,
		Sweeper:                      sweeper,
		Readiness:                    readiness,
		ShutdownTimeout:              cfg.ShutdownTimeout,
		ShutdownHTTPDrainTimeout:     cfg.ShutdownHTTPDrainTimeout,
		ShutdownObservabilityTimeout: cfg.ShutdownObservabilityTimeout,
		stopBackground:               stopBackground,
	}
}

func (a *App) StopBackgroundTasks() {
	if a.stopBackground != nil {
		a.stopBackground()
	}
}

// Run serves HTTP and sweeps expired sessions until ctx is cancelled or the listener fails,
// then drains in-flight requests and flushes telemetry.
func (a *App) Run(ctx context.Context) error {
	if a.Readiness != nil {
		if err := a.Readiness(ctx); err != nil {
			return fmt.Errorf("startup readiness: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if a.Sweeper != nil {
		g.Go(func() error { return a.Sweeper.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})
	return g.Wait()
}

func (a *App) shutdown() error {
	start := time.Now()
	a.Logger.Info("shutdown started")
	overall, cancel := context.WithTimeout(context.Background(), a.ShutdownTimeout)
	defer cancel()

	var errs []error
	drain, cancelDrain := context.WithTimeout(overall, a.ShutdownHTTPDrainTimeout)
	if err := a.Server.Shutdown(drain); err != nil {
		errs = append(errs, fmt.Errorf("http drain: %w", err))
	}
	cancelDrain()

	a.StopBackgroundTasks()

	flush, cancelFlush := context.WithTimeout(overall, a.ShutdownObservabilityTimeout)
	if err := a.Observability.Shutdown(flush); err != nil {
		errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
	}
	cancelFlush()

	a.Logger.Info("shutdown complete", "duration", time.Since(start))
	return errors.Join(errs...)
}
