package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sandeepkv93/identity-core/internal/config"
	"github.com/sandeepkv93/identity-core/internal/di"
	"github.com/sandeepkv93/identity-core/internal/observability"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:           "identityd",
		Short:         "Identity core: OAuth and password sign-in, sessions and account linking",
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional env file; process environment wins")
	cmd.AddCommand(newServeCommand(&envFile), newMigrateCommand(&envFile), newSweepCommand(&envFile))
	return cmd
}

func bootstrap(ctx context.Context, envFile string) (*config.Config, *observability.Runtime, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	logger := observability.NewLogger(cfg, os.Stdout)
	rt, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("init observability: %w", err)
	}
	return cfg, rt, nil
}

func newServeCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the session sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cfg, rt, err := bootstrap(ctx, *envFile)
			if err != nil {
				return err
			}
			a, cleanup, err := di.InitializeApp(cfg, rt)
			if err != nil {
				_ = rt.Shutdown(context.Background())
				return fmt.Errorf("wire app: %w", err)
			}
			defer cleanup()
			return a.Run(ctx)
		},
	}
}

func newMigrateCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, rt, err := bootstrap(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Shutdown(context.Background()) }()
			if err := di.MigrateOnly(cfg, rt.Logger); err != nil {
				return err
			}
			rt.Logger.Info("schema migrated")
			return nil
		},
	}
}

func newSweepCommand(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired sessions of every kind once and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, rt, err := bootstrap(cmd.Context(), *envFile)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Shutdown(context.Background()) }()
			sweeper, cleanup, err := di.InitializeSweeper(cfg, rt)
			if err != nil {
				return fmt.Errorf("wire sweeper: %w", err)
			}
			defer cleanup()
			counts, err := sweeper.SweepOnce(cmd.Context())
			if err != nil {
				return err
			}
			rt.Logger.Info("sweep complete", "deleted", counts)
			return nil
		},
	}
}
