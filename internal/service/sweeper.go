package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sandeepkv93/identity-core/internal/domain"
)

type Sweepable interface {
	Kind() domain.SessionKind
	SweepExpired(ctx context.Context) (int64, error)
}

// Sweeper deletes expired records of every session kind on a fixed interval.
type Sweeper struct {
	targets  []Sweepable
	interval time.Duration
	logger   *slog.Logger
}

func NewSweeper(interval time.Duration, logger *slog.Logger, targets ...Sweepable) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{targets: targets, interval: interval, logger: logger}
}

// SweepOnce runs every kind concurrently and returns the deleted count per kind name.
func (s *Sweeper) SweepOnce(ctx context.Context) (map[string]int64, error) {
	var mu sync.Mutex
	counts := make(map[string]int64, len(s.targets))
	g, gctx := errgroup.WithContext(ctx)
	for _, target := range s.targets {
		g.Go(func() error {
			n, err := target.SweepExpired(gctx)
			if err != nil {
				return err
			}
			mu.Lock()
			counts[target.Kind().Name] = n
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return counts, err
}

func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			counts, err := s.SweepOnce(ctx)
			if err != nil {
				s.logger.ErrorContext(ctx, "session sweep failed", "error", err)
				continue
			}
			s.logger.InfoContext(ctx, "session sweep complete", "deleted", counts)
		}
	}
}
