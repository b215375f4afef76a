package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// IndexerMode catches every chain up and then follows it live until ctx is
// cancelled.
func (a *App) IndexerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting indexer mode")
	return deps.Indexer.Run(ctx)
}

// CheckoutMode runs one catch-up pass over every configured chain and
// returns. A chain whose lock is held elsewhere is skipped.
func (a *App) CheckoutMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting checkout mode")

	ids, err := deps.Indexer.Boot(ctx)
	if err != nil {
		return fmt.Errorf("checkout mode: %w", err)
	}
	start := time.Now()
	var errs []error
	for _, id := range ids {
		if err := deps.Core.CheckoutChainLogs(ctx, id); err != nil {
			a.logger.WarnContext(ctx, "checkout mode: chain pass failed",
				slog.Int64("chain_id", id),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	a.logger.InfoContext(ctx, "checkout mode: pass complete",
		slog.Int("chains", len(ids)),
		slog.Int("failed", len(errs)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return errors.Join(errs...)
}

// FullMode runs the indexer and, on the catch-up schedule, an extra catch-up
// pass over every chain. Each pass resumes from the chain's checkpoint, so it
// moves chains forward while their live subscription is down or waiting to
// reconnect. Blocks already behind the checkpoint are not revisited.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	sched := cron.New(cron.WithSeconds())
	if _, err := sched.AddFunc(a.cfg.Indexer.CatchupCron, func() {
		if ctx.Err() != nil {
			return
		}
		if err := deps.Indexer.CheckoutAll(ctx); err != nil {
			a.logger.WarnContext(ctx, "full mode: scheduled catch-up failed",
				slog.String("error", err.Error()),
			)
		}
	}); err != nil {
		return fmt.Errorf("full mode: catch-up schedule %q: %w", a.cfg.Indexer.CatchupCron, err)
	}

	g.Go(func() error {
		return deps.Indexer.Run(ctx)
	})
	sched.Start()
	a.logger.InfoContext(ctx, "full mode: catch-up scheduled",
		slog.String("schedule", a.cfg.Indexer.CatchupCron),
	)

	g.Go(func() error {
		<-ctx.Done()
		<-sched.Stop().Done()
		return nil
	})

	return g.Wait()
}
