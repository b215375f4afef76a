// Package indexer keeps off-chain market state in step with trade and
// resolution events on every configured chain. Each chain boots, catches up
// from its checkpoint in fixed block windows, then follows new logs over a
// WebSocket subscription, reconnecting on its own when that subscription
// drops.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm"
)

// Processor applies decoded events to off-chain state.
type Processor interface {
	ApplyTrade(ctx context.Context, ev domain.TradeEvent) error
	ApplyResolution(ctx context.Context, r domain.Resolution) error
}

// Config controls the indexer's timing and resources.
type Config struct {
	ReconnectDelay time.Duration
	LockTTL        time.Duration
	ArchiveLogs    bool
	DedupCacheSize int
}

// Indexer tails chain logs. Locks and Archiver may be nil.
type Indexer struct {
	cfg       Config
	networks  *evm.Networks
	chains    domain.ChainStore
	processor Processor
	locks     domain.LockManager
	archiver  domain.ChainArchiver
	decoder   *Decoder
	seen      *lru.Cache
	logger    *slog.Logger

	mu       sync.Mutex
	baseCtx  context.Context
	live     map[int64]*liveSub
	starting map[int64]*sync.Mutex
}

// New creates an Indexer.
func New(cfg Config, networks *evm.Networks, chains domain.ChainStore, processor Processor,
	locks domain.LockManager, archiver domain.ChainArchiver, logger *slog.Logger) (*Indexer, error) {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 10 * time.Second
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	if cfg.DedupCacheSize <= 0 {
		cfg.DedupCacheSize = 4096
	}
	seen, err := lru.New(cfg.DedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("indexer: dedup cache: %w", err)
	}
	return &Indexer{
		cfg:       cfg,
		networks:  networks,
		chains:    chains,
		processor: processor,
		locks:     locks,
		archiver:  archiver,
		decoder:   NewDecoder(),
		seen:      seen,
		logger:    logger.With(slog.String("component", "indexer")),
		live:      make(map[int64]*liveSub),
		starting:  make(map[int64]*sync.Mutex),
	}, nil
}

// Boot loads every configured chain and opens its HTTP provider. Chains
// that fail to open are logged and skipped; chains no longer configured are
// closed. It returns the ids that are open.
func (ix *Indexer) Boot(ctx context.Context) ([]int64, error) {
	chains, err := ix.chains.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexer: list chains: %w", err)
	}
	keep := make(map[int64]bool, len(chains))
	var ids []int64
	for _, c := range chains {
		if _, err := ix.networks.Open(ctx, c); err != nil {
			ix.logger.ErrorContext(ctx, "indexer: chain unavailable",
				slog.Int64("chain_id", c.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		keep[c.ID] = true
		ids = append(ids, c.ID)
	}
	for _, id := range ix.networks.IDs() {
		if !keep[id] {
			ix.stopLive(id)
			ix.networks.Remove(id)
		}
	}
	ix.logger.InfoContext(ctx, "indexer: chains loaded", slog.Int("count", len(ids)))
	return ids, nil
}

// Run boots every chain, starts each one's catch-up and live loop and blocks
// until ctx is done.
func (ix *Indexer) Run(ctx context.Context) error {
	ix.mu.Lock()
	ix.baseCtx = ctx
	ix.mu.Unlock()

	ids, err := ix.Boot(ctx)
	if err != nil {
		return err
	}
	ix.startChains(ids)

	<-ctx.Done()
	ix.mu.Lock()
	for id, sub := range ix.live {
		sub.cancel()
		delete(ix.live, id)
	}
	ix.baseCtx = nil
	ix.mu.Unlock()
	return nil
}

// ReloadChains re-reads the chain configuration and reconnects every chain.
// When the indexer is running, each chain re-enters catch-up and then live
// mode.
func (ix *Indexer) ReloadChains(ctx context.Context) error {
	ids, err := ix.Boot(ctx)
	if err != nil {
		return err
	}
	ix.startChains(ids)
	return nil
}

// CheckoutAll runs one catch-up pass on every open chain concurrently.
// Failures are per chain; a held lock is not a failure.
func (ix *Indexer) CheckoutAll(ctx context.Context) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ix.networks.IDs() {
		g.Go(func() error {
			err := ix.CheckoutChainLogs(ctx, id)
			if err != nil && !errors.Is(err, domain.ErrLockHeld) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// startChains brings every chain in ids to live mode concurrently. It is a
// no-op unless Run is active.
func (ix *Indexer) startChains(ids []int64) {
	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			ix.startChain(id)
			return nil
		})
	}
	_ = g.Wait()
}
