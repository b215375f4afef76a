package indexer

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

// liveSub is one registered live follower of a chain.
type liveSub struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the follower and waits until it has applied its last log.
func (s *liveSub) stop() {
	s.cancel()
	<-s.done
}

// startChain runs catch-up and then opens the live subscription of one
// chain. Any live subscription it already had is stopped first. Starts of
// the same chain run one at a time.
func (ix *Indexer) startChain(chainID int64) {
	lock := ix.startLock(chainID)
	lock.Lock()
	defer lock.Unlock()

	ix.mu.Lock()
	base := ix.baseCtx
	ix.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}
	ix.stopLive(chainID)

	if err := ix.CheckoutChainLogs(base, chainID); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrLockHeld) {
			level = slog.LevelInfo
		}
		ix.logger.Log(base, level, "indexer: catch-up incomplete",
			slog.Int64("chain_id", chainID),
			slog.String("error", err.Error()),
		)
	}
	if base.Err() != nil {
		return
	}
	if err := ix.subscribe(base, chainID); err != nil {
		if base.Err() != nil {
			return
		}
		ix.logger.WarnContext(base, "indexer: live subscription failed",
			slog.Int64("chain_id", chainID),
			slog.String("error", err.Error()),
		)
		ix.scheduleReconnect(base, chainID)
	}
}

func (ix *Indexer) startLock(chainID int64) *sync.Mutex {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	lock, ok := ix.starting[chainID]
	if !ok {
		lock = &sync.Mutex{}
		ix.starting[chainID] = lock
	}
	return lock
}

func (ix *Indexer) subscribe(base context.Context, chainID int64) error {
	net, err := ix.networks.AttachWS(base, chainID)
	if err != nil {
		return transient("attach websocket", err)
	}
	ctx, cancel := context.WithCancel(base)
	logs := make(chan types.Log, 128)

	tradeSub, err := net.WS.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
		Topics: [][]common.Hash{ix.decoder.TradeTopics()},
	}, logs)
	if err != nil {
		cancel()
		return transient("subscribe trades", err)
	}
	subs := []ethereum.Subscription{tradeSub}
	if q, ok := ix.resolutionQuery(net.Chain); ok {
		resSub, err := net.WS.SubscribeFilterLogs(ctx, q, logs)
		if err != nil {
			tradeSub.Unsubscribe()
			cancel()
			return transient("subscribe resolutions", err)
		}
		subs = append(subs, resSub)
	}

	sub := &liveSub{cancel: cancel, done: make(chan struct{})}
	ix.mu.Lock()
	if err := base.Err(); err != nil {
		ix.mu.Unlock()
		for _, s := range subs {
			s.Unsubscribe()
		}
		cancel()
		return err
	}
	prev := ix.live[chainID]
	ix.live[chainID] = sub
	ix.mu.Unlock()
	if prev != nil {
		prev.stop()
	}
	ix.logger.InfoContext(ctx, "indexer: live", slog.Int64("chain_id", chainID))

	go ix.follow(ctx, chainID, sub, subs, logs)
	return nil
}

// follow applies live logs until ctx ends or a subscription fails. Every
// applied log moves the checkpoint past its block.
func (ix *Indexer) follow(ctx context.Context, chainID int64, sub *liveSub, subs []ethereum.Subscription, logs <-chan types.Log) {
	defer close(sub.done)
	defer func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}()
	var resErr <-chan error
	if len(subs) > 1 {
		resErr = subs[1].Err()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case l := <-logs:
			if ctx.Err() != nil {
				return
			}
			ix.handle(ctx, chainID, l)
			if err := ix.chains.AdvanceOffset(ctx, chainID, l.BlockNumber+1); err != nil {
				ix.logger.WarnContext(ctx, "indexer: checkpoint write failed",
					slog.Int64("chain_id", chainID),
					slog.Uint64("block", l.BlockNumber),
					slog.String("error", err.Error()),
				)
			}
		case err := <-subs[0].Err():
			ix.dropped(ctx, chainID, sub, err)
			return
		case err := <-resErr:
			ix.dropped(ctx, chainID, sub, err)
			return
		}
	}
}

// dropped reconnects a chain whose subscription failed. A follower that
// has been replaced leaves the chain to its successor.
func (ix *Indexer) dropped(ctx context.Context, chainID int64, sub *liveSub, err error) {
	if ctx.Err() != nil {
		return
	}
	ix.mu.Lock()
	current := ix.live[chainID] == sub
	if current {
		delete(ix.live, chainID)
	}
	ix.mu.Unlock()
	if !current {
		return
	}
	msg := "closed"
	if err != nil {
		msg = err.Error()
	}
	ix.logger.WarnContext(ctx, "indexer: subscription dropped, reconnecting",
		slog.Int64("chain_id", chainID),
		slog.Duration("delay", ix.cfg.ReconnectDelay),
		slog.String("error", msg),
	)
	sub.cancel()
	ix.networks.DetachWS(chainID)
	ix.scheduleReconnect(ctx, chainID)
}

func (ix *Indexer) scheduleReconnect(ctx context.Context, chainID int64) {
	err := ix.networks.ScheduleReconnect(chainID, ix.cfg.ReconnectDelay, func() { ix.startChain(chainID) })
	if err != nil {
		ix.logger.ErrorContext(ctx, "indexer: cannot schedule reconnect",
			slog.Int64("chain_id", chainID),
			slog.String("error", err.Error()),
		)
	}
}

func (ix *Indexer) stopLive(chainID int64) {
	ix.mu.Lock()
	sub, ok := ix.live[chainID]
	delete(ix.live, chainID)
	ix.mu.Unlock()
	if ok {
		sub.stop()
	}
}
