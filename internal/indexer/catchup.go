package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm"
)

func lockKey(chainID int64) string {
	return fmt.Sprintf("catchup:%d", chainID)
}

func transient(op string, err error) error {
	return fmt.Errorf("indexer: %s: %w: %v", op, domain.ErrTransientChain, err)
}

// CheckoutChainLogs sweeps a chain from its checkpoint to the current head.
// A provider failure replaces the HTTP provider and retries the whole pass
// once; what is still missing after that is left for the next pass.
func (ix *Indexer) CheckoutChainLogs(ctx context.Context, chainID int64) error {
	if ix.locks != nil {
		unlock, err := ix.locks.Acquire(ctx, lockKey(chainID), ix.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("indexer: chain %d catch-up: %w", chainID, err)
		}
		defer unlock()
	}

	err := ix.catchUp(ctx, chainID)
	if err == nil || !errors.Is(err, domain.ErrTransientChain) {
		return err
	}
	ix.logger.WarnContext(ctx, "indexer: provider failed during catch-up, replacing it",
		slog.Int64("chain_id", chainID),
		slog.String("error", err.Error()),
	)
	if _, rerr := ix.networks.ReplaceHTTP(ctx, chainID); rerr != nil {
		return fmt.Errorf("indexer: chain %d catch-up: %w (replace provider: %v)", chainID, err, rerr)
	}
	if err := ix.catchUp(ctx, chainID); err != nil {
		return fmt.Errorf("indexer: chain %d catch-up deferred to next pass: %w", chainID, err)
	}
	return nil
}

func (ix *Indexer) catchUp(ctx context.Context, chainID int64) error {
	chain, err := ix.chains.GetByID(ctx, chainID)
	if err != nil {
		return fmt.Errorf("indexer: load chain %d: %w", chainID, err)
	}
	ix.networks.UpdateChain(chain)
	net, err := ix.networks.Get(chainID)
	if err != nil {
		return fmt.Errorf("indexer: %w", err)
	}
	head, err := net.HTTP.BlockNumber(ctx)
	if err != nil {
		return transient(fmt.Sprintf("chain %d head", chainID), err)
	}
	logger := ix.logger.With(slog.Int64("chain_id", chainID))

	if chain.BlockProcessOffset == nil {
		if err := ix.chains.AdvanceOffset(ctx, chainID, head); err != nil {
			return fmt.Errorf("indexer: chain %d checkpoint: %w", chainID, err)
		}
		logger.InfoContext(ctx, "indexer: no checkpoint, starting from head", slog.Uint64("head", head))
		return nil
	}

	from := *chain.BlockProcessOffset
	step := chain.ProcessRange()
	if from <= head {
		logger.InfoContext(ctx, "indexer: catching up",
			slog.Uint64("from", from),
			slog.Uint64("head", head),
			slog.Uint64("range", step),
		)
	}
	for from <= head {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(from+step, head)
		logs, err := ix.windowLogs(ctx, net, from, end)
		if err != nil {
			return err
		}
		for _, l := range logs {
			ix.handle(ctx, chainID, l)
		}
		ix.archiveWindow(ctx, chainID, from, end, logs)
		if err := ix.chains.AdvanceOffset(ctx, chainID, end+1); err != nil {
			return fmt.Errorf("indexer: chain %d checkpoint: %w", chainID, err)
		}
		logger.DebugContext(ctx, "indexer: window processed",
			slog.Uint64("from", from),
			slog.Uint64("to", end),
			slog.Int("logs", len(logs)),
		)
		from = end + 1
	}
	return nil
}

// windowLogs queries trade logs and resolution logs of [from, to] and
// returns them in chain order.
func (ix *Indexer) windowLogs(ctx context.Context, net *evm.Network, from, to uint64) ([]types.Log, error) {
	fromBlock := new(big.Int).SetUint64(from)
	toBlock := new(big.Int).SetUint64(to)

	trades, err := net.HTTP.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: fromBlock,
		ToBlock:   toBlock,
		Topics:    [][]common.Hash{ix.decoder.TradeTopics()},
	})
	if err != nil {
		return nil, transient(fmt.Sprintf("trade logs [%d,%d]", from, to), err)
	}
	logs := trades

	if q, ok := ix.resolutionQuery(net.Chain); ok {
		q.FromBlock = fromBlock
		q.ToBlock = toBlock
		resolutions, err := net.HTTP.FilterLogs(ctx, q)
		if err != nil {
			return nil, transient(fmt.Sprintf("resolution logs [%d,%d]", from, to), err)
		}
		logs = append(logs, resolutions...)
	}

	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
	return logs, nil
}

func (ix *Indexer) resolutionQuery(chain domain.Chain) (ethereum.FilterQuery, bool) {
	if !common.IsHexAddress(chain.ConditionalTokensAddress) {
		return ethereum.FilterQuery{}, false
	}
	return ethereum.FilterQuery{
		Addresses: []common.Address{common.HexToAddress(chain.ConditionalTokensAddress)},
		Topics:    [][]common.Hash{{ix.decoder.ResolutionTopic()}},
	}, true
}

func (ix *Indexer) archiveWindow(ctx context.Context, chainID int64, from, to uint64, logs []types.Log) {
	if !ix.cfg.ArchiveLogs || ix.archiver == nil || len(logs) == 0 {
		return
	}
	if _, err := ix.archiver.ArchiveLogs(ctx, chainID, from, to, logs); err != nil {
		ix.logger.WarnContext(ctx, "indexer: archive window failed",
			slog.Int64("chain_id", chainID),
			slog.Uint64("from", from),
			slog.String("error", err.Error()),
		)
	}
}

// handle decodes and applies one log. Failures are logged and never stop
// the caller; a log is remembered only once it was applied.
func (ix *Indexer) handle(ctx context.Context, chainID int64, l types.Log) {
	if l.Removed {
		return
	}
	key := fmt.Sprintf("%d:%s:%d", chainID, l.TxHash.Hex(), l.Index)
	if ix.seen.Contains(key) {
		return
	}
	logger := ix.logger.With(
		slog.Int64("chain_id", chainID),
		slog.Uint64("block", l.BlockNumber),
		slog.String("tx", l.TxHash.Hex()),
		slog.Uint64("log_index", uint64(l.Index)),
	)

	dec, err := ix.decoder.Decode(chainID, l)
	if errors.Is(err, ErrUnknownTopic) {
		logger.DebugContext(ctx, "indexer: log with unknown topic ignored")
		return
	}
	if err != nil {
		logger.ErrorContext(ctx, "indexer: decode failed", slog.String("error", err.Error()))
		return
	}

	switch {
	case dec.Trade != nil:
		err = ix.processor.ApplyTrade(ctx, *dec.Trade)
	case dec.Resolution != nil:
		err = ix.processor.ApplyResolution(ctx, *dec.Resolution)
	}
	if err != nil {
		logger.ErrorContext(ctx, "indexer: log processing failed", slog.String("error", err.Error()))
		return
	}
	ix.seen.Add(key, struct{}{})
}
