package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm"
)

// Signal bus channels and streams.
const (
	ChannelPrices     = "prices"
	ChannelMarkets    = "markets"
	StreamResolutions = "stream:resolutions"
)

// ApplyTrade records a decoded trade in the statistics and refreshes the
// market's outcome prices. Trades for unknown or closed markets are skipped,
// and a trade that was already recorded is a no-op.
func (o *Orchestrator) ApplyTrade(ctx context.Context, ev domain.TradeEvent) error {
	m, err := o.Markets.GetByAddress(ctx, ev.Ref.ChainID, ev.MarketAddress)
	if errors.Is(err, domain.ErrNotFound) {
		o.logger.DebugContext(ctx, "settlement: trade for unknown market skipped",
			slog.String("market", ev.MarketAddress),
			slog.String("log", ev.Ref.String()),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("settlement: apply trade %s: %w", ev.Ref, err)
	}
	now := o.now()
	if !m.IsOpen(now) {
		o.logger.DebugContext(ctx, "settlement: trade for market that is not open skipped",
			slog.Int64("market_id", m.ID),
			slog.String("status", string(m.Status(now))),
			slog.String("log", ev.Ref.String()),
		)
		return nil
	}

	vector, err := ev.AmountVector(m.NumberOfOutcomes())
	if err != nil {
		return fmt.Errorf("settlement: apply trade %s: %w", ev.Ref, err)
	}
	net, err := o.Networks.Get(m.ChainID)
	if err != nil {
		return fmt.Errorf("settlement: apply trade %s: %w", ev.Ref, err)
	}
	dec, err := o.Tokens.Decimals(ctx, net.HTTP, m.ChainID, common.HexToAddress(m.Collateral.Address))
	if err != nil {
		return fmt.Errorf("settlement: apply trade %s: %w", ev.Ref, err)
	}

	rec := domain.TradeRecord{
		Ref:        ev.Ref,
		MarketID:   m.ID,
		Trader:     ev.Trader,
		Amounts:    make([]decimal.Decimal, len(vector)),
		NetCost:    evm.FromBaseUnits(ev.NetCost, dec),
		Fee:        evm.FromBaseUnits(ev.Fee, dec),
		RecordedAt: now.UTC(),
	}
	for i, v := range vector {
		rec.Amounts[i] = evm.FromBaseUnits(v, dec)
	}
	applied, err := o.Stats.ApplyTrade(ctx, rec)
	if err != nil {
		return fmt.Errorf("settlement: apply trade %s: %w", ev.Ref, err)
	}
	if !applied {
		o.logger.DebugContext(ctx, "settlement: trade already recorded", slog.String("log", ev.Ref.String()))
		return nil
	}

	o.refreshPrices(ctx, m)
	return nil
}

// refreshPrices reads every outcome's marginal price concurrently and stores
// the results. Failures are logged; the trade itself is already recorded.
func (o *Orchestrator) refreshPrices(ctx context.Context, m domain.PredictionMarket) {
	mm := o.Makers.For(m.Type)
	prices := make([]decimal.Decimal, m.NumberOfOutcomes())

	g, gctx := errgroup.WithContext(ctx)
	for i := range prices {
		g.Go(func() error {
			p, err := mm.MarginalPrice(gctx, m, i)
			if err != nil {
				return err
			}
			prices[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, domain.ErrNotImplemented) {
			level = slog.LevelDebug
		}
		o.logger.Log(ctx, level, "settlement: price refresh failed",
			slog.Int64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	now := o.now()
	for i, p := range prices {
		idx := m.Outcomes[i].TokenIndex
		if err := o.Markets.UpdateOutcomePrice(ctx, m.ID, idx, p); err != nil {
			o.logger.WarnContext(ctx, "settlement: store price failed",
				slog.Int64("market_id", m.ID),
				slog.Int("outcome", idx),
				slog.String("error", err.Error()),
			)
		}
		if o.Prices != nil {
			if err := o.Prices.SetPrice(ctx, m.ID, idx, p, now); err != nil {
				o.logger.WarnContext(ctx, "settlement: cache price failed",
					slog.Int64("market_id", m.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	payload, _ := json.Marshal(map[string]any{
		"event":     "prices_updated",
		"market_id": m.ID,
		"prices":    prices,
		"timestamp": now.UTC(),
	})
	o.publish(ctx, ChannelPrices, payload)
}

// ApplyResolution stamps a market resolved, sets its trueness ratios and
// notifies the winners. Delivering the same resolution twice is harmless.
func (o *Orchestrator) ApplyResolution(ctx context.Context, r domain.Resolution) error {
	m, err := o.Markets.GetByConditionID(ctx, r.Ref.ChainID, r.ConditionID)
	if errors.Is(err, domain.ErrNotFound) {
		o.logger.WarnContext(ctx, "settlement: resolution for unknown condition skipped",
			slog.String("condition_id", r.ConditionID),
			slog.String("log", r.Ref.String()),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("settlement: apply resolution %s: %w", r.Ref, err)
	}
	if len(r.Payouts) != m.NumberOfOutcomes() {
		return fmt.Errorf("settlement: apply resolution %s: %w: %d payouts for %d outcomes",
			r.Ref, domain.ErrValidation, len(r.Payouts), m.NumberOfOutcomes())
	}

	ratios := r.TruenessRatios()
	resolvedAt := o.now().UTC()
	changed, err := o.Markets.SetResolution(ctx, m.ID, resolvedAt, ratios)
	if err != nil {
		return fmt.Errorf("settlement: apply resolution %s: %w", r.Ref, err)
	}
	if !changed {
		o.logger.InfoContext(ctx, "settlement: market already resolved",
			slog.Int64("market_id", m.ID),
			slog.String("log", r.Ref.String()),
		)
		return nil
	}
	m.ResolvedAt = &resolvedAt
	for i := range m.Outcomes {
		ratio := ratios[i]
		m.Outcomes[i].TruenessRatio = &ratio
	}

	winners, err := o.winners(ctx, m, ratios)
	if err != nil {
		return fmt.Errorf("settlement: apply resolution %s: %w", r.Ref, err)
	}

	o.audit(ctx, "market_resolved", map[string]any{
		"market_id": m.ID,
		"ratios":    ratios,
		"winners":   len(winners),
		"tx":        r.Ref.TxHash,
	})
	payload, _ := json.Marshal(map[string]any{
		"event":     "market_resolved",
		"market_id": m.ID,
		"ratios":    ratios,
	})
	o.publish(ctx, ChannelMarkets, payload)
	o.appendStream(ctx, StreamResolutions, payload)

	if o.Notifier != nil {
		if err := o.Notifier.NotifyResolved(ctx, m, winners); err != nil {
			o.logger.WarnContext(ctx, "settlement: resolution notification failed",
				slog.Int64("market_id", m.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	o.logger.InfoContext(ctx, "settlement: market resolved",
		slog.Int64("market_id", m.ID),
		slog.Int("winners", len(winners)),
	)
	return nil
}

// winners classifies every participation against the trueness ratios.
// Partial ratios have no payout rule yet; those holders are logged and left
// out.
func (o *Orchestrator) winners(ctx context.Context, m domain.PredictionMarket, ratios []decimal.Decimal) ([]string, error) {
	parts, err := o.Stats.ListParticipations(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	byIndex := make(map[int]decimal.Decimal, len(m.Outcomes))
	for i, oc := range m.Outcomes {
		byIndex[oc.TokenIndex] = ratios[i]
	}

	seen := make(map[string]bool)
	var winners []string
	for _, p := range parts {
		ratio, ok := byIndex[p.TokenIndex]
		if !ok {
			continue
		}
		switch domain.Classify(ratio, p.TokenAmount) {
		case domain.ParticipationWon:
			if !seen[p.Trader] {
				seen[p.Trader] = true
				winners = append(winners, p.Trader)
			}
		case domain.ParticipationUndetermined:
			o.logger.WarnContext(ctx, "settlement: partial trueness ratio has no payout rule",
				slog.Int64("market_id", m.ID),
				slog.Int("outcome", p.TokenIndex),
				slog.String("ratio", ratio.String()),
				slog.String("trader", p.Trader),
			)
		}
	}
	sort.Strings(winners)
	return winners, nil
}
