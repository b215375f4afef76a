package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketcore/internal/account"
	"github.com/alanyoungcy/marketcore/internal/contracts"
	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/gateway"
)

// Resolve reports payouts for m through its oracle and returns the
// transaction hash. Only centralized oracles are supported.
func (o *Orchestrator) Resolve(ctx context.Context, m domain.PredictionMarket, payouts []*big.Int) (string, error) {
	if len(payouts) != m.NumberOfOutcomes() {
		return "", fmt.Errorf("settlement: resolve market %d: %w: %d payouts for %d outcomes", m.ID, domain.ErrValidation, len(payouts), m.NumberOfOutcomes())
	}
	total := new(big.Int)
	for i, p := range payouts {
		if p == nil || p.Sign() < 0 {
			return "", fmt.Errorf("settlement: resolve market %d: %w: payout %d is negative", m.ID, domain.ErrValidation, i)
		}
		total.Add(total, p)
	}
	if total.Sign() == 0 {
		return "", fmt.Errorf("settlement: resolve market %d: %w: all payouts are zero", m.ID, domain.ErrValidation)
	}

	switch m.Oracle.Type {
	case domain.OracleCentralized:
	case domain.OracleDecentralized:
		return "", fmt.Errorf("settlement: resolve market %d via decentralized oracle: %w", m.ID, domain.ErrNotImplemented)
	default:
		return "", fmt.Errorf("settlement: resolve market %d: unknown oracle type %q: %w", m.ID, m.Oracle.Type, domain.ErrConfiguration)
	}

	net, err := o.network(m.ChainID)
	if err != nil {
		return "", fmt.Errorf("settlement: resolve: %w", err)
	}
	oracle, err := o.Accounts.ForOwner(ctx, domain.OwnerOracle, m.Oracle.OwnerID, net.client)
	if err != nil {
		return "", fmt.Errorf("settlement: resolve: oracle account: %w", err)
	}
	if common.IsHexAddress(m.Oracle.Address) && common.HexToAddress(m.Oracle.Address) != oracle.Address() {
		return "", fmt.Errorf("settlement: resolve: oracle wallet %s does not match market oracle %s: %w",
			oracle.Address().Hex(), m.Oracle.Address, domain.ErrConfiguration)
	}

	res, err := o.Gateway.Invoke(ctx, net.ct, gateway.Options{Method: "reportPayouts", Runner: oracle}, common.HexToHash(m.QuestionID), payouts)
	if err != nil {
		return "", fmt.Errorf("settlement: report payouts: %w", err)
	}
	o.archiveReceipt(ctx, m.ChainID, "resolve", res.Receipt)
	o.audit(ctx, "market_resolve", map[string]any{
		"market_id": m.ID,
		"oracle":    oracle.Address().Hex(),
		"payouts":   bigStrings(payouts),
		"tx":        res.TxHash().Hex(),
	})
	o.logger.InfoContext(ctx, "settlement: payouts reported",
		slog.Int64("market_id", m.ID),
		slog.String("tx", res.TxHash().Hex()),
	)
	return res.TxHash().Hex(), nil
}

// IndexSets returns the index set of every outcome of m, one bit per outcome.
func IndexSets(m domain.PredictionMarket) []*big.Int {
	sets := make([]*big.Int, 0, len(m.Outcomes))
	for _, o := range m.Outcomes {
		sets = append(sets, new(big.Int).Lsh(big.NewInt(1), uint(o.TokenIndex)))
	}
	return sets
}

// Redeem redeems user's positions in every outcome of m. The payout is read
// from the PayoutRedemption event; when the receipt has none, PayoutKnown is
// false and Payout must not be trusted.
func (o *Orchestrator) Redeem(ctx context.Context, user *account.Account, m domain.PredictionMarket) (domain.RedeemResult, error) {
	if m.ResolvedAt == nil {
		return domain.RedeemResult{}, fmt.Errorf("settlement: redeem market %d: %w: market is not resolved", m.ID, domain.ErrValidation)
	}
	net, err := o.network(m.ChainID)
	if err != nil {
		return domain.RedeemResult{}, fmt.Errorf("settlement: redeem: %w", err)
	}
	token := common.HexToAddress(m.Collateral.Address)
	res, err := o.Gateway.Invoke(ctx, net.ct, gateway.Options{Method: "redeemPositions", Runner: user},
		token, common.Hash{}, common.HexToHash(m.ConditionID), IndexSets(m))
	if err != nil {
		return domain.RedeemResult{}, fmt.Errorf("settlement: redeem positions: %w", err)
	}

	out := domain.RedeemResult{TxHash: res.TxHash().Hex()}
	if res.Receipt != nil && res.Receipt.BlockNumber != nil {
		out.BlockNumber = res.Receipt.BlockNumber.Uint64()
	}
	logs, err := gateway.EventLogs(res.Receipt, net.ct, contracts.EventPayoutRedemption)
	if err != nil {
		return out, fmt.Errorf("settlement: redeem: %w", err)
	}
	paid := new(big.Int)
	for _, l := range logs {
		if redeemer, _ := l.Args["redeemer"].(common.Address); redeemer != user.Address() {
			continue
		}
		if p, ok := l.Args["payout"].(*big.Int); ok {
			paid.Add(paid, p)
			out.PayoutKnown = true
		}
	}
	if out.PayoutKnown {
		out.Payout, err = o.Tokens.Human(ctx, net.client, m.ChainID, token, paid)
		if err != nil {
			return out, fmt.Errorf("settlement: redeem: %w", err)
		}
	} else {
		o.logger.WarnContext(ctx, "settlement: redemption receipt has no payout event",
			slog.Int64("market_id", m.ID),
			slog.String("tx", out.TxHash),
		)
	}

	o.audit(ctx, "market_redeem", map[string]any{
		"market_id":    m.ID,
		"redeemer":     user.Address().Hex(),
		"payout":       out.Payout.String(),
		"payout_known": out.PayoutKnown,
		"tx":           out.TxHash,
	})
	return out, nil
}

func bigStrings(vs []*big.Int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.String()
	}
	return out
}
