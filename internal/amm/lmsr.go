package amm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketcore/internal/account"
	"github.com/alanyoungcy/marketcore/internal/collateral"
	"github.com/alanyoungcy/marketcore/internal/contracts"
	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm"
	"github.com/alanyoungcy/marketcore/internal/gateway"
)

var hundred = decimal.NewFromInt(100)

// LMSR trades against logarithmic market scoring rule market makers.
type LMSR struct {
	gw       *gateway.Gateway
	tokens   *collateral.Tokens
	networks Networks
	slippage decimal.Decimal
	logger   *slog.Logger
}

// NewLMSR creates an LMSR market maker. slippagePct inflates every buy
// quote before it is checked against the trader's balance.
func NewLMSR(gw *gateway.Gateway, tokens *collateral.Tokens, networks Networks, slippagePct float64, logger *slog.Logger) *LMSR {
	return &LMSR{
		gw:       gw,
		tokens:   tokens,
		networks: networks,
		slippage: decimal.NewFromFloat(slippagePct),
		logger:   logger.With(slog.String("component", "amm.lmsr")),
	}
}

// WithSlippage inflates cost by the configured percentage, rounding up so the
// result is never below cost.
func (l *LMSR) WithSlippage(cost *big.Int) *big.Int {
	factor := hundred.Add(l.slippage).Div(hundred)
	return decimal.NewFromBigInt(cost, 0).Mul(factor).Ceil().BigInt()
}

func (l *LMSR) Price(ctx context.Context, m domain.PredictionMarket, outcomeIndex int, amount decimal.Decimal) (decimal.Decimal, error) {
	if err := evm.MustPositive(amount, "amount"); err != nil {
		return decimal.Zero, fmt.Errorf("amm: price: %w: %v", domain.ErrValidation, err)
	}
	net, err := l.networks.Get(m.ChainID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amm: price: %w", err)
	}
	dec, err := l.decimals(ctx, net.HTTP, m)
	if err != nil {
		return decimal.Zero, err
	}
	vector, err := OutcomeVector(m.NumberOfOutcomes(), outcomeIndex, evm.ToBaseUnits(amount, dec), 1)
	if err != nil {
		return decimal.Zero, err
	}
	cost, err := l.netCost(ctx, gateway.Options{Client: net.HTTP}, m, vector)
	if err != nil {
		return decimal.Zero, err
	}
	return evm.FromBaseUnits(cost, dec), nil
}

func (l *LMSR) Buy(ctx context.Context, trader *account.Account, m domain.PredictionMarket, amount decimal.Decimal, outcomeIndex int, manualLimit *decimal.Decimal) (Trade, error) {
	if err := l.checkTrade(m, amount); err != nil {
		return Trade{}, err
	}
	dec, err := l.decimals(ctx, trader.Client, m)
	if err != nil {
		return Trade{}, err
	}
	vector, err := OutcomeVector(m.NumberOfOutcomes(), outcomeIndex, evm.ToBaseUnits(amount, dec), 1)
	if err != nil {
		return Trade{}, err
	}

	cost, err := l.netCost(ctx, gateway.Options{Runner: trader}, m, vector)
	if err != nil {
		return Trade{}, err
	}
	costForSure := l.WithSlippage(cost)

	token := common.HexToAddress(m.Collateral.Address)
	balance, err := l.tokens.BalanceOf(ctx, trader.Client, token, trader.Address())
	if err != nil {
		return Trade{}, fmt.Errorf("amm: buy: %w", err)
	}
	if costForSure.Cmp(balance) > 0 {
		return Trade{}, &domain.InsufficientFundsError{
			Asset:     assetName(m.Collateral),
			Required:  evm.FromBaseUnits(costForSure, dec),
			Available: evm.FromBaseUnits(balance, dec),
		}
	}

	mmAddr := common.HexToAddress(m.Address)
	if _, err := l.tokens.Approve(ctx, trader, token, mmAddr, costForSure); err != nil {
		return Trade{}, fmt.Errorf("amm: buy: %w", err)
	}

	limit := costForSure
	if manualLimit != nil {
		if manual := evm.ToBaseUnits(*manualLimit, dec); manual.Cmp(limit) < 0 {
			limit = manual
		}
	}
	return l.trade(ctx, trader, m, outcomeIndex, vector, cost, limit, dec)
}

// Sell sells amount of an outcome. manualLimit, when set, is the minimum
// collateral the trader accepts in return.
func (l *LMSR) Sell(ctx context.Context, trader *account.Account, m domain.PredictionMarket, amount decimal.Decimal, outcomeIndex int, manualLimit *decimal.Decimal) (Trade, error) {
	if err := l.checkTrade(m, amount); err != nil {
		return Trade{}, err
	}
	net, err := l.networks.Get(m.ChainID)
	if err != nil {
		return Trade{}, fmt.Errorf("amm: sell: %w", err)
	}
	if !common.IsHexAddress(net.Chain.ConditionalTokensAddress) {
		return Trade{}, fmt.Errorf("amm: sell: chain %d has no conditional tokens contract: %w", m.ChainID, domain.ErrConfiguration)
	}
	dec, err := l.decimals(ctx, trader.Client, m)
	if err != nil {
		return Trade{}, err
	}
	vector, err := OutcomeVector(m.NumberOfOutcomes(), outcomeIndex, evm.ToBaseUnits(amount, dec), -1)
	if err != nil {
		return Trade{}, err
	}

	ct := contracts.ConditionalTokens(common.HexToAddress(net.Chain.ConditionalTokensAddress))
	mmAddr := common.HexToAddress(m.Address)
	res, err := l.gw.Invoke(ctx, ct, gateway.Options{Method: "isApprovedForAll", View: true, Runner: trader}, trader.Address(), mmAddr)
	if err != nil {
		return Trade{}, fmt.Errorf("amm: sell: approval check: %w", err)
	}
	if approved, _ := res.Values[0].(bool); !approved {
		if _, err := l.gw.Invoke(ctx, ct, gateway.Options{Method: "setApprovalForAll", Runner: trader, DontWait: true}, mmAddr, true); err != nil {
			return Trade{}, fmt.Errorf("amm: sell: approve market maker: %w", err)
		}
	}

	cost, err := l.netCost(ctx, gateway.Options{Runner: trader}, m, vector)
	if err != nil {
		return Trade{}, err
	}
	limit := cost
	if manualLimit != nil {
		if manual := new(big.Int).Neg(evm.ToBaseUnits(*manualLimit, dec)); manual.Cmp(limit) < 0 {
			limit = manual
		}
	}
	return l.trade(ctx, trader, m, outcomeIndex, vector, cost, limit, dec)
}

func (l *LMSR) MarginalPrice(ctx context.Context, m domain.PredictionMarket, outcomeIndex int) (decimal.Decimal, error) {
	if err := m.CheckOutcome(outcomeIndex); err != nil {
		return decimal.Zero, err
	}
	net, err := l.networks.Get(m.ChainID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("amm: marginal price: %w", err)
	}
	res, err := l.gw.Invoke(ctx, contracts.LMSRMarketMaker(common.HexToAddress(m.Address)),
		gateway.Options{Method: "calcMarginalPrice", View: true, Client: net.HTTP}, uint8(outcomeIndex))
	if err != nil {
		return decimal.Zero, fmt.Errorf("amm: marginal price: %w", err)
	}
	p, ok := res.Values[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("amm: marginal price: unexpected %T: %w", res.Values[0], domain.ErrInternal)
	}
	return evm.FromFixed64(p), nil
}

func (l *LMSR) checkTrade(m domain.PredictionMarket, amount decimal.Decimal) error {
	if err := evm.MustPositive(amount, "amount"); err != nil {
		return fmt.Errorf("amm: %w: %v", domain.ErrValidation, err)
	}
	if !m.IsOpen(time.Now()) {
		return fmt.Errorf("amm: market %d is %s: %w", m.ID, m.Status(time.Now()), domain.ErrValidation)
	}
	return nil
}

func (l *LMSR) decimals(ctx context.Context, client evm.Client, m domain.PredictionMarket) (uint8, error) {
	dec, err := l.tokens.Decimals(ctx, client, m.ChainID, common.HexToAddress(m.Collateral.Address))
	if err != nil {
		return 0, fmt.Errorf("amm: %w", err)
	}
	return dec, nil
}

func (l *LMSR) netCost(ctx context.Context, opts gateway.Options, m domain.PredictionMarket, vector []*big.Int) (*big.Int, error) {
	opts.Method = "calcNetCost"
	opts.View = true
	res, err := l.gw.Invoke(ctx, contracts.LMSRMarketMaker(common.HexToAddress(m.Address)), opts, vector)
	if err != nil {
		return nil, fmt.Errorf("amm: quote market %d: %w", m.ID, err)
	}
	cost, ok := res.Values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("amm: quote market %d: unexpected %T: %w", m.ID, res.Values[0], domain.ErrInternal)
	}
	return cost, nil
}

func (l *LMSR) trade(ctx context.Context, trader *account.Account, m domain.PredictionMarket, outcomeIndex int, vector []*big.Int, cost, limit *big.Int, dec uint8) (Trade, error) {
	res, err := l.gw.Invoke(ctx, contracts.LMSRMarketMaker(common.HexToAddress(m.Address)),
		gateway.Options{Method: "trade", Runner: trader}, vector, limit)
	if err != nil {
		return Trade{}, fmt.Errorf("amm: trade on market %d: %w", m.ID, err)
	}
	t := Trade{
		MarketID:        m.ID,
		OutcomeIndex:    outcomeIndex,
		Amounts:         vector,
		Cost:            evm.FromBaseUnits(cost, dec),
		CollateralLimit: evm.FromBaseUnits(limit, dec),
		TxHash:          res.TxHash().Hex(),
	}
	if res.Receipt != nil && res.Receipt.BlockNumber != nil {
		t.BlockNumber = res.Receipt.BlockNumber.Uint64()
	}
	l.logger.InfoContext(ctx, "amm: trade executed",
		slog.Int64("market_id", m.ID),
		slog.Int("outcome", outcomeIndex),
		slog.String("trader", trader.Address().Hex()),
		slog.String("cost", t.Cost.String()),
		slog.String("tx", t.TxHash),
	)
	return t, nil
}

func assetName(c domain.CollateralToken) string {
	if c.Symbol != "" {
		return c.Symbol
	}
	return c.Address
}
