// Package amm prices and executes trades against a market's automated
// market maker. Each pricing model is a MarketMaker; the Registry picks one by
// market type.
package amm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketcore/internal/account"
	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm"
)

// MarketMaker is the capability every pricing model offers.
type MarketMaker interface {
	// Price quotes the collateral cost of buying amount of an outcome.
	Price(ctx context.Context, m domain.PredictionMarket, outcomeIndex int, amount decimal.Decimal) (decimal.Decimal, error)
	Buy(ctx context.Context, trader *account.Account, m domain.PredictionMarket, amount decimal.Decimal, outcomeIndex int, manualLimit *decimal.Decimal) (Trade, error)
	Sell(ctx context.Context, trader *account.Account, m domain.PredictionMarket, amount decimal.Decimal, outcomeIndex int, manualLimit *decimal.Decimal) (Trade, error)
	// MarginalPrice is the instantaneous price of an outcome, for display only.
	MarginalPrice(ctx context.Context, m domain.PredictionMarket, outcomeIndex int) (decimal.Decimal, error)
}

// Networks gives access to a chain's provider and configuration.
type Networks interface {
	Get(chainID int64) (*evm.Network, error)
}

// Trade is an executed trade.
type Trade struct {
	MarketID     int64
	OutcomeIndex int
	// Amounts is the signed vector sent to the market maker.
	Amounts []*big.Int
	// Cost is the quoted net cost in collateral; negative for a sale.
	Cost decimal.Decimal
	// CollateralLimit is the signed limit the trade was executed with.
	CollateralLimit decimal.Decimal
	TxHash          string
	BlockNumber     uint64
}

// OutcomeVector builds the n-entry vector that is zero everywhere except at
// idx, where it holds amount multiplied by sign.
func OutcomeVector(n, idx int, amount *big.Int, sign int) ([]*big.Int, error) {
	if idx < 0 || idx >= n {
		return nil, fmt.Errorf("%w: outcome index %d out of range [0,%d)", domain.ErrValidation, idx, n)
	}
	v := make([]*big.Int, n)
	for i := range v {
		v[i] = new(big.Int)
	}
	v[idx].Mul(amount, big.NewInt(int64(sign)))
	return v, nil
}

// Unsupported is the market maker of a type that is known but not
// implemented. Every call fails with domain.ErrNotImplemented.
type Unsupported struct {
	Type domain.MarketType
}

func (u Unsupported) err(op string) error {
	return fmt.Errorf("amm: %s on %q market: %w", op, u.Type, domain.ErrNotImplemented)
}

func (u Unsupported) Price(context.Context, domain.PredictionMarket, int, decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, u.err("price")
}

func (u Unsupported) Buy(context.Context, *account.Account, domain.PredictionMarket, decimal.Decimal, int, *decimal.Decimal) (Trade, error) {
	return Trade{}, u.err("buy")
}

func (u Unsupported) Sell(context.Context, *account.Account, domain.PredictionMarket, decimal.Decimal, int, *decimal.Decimal) (Trade, error) {
	return Trade{}, u.err("sell")
}

func (u Unsupported) MarginalPrice(context.Context, domain.PredictionMarket, int) (decimal.Decimal, error) {
	return decimal.Zero, u.err("marginal price")
}

// Registry maps market types to their market maker.
type Registry struct {
	makers map[domain.MarketType]MarketMaker
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{makers: make(map[domain.MarketType]MarketMaker)}
}

// Register installs mm for t, replacing any previous one.
func (r *Registry) Register(t domain.MarketType, mm MarketMaker) {
	r.makers[t] = mm
}

// For returns the market maker for t. Types without one get Unsupported.
func (r *Registry) For(t domain.MarketType) MarketMaker {
	if mm, ok := r.makers[t]; ok {
		return mm
	}
	return Unsupported{Type: t}
}
