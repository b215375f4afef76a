// Package service exposes the core operations to the outer layer: market
// deployment, pricing and trading, resolution and redemption, and indexer
// control.
package service

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketcore/internal/account"
	"github.com/alanyoungcy/marketcore/internal/amm"
	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm"
)

// Settler drives the on-chain market lifecycle.
type Settler interface {
	Deploy(ctx context.Context, req domain.DeployRequest) (domain.DeploymentResult, error)
	Resolve(ctx context.Context, m domain.PredictionMarket, payouts []*big.Int) (string, error)
	Redeem(ctx context.Context, user *account.Account, m domain.PredictionMarket) (domain.RedeemResult, error)
}

// ChainSync controls the indexer.
type ChainSync interface {
	ReloadChains(ctx context.Context) error
	CheckoutChainLogs(ctx context.Context, chainID int64) error
}

// Accounts binds owner wallets to a chain provider and stores imported keys.
type Accounts interface {
	ForOwner(ctx context.Context, kind domain.OwnerKind, ownerID string, client evm.Client) (*account.Account, error)
	Import(ctx context.Context, kind domain.OwnerKind, ownerID string, key *ecdsa.PrivateKey, force bool) (domain.Wallet, error)
}

// Networks gives access to a chain's provider.
type Networks interface {
	Get(chainID int64) (*evm.Network, error)
}

// DeployInput describes a market to create through a stored factory.
type DeployInput struct {
	FactoryID        int64
	Collateral       domain.CollateralToken
	Question         string
	Outcomes         []string
	InitialLiquidity decimal.Decimal
	Oracle           domain.Oracle
	StartsAt         *time.Time
	ClosesAt         *time.Time
}

// Core is the facade over the settlement, trading and indexing components.
type Core struct {
	markets   domain.MarketStore
	factories domain.FactoryStore
	chains    domain.ChainStore
	accounts  Accounts
	networks  Networks
	makers    *amm.Registry
	settler   Settler
	sync      ChainSync
	logger    *slog.Logger
}

// NewCore creates a Core. sync may be nil when no indexer runs in-process.
func NewCore(
	markets domain.MarketStore,
	factories domain.FactoryStore,
	chains domain.ChainStore,
	accounts Accounts,
	networks Networks,
	makers *amm.Registry,
	settler Settler,
	sync ChainSync,
	logger *slog.Logger,
) *Core {
	return &Core{
		markets:   markets,
		factories: factories,
		chains:    chains,
		accounts:  accounts,
		networks:  networks,
		makers:    makers,
		settler:   settler,
		sync:      sync,
		logger:    logger.With(slog.String("component", "core")),
	}
}

// Deploy creates the market on chain and persists it with its outcomes in
// token index order.
func (c *Core) Deploy(ctx context.Context, in DeployInput) (domain.PredictionMarket, domain.DeploymentResult, error) {
	factory, err := c.factories.GetByID(ctx, in.FactoryID)
	if err != nil {
		return domain.PredictionMarket{}, domain.DeploymentResult{}, fmt.Errorf("core: factory %d: %w", in.FactoryID, err)
	}
	res, err := c.settler.Deploy(ctx, domain.DeployRequest{
		ChainID:          factory.ChainID,
		Factory:          factory,
		Collateral:       in.Collateral,
		Question:         in.Question,
		Outcomes:         in.Outcomes,
		InitialLiquidity: in.InitialLiquidity,
		Oracle:           in.Oracle,
	})
	if err != nil {
		return domain.PredictionMarket{}, domain.DeploymentResult{}, err
	}

	m := domain.PredictionMarket{
		ChainID:     res.ChainID,
		FactoryID:   factory.ID,
		Type:        factory.MarketType,
		Question:    in.Question,
		QuestionID:  res.QuestionID,
		ConditionID: res.ConditionID,
		Address:     res.MarketMakerAddress,
		Collateral:  in.Collateral,
		Oracle:      in.Oracle,
		StartedAt:   in.StartsAt,
		ClosedAt:    in.ClosesAt,
	}
	for i, title := range in.Outcomes {
		m.Outcomes = append(m.Outcomes, domain.ConditionalToken{TokenIndex: i, Title: title})
	}
	stored, err := c.markets.Create(ctx, m)
	if err != nil {
		// The market exists on chain; the result carries what is needed to
		// persist it by hand.
		c.logger.ErrorContext(ctx, "core: deployed market could not be stored",
			slog.Int64("chain_id", res.ChainID),
			slog.String("condition_id", res.ConditionID),
			slog.String("market_maker", res.MarketMakerAddress),
			slog.String("error", err.Error()),
		)
		return domain.PredictionMarket{}, res, fmt.Errorf("core: store deployed market: %w", err)
	}
	return stored, res, nil
}

// Price quotes buying amount of an outcome.
func (c *Core) Price(ctx context.Context, marketID int64, outcomeIndex int, amount decimal.Decimal) (decimal.Decimal, error) {
	m, err := c.market(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	return c.makers.For(m.Type).Price(ctx, m, outcomeIndex, amount)
}

// MarginalPrice reports an outcome's instantaneous price.
func (c *Core) MarginalPrice(ctx context.Context, marketID int64, outcomeIndex int) (decimal.Decimal, error) {
	m, err := c.market(ctx, marketID)
	if err != nil {
		return decimal.Zero, err
	}
	return c.makers.For(m.Type).MarginalPrice(ctx, m, outcomeIndex)
}

// Buy buys amount of an outcome for userID. A non-nil manualLimit caps the
// collateral spent.
func (c *Core) Buy(ctx context.Context, userID string, marketID int64, amount decimal.Decimal, outcomeIndex int, manualLimit *decimal.Decimal) (amm.Trade, error) {
	m, trader, err := c.marketAndUser(ctx, userID, marketID)
	if err != nil {
		return amm.Trade{}, err
	}
	return c.makers.For(m.Type).Buy(ctx, trader, m, amount, outcomeIndex, manualLimit)
}

// Sell sells amount of an outcome for userID. A non-nil manualLimit is the
// minimum collateral accepted.
func (c *Core) Sell(ctx context.Context, userID string, marketID int64, amount decimal.Decimal, outcomeIndex int, manualLimit *decimal.Decimal) (amm.Trade, error) {
	m, trader, err := c.marketAndUser(ctx, userID, marketID)
	if err != nil {
		return amm.Trade{}, err
	}
	return c.makers.For(m.Type).Sell(ctx, trader, m, amount, outcomeIndex, manualLimit)
}

// Resolve reports the payout vector of a market through its oracle.
func (c *Core) Resolve(ctx context.Context, marketID int64, payouts []*big.Int) (string, error) {
	m, err := c.market(ctx, marketID)
	if err != nil {
		return "", err
	}
	return c.settler.Resolve(ctx, m, payouts)
}

// Redeem redeems userID's positions in a resolved market.
func (c *Core) Redeem(ctx context.Context, userID string, marketID int64) (domain.RedeemResult, error) {
	m, user, err := c.marketAndUser(ctx, userID, marketID)
	if err != nil {
		return domain.RedeemResult{}, err
	}
	return c.settler.Redeem(ctx, user, m)
}

// ReloadChains re-reads chain configuration and reconnects every chain.
func (c *Core) ReloadChains(ctx context.Context) error {
	if c.sync == nil {
		return fmt.Errorf("core: reload chains: %w: indexer not running", domain.ErrServiceUnavailable)
	}
	return c.sync.ReloadChains(ctx)
}

// CheckoutChainLogs runs one catch-up pass on chainID.
func (c *Core) CheckoutChainLogs(ctx context.Context, chainID int64) error {
	if c.sync == nil {
		return fmt.Errorf("core: checkout chain %d: %w: indexer not running", chainID, domain.ErrServiceUnavailable)
	}
	return c.sync.CheckoutChainLogs(ctx, chainID)
}

// ResetChainOffset moves chainID's checkpoint to offset, backwards included.
// A nil offset restarts the chain from its head. When an indexer is present
// one catch-up pass then runs from the new checkpoint.
func (c *Core) ResetChainOffset(ctx context.Context, chainID int64, offset *uint64) error {
	if err := c.chains.ResetOffset(ctx, chainID, offset); err != nil {
		return fmt.Errorf("core: reset chain %d offset: %w", chainID, err)
	}
	attrs := []any{slog.Int64("chain_id", chainID)}
	if offset != nil {
		attrs = append(attrs, slog.Uint64("offset", *offset))
	}
	c.logger.InfoContext(ctx, "core: chain offset reset", attrs...)
	if c.sync == nil {
		return nil
	}
	return c.sync.CheckoutChainLogs(ctx, chainID)
}

// ImportWallet stores privateKeyHex as the owner's custodial wallet. An
// existing wallet is only replaced when force is set.
func (c *Core) ImportWallet(ctx context.Context, kind domain.OwnerKind, ownerID, privateKeyHex string, force bool) (domain.Wallet, error) {
	switch kind {
	case domain.OwnerOperator, domain.OwnerUser, domain.OwnerOracle:
	default:
		return domain.Wallet{}, fmt.Errorf("core: import wallet: %w: unknown owner kind %q", domain.ErrValidation, kind)
	}
	if strings.TrimSpace(ownerID) == "" {
		return domain.Wallet{}, fmt.Errorf("core: import wallet: %w: empty owner id", domain.ErrValidation)
	}
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("core: import wallet: %w: invalid private key", domain.ErrValidation)
	}
	w, err := c.accounts.Import(ctx, kind, ownerID, key, force)
	if err != nil {
		return domain.Wallet{}, fmt.Errorf("core: %w", err)
	}
	c.logger.InfoContext(ctx, "core: wallet imported",
		slog.String("owner_kind", string(kind)),
		slog.String("owner_id", ownerID),
		slog.String("address", w.Address),
		slog.Bool("replaced", force),
	)
	return w, nil
}

func (c *Core) market(ctx context.Context, id int64) (domain.PredictionMarket, error) {
	m, err := c.markets.GetByID(ctx, id)
	if err != nil {
		return domain.PredictionMarket{}, fmt.Errorf("core: market %d: %w", id, err)
	}
	return m, nil
}

func (c *Core) marketAndUser(ctx context.Context, userID string, marketID int64) (domain.PredictionMarket, *account.Account, error) {
	m, err := c.market(ctx, marketID)
	if err != nil {
		return domain.PredictionMarket{}, nil, err
	}
	net, err := c.networks.Get(m.ChainID)
	if err != nil {
		return domain.PredictionMarket{}, nil, fmt.Errorf("core: market %d: %w", marketID, err)
	}
	user, err := c.accounts.ForOwner(ctx, domain.OwnerUser, userID, net.HTTP)
	if err != nil {
		return domain.PredictionMarket{}, nil, fmt.Errorf("core: user %s: %w", userID, err)
	}
	return m, user, nil
}
