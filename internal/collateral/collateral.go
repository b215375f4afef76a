// Package collateral talks to the ERC20 tokens markets are denominated in.
package collateral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketcore/internal/account"
	"github.com/alanyoungcy/marketcore/internal/contracts"
	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm"
	"github.com/alanyoungcy/marketcore/internal/gateway"
)

const defaultCacheSize = 256

// Tokens resolves token metadata and moves collateral through the gateway.
// Decimals are looked up on first use and remembered in process and, when a
// shared cache is configured, across processes.
type Tokens struct {
	gw     *gateway.Gateway
	shared domain.DecimalsCache
	local  *lru.Cache
	logger *slog.Logger
}

// New creates a Tokens. shared may be nil.
func New(gw *gateway.Gateway, shared domain.DecimalsCache, cacheSize int, logger *slog.Logger) (*Tokens, error) {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	local, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("collateral: decimals cache: %w", err)
	}
	return &Tokens{
		gw:     gw,
		shared: shared,
		local:  local,
		logger: logger.With(slog.String("component", "collateral")),
	}, nil
}

func cacheKey(chainID int64, token common.Address) string {
	return fmt.Sprintf("%d:%s", chainID, strings.ToLower(token.Hex()))
}

// Decimals returns the token's decimals, reading the contract only the first
// time the value is unknown.
func (t *Tokens) Decimals(ctx context.Context, client evm.Client, chainID int64, token common.Address) (uint8, error) {
	key := cacheKey(chainID, token)
	if v, ok := t.local.Get(key); ok {
		return v.(uint8), nil
	}

	if t.shared != nil {
		d, err := t.shared.GetDecimals(ctx, chainID, token.Hex())
		switch {
		case err == nil:
			t.local.Add(key, d)
			return d, nil
		case !errors.Is(err, domain.ErrNotFound):
			t.logger.WarnContext(ctx, "collateral: decimals cache read failed",
				slog.String("token", token.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}

	res, err := t.gw.Invoke(ctx, contracts.ERC20(token), gateway.Options{Method: "decimals", View: true, Client: client})
	if err != nil {
		return 0, fmt.Errorf("collateral: decimals of %s: %w", token.Hex(), err)
	}
	d, ok := res.Values[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("collateral: decimals of %s: unexpected %T", token.Hex(), res.Values[0])
	}
	t.local.Add(key, d)
	if t.shared != nil {
		if err := t.shared.SetDecimals(ctx, chainID, token.Hex(), d); err != nil {
			t.logger.WarnContext(ctx, "collateral: decimals cache write failed",
				slog.String("token", token.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return d, nil
}

// Symbol reads the token symbol.
func (t *Tokens) Symbol(ctx context.Context, client evm.Client, token common.Address) (string, error) {
	res, err := t.gw.Invoke(ctx, contracts.ERC20(token), gateway.Options{Method: "symbol", View: true, Client: client})
	if err != nil {
		return "", fmt.Errorf("collateral: symbol of %s: %w", token.Hex(), err)
	}
	s, _ := res.Values[0].(string)
	return s, nil
}

// BalanceOf returns owner's balance in the token's smallest unit.
func (t *Tokens) BalanceOf(ctx context.Context, client evm.Client, token, owner common.Address) (*big.Int, error) {
	res, err := t.gw.Invoke(ctx, contracts.ERC20(token), gateway.Options{Method: "balanceOf", View: true, Client: client}, owner)
	if err != nil {
		return nil, fmt.Errorf("collateral: balance of %s: %w", owner.Hex(), err)
	}
	v, ok := res.Values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("collateral: balance of %s: unexpected %T", owner.Hex(), res.Values[0])
	}
	return v, nil
}

// Approve lets spender pull amount of token from the runner.
func (t *Tokens) Approve(ctx context.Context, runner *account.Account, token, spender common.Address, amount *big.Int) (*gateway.Result, error) {
	res, err := t.gw.Invoke(ctx, contracts.ERC20(token), gateway.Options{Method: "approve", Runner: runner}, spender, amount)
	if err != nil {
		return nil, fmt.Errorf("collateral: approve %s for %s: %w", amount, spender.Hex(), err)
	}
	return res, nil
}

// Deposit wraps amount of the native token into token. Only WETH-style
// tokens support it.
func (t *Tokens) Deposit(ctx context.Context, runner *account.Account, token common.Address, amount *big.Int) (*gateway.Result, error) {
	res, err := t.gw.Invoke(ctx, contracts.ERC20(token), gateway.Options{Method: "deposit", Runner: runner, Value: amount})
	if err != nil {
		return nil, fmt.Errorf("collateral: deposit %s into %s: %w", amount, token.Hex(), err)
	}
	return res, nil
}

// EnsureBalance tops runner up to at least amount by depositing the missing
// part. It returns the deposit result, or nil when nothing was needed.
func (t *Tokens) EnsureBalance(ctx context.Context, runner *account.Account, token common.Address, amount *big.Int) (*gateway.Result, error) {
	have, err := t.BalanceOf(ctx, runner.Client, token, runner.Address())
	if err != nil {
		return nil, err
	}
	if have.Cmp(amount) >= 0 {
		return nil, nil
	}
	missing := new(big.Int).Sub(amount, have)
	t.logger.InfoContext(ctx, "collateral: topping up",
		slog.String("token", token.Hex()),
		slog.String("account", runner.Address().Hex()),
		slog.String("missing", missing.String()),
	)
	return t.Deposit(ctx, runner, token, missing)
}

// Human converts a smallest-unit amount of token into a decimal.
func (t *Tokens) Human(ctx context.Context, client evm.Client, chainID int64, token common.Address, v *big.Int) (decimal.Decimal, error) {
	d, err := t.Decimals(ctx, client, chainID, token)
	if err != nil {
		return decimal.Zero, err
	}
	return evm.FromBaseUnits(v, d), nil
}
