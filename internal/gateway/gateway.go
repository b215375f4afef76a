// Package gateway is the single entry point for contract calls, including gas
// sponsorship of custodial wallets and recovery from nonce conflicts.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/marketcore/internal/account"
	"github.com/alanyoungcy/marketcore/internal/contracts"
	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm"
)

// maxNonceRetries is how many extra attempts a nonce conflict earns.
const maxNonceRetries = 1

// transferGas is the gas of a plain value transfer.
const transferGas = 21_000

// Config controls gas sponsorship.
type Config struct {
	SafetyMarginPct   int
	FundingMultiplier int
	FundingLimit      int
	FundingWindow     time.Duration
}

// Operators resolves the operator account that funds other runners.
type Operators interface {
	OperatorAddress(ctx context.Context) (common.Address, error)
	Operator(ctx context.Context, client evm.Client) (*account.Account, error)
}

// Options describes one invocation.
type Options struct {
	Method string
	View   bool
	// Runner signs mutating calls. View calls use Runner's client when set,
	// otherwise Client.
	Runner *account.Account
	Client evm.Client
	// DontWait returns as soon as the transaction is accepted.
	DontWait                  bool
	PreventNonceMismatchRetry bool
	Value                     *big.Int
}

// Result is what an invocation produced. View calls fill Values; mutating
// calls fill Tx and, unless DontWait was set, Receipt.
type Result struct {
	Values  []any
	Tx      *types.Transaction
	Receipt *types.Receipt
}

// TxHash returns the transaction hash, or the zero hash for view calls.
func (r *Result) TxHash() common.Hash {
	if r == nil || r.Tx == nil {
		return common.Hash{}
	}
	return r.Tx.Hash()
}

// Gateway invokes contract methods.
type Gateway struct {
	cfg       Config
	operators Operators
	limiter   domain.RateLimiter
	audit     domain.AuditStore
	logger    *slog.Logger
}

// New creates a Gateway. limiter and audit may be nil.
func New(cfg Config, operators Operators, limiter domain.RateLimiter, audit domain.AuditStore, logger *slog.Logger) *Gateway {
	if cfg.FundingMultiplier < 1 {
		cfg.FundingMultiplier = 1
	}
	return &Gateway{
		cfg:       cfg,
		operators: operators,
		limiter:   limiter,
		audit:     audit,
		logger:    logger.With(slog.String("component", "gateway")),
	}
}

// Invoke calls opts.Method on c with args.
func (g *Gateway) Invoke(ctx context.Context, c contracts.Contract, opts Options, args ...any) (*Result, error) {
	method, ok := c.ABI.Methods[opts.Method]
	if !ok {
		return nil, fmt.Errorf("gateway: %s has no method %q: %w", c, opts.Method, domain.ErrInternal)
	}
	data, err := c.ABI.Pack(opts.Method, args...)
	if err != nil {
		return nil, fmt.Errorf("gateway: pack %s.%s: %w", c.Name, opts.Method, err)
	}

	if opts.View {
		return g.call(ctx, c, method, opts, data)
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("gateway: %s.%s: mutating call without runner: %w", c.Name, opts.Method, domain.ErrInternal)
	}

	for attempt := 0; ; attempt++ {
		res, err := g.transact(ctx, c, opts, data)
		if err == nil {
			return res, nil
		}
		if !nonceConflict(err) {
			return nil, err
		}
		if opts.PreventNonceMismatchRetry || attempt >= maxNonceRetries {
			return nil, fmt.Errorf("gateway: %s.%s: %w: %w", c.Name, opts.Method, domain.ErrTransientChain, err)
		}
		g.logger.WarnContext(ctx, "gateway: nonce conflict, retrying once",
			slog.String("contract", c.String()),
			slog.String("method", opts.Method),
			slog.String("runner", opts.Runner.Address().Hex()),
			slog.String("error", err.Error()),
		)
		opts.PreventNonceMismatchRetry = true
	}
}

func (g *Gateway) call(ctx context.Context, c contracts.Contract, method abi.Method, opts Options, data []byte) (*Result, error) {
	client := opts.Client
	var from common.Address
	if opts.Runner != nil {
		client = opts.Runner.Client
		from = opts.Runner.Address()
	}
	if client == nil {
		return nil, fmt.Errorf("gateway: view %s.%s without provider: %w", c.Name, opts.Method, domain.ErrInternal)
	}
	to := c.Address
	out, err := client.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("gateway: call %s.%s: %w", c.Name, opts.Method, err)
	}
	values, err := method.Outputs.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("gateway: unpack %s.%s: %w", c.Name, opts.Method, err)
	}
	return &Result{Values: values}, nil
}

func (g *Gateway) transact(ctx context.Context, c contracts.Contract, opts Options, data []byte) (*Result, error) {
	runner := opts.Runner
	client := runner.Client
	to := c.Address
	value := opts.Value
	if value == nil {
		value = new(big.Int)
	}

	msg := ethereum.CallMsg{From: runner.Address(), To: &to, Value: value, Data: data}
	estimate, err := client.EstimateGas(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("gateway: estimate %s.%s: %w", c.Name, opts.Method, err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: gas price: %w: %v", domain.ErrTransientChain, err)
	}
	gasLimit := withMargin(estimate, g.cfg.SafetyMarginPct)

	operator, err := g.operators.OperatorAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	if runner.Address() != operator {
		if err := g.sponsor(ctx, runner, estimate, gasLimit, gasPrice, value); err != nil {
			return nil, err
		}
	}

	tx, err := g.send(ctx, runner, &to, value, data, gasLimit, gasPrice)
	if err != nil {
		return nil, fmt.Errorf("gateway: send %s.%s: %w", c.Name, opts.Method, err)
	}
	g.logger.DebugContext(ctx, "gateway: transaction sent",
		slog.String("contract", c.String()),
		slog.String("method", opts.Method),
		slog.String("tx", tx.Hash().Hex()),
	)
	if opts.DontWait {
		return &Result{Tx: tx}, nil
	}

	receipt, err := g.wait(ctx, client, tx)
	if err != nil {
		return &Result{Tx: tx}, fmt.Errorf("gateway: %s.%s: %w", c.Name, opts.Method, err)
	}
	return &Result{Tx: tx, Receipt: receipt}, nil
}

// sponsor tops up runner when its native balance cannot cover the call.
func (g *Gateway) sponsor(ctx context.Context, runner *account.Account, estimate, gasLimit uint64, gasPrice, value *big.Int) error {
	required := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
	required.Add(required, value)

	balance, err := runner.Balance(ctx)
	if err != nil {
		return fmt.Errorf("gateway: %w: %v", domain.ErrTransientChain, err)
	}
	if balance.Cmp(required) >= 0 {
		return nil
	}

	funding := new(big.Int).Mul(new(big.Int).SetUint64(estimate), big.NewInt(int64(g.cfg.FundingMultiplier)))
	funding.Mul(funding, gasPrice)
	if missing := new(big.Int).Sub(required, balance); funding.Cmp(missing) < 0 {
		funding = missing
	}

	if g.limiter != nil && g.cfg.FundingLimit > 0 {
		key := fmt.Sprintf("funding:%s:%s", runner.ChainID(), runner.Address().Hex())
		allowed, err := g.limiter.Allow(ctx, key, g.cfg.FundingLimit, g.cfg.FundingWindow)
		if err != nil {
			g.logger.WarnContext(ctx, "gateway: funding limiter unavailable", slog.String("error", err.Error()))
		} else if !allowed {
			return fmt.Errorf("gateway: funding %s: %w: %w", runner.Address().Hex(), domain.ErrServiceUnavailable, domain.ErrRateLimited)
		}
	}

	operator, err := g.operators.Operator(ctx, runner.Client)
	if err != nil {
		return fmt.Errorf("gateway: funding: %w", err)
	}
	opBalance, err := operator.Balance(ctx)
	if err != nil {
		return fmt.Errorf("gateway: funding: %w: %v", domain.ErrTransientChain, err)
	}
	transferCost := new(big.Int).Mul(big.NewInt(transferGas), gasPrice)
	transferCost.Add(transferCost, funding)
	if opBalance.Cmp(transferCost) < 0 {
		g.logger.ErrorContext(ctx, "gateway: operator cannot fund runner",
			slog.String("operator", operator.Address().Hex()),
			slog.String("balance", opBalance.String()),
			slog.String("needed", transferCost.String()),
		)
		return fmt.Errorf("gateway: operator balance %s below funding %s: %w", opBalance, transferCost, domain.ErrServiceUnavailable)
	}

	g.logger.InfoContext(ctx, "gateway: funding runner",
		slog.String("runner", runner.Address().Hex()),
		slog.String("amount", funding.String()),
	)
	recipient := runner.Address()
	tx, err := g.send(ctx, operator, &recipient, funding, nil, transferGas, gasPrice)
	if err == nil {
		_, err = g.wait(ctx, runner.Client, tx)
	}
	if err != nil {
		if evm.IsInsufficientNativeFunds(err) {
			return fmt.Errorf("gateway: funding %s: %w: %v", recipient.Hex(), domain.ErrServiceUnavailable, err)
		}
		return fmt.Errorf("gateway: funding %s: %w: %v", recipient.Hex(), domain.ErrInternal, err)
	}

	g.auditLog(ctx, "gas_funding", map[string]any{
		"chain_id": runner.ChainID().String(),
		"runner":   recipient.Hex(),
		"operator": operator.Address().Hex(),
		"amount":   funding.String(),
		"tx":       tx.Hash().Hex(),
	})
	return nil
}

// send signs and submits one transaction with a freshly fetched nonce.
func (g *Gateway) send(ctx context.Context, from *account.Account, to *common.Address, value *big.Int, data []byte, gasLimit uint64, gasPrice *big.Int) (*types.Transaction, error) {
	nonce, err := from.Client.PendingNonceAt(ctx, from.Address())
	if err != nil {
		return nil, fmt.Errorf("pending nonce: %w: %v", domain.ErrTransientChain, err)
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gasLimit,
		To:       to,
		Value:    value,
		Data:     data,
	})
	signed, err := from.Signer.SignTx(tx)
	if err != nil {
		return nil, err
	}
	if err := from.Client.SendTransaction(ctx, signed); err != nil {
		return nil, &rejectedError{err: err}
	}
	return signed, nil
}

// rejectedError is a provider's refusal of a signed transaction.
type rejectedError struct {
	err error
}

func (e *rejectedError) Error() string { return e.err.Error() }
func (e *rejectedError) Unwrap() error { return e.err }

// nonceConflict reports whether err is a rejected send that collided with
// another transaction of the same sender. Failures before the send, such as
// the nonce lookup, never qualify.
func nonceConflict(err error) bool {
	var rej *rejectedError
	return errors.As(err, &rej) && evm.IsNonceConflict(rej.err)
}

func (g *Gateway) wait(ctx context.Context, client evm.Client, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, client, tx)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w: %v", tx.Hash().Hex(), domain.ErrTransientChain, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, fmt.Errorf("tx %s: %w", tx.Hash().Hex(), domain.ErrTxReverted)
	}
	return receipt, nil
}

func (g *Gateway) auditLog(ctx context.Context, event string, detail map[string]any) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Log(ctx, event, detail); err != nil {
		g.logger.WarnContext(ctx, "gateway: audit log failed", slog.String("event", event), slog.String("error", err.Error()))
	}
}

func withMargin(estimate uint64, pct int) uint64 {
	return estimate + estimate*uint64(pct)/100
}
