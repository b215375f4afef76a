// Package evmtest provides an in-memory chain backend for tests.
package evmtest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// CallHandler answers an eth_call for one method selector.
type CallHandler func(msg ethereum.CallMsg) ([]byte, error)

// LogHook produces the logs a mined transaction emits.
type LogHook func(tx *types.Transaction, from common.Address) []*types.Log

// SentTx is a transaction the backend accepted.
type SentTx struct {
	Tx       *types.Transaction
	From     common.Address
	Selector [4]byte
}

// Backend is a programmable evm.Client. Zero values are usable after New.
type Backend struct {
	mu sync.Mutex

	ID          *big.Int
	Head        uint64
	GasPrice    *big.Int
	GasEstimate uint64

	// SendHook may reject a transaction before it is mined.
	SendHook func(tx *types.Transaction, from common.Address) error
	// FilterHook may fail a log query.
	FilterHook func(q ethereum.FilterQuery) error
	// HeadHook may fail a head lookup.
	HeadHook func() error
	// NonceHook may fail a pending nonce lookup.
	NonceHook func(account common.Address) error

	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	calls    map[[4]byte]CallHandler
	logHooks map[[4]byte]LogHook
	reverts  map[[4]byte]bool
	receipts map[common.Hash]*types.Receipt
	sent     []SentTx
	logs     []types.Log
	queries  []ethereum.FilterQuery
	subs     []*Subscription
	closed   bool
}

// New returns a backend for chainID with a default gas price and estimate.
func New(chainID int64) *Backend {
	return &Backend{
		ID:          big.NewInt(chainID),
		GasPrice:    big.NewInt(1_000_000_000),
		GasEstimate: 100_000,
		balances:    make(map[common.Address]*big.Int),
		nonces:      make(map[common.Address]uint64),
		calls:       make(map[[4]byte]CallHandler),
		logHooks:    make(map[[4]byte]LogHook),
		reverts:     make(map[[4]byte]bool),
		receipts:    make(map[common.Hash]*types.Receipt),
	}
}

// Selector returns the 4-byte id of method in parsed.
func Selector(parsed abi.ABI, method string) [4]byte {
	var sel [4]byte
	copy(sel[:], parsed.Methods[method].ID)
	return sel
}

// Returns builds a handler that packs the given outputs of method.
func Returns(parsed abi.ABI, method string, values ...any) CallHandler {
	return func(ethereum.CallMsg) ([]byte, error) {
		return parsed.Methods[method].Outputs.Pack(values...)
	}
}

// HandleCall registers a view-call handler.
func (b *Backend) HandleCall(sel [4]byte, h CallHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls[sel] = h
}

// OnMined registers the logs emitted by transactions calling sel.
func (b *Backend) OnMined(sel [4]byte, hook LogHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logHooks[sel] = hook
}

// Revert makes transactions calling sel mine with a failed status.
func (b *Backend) Revert(sel [4]byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reverts[sel] = true
}

// SetBalance sets the native balance of addr.
func (b *Backend) SetBalance(addr common.Address, wei *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[addr] = new(big.Int).Set(wei)
}

// AddLogs makes logs visible to FilterLogs.
func (b *Backend) AddLogs(logs ...types.Log) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logs = append(b.logs, logs...)
}

// Sent returns the accepted transactions in order.
func (b *Backend) Sent() []SentTx {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]SentTx(nil), b.sent...)
}

// SentSelectors returns the selectors of accepted transactions, in order.
func (b *Backend) SentSelectors() [][4]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][4]byte, len(b.sent))
	for i, s := range b.sent {
		out[i] = s.Selector
	}
	return out
}

// Queries returns every FilterLogs query seen.
func (b *Backend) Queries() []ethereum.FilterQuery {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ethereum.FilterQuery(nil), b.queries...)
}

// Closed reports whether Close was called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.ID), nil
}

func (b *Backend) BlockNumber(context.Context) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.HeadHook != nil {
		if err := b.HeadHook(); err != nil {
			return 0, err
		}
	}
	return b.Head, nil
}

func (b *Backend) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v, ok := b.balances[account]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (b *Backend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (b *Backend) PendingNonceAt(_ context.Context, account common.Address) (uint64, error) {
	if b.NonceHook != nil {
		if err := b.NonceHook(account); err != nil {
			return 0, err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(b.GasPrice), nil
}

func (b *Backend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return b.GasEstimate, nil
}

func (b *Backend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if len(msg.Data) < 4 {
		return nil, errors.New("evmtest: call without selector")
	}
	var sel [4]byte
	copy(sel[:], msg.Data[:4])
	b.mu.Lock()
	h, ok := b.calls[sel]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("evmtest: no handler for selector %x", sel)
	}
	return h(msg)
}

func (b *Backend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	from, err := types.Sender(types.LatestSignerForChainID(b.ID), tx)
	if err != nil {
		return fmt.Errorf("evmtest: recover sender: %w", err)
	}
	if b.SendHook != nil {
		if err := b.SendHook(tx, from); err != nil {
			return err
		}
	}

	var sel [4]byte
	if len(tx.Data()) >= 4 {
		copy(sel[:], tx.Data()[:4])
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if tx.Nonce() != b.nonces[from] {
		return fmt.Errorf("nonce too low: have %d want %d", tx.Nonce(), b.nonces[from])
	}
	b.nonces[from]++

	if v := tx.Value(); v != nil && v.Sign() > 0 {
		bal := b.balances[from]
		if bal == nil || bal.Cmp(v) < 0 {
			return errors.New("insufficient funds for gas * price + value")
		}
		b.balances[from] = new(big.Int).Sub(bal, v)
		if to := tx.To(); to != nil {
			cur := b.balances[*to]
			if cur == nil {
				cur = new(big.Int)
			}
			b.balances[*to] = new(big.Int).Add(cur, v)
		}
	}

	b.sent = append(b.sent, SentTx{Tx: tx, From: from, Selector: sel})

	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      tx.Hash(),
		GasUsed:     tx.Gas(),
		BlockNumber: new(big.Int).SetUint64(b.Head),
	}
	if b.reverts[sel] {
		receipt.Status = types.ReceiptStatusFailed
	}
	if hook, ok := b.logHooks[sel]; ok && receipt.Status == types.ReceiptStatusSuccessful {
		for i, l := range hook(tx, from) {
			l.TxHash = tx.Hash()
			l.Index = uint(i)
			l.BlockNumber = b.Head
			receipt.Logs = append(receipt.Logs, l)
		}
	}
	b.receipts[tx.Hash()] = receipt
	return nil
}

func (b *Backend) TransactionReceipt(_ context.Context, txHash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *Backend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	b.mu.Lock()
	b.queries = append(b.queries, q)
	hook := b.FilterHook
	logs := append([]types.Log(nil), b.logs...)
	b.mu.Unlock()

	if hook != nil {
		if err := hook(q); err != nil {
			return nil, err
		}
	}
	var out []types.Log
	for _, l := range logs {
		if matches(q, l) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (b *Backend) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	sub := &Subscription{query: q, ch: ch, errCh: make(chan error, 1)}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub, nil
}

// Emit delivers l to every live subscription whose filter matches.
func (b *Backend) Emit(l types.Log) {
	b.mu.Lock()
	subs := append([]*Subscription(nil), b.subs...)
	b.mu.Unlock()
	for _, s := range subs {
		if s.live() && matches(s.query, l) {
			s.ch <- l
		}
	}
}

// DropSubscriptions fails every live subscription with err.
func (b *Backend) DropSubscriptions(err error) {
	b.mu.Lock()
	subs := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, s := range subs {
		s.fail(err)
	}
}

// Subscriptions returns the number of live subscriptions.
func (b *Backend) Subscriptions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.subs {
		if s.live() {
			n++
		}
	}
	return n
}

func (b *Backend) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

func matches(q ethereum.FilterQuery, l types.Log) bool {
	if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
		return false
	}
	if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
		return false
	}
	if len(q.Addresses) > 0 {
		found := false
		for _, a := range q.Addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, set := range q.Topics {
		if len(set) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		found := false
		for _, t := range set {
			if t == l.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Subscription is a fake log subscription.
type Subscription struct {
	mu     sync.Mutex
	query  ethereum.FilterQuery
	ch     chan<- types.Log
	errCh  chan error
	closed bool
}

func (s *Subscription) Err() <-chan error { return s.errCh }

func (s *Subscription) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.errCh)
	}
}

func (s *Subscription) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.errCh <- err
		close(s.errCh)
	}
}
