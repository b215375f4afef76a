package amm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketcore/internal/account"
	"github.com/alanyoungcy/marketcore/internal/account/accounttest"
	"github.com/alanyoungcy/marketcore/internal/collateral"
	"github.com/alanyoungcy/marketcore/internal/contracts"
	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm"
	"github.com/alanyoungcy/marketcore/internal/evm/evmtest"
	"github.com/alanyoungcy/marketcore/internal/gateway"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var (
	tokenAddr = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	ctAddr    = common.HexToAddress("0x00000000000000000000000000000000000000c7")
	mmAddr    = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	usdc      = big.NewInt(1_000_000)
)

func units(n int64) *big.Int { return new(big.Int).Mul(big.NewInt(n), usdc) }

type staticNetworks struct{ net *evm.Network }

func (s staticNetworks) Get(chainID int64) (*evm.Network, error) {
	if chainID != s.net.Chain.ID {
		return nil, domain.ErrNotFound
	}
	return s.net, nil
}

type fixture struct {
	backend *evmtest.Backend
	trader  *account.Account
	lmsr    *LMSR

	mu       sync.Mutex
	quoted   [][]*big.Int
	cost     *big.Int
	balance  *big.Int
	approved bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{backend: evmtest.New(1), cost: units(64), balance: units(50)}

	wallets := accounttest.NewWallets()
	opW, _, err := wallets.Generate(domain.OwnerOperator, "operator")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	traderW, _, err := wallets.Generate(domain.OwnerUser, "alice")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	adapter := account.NewAdapter(accounttest.Keys(), wallets)
	if _, err := adapter.Bind(ctx, opW, f.backend); err != nil {
		t.Fatalf("bind operator: %v", err)
	}
	f.trader, err = adapter.Bind(ctx, traderW, f.backend)
	if err != nil {
		t.Fatalf("bind trader: %v", err)
	}
	f.backend.SetBalance(f.trader.Address(), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

	f.backend.HandleCall(evmtest.Selector(contracts.ERC20ABI, "decimals"), evmtest.Returns(contracts.ERC20ABI, "decimals", uint8(6)))
	f.backend.HandleCall(evmtest.Selector(contracts.ERC20ABI, "balanceOf"), func(ethereum.CallMsg) ([]byte, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return contracts.ERC20ABI.Methods["balanceOf"].Outputs.Pack(f.balance)
	})
	f.backend.HandleCall(evmtest.Selector(contracts.LMSRMarketMakerABI, "calcNetCost"), func(msg ethereum.CallMsg) ([]byte, error) {
		args, err := contracts.LMSRMarketMakerABI.Methods["calcNetCost"].Inputs.Unpack(msg.Data[4:])
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.quoted = append(f.quoted, args[0].([]*big.Int))
		return contracts.LMSRMarketMakerABI.Methods["calcNetCost"].Outputs.Pack(f.cost)
	})
	f.backend.HandleCall(evmtest.Selector(contracts.ConditionalTokensABI, "isApprovedForAll"), func(ethereum.CallMsg) ([]byte, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		return contracts.ConditionalTokensABI.Methods["isApprovedForAll"].Outputs.Pack(f.approved)
	})

	gw := gateway.New(gateway.Config{SafetyMarginPct: 20, FundingMultiplier: 20}, adapter, nil, nil, testLogger())
	tokens, err := collateral.New(gw, nil, 8, testLogger())
	if err != nil {
		t.Fatalf("collateral: %v", err)
	}
	networks := staticNetworks{net: &evm.Network{
		Chain:   domain.Chain{ID: 1, ConditionalTokensAddress: ctAddr.Hex()},
		ChainID: big.NewInt(1),
		HTTP:    f.backend,
	}}
	f.lmsr = NewLMSR(gw, tokens, networks, 25, testLogger())
	return f
}

func openMarket(outcomes int) domain.PredictionMarket {
	started := time.Now().Add(-time.Hour)
	m := domain.PredictionMarket{
		ID:         7,
		ChainID:    1,
		Type:       domain.MarketTypeLMSR,
		Address:    mmAddr.Hex(),
		Collateral: domain.CollateralToken{Address: tokenAddr.Hex(), Symbol: "USDC"},
		StartedAt:  &started,
	}
	for i := 0; i < outcomes; i++ {
		m.Outcomes = append(m.Outcomes, domain.ConditionalToken{TokenIndex: i})
	}
	return m
}

func tradeArgs(t *testing.T, f *fixture) ([]*big.Int, *big.Int) {
	t.Helper()
	for _, s := range f.backend.Sent() {
		if s.Selector != evmtest.Selector(contracts.LMSRMarketMakerABI, "trade") {
			continue
		}
		args, err := contracts.LMSRMarketMakerABI.Methods["trade"].Inputs.Unpack(s.Tx.Data()[4:])
		if err != nil {
			t.Fatalf("unpack trade: %v", err)
		}
		return args[0].([]*big.Int), args[1].(*big.Int)
	}
	t.Fatalf("no trade transaction sent")
	return nil, nil
}

func selectors(f *fixture) []string {
	names := map[[4]byte]string{
		evmtest.Selector(contracts.ERC20ABI, "approve"):                       "approve",
		evmtest.Selector(contracts.LMSRMarketMakerABI, "trade"):               "trade",
		evmtest.Selector(contracts.ConditionalTokensABI, "setApprovalForAll"): "setApprovalForAll",
	}
	var out []string
	for _, sel := range f.backend.SentSelectors() {
		out = append(out, names[sel])
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestBuyInsufficientFunds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.lmsr.Buy(context.Background(), f.trader, openMarket(2), decimal.NewFromInt(100), 0, nil)

	var insufficient *domain.InsufficientFundsError
	if !errors.As(err, &insufficient) {
		t.Fatalf("err=%v want InsufficientFundsError", err)
	}
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("err=%v must match ErrInsufficientFunds", err)
	}
	if !insufficient.Shortfall().Equal(decimal.NewFromInt(30)) {
		t.Fatalf("shortfall=%s want 30", insufficient.Shortfall())
	}
	if n := len(f.backend.Sent()); n != 0 {
		t.Fatalf("sent=%d txs want 0", n)
	}
}

func TestBuyWithExactBalanceProceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.balance = units(80)
	trade, err := f.lmsr.Buy(context.Background(), f.trader, openMarket(2), decimal.NewFromInt(100), 1, nil)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if got := selectors(f); !equal(got, []string{"approve", "trade"}) {
		t.Fatalf("calls=%v want [approve trade]", got)
	}
	vector, limit := tradeArgs(t, f)
	if vector[0].Sign() != 0 || vector[1].Cmp(units(100)) != 0 {
		t.Fatalf("vector=%v want [0 100e6]", vector)
	}
	if limit.Cmp(units(80)) != 0 {
		t.Fatalf("limit=%s want cost with slippage 80e6", limit)
	}
	if !trade.Cost.Equal(decimal.NewFromInt(64)) || trade.TxHash == "" {
		t.Fatalf("trade=%+v want cost 64 and a tx hash", trade)
	}
}

func TestBuyManualLimit(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		manual int64
		want   *big.Int
	}{
		{name: "tighter manual limit wins", manual: 70, want: units(70)},
		{name: "looser manual limit ignored", manual: 90, want: units(80)},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.balance = units(1000)
			manual := decimal.NewFromInt(tc.manual)
			if _, err := f.lmsr.Buy(context.Background(), f.trader, openMarket(2), decimal.NewFromInt(100), 0, &manual); err != nil {
				t.Fatalf("Buy: %v", err)
			}
			if _, limit := tradeArgs(t, f); limit.Cmp(tc.want) != 0 {
				t.Fatalf("limit=%s want %s", limit, tc.want)
			}
		})
	}
}

func TestSellApprovesOnlyWhenNeeded(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		approved bool
		want     []string
	}{
		{name: "not yet approved", approved: false, want: []string{"setApprovalForAll", "trade"}},
		{name: "already approved", approved: true, want: []string{"trade"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.approved = tc.approved
			f.cost = new(big.Int).Neg(units(40))
			if _, err := f.lmsr.Sell(context.Background(), f.trader, openMarket(3), decimal.NewFromInt(50), 2, nil); err != nil {
				t.Fatalf("Sell: %v", err)
			}
			if got := selectors(f); !equal(got, tc.want) {
				t.Fatalf("calls=%v want %v", got, tc.want)
			}
			vector, limit := tradeArgs(t, f)
			if len(vector) != 3 || vector[0].Sign() != 0 || vector[1].Sign() != 0 || vector[2].Cmp(new(big.Int).Neg(units(50))) != 0 {
				t.Fatalf("vector=%v want [0 0 -50e6]", vector)
			}
			if limit.Cmp(new(big.Int).Neg(units(40))) != 0 {
				t.Fatalf("limit=%s want -40e6", limit)
			}
		})
	}
}

func TestSellManualMinimumProceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.approved = true
	f.cost = new(big.Int).Neg(units(40))
	manual := decimal.NewFromInt(45)
	if _, err := f.lmsr.Sell(context.Background(), f.trader, openMarket(2), decimal.NewFromInt(50), 0, &manual); err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if _, limit := tradeArgs(t, f); limit.Cmp(new(big.Int).Neg(units(45))) != 0 {
		t.Fatalf("limit=%s want -45e6", limit)
	}
}

func TestPriceQuotesSingleOutcomeVector(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.cost = big.NewInt(12_345_678)
	got, err := f.lmsr.Price(context.Background(), openMarket(4), 3, decimal.RequireFromString("2.5"))
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("12.345678")) {
		t.Fatalf("price=%s want 12.345678", got)
	}
	v := f.quoted[0]
	if len(v) != 4 || v[3].Cmp(big.NewInt(2_500_000)) != 0 || v[0].Sign() != 0 || v[1].Sign() != 0 || v[2].Sign() != 0 {
		t.Fatalf("vector=%v want [0 0 0 2.5e6]", v)
	}
}

func TestTradeRejectsBadInput(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	closed := openMarket(2)
	ended := time.Now().Add(-time.Minute)
	closed.ClosedAt = &ended

	cases := []struct {
		name   string
		market domain.PredictionMarket
		amount decimal.Decimal
		idx    int
	}{
		{name: "closed market", market: closed, amount: decimal.NewFromInt(1), idx: 0},
		{name: "zero amount", market: openMarket(2), amount: decimal.Zero, idx: 0},
		{name: "outcome out of range", market: openMarket(2), amount: decimal.NewFromInt(1), idx: 2},
	}
	for _, tc := range cases {
		if _, err := f.lmsr.Buy(context.Background(), f.trader, tc.market, tc.amount, tc.idx, nil); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: err=%v want ErrValidation", tc.name, err)
		}
	}
	if n := len(f.backend.Sent()); n != 0 {
		t.Fatalf("sent=%d txs want 0", n)
	}
}

func TestMarginalPriceFixedPoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	half := new(big.Int).Lsh(big.NewInt(1), 63)
	f.backend.HandleCall(evmtest.Selector(contracts.LMSRMarketMakerABI, "calcMarginalPrice"),
		evmtest.Returns(contracts.LMSRMarketMakerABI, "calcMarginalPrice", half))
	got, err := f.lmsr.MarginalPrice(context.Background(), openMarket(2), 1)
	if err != nil {
		t.Fatalf("MarginalPrice: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("price=%s want 0.5", got)
	}
}

func TestSlippageNeverBelowCost(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	for _, c := range []int64{1, 3, 7, 999, 1_000_001, 64_000_000} {
		cost := big.NewInt(c)
		got := f.lmsr.WithSlippage(cost)
		if got.Cmp(cost) < 0 {
			t.Fatalf("WithSlippage(%d)=%s below cost", c, got)
		}
		floor := new(big.Int).Div(new(big.Int).Mul(cost, big.NewInt(125)), big.NewInt(100))
		if got.Cmp(floor) < 0 {
			t.Fatalf("WithSlippage(%d)=%s below cost+25%%", c, got)
		}
	}
}

func TestOutcomeVector(t *testing.T) {
	t.Parallel()

	v, err := OutcomeVector(3, 1, big.NewInt(5), -1)
	if err != nil {
		t.Fatalf("OutcomeVector: %v", err)
	}
	if v[0].Sign() != 0 || v[1].Int64() != -5 || v[2].Sign() != 0 {
		t.Fatalf("vector=%v want [0 -5 0]", v)
	}
	if _, err := OutcomeVector(3, 3, big.NewInt(5), 1); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err=%v want ErrValidation", err)
	}
}

func TestRegistryUnsupportedTypes(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register(domain.MarketTypeLMSR, newFixture(t).lmsr)
	if _, ok := r.For(domain.MarketTypeLMSR).(*LMSR); !ok {
		t.Fatalf("lmsr market maker not registered")
	}
	for _, typ := range []domain.MarketType{domain.MarketTypeFPMM, domain.MarketTypeOrderBook} {
		mm := r.For(typ)
		if _, err := mm.Buy(context.Background(), nil, domain.PredictionMarket{}, decimal.NewFromInt(1), 0, nil); !errors.Is(err, domain.ErrNotImplemented) {
			t.Fatalf("%s buy err=%v want ErrNotImplemented", typ, err)
		}
		if _, err := mm.MarginalPrice(context.Background(), domain.PredictionMarket{}, 0); !errors.Is(err, domain.ErrNotImplemented) {
			t.Fatalf("%s marginal price err=%v want ErrNotImplemented", typ, err)
		}
	}
}
