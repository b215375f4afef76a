package service

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketcore/internal/account"
	"github.com/alanyoungcy/marketcore/internal/amm"
	"github.com/alanyoungcy/marketcore/internal/domain"
	"github.com/alanyoungcy/marketcore/internal/evm"
	"github.com/alanyoungcy/marketcore/internal/evm/evmtest"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

type memMarkets struct {
	domain.MarketStore
	byID    map[int64]domain.PredictionMarket
	created []domain.PredictionMarket
	fail    error
}

func (m *memMarkets) Create(_ context.Context, pm domain.PredictionMarket) (domain.PredictionMarket, error) {
	if m.fail != nil {
		return domain.PredictionMarket{}, m.fail
	}
	pm.ID = int64(len(m.byID) + 1)
	m.byID[pm.ID] = pm
	m.created = append(m.created, pm)
	return pm, nil
}

func (m *memMarkets) GetByID(_ context.Context, id int64) (domain.PredictionMarket, error) {
	pm, ok := m.byID[id]
	if !ok {
		return domain.PredictionMarket{}, fmt.Errorf("market %d: %w", id, domain.ErrNotFound)
	}
	return pm, nil
}

type memFactories struct {
	domain.FactoryStore
	f domain.MarketMakerFactory
}

func (m memFactories) GetByID(_ context.Context, id int64) (domain.MarketMakerFactory, error) {
	if id != m.f.ID {
		return domain.MarketMakerFactory{}, domain.ErrNotFound
	}
	return m.f, nil
}

type stubAccounts struct {
	bound    []string
	imported []string
}

func (s *stubAccounts) Import(_ context.Context, kind domain.OwnerKind, ownerID string, key *ecdsa.PrivateKey, force bool) (domain.Wallet, error) {
	s.imported = append(s.imported, fmt.Sprintf("%s:%s:%t", kind, ownerID, force))
	return domain.Wallet{OwnerKind: kind, OwnerID: ownerID, Address: ethcrypto.PubkeyToAddress(key.PublicKey).Hex()}, nil
}

type memChains struct {
	domain.ChainStore
	offsets map[int64]*uint64
}

func (m *memChains) ResetOffset(_ context.Context, id int64, offset *uint64) error {
	if _, ok := m.offsets[id]; !ok {
		return fmt.Errorf("chain %d: %w", id, domain.ErrNotFound)
	}
	m.offsets[id] = offset
	return nil
}

type stubSync struct {
	checked []int64
	err     error
}

func (s *stubSync) ReloadChains(context.Context) error { return nil }

func (s *stubSync) CheckoutChainLogs(_ context.Context, chainID int64) error {
	s.checked = append(s.checked, chainID)
	return s.err
}

func (s *stubAccounts) ForOwner(_ context.Context, kind domain.OwnerKind, ownerID string, _ evm.Client) (*account.Account, error) {
	s.bound = append(s.bound, string(kind)+":"+ownerID)
	return &account.Account{OwnerKind: kind, OwnerID: ownerID}, nil
}

type stubNetworks struct{}

func (stubNetworks) Get(chainID int64) (*evm.Network, error) {
	return &evm.Network{ChainID: big.NewInt(chainID), HTTP: evmtest.New(chainID)}, nil
}

type stubSettler struct {
	result   domain.DeploymentResult
	err      error
	requests []domain.DeployRequest
	redeemed []string
}

func (s *stubSettler) Deploy(_ context.Context, req domain.DeployRequest) (domain.DeploymentResult, error) {
	s.requests = append(s.requests, req)
	return s.result, s.err
}

func (s *stubSettler) Resolve(context.Context, domain.PredictionMarket, []*big.Int) (string, error) {
	return "0xresolve", nil
}

func (s *stubSettler) Redeem(_ context.Context, user *account.Account, _ domain.PredictionMarket) (domain.RedeemResult, error) {
	s.redeemed = append(s.redeemed, user.OwnerID)
	return domain.RedeemResult{TxHash: "0xredeem"}, nil
}

type recordingMaker struct {
	amm.Unsupported
	buys []string
}

func (r *recordingMaker) Buy(_ context.Context, trader *account.Account, m domain.PredictionMarket, amount decimal.Decimal, idx int, _ *decimal.Decimal) (amm.Trade, error) {
	r.buys = append(r.buys, fmt.Sprintf("%s:%d:%d:%s", trader.OwnerID, m.ID, idx, amount))
	return amm.Trade{MarketID: m.ID, OutcomeIndex: idx, TxHash: "0xbuy"}, nil
}

type fixture struct {
	markets  *memMarkets
	chains   *memChains
	accounts *stubAccounts
	settler  *stubSettler
	maker    *recordingMaker
	core     *Core
}

func newFixture() *fixture {
	f := &fixture{
		markets: &memMarkets{byID: map[int64]domain.PredictionMarket{
			1: {ID: 1, ChainID: 100, Type: domain.MarketTypeLMSR},
			2: {ID: 2, ChainID: 100, Type: domain.MarketTypeFPMM},
		}},
		chains:   &memChains{offsets: map[int64]*uint64{100: nil}},
		accounts: &stubAccounts{},
		settler: &stubSettler{result: domain.DeploymentResult{
			ChainID:            100,
			QuestionID:         "0xq",
			ConditionID:        "0xc",
			MarketMakerAddress: "0xmm",
			OutcomeCount:       2,
		}},
		maker: &recordingMaker{Unsupported: amm.Unsupported{Type: domain.MarketTypeLMSR}},
	}
	makers := amm.NewRegistry()
	makers.Register(domain.MarketTypeLMSR, f.maker)
	factories := memFactories{f: domain.MarketMakerFactory{ID: 7, ChainID: 100, MarketType: domain.MarketTypeLMSR, MaxSupportedOutcomes: 2}}
	f.core = NewCore(f.markets, factories, f.chains, f.accounts, stubNetworks{}, makers, f.settler, nil, testLogger())
	return f
}

func TestDeployPersistsMarket(t *testing.T) {
	t.Parallel()
	f := newFixture()

	m, res, err := f.core.Deploy(context.Background(), DeployInput{
		FactoryID:        7,
		Question:         "Will it rain?",
		Outcomes:         []string{"Yes", "No"},
		InitialLiquidity: decimal.NewFromInt(10),
	})
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	if got := f.settler.requests[0]; got.ChainID != 100 || got.Factory.ID != 7 {
		t.Fatalf("request=%+v", got)
	}
	if m.ConditionID != res.ConditionID || m.Address != "0xmm" || m.Type != domain.MarketTypeLMSR {
		t.Fatalf("market=%+v", m)
	}
	if len(m.Outcomes) != 2 || m.Outcomes[0].Title != "Yes" || m.Outcomes[1].TokenIndex != 1 {
		t.Fatalf("outcomes=%+v", m.Outcomes)
	}
}

func TestDeployFailureStoresNothing(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.settler.err = fmt.Errorf("settlement: %w", domain.ErrValidation)

	_, _, err := f.core.Deploy(context.Background(), DeployInput{FactoryID: 7})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err=%v want ErrValidation", err)
	}
	if len(f.markets.created) != 0 {
		t.Fatalf("created=%d want 0", len(f.markets.created))
	}
}

func TestDeployStoreFailureReturnsResult(t *testing.T) {
	t.Parallel()
	f := newFixture()
	f.markets.fail = errors.New("db down")

	_, res, err := f.core.Deploy(context.Background(), DeployInput{FactoryID: 7, Outcomes: []string{"a", "b"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if res.ConditionID != "0xc" {
		t.Fatalf("result=%+v want the deployment result", res)
	}
}

func TestBuyRoutesByMarketType(t *testing.T) {
	t.Parallel()
	f := newFixture()
	ctx := context.Background()

	trade, err := f.core.Buy(ctx, "alice", 1, decimal.NewFromInt(3), 1, nil)
	if err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if trade.TxHash != "0xbuy" || len(f.maker.buys) != 1 || f.maker.buys[0] != "alice:1:1:3" {
		t.Fatalf("trade=%+v buys=%v", trade, f.maker.buys)
	}
	if len(f.accounts.bound) != 1 || f.accounts.bound[0] != "user:alice" {
		t.Fatalf("bound=%v", f.accounts.bound)
	}

	if _, err := f.core.Buy(ctx, "alice", 2, decimal.NewFromInt(3), 1, nil); !errors.Is(err, domain.ErrNotImplemented) {
		t.Fatalf("fpmm buy err=%v want ErrNotImplemented", err)
	}
	if _, err := f.core.Sell(ctx, "alice", 1, decimal.NewFromInt(3), 1, nil); !errors.Is(err, domain.ErrNotImplemented) {
		t.Fatalf("sell err=%v want ErrNotImplemented from the recording maker", err)
	}
}

func TestUnknownMarket(t *testing.T) {
	t.Parallel()
	f := newFixture()
	if _, err := f.core.Price(context.Background(), 99, 0, decimal.NewFromInt(1)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
	if _, err := f.core.Redeem(context.Background(), "bob", 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}
}

func TestRedeemBindsUser(t *testing.T) {
	t.Parallel()
	f := newFixture()
	res, err := f.core.Redeem(context.Background(), "bob", 1)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if res.TxHash != "0xredeem" || len(f.settler.redeemed) != 1 || f.settler.redeemed[0] != "bob" {
		t.Fatalf("res=%+v redeemed=%v", res, f.settler.redeemed)
	}
}

func TestChainSyncRequiresIndexer(t *testing.T) {
	t.Parallel()
	f := newFixture()
	if err := f.core.ReloadChains(context.Background()); !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Fatalf("err=%v want ErrServiceUnavailable", err)
	}
	if err := f.core.CheckoutChainLogs(context.Background(), 100); !errors.Is(err, domain.ErrServiceUnavailable) {
		t.Fatalf("err=%v want ErrServiceUnavailable", err)
	}
}

func TestResetChainOffsetReplaysFromCheckpoint(t *testing.T) {
	t.Parallel()
	f := newFixture()
	sync := &stubSync{}
	f.core.sync = sync

	offset := uint64(900)
	if err := f.core.ResetChainOffset(context.Background(), 100, &offset); err != nil {
		t.Fatalf("ResetChainOffset: %v", err)
	}
	if got := f.chains.offsets[100]; got == nil || *got != 900 {
		t.Fatalf("offset=%v want 900", got)
	}
	if len(sync.checked) != 1 || sync.checked[0] != 100 {
		t.Fatalf("catch-up passes=%v want [100]", sync.checked)
	}

	sync.err = domain.ErrLockHeld
	if err := f.core.ResetChainOffset(context.Background(), 100, nil); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("err=%v want ErrLockHeld", err)
	}
	if f.chains.offsets[100] != nil {
		t.Fatalf("offset=%d want nil", *f.chains.offsets[100])
	}

	if err := f.core.ResetChainOffset(context.Background(), 7, &offset); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown chain err=%v want ErrNotFound", err)
	}
	if len(sync.checked) != 2 {
		t.Fatalf("catch-up passes=%d want 2", len(sync.checked))
	}
}

func TestImportWallet(t *testing.T) {
	t.Parallel()
	f := newFixture()
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	hexKey := "0x" + fmt.Sprintf("%x", ethcrypto.FromECDSA(key))

	w, err := f.core.ImportWallet(context.Background(), domain.OwnerOracle, "oracle-1", hexKey, true)
	if err != nil {
		t.Fatalf("ImportWallet: %v", err)
	}
	if w.Address != ethcrypto.PubkeyToAddress(key.PublicKey).Hex() {
		t.Fatalf("address=%s want %s", w.Address, ethcrypto.PubkeyToAddress(key.PublicKey).Hex())
	}
	if len(f.accounts.imported) != 1 || f.accounts.imported[0] != "oracle:oracle-1:true" {
		t.Fatalf("imported=%v", f.accounts.imported)
	}

	cases := []struct {
		name  string
		kind  domain.OwnerKind
		owner string
		key   string
	}{
		{name: "bad key", kind: domain.OwnerUser, owner: "alice", key: "0xzz"},
		{name: "unknown kind", kind: "robot", owner: "alice", key: hexKey},
		{name: "empty owner", kind: domain.OwnerUser, owner: " ", key: hexKey},
	}
	for _, tc := range cases {
		if _, err := f.core.ImportWallet(context.Background(), tc.kind, tc.owner, tc.key, false); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("%s: err=%v want ErrValidation", tc.name, err)
		}
	}
	if len(f.accounts.imported) != 1 {
		t.Fatalf("invalid imports reached the store: %v", f.accounts.imported)
	}
}
