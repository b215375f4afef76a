package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketcore/internal/account"
	"github.com/alanyoungcy/marketcore/internal/account/accounttest"
	"github.com/alanyoungcy/marketcore/internal/amm"
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
	tokenAddr   = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	ctAddr      = common.HexToAddress("0x00000000000000000000000000000000000000c7")
	factoryAddr = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	mmAddr      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	conditionID = common.HexToHash("0xc0ffee")
	ether       = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

type staticNetworks struct{ net *evm.Network }

func (s staticNetworks) Get(chainID int64) (*evm.Network, error) {
	if chainID != s.net.Chain.ID {
		return nil, domain.ErrNotFound
	}
	return s.net, nil
}

type fixture struct {
	backend  *evmtest.Backend
	operator *account.Account
	oracle   *account.Account
	user     *account.Account
	markets  *memMarkets
	stats    *memStats
	audit    *memAudit
	archiver *memArchiver
	notifier *recordingNotifier
	orch     *Orchestrator
}

func newFixture(t *testing.T, markets *memMarkets, stats *memStats) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		backend:  evmtest.New(1),
		markets:  markets,
		stats:    stats,
		audit:    &memAudit{},
		archiver: &memArchiver{},
		notifier: &recordingNotifier{},
	}
	wallets := accounttest.NewWallets()
	adapter := account.NewAdapter(accounttest.Keys(), wallets)
	bind := func(kind domain.OwnerKind, owner string) *account.Account {
		w, _, err := wallets.Generate(kind, owner)
		if err != nil {
			t.Fatalf("wallet %s: %v", owner, err)
		}
		a, err := adapter.Bind(ctx, w, f.backend)
		if err != nil {
			t.Fatalf("bind %s: %v", owner, err)
		}
		f.backend.SetBalance(a.Address(), ether)
		return a
	}
	f.operator = bind(domain.OwnerOperator, "operator")
	f.oracle = bind(domain.OwnerOracle, "oracle-1")
	f.user = bind(domain.OwnerUser, "alice")

	f.backend.HandleCall(evmtest.Selector(contracts.ERC20ABI, "decimals"), evmtest.Returns(contracts.ERC20ABI, "decimals", uint8(6)))
	f.backend.HandleCall(evmtest.Selector(contracts.ERC20ABI, "balanceOf"), evmtest.Returns(contracts.ERC20ABI, "balanceOf", big.NewInt(4_000_000)))
	f.backend.HandleCall(evmtest.Selector(contracts.ConditionalTokensABI, "getConditionId"), evmtest.Returns(contracts.ConditionalTokensABI, "getConditionId", [32]byte(conditionID)))

	networks := staticNetworks{net: &evm.Network{
		Chain:   domain.Chain{ID: 1, ConditionalTokensAddress: ctAddr.Hex()},
		ChainID: big.NewInt(1),
		HTTP:    f.backend,
	}}
	gw := gateway.New(gateway.Config{SafetyMarginPct: 20, FundingMultiplier: 20}, adapter, nil, nil, testLogger())
	tokens, err := collateral.New(gw, nil, 8, testLogger())
	if err != nil {
		t.Fatalf("collateral: %v", err)
	}
	makers := amm.NewRegistry()
	makers.Register(domain.MarketTypeLMSR, amm.NewLMSR(gw, tokens, networks, 5, testLogger()))

	f.orch = New(Config{LMSRFee: 0}, Deps{
		Gateway:  gw,
		Tokens:   tokens,
		Accounts: adapter,
		Networks: networks,
		Makers:   makers,
		Markets:  markets,
		Stats:    stats,
		Archiver: f.archiver,
		Audit:    f.audit,
		Notifier: f.notifier,
	}, testLogger())
	return f
}

func lmsrFactory(maxOutcomes int) domain.MarketMakerFactory {
	return domain.MarketMakerFactory{
		ID:                   1,
		ChainID:              1,
		Name:                 "lmsr",
		Address:              factoryAddr.Hex(),
		MarketType:           domain.MarketTypeLMSR,
		CreationEventName:    contracts.EventLMSRCreation,
		MarketAddressField:   contracts.LMSRCreationAddressField,
		MaxSupportedOutcomes: maxOutcomes,
	}
}

func deployRequest(f *fixture, outcomes ...string) domain.DeployRequest {
	return domain.DeployRequest{
		ChainID:          1,
		Factory:          lmsrFactory(2),
		Collateral:       domain.CollateralToken{Address: tokenAddr.Hex(), Symbol: "USDC"},
		Question:         "Will it rain tomorrow?",
		Outcomes:         outcomes,
		InitialLiquidity: decimal.NewFromInt(10),
		Oracle:           domain.Oracle{ID: 1, Type: domain.OracleCentralized, Address: f.oracle.Address().Hex(), OwnerID: "oracle-1"},
	}
}

func (f *fixture) emitCreation() {
	f.backend.OnMined(evmtest.Selector(contracts.LMSRFactoryABI, "createLMSRMarketMaker"), func(tx *types.Transaction, from common.Address) []*types.Log {
		return []*types.Log{evmtest.EventLog(contracts.LMSRFactoryABI, contracts.EventLMSRCreation, factoryAddr,
			[]common.Hash{evmtest.AddressTopic(from)},
			mmAddr, ctAddr, tokenAddr, [][32]byte{conditionID}, uint64(0), big.NewInt(10_000_000),
		)}
	})
}

func selectorNames(f *fixture) []string {
	names := map[[4]byte]string{
		evmtest.Selector(contracts.ConditionalTokensABI, "prepareCondition"): "prepareCondition",
		evmtest.Selector(contracts.ConditionalTokensABI, "reportPayouts"):    "reportPayouts",
		evmtest.Selector(contracts.ConditionalTokensABI, "redeemPositions"):  "redeemPositions",
		evmtest.Selector(contracts.ERC20ABI, "deposit"):                      "deposit",
		evmtest.Selector(contracts.ERC20ABI, "approve"):                      "approve",
		evmtest.Selector(contracts.LMSRFactoryABI, "createLMSRMarketMaker"):  "createLMSRMarketMaker",
	}
	var out []string
	for _, sel := range f.backend.SentSelectors() {
		out = append(out, names[sel])
	}
	return out
}

func TestDeployTwoOutcomeMarket(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newMemMarkets(), newMemStats())
	f.emitCreation()

	res, err := f.orch.Deploy(context.Background(), deployRequest(f, "Yes", "No"))
	if err != nil {
		t.Fatalf("Deploy: %v", err)
	}
	want := []string{"prepareCondition", "deposit", "approve", "createLMSRMarketMaker"}
	if got := selectorNames(f); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("calls=%v want %v", got, want)
	}
	sent := f.backend.Sent()
	if res.ConditionID != conditionID.Hex() {
		t.Fatalf("condition=%s want %s", res.ConditionID, conditionID.Hex())
	}
	if res.MarketMakerAddress != mmAddr.Hex() {
		t.Fatalf("market maker=%s want %s", res.MarketMakerAddress, mmAddr.Hex())
	}
	if res.PrepareConditionTxHash != sent[0].Tx.Hash().Hex() || res.CreateMarketTxHash != sent[3].Tx.Hash().Hex() {
		t.Fatalf("tx hashes do not match the sent transactions")
	}
	if res.QuestionID != QuestionID("Will it rain tomorrow?").Hex() || res.OutcomeCount != 2 || res.ChainID != 1 {
		t.Fatalf("result=%+v", res)
	}
	if sent[1].Tx.Value().Int64() != 6_000_000 {
		t.Fatalf("deposit=%s want the 6e6 shortfall", sent[1].Tx.Value())
	}
	if len(f.archiver.kinds) != 1 || !f.audit.has("market_deployed") {
		t.Fatalf("archive=%v audit=%v", f.archiver.kinds, f.audit.events)
	}
}

func TestDeployRejectsTooManyOutcomesBeforeChain(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newMemMarkets(), newMemStats())
	_, err := f.orch.Deploy(context.Background(), deployRequest(f, "A", "B", "C", "D", "E"))
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err=%v want ErrValidation", err)
	}
	if n := len(f.backend.Sent()); n != 0 {
		t.Fatalf("sent=%d txs want 0", n)
	}
}

func TestDeployUnsupportedFactory(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newMemMarkets(), newMemStats())
	req := deployRequest(f, "Yes", "No")
	req.Factory.MarketType = domain.MarketTypeFPMM
	if _, err := f.orch.Deploy(context.Background(), req); !errors.Is(err, domain.ErrNotImplemented) {
		t.Fatalf("err=%v want ErrNotImplemented", err)
	}
	if n := len(f.backend.Sent()); n != 0 {
		t.Fatalf("sent=%d txs want 0", n)
	}
}

func TestDeployMissingMarketAddressIsIntegrityFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newMemMarkets(), newMemStats())
	_, err := f.orch.Deploy(context.Background(), deployRequest(f, "Yes", "No"))

	var integrity *domain.IntegrityError
	if !errors.As(err, &integrity) || !errors.Is(err, domain.ErrIntegrityFailure) {
		t.Fatalf("err=%v want IntegrityError", err)
	}
	if integrity.TxHash != f.backend.Sent()[3].Tx.Hash().Hex() {
		t.Fatalf("integrity tx=%s want the creation tx", integrity.TxHash)
	}
	if !f.audit.has("integrity_failure") || len(f.archiver.kinds) != 1 {
		t.Fatalf("integrity failure must be audited and archived")
	}
}

func TestValidateDeployment(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newMemMarkets(), newMemStats())
	f.backend.HandleCall(evmtest.Selector(contracts.ConditionalTokensABI, "getOutcomeSlotCount"),
		evmtest.Returns(contracts.ConditionalTokensABI, "getOutcomeSlotCount", big.NewInt(2)))

	ok, err := f.orch.ValidateDeployment(context.Background(), 1, conditionID.Hex(), 2)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v want match", ok, err)
	}
	ok, err = f.orch.ValidateDeployment(context.Background(), 1, conditionID.Hex(), 3)
	if ok || !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("ok=%v err=%v want ErrConflict", ok, err)
	}
}

func resolvedMarket(f *fixture, outcomes int) domain.PredictionMarket {
	started := time.Now().Add(-2 * time.Hour)
	m := domain.PredictionMarket{
		ID:          9,
		ChainID:     1,
		Type:        domain.MarketTypeLMSR,
		QuestionID:  QuestionID("q").Hex(),
		ConditionID: conditionID.Hex(),
		Address:     mmAddr.Hex(),
		Collateral:  domain.CollateralToken{Address: tokenAddr.Hex()},
		Oracle:      domain.Oracle{Type: domain.OracleCentralized, Address: f.oracle.Address().Hex(), OwnerID: "oracle-1"},
		StartedAt:   &started,
	}
	for i := 0; i < outcomes; i++ {
		m.Outcomes = append(m.Outcomes, domain.ConditionalToken{TokenIndex: i})
	}
	return m
}

func TestResolveCentralizedOracle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newMemMarkets(), newMemStats())
	m := resolvedMarket(f, 2)
	tx, err := f.orch.Resolve(context.Background(), m, []*big.Int{big.NewInt(1), big.NewInt(0)})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	sent := f.backend.Sent()
	if len(sent) != 1 || sent[0].From != f.oracle.Address() || tx != sent[0].Tx.Hash().Hex() {
		t.Fatalf("reportPayouts must be signed by the oracle wallet")
	}
	if got := selectorNames(f); got[0] != "reportPayouts" {
		t.Fatalf("calls=%v want reportPayouts", got)
	}
}

func TestResolveRejects(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newMemMarkets(), newMemStats())
	decentralized := resolvedMarket(f, 2)
	decentralized.Oracle.Type = domain.OracleDecentralized

	cases := []struct {
		name    string
		market  domain.PredictionMarket
		payouts []*big.Int
		want    error
	}{
		{name: "decentralized oracle", market: decentralized, payouts: []*big.Int{big.NewInt(1), big.NewInt(0)}, want: domain.ErrNotImplemented},
		{name: "payout count mismatch", market: resolvedMarket(f, 2), payouts: []*big.Int{big.NewInt(1)}, want: domain.ErrValidation},
		{name: "all zero payouts", market: resolvedMarket(f, 2), payouts: []*big.Int{big.NewInt(0), big.NewInt(0)}, want: domain.ErrValidation},
	}
	for _, tc := range cases {
		if _, err := f.orch.Resolve(context.Background(), tc.market, tc.payouts); !errors.Is(err, tc.want) {
			t.Fatalf("%s: err=%v want %v", tc.name, err, tc.want)
		}
	}
	if n := len(f.backend.Sent()); n != 0 {
		t.Fatalf("sent=%d txs want 0", n)
	}
}

func TestRedeemReportsPayout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newMemMarkets(), newMemStats())
	m := resolvedMarket(f, 2)
	now := time.Now()
	m.ResolvedAt = &now

	var indexSets []*big.Int
	f.backend.OnMined(evmtest.Selector(contracts.ConditionalTokensABI, "redeemPositions"), func(tx *types.Transaction, from common.Address) []*types.Log {
		args, err := contracts.ConditionalTokensABI.Methods["redeemPositions"].Inputs.Unpack(tx.Data()[4:])
		if err == nil {
			indexSets = args[3].([]*big.Int)
		}
		return []*types.Log{evmtest.EventLog(contracts.ConditionalTokensABI, contracts.EventPayoutRedemption, ctAddr,
			[]common.Hash{evmtest.AddressTopic(from), evmtest.AddressTopic(tokenAddr), {}},
			conditionID, indexSets, big.NewInt(7_500_000),
		)}
	})

	res, err := f.orch.Redeem(context.Background(), f.user, m)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if len(indexSets) != 2 || indexSets[0].Int64() != 1 || indexSets[1].Int64() != 2 {
		t.Fatalf("index sets=%v want [1 2]", indexSets)
	}
	if !res.PayoutKnown || !res.Payout.Equal(decimal.RequireFromString("7.5")) {
		t.Fatalf("result=%+v want known payout 7.5", res)
	}
}

func TestRedeemWithoutPayoutEvent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, newMemMarkets(), newMemStats())
	m := resolvedMarket(f, 2)
	now := time.Now()
	m.ResolvedAt = &now

	res, err := f.orch.Redeem(context.Background(), f.user, m)
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if res.PayoutKnown || !res.Payout.IsZero() || res.TxHash == "" {
		t.Fatalf("result=%+v want unknown zero payout", res)
	}
}
