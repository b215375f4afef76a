package contracts

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

func TestEventSignatures(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		EventConditionResolution: "ConditionResolution(bytes32,address,bytes32,uint256,uint256[])",
		EventPayoutRedemption:    "PayoutRedemption(address,address,bytes32,bytes32,uint256[],uint256)",
	}
	for name, sig := range cases {
		got := ConditionalTokensABI.Events[name].ID
		if want := crypto.Keccak256Hash([]byte(sig)); got != want {
			t.Fatalf("%s topic=%s want %s", name, got, want)
		}
	}
	trade := LMSRMarketMakerABI.Events[EventAMMTrade].ID
	if want := crypto.Keccak256Hash([]byte("AMMOutcomeTokenTrade(address,int256[],int256,uint256)")); trade != want {
		t.Fatalf("trade topic=%s want %s", trade, want)
	}
}

func TestFactoryFallsBackToDefaultABI(t *testing.T) {
	t.Parallel()

	f := domain.MarketMakerFactory{ID: 1, Name: "lmsr", Address: "0x00000000000000000000000000000000000000aa"}
	c, err := Factory(f)
	if err != nil {
		t.Fatalf("Factory: %v", err)
	}
	if _, ok := c.ABI.Methods["createLMSRMarketMaker"]; !ok {
		t.Fatalf("default factory abi missing createLMSRMarketMaker")
	}
	if c.Address != common.HexToAddress(f.Address) {
		t.Fatalf("address=%s want %s", c.Address, f.Address)
	}

	f.Address = "nope"
	if _, err := Factory(f); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("bad address err=%v want ErrConfiguration", err)
	}

	f.Address = "0x00000000000000000000000000000000000000aa"
	f.FactoryABI = "{not json"
	if _, err := Factory(f); err == nil {
		t.Fatalf("invalid abi should fail")
	}
}
