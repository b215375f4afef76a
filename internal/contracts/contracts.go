package contracts

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

// Parsed ABIs of the contracts with a fixed interface.
var (
	ConditionalTokensABI = mustParse(conditionalTokensJSON)
	ERC20ABI             = mustParse(erc20JSON)
	LMSRFactoryABI       = mustParse(lmsrFactoryJSON)
	LMSRMarketMakerABI   = mustParse(lmsrMarketMakerJSON)
	FPMMABI              = mustParse(fpmmJSON)
)

// Event and method names shared across packages.
const (
	EventConditionResolution = "ConditionResolution"
	EventPayoutRedemption    = "PayoutRedemption"
	EventAMMTrade            = "AMMOutcomeTokenTrade"
	EventFPMMBuy             = "FPMMBuy"
	EventFPMMSell            = "FPMMSell"

	EventLMSRCreation        = "LMSRMarketMakerCreation"
	LMSRCreationAddressField = "lmsrMarketMaker"
)

// Contract is a deployed contract: where it lives and how to talk to it.
type Contract struct {
	Name    string
	Address common.Address
	ABI     abi.ABI
}

func (c Contract) String() string {
	return fmt.Sprintf("%s@%s", c.Name, c.Address.Hex())
}

// ConditionalTokens returns the conditional tokens contract at addr.
func ConditionalTokens(addr common.Address) Contract {
	return Contract{Name: "ConditionalTokens", Address: addr, ABI: ConditionalTokensABI}
}

// ERC20 returns a collateral token contract at addr.
func ERC20(addr common.Address) Contract {
	return Contract{Name: "ERC20", Address: addr, ABI: ERC20ABI}
}

// Factory builds the factory contract from its stored record, falling back
// to the LMSR factory ABI when none is stored.
func Factory(f domain.MarketMakerFactory) (Contract, error) {
	if !common.IsHexAddress(f.Address) {
		return Contract{}, fmt.Errorf("contracts: factory %d: %w: invalid address %q", f.ID, domain.ErrConfiguration, f.Address)
	}
	parsed, err := parseOr(f.FactoryABI, LMSRFactoryABI)
	if err != nil {
		return Contract{}, fmt.Errorf("contracts: factory %d abi: %w", f.ID, err)
	}
	return Contract{Name: f.Name, Address: common.HexToAddress(f.Address), ABI: parsed}, nil
}

// MarketMaker builds the market maker contract at addr using the ABI the
// factory declares for the markets it creates.
func MarketMaker(f domain.MarketMakerFactory, addr common.Address) (Contract, error) {
	parsed, err := parseOr(f.MarketMakerABI, LMSRMarketMakerABI)
	if err != nil {
		return Contract{}, fmt.Errorf("contracts: market maker abi: %w", err)
	}
	return Contract{Name: "MarketMaker", Address: addr, ABI: parsed}, nil
}

// LMSRMarketMaker returns an LMSR market maker at addr.
func LMSRMarketMaker(addr common.Address) Contract {
	return Contract{Name: "LMSRMarketMaker", Address: addr, ABI: LMSRMarketMakerABI}
}

func parseOr(raw string, fallback abi.ABI) (abi.ABI, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	return abi.JSON(strings.NewReader(raw))
}

func mustParse(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("contracts: invalid built-in abi: %v", err))
	}
	return parsed
}
