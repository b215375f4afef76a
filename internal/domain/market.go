package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus represents the lifecycle state of a market. It is always
// derived from the market's timestamps and never stored.
type MarketStatus string

const (
	MarketStatusWaiting  MarketStatus = "WAITING"
	MarketStatusOngoing  MarketStatus = "ONGOING"
	MarketStatusClosed   MarketStatus = "CLOSED"
	MarketStatusResolved MarketStatus = "RESOLVED"
)

// MarketType is the pricing model of a market's market maker.
type MarketType string

const (
	MarketTypeLMSR      MarketType = "lmsr"
	MarketTypeFPMM      MarketType = "fpmm"
	MarketTypeOrderBook MarketType = "orderbook"
)

// OracleType selects how a market gets resolved.
type OracleType string

const (
	OracleCentralized   OracleType = "centralized"
	OracleDecentralized OracleType = "decentralized"
)

// Oracle reports payouts for the markets it is attached to. A centralized
// oracle signs with the wallet owned by OwnerID.
type Oracle struct {
	ID      int64
	Name    string
	Type    OracleType
	Address string
	OwnerID string
}

// CollateralToken is the ERC20 a market is denominated in.
type CollateralToken struct {
	Address string
	Symbol  string
}

// MarketMakerFactory deploys market makers of one type. The ABIs and event
// field names drive type-agnostic decoding of the creation receipt.
type MarketMakerFactory struct {
	ID                   int64
	ChainID              int64
	Name                 string
	Address              string
	MarketType           MarketType
	FactoryABI           string
	MarketMakerABI       string
	CreationEventName    string
	MarketAddressField   string
	MaxSupportedOutcomes int
}

// ConditionalToken is one outcome of a market. TokenIndex is the only
// identifier the chain understands.
type ConditionalToken struct {
	ID            int64
	MarketID      int64
	TokenIndex    int
	Title         string
	Price         decimal.Decimal
	TruenessRatio *decimal.Decimal
}

// PredictionMarket is a deployed conditional-token market.
// Outcomes are kept in ascending TokenIndex order.
type PredictionMarket struct {
	ID          int64
	ChainID     int64
	FactoryID   int64
	Type        MarketType
	Question    string
	QuestionID  string
	ConditionID string
	Address     string
	Collateral  CollateralToken
	Oracle      Oracle
	Outcomes    []ConditionalToken
	Volume      decimal.Decimal
	StartedAt   *time.Time
	ClosedAt    *time.Time
	ResolvedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Status derives the lifecycle state from the timestamps.
func (m PredictionMarket) Status(now time.Time) MarketStatus {
	switch {
	case m.ResolvedAt != nil:
		return MarketStatusResolved
	case m.ClosedAt != nil && !now.Before(*m.ClosedAt):
		return MarketStatusClosed
	case m.StartedAt != nil && !now.Before(*m.StartedAt):
		return MarketStatusOngoing
	default:
		return MarketStatusWaiting
	}
}

// IsOpen reports whether the market currently accepts trades.
func (m PredictionMarket) IsOpen(now time.Time) bool {
	return m.Status(now) == MarketStatusOngoing
}

func (m PredictionMarket) NumberOfOutcomes() int { return len(m.Outcomes) }

// CheckOutcome validates that idx addresses one of the market's outcomes.
func (m PredictionMarket) CheckOutcome(idx int) error {
	if idx < 0 || idx >= len(m.Outcomes) {
		return fmt.Errorf("%w: outcome index %d out of range [0,%d)", ErrValidation, idx, len(m.Outcomes))
	}
	return nil
}

// OutcomePrice returns the displayed price of an outcome. Once the market is
// no longer open the price is meaningless and the trueness ratio is returned
// instead (zero until resolution sets it).
func (m PredictionMarket) OutcomePrice(idx int, now time.Time) (decimal.Decimal, error) {
	if err := m.CheckOutcome(idx); err != nil {
		return decimal.Zero, err
	}
	o := m.Outcomes[idx]
	if m.IsOpen(now) {
		return o.Price, nil
	}
	if o.TruenessRatio == nil {
		return decimal.Zero, nil
	}
	return *o.TruenessRatio, nil
}
