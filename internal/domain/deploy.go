package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DeployRequest describes a market to create on-chain.
type DeployRequest struct {
	ChainID          int64
	Factory          MarketMakerFactory
	Collateral       CollateralToken
	Question         string
	Outcomes         []string
	InitialLiquidity decimal.Decimal
	Oracle           Oracle
}

// DeploymentResult is everything the caller needs to persist a new market.
type DeploymentResult struct {
	ChainID                int64
	QuestionID             string
	ConditionID            string
	MarketMakerAddress     string
	PrepareConditionTxHash string
	CreateMarketTxHash     string
	OutcomeCount           int
	DeployedAt             time.Time
}

// RedeemResult reports a redemption. PayoutKnown is false when the receipt
// carried no PayoutRedemption event, in which case Payout is zero and says
// nothing about what was actually paid.
type RedeemResult struct {
	TxHash      string
	BlockNumber uint64
	Payout      decimal.Decimal
	PayoutKnown bool
}
