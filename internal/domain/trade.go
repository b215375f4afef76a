package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// LogRef identifies one log on one chain.
type LogRef struct {
	ChainID     int64
	BlockNumber uint64
	TxHash      string
	LogIndex    uint
}

func (r LogRef) String() string {
	return fmt.Sprintf("%d:%s:%d", r.ChainID, r.TxHash, r.LogIndex)
}

// TradeEvent is a decoded market-maker trade log normalized across AMM flavors.
// Either Amounts holds the full signed vector, or OutcomeIndex/Amount describe a
// single-outcome trade whose vector is built once the outcome count is known.
type TradeEvent struct {
	Ref           LogRef
	MarketAddress string
	Trader        string
	Amounts       []*big.Int
	OutcomeIndex  int
	Amount        *big.Int
	Fee           *big.Int
	NetCost       *big.Int
}

// AmountVector returns the signed per-outcome vector of length n.
func (e TradeEvent) AmountVector(n int) ([]*big.Int, error) {
	if e.Amounts != nil {
		if len(e.Amounts) != n {
			return nil, fmt.Errorf("%w: trade vector has %d entries, market has %d outcomes", ErrValidation, len(e.Amounts), n)
		}
		return e.Amounts, nil
	}
	if e.OutcomeIndex < 0 || e.OutcomeIndex >= n {
		return nil, fmt.Errorf("%w: trade outcome index %d out of range [0,%d)", ErrValidation, e.OutcomeIndex, n)
	}
	v := make([]*big.Int, n)
	for i := range v {
		v[i] = new(big.Int)
	}
	if e.Amount != nil {
		v[e.OutcomeIndex].Set(e.Amount)
	}
	return v, nil
}

// Resolution is a decoded ConditionResolution log.
type Resolution struct {
	Ref              LogRef
	ConditionID      string
	Oracle           string
	QuestionID       string
	OutcomeSlotCount int
	Payouts          []*big.Int
}

// TruenessRatios converts payout numerators into weights that sum to one.
func (r Resolution) TruenessRatios() []decimal.Decimal {
	total := new(big.Int)
	for _, p := range r.Payouts {
		total.Add(total, p)
	}
	out := make([]decimal.Decimal, len(r.Payouts))
	if total.Sign() == 0 {
		for i := range out {
			out[i] = decimal.Zero
		}
		return out
	}
	denom := decimal.NewFromBigInt(total, 0)
	for i, p := range r.Payouts {
		out[i] = decimal.NewFromBigInt(p, 0).DivRound(denom, 18)
	}
	return out
}

// TradeRecord is the off-chain statistics update derived from one TradeEvent.
type TradeRecord struct {
	Ref        LogRef
	MarketID   int64
	Trader     string
	Amounts    []decimal.Decimal
	NetCost    decimal.Decimal
	Fee        decimal.Decimal
	RecordedAt time.Time
}

// Participation aggregates one trader's holdings in one outcome.
type Participation struct {
	MarketID    int64
	TokenIndex  int
	Trader      string
	TokenAmount decimal.Decimal
	Trades      int
}

// ParticipationResult classifies a participation once the market resolves.
type ParticipationResult string

const (
	ParticipationWon          ParticipationResult = "WON"
	ParticipationLost         ParticipationResult = "LOST"
	ParticipationUndetermined ParticipationResult = "UNDETERMINED"
)

// Classify maps a trueness ratio and a holding to a result. Partial ratios
// have no agreed payout rule and are reported as undetermined.
func Classify(ratio decimal.Decimal, holding decimal.Decimal) ParticipationResult {
	switch {
	case !holding.IsPositive() || ratio.IsZero():
		return ParticipationLost
	case ratio.Equal(decimal.NewFromInt(1)):
		return ParticipationWon
	default:
		return ParticipationUndetermined
	}
}
