package indexer

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/marketcore/internal/contracts"
	"github.com/alanyoungcy/marketcore/internal/domain"
)

// ErrUnknownTopic is returned for logs no decoder is registered for.
var ErrUnknownTopic = errors.New("indexer: unknown event topic")

// tradeLayout maps one trade event signature onto the normalized trade.
type tradeLayout struct {
	event abi.Event
	// sign multiplies token amounts: +1 for buys, -1 for sales.
	sign int64
	// vector events carry the full per-outcome amount vector.
	vector  bool
	trader  string
	amounts string
	outcome string
	cost    string
	fee     string
}

// Decoder turns raw logs into trades and resolutions by topic 0.
type Decoder struct {
	trades     map[common.Hash]tradeLayout
	resolution abi.Event
}

// NewDecoder registers every known trade flavor and the resolution event.
func NewDecoder() *Decoder {
	d := &Decoder{
		trades:     make(map[common.Hash]tradeLayout),
		resolution: contracts.ConditionalTokensABI.Events[contracts.EventConditionResolution],
	}
	d.register(tradeLayout{
		event:   contracts.LMSRMarketMakerABI.Events[contracts.EventAMMTrade],
		sign:    1,
		vector:  true,
		trader:  "transactor",
		amounts: "outcomeTokenAmounts",
		cost:    "outcomeTokenNetCost",
		fee:     "marketFees",
	})
	d.register(tradeLayout{
		event:   contracts.FPMMABI.Events[contracts.EventFPMMBuy],
		sign:    1,
		trader:  "buyer",
		amounts: "outcomeTokensBought",
		outcome: "outcomeIndex",
		cost:    "investmentAmount",
		fee:     "feeAmount",
	})
	d.register(tradeLayout{
		event:   contracts.FPMMABI.Events[contracts.EventFPMMSell],
		sign:    -1,
		trader:  "seller",
		amounts: "outcomeTokensSold",
		outcome: "outcomeIndex",
		cost:    "returnAmount",
		fee:     "feeAmount",
	})
	return d
}

func (d *Decoder) register(l tradeLayout) {
	d.trades[l.event.ID] = l
}

// TradeTopics returns the topic 0 of every trade flavor.
func (d *Decoder) TradeTopics() []common.Hash {
	out := make([]common.Hash, 0, len(d.trades))
	for id := range d.trades {
		out = append(out, id)
	}
	return out
}

// ResolutionTopic returns the topic 0 of the resolution event.
func (d *Decoder) ResolutionTopic() common.Hash { return d.resolution.ID }

// Decoded is one decoded log; exactly one field is set.
type Decoded struct {
	Trade      *domain.TradeEvent
	Resolution *domain.Resolution
}

// Decode decodes l observed on chainID.
func (d *Decoder) Decode(chainID int64, l types.Log) (Decoded, error) {
	if len(l.Topics) == 0 {
		return Decoded{}, ErrUnknownTopic
	}
	ref := domain.LogRef{ChainID: chainID, BlockNumber: l.BlockNumber, TxHash: l.TxHash.Hex(), LogIndex: l.Index}

	if l.Topics[0] == d.resolution.ID {
		r, err := d.decodeResolution(ref, l)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Resolution: &r}, nil
	}
	layout, ok := d.trades[l.Topics[0]]
	if !ok {
		return Decoded{}, ErrUnknownTopic
	}
	t, err := decodeTrade(layout, ref, l)
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{Trade: &t}, nil
}

func decodeTrade(layout tradeLayout, ref domain.LogRef, l types.Log) (domain.TradeEvent, error) {
	args, err := contracts.DecodeLog(layout.event, l)
	if err != nil {
		return domain.TradeEvent{}, err
	}
	sign := big.NewInt(layout.sign)
	t := domain.TradeEvent{
		Ref:           ref,
		MarketAddress: l.Address.Hex(),
	}
	trader, ok := args[layout.trader].(common.Address)
	if !ok {
		return domain.TradeEvent{}, fieldError(layout.event, layout.trader)
	}
	t.Trader = trader.Hex()
	if t.Fee, ok = args[layout.fee].(*big.Int); !ok {
		return domain.TradeEvent{}, fieldError(layout.event, layout.fee)
	}
	cost, ok := args[layout.cost].(*big.Int)
	if !ok {
		return domain.TradeEvent{}, fieldError(layout.event, layout.cost)
	}
	t.NetCost = new(big.Int).Mul(cost, sign)

	if layout.vector {
		amounts, ok := args[layout.amounts].([]*big.Int)
		if !ok {
			return domain.TradeEvent{}, fieldError(layout.event, layout.amounts)
		}
		t.Amounts = make([]*big.Int, len(amounts))
		for i, a := range amounts {
			t.Amounts[i] = new(big.Int).Mul(a, sign)
		}
		return t, nil
	}

	amount, ok := args[layout.amounts].(*big.Int)
	if !ok {
		return domain.TradeEvent{}, fieldError(layout.event, layout.amounts)
	}
	idx, ok := args[layout.outcome].(*big.Int)
	if !ok || !idx.IsInt64() {
		return domain.TradeEvent{}, fieldError(layout.event, layout.outcome)
	}
	t.Amount = new(big.Int).Mul(amount, sign)
	t.OutcomeIndex = int(idx.Int64())
	return t, nil
}

func (d *Decoder) decodeResolution(ref domain.LogRef, l types.Log) (domain.Resolution, error) {
	args, err := contracts.DecodeLog(d.resolution, l)
	if err != nil {
		return domain.Resolution{}, err
	}
	cond, ok1 := args["conditionId"].([32]byte)
	oracle, ok2 := args["oracle"].(common.Address)
	question, ok3 := args["questionId"].([32]byte)
	count, ok4 := args["outcomeSlotCount"].(*big.Int)
	payouts, ok5 := args["payoutNumerators"].([]*big.Int)
	if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
		return domain.Resolution{}, fmt.Errorf("indexer: malformed %s log %s", d.resolution.Name, ref)
	}
	return domain.Resolution{
		Ref:              ref,
		ConditionID:      common.Hash(cond).Hex(),
		Oracle:           oracle.Hex(),
		QuestionID:       common.Hash(question).Hex(),
		OutcomeSlotCount: int(count.Int64()),
		Payouts:          payouts,
	}, nil
}

func fieldError(ev abi.Event, field string) error {
	return fmt.Errorf("indexer: %s log has no usable %q", ev.Name, field)
}
