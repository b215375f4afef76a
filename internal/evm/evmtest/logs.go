package evmtest

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// EventLog builds a log for event in parsed. topics are the indexed
// arguments in declaration order; data are the non-indexed ones.
func EventLog(parsed abi.ABI, event string, addr common.Address, topics []common.Hash, data ...any) *types.Log {
	ev, ok := parsed.Events[event]
	if !ok {
		panic(fmt.Sprintf("evmtest: unknown event %s", event))
	}
	packed, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		panic(fmt.Sprintf("evmtest: pack %s: %v", event, err))
	}
	return &types.Log{
		Address: addr,
		Topics:  append([]common.Hash{ev.ID}, topics...),
		Data:    packed,
	}
}

// AddressTopic left-pads addr into an indexed topic.
func AddressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

// UintTopic encodes v as an indexed uint256 topic.
func UintTopic(v int64) common.Hash {
	return common.BigToHash(big.NewInt(v))
}
