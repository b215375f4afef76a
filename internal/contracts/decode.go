package contracts

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrTopicMismatch is returned when a log is not an instance of the event.
var ErrTopicMismatch = errors.New("contracts: log topic does not match event")

// DecodeLog decodes indexed and non-indexed arguments of l as ev.
func DecodeLog(ev abi.Event, l types.Log) (map[string]any, error) {
	if len(l.Topics) == 0 || l.Topics[0] != ev.ID {
		return nil, ErrTopicMismatch
	}
	args := make(map[string]any, len(ev.Inputs))
	if len(ev.Inputs.NonIndexed()) > 0 {
		if err := ev.Inputs.UnpackIntoMap(args, l.Data); err != nil {
			return nil, fmt.Errorf("contracts: unpack %s data: %w", ev.Name, err)
		}
	}
	var indexed abi.Arguments
	for _, in := range ev.Inputs {
		if in.Indexed {
			indexed = append(indexed, in)
		}
	}
	if len(indexed) > 0 {
		if len(l.Topics)-1 < len(indexed) {
			return nil, fmt.Errorf("contracts: %s log has %d topics, want %d", ev.Name, len(l.Topics)-1, len(indexed))
		}
		if err := abi.ParseTopicsIntoMap(args, indexed, l.Topics[1:]); err != nil {
			return nil, fmt.Errorf("contracts: parse %s topics: %w", ev.Name, err)
		}
	}
	return args, nil
}
