package gateway

import (
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/marketcore/internal/contracts"
	"github.com/alanyoungcy/marketcore/internal/domain"
)

// DecodedLog is one receipt log decoded against a known event.
type DecodedLog struct {
	Event string
	Args  map[string]any
	Log   types.Log
}

// EventLogs returns the logs in receipt that match eventName's topic,
// decoded with c's ABI. No match yields an empty slice; a matching log that
// fails to decode is an error.
func EventLogs(receipt *types.Receipt, c contracts.Contract, eventName string) ([]DecodedLog, error) {
	ev, ok := c.ABI.Events[eventName]
	if !ok {
		return nil, fmt.Errorf("gateway: %s has no event %q: %w", c, eventName, domain.ErrConfiguration)
	}
	if receipt == nil {
		return nil, nil
	}
	out := make([]DecodedLog, 0, 1)
	for _, l := range receipt.Logs {
		if l == nil || len(l.Topics) == 0 || l.Topics[0] != ev.ID {
			continue
		}
		args, err := contracts.DecodeLog(ev, *l)
		if err != nil {
			return nil, fmt.Errorf("gateway: decode %s in %s: %w", eventName, receipt.TxHash.Hex(), err)
		}
		out = append(out, DecodedLog{Event: eventName, Args: args, Log: *l})
	}
	return out, nil
}
