package domain

import (
	"strings"
	"time"
)

// DefaultBlockProcessRange is the window size used when a chain has none configured.
const DefaultBlockProcessRange uint64 = 50

// Chain is an EVM network the platform deploys to and indexes.
type Chain struct {
	ID                       int64
	Name                     string
	RPCURL                   string
	WSRPCURL                 string
	NativeSymbol             string
	ConditionalTokensAddress string
	// BlockProcessOffset is the next block to process. Nil means start from head.
	BlockProcessOffset *uint64
	BlockProcessRange  uint64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// WebSocketURL returns the configured WebSocket endpoint, or one derived from
// the HTTP endpoint by swapping the scheme.
func (c Chain) WebSocketURL() string {
	if c.WSRPCURL != "" {
		return c.WSRPCURL
	}
	switch {
	case strings.HasPrefix(c.RPCURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.RPCURL, "https://")
	case strings.HasPrefix(c.RPCURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.RPCURL, "http://")
	}
	return c.RPCURL
}

// ProcessRange returns the block window size, falling back to the default.
func (c Chain) ProcessRange() uint64 {
	if c.BlockProcessRange == 0 {
		return DefaultBlockProcessRange
	}
	return c.BlockProcessRange
}
