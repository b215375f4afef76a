package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceCache provides fast access to the latest outcome prices.
type PriceCache interface {
	SetPrice(ctx context.Context, marketID int64, tokenIndex int, price decimal.Decimal, ts time.Time) error
	GetPrice(ctx context.Context, marketID int64, tokenIndex int) (decimal.Decimal, time.Time, error)
}

// DecimalsCache remembers ERC20 decimals per chain and token.
type DecimalsCache interface {
	GetDecimals(ctx context.Context, chainID int64, token string) (uint8, error)
	SetDecimals(ctx context.Context, chainID int64, token string, decimals uint8) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus publishes state changes: ephemeral pub/sub messages and
// durable stream entries.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}
