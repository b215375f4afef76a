package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

// PriceCache implements domain.PriceCache with one hash per market at
// "price:<marketID>", holding "<index>" and "<index>:ts" fields.
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. A positive ttl expires markets that
// stop trading.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

// SetPrice stores the latest price of one outcome.
func (pc *PriceCache) SetPrice(ctx context.Context, marketID int64, tokenIndex int, price decimal.Decimal, ts time.Time) error {
	key := pc.c.key("price", marketID)
	idx := strconv.Itoa(tokenIndex)
	pipe := pc.c.rdb.TxPipeline()
	pipe.HSet(ctx, key, idx, price.String(), idx+":ts", strconv.FormatInt(ts.UnixNano(), 10))
	if pc.ttl > 0 {
		pipe.Expire(ctx, key, pc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set price %d/%d: %w", marketID, tokenIndex, err)
	}
	return nil
}

// GetPrice returns the latest price of one outcome, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, marketID int64, tokenIndex int) (decimal.Decimal, time.Time, error) {
	idx := strconv.Itoa(tokenIndex)
	vals, err := pc.c.rdb.HMGet(ctx, pc.c.key("price", marketID), idx, idx+":ts").Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %d/%d: %w", marketID, tokenIndex, err)
	}
	priceStr, ok1 := vals[0].(string)
	tsStr, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: price %d/%d: %w", marketID, tokenIndex, domain.ErrNotFound)
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse price %d/%d: %w", marketID, tokenIndex, err)
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse ts %d/%d: %w", marketID, tokenIndex, err)
	}
	return price, time.Unix(0, tsNano), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
