package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketcore/internal/domain"
)

// DecimalsCache implements domain.DecimalsCache. Token decimals never change,
// so entries do not expire.
type DecimalsCache struct {
	c *Client
}

// NewDecimalsCache creates a DecimalsCache backed by the given Client.
func NewDecimalsCache(c *Client) *DecimalsCache {
	return &DecimalsCache{c: c}
}

func (dc *DecimalsCache) keyFor(chainID int64, token string) string {
	return dc.c.key("decimals", chainID, strings.ToLower(token))
}

// GetDecimals returns the cached decimals, or domain.ErrNotFound.
func (dc *DecimalsCache) GetDecimals(ctx context.Context, chainID int64, token string) (uint8, error) {
	v, err := dc.c.rdb.Get(ctx, dc.keyFor(chainID, token)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("redis: decimals of %s: %w", token, domain.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("redis: get decimals of %s: %w", token, err)
	}
	if v > 255 {
		return 0, fmt.Errorf("redis: decimals of %s out of range: %d", token, v)
	}
	return uint8(v), nil
}

// SetDecimals stores decimals for a token.
func (dc *DecimalsCache) SetDecimals(ctx context.Context, chainID int64, token string, decimals uint8) error {
	if err := dc.c.rdb.Set(ctx, dc.keyFor(chainID, token), decimals, 0).Err(); err != nil {
		return fmt.Errorf("redis: set decimals of %s: %w", token, err)
	}
	return nil
}

var _ domain.DecimalsCache = (*DecimalsCache)(nil)
