package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/settleio/settlebank/internal/domain"
)

// PriceCache mirrors oracle snapshots into Redis hashes so API reads and
// external consumers never touch the registry lock. Each asset lives at
// "price:{address}" with fields "price" (decimal string in the feed's
// scale) and "ts" (Unix nanoseconds).
type PriceCache struct {
	rdb *redis.Client
}

var _ domain.PriceCache = (*PriceCache)(nil)

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(asset common.Address) string {
	return "price:" + asset.Hex()
}

// SetPrice stores the latest snapshot for an asset.
func (pc *PriceCache) SetPrice(ctx context.Context, asset common.Address, price *big.Int, ts time.Time) error {
	fields := map[string]interface{}{
		"price": price.String(),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, priceKey(asset), fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", asset.Hex(), err)
	}
	return nil
}

// GetPrice retrieves the mirrored snapshot for an asset. It returns
// domain.ErrNotFound when no snapshot has been mirrored.
func (pc *PriceCache) GetPrice(ctx context.Context, asset common.Address) (*big.Int, time.Time, error) {
	vals, err := pc.rdb.HGetAll(ctx, priceKey(asset)).Result()
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: get price %s: %w", asset.Hex(), err)
	}
	if len(vals) == 0 {
		return nil, time.Time{}, domain.ErrNotFound
	}

	price, ok := new(big.Int).SetString(vals["price"], 10)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("redis: parse price %q for %s", vals["price"], asset.Hex())
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("redis: parse ts for %s: %w", asset.Hex(), err)
	}
	return price, time.Unix(0, tsNano), nil
}

// GetPrices retrieves snapshots for multiple assets with one pipeline.
// Assets without a mirrored snapshot are omitted from the result.
func (pc *PriceCache) GetPrices(ctx context.Context, assets []common.Address) (map[common.Address]*big.Int, error) {
	result := make(map[common.Address]*big.Int, len(assets))
	if len(assets) == 0 {
		return result, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[common.Address]*redis.MapStringStringCmd, len(assets))
	for _, asset := range assets {
		cmds[asset] = pipe.HGetAll(ctx, priceKey(asset))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	for asset, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		price, ok := new(big.Int).SetString(vals["price"], 10)
		if !ok {
			continue
		}
		result[asset] = price
	}
	return result, nil
}
