// Package oracle adapts external price feeds into the registry's cached
// per-asset snapshots and computes USD valuations from them.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/settleio/settlebank/internal/domain"
	"github.com/settleio/settlebank/internal/registry"
)

// StaleThreshold is the maximum age of a price report before it is
// considered unusable, both at fetch time and at valuation time.
const StaleThreshold = 12 * time.Hour

// valueDecimals is the fixed-point scale amounts are normalized to before
// multiplying by the feed price.
const valueDecimals = 18

// Adapter fetches prices from the configured feeds and caches them in the
// registry. A Redis mirror, when present, receives fresh snapshots on a
// best-effort basis for read-side consumers.
type Adapter struct {
	registry *registry.Registry
	feeds    domain.PriceFeed
	mirror   domain.PriceCache // optional
	now      func() time.Time
	logger   *slog.Logger
}

// New creates an Adapter. mirror may be nil.
func New(reg *registry.Registry, feeds domain.PriceFeed, mirror domain.PriceCache, logger *slog.Logger) *Adapter {
	return &Adapter{
		registry: reg,
		feeds:    feeds,
		mirror:   mirror,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "oracle")),
	}
}

// RefreshPrice fetches the latest report from the asset's linked feed and
// overwrites the cached snapshot. Fetch failures are swallowed: the
// previous snapshot stays in place and downstream consumers detect the age
// through PriceUpdatedAt. A report that is itself stale, or carries a
// non-positive price, fails with ErrStalePrice and does not overwrite.
func (a *Adapter) RefreshPrice(ctx context.Context, asset common.Address) error {
	cfg, err := a.registry.Get(asset)
	if err != nil {
		return err
	}
	if !cfg.HasPriceFeed() {
		return nil
	}

	price, updatedAt, err := a.feeds.LatestPrice(ctx, cfg.PriceFeed)
	if err != nil {
		// Best effort: keep the previous snapshot, let staleness surface
		// at the point of use.
		a.logger.WarnContext(ctx, "price fetch failed, keeping cached snapshot",
			slog.String("asset", asset.Hex()),
			slog.String("feed", cfg.PriceFeed.Hex()),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("oracle: non-positive price for %s: %w", asset.Hex(), domain.ErrStalePrice)
	}
	if a.now().Sub(updatedAt) > StaleThreshold {
		return fmt.Errorf("oracle: report for %s is %s old: %w",
			asset.Hex(), a.now().Sub(updatedAt).Truncate(time.Second), domain.ErrStalePrice)
	}

	if err := a.registry.SetPriceSnapshot(asset, price, updatedAt); err != nil {
		return fmt.Errorf("oracle: cache snapshot for %s: %w", asset.Hex(), err)
	}

	if a.mirror != nil {
		if err := a.mirror.SetPrice(ctx, asset, price, updatedAt); err != nil {
			a.logger.WarnContext(ctx, "price mirror update failed",
				slog.String("asset", asset.Hex()),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// USDValue computes amount (in the asset's native unit) normalized to
// 18-decimal fixed point, multiplied by the cached price and divided by
// the feed's own scale. Assets with no feed are valued at zero; a cached
// snapshot older than StaleThreshold fails with ErrStalePrice.
func (a *Adapter) USDValue(asset common.Address, amount *big.Int) (*big.Int, error) {
	cfg, err := a.registry.Get(asset)
	if err != nil {
		return nil, err
	}
	if !cfg.HasPriceFeed() {
		return new(big.Int), nil
	}
	if !cfg.PriceFresh(a.now(), StaleThreshold) {
		return nil, fmt.Errorf("oracle: snapshot for %s unusable: %w", asset.Hex(), domain.ErrStalePrice)
	}

	normalized := normalize(amount, cfg.Decimals)
	value := new(big.Int).Mul(normalized, cfg.LastPrice)
	feedScale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(cfg.FeedDecimals)), nil)
	return value.Div(value, feedScale), nil
}

// normalize rescales amount from the asset's precision to valueDecimals.
func normalize(amount *big.Int, decimals uint8) *big.Int {
	out := new(big.Int).Set(amount)
	switch {
	case decimals < valueDecimals:
		exp := big.NewInt(int64(valueDecimals - decimals))
		return out.Mul(out, new(big.Int).Exp(big.NewInt(10), exp, nil))
	case decimals > valueDecimals:
		exp := big.NewInt(int64(decimals - valueDecimals))
		return out.Div(out, new(big.Int).Exp(big.NewInt(10), exp, nil))
	default:
		return out
	}
}
