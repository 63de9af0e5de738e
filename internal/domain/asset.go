// Package domain defines the core entities of the settlement bank (token
// configuration, ledger records, daily limits) together with the store,
// cache, and external-collaborator interfaces implemented by the
// infrastructure packages.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset is the reserved identifier for the chain's native asset.
// The zero address never collides with a deployed token contract.
var NativeAsset = common.Address{}

// TokenConfig holds the per-asset configuration plus the cached oracle
// snapshot. Limits are expressed in the asset's own fixed-point unit.
type TokenConfig struct {
	Asset     common.Address
	Symbol    string
	Supported bool
	Decimals  uint8

	// Per-operation ceilings in the asset's native unit.
	WithdrawalLimit *big.Int
	DepositLimit    *big.Int

	// PriceFeed is the external price source address, or the zero address
	// when the asset requires no conversion (it IS the settlement unit).
	PriceFeed    common.Address
	FeedDecimals uint8

	// Cached oracle snapshot, overwritten on every successful refresh.
	LastPrice      *big.Int
	PriceUpdatedAt time.Time
}

// HasPriceFeed reports whether a price source is configured for the asset.
func (c *TokenConfig) HasPriceFeed() bool {
	return c.PriceFeed != (common.Address{})
}

// PriceFresh reports whether the cached snapshot is usable at the given
// time: positive price, non-zero timestamp, and younger than maxAge.
func (c *TokenConfig) PriceFresh(now time.Time, maxAge time.Duration) bool {
	if c.LastPrice == nil || c.LastPrice.Sign() <= 0 || c.PriceUpdatedAt.IsZero() {
		return false
	}
	return now.Sub(c.PriceUpdatedAt) <= maxAge
}

// Clone returns a deep copy so callers cannot mutate registry state through
// a returned config.
func (c *TokenConfig) Clone() *TokenConfig {
	out := *c
	if c.WithdrawalLimit != nil {
		out.WithdrawalLimit = new(big.Int).Set(c.WithdrawalLimit)
	}
	if c.DepositLimit != nil {
		out.DepositLimit = new(big.Int).Set(c.DepositLimit)
	}
	if c.LastPrice != nil {
		out.LastPrice = new(big.Int).Set(c.LastPrice)
	}
	return &out
}
