package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PriceFeed reads an external price source. Implementations may be
// unavailable; callers treat fetch failures as "no update".
type PriceFeed interface {
	// LatestPrice returns the most recent price report from the feed at the
	// given address, together with the timestamp the source reported for it.
	LatestPrice(ctx context.Context, feed common.Address) (price *big.Int, updatedAt time.Time, err error)
	// Decimals returns the feed's own fixed-point scale.
	Decimals(ctx context.Context, feed common.Address) (uint8, error)
}

// Exchange quotes and executes multi-hop conversion paths.
type Exchange interface {
	// Quote returns the expected output amounts for each hop of the path.
	// It fails when the path has no liquidity or does not exist.
	Quote(ctx context.Context, path []common.Address, amountIn *big.Int) ([]*big.Int, error)
	// ExecuteSwap performs the conversion, enforcing minOut and the deadline
	// at execution time. The returned amount is the exchange's self-reported
	// output; callers must not trust it for accounting.
	ExecuteSwap(ctx context.Context, path []common.Address, amountIn, minOut *big.Int, deadline time.Time) (*big.Int, error)
}

// TokenClient is the asset transfer and metadata capability. Transfers are
// assumed atomic; any error is fatal to the invoking pipeline.
type TokenClient interface {
	Decimals(ctx context.Context, asset common.Address) (uint8, error)
	Symbol(ctx context.Context, asset common.Address) (string, error)
	BalanceOf(ctx context.Context, asset, holder common.Address) (*big.Int, error)
	// TransferIn pulls amount of asset from the user into custody.
	TransferIn(ctx context.Context, asset, from common.Address, amount *big.Int) error
	// TransferOut pays amount of asset from custody to the user.
	TransferOut(ctx context.Context, asset, to common.Address, amount *big.Int) error
}
