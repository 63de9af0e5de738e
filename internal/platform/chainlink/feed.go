// Package chainlink reads Chainlink-compatible price aggregators.
package chainlink

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/settleio/settlebank/internal/domain"
	"github.com/settleio/settlebank/internal/platform/evm"
)

const aggregatorABI = `[
	{"name":"latestRoundData","type":"function","stateMutability":"view","inputs":[],"outputs":[
		{"name":"roundId","type":"uint80"},
		{"name":"answer","type":"int256"},
		{"name":"startedAt","type":"uint256"},
		{"name":"updatedAt","type":"uint256"},
		{"name":"answeredInRound","type":"uint80"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"uint8"}]}
]`

var aggABI = evm.MustParseABI(aggregatorABI)

// Client reads latest round data from aggregator contracts. Decimal scales
// are immutable per aggregator and cached after the first probe.
type Client struct {
	backend evm.Backend
	logger  *slog.Logger

	mu       sync.Mutex
	decimals map[common.Address]uint8
}

var _ domain.PriceFeed = (*Client)(nil)

// NewClient creates a feed reader on the given backend.
func NewClient(backend evm.Backend, logger *slog.Logger) *Client {
	return &Client{
		backend:  backend,
		logger:   logger.With(slog.String("component", "chainlink")),
		decimals: make(map[common.Address]uint8),
	}
}

// LatestPrice returns the aggregator's most recent answer and the timestamp
// the aggregator reported for it. The answer is returned as-is in the
// feed's own decimal scale.
func (c *Client) LatestPrice(ctx context.Context, feed common.Address) (*big.Int, time.Time, error) {
	vals, err := evm.Call(ctx, c.backend, feed, aggABI, "latestRoundData")
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("chainlink: latest round data: %w", err)
	}
	if len(vals) != 5 {
		return nil, time.Time{}, fmt.Errorf("chainlink: unexpected round data arity %d", len(vals))
	}
	answer, ok := vals[1].(*big.Int)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("chainlink: unexpected answer type %T", vals[1])
	}
	updatedAt, ok := vals[3].(*big.Int)
	if !ok {
		return nil, time.Time{}, fmt.Errorf("chainlink: unexpected updatedAt type %T", vals[3])
	}
	return answer, time.Unix(updatedAt.Int64(), 0).UTC(), nil
}

// Decimals returns the aggregator's fixed-point scale.
func (c *Client) Decimals(ctx context.Context, feed common.Address) (uint8, error) {
	c.mu.Lock()
	cached, ok := c.decimals[feed]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}

	vals, err := evm.Call(ctx, c.backend, feed, aggABI, "decimals")
	if err != nil {
		return 0, fmt.Errorf("chainlink: decimals: %w", err)
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("chainlink: unexpected decimals type %T", vals[0])
	}

	c.mu.Lock()
	c.decimals[feed] = d
	c.mu.Unlock()
	return d, nil
}
