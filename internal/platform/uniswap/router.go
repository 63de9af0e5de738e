// Package uniswap executes conversions through a Uniswap-V2-compatible
// router contract.
package uniswap

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/settleio/settlebank/internal/domain"
	"github.com/settleio/settlebank/internal/platform/evm"
)

const routerABI = `[
	{"name":"getAmountsOut","type":"function","stateMutability":"view","inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"path","type":"address[]"}],"outputs":[
		{"name":"amounts","type":"uint256[]"}]},
	{"name":"swapExactTokensForTokens","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"amountIn","type":"uint256"},
		{"name":"amountOutMin","type":"uint256"},
		{"name":"path","type":"address[]"},
		{"name":"to","type":"address"},
		{"name":"deadline","type":"uint256"}],"outputs":[
		{"name":"amounts","type":"uint256[]"}]}
]`

var (
	swapABI           = evm.MustParseABI(routerABI)
	transferEventHash = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))
)

// Approver grants the router spending rights over custody funds before a
// swap pulls them.
type Approver interface {
	EnsureAllowance(ctx context.Context, asset, spender common.Address, amount *big.Int) error
}

// Client quotes and executes swaps against a single router contract,
// delivering proceeds to the given recipient.
type Client struct {
	backend   evm.Backend
	tx        *evm.Transactor
	router    common.Address
	recipient common.Address
	approver  Approver
	logger    *slog.Logger
}

var _ domain.Exchange = (*Client)(nil)

// NewClient creates a swap client. recipient is the custody address that
// receives swap output; approver may be nil when allowances are managed
// out of band.
func NewClient(backend evm.Backend, tx *evm.Transactor, router, recipient common.Address, approver Approver, logger *slog.Logger) *Client {
	return &Client{
		backend:   backend,
		tx:        tx,
		router:    router,
		recipient: recipient,
		approver:  approver,
		logger:    logger.With(slog.String("component", "uniswap")),
	}
}

// Quote returns the router's expected output for each hop of the path.
func (c *Client) Quote(ctx context.Context, path []common.Address, amountIn *big.Int) ([]*big.Int, error) {
	if len(path) < 2 {
		return nil, fmt.Errorf("uniswap: path needs at least two hops, got %d", len(path))
	}
	vals, err := evm.Call(ctx, c.backend, c.router, swapABI, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("uniswap: get amounts out: %w", err)
	}
	amounts, ok := vals[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("uniswap: unexpected amounts type %T", vals[0])
	}
	if len(amounts) != len(path) {
		return nil, fmt.Errorf("uniswap: amounts length %d does not match path length %d", len(amounts), len(path))
	}
	return amounts, nil
}

// ExecuteSwap submits the swap and waits for it to mine. The returned
// amount is recovered from the final hop's Transfer log to the recipient;
// callers verify the realized output against custody balances regardless.
func (c *Client) ExecuteSwap(ctx context.Context, path []common.Address, amountIn, minOut *big.Int, deadline time.Time) (*big.Int, error) {
	if c.approver != nil {
		if err := c.approver.EnsureAllowance(ctx, path[0], c.router, amountIn); err != nil {
			return nil, fmt.Errorf("uniswap: grant allowance: %w", err)
		}
	}

	calldata, err := swapABI.Pack("swapExactTokensForTokens",
		amountIn, minOut, path, c.recipient, big.NewInt(deadline.Unix()))
	if err != nil {
		return nil, fmt.Errorf("uniswap: pack swap: %w", err)
	}

	receipt, err := c.tx.Send(ctx, c.router, calldata, nil)
	if err != nil {
		return nil, fmt.Errorf("uniswap: swap %s -> %s: %w", path[0].Hex(), path[len(path)-1].Hex(), err)
	}

	c.logger.InfoContext(ctx, "swap executed",
		slog.String("tx", receipt.TxHash.Hex()),
		slog.String("amount_in", amountIn.String()),
		slog.Int("hops", len(path)-1),
	)

	out := path[len(path)-1]
	for i := len(receipt.Logs) - 1; i >= 0; i-- {
		log := receipt.Logs[i]
		if log == nil || log.Address != out || len(log.Topics) < 3 {
			continue
		}
		if log.Topics[0] != transferEventHash {
			continue
		}
		if common.BytesToAddress(log.Topics[2].Bytes()) != c.recipient {
			continue
		}
		return new(big.Int).SetBytes(log.Data), nil
	}
	// No matching log; report the enforced minimum.
	return new(big.Int).Set(minOut), nil
}
