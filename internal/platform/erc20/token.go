// Package erc20 moves and inspects ERC-20 assets held in the bank's
// custody wallet. The native asset is handled through its wrapped ERC-20
// form so the whole custody surface is uniform.
package erc20

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/settleio/settlebank/internal/domain"
	"github.com/settleio/settlebank/internal/platform/evm"
)

const tokenABI = `[
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"uint8"}]},
	{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[
		{"name":"","type":"string"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"}],"outputs":[
		{"name":"","type":"uint256"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"}],"outputs":[
		{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"from","type":"address"},
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"}],"outputs":[
		{"name":"","type":"bool"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[
		{"name":"spender","type":"address"},
		{"name":"value","type":"uint256"}],"outputs":[
		{"name":"","type":"bool"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"},
		{"name":"spender","type":"address"}],"outputs":[
		{"name":"","type":"uint256"}]}
]`

var erc20ABI = evm.MustParseABI(tokenABI)

// Client implements asset custody over ERC-20 contracts. Custody is the
// transactor's hot-wallet address.
type Client struct {
	backend       evm.Backend
	tx            *evm.Transactor
	wrappedNative common.Address
	logger        *slog.Logger
}

var _ domain.TokenClient = (*Client)(nil)

// NewClient creates a token client. wrappedNative is the ERC-20 contract
// that stands in for the native asset identifier.
func NewClient(backend evm.Backend, tx *evm.Transactor, wrappedNative common.Address, logger *slog.Logger) *Client {
	return &Client{
		backend:       backend,
		tx:            tx,
		wrappedNative: wrappedNative,
		logger:        logger.With(slog.String("component", "erc20")),
	}
}

// Custody returns the address holding the bank's assets.
func (c *Client) Custody() common.Address {
	return c.tx.From()
}

// resolve maps the reserved native identifier to its wrapped contract.
func (c *Client) resolve(asset common.Address) (common.Address, error) {
	if asset != domain.NativeAsset {
		return asset, nil
	}
	if c.wrappedNative == (common.Address{}) {
		return common.Address{}, fmt.Errorf("erc20: no wrapped-native contract configured: %w", domain.ErrTokenNotSupported)
	}
	return c.wrappedNative, nil
}

// Decimals probes the token's fixed-point scale.
func (c *Client) Decimals(ctx context.Context, asset common.Address) (uint8, error) {
	token, err := c.resolve(asset)
	if err != nil {
		return 0, err
	}
	vals, err := evm.Call(ctx, c.backend, token, erc20ABI, "decimals")
	if err != nil {
		return 0, fmt.Errorf("erc20: decimals of %s: %w", token.Hex(), err)
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("erc20: unexpected decimals type %T", vals[0])
	}
	return d, nil
}

// Symbol probes the token's ticker symbol.
func (c *Client) Symbol(ctx context.Context, asset common.Address) (string, error) {
	token, err := c.resolve(asset)
	if err != nil {
		return "", err
	}
	vals, err := evm.Call(ctx, c.backend, token, erc20ABI, "symbol")
	if err != nil {
		return "", fmt.Errorf("erc20: symbol of %s: %w", token.Hex(), err)
	}
	s, ok := vals[0].(string)
	if !ok {
		return "", fmt.Errorf("erc20: unexpected symbol type %T", vals[0])
	}
	return s, nil
}

// BalanceOf returns holder's balance of the asset.
func (c *Client) BalanceOf(ctx context.Context, asset, holder common.Address) (*big.Int, error) {
	token, err := c.resolve(asset)
	if err != nil {
		return nil, err
	}
	vals, err := evm.Call(ctx, c.backend, token, erc20ABI, "balanceOf", holder)
	if err != nil {
		return nil, fmt.Errorf("erc20: balance of %s: %w", token.Hex(), err)
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("erc20: unexpected balance type %T", vals[0])
	}
	return bal, nil
}

// TransferIn pulls amount from the user into custody via transferFrom; the
// user must have approved the custody address beforehand.
func (c *Client) TransferIn(ctx context.Context, asset, from common.Address, amount *big.Int) error {
	token, err := c.resolve(asset)
	if err != nil {
		return err
	}
	calldata, err := erc20ABI.Pack("transferFrom", from, c.Custody(), amount)
	if err != nil {
		return fmt.Errorf("erc20: pack transferFrom: %w", err)
	}
	receipt, err := c.tx.Send(ctx, token, calldata, nil)
	if err != nil {
		return fmt.Errorf("erc20: transfer in %s of %s: %w", amount, token.Hex(), err)
	}
	c.logger.DebugContext(ctx, "transfer in mined",
		slog.String("token", token.Hex()),
		slog.String("from", from.Hex()),
		slog.String("amount", amount.String()),
		slog.String("tx", receipt.TxHash.Hex()),
	)
	return nil
}

// TransferOut pays amount from custody to the user.
func (c *Client) TransferOut(ctx context.Context, asset, to common.Address, amount *big.Int) error {
	token, err := c.resolve(asset)
	if err != nil {
		return err
	}
	calldata, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return fmt.Errorf("erc20: pack transfer: %w", err)
	}
	receipt, err := c.tx.Send(ctx, token, calldata, nil)
	if err != nil {
		return fmt.Errorf("erc20: transfer out %s of %s: %w", amount, token.Hex(), err)
	}
	c.logger.DebugContext(ctx, "transfer out mined",
		slog.String("token", token.Hex()),
		slog.String("to", to.Hex()),
		slog.String("amount", amount.String()),
		slog.String("tx", receipt.TxHash.Hex()),
	)
	return nil
}

// EnsureAllowance approves spender for at least amount of the asset,
// submitting an approval only when the current allowance is short. Swap
// wiring uses this so the exchange router can pull custody funds.
func (c *Client) EnsureAllowance(ctx context.Context, asset, spender common.Address, amount *big.Int) error {
	token, err := c.resolve(asset)
	if err != nil {
		return err
	}
	vals, err := evm.Call(ctx, c.backend, token, erc20ABI, "allowance", c.Custody(), spender)
	if err != nil {
		return fmt.Errorf("erc20: allowance of %s: %w", token.Hex(), err)
	}
	current, ok := vals[0].(*big.Int)
	if !ok {
		return fmt.Errorf("erc20: unexpected allowance type %T", vals[0])
	}
	if current.Cmp(amount) >= 0 {
		return nil
	}

	// Max approval so repeated swaps skip this path.
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	calldata, err := erc20ABI.Pack("approve", spender, max)
	if err != nil {
		return fmt.Errorf("erc20: pack approve: %w", err)
	}
	if _, err := c.tx.Send(ctx, token, calldata, nil); err != nil {
		return fmt.Errorf("erc20: approve %s for %s: %w", spender.Hex(), token.Hex(), err)
	}
	c.logger.InfoContext(ctx, "allowance granted",
		slog.String("token", token.Hex()),
		slog.String("spender", spender.Hex()),
	)
	return nil
}
