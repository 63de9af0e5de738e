package chainlink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// callBackend answers view calls from canned per-method outputs.
type callBackend struct {
	answers map[string][]byte
	calls   int
}

func (b *callBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.calls++
	for name, m := range aggABI.Methods {
		if bytes.HasPrefix(msg.Data, m.ID) {
			return b.answers[name], nil
		}
	}
	return nil, fmt.Errorf("unexpected call")
}

func (b *callBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) { return 0, nil }
func (b *callBackend) SuggestGasPrice(context.Context) (*big.Int, error)             { return nil, nil }
func (b *callBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error)  { return 0, nil }
func (b *callBackend) ChainID(context.Context) (*big.Int, error)                     { return nil, nil }
func (b *callBackend) SendTransaction(context.Context, *types.Transaction) error     { return nil }
func (b *callBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return nil, ethereum.NotFound
}

func TestLatestPrice(t *testing.T) {
	updated := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	round, err := aggABI.Methods["latestRoundData"].Outputs.Pack(
		big.NewInt(42),
		big.NewInt(3_0000_0000),
		big.NewInt(updated.Unix()),
		big.NewInt(updated.Unix()),
		big.NewInt(42),
	)
	require.NoError(t, err)

	backend := &callBackend{answers: map[string][]byte{"latestRoundData": round}}
	client := NewClient(backend, slog.New(slog.DiscardHandler))

	price, at, err := client.LatestPrice(context.Background(), common.HexToAddress("0xf1"))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(3_0000_0000), price)
	assert.True(t, at.Equal(updated))
}

func TestDecimalsCached(t *testing.T) {
	packed, err := aggABI.Methods["decimals"].Outputs.Pack(uint8(8))
	require.NoError(t, err)

	backend := &callBackend{answers: map[string][]byte{"decimals": packed}}
	client := NewClient(backend, slog.New(slog.DiscardHandler))
	feed := common.HexToAddress("0xf1")

	for i := 0; i < 3; i++ {
		d, err := client.Decimals(context.Background(), feed)
		require.NoError(t, err)
		assert.Equal(t, uint8(8), d)
	}
	assert.Equal(t, 1, backend.calls)
}
