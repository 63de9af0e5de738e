package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settleio/settlebank/internal/domain"
)

var (
	settlement = common.HexToAddress("0x0000000000000000000000000000000000000001")
	asset      = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	feedAddr   = common.HexToAddress("0x00000000000000000000000000000000000000f1")
)

type fakeTokens struct {
	decimalsErr error
}

func (f *fakeTokens) Decimals(ctx context.Context, asset common.Address) (uint8, error) {
	if f.decimalsErr != nil {
		return 0, f.decimalsErr
	}
	return 8, nil
}
func (f *fakeTokens) Symbol(ctx context.Context, asset common.Address) (string, error) {
	return "TKN", nil
}
func (f *fakeTokens) BalanceOf(ctx context.Context, asset, holder common.Address) (*big.Int, error) {
	return new(big.Int), nil
}
func (f *fakeTokens) TransferIn(ctx context.Context, asset, from common.Address, amount *big.Int) error {
	return nil
}
func (f *fakeTokens) TransferOut(ctx context.Context, asset, to common.Address, amount *big.Int) error {
	return nil
}

type fakeFeed struct{}

func (fakeFeed) LatestPrice(ctx context.Context, feed common.Address) (*big.Int, time.Time, error) {
	return big.NewInt(1), time.Now(), nil
}
func (fakeFeed) Decimals(ctx context.Context, feed common.Address) (uint8, error) {
	return 8, nil
}

type memConfigStore struct {
	configs map[common.Address]domain.TokenConfig
}

func (s *memConfigStore) Upsert(ctx context.Context, cfg domain.TokenConfig) error {
	if s.configs == nil {
		s.configs = make(map[common.Address]domain.TokenConfig)
	}
	s.configs[cfg.Asset] = cfg
	return nil
}

func (s *memConfigStore) List(ctx context.Context) ([]domain.TokenConfig, error) {
	out := make([]domain.TokenConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	return out, nil
}

func newRegistry(t *testing.T, tokens *fakeTokens, store domain.TokenConfigStore) *Registry {
	t.Helper()
	return New(Params{
		Settlement:                settlement,
		SettlementSymbol:          "USDS",
		SettlementDecimals:        6,
		SettlementWithdrawalLimit: big.NewInt(5_000_000_000),
		SettlementDepositLimit:    big.NewInt(10_000_000_000),
		NativeSymbol:              "ETH",
		NativeDecimals:            18,
	}, tokens, fakeFeed{}, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegisterProbesMetadata(t *testing.T) {
	r := newRegistry(t, &fakeTokens{}, nil)

	cfg, err := r.Register(context.Background(), asset, big.NewInt(10), big.NewInt(20), feedAddr)
	require.NoError(t, err)
	assert.Equal(t, uint8(8), cfg.Decimals)
	assert.Equal(t, "TKN", cfg.Symbol)
	assert.Equal(t, uint8(8), cfg.FeedDecimals)
	assert.True(t, r.IsSupported(asset))
}

func TestRegisterRejectsReservedIdentifiers(t *testing.T) {
	r := newRegistry(t, &fakeTokens{}, nil)

	_, err := r.Register(context.Background(), settlement, nil, nil, common.Address{})
	require.ErrorIs(t, err, domain.ErrInvalidToken)

	_, err = r.Register(context.Background(), domain.NativeAsset, nil, nil, common.Address{})
	require.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	r := newRegistry(t, &fakeTokens{}, nil)
	_, err := r.Register(context.Background(), asset, nil, nil, common.Address{})
	require.NoError(t, err)

	_, err = r.Register(context.Background(), asset, nil, nil, common.Address{})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestRegisterFailsOnMetadataProbe(t *testing.T) {
	r := newRegistry(t, &fakeTokens{decimalsErr: errors.New("not a contract")}, nil)

	_, err := r.Register(context.Background(), asset, nil, nil, common.Address{})
	require.ErrorIs(t, err, domain.ErrInvalidToken)
	assert.False(t, r.IsSupported(asset))
}

func TestReservedEntriesSupportedAtInit(t *testing.T) {
	r := newRegistry(t, &fakeTokens{}, nil)
	assert.True(t, r.IsSupported(settlement))
	assert.True(t, r.IsSupported(domain.NativeAsset))
	assert.False(t, r.IsSupported(asset))
}

func TestUpdateLimits(t *testing.T) {
	r := newRegistry(t, &fakeTokens{}, nil)

	err := r.UpdateLimits(context.Background(), asset, big.NewInt(1), big.NewInt(2))
	require.ErrorIs(t, err, domain.ErrTokenNotSupported)

	_, err = r.Register(context.Background(), asset, big.NewInt(10), big.NewInt(20), common.Address{})
	require.NoError(t, err)

	require.NoError(t, r.UpdateLimits(context.Background(), asset, big.NewInt(111), big.NewInt(222)))
	cfg, err := r.Get(asset)
	require.NoError(t, err)
	assert.Equal(t, int64(111), cfg.WithdrawalLimit.Int64())
	assert.Equal(t, int64(222), cfg.DepositLimit.Int64())
}

func TestPersistAndLoad(t *testing.T) {
	store := &memConfigStore{}
	r := newRegistry(t, &fakeTokens{}, store)
	_, err := r.Register(context.Background(), asset, big.NewInt(10), big.NewInt(20), feedAddr)
	require.NoError(t, err)

	fresh := newRegistry(t, &fakeTokens{}, store)
	assert.False(t, fresh.IsSupported(asset))
	require.NoError(t, fresh.Load(context.Background()))
	assert.True(t, fresh.IsSupported(asset))

	cfg, err := fresh.Get(asset)
	require.NoError(t, err)
	assert.Equal(t, feedAddr, cfg.PriceFeed)
}

func TestGetReturnsCopy(t *testing.T) {
	r := newRegistry(t, &fakeTokens{}, nil)
	_, err := r.Register(context.Background(), asset, big.NewInt(10), big.NewInt(20), common.Address{})
	require.NoError(t, err)

	cfg, err := r.Get(asset)
	require.NoError(t, err)
	cfg.DepositLimit.SetInt64(9999)

	again, err := r.Get(asset)
	require.NoError(t, err)
	assert.Equal(t, int64(20), again.DepositLimit.Int64())
}

func TestSetPriceSnapshot(t *testing.T) {
	r := newRegistry(t, &fakeTokens{}, nil)
	_, err := r.Register(context.Background(), asset, nil, nil, feedAddr)
	require.NoError(t, err)

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, r.SetPriceSnapshot(asset, big.NewInt(42), at))

	cfg, err := r.Get(asset)
	require.NoError(t, err)
	assert.Equal(t, int64(42), cfg.LastPrice.Int64())
	assert.Equal(t, at, cfg.PriceUpdatedAt)

	err = r.SetPriceSnapshot(common.HexToAddress("0xdead"), big.NewInt(1), at)
	require.ErrorIs(t, err, domain.ErrTokenNotSupported)
}
