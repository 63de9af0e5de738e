package router

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
	settlement    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	intermediary  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	wrappedNative = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	vault         = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	asset         = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

// fakeExchange scripts per-path quote and execution outcomes. Paths are
// distinguished by hop count: 3 hops is the intermediary route, 2 the
// direct pair.
type fakeExchange struct {
	tokens *fakeTokens

	quoteA, quoteB       *big.Int
	quoteAErr, quoteBErr error
	execAErr, execBErr   error
	deliverA, deliverB   *big.Int // credited to the vault on successful execution

	quoteCalls, execCalls int
	lastQuotePath         []common.Address
	lastExecPath          []common.Address
	lastMinOut            *big.Int
	lastDeadline          time.Time
}

func (f *fakeExchange) Quote(ctx context.Context, path []common.Address, amountIn *big.Int) ([]*big.Int, error) {
	f.quoteCalls++
	f.lastQuotePath = path
	if len(path) == 3 {
		if f.quoteAErr != nil {
			return nil, f.quoteAErr
		}
		return []*big.Int{amountIn, new(big.Int), f.quoteA}, nil
	}
	if f.quoteBErr != nil {
		return nil, f.quoteBErr
	}
	return []*big.Int{amountIn, f.quoteB}, nil
}

func (f *fakeExchange) ExecuteSwap(ctx context.Context, path []common.Address, amountIn, minOut *big.Int, deadline time.Time) (*big.Int, error) {
	f.execCalls++
	f.lastExecPath = path
	f.lastMinOut = minOut
	f.lastDeadline = deadline
	if len(path) == 3 {
		if f.execAErr != nil {
			return nil, f.execAErr
		}
		f.tokens.balance.Add(f.tokens.balance, f.deliverA)
		// Self-reported amount deliberately lies.
		return new(big.Int).Lsh(f.deliverA, 4), nil
	}
	if f.execBErr != nil {
		return nil, f.execBErr
	}
	f.tokens.balance.Add(f.tokens.balance, f.deliverB)
	return new(big.Int).Lsh(f.deliverB, 4), nil
}

type fakeTokens struct {
	balance *big.Int
}

func (f *fakeTokens) Decimals(ctx context.Context, asset common.Address) (uint8, error) {
	return 6, nil
}
func (f *fakeTokens) Symbol(ctx context.Context, asset common.Address) (string, error) {
	return "TKN", nil
}
func (f *fakeTokens) BalanceOf(ctx context.Context, asset, holder common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.balance), nil
}
func (f *fakeTokens) TransferIn(ctx context.Context, asset, from common.Address, amount *big.Int) error {
	return nil
}
func (f *fakeTokens) TransferOut(ctx context.Context, asset, to common.Address, amount *big.Int) error {
	return nil
}

func newRouter(t *testing.T) (*Router, *fakeExchange) {
	t.Helper()
	tokens := &fakeTokens{balance: big.NewInt(50_000)}
	ex := &fakeExchange{tokens: tokens}
	r := New(ex, tokens, settlement, intermediary, wrappedNative, vault,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	return r, ex
}

func TestIdentityConversionSkipsExchange(t *testing.T) {
	r, ex := newRouter(t)

	out, kind, err := r.Convert(context.Background(), settlement, big.NewInt(1234), big.NewInt(1000))
	require.NoError(t, err)
	assert.Equal(t, int64(1234), out.Int64())
	assert.Equal(t, domain.PathIdentity, kind)
	assert.Zero(t, ex.quoteCalls)
	assert.Zero(t, ex.execCalls)

	_, _, err = r.Convert(context.Background(), settlement, big.NewInt(1234), big.NewInt(1235))
	require.ErrorIs(t, err, domain.ErrSlippageTooHigh)
}

func TestSlippageBoundary(t *testing.T) {
	r, ex := newRouter(t)
	ex.quoteA = big.NewInt(1000)
	ex.deliverA = big.NewInt(1000)

	// Exactly 3.0% shortfall is accepted.
	out, kind, err := r.Convert(context.Background(), asset, big.NewInt(500), big.NewInt(970))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), out.Int64())
	assert.Equal(t, domain.PathIntermediary, kind)

	// 3.1% shortfall is rejected before execution, with no fallback.
	r2, ex2 := newRouter(t)
	ex2.quoteA = big.NewInt(1000)
	_, _, err = r2.Convert(context.Background(), asset, big.NewInt(500), big.NewInt(969))
	require.ErrorIs(t, err, domain.ErrSlippageTooHigh)
	assert.Zero(t, ex2.execCalls)
}

func TestMinOutAboveQuoteRejected(t *testing.T) {
	r, ex := newRouter(t)
	ex.quoteA = big.NewInt(1000)

	_, _, err := r.Convert(context.Background(), asset, big.NewInt(500), big.NewInt(1001))
	require.ErrorIs(t, err, domain.ErrSlippageTooHigh)
}

func TestZeroMinOutDerivesBound(t *testing.T) {
	r, ex := newRouter(t)
	ex.quoteA = big.NewInt(1000)
	ex.deliverA = big.NewInt(995)

	out, _, err := r.Convert(context.Background(), asset, big.NewInt(500), big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, int64(995), out.Int64())
	// Exchange-side enforcement gets quote * 97%.
	assert.Equal(t, int64(970), ex.lastMinOut.Int64())
}

func TestFallbackWhenPrimaryQuoteFails(t *testing.T) {
	r, ex := newRouter(t)
	ex.quoteAErr = errors.New("no liquidity")
	ex.quoteB = big.NewInt(900)
	ex.deliverB = big.NewInt(898)

	out, kind, err := r.Convert(context.Background(), asset, big.NewInt(500), big.NewInt(880))
	require.NoError(t, err)
	assert.Equal(t, int64(898), out.Int64())
	assert.Equal(t, domain.PathDirect, kind)
}

func TestFallbackWhenPrimaryExecutionFails(t *testing.T) {
	r, ex := newRouter(t)
	ex.quoteA = big.NewInt(1000)
	ex.execAErr = errors.New("deadline exceeded")
	ex.quoteB = big.NewInt(995)
	ex.deliverB = big.NewInt(990)

	out, kind, err := r.Convert(context.Background(), asset, big.NewInt(500), big.NewInt(980))
	require.NoError(t, err)
	assert.Equal(t, int64(990), out.Int64())
	assert.Equal(t, domain.PathDirect, kind)
}

func TestBothPathsFailing(t *testing.T) {
	r, ex := newRouter(t)
	ex.quoteAErr = errors.New("no liquidity")
	ex.quoteBErr = errors.New("no pair")

	_, _, err := r.Convert(context.Background(), asset, big.NewInt(500), big.NewInt(0))
	require.ErrorIs(t, err, domain.ErrSwapFailed)
}

func TestRealizedOutputIsBalanceDelta(t *testing.T) {
	r, ex := newRouter(t)
	ex.quoteA = big.NewInt(1000)
	// Exchange self-reports a shifted amount (see fake); only 973 arrives.
	ex.deliverA = big.NewInt(973)

	out, _, err := r.Convert(context.Background(), asset, big.NewInt(500), big.NewInt(970))
	require.NoError(t, err)
	assert.Equal(t, int64(973), out.Int64())
}

func TestExecutionDeadlineBounded(t *testing.T) {
	r, ex := newRouter(t)
	ex.quoteA = big.NewInt(1000)
	ex.deliverA = big.NewInt(1000)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	_, _, err := r.Convert(context.Background(), asset, big.NewInt(500), big.NewInt(0))
	require.NoError(t, err)
	assert.Equal(t, now.Add(ExecutionDeadline), ex.lastDeadline)
}

func TestZeroAmount(t *testing.T) {
	r, _ := newRouter(t)
	_, _, err := r.Convert(context.Background(), asset, big.NewInt(0), nil)
	require.ErrorIs(t, err, domain.ErrZeroAmount)
}

func TestEstimate(t *testing.T) {
	r, ex := newRouter(t)
	ex.quoteA = big.NewInt(1000)

	q, err := r.Estimate(context.Background(), asset, big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, domain.PathIntermediary, q.Kind)
	assert.Equal(t, int64(1000), q.Expected.Int64())
	assert.Zero(t, ex.execCalls)

	// Identity estimate.
	q, err = r.Estimate(context.Background(), settlement, big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, domain.PathIdentity, q.Kind)
	assert.Equal(t, int64(500), q.Expected.Int64())
}

func TestConvertSubstitutesWrappedNative(t *testing.T) {
	r, ex := newRouter(t)
	ex.quoteA = big.NewInt(1000)
	ex.deliverA = big.NewInt(995)

	out, kind, err := r.Convert(context.Background(), domain.NativeAsset, big.NewInt(500), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(995), out.Int64())
	assert.Equal(t, domain.PathIntermediary, kind)

	// The exchange must see the wrapped contract, never the reserved
	// zero-address identifier.
	require.NotEmpty(t, ex.lastQuotePath)
	assert.Equal(t, wrappedNative, ex.lastQuotePath[0])
	require.NotEmpty(t, ex.lastExecPath)
	assert.Equal(t, wrappedNative, ex.lastExecPath[0])
	assert.NotEqual(t, domain.NativeAsset, ex.lastQuotePath[0])
}

func TestConvertNativeWhenWrappedIsSettlement(t *testing.T) {
	tokens := &fakeTokens{balance: big.NewInt(50_000)}
	ex := &fakeExchange{tokens: tokens}
	r := New(ex, tokens, wrappedNative, intermediary, wrappedNative, vault,
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	out, kind, err := r.Convert(context.Background(), domain.NativeAsset, big.NewInt(700), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(700), out.Int64())
	assert.Equal(t, domain.PathIdentity, kind)
	assert.Zero(t, ex.quoteCalls)
}

func TestEstimateSubstitutesWrappedNative(t *testing.T) {
	r, ex := newRouter(t)
	ex.quoteA = big.NewInt(1500)

	q, err := r.Estimate(context.Background(), domain.NativeAsset, big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, domain.PathIntermediary, q.Kind)
	assert.Equal(t, wrappedNative, q.Path[0])
	assert.Equal(t, wrappedNative, ex.lastQuotePath[0])
}

func TestEstimateFallsBackToDirect(t *testing.T) {
	r, ex := newRouter(t)
	ex.quoteAErr = errors.New("no liquidity")
	ex.quoteB = big.NewInt(880)

	q, err := r.Estimate(context.Background(), asset, big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, domain.PathDirect, q.Kind)
	assert.Equal(t, int64(880), q.Expected.Int64())

	ex.quoteBErr = errors.New("no pair")
	_, err = r.Estimate(context.Background(), asset, big.NewInt(500))
	require.ErrorIs(t, err, domain.ErrSwapFailed)
}
