package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settleio/settlebank/internal/domain"
	"github.com/settleio/settlebank/internal/ledger"
	"github.com/settleio/settlebank/internal/oracle"
	"github.com/settleio/settlebank/internal/registry"
	"github.com/settleio/settlebank/internal/risk"
	"github.com/settleio/settlebank/internal/router"
)

var (
	svcSettlement   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	svcIntermediary = common.HexToAddress("0x0000000000000000000000000000000000000002")
	svcWrapped      = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	svcVault        = common.HexToAddress("0x00000000000000000000000000000000000000cc")
	svcAsset        = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	svcFeed         = common.HexToAddress("0x00000000000000000000000000000000000000f1")
	svcUser         = common.HexToAddress("0x0000000000000000000000000000000000000055")
)

// fakeChain plays the feed, exchange, and token roles for pipeline tests.
// Quotes multiply the input by rate; executed swaps honestly deliver the
// quoted amount into the vault's settlement balance.
type fakeChain struct {
	decimals     map[common.Address]uint8
	symbols      map[common.Address]string
	vaultBalance *big.Int

	price        *big.Int
	priceAt      time.Time
	fetchErr     error
	feedDecimals uint8

	rate           int64
	quoteErr       error
	execErr        error
	transferInErr  error
	transferOutErr error

	transfersIn   int
	transfersOut  int
	lastOutTo     common.Address
	lastOutAmt    *big.Int
	lastQuotePath []common.Address
}

func (f *fakeChain) LatestPrice(_ context.Context, _ common.Address) (*big.Int, time.Time, error) {
	if f.fetchErr != nil {
		return nil, time.Time{}, f.fetchErr
	}
	return new(big.Int).Set(f.price), f.priceAt, nil
}

func (f *fakeChain) Decimals(_ context.Context, asset common.Address) (uint8, error) {
	if asset == svcFeed {
		return f.feedDecimals, nil
	}
	d, ok := f.decimals[asset]
	if !ok {
		return 0, errors.New("no such token")
	}
	return d, nil
}

func (f *fakeChain) Symbol(_ context.Context, asset common.Address) (string, error) {
	s, ok := f.symbols[asset]
	if !ok {
		return "", errors.New("no such token")
	}
	return s, nil
}

func (f *fakeChain) BalanceOf(_ context.Context, _, _ common.Address) (*big.Int, error) {
	return new(big.Int).Set(f.vaultBalance), nil
}

func (f *fakeChain) TransferIn(_ context.Context, _, _ common.Address, _ *big.Int) error {
	if f.transferInErr != nil {
		return f.transferInErr
	}
	f.transfersIn++
	return nil
}

func (f *fakeChain) TransferOut(_ context.Context, _ common.Address, to common.Address, amount *big.Int) error {
	if f.transferOutErr != nil {
		return f.transferOutErr
	}
	f.transfersOut++
	f.lastOutTo = to
	f.lastOutAmt = new(big.Int).Set(amount)
	return nil
}

func (f *fakeChain) Quote(_ context.Context, path []common.Address, amountIn *big.Int) ([]*big.Int, error) {
	f.lastQuotePath = path
	if f.quoteErr != nil {
		return nil, f.quoteErr
	}
	out := make([]*big.Int, len(path))
	out[0] = new(big.Int).Set(amountIn)
	for i := 1; i < len(path); i++ {
		out[i] = new(big.Int).Mul(amountIn, big.NewInt(f.rate))
	}
	return out, nil
}

func (f *fakeChain) ExecuteSwap(_ context.Context, path []common.Address, amountIn, _ *big.Int, _ time.Time) (*big.Int, error) {
	if f.execErr != nil {
		return nil, f.execErr
	}
	delivered := new(big.Int).Mul(amountIn, big.NewInt(f.rate))
	f.vaultBalance.Add(f.vaultBalance, delivered)
	return new(big.Int).Set(delivered), nil
}

type memTransfers struct {
	recs []domain.TransferRecord
}

func (m *memTransfers) Insert(_ context.Context, rec domain.TransferRecord) error {
	m.recs = append(m.recs, rec)
	return nil
}
func (m *memTransfers) ListByUser(context.Context, common.Address, domain.ListOpts) ([]domain.TransferRecord, error) {
	return m.recs, nil
}
func (m *memTransfers) List(context.Context, domain.ListOpts) ([]domain.TransferRecord, error) {
	return m.recs, nil
}
func (m *memTransfers) ListBefore(context.Context, time.Time) ([]domain.TransferRecord, error) {
	return m.recs, nil
}
func (m *memTransfers) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memAudit struct {
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}
func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}
func (m *memAudit) ListBefore(context.Context, time.Time) ([]domain.AuditEntry, error) {
	return nil, nil
}
func (m *memAudit) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

type memBus struct {
	published map[string]int
	streamed  map[string][][]byte
}

func (m *memBus) Publish(_ context.Context, channel string, _ []byte) error {
	if m.published == nil {
		m.published = make(map[string]int)
	}
	m.published[channel]++
	return nil
}
func (m *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (m *memBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	if m.streamed == nil {
		m.streamed = make(map[string][][]byte)
	}
	m.streamed[stream] = append(m.streamed[stream], payload)
	return nil
}
func (m *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type bankFixture struct {
	svc       *BankService
	chain     *fakeChain
	ledger    *ledger.Ledger
	transfers *memTransfers
	audit     *memAudit
	bus       *memBus
	now       time.Time
}

func newBankFixture(t *testing.T, cap *big.Int) *bankFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	// Real wall-clock base: the oracle adapter checks report staleness
	// against time.Now.
	now := time.Now().UTC()

	chain := &fakeChain{
		decimals: map[common.Address]uint8{
			svcSettlement: 6,
			svcAsset:      6,
		},
		symbols: map[common.Address]string{
			svcSettlement: "USDS",
			svcAsset:      "TKA",
		},
		vaultBalance: new(big.Int),
		price:        big.NewInt(3_0000_0000), // 3.00 at 8 decimals
		priceAt:      now.Add(-time.Minute),
		feedDecimals: 8,
		rate:         3,
	}

	reg := registry.New(registry.Params{
		Settlement:                svcSettlement,
		SettlementSymbol:          "USDS",
		SettlementDecimals:        6,
		SettlementWithdrawalLimit: big.NewInt(2_000_000_000),
		NativeSymbol:              "ETH",
		NativeDecimals:            18,
	}, chain, chain, nil, logger)

	orc := oracle.New(reg, chain, nil, logger)
	rtr := router.New(chain, chain, svcSettlement, svcIntermediary, svcWrapped, svcVault, logger)
	rm := risk.NewManager(risk.DefaultConfig(6), logger)
	led := ledger.New(cap)
	transfers := &memTransfers{}
	audit := &memAudit{}
	bus := &memBus{}

	svc := NewBankService(Deps{
		Registry:  reg,
		Oracle:    orc,
		Router:    rtr,
		Risk:      rm,
		Ledger:    led,
		Tokens:    chain,
		Transfers: transfers,
		Audit:     audit,
		Bus:       bus,
	}, logger)
	svc.now = func() time.Time { return now }

	return &bankFixture{svc: svc, chain: chain, ledger: led, transfers: transfers, audit: audit, bus: bus, now: now}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func (f *bankFixture) registerAsset(t *testing.T) {
	t.Helper()
	_, err := f.svc.RegisterToken(context.Background(), svcAsset,
		big.NewInt(1_000_000_000), big.NewInt(1_000_000_000), svcFeed)
	require.NoError(t, err)
}

func TestDepositSettlementAsset(t *testing.T) {
	f := newBankFixture(t, nil)

	amount := big.NewInt(500_000_000) // 500 USDS
	rec, err := f.svc.Deposit(context.Background(), svcUser, svcSettlement, amount, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.PathIdentity, rec.Path)
	assert.Equal(t, amount, rec.SettledAmount)
	assert.Equal(t, amount, f.svc.Balance(svcUser))
	assert.Equal(t, 1, f.chain.transfersIn)
	assert.Len(t, f.transfers.recs, 1)
	assert.Contains(t, f.audit.events, "deposit")
	assert.Equal(t, 1, f.bus.published["transfers"])
	assert.Len(t, f.bus.streamed["transfers"], 1)
	assert.Equal(t, 1, f.bus.published["transfers"])
}

func TestDepositSwapsIntoSettlement(t *testing.T) {
	f := newBankFixture(t, nil)
	f.registerAsset(t)

	amount := big.NewInt(100_000_000) // 100 TKA
	rec, err := f.svc.Deposit(context.Background(), svcUser, svcAsset, amount, nil)
	require.NoError(t, err)

	want := big.NewInt(300_000_000) // rate 3
	assert.Equal(t, want, rec.SettledAmount)
	assert.Equal(t, amount, rec.RawAmount)
	assert.Equal(t, want, f.svc.Balance(svcUser))

	status := f.svc.DailyStatus(svcUser)
	assert.Equal(t, want, status.DepositsUsed)
}

func TestDepositNativeAssetSwapsWrapped(t *testing.T) {
	f := newBankFixture(t, nil)

	amount := big.NewInt(50_000_000)
	rec, err := f.svc.Deposit(context.Background(), svcUser, domain.NativeAsset, amount, nil)
	require.NoError(t, err)

	want := big.NewInt(150_000_000) // rate 3
	assert.Equal(t, want, rec.SettledAmount)
	assert.Equal(t, domain.NativeAsset, rec.Asset)
	assert.Equal(t, want, f.svc.Balance(svcUser))

	// Exchange paths trade the wrapped contract, not the reserved
	// zero-address identifier.
	require.NotEmpty(t, f.chain.lastQuotePath)
	assert.Equal(t, svcWrapped, f.chain.lastQuotePath[0])
}

func TestDepositUnsupportedAsset(t *testing.T) {
	f := newBankFixture(t, nil)

	other := common.HexToAddress("0xbb")
	_, err := f.svc.Deposit(context.Background(), svcUser, other, big.NewInt(1), nil)
	require.ErrorIs(t, err, domain.ErrTokenNotSupported)
	assert.Zero(t, f.chain.transfersIn)
}

func TestDepositZeroAmount(t *testing.T) {
	f := newBankFixture(t, nil)

	_, err := f.svc.Deposit(context.Background(), svcUser, svcSettlement, big.NewInt(0), nil)
	require.ErrorIs(t, err, domain.ErrZeroAmount)
	_, err = f.svc.Deposit(context.Background(), svcUser, svcSettlement, nil, nil)
	require.ErrorIs(t, err, domain.ErrZeroAmount)
}

func TestHaltRefusesPipelines(t *testing.T) {
	f := newBankFixture(t, nil)
	ctx := context.Background()

	f.svc.Halt(ctx)
	assert.True(t, f.svc.Halted())

	_, err := f.svc.Deposit(ctx, svcUser, svcSettlement, big.NewInt(1), nil)
	require.ErrorIs(t, err, domain.ErrHalted)
	_, err = f.svc.Withdraw(ctx, svcUser, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrHalted)

	f.svc.Resume(ctx)
	assert.False(t, f.svc.Halted())
	_, err = f.svc.Deposit(ctx, svcUser, svcSettlement, big.NewInt(1), nil)
	require.NoError(t, err)
}

func TestDepositOverPerOperationLimit(t *testing.T) {
	f := newBankFixture(t, nil)
	f.registerAsset(t)

	_, err := f.svc.Deposit(context.Background(), svcUser, svcAsset, big.NewInt(1_000_000_001), nil)
	require.ErrorIs(t, err, domain.ErrExceedsDepositLimit)
	assert.Zero(t, f.chain.transfersIn)
}

func TestDepositStalePriceFatal(t *testing.T) {
	f := newBankFixture(t, nil)
	f.registerAsset(t)

	// Feed goes quiet: fetches fail and the snapshot ages past the
	// threshold.
	f.chain.fetchErr = errors.New("feed offline")
	f.svc.now = func() time.Time { return f.now.Add(13 * time.Hour) }

	_, err := f.svc.Deposit(context.Background(), svcUser, svcAsset, big.NewInt(1_000_000), nil)
	require.ErrorIs(t, err, domain.ErrStalePrice)
	assert.Equal(t, int64(0), f.svc.Balance(svcUser).Int64())
	assert.Contains(t, f.audit.events, "deposit_failed")
}

func TestDepositExceedsCap(t *testing.T) {
	f := newBankFixture(t, big.NewInt(100_000_000))
	f.registerAsset(t)

	// 50 TKA converts to 150 USDS, over the 100 USDS cap.
	_, err := f.svc.Deposit(context.Background(), svcUser, svcAsset, big.NewInt(50_000_000), nil)
	require.ErrorIs(t, err, domain.ErrExceedsBankCap)

	total, _ := f.svc.Totals()
	assert.Zero(t, total.Sign())
	status := f.svc.DailyStatus(svcUser)
	assert.Zero(t, status.DepositsUsed.Sign())
}

func TestDepositExceedsDailyLimit(t *testing.T) {
	f := newBankFixture(t, nil)

	// Quota is 10,000 USDS at 6 decimals.
	_, err := f.svc.Deposit(context.Background(), svcUser, svcSettlement, big.NewInt(10_000_000_001), nil)
	require.ErrorIs(t, err, domain.ErrExceedsDailyDepositLimit)
	assert.Zero(t, f.svc.Balance(svcUser).Sign())
}

func TestWithdraw(t *testing.T) {
	f := newBankFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, svcUser, svcSettlement, big.NewInt(500_000_000), nil)
	require.NoError(t, err)

	rec, err := f.svc.Withdraw(ctx, svcUser, big.NewInt(200_000_000))
	require.NoError(t, err)

	assert.Equal(t, domain.TransferWithdrawal, rec.Kind)
	assert.Equal(t, big.NewInt(300_000_000), f.svc.Balance(svcUser))
	assert.Equal(t, 1, f.chain.transfersOut)
	assert.Equal(t, svcUser, f.chain.lastOutTo)
	assert.Equal(t, big.NewInt(200_000_000), f.chain.lastOutAmt)

	status := f.svc.DailyStatus(svcUser)
	assert.Equal(t, big.NewInt(200_000_000), status.WithdrawalsUsed)
}

func TestWithdrawInsufficientBalance(t *testing.T) {
	f := newBankFixture(t, nil)

	_, err := f.svc.Withdraw(context.Background(), svcUser, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Zero(t, f.chain.transfersOut)
}

func TestWithdrawOverPerOperationLimit(t *testing.T) {
	f := newBankFixture(t, nil)
	ctx := context.Background()

	// Settlement withdrawal ceiling is 2,000 USDS; fund past it across two
	// deposits.
	for i := 0; i < 2; i++ {
		_, err := f.svc.Deposit(ctx, svcUser, svcSettlement, big.NewInt(2_000_000_000), nil)
		require.NoError(t, err)
	}

	_, err := f.svc.Withdraw(ctx, svcUser, big.NewInt(2_000_000_001))
	require.ErrorIs(t, err, domain.ErrExceedsWithdrawalLimit)
	assert.Zero(t, f.chain.transfersOut)
}

func TestWithdrawTransferFailureLeavesStateUntouched(t *testing.T) {
	f := newBankFixture(t, nil)
	ctx := context.Background()

	_, err := f.svc.Deposit(ctx, svcUser, svcSettlement, big.NewInt(500_000_000), nil)
	require.NoError(t, err)

	f.chain.transferOutErr = errors.New("rpc timeout")
	_, err = f.svc.Withdraw(ctx, svcUser, big.NewInt(100_000_000))
	require.Error(t, err)

	assert.Equal(t, big.NewInt(500_000_000), f.svc.Balance(svcUser))
	status := f.svc.DailyStatus(svcUser)
	assert.Zero(t, status.WithdrawalsUsed.Sign())
}

func TestRegisterTokenRefreshesPrice(t *testing.T) {
	f := newBankFixture(t, nil)
	f.registerAsset(t)

	var cfg *domain.TokenConfig
	for _, c := range f.svc.Tokens() {
		if c.Asset == svcAsset {
			cfg = c
		}
	}
	require.NotNil(t, cfg)
	assert.Equal(t, big.NewInt(3_0000_0000), cfg.LastPrice)
	assert.Contains(t, f.audit.events, "token_registered")
}

func TestUpdateTokenLimits(t *testing.T) {
	f := newBankFixture(t, nil)
	f.registerAsset(t)
	ctx := context.Background()

	err := f.svc.UpdateTokenLimits(ctx, svcAsset, big.NewInt(5), big.NewInt(7))
	require.NoError(t, err)

	other := common.HexToAddress("0xbb")
	err = f.svc.UpdateTokenLimits(ctx, other, big.NewInt(1), big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrTokenNotSupported)
}

func TestEstimateOutput(t *testing.T) {
	f := newBankFixture(t, nil)
	f.registerAsset(t)

	quote, err := f.svc.EstimateOutput(context.Background(), svcAsset, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(3_000_000), quote.Expected)

	other := common.HexToAddress("0xbb")
	_, err = f.svc.EstimateOutput(context.Background(), other, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrTokenNotSupported)
}

func TestTotalsConservation(t *testing.T) {
	f := newBankFixture(t, nil)
	ctx := context.Background()

	userB := common.HexToAddress("0x66")
	_, err := f.svc.Deposit(ctx, svcUser, svcSettlement, big.NewInt(400_000_000), nil)
	require.NoError(t, err)
	_, err = f.svc.Deposit(ctx, userB, svcSettlement, big.NewInt(600_000_000), nil)
	require.NoError(t, err)
	_, err = f.svc.Withdraw(ctx, svcUser, big.NewInt(150_000_000))
	require.NoError(t, err)

	total, _ := f.svc.Totals()
	sum := new(big.Int).Add(f.svc.Balance(svcUser), f.svc.Balance(userB))
	assert.Equal(t, sum, total)
	assert.Equal(t, big.NewInt(850_000_000), total)
}
