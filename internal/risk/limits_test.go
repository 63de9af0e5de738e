package risk

import (
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

var user = common.HexToAddress("0x00000000000000000000000000000000000000a1")

func newTestManager(t *testing.T) (*Manager, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(Config{
		DailyDepositLimit:    big.NewInt(10_000),
		DailyWithdrawalLimit: big.NewInt(5_000),
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	m.now = func() time.Time { return now }
	return m, &now
}

func TestAccrualIsAdditiveWithinADay(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.CheckAndAccrueDeposit(user, big.NewInt(3000)))
	require.NoError(t, m.CheckAndAccrueDeposit(user, big.NewInt(4000)))

	m2, _ := newTestManager(t)
	require.NoError(t, m2.CheckAndAccrueDeposit(user, big.NewInt(7000)))

	assert.Equal(t, 0, m.DailyStatus(user).DepositsUsed.Cmp(m2.DailyStatus(user).DepositsUsed))
	assert.Equal(t, int64(7000), m.DailyStatus(user).DepositsUsed.Int64())
}

func TestDailyDepositLimitEnforced(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.CheckAndAccrueDeposit(user, big.NewInt(9_999)))
	require.NoError(t, m.CheckAndAccrueDeposit(user, big.NewInt(1)))

	err := m.CheckAndAccrueDeposit(user, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrExceedsDailyDepositLimit)
	// Failed accrual must not change the counter.
	assert.Equal(t, int64(10_000), m.DailyStatus(user).DepositsUsed.Int64())
}

func TestDailyWithdrawalLimitEnforced(t *testing.T) {
	m, _ := newTestManager(t)

	require.NoError(t, m.CheckAndAccrueWithdrawal(user, big.NewInt(5_000)))
	err := m.CheckAndAccrueWithdrawal(user, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrExceedsDailyWithdrawalLimit)
}

func TestDayBoundaryResetsCounters(t *testing.T) {
	m, now := newTestManager(t)

	require.NoError(t, m.CheckAndAccrueDeposit(user, big.NewInt(10_000)))
	require.ErrorIs(t, m.CheckAndAccrueDeposit(user, big.NewInt(1)), domain.ErrExceedsDailyDepositLimit)

	*now = now.Add(24 * time.Hour)

	// Counters reflect only post-boundary activity.
	require.NoError(t, m.CheckAndAccrueDeposit(user, big.NewInt(2_500)))
	st := m.DailyStatus(user)
	assert.Equal(t, int64(2_500), st.DepositsUsed.Int64())
	assert.Equal(t, int64(0), st.WithdrawalsUsed.Int64())
}

func TestDailyStatusDoesNotMutate(t *testing.T) {
	m, now := newTestManager(t)
	require.NoError(t, m.CheckAndAccrueDeposit(user, big.NewInt(1_000)))

	*now = now.Add(24 * time.Hour)

	// Status shows the would-be reset without committing it.
	st := m.DailyStatus(user)
	assert.Equal(t, int64(0), st.DepositsUsed.Int64())
	assert.Equal(t, dayIndex(*now), st.Day)

	// The stored counter is still the old day's until the next accrual.
	assert.Equal(t, int64(1_000), m.users[user].depositsUsed.Int64())
}

func TestDefaultConfigScalesByDecimals(t *testing.T) {
	cfg := DefaultConfig(6)
	assert.Equal(t, "10000000000", cfg.DailyDepositLimit.String())
	assert.Equal(t, "5000000000", cfg.DailyWithdrawalLimit.String())
}

func TestDepositAndWithdrawalQuotasAreIndependent(t *testing.T) {
	m, _ := newTestManager(t)
	require.NoError(t, m.CheckAndAccrueDeposit(user, big.NewInt(10_000)))
	require.NoError(t, m.CheckAndAccrueWithdrawal(user, big.NewInt(5_000)))
}
