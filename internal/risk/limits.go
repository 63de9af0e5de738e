// Package risk tracks per-user daily deposit and withdrawal quotas with a
// lazy calendar-day rollover. There is no background timer: counters are
// reset on the first touch after a day boundary.
package risk

import (
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/settleio/settlebank/internal/domain"
)

// Whole-unit daily quotas, scaled by the settlement asset's decimals in
// DefaultConfig.
const (
	DailyDepositUnits    = 10_000
	DailyWithdrawalUnits = 5_000
)

// Config holds the per-user daily quotas in settlement units.
type Config struct {
	DailyDepositLimit    *big.Int
	DailyWithdrawalLimit *big.Int
}

// DefaultConfig returns the standard quotas scaled to the settlement
// asset's fixed-point precision.
func DefaultConfig(settlementDecimals uint8) Config {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(settlementDecimals)), nil)
	return Config{
		DailyDepositLimit:    new(big.Int).Mul(big.NewInt(DailyDepositUnits), scale),
		DailyWithdrawalLimit: new(big.Int).Mul(big.NewInt(DailyWithdrawalUnits), scale),
	}
}

// counters is the per-user accrual state. Amounts reflect only activity
// within lastActivityDay.
type counters struct {
	depositsUsed    *big.Int
	withdrawalsUsed *big.Int
	lastActivityDay int64
}

// Manager enforces the daily quotas. It is not safe for concurrent use;
// the pipelines serialize access.
type Manager struct {
	users  map[common.Address]*counters
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
}

// NewManager creates a Manager with the given quotas.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		users:  make(map[common.Address]*counters),
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "risk")),
	}
}

// dayIndex maps a wall-clock instant to its UTC calendar-day index.
func dayIndex(t time.Time) int64 {
	return t.UTC().Unix() / 86400
}

// effective computes the post-rollover counters for the given day without
// mutating state. Both the accrual path and DailyStatus use it, so the
// reset rule lives in exactly one place.
func effective(c *counters, day int64) (deposits, withdrawals *big.Int) {
	if c == nil || c.lastActivityDay < day {
		return new(big.Int), new(big.Int)
	}
	return new(big.Int).Set(c.depositsUsed), new(big.Int).Set(c.withdrawalsUsed)
}

// CheckDeposit verifies that accruing amount would stay within the daily
// deposit quota, without mutating state.
func (m *Manager) CheckDeposit(user common.Address, amount *big.Int) error {
	deposits, _ := effective(m.users[user], dayIndex(m.now()))
	if deposits.Add(deposits, amount).Cmp(m.cfg.DailyDepositLimit) > 0 {
		return domain.ErrExceedsDailyDepositLimit
	}
	return nil
}

// CheckWithdrawal verifies that accruing amount would stay within the
// daily withdrawal quota, without mutating state.
func (m *Manager) CheckWithdrawal(user common.Address, amount *big.Int) error {
	_, withdrawals := effective(m.users[user], dayIndex(m.now()))
	if withdrawals.Add(withdrawals, amount).Cmp(m.cfg.DailyWithdrawalLimit) > 0 {
		return domain.ErrExceedsDailyWithdrawalLimit
	}
	return nil
}

// CheckAndAccrueDeposit rolls the user's window forward if a day boundary
// has passed, verifies the quota, and on success accrues amount.
func (m *Manager) CheckAndAccrueDeposit(user common.Address, amount *big.Int) error {
	if err := m.CheckDeposit(user, amount); err != nil {
		return err
	}
	c := m.rollover(user)
	c.depositsUsed.Add(c.depositsUsed, amount)
	return nil
}

// CheckAndAccrueWithdrawal is the withdrawal counterpart of
// CheckAndAccrueDeposit.
func (m *Manager) CheckAndAccrueWithdrawal(user common.Address, amount *big.Int) error {
	if err := m.CheckWithdrawal(user, amount); err != nil {
		return err
	}
	c := m.rollover(user)
	c.withdrawalsUsed.Add(c.withdrawalsUsed, amount)
	return nil
}

// AccrueDeposit records amount against the deposit quota without checking
// it. Pipelines that pre-check under the global lock use this to commit.
func (m *Manager) AccrueDeposit(user common.Address, amount *big.Int) {
	c := m.rollover(user)
	c.depositsUsed.Add(c.depositsUsed, amount)
}

// AccrueWithdrawal records amount against the withdrawal quota without
// checking it.
func (m *Manager) AccrueWithdrawal(user common.Address, amount *big.Int) {
	c := m.rollover(user)
	c.withdrawalsUsed.Add(c.withdrawalsUsed, amount)
}

// DailyStatus returns the user's would-be post-rollover counters together
// with the configured quotas. It never mutates state.
func (m *Manager) DailyStatus(user common.Address) domain.DailyStatus {
	day := dayIndex(m.now())
	deposits, withdrawals := effective(m.users[user], day)
	return domain.DailyStatus{
		Day:             day,
		DepositsUsed:    deposits,
		WithdrawalsUsed: withdrawals,
		DepositLimit:    new(big.Int).Set(m.cfg.DailyDepositLimit),
		WithdrawalLimit: new(big.Int).Set(m.cfg.DailyWithdrawalLimit),
	}
}

// rollover resets the user's counters when a day boundary has passed and
// returns the mutable state for the current day, creating it lazily.
func (m *Manager) rollover(user common.Address) *counters {
	day := dayIndex(m.now())
	c, ok := m.users[user]
	if !ok {
		c = &counters{
			depositsUsed:    new(big.Int),
			withdrawalsUsed: new(big.Int),
			lastActivityDay: day,
		}
		m.users[user] = c
		return c
	}
	if c.lastActivityDay < day {
		m.logger.Debug("daily window rolled over",
			slog.String("user", user.Hex()),
			slog.Int64("from_day", c.lastActivityDay),
			slog.Int64("to_day", day),
		)
		c.depositsUsed.SetInt64(0)
		c.withdrawalsUsed.SetInt64(0)
		c.lastActivityDay = day
	}
	return c
}
