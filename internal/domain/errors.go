package domain

import "errors"

var (
	ErrZeroAmount                  = errors.New("amount must be positive")
	ErrTokenNotSupported           = errors.New("token not supported")
	ErrInvalidToken                = errors.New("invalid token")
	ErrExceedsDepositLimit         = errors.New("exceeds per-operation deposit limit")
	ErrExceedsWithdrawalLimit      = errors.New("exceeds per-operation withdrawal limit")
	ErrExceedsDailyDepositLimit    = errors.New("exceeds daily deposit limit")
	ErrExceedsDailyWithdrawalLimit = errors.New("exceeds daily withdrawal limit")
	ErrExceedsBankCap              = errors.New("exceeds global bank cap")
	ErrInsufficientBalance         = errors.New("insufficient balance")
	ErrSlippageTooHigh             = errors.New("slippage too high")
	ErrStalePrice                  = errors.New("stale price")
	ErrSwapFailed                  = errors.New("swap failed")
	ErrHalted                      = errors.New("deposits and withdrawals are halted")
	ErrAlreadyExists               = errors.New("already exists")
	ErrNotFound                    = errors.New("not found")
	ErrLockHeld                    = errors.New("lock already held")
)
