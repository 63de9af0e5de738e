// Package ledger holds the in-memory settlement-unit balances. It is the
// single book of record; the pipelines in internal/service are its only
// mutators and serialize access, so the ledger itself does no locking.
package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/settleio/settlebank/internal/domain"
)

// Ledger tracks per-user settlement balances and their aggregate total.
// The invariant total == Σ balances holds after every mutation, and
// total never exceeds the global cap.
type Ledger struct {
	balances map[common.Address]*big.Int
	total    *big.Int
	cap      *big.Int // settlement units; nil or zero means uncapped
}

// New creates an empty Ledger with the given global cap.
func New(globalCap *big.Int) *Ledger {
	l := &Ledger{
		balances: make(map[common.Address]*big.Int),
		total:    new(big.Int),
		cap:      new(big.Int),
	}
	if globalCap != nil {
		l.cap.Set(globalCap)
	}
	return l
}

// Balance returns the user's current settlement balance. Users with no
// activity have a zero balance.
func (l *Ledger) Balance(user common.Address) *big.Int {
	if b, ok := l.balances[user]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Total returns the sum of all balances.
func (l *Ledger) Total() *big.Int {
	return new(big.Int).Set(l.total)
}

// Cap returns the global capacity limit.
func (l *Ledger) Cap() *big.Int {
	return new(big.Int).Set(l.cap)
}

// WouldExceedCap reports whether crediting amount would push the total
// past the global cap. A zero cap disables the check.
func (l *Ledger) WouldExceedCap(amount *big.Int) bool {
	if l.cap.Sign() == 0 {
		return false
	}
	next := new(big.Int).Add(l.total, amount)
	return next.Cmp(l.cap) > 0
}

// Credit adds amount to the user's balance and the total. It refuses
// credits that would break the cap invariant.
func (l *Ledger) Credit(user common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	if l.WouldExceedCap(amount) {
		return domain.ErrExceedsBankCap
	}
	b, ok := l.balances[user]
	if !ok {
		b = new(big.Int)
		l.balances[user] = b
	}
	b.Add(b, amount)
	l.total.Add(l.total, amount)
	return nil
}

// Debit subtracts amount from the user's balance and the total. It fails
// with ErrInsufficientBalance without mutating state when the balance is
// too small.
func (l *Ledger) Debit(user common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return domain.ErrZeroAmount
	}
	b, ok := l.balances[user]
	if !ok || b.Cmp(amount) < 0 {
		return domain.ErrInsufficientBalance
	}
	b.Sub(b, amount)
	l.total.Sub(l.total, amount)
	return nil
}

// Snapshot returns a copy of all balances for introspection.
func (l *Ledger) Snapshot() map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(l.balances))
	for u, b := range l.balances {
		out[u] = new(big.Int).Set(b)
	}
	return out
}
