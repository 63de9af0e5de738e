package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settleio/settlebank/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestCreditDebitConservation(t *testing.T) {
	l := New(big.NewInt(1_000_000))

	require.NoError(t, l.Credit(alice, big.NewInt(500)))
	require.NoError(t, l.Credit(bob, big.NewInt(300)))
	require.NoError(t, l.Debit(alice, big.NewInt(200)))

	sum := new(big.Int)
	for _, b := range l.Snapshot() {
		sum.Add(sum, b)
	}
	assert.Equal(t, 0, sum.Cmp(l.Total()))
	assert.Equal(t, int64(600), l.Total().Int64())
	assert.Equal(t, int64(300), l.Balance(alice).Int64())
}

func TestDebitInsufficientLeavesStateUnchanged(t *testing.T) {
	l := New(big.NewInt(1_000_000))
	require.NoError(t, l.Credit(alice, big.NewInt(100)))

	err := l.Debit(alice, big.NewInt(101))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	assert.Equal(t, int64(100), l.Balance(alice).Int64())
	assert.Equal(t, int64(100), l.Total().Int64())

	err = l.Debit(bob, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
}

func TestCapEnforced(t *testing.T) {
	l := New(big.NewInt(1000))
	require.NoError(t, l.Credit(alice, big.NewInt(1000)))

	err := l.Credit(bob, big.NewInt(1))
	require.ErrorIs(t, err, domain.ErrExceedsBankCap)
	assert.Equal(t, int64(1000), l.Total().Int64())
	assert.Equal(t, int64(0), l.Balance(bob).Int64())

	// Freeing capacity makes credits possible again.
	require.NoError(t, l.Debit(alice, big.NewInt(1)))
	require.NoError(t, l.Credit(bob, big.NewInt(1)))
}

func TestZeroCapMeansUncapped(t *testing.T) {
	l := New(nil)
	require.NoError(t, l.Credit(alice, big.NewInt(1_000_000_000)))
	assert.False(t, l.WouldExceedCap(big.NewInt(1)))
}

func TestZeroAmountRejected(t *testing.T) {
	l := New(big.NewInt(1000))
	require.ErrorIs(t, l.Credit(alice, big.NewInt(0)), domain.ErrZeroAmount)
	require.ErrorIs(t, l.Debit(alice, big.NewInt(-5)), domain.ErrZeroAmount)
}

func TestBalanceReturnsCopy(t *testing.T) {
	l := New(big.NewInt(1000))
	require.NoError(t, l.Credit(alice, big.NewInt(10)))
	l.Balance(alice).SetInt64(9999)
	assert.Equal(t, int64(10), l.Balance(alice).Int64())
}
