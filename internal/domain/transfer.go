package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TransferKind distinguishes the two ledger-mutating operations.
type TransferKind string

const (
	TransferDeposit    TransferKind = "deposit"
	TransferWithdrawal TransferKind = "withdrawal"
)

// SwapPathKind names the conversion route a deposit settled through.
type SwapPathKind string

const (
	// PathIdentity means the deposited asset already was the settlement unit.
	PathIdentity SwapPathKind = "identity"
	// PathIntermediary is the three-hop route through the canonical
	// intermediary asset.
	PathIntermediary SwapPathKind = "intermediary"
	// PathDirect is the two-hop fallback route straight to the settlement unit.
	PathDirect SwapPathKind = "direct"
	// PathNone applies to withdrawals, which never convert.
	PathNone SwapPathKind = ""
)

// TransferRecord is the observable outcome of a completed deposit or
// withdrawal, emitted after the ledger mutation.
type TransferRecord struct {
	ID            string
	Kind          TransferKind
	User          common.Address
	Asset         common.Address
	RawAmount     *big.Int // in the asset's native unit
	SettledAmount *big.Int // settlement units credited or debited
	Path          SwapPathKind
	CreatedAt     time.Time
}

// DailyStatus reports a user's effective (post-rollover) daily counters
// without mutating limit state.
type DailyStatus struct {
	Day             int64
	DepositsUsed    *big.Int
	WithdrawalsUsed *big.Int
	DepositLimit    *big.Int
	WithdrawalLimit *big.Int
}

// SwapQuote is the expected output of a conversion route before execution.
type SwapQuote struct {
	Path     []common.Address
	Kind     SwapPathKind
	Expected *big.Int
}
