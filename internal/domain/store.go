package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// TokenConfigStore persists asset registrations so the registry survives
// restarts. The in-memory registry remains the authority at runtime.
type TokenConfigStore interface {
	Upsert(ctx context.Context, cfg TokenConfig) error
	List(ctx context.Context) ([]TokenConfig, error)
}

// TransferStore persists completed deposit and withdrawal records.
type TransferStore interface {
	Insert(ctx context.Context, rec TransferRecord) error
	ListByUser(ctx context.Context, user common.Address, opts ListOpts) ([]TransferRecord, error)
	List(ctx context.Context, opts ListOpts) ([]TransferRecord, error)
	// ListBefore returns records created strictly before the cutoff, for
	// cold-storage archival.
	ListBefore(ctx context.Context, before time.Time) ([]TransferRecord, error)
	// DeleteBefore removes archived records and returns the count deleted.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
