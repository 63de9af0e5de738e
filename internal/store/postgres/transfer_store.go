package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/settleio/settlebank/internal/domain"
)

// TransferStore persists completed deposit and withdrawal records.
type TransferStore struct {
	pool *pgxpool.Pool
}

var _ domain.TransferStore = (*TransferStore)(nil)

// NewTransferStore creates a TransferStore backed by the given pool.
func NewTransferStore(pool *pgxpool.Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

// Insert appends a completed transfer record.
func (s *TransferStore) Insert(ctx context.Context, rec domain.TransferRecord) error {
	const query = `
		INSERT INTO transfers (id, kind, user_addr, asset, raw_amount, settled_amount, path, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8)`
	_, err := s.pool.Exec(ctx, query,
		rec.ID,
		string(rec.Kind),
		rec.User.Hex(),
		rec.Asset.Hex(),
		rec.RawAmount.String(),
		rec.SettledAmount.String(),
		string(rec.Path),
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert transfer %s: %w", rec.ID, err)
	}
	return nil
}

const transferColumns = `id, kind, user_addr, asset, raw_amount::text, settled_amount::text, path, created_at`

// ListByUser returns the user's transfers, newest first.
func (s *TransferStore) ListByUser(ctx context.Context, user common.Address, opts domain.ListOpts) ([]domain.TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE user_addr = $1`
	args := []any{user.Hex()}
	query, args = appendListOpts(query, args, opts)
	return s.query(ctx, query, args)
}

// List returns transfers across all users, newest first.
func (s *TransferStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE 1=1`
	query, args := appendListOpts(query, nil, opts)
	return s.query(ctx, query, args)
}

// ListBefore returns records created strictly before the cutoff, oldest
// first, for archival.
func (s *TransferStore) ListBefore(ctx context.Context, before time.Time) ([]domain.TransferRecord, error) {
	query := `SELECT ` + transferColumns + ` FROM transfers WHERE created_at < $1 ORDER BY created_at ASC`
	return s.query(ctx, query, []any{before})
}

// DeleteBefore removes records created strictly before the cutoff.
func (s *TransferStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM transfers WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete transfers before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// appendListOpts extends a WHERE-prefixed query with time filters, ordering,
// and pagination.
func appendListOpts(query string, args []any, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}
	query += " ORDER BY created_at DESC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

func (s *TransferStore) query(ctx context.Context, query string, args []any) ([]domain.TransferRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list transfers: %w", err)
	}
	defer rows.Close()
	return scanTransfers(rows)
}

func scanTransfers(rows pgx.Rows) ([]domain.TransferRecord, error) {
	var records []domain.TransferRecord
	for rows.Next() {
		var (
			rec             domain.TransferRecord
			kind, user      string
			asset, path     string
			rawAmt, settled string
		)
		if err := rows.Scan(&rec.ID, &kind, &user, &asset, &rawAmt, &settled, &path, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan transfer: %w", err)
		}
		rec.Kind = domain.TransferKind(kind)
		rec.User = common.HexToAddress(user)
		rec.Asset = common.HexToAddress(asset)
		rec.Path = domain.SwapPathKind(path)
		var ok bool
		if rec.RawAmount, ok = new(big.Int).SetString(rawAmt, 10); !ok {
			return nil, fmt.Errorf("postgres: parse raw amount %q for %s", rawAmt, rec.ID)
		}
		if rec.SettledAmount, ok = new(big.Int).SetString(settled, 10); !ok {
			return nil, fmt.Errorf("postgres: parse settled amount %q for %s", settled, rec.ID)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate transfers: %w", err)
	}
	return records, nil
}
