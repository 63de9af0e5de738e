package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/settleio/settlebank/internal/domain"
)

// TokenConfigStore persists asset registrations so the registry can be
// reloaded on restart. Price snapshots are deliberately not persisted; they
// are refreshed from the feeds on startup.
type TokenConfigStore struct {
	pool *pgxpool.Pool
}

var _ domain.TokenConfigStore = (*TokenConfigStore)(nil)

// NewTokenConfigStore creates a TokenConfigStore backed by the given pool.
func NewTokenConfigStore(pool *pgxpool.Pool) *TokenConfigStore {
	return &TokenConfigStore{pool: pool}
}

// Upsert inserts or replaces the configuration row for cfg.Asset.
func (s *TokenConfigStore) Upsert(ctx context.Context, cfg domain.TokenConfig) error {
	const query = `
		INSERT INTO token_configs
			(asset, symbol, supported, decimals, withdrawal_limit, deposit_limit, price_feed, feed_decimals, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, NOW())
		ON CONFLICT (asset) DO UPDATE SET
			symbol = EXCLUDED.symbol,
			supported = EXCLUDED.supported,
			decimals = EXCLUDED.decimals,
			withdrawal_limit = EXCLUDED.withdrawal_limit,
			deposit_limit = EXCLUDED.deposit_limit,
			price_feed = EXCLUDED.price_feed,
			feed_decimals = EXCLUDED.feed_decimals,
			updated_at = NOW()`
	_, err := s.pool.Exec(ctx, query,
		cfg.Asset.Hex(),
		cfg.Symbol,
		cfg.Supported,
		int16(cfg.Decimals),
		cfg.WithdrawalLimit.String(),
		cfg.DepositLimit.String(),
		cfg.PriceFeed.Hex(),
		int16(cfg.FeedDecimals),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert token config %s: %w", cfg.Asset.Hex(), err)
	}
	return nil
}

// List returns every persisted token configuration.
func (s *TokenConfigStore) List(ctx context.Context) ([]domain.TokenConfig, error) {
	const query = `
		SELECT asset, symbol, supported, decimals,
		       withdrawal_limit::text, deposit_limit::text,
		       price_feed, feed_decimals
		FROM token_configs
		ORDER BY asset`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list token configs: %w", err)
	}
	defer rows.Close()

	var configs []domain.TokenConfig
	for rows.Next() {
		var (
			cfg                    domain.TokenConfig
			asset, feed            string
			decimals, feedDecimals int16
			wLimit, dLimit         string
		)
		if err := rows.Scan(&asset, &cfg.Symbol, &cfg.Supported, &decimals,
			&wLimit, &dLimit, &feed, &feedDecimals); err != nil {
			return nil, fmt.Errorf("postgres: scan token config: %w", err)
		}
		cfg.Asset = common.HexToAddress(asset)
		cfg.PriceFeed = common.HexToAddress(feed)
		cfg.Decimals = uint8(decimals)
		cfg.FeedDecimals = uint8(feedDecimals)
		var ok bool
		if cfg.WithdrawalLimit, ok = new(big.Int).SetString(wLimit, 10); !ok {
			return nil, fmt.Errorf("postgres: parse withdrawal limit %q for %s", wLimit, asset)
		}
		if cfg.DepositLimit, ok = new(big.Int).SetString(dLimit, 10); !ok {
			return nil, fmt.Errorf("postgres: parse deposit limit %q for %s", dLimit, asset)
		}
		configs = append(configs, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate token configs: %w", err)
	}
	return configs, nil
}
