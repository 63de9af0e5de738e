// Package registry holds the per-asset configuration: support flags,
// per-operation limits, fixed-point precision, and the linked price feed
// with its cached snapshot.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/settleio/settlebank/internal/domain"
)

// Params configures the reserved entries created at initialization. The
// settlement and native assets are the only entries not created through
// Register.
type Params struct {
	Settlement         common.Address
	SettlementSymbol   string
	SettlementDecimals uint8
	// Per-operation ceilings for the settlement asset, in settlement units.
	SettlementWithdrawalLimit *big.Int
	SettlementDepositLimit    *big.Int

	// Native asset configuration. The native entry is addressed by
	// domain.NativeAsset and may carry its own price feed.
	NativeSymbol          string
	NativeDecimals        uint8
	NativeWithdrawalLimit *big.Int
	NativeDepositLimit    *big.Int
	NativeFeed            common.Address
}

// Registry is the authoritative in-process token configuration store. It
// takes its own lock because read paths (handlers, the price refresher)
// run outside the pipeline serialization.
type Registry struct {
	mu     sync.RWMutex
	tokens map[common.Address]*domain.TokenConfig

	settlement common.Address
	tokenMeta  domain.TokenClient
	feeds      domain.PriceFeed
	store      domain.TokenConfigStore // optional; nil disables persistence
	logger     *slog.Logger
}

// New creates a Registry pre-seeded with the reserved settlement and
// native entries.
func New(p Params, tokenMeta domain.TokenClient, feeds domain.PriceFeed, store domain.TokenConfigStore, logger *slog.Logger) *Registry {
	r := &Registry{
		tokens:     make(map[common.Address]*domain.TokenConfig),
		settlement: p.Settlement,
		tokenMeta:  tokenMeta,
		feeds:      feeds,
		store:      store,
		logger:     logger.With(slog.String("component", "registry")),
	}
	r.tokens[p.Settlement] = &domain.TokenConfig{
		Asset:           p.Settlement,
		Symbol:          p.SettlementSymbol,
		Supported:       true,
		Decimals:        p.SettlementDecimals,
		WithdrawalLimit: orZero(p.SettlementWithdrawalLimit),
		DepositLimit:    orZero(p.SettlementDepositLimit),
	}
	r.tokens[domain.NativeAsset] = &domain.TokenConfig{
		Asset:           domain.NativeAsset,
		Symbol:          p.NativeSymbol,
		Supported:       true,
		Decimals:        p.NativeDecimals,
		WithdrawalLimit: orZero(p.NativeWithdrawalLimit),
		DepositLimit:    orZero(p.NativeDepositLimit),
		PriceFeed:       p.NativeFeed,
	}
	return r
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// Settlement returns the settlement asset identifier.
func (r *Registry) Settlement() common.Address {
	return r.settlement
}

// SettlementDecimals returns the settlement asset's fixed-point precision.
func (r *Registry) SettlementDecimals() uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tokens[r.settlement].Decimals
}

// Load seeds the registry from the persistent store. Reserved entries are
// never overwritten; everything else is restored as registered.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	configs, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("registry: load token configs: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	restored := 0
	for i := range configs {
		cfg := configs[i]
		if cfg.Asset == r.settlement || cfg.Asset == domain.NativeAsset {
			continue
		}
		r.tokens[cfg.Asset] = cfg.Clone()
		restored++
	}
	r.logger.Info("token configs restored", slog.Int("count", restored))
	return nil
}

// Register adds a new supported asset. It probes the token's on-chain
// metadata and, when a feed is given, the feed's decimal scale. The
// reserved identifiers and duplicates are rejected.
func (r *Registry) Register(ctx context.Context, asset common.Address, withdrawalLimit, depositLimit *big.Int, feed common.Address) (*domain.TokenConfig, error) {
	if asset == r.settlement || asset == domain.NativeAsset {
		return nil, fmt.Errorf("registry: reserved asset %s: %w", asset.Hex(), domain.ErrInvalidToken)
	}

	r.mu.Lock()
	_, exists := r.tokens[asset]
	r.mu.Unlock()
	if exists {
		return nil, fmt.Errorf("registry: asset %s: %w", asset.Hex(), domain.ErrAlreadyExists)
	}

	decimals, err := r.tokenMeta.Decimals(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("registry: probe decimals for %s: %w", asset.Hex(), domain.ErrInvalidToken)
	}
	symbol, err := r.tokenMeta.Symbol(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("registry: probe symbol for %s: %w", asset.Hex(), domain.ErrInvalidToken)
	}

	var feedDecimals uint8
	if feed != (common.Address{}) {
		feedDecimals, err = r.feeds.Decimals(ctx, feed)
		if err != nil {
			return nil, fmt.Errorf("registry: probe feed decimals for %s: %w", feed.Hex(), domain.ErrInvalidToken)
		}
	}

	cfg := &domain.TokenConfig{
		Asset:           asset,
		Symbol:          symbol,
		Supported:       true,
		Decimals:        decimals,
		WithdrawalLimit: orZero(withdrawalLimit),
		DepositLimit:    orZero(depositLimit),
		PriceFeed:       feed,
		FeedDecimals:    feedDecimals,
	}

	if r.store != nil {
		if err := r.store.Upsert(ctx, *cfg.Clone()); err != nil {
			return nil, fmt.Errorf("registry: persist config for %s: %w", asset.Hex(), err)
		}
	}

	r.mu.Lock()
	r.tokens[asset] = cfg
	r.mu.Unlock()

	r.logger.Info("token registered",
		slog.String("asset", asset.Hex()),
		slog.String("symbol", symbol),
		slog.Int("decimals", int(decimals)),
		slog.String("feed", feed.Hex()),
	)
	return cfg.Clone(), nil
}

// IsSupported reports whether the asset may enter the pipelines. Unknown
// assets are unsupported; the reserved entries are seeded at init.
func (r *Registry) IsSupported(asset common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.tokens[asset]
	return ok && cfg.Supported
}

// Get returns a copy of the asset's configuration, or ErrTokenNotSupported
// when the asset is unknown or disabled.
func (r *Registry) Get(asset common.Address) (*domain.TokenConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.tokens[asset]
	if !ok || !cfg.Supported {
		return nil, domain.ErrTokenNotSupported
	}
	return cfg.Clone(), nil
}

// List returns copies of every known configuration.
func (r *Registry) List() []*domain.TokenConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.TokenConfig, 0, len(r.tokens))
	for _, cfg := range r.tokens {
		out = append(out, cfg.Clone())
	}
	return out
}

// UpdateLimits overwrites the per-operation ceilings unconditionally; no
// bounds check is made against in-flight balances.
func (r *Registry) UpdateLimits(ctx context.Context, asset common.Address, withdrawalLimit, depositLimit *big.Int) error {
	r.mu.Lock()
	cfg, ok := r.tokens[asset]
	if !ok {
		r.mu.Unlock()
		return domain.ErrTokenNotSupported
	}
	cfg.WithdrawalLimit = orZero(withdrawalLimit)
	cfg.DepositLimit = orZero(depositLimit)
	snapshot := *cfg.Clone()
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.Upsert(ctx, snapshot); err != nil {
			return fmt.Errorf("registry: persist limits for %s: %w", asset.Hex(), err)
		}
	}
	r.logger.Info("token limits updated",
		slog.String("asset", asset.Hex()),
		slog.String("withdrawal_limit", snapshot.WithdrawalLimit.String()),
		slog.String("deposit_limit", snapshot.DepositLimit.String()),
	)
	return nil
}

// SetPriceSnapshot overwrites the cached oracle snapshot for the asset.
// Only the price oracle adapter calls this.
func (r *Registry) SetPriceSnapshot(asset common.Address, price *big.Int, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.tokens[asset]
	if !ok {
		return domain.ErrTokenNotSupported
	}
	cfg.LastPrice = new(big.Int).Set(price)
	cfg.PriceUpdatedAt = updatedAt
	return nil
}
