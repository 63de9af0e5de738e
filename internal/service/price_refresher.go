package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/settleio/settlebank/internal/domain"
	"github.com/settleio/settlebank/internal/oracle"
	"github.com/settleio/settlebank/internal/registry"
)

// PriceRefresher periodically refreshes the price snapshot of every
// registered asset that carries a feed, so deposits rarely hit the
// staleness threshold on the hot path.
type PriceRefresher struct {
	registry *registry.Registry
	oracle   *oracle.Adapter
	bus      domain.SignalBus // optional
	interval time.Duration
	logger   *slog.Logger
}

// NewPriceRefresher creates a refresher ticking at interval. bus may be
// nil; when set, every cycle publishes a summary on the "prices" channel.
func NewPriceRefresher(reg *registry.Registry, orc *oracle.Adapter, bus domain.SignalBus, interval time.Duration, logger *slog.Logger) *PriceRefresher {
	return &PriceRefresher{
		registry: reg,
		oracle:   orc,
		bus:      bus,
		interval: interval,
		logger:   logger.With(slog.String("component", "price_refresher")),
	}
}

// Run refreshes once immediately, then on every tick until ctx is done.
func (p *PriceRefresher) Run(ctx context.Context) error {
	p.logger.InfoContext(ctx, "starting", slog.Duration("interval", p.interval))

	p.refreshAll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "stopping")
			return ctx.Err()
		case <-ticker.C:
			p.refreshAll(ctx)
		}
	}
}

func (p *PriceRefresher) refreshAll(ctx context.Context) {
	var refreshed, failed int
	for _, cfg := range p.registry.List() {
		if !cfg.Supported || !cfg.HasPriceFeed() {
			continue
		}
		if err := p.oracle.RefreshPrice(ctx, cfg.Asset); err != nil {
			failed++
			p.logger.WarnContext(ctx, "refresh failed",
				slog.String("asset", cfg.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		refreshed++
	}
	if refreshed > 0 || failed > 0 {
		p.logger.DebugContext(ctx, "refresh cycle complete",
			slog.Int("refreshed", refreshed),
			slog.Int("failed", failed),
		)
		p.publishCycle(ctx, refreshed, failed)
	}
}

func (p *PriceRefresher) publishCycle(ctx context.Context, refreshed, failed int) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":     "prices_refreshed",
		"refreshed": refreshed,
		"failed":    failed,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, "prices", payload); err != nil {
		p.logger.WarnContext(ctx, "price event publish failed", slog.String("error", err.Error()))
	}
}
