package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/settleio/settlebank/internal/server"
	"github.com/settleio/settlebank/internal/server/handler"
	"github.com/settleio/settlebank/internal/server/ws"
	"github.com/settleio/settlebank/internal/service"
)

const archiveLockTTL = 10 * time.Minute

// ServerMode runs the HTTP API and the WebSocket hub.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// RefreshMode runs the background price refresher on its own, for deploys
// that keep oracle snapshots warm from a dedicated replica.
func (a *App) RefreshMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting refresh mode",
		slog.Duration("interval", a.cfg.Bank.RefreshInterval.Duration))

	refresher := service.NewPriceRefresher(deps.Registry, deps.Oracle, deps.SignalBus, a.cfg.Bank.RefreshInterval.Duration, a.logger)
	return refresher.Run(ctx)
}

// ArchiveMode performs a single archival run and exits, for cron-style
// deploys.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Bank.ArchiveRetentionDays))

	if deps.Archiver == nil {
		return fmt.Errorf("app: archive mode requires object storage")
	}
	a.archiveOnce(ctx, deps)
	return nil
}

// FullMode runs every subsystem: HTTP API, WebSocket hub, price refresher,
// and the archival loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	refresher := service.NewPriceRefresher(deps.Registry, deps.Oracle, deps.SignalBus, a.cfg.Bank.RefreshInterval.Duration, a.logger)
	g.Go(func() error {
		return refresher.Run(ctx)
	})

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.runArchiveLoop(ctx, deps)
		})
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}

	return g.Wait()
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, deps.Bank, a.logger)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	health := map[string]handler.Pinger{
		"postgres": pingerFunc(func(ctx context.Context) error { return deps.Postgres.Pool().Ping(ctx) }),
		"redis":    pingerFunc(deps.Redis.Ping),
	}
	if deps.S3 != nil {
		health["s3"] = pingerFunc(deps.S3.Health)
	}

	srv := server.New(server.Config{
		Port:           a.cfg.Server.Port,
		APIKey:         a.cfg.Server.APIKey,
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		RateLimit:      a.cfg.Server.RateLimit,
		RateWindow:     a.cfg.Server.RateWindow.Duration,
	}, server.Deps{
		Bank:      deps.Bank,
		Transfers: deps.TransferStore,
		Prices:    deps.PriceCache,
		Archives:  deps.BlobReader,
		Limiter:   deps.RateLimiter,
		Hub:       hub,
		Health:    health,
	}, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// runArchiveLoop periodically moves aged transfer and audit rows to object
// storage. A distributed lock keeps the run single-flight across replicas.
func (a *App) runArchiveLoop(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("app: archive loop requires object storage")
	}

	interval := a.cfg.Bank.ArchiveInterval.Duration
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.archiveOnce(ctx, deps)
		}
	}
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies) {
	unlock, err := deps.LockManager.Acquire(ctx, "archive", archiveLockTTL)
	if err != nil {
		a.logger.InfoContext(ctx, "archive run skipped",
			slog.String("reason", err.Error()))
		return
	}
	defer unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Bank.ArchiveRetentionDays)

	transfers, err := deps.Archiver.ArchiveTransfers(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "transfer archival failed", slog.String("error", err.Error()))
	}
	audits, err := deps.Archiver.ArchiveAudit(ctx, cutoff)
	if err != nil {
		a.logger.ErrorContext(ctx, "audit archival failed", slog.String("error", err.Error()))
	}

	a.logger.InfoContext(ctx, "archive run complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("transfers", transfers),
		slog.Int64("audit_entries", audits))
}

// pingerFunc adapts a plain function to the handler.Pinger interface.
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }
