package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/settleio/settlebank/internal/blob/s3"
	"github.com/settleio/settlebank/internal/cache/redis"
	"github.com/settleio/settlebank/internal/config"
	"github.com/settleio/settlebank/internal/crypto"
	"github.com/settleio/settlebank/internal/domain"
	"github.com/settleio/settlebank/internal/ledger"
	"github.com/settleio/settlebank/internal/notify"
	"github.com/settleio/settlebank/internal/oracle"
	"github.com/settleio/settlebank/internal/platform/chainlink"
	"github.com/settleio/settlebank/internal/platform/erc20"
	"github.com/settleio/settlebank/internal/platform/evm"
	"github.com/settleio/settlebank/internal/platform/uniswap"
	"github.com/settleio/settlebank/internal/registry"
	"github.com/settleio/settlebank/internal/risk"
	"github.com/settleio/settlebank/internal/router"
	"github.com/settleio/settlebank/internal/service"
	"github.com/settleio/settlebank/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	Registry *registry.Registry
	Oracle   *oracle.Adapter
	Router   *router.Router
	Risk     *risk.Manager
	Ledger   *ledger.Ledger
	Bank     *service.BankService
	Tokens   domain.TokenClient

	// Stores
	TokenConfigStore domain.TokenConfigStore
	TransferStore    domain.TransferStore
	AuditStore       domain.AuditStore

	// Caches
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Raw clients, kept for health checks.
	Postgres *postgres.Client
	Redis    *redis.Client
	S3       *s3blob.Client
}

// needsS3 returns true for modes that archive to object storage.
func needsS3(mode string) bool {
	switch mode {
	case "archive", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Chain clients ---
	backend, err := evm.Dial(ctx, cfg.Chain.RPCEndpoint)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: dial rpc: %w", err)
	}
	closers = append(closers, backend.Close)

	key, err := crypto.LoadECDSA(crypto.KeyConfig{
		RawPrivateKey:    cfg.Chain.PrivateKey,
		EncryptedKeyPath: cfg.Chain.EncryptedKeyPath,
		KeyPassword:      cfg.Chain.KeyPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: load custody key: %w", err)
	}

	transactor, err := evm.NewTransactor(ctx, backend, key, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: transactor: %w", err)
	}

	var wrappedNative common.Address
	if cfg.Chain.WrappedNative != "" {
		wrappedNative = common.HexToAddress(cfg.Chain.WrappedNative)
	}
	tokens := erc20.NewClient(backend, transactor, wrappedNative, logger)
	deps.Tokens = tokens

	feeds := chainlink.NewClient(backend, logger)
	exchange := uniswap.NewClient(
		backend, transactor,
		common.HexToAddress(cfg.Chain.SwapRouter),
		transactor.From(), // swap proceeds return to custody
		tokens,
		logger,
	)

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Postgres = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.TokenConfigStore = postgres.NewTokenConfigStore(pool)
	deps.TransferStore = postgres.NewTransferStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.Config{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Redis = redisClient

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(cfg.Mode) {
		s3Client, err := s3blob.New(ctx, s3blob.Config{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.S3 = s3Client

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.BlobReader, deps.TransferStore, deps.AuditStore, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Core domain ---
	settlement := common.HexToAddress(cfg.Bank.SettlementAsset)

	settleDec, err := tokens.Decimals(ctx, settlement)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: settlement decimals: %w", err)
	}
	settleSym, err := tokens.Symbol(ctx, settlement)
	if err != nil {
		logger.WarnContext(ctx, "settlement symbol lookup failed",
			slog.String("asset", settlement.Hex()),
			slog.String("error", err.Error()))
		settleSym = "SETTLE"
	}

	nativeSym := "NATIVE"
	nativeDec := uint8(18)
	if wrappedNative != (common.Address{}) {
		if sym, err := tokens.Symbol(ctx, wrappedNative); err == nil {
			nativeSym = sym
		}
	}
	var nativeFeed common.Address
	if cfg.Bank.NativeFeed != "" {
		nativeFeed = common.HexToAddress(cfg.Bank.NativeFeed)
	}

	deps.Registry = registry.New(registry.Params{
		Settlement:                settlement,
		SettlementSymbol:          settleSym,
		SettlementDecimals:        settleDec,
		SettlementWithdrawalLimit: config.Amount(cfg.Bank.SettlementWithdrawalLimit),
		SettlementDepositLimit:    config.Amount(cfg.Bank.SettlementDepositLimit),
		NativeSymbol:              nativeSym,
		NativeDecimals:            nativeDec,
		NativeWithdrawalLimit:     config.Amount(cfg.Bank.NativeWithdrawalLimit),
		NativeDepositLimit:        config.Amount(cfg.Bank.NativeDepositLimit),
		NativeFeed:                nativeFeed,
	}, tokens, feeds, deps.TokenConfigStore, logger)

	if err := deps.Registry.Load(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %w", err)
	}

	deps.Oracle = oracle.New(deps.Registry, feeds, deps.PriceCache, logger)
	deps.Router = router.New(exchange, tokens, settlement,
		common.HexToAddress(cfg.Bank.IntermediaryAsset), wrappedNative, transactor.From(), logger)
	deps.Risk = risk.NewManager(risk.DefaultConfig(settleDec), logger)
	deps.Ledger = ledger.New(config.Amount(cfg.Bank.GlobalCap))

	deps.Bank = service.NewBankService(service.Deps{
		Registry:  deps.Registry,
		Oracle:    deps.Oracle,
		Router:    deps.Router,
		Risk:      deps.Risk,
		Ledger:    deps.Ledger,
		Tokens:    tokens,
		Transfers: deps.TransferStore,
		Audit:     deps.AuditStore,
		Bus:       deps.SignalBus,
		Notifier:  deps.Notifier,
	}, logger)

	return deps, cleanup, nil
}
