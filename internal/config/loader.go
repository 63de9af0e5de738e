package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies BANKD_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known BANKD_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Bank ──
	setStr(&cfg.Bank.SettlementAsset, "BANKD_BANK_SETTLEMENT_ASSET")
	setStr(&cfg.Bank.IntermediaryAsset, "BANKD_BANK_INTERMEDIARY_ASSET")
	setStr(&cfg.Bank.NativeFeed, "BANKD_BANK_NATIVE_FEED")
	setStr(&cfg.Bank.GlobalCap, "BANKD_BANK_GLOBAL_CAP")
	setStr(&cfg.Bank.SettlementWithdrawalLimit, "BANKD_BANK_SETTLEMENT_WITHDRAWAL_LIMIT")
	setStr(&cfg.Bank.SettlementDepositLimit, "BANKD_BANK_SETTLEMENT_DEPOSIT_LIMIT")
	setStr(&cfg.Bank.NativeWithdrawalLimit, "BANKD_BANK_NATIVE_WITHDRAWAL_LIMIT")
	setStr(&cfg.Bank.NativeDepositLimit, "BANKD_BANK_NATIVE_DEPOSIT_LIMIT")
	setDuration(&cfg.Bank.RefreshInterval, "BANKD_BANK_REFRESH_INTERVAL")
	setDuration(&cfg.Bank.ArchiveInterval, "BANKD_BANK_ARCHIVE_INTERVAL")
	setInt(&cfg.Bank.ArchiveRetentionDays, "BANKD_BANK_ARCHIVE_RETENTION_DAYS")

	// ── Chain ──
	setStr(&cfg.Chain.RPCEndpoint, "BANKD_CHAIN_RPC_ENDPOINT")
	setStr(&cfg.Chain.SwapRouter, "BANKD_CHAIN_SWAP_ROUTER")
	setStr(&cfg.Chain.WrappedNative, "BANKD_CHAIN_WRAPPED_NATIVE")
	setStr(&cfg.Chain.PrivateKey, "BANKD_CHAIN_PRIVATE_KEY")
	setStr(&cfg.Chain.EncryptedKeyPath, "BANKD_CHAIN_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Chain.KeyPassword, "BANKD_CHAIN_KEY_PASSWORD")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "BANKD_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "BANKD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "BANKD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "BANKD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "BANKD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "BANKD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "BANKD_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "BANKD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "BANKD_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "BANKD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "BANKD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BANKD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BANKD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BANKD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BANKD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BANKD_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "BANKD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "BANKD_S3_REGION")
	setStr(&cfg.S3.Bucket, "BANKD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "BANKD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "BANKD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "BANKD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "BANKD_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "BANKD_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "BANKD_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "BANKD_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "BANKD_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "BANKD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "BANKD_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BANKD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BANKD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BANKD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BANKD_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "BANKD_MODE")
	setStr(&cfg.LogLevel, "BANKD_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
