// Package config defines the top-level configuration for the settlement
// bank daemon and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by BANKD_* environment variables.
type Config struct {
	Bank     BankConfig     `toml:"bank"`
	Chain    ChainConfig    `toml:"chain"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BankConfig holds the core ledger parameters.
type BankConfig struct {
	// SettlementAsset is the ERC-20 contract every balance is denominated in.
	SettlementAsset string `toml:"settlement_asset"`
	// IntermediaryAsset is the preferred middle hop for deposit conversions.
	IntermediaryAsset string `toml:"intermediary_asset"`
	// NativeFeed prices the chain's native asset, if deposits of it are wanted.
	NativeFeed string `toml:"native_feed"`

	// GlobalCap bounds the sum of all balances, in settlement units.
	// Zero or empty means uncapped.
	GlobalCap string `toml:"global_cap"`

	// Per-operation ceilings for the settlement and native assets, in each
	// asset's own unit. Zero means unlimited.
	SettlementWithdrawalLimit string `toml:"settlement_withdrawal_limit"`
	SettlementDepositLimit    string `toml:"settlement_deposit_limit"`
	NativeWithdrawalLimit     string `toml:"native_withdrawal_limit"`
	NativeDepositLimit        string `toml:"native_deposit_limit"`

	RefreshInterval      duration `toml:"refresh_interval"`
	ArchiveInterval      duration `toml:"archive_interval"`
	ArchiveRetentionDays int      `toml:"archive_retention_days"`
}

// ChainConfig holds the RPC endpoint, contract addresses, and the custody
// key used to sign transfers and swaps.
type ChainConfig struct {
	RPCEndpoint string `toml:"rpc_endpoint"`

	// SwapRouter is the on-chain exchange contract.
	SwapRouter string `toml:"swap_router"`
	// WrappedNative is the ERC-20 wrapper that stands in for the native asset.
	WrappedNative string `toml:"wrapped_native"`

	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for cold archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Bank: BankConfig{
			RefreshInterval:      duration{5 * time.Minute},
			ArchiveInterval:      duration{24 * time.Hour},
			ArchiveRetentionDays: 90,
		},
		Chain: ChainConfig{
			RPCEndpoint: "http://localhost:8545",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "settlebank",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "settlebank-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   100,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"halt", "swap_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"refresh": true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, refresh, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Bank
	if !common.IsHexAddress(c.Bank.SettlementAsset) {
		errs = append(errs, "bank: settlement_asset must be a hex address")
	}
	if !common.IsHexAddress(c.Bank.IntermediaryAsset) {
		errs = append(errs, "bank: intermediary_asset must be a hex address")
	}
	if c.Bank.NativeFeed != "" && !common.IsHexAddress(c.Bank.NativeFeed) {
		errs = append(errs, "bank: native_feed must be a hex address when set")
	}
	for _, f := range []struct {
		name  string
		value string
	}{
		{"global_cap", c.Bank.GlobalCap},
		{"settlement_withdrawal_limit", c.Bank.SettlementWithdrawalLimit},
		{"settlement_deposit_limit", c.Bank.SettlementDepositLimit},
		{"native_withdrawal_limit", c.Bank.NativeWithdrawalLimit},
		{"native_deposit_limit", c.Bank.NativeDepositLimit},
	} {
		if _, err := parseAmount(f.value); err != nil {
			errs = append(errs, "bank: "+f.name+": "+err.Error())
		}
	}
	if c.Bank.RefreshInterval.Duration <= 0 {
		errs = append(errs, "bank: refresh_interval must be positive")
	}
	if c.Bank.ArchiveRetentionDays < 1 {
		errs = append(errs, "bank: archive_retention_days must be >= 1")
	}

	// Chain
	if c.Chain.RPCEndpoint == "" {
		errs = append(errs, "chain: rpc_endpoint must not be empty")
	}
	if !common.IsHexAddress(c.Chain.SwapRouter) {
		errs = append(errs, "chain: swap_router must be a hex address")
	}
	if c.Chain.WrappedNative != "" && !common.IsHexAddress(c.Chain.WrappedNative) {
		errs = append(errs, "chain: wrapped_native must be a hex address when set")
	}
	if c.Chain.PrivateKey == "" && c.Chain.EncryptedKeyPath == "" {
		errs = append(errs, "chain: either private_key or encrypted_key_path must be set")
	}
	if c.Chain.EncryptedKeyPath != "" && c.Chain.KeyPassword == "" {
		errs = append(errs, "chain: key_password is required when encrypted_key_path is set")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// parseAmount decodes a non-negative base-10 integer. Empty means zero.
func parseAmount(s string) (*big.Int, error) {
	if strings.TrimSpace(s) == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("must not be negative, got %q", s)
	}
	return v, nil
}

// Amount returns the parsed value of a validated amount field.
func Amount(s string) *big.Int {
	v, err := parseAmount(s)
	if err != nil {
		return big.NewInt(0)
	}
	return v
}
