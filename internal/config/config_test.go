package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const (
	testSettlement   = "0x00000000000000000000000000000000000000aa"
	testIntermediary = "0x00000000000000000000000000000000000000bb"
	testRouter       = "0x00000000000000000000000000000000000000cc"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Bank.SettlementAsset = testSettlement
	cfg.Bank.IntermediaryAsset = testIntermediary
	cfg.Chain.SwapRouter = testRouter
	cfg.Chain.PrivateKey = "ab"
	return cfg
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Bank.GlobalCap = "-5"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation failure")
	}
	for _, want := range []string{"unknown mode", "unknown log_level", "redis: addr", "settlement_asset", "swap_router", "global_cap", "private_key"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}

func TestValidateRequiresKeyPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.PrivateKey = ""
	cfg.Chain.EncryptedKeyPath = "/keys/custody.json"
	cfg.Chain.KeyPassword = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "key_password") {
		t.Fatalf("missing key_password not caught: %v", err)
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "server"

[bank]
settlement_asset = "` + testSettlement + `"
intermediary_asset = "` + testIntermediary + `"
global_cap = "1000000000000"
refresh_interval = "30s"

[chain]
swap_router = "` + testRouter + `"
private_key = "ab"

[server]
port = 9000
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("BANKD_SERVER_PORT", "9100")
	t.Setenv("BANKD_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("BANKD_BANK_REFRESH_INTERVAL", "45s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mode != "server" {
		t.Errorf("mode = %q", cfg.Mode)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("env override lost: port = %d", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "redis.internal:6379" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Bank.RefreshInterval.Duration != 45*time.Second {
		t.Errorf("refresh interval = %v", cfg.Bank.RefreshInterval.Duration)
	}
	if cfg.Bank.GlobalCap != "1000000000000" {
		t.Errorf("global cap = %q", cfg.Bank.GlobalCap)
	}
	// Untouched fields keep their defaults.
	if cfg.Postgres.Port != 5432 {
		t.Errorf("postgres port default lost: %d", cfg.Postgres.Port)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("loaded config invalid: %v", err)
	}
}

func TestAmount(t *testing.T) {
	if Amount("").Sign() != 0 {
		t.Error("empty amount not zero")
	}
	if Amount("123456").String() != "123456" {
		t.Error("amount not parsed")
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Chain.PrivateKey = "deadbeef"
	cfg.Postgres.Password = "hunter2"
	cfg.Server.APIKey = "secret"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)
	for name, got := range map[string]string{
		"chain.private_key": red.Chain.PrivateKey,
		"postgres.password": red.Postgres.Password,
		"server.api_key":    red.Server.APIKey,
		"telegram_token":    red.Notify.TelegramToken,
	} {
		if got != "***" {
			t.Errorf("%s not redacted: %q", name, got)
		}
	}
	if cfg.Chain.PrivateKey != "deadbeef" {
		t.Error("original mutated")
	}
}
