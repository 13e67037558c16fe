package config

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadParsesVaultSettings(t *testing.T) {
	path := writeConfig(t, `DataDir = "./vaultdata"
AssetDenom = "usdc"

[vault]
DepositLimit = "5000000"
MinimumTotalIdle = "250000"
MaxQueue = 6
ProfitMaxUnlockSecs = 86400

[strategy]
DepositCap = "1000000"
HealthCheckEnabled = false
ProfitLimitBps = 20000
LossLimitBps = 500
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "./vaultdata" || cfg.AssetDenom != "usdc" {
		t.Fatalf("unexpected top-level config: %+v", cfg)
	}
	if cfg.Vault.MaxQueue != 6 || cfg.Vault.ProfitMaxUnlockSecs != 86400 {
		t.Fatalf("unexpected vault config: %+v", cfg.Vault)
	}
	limit, err := Amount(cfg.Vault.DepositLimit)
	if err != nil {
		t.Fatalf("deposit limit: %v", err)
	}
	if limit.Cmp(big.NewInt(5_000_000)) != 0 {
		t.Fatalf("unexpected deposit limit: %s", limit)
	}
	if cfg.Strategy.HealthCheckEnabled {
		t.Fatal("health check should be disabled")
	}
	if cfg.Strategy.ProfitLimitBps != 20_000 || cfg.Strategy.LossLimitBps != 500 {
		t.Fatalf("unexpected strategy config: %+v", cfg.Strategy)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "AssetDenom = \"usdc\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != defaultDataDir {
		t.Fatalf("missing data dir default: %q", cfg.DataDir)
	}
	if cfg.Vault.MaxQueue != defaultMaxQueue {
		t.Fatalf("missing queue default: %d", cfg.Vault.MaxQueue)
	}
	// "0" amounts mean unlimited.
	limit, err := Amount(cfg.Vault.DepositLimit)
	if err != nil {
		t.Fatalf("deposit limit: %v", err)
	}
	if limit != nil {
		t.Fatalf("expected unlimited deposit limit, got %s", limit)
	}
}

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Vault.ProfitMaxUnlockSecs != defaultProfitUnlockSecs {
		t.Fatalf("unexpected unlock default: %d", cfg.Vault.ProfitMaxUnlockSecs)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	// The written defaults load back cleanly.
	if _, err := Load(path); err != nil {
		t.Fatalf("reload: %v", err)
	}
}

func TestValidateRejectsBadBounds(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"queue too long", func(c *Config) { c.Vault.MaxQueue = MaxQueueBound + 1 }},
		{"unlock too long", func(c *Config) { c.Vault.ProfitMaxUnlockSecs = MaxProfitUnlockSecs + 1 }},
		{"negative amount", func(c *Config) { c.Vault.DepositLimit = "-5" }},
		{"garbage amount", func(c *Config) { c.Strategy.DepositCap = "1e6" }},
		{"loss over 100%", func(c *Config) { c.Strategy.LossLimitBps = MaxBps + 1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
