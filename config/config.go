package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the top-level TOML configuration for a vault node.
type Config struct {
	DataDir    string         `toml:"DataDir"`
	AssetDenom string         `toml:"AssetDenom"`
	Vault      VaultConfig    `toml:"vault"`
	Strategy   StrategyConfig `toml:"strategy"`
}

// VaultConfig tunes the vault-side allocator.
type VaultConfig struct {
	// DepositLimit caps total tracked assets after any deposit. "0" means
	// unlimited.
	DepositLimit string `toml:"DepositLimit"`
	// MinimumTotalIdle is the asset buffer debt increases may not dip into.
	MinimumTotalIdle string `toml:"MinimumTotalIdle"`
	// MaxQueue bounds the withdrawal queue length.
	MaxQueue int `toml:"MaxQueue"`
	// ProfitMaxUnlockSecs is the window over which reported gains unlock
	// into the share price. 0 disables locking entirely.
	ProfitMaxUnlockSecs int64 `toml:"ProfitMaxUnlockSecs"`
}

// StrategyConfig tunes strategy ledgers and their report guard.
type StrategyConfig struct {
	// DepositCap caps tracked assets per strategy. "0" means unlimited.
	DepositCap string `toml:"DepositCap"`
	// HealthCheckEnabled toggles the report bounds guard.
	HealthCheckEnabled bool `toml:"HealthCheckEnabled"`
	// ProfitLimitBps bounds a single report's profit relative to tracked
	// value, in basis points.
	ProfitLimitBps uint64 `toml:"ProfitLimitBps"`
	// LossLimitBps bounds a single report's loss relative to tracked value,
	// in basis points.
	LossLimitBps uint64 `toml:"LossLimitBps"`
}

const (
	defaultDataDir            = "./data"
	defaultAssetDenom         = "asset"
	defaultMaxQueue           = 10
	defaultProfitUnlockSecs   = 7 * 24 * 3600
	defaultProfitLimitBps     = 10_000
	defaultHealthCheckEnabled = true
	defaultUnlimited          = "0"
)

func defaultConfig() *Config {
	return &Config{
		DataDir:    defaultDataDir,
		AssetDenom: defaultAssetDenom,
		Vault: VaultConfig{
			DepositLimit:        defaultUnlimited,
			MinimumTotalIdle:    defaultUnlimited,
			MaxQueue:            defaultMaxQueue,
			ProfitMaxUnlockSecs: defaultProfitUnlockSecs,
		},
		Strategy: StrategyConfig{
			DepositCap:         defaultUnlimited,
			HealthCheckEnabled: defaultHealthCheckEnabled,
			ProfitLimitBps:     defaultProfitLimitBps,
			LossLimitBps:       0,
		},
	}
}

// Load loads the configuration from the given path, writing defaults when no
// file exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := defaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if strings.TrimSpace(cfg.AssetDenom) == "" {
		cfg.AssetDenom = defaultAssetDenom
	}
	if strings.TrimSpace(cfg.Vault.DepositLimit) == "" {
		cfg.Vault.DepositLimit = defaultUnlimited
	}
	if strings.TrimSpace(cfg.Vault.MinimumTotalIdle) == "" {
		cfg.Vault.MinimumTotalIdle = defaultUnlimited
	}
	if cfg.Vault.MaxQueue == 0 {
		cfg.Vault.MaxQueue = defaultMaxQueue
	}
	if strings.TrimSpace(cfg.Strategy.DepositCap) == "" {
		cfg.Strategy.DepositCap = defaultUnlimited
	}
}

func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: create default %s: %w", path, err)
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: write default %s: %w", path, err)
	}
	return cfg, nil
}

// Amount parses a decimal amount field. "0" and "" mean unlimited and return
// nil.
func Amount(field string) (*big.Int, error) {
	trimmed := strings.TrimSpace(field)
	if trimmed == "" || trimmed == "0" {
		return nil, nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid amount %q", field)
	}
	return value, nil
}
