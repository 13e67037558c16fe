package config

import "fmt"

const (
	// MaxQueueBound is the hard ceiling on withdrawal queue length.
	MaxQueueBound = 32
	// MaxProfitUnlockSecs caps the profit unlock window at one year.
	MaxProfitUnlockSecs = int64(31_556_952)
	// MaxBps is one hundred percent in basis points.
	MaxBps = uint64(10_000)
)

// Validate checks the bounds the engines assume.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil config")
	}
	if cfg.Vault.MaxQueue <= 0 || cfg.Vault.MaxQueue > MaxQueueBound {
		return fmt.Errorf("vault: MaxQueue outside 1..%d", MaxQueueBound)
	}
	if cfg.Vault.ProfitMaxUnlockSecs < 0 || cfg.Vault.ProfitMaxUnlockSecs > MaxProfitUnlockSecs {
		return fmt.Errorf("vault: ProfitMaxUnlockSecs outside 0..%d", MaxProfitUnlockSecs)
	}
	if _, err := Amount(cfg.Vault.DepositLimit); err != nil {
		return fmt.Errorf("vault: DepositLimit: %w", err)
	}
	if _, err := Amount(cfg.Vault.MinimumTotalIdle); err != nil {
		return fmt.Errorf("vault: MinimumTotalIdle: %w", err)
	}
	if cfg.Strategy.LossLimitBps > MaxBps {
		return fmt.Errorf("strategy: LossLimitBps > %d", MaxBps)
	}
	if _, err := Amount(cfg.Strategy.DepositCap); err != nil {
		return fmt.Errorf("strategy: DepositCap: %w", err)
	}
	return nil
}
