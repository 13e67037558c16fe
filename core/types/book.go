package types

import "math/big"

// StrategyBook is the persisted report state of a strategy ledger: the
// value-denominated debt legs the skimming variant keeps, the exchange rate
// the last report reconciled against, and the report timestamp.
type StrategyBook struct {
	UserDebtValue   *big.Int `json:"userDebtValue"`
	DragonDebtValue *big.Int `json:"dragonDebtValue"`
	LastRate        *big.Int `json:"lastRate"`
	LastReport      int64    `json:"lastReport"`
}

// Normalize replaces nil debt and rate fields with zero values.
func (b *StrategyBook) Normalize() {
	if b == nil {
		return
	}
	if b.UserDebtValue == nil {
		b.UserDebtValue = big.NewInt(0)
	}
	if b.DragonDebtValue == nil {
		b.DragonDebtValue = big.NewInt(0)
	}
	if b.LastRate == nil {
		b.LastRate = big.NewInt(0)
	}
}
