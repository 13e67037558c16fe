package types

import "math/big"

// Account tracks the underlying-asset balance held by an address outside any
// ledger. Vault and strategy engines move value between holder accounts and
// their own module accounts through this record; share balances live in the
// share ledgers, never here.
type Account struct {
	Nonce        uint64   `json:"nonce"`
	BalanceAsset *big.Int `json:"balanceAsset"`
}

// Normalize replaces nil balance fields with zero values so callers can
// operate on a loaded account without nil checks.
func (a *Account) Normalize() {
	if a == nil {
		return
	}
	if a.BalanceAsset == nil {
		a.BalanceAsset = big.NewInt(0)
	}
}
