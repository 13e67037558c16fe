package strategy

import (
	"math/big"

	"dragonvault/crypto"
	"dragonvault/native/fixedpoint"
)

// The vault runs its own loss gate, so redemptions made on its behalf accept
// any haircut.
const fullToleranceBps = 10_000

// VaultSource adapts a strategy engine to the capability surface a vault
// allocator consumes. Deployed funds become a share position held by the
// vault in the strategy ledger; freed funds redeem that position. When both
// engines share a state store the underlying assets move between the vault
// and strategy accounts as debt is rebalanced.
type VaultSource struct {
	engine *Engine
	vault  crypto.Address
}

// NewVaultSource binds a strategy engine to the vault address that will hold
// its shares.
func NewVaultSource(engine *Engine, vault crypto.Address) *VaultSource {
	return &VaultSource{engine: engine, vault: vault}
}

// Asset returns the underlying asset denom.
func (s *VaultSource) Asset() string { return s.engine.asset }

// DeployFunds deposits the amount into the strategy, crediting the vault.
func (s *VaultSource) DeployFunds(amount *big.Int) error {
	_, err := s.engine.Deposit(s.vault, s.vault, amount)
	return err
}

// FreeFunds redeems as much of the vault's position as the amount requires
// and returns the assets actually paid out.
func (s *VaultSource) FreeFunds(amount *big.Int) (*big.Int, error) {
	burn, err := s.engine.ConvertToShares(amount, fixedpoint.RoundUp)
	if err != nil {
		return nil, err
	}
	burn = fixedpoint.Min(burn, s.engine.ledger.BalanceOf(s.vault))
	if burn.Sign() == 0 {
		return big.NewInt(0), nil
	}
	return s.engine.Redeem(s.vault, s.vault, s.vault, burn, fullToleranceBps)
}

// ReportValue returns the current asset value of the vault's position.
func (s *VaultSource) ReportValue() (*big.Int, error) {
	return s.engine.ConvertToAssets(s.engine.ledger.BalanceOf(s.vault), fixedpoint.RoundDown)
}

// MaxDeposit reports the headroom under the strategy's deposit cap. Nil
// means unlimited.
func (s *VaultSource) MaxDeposit(crypto.Address) (*big.Int, error) {
	if s.engine.depositCap == nil {
		return nil, nil
	}
	headroom := new(big.Int).Sub(s.engine.depositCap, s.engine.ledger.TotalAssets())
	if headroom.Sign() < 0 {
		headroom.SetInt64(0)
	}
	return headroom, nil
}

// MaxWithdraw reports the asset value currently redeemable by the vault.
func (s *VaultSource) MaxWithdraw(crypto.Address) (*big.Int, error) {
	return s.ReportValue()
}
