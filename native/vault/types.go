package vault

import (
	"math/big"

	"dragonvault/crypto"
)

// StrategyStatus tracks the lifecycle of an allocation slot.
type StrategyStatus uint8

const (
	StrategyInactive StrategyStatus = iota
	StrategyActive
	StrategyRevoked
)

// StrategyAccount is the vault-side record for one strategy allocation.
type StrategyAccount struct {
	// Address identifies the strategy instance.
	Address crypto.Address
	// Status is the lifecycle state of the slot.
	Status StrategyStatus
	// Activation is the unix second the strategy was added.
	Activation int64
	// LastReport is the unix second of the most recent processed report.
	LastReport int64
	// CurrentDebt is the asset amount currently allocated to the strategy.
	CurrentDebt *big.Int
	// MaxDebt caps CurrentDebt; UpdateDebt clamps increases against it.
	MaxDebt *big.Int
}

// Clone returns a deep copy of the account.
func (a *StrategyAccount) Clone() *StrategyAccount {
	if a == nil {
		return nil
	}
	clone := &StrategyAccount{
		Address:    a.Address,
		Status:     a.Status,
		Activation: a.Activation,
		LastReport: a.LastReport,
	}
	if a.CurrentDebt != nil {
		clone.CurrentDebt = new(big.Int).Set(a.CurrentDebt)
	} else {
		clone.CurrentDebt = big.NewInt(0)
	}
	if a.MaxDebt != nil {
		clone.MaxDebt = new(big.Int).Set(a.MaxDebt)
	} else {
		clone.MaxDebt = big.NewInt(0)
	}
	return clone
}

func (a *StrategyAccount) normalize() {
	if a.CurrentDebt == nil {
		a.CurrentDebt = big.NewInt(0)
	}
	if a.MaxDebt == nil {
		a.MaxDebt = big.NewInt(0)
	}
}

// Totals captures the vault-wide asset split. TotalAssets is always
// TotalIdle + TotalDebt; the pair is persisted together so the invariant
// survives restarts.
type Totals struct {
	// TotalIdle is the pooled asset held directly by the vault.
	TotalIdle *big.Int
	// TotalDebt is the pooled asset allocated across strategies.
	TotalDebt *big.Int
}

// Clone returns a deep copy of the totals.
func (t *Totals) Clone() *Totals {
	clone := &Totals{TotalIdle: big.NewInt(0), TotalDebt: big.NewInt(0)}
	if t == nil {
		return clone
	}
	if t.TotalIdle != nil {
		clone.TotalIdle = new(big.Int).Set(t.TotalIdle)
	}
	if t.TotalDebt != nil {
		clone.TotalDebt = new(big.Int).Set(t.TotalDebt)
	}
	return clone
}

// TotalAssets returns idle plus debt.
func (t *Totals) TotalAssets() *big.Int {
	sum := big.NewInt(0)
	if t == nil {
		return sum
	}
	if t.TotalIdle != nil {
		sum.Add(sum, t.TotalIdle)
	}
	if t.TotalDebt != nil {
		sum.Add(sum, t.TotalDebt)
	}
	return sum
}

// StrategySource is the capability surface a strategy exposes to the vault.
// The vault never sees strategy internals; it deploys funds, frees funds and
// reads reported value through this interface.
type StrategySource interface {
	// Asset returns the underlying asset denom the strategy operates on.
	Asset() string
	// DeployFunds hands amount of the underlying to the strategy.
	DeployFunds(amount *big.Int) error
	// FreeFunds asks the strategy to release amount of the underlying and
	// returns the amount actually freed.
	FreeFunds(amount *big.Int) (*big.Int, error)
	// ReportValue returns the strategy's live total value in the underlying.
	ReportValue() (*big.Int, error)
	// MaxDeposit reports the most the receiver may currently deposit.
	MaxDeposit(receiver crypto.Address) (*big.Int, error)
	// MaxWithdraw reports the most the owner may currently withdraw.
	MaxWithdraw(owner crypto.Address) (*big.Int, error)
}

// SourceResolver maps a strategy address to its capability interface.
type SourceResolver interface {
	Source(addr crypto.Address) (StrategySource, error)
}
