package shares

import (
	"bytes"
	"errors"
	"math/big"
	"sort"

	"dragonvault/crypto"
	"dragonvault/native/fixedpoint"
)

var (
	ErrZeroAmount            = errors.New("share ledger: amount must be positive")
	ErrExceedsLimit          = errors.New("share ledger: deposit limit exceeded")
	ErrInsufficientBalance   = errors.New("share ledger: insufficient balance")
	ErrInsufficientAllowance = errors.New("share ledger: insufficient allowance")
	ErrZeroShares            = errors.New("share ledger: conversion produced zero shares")
)

// TotalValueFunc reports the asset value backing the whole share supply. Vault
// ledgers wire this to idle+debt, strategy ledgers to their tracked assets.
type TotalValueFunc func() *big.Int

// SupplyShadeFunc reports shares that have unlocked from a profit schedule but
// have not yet been burned. Conversions subtract them from the supply so the
// share price rises continuously between settlements.
type SupplyShadeFunc func() *big.Int

// Ledger is the per-instance share accounting: holder balances, allowances,
// total supply and the manually tracked asset total. The asset total is never
// read from a raw token balance, so value sent directly to the instance stays
// invisible until a report recognizes it.
type Ledger struct {
	totalSupply *big.Int
	totalAssets *big.Int
	balances    map[string]*big.Int
	allowances  map[string]map[string]*big.Int

	totalValue  TotalValueFunc
	supplyShade SupplyShadeFunc
}

// NewLedger constructs an empty ledger whose total value defaults to the
// tracked asset total.
func NewLedger() *Ledger {
	l := &Ledger{
		totalSupply: big.NewInt(0),
		totalAssets: big.NewInt(0),
		balances:    make(map[string]*big.Int),
		allowances:  make(map[string]map[string]*big.Int),
	}
	l.totalValue = l.TotalAssets
	return l
}

// SetTotalValueFunc overrides the value source used by conversions.
func (l *Ledger) SetTotalValueFunc(fn TotalValueFunc) {
	if fn == nil {
		l.totalValue = l.TotalAssets
		return
	}
	l.totalValue = fn
}

// SetSupplyShadeFunc wires the unlocked-but-unburned share source.
func (l *Ledger) SetSupplyShadeFunc(fn SupplyShadeFunc) { l.supplyShade = fn }

func key(addr crypto.Address) string { return string(addr.Bytes()) }

// TotalSupply returns the raw share supply including locked profit shares.
func (l *Ledger) TotalSupply() *big.Int { return new(big.Int).Set(l.totalSupply) }

// EffectiveSupply returns the supply used for conversions: the raw supply
// minus shares already unlocked from the profit schedule.
func (l *Ledger) EffectiveSupply() *big.Int {
	supply := new(big.Int).Set(l.totalSupply)
	if l.supplyShade != nil {
		if shade := l.supplyShade(); shade != nil && shade.Sign() > 0 {
			supply.Sub(supply, shade)
			if supply.Sign() < 0 {
				supply.SetInt64(0)
			}
		}
	}
	return supply
}

// TotalAssets returns the manually tracked asset total.
func (l *Ledger) TotalAssets() *big.Int { return new(big.Int).Set(l.totalAssets) }

// AddTotalAssets increases the tracked asset total.
func (l *Ledger) AddTotalAssets(amount *big.Int) {
	l.totalAssets = new(big.Int).Add(l.totalAssets, amount)
}

// SubTotalAssets decreases the tracked asset total, clamping at zero.
func (l *Ledger) SubTotalAssets(amount *big.Int) {
	next := new(big.Int).Sub(l.totalAssets, amount)
	if next.Sign() < 0 {
		next.SetInt64(0)
	}
	l.totalAssets = next
}

// BalanceOf returns the share balance held by addr.
func (l *Ledger) BalanceOf(addr crypto.Address) *big.Int {
	if bal, ok := l.balances[key(addr)]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

// Allowance returns the amount spender may move from owner.
func (l *Ledger) Allowance(owner, spender crypto.Address) *big.Int {
	if grants, ok := l.allowances[key(owner)]; ok {
		if amt, ok := grants[key(spender)]; ok {
			return new(big.Int).Set(amt)
		}
	}
	return big.NewInt(0)
}

// ConvertToShares prices assets into shares at the current ratio. An empty
// supply defines the initial one-to-one price.
func (l *Ledger) ConvertToShares(assets *big.Int, rounding fixedpoint.Rounding) (*big.Int, error) {
	supply := l.EffectiveSupply()
	if supply.Sign() == 0 {
		return new(big.Int).Set(assets), nil
	}
	value := l.totalValue()
	if value == nil || value.Sign() == 0 {
		// Supply outstanding against zero value: shares are worthless and
		// assets cannot be priced into them.
		return big.NewInt(0), nil
	}
	return fixedpoint.MulDiv(assets, supply, value, rounding)
}

// ConvertToAssets prices shares into assets at the current ratio.
func (l *Ledger) ConvertToAssets(shares *big.Int, rounding fixedpoint.Rounding) (*big.Int, error) {
	supply := l.EffectiveSupply()
	if supply.Sign() == 0 {
		return new(big.Int).Set(shares), nil
	}
	value := l.totalValue()
	if value == nil {
		value = big.NewInt(0)
	}
	return fixedpoint.MulDiv(shares, value, supply, rounding)
}

// PricePerShare reports the asset value of one whole (1e18) share, rounded
// down. A raw balance gift never moves this; only reports do.
func (l *Ledger) PricePerShare() (*big.Int, error) {
	return l.ConvertToAssets(fixedpoint.Wad, fixedpoint.RoundDown)
}

// Mint creates shares for a holder. Callers are responsible for adjusting the
// tracked asset total when the mint corresponds to new value.
func (l *Ledger) Mint(to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrZeroAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	l.balances[key(to)] = new(big.Int).Add(l.BalanceOf(to), amount)
	l.totalSupply = new(big.Int).Add(l.totalSupply, amount)
	return nil
}

// Burn destroys shares held by a holder.
func (l *Ledger) Burn(from crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrZeroAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	bal := l.BalanceOf(from)
	if bal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.balances[key(from)] = bal.Sub(bal, amount)
	l.totalSupply = new(big.Int).Sub(l.totalSupply, amount)
	return nil
}

// Deposit converts assets to shares at the caller-unfavorable floor price,
// mints them to the receiver and grows the tracked asset total. limit caps the
// post-deposit tracked total; a nil limit means unlimited.
func (l *Ledger) Deposit(assets *big.Int, receiver crypto.Address, limit *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, ErrZeroAmount
	}
	if limit != nil {
		projected := new(big.Int).Add(l.totalAssets, assets)
		if projected.Cmp(limit) > 0 {
			return nil, ErrExceedsLimit
		}
	}
	minted, err := l.ConvertToShares(assets, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	if minted.Sign() == 0 {
		return nil, ErrZeroShares
	}
	if err := l.Mint(receiver, minted); err != nil {
		return nil, err
	}
	l.AddTotalAssets(assets)
	return minted, nil
}

// SpendAllowance consumes spender's allowance from owner, unless spender is
// the owner.
func (l *Ledger) SpendAllowance(owner, spender crypto.Address, amount *big.Int) error {
	if key(owner) == key(spender) {
		return nil
	}
	current := l.Allowance(owner, spender)
	if current.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	l.setAllowance(owner, spender, current.Sub(current, amount))
	return nil
}

// Approve grants spender the right to move amount shares from owner.
func (l *Ledger) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrZeroAmount
	}
	l.setAllowance(owner, spender, new(big.Int).Set(amount))
	return nil
}

func (l *Ledger) setAllowance(owner, spender crypto.Address, amount *big.Int) {
	grants, ok := l.allowances[key(owner)]
	if !ok {
		grants = make(map[string]*big.Int)
		l.allowances[key(owner)] = grants
	}
	grants[key(spender)] = amount
}

// Transfer moves shares between holders.
func (l *Ledger) Transfer(from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	fromBal := l.BalanceOf(from)
	if fromBal.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	l.balances[key(from)] = fromBal.Sub(fromBal, amount)
	l.balances[key(to)] = new(big.Int).Add(l.BalanceOf(to), amount)
	return nil
}

// TransferFrom moves shares on behalf of the owner after consuming allowance.
// All checks run before any mutation so a failure leaves balances and
// allowances untouched.
func (l *Ledger) TransferFrom(spender, from, to crypto.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if l.BalanceOf(from).Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if err := l.SpendAllowance(from, spender, amount); err != nil {
		return err
	}
	return l.Transfer(from, to, amount)
}

// Balance is one holder's entry in a ledger snapshot. Holder carries the raw
// address bytes.
type Balance struct {
	Holder []byte
	Amount *big.Int
}

// Grant is one owner/spender allowance in a ledger snapshot.
type Grant struct {
	Owner   []byte
	Spender []byte
	Amount  *big.Int
}

// Snapshot is a copyable dump of the ledger's persistent fields. Entries are
// sorted by holder so encoding the same ledger twice yields identical bytes.
type Snapshot struct {
	TotalSupply *big.Int
	TotalAssets *big.Int
	Balances    []Balance
	Allowances  []Grant
}

// Snapshot returns the ledger's current persistent state.
func (l *Ledger) Snapshot() *Snapshot {
	snap := &Snapshot{
		TotalSupply: new(big.Int).Set(l.totalSupply),
		TotalAssets: new(big.Int).Set(l.totalAssets),
	}
	for holder, bal := range l.balances {
		if bal.Sign() == 0 {
			continue
		}
		snap.Balances = append(snap.Balances, Balance{
			Holder: []byte(holder),
			Amount: new(big.Int).Set(bal),
		})
	}
	sort.Slice(snap.Balances, func(i, j int) bool {
		return bytes.Compare(snap.Balances[i].Holder, snap.Balances[j].Holder) < 0
	})
	for owner, grants := range l.allowances {
		for spender, amt := range grants {
			if amt.Sign() == 0 {
				continue
			}
			snap.Allowances = append(snap.Allowances, Grant{
				Owner:   []byte(owner),
				Spender: []byte(spender),
				Amount:  new(big.Int).Set(amt),
			})
		}
	}
	sort.Slice(snap.Allowances, func(i, j int) bool {
		a, b := snap.Allowances[i], snap.Allowances[j]
		if c := bytes.Compare(a.Owner, b.Owner); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Spender, b.Spender) < 0
	})
	return snap
}

// Restore replaces the ledger's persistent state with a snapshot. The value
// and shade hooks are untouched.
func (l *Ledger) Restore(snap *Snapshot) {
	l.totalSupply = big.NewInt(0)
	l.totalAssets = big.NewInt(0)
	l.balances = make(map[string]*big.Int, len(snap.Balances))
	l.allowances = make(map[string]map[string]*big.Int)
	if snap.TotalSupply != nil {
		l.totalSupply = new(big.Int).Set(snap.TotalSupply)
	}
	if snap.TotalAssets != nil {
		l.totalAssets = new(big.Int).Set(snap.TotalAssets)
	}
	for _, bal := range snap.Balances {
		if bal.Amount == nil {
			continue
		}
		l.balances[string(bal.Holder)] = new(big.Int).Set(bal.Amount)
	}
	for _, grant := range snap.Allowances {
		if grant.Amount == nil {
			continue
		}
		owner := string(grant.Owner)
		if l.allowances[owner] == nil {
			l.allowances[owner] = make(map[string]*big.Int)
		}
		l.allowances[owner][string(grant.Spender)] = new(big.Int).Set(grant.Amount)
	}
}
