package strategy

import (
	"errors"
	"math/big"
	"time"

	"dragonvault/core/events"
	"dragonvault/core/types"
	"dragonvault/crypto"
	nativecommon "dragonvault/native/common"
	"dragonvault/native/fixedpoint"
	"dragonvault/native/shares"
)

var (
	errNilState       = errors.New("strategy engine: state not configured")
	errNilIntegration = errors.New("strategy engine: yield integration not configured")
	errNilOracle      = errors.New("strategy engine: exchange-rate oracle not configured")
	errInvalidAmount  = errors.New("strategy engine: amount must be positive")

	ErrTooMuchLoss        = errors.New("strategy engine: loss exceeds tolerance")
	ErrInsolvent          = errors.New("strategy engine: ledger insolvent, beneficiary operations blocked")
	ErrNotEmergencyAdmin  = errors.New("strategy engine: caller is not the emergency admin")
	ErrExceedsDepositCap  = errors.New("strategy engine: deposit cap exceeded")
	ErrReentrantCall      = errors.New("strategy engine: reentrant call")
	ErrDonationNotEnabled = errors.New("strategy engine: beneficiary not configured")
)

const moduleName = "strategy"

// Variant selects the report semantics of a strategy ledger.
type Variant uint8

const (
	// VariantDonating mints shares for realized profit to the beneficiary
	// and burns beneficiary shares to absorb losses.
	VariantDonating Variant = iota
	// VariantSkimming tracks an external exchange rate and keeps a
	// value-denominated debt ledger solvent by minting and burning
	// beneficiary shares.
	VariantSkimming
)

// Integration is the external yield source a strategy operates. Deployment,
// freeing and valuation are synchronous calls whose failures propagate to the
// caller.
type Integration interface {
	// DeployFunds puts amount of the underlying to work.
	DeployFunds(amount *big.Int) error
	// FreeFunds releases amount of the underlying, returning the amount
	// actually made liquid.
	FreeFunds(amount *big.Int) (*big.Int, error)
	// ReportValue returns the strategy's live total value in the underlying.
	ReportValue() (*big.Int, error)
	// TendTrigger reports whether maintenance work is currently worthwhile.
	TendTrigger() (bool, error)
	// Tend performs maintenance between reports without realizing profit.
	Tend() error
}

// RateOracle supplies the external exchange rate for skimming strategies,
// scaled to 18 fractional digits (asset units of value per asset unit).
type RateOracle interface {
	CurrentRate() (*big.Int, error)
}

type engineState interface {
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	LedgerSnapshot(module string) (*shares.Snapshot, error)
	PutLedgerSnapshot(module string, snap *shares.Snapshot) error
	StrategyBook() (*types.StrategyBook, error)
	PutStrategyBook(book *types.StrategyBook) error
}

// Engine is the strategy-side share ledger: it converts deposits and
// withdrawals to shares, realizes profit or loss on reports, and applies the
// variant-specific beneficiary rules. All mutating entry points are
// serialized by a reentrancy flag.
type Engine struct {
	addr    crypto.Address
	asset   string
	variant Variant

	state       engineState
	integration Integration
	oracle      RateOracle
	ledger      *shares.Ledger
	health      *HealthCheck
	emitter     events.Emitter
	pauses      nativecommon.PauseView
	nowFn       func() int64

	beneficiary    crypto.Address
	hasBeneficiary bool
	emergencyAdmin crypto.Address
	hasEmergency   bool
	depositCap     *big.Int
	burnOnLoss     bool

	lastReport int64
	busy       bool

	// Skimming state: value-denominated debts and the last rate a report
	// reconciled against.
	lastRate        *big.Int
	userDebtValue   *big.Int
	dragonDebtValue *big.Int
}

// NewEngine constructs a strategy engine for the given instance address,
// underlying asset denom and variant.
func NewEngine(addr crypto.Address, asset string, variant Variant) *Engine {
	e := &Engine{
		addr:            addr,
		asset:           asset,
		variant:         variant,
		ledger:          shares.NewLedger(),
		health:          NewHealthCheck(),
		emitter:         events.NoopEmitter{},
		nowFn:           func() int64 { return time.Now().Unix() },
		burnOnLoss:      true,
		lastRate:        new(big.Int).Set(fixedpoint.Wad),
		userDebtValue:   big.NewInt(0),
		dragonDebtValue: big.NewInt(0),
	}
	return e
}

// SetState wires the engine to the external persistence layer and hydrates
// the share ledger and report book from it.
func (e *Engine) SetState(state engineState) error {
	e.state = state
	if state == nil {
		return nil
	}
	snap, err := state.LedgerSnapshot(moduleName)
	if err != nil {
		return err
	}
	if snap != nil {
		e.ledger.Restore(snap)
	}
	book, err := state.StrategyBook()
	if err != nil {
		return err
	}
	if book != nil {
		book.Normalize()
		e.userDebtValue = new(big.Int).Set(book.UserDebtValue)
		e.dragonDebtValue = new(big.Int).Set(book.DragonDebtValue)
		e.lastReport = book.LastReport
		if book.LastRate.Sign() > 0 {
			e.lastRate = new(big.Int).Set(book.LastRate)
		}
	}
	return nil
}

// SetIntegration wires the external yield source.
func (e *Engine) SetIntegration(i Integration) { e.integration = i }

// SetRateOracle wires the exchange-rate feed used by the skimming variant.
func (e *Engine) SetRateOracle(o RateOracle) { e.oracle = o }

// SetBeneficiary configures the recipient of realized yield.
func (e *Engine) SetBeneficiary(addr crypto.Address) {
	e.beneficiary = addr
	e.hasBeneficiary = true
}

// SetEmergencyAdmin configures the address allowed to force funds free.
func (e *Engine) SetEmergencyAdmin(addr crypto.Address) {
	e.emergencyAdmin = addr
	e.hasEmergency = true
}

// SetDepositCap caps tracked assets after any deposit. Nil removes the cap.
func (e *Engine) SetDepositCap(limit *big.Int) {
	if limit == nil {
		e.depositCap = nil
		return
	}
	e.depositCap = new(big.Int).Set(limit)
}

// SetBurnOnLoss toggles whether donating reports burn beneficiary shares to
// absorb losses.
func (e *Engine) SetBurnOnLoss(enabled bool) { e.burnOnLoss = enabled }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetPauses wires the module pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// HealthCheck exposes the report guard for configuration.
func (e *Engine) HealthCheck() *HealthCheck { return e.health }

// BalanceOf returns the share balance of an address.
func (e *Engine) BalanceOf(addr crypto.Address) *big.Int { return e.ledger.BalanceOf(addr) }

// Allowance returns the live spending grant from owner to spender.
func (e *Engine) Allowance(owner, spender crypto.Address) *big.Int {
	return e.ledger.Allowance(owner, spender)
}

// TotalSupply returns the share supply.
func (e *Engine) TotalSupply() *big.Int { return e.ledger.TotalSupply() }

// TotalAssets returns the tracked underlying assets.
func (e *Engine) TotalAssets() *big.Int { return e.ledger.TotalAssets() }

// PricePerShare returns the asset value of one whole share (18 decimals).
func (e *Engine) PricePerShare() (*big.Int, error) {
	return e.ConvertToAssets(fixedpoint.Wad, fixedpoint.RoundDown)
}

// Asset returns the underlying asset denom.
func (e *Engine) Asset() string { return e.asset }

// Variant returns the report semantics of this strategy.
func (e *Engine) Variant() Variant { return e.variant }

// LastReport returns the unix second of the most recent report.
func (e *Engine) LastReport() int64 { return e.lastReport }

// UserDebtValue returns the value-denominated obligation to depositors
// (skimming variant).
func (e *Engine) UserDebtValue() *big.Int { return new(big.Int).Set(e.userDebtValue) }

// DragonDebtValue returns the value-denominated obligation to the beneficiary
// (skimming variant).
func (e *Engine) DragonDebtValue() *big.Int { return new(big.Int).Set(e.dragonDebtValue) }

// LastReportedRate returns the exchange rate the last report reconciled
// against (skimming variant).
func (e *Engine) LastReportedRate() *big.Int { return new(big.Int).Set(e.lastRate) }

func (e *Engine) enter() error {
	if e.busy {
		return ErrReentrantCall
	}
	e.busy = true
	return nil
}

func (e *Engine) exit() { e.busy = false }

// persistShares writes the share ledger and report book to state so restarts
// rebuild the same holdings and debts.
func (e *Engine) persistShares() error {
	if err := e.state.PutLedgerSnapshot(moduleName, e.ledger.Snapshot()); err != nil {
		return err
	}
	return e.state.PutStrategyBook(&types.StrategyBook{
		UserDebtValue:   new(big.Int).Set(e.userDebtValue),
		DragonDebtValue: new(big.Int).Set(e.dragonDebtValue),
		LastRate:        new(big.Int).Set(e.lastRate),
		LastReport:      e.lastReport,
	})
}

// --- Share transfers ---

// Approve sets a spending grant from owner to spender.
func (e *Engine) Approve(owner, spender crypto.Address, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return errNilState
	}
	if err := e.ledger.Approve(owner, spender, amount); err != nil {
		return err
	}
	return e.persistShares()
}

// Transfer moves shares between holders. Beneficiary shares stay pinned while
// the skimming ledger is insolvent.
func (e *Engine) Transfer(from, to crypto.Address, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return errNilState
	}
	if err := e.checkBeneficiaryExit(from); err != nil {
		return err
	}
	if err := e.ledger.Transfer(from, to, amount); err != nil {
		return err
	}
	return e.persistShares()
}

// TransferFrom moves shares on behalf of the owner, spending the caller's
// allowance.
func (e *Engine) TransferFrom(caller, from, to crypto.Address, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if e.state == nil {
		return errNilState
	}
	if e.ledger.Allowance(from, caller).Cmp(amount) < 0 {
		return shares.ErrInsufficientAllowance
	}
	if err := e.checkBeneficiaryExit(from); err != nil {
		return err
	}
	if err := e.ledger.SpendAllowance(from, caller, amount); err != nil {
		return err
	}
	if err := e.ledger.Transfer(from, to, amount); err != nil {
		return err
	}
	return e.persistShares()
}

func (e *Engine) isBeneficiary(addr crypto.Address) bool {
	return e.hasBeneficiary && string(addr.Bytes()) == string(e.beneficiary.Bytes())
}

// checkBeneficiaryExit pins beneficiary shares while the skimming ledger
// cannot cover its recorded obligations.
func (e *Engine) checkBeneficiaryExit(owner crypto.Address) error {
	if e.variant != VariantSkimming {
		return nil
	}
	if !e.isBeneficiary(owner) {
		return nil
	}
	solvent, err := e.Solvent()
	if err != nil {
		return err
	}
	if !solvent {
		return ErrInsolvent
	}
	return nil
}

// Solvent reports whether the skimming ledger's current value covers the
// recorded user and beneficiary debt. The donating variant is always solvent
// in this sense.
func (e *Engine) Solvent() (bool, error) {
	if e.variant != VariantSkimming {
		return true, nil
	}
	if e.oracle == nil {
		return false, errNilOracle
	}
	rate, err := e.oracle.CurrentRate()
	if err != nil {
		return false, err
	}
	value, err := fixedpoint.MulWad(e.ledger.TotalAssets(), rate)
	if err != nil {
		return false, err
	}
	debt := new(big.Int).Add(e.userDebtValue, e.dragonDebtValue)
	return value.Cmp(debt) >= 0, nil
}

// --- Conversions ---

// ConvertToShares prices assets into shares. The skimming variant mints
// value-denominated shares: the effective share price is the smaller of the
// pooled ratio and the inverse exchange rate, so pricing falls back to
// pro-rata distribution whenever the ledger is insolvent.
func (e *Engine) ConvertToShares(assets *big.Int, rounding fixedpoint.Rounding) (*big.Int, error) {
	if e.variant != VariantSkimming {
		return e.ledger.ConvertToShares(assets, rounding)
	}
	rate, err := e.currentRate()
	if err != nil {
		return nil, err
	}
	byRate, err := fixedpoint.MulDiv(assets, rate, fixedpoint.Wad, rounding)
	if err != nil {
		return nil, err
	}
	supply := e.ledger.EffectiveSupply()
	if supply.Sign() == 0 {
		return byRate, nil
	}
	totalAssets := e.ledger.TotalAssets()
	if totalAssets.Sign() == 0 {
		return byRate, nil
	}
	pooled, err := fixedpoint.MulDiv(assets, supply, totalAssets, rounding)
	if err != nil {
		return nil, err
	}
	// Lower assets-per-share means more shares per asset.
	if pooled.Cmp(byRate) > 0 {
		return pooled, nil
	}
	return byRate, nil
}

// ConvertToAssets prices shares into assets, applying the same minimum-price
// rule for the skimming variant.
func (e *Engine) ConvertToAssets(sharesIn *big.Int, rounding fixedpoint.Rounding) (*big.Int, error) {
	if e.variant != VariantSkimming {
		return e.ledger.ConvertToAssets(sharesIn, rounding)
	}
	rate, err := e.currentRate()
	if err != nil {
		return nil, err
	}
	byRate, err := fixedpoint.MulDiv(sharesIn, fixedpoint.Wad, rate, rounding)
	if err != nil {
		return nil, err
	}
	supply := e.ledger.EffectiveSupply()
	if supply.Sign() == 0 {
		return byRate, nil
	}
	pooled, err := fixedpoint.MulDiv(sharesIn, e.ledger.TotalAssets(), supply, rounding)
	if err != nil {
		return nil, err
	}
	if pooled.Cmp(byRate) < 0 {
		return pooled, nil
	}
	return byRate, nil
}

func (e *Engine) currentRate() (*big.Int, error) {
	if e.oracle == nil {
		return nil, errNilOracle
	}
	rate, err := e.oracle.CurrentRate()
	if err != nil {
		return nil, err
	}
	if rate == nil || rate.Sign() <= 0 {
		return nil, errNilOracle
	}
	return rate, nil
}

func (e *Engine) loadAccount(addr crypto.Address) (*types.Account, error) {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return nil, err
	}
	if acc == nil {
		acc = &types.Account{}
	}
	acc.Normalize()
	return acc, nil
}

// --- Deposits ---

// Deposit pulls assets from the sender, mints shares to the receiver and
// hands the assets to the yield integration. For the skimming variant the
// value of the deposit at the current rate accrues to the user debt ledger.
func (e *Engine) Deposit(sender, receiver crypto.Address, assets *big.Int) (*big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, errNilState
	}
	if e.integration == nil {
		return nil, errNilIntegration
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, shares.ErrZeroAmount
	}
	if e.depositCap != nil {
		projected := new(big.Int).Add(e.ledger.TotalAssets(), assets)
		if projected.Cmp(e.depositCap) > 0 {
			return nil, ErrExceedsDepositCap
		}
	}

	minted, err := e.ConvertToShares(assets, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	if minted.Sign() == 0 {
		return nil, shares.ErrZeroShares
	}

	var debtAccrual *big.Int
	if e.variant == VariantSkimming {
		rate, err := e.currentRate()
		if err != nil {
			return nil, err
		}
		debtAccrual, err = fixedpoint.MulWad(assets, rate)
		if err != nil {
			return nil, err
		}
	}

	senderAcc, err := e.loadAccount(sender)
	if err != nil {
		return nil, err
	}
	if senderAcc.BalanceAsset.Cmp(assets) < 0 {
		return nil, shares.ErrInsufficientBalance
	}
	strategyAcc, err := e.loadAccount(e.addr)
	if err != nil {
		return nil, err
	}

	senderAcc.BalanceAsset = new(big.Int).Sub(senderAcc.BalanceAsset, assets)
	strategyAcc.BalanceAsset = new(big.Int).Add(strategyAcc.BalanceAsset, assets)

	if err := e.integration.DeployFunds(assets); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(sender, senderAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(e.addr, strategyAcc); err != nil {
		return nil, err
	}

	if err := e.ledger.Mint(receiver, minted); err != nil {
		return nil, err
	}
	e.ledger.AddTotalAssets(assets)
	if debtAccrual != nil {
		e.userDebtValue = new(big.Int).Add(e.userDebtValue, debtAccrual)
	}
	if err := e.persistShares(); err != nil {
		return nil, err
	}

	e.emitter.Emit(newDepositEvent(sender, receiver, assets, minted))
	return minted, nil
}

// --- Withdrawals ---

// Withdraw frees enough assets to pay out the requested amount and burns the
// matching shares from the owner, failing with ErrTooMuchLoss when the
// realized shortfall exceeds the caller's tolerance. Returns shares burned.
func (e *Engine) Withdraw(caller, receiver, owner crypto.Address, assets *big.Int, maxLossBps uint64) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, shares.ErrZeroAmount
	}
	burn, err := e.ConvertToShares(assets, fixedpoint.RoundUp)
	if err != nil {
		return nil, err
	}
	if _, err := e.redeemInternal(caller, receiver, owner, burn, assets, maxLossBps); err != nil {
		return nil, err
	}
	return burn, nil
}

// Redeem burns an exact share amount and pays out its current asset value.
// Returns the assets paid out.
func (e *Engine) Redeem(caller, receiver, owner crypto.Address, sharesToBurn *big.Int, maxLossBps uint64) (*big.Int, error) {
	if sharesToBurn == nil || sharesToBurn.Sign() <= 0 {
		return nil, shares.ErrZeroAmount
	}
	assets, err := e.ConvertToAssets(sharesToBurn, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	return e.redeemInternal(caller, receiver, owner, sharesToBurn, assets, maxLossBps)
}

func (e *Engine) redeemInternal(caller, receiver, owner crypto.Address, burn, assets *big.Int, maxLossBps uint64) (*big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, errNilState
	}
	if e.integration == nil {
		return nil, errNilIntegration
	}
	if burn.Sign() <= 0 || assets.Sign() <= 0 {
		return nil, shares.ErrZeroAmount
	}
	if e.ledger.BalanceOf(owner).Cmp(burn) < 0 {
		return nil, shares.ErrInsufficientBalance
	}
	if string(caller.Bytes()) != string(owner.Bytes()) {
		if e.ledger.Allowance(owner, caller).Cmp(burn) < 0 {
			return nil, shares.ErrInsufficientAllowance
		}
	}

	if err := e.checkBeneficiaryExit(owner); err != nil {
		return nil, err
	}

	// Nominal value of the burned shares before any insolvency haircut; the
	// difference to the actual payout is the caller's loss.
	nominal := assets
	if e.variant == VariantSkimming {
		rate, err := e.currentRate()
		if err != nil {
			return nil, err
		}
		nominal, err = fixedpoint.MulDiv(burn, fixedpoint.Wad, rate, fixedpoint.RoundDown)
		if err != nil {
			return nil, err
		}
		if nominal.Cmp(assets) < 0 {
			nominal = assets
		}
	}

	freed, err := e.integration.FreeFunds(assets)
	if err != nil {
		return nil, err
	}
	if freed == nil {
		freed = big.NewInt(0)
	}
	if freed.Cmp(assets) > 0 {
		freed = new(big.Int).Set(assets)
	}

	loss := new(big.Int).Sub(nominal, freed)
	tolerance, err := fixedpoint.Bps(nominal, maxLossBps)
	if err != nil {
		return nil, err
	}
	if loss.Cmp(tolerance) > 0 {
		return nil, ErrTooMuchLoss
	}

	strategyAcc, err := e.loadAccount(e.addr)
	if err != nil {
		return nil, err
	}
	if strategyAcc.BalanceAsset.Cmp(freed) < 0 {
		return nil, shares.ErrInsufficientBalance
	}
	receiverAcc, err := e.loadAccount(receiver)
	if err != nil {
		return nil, err
	}
	strategyAcc.BalanceAsset = new(big.Int).Sub(strategyAcc.BalanceAsset, freed)
	receiverAcc.BalanceAsset = new(big.Int).Add(receiverAcc.BalanceAsset, freed)

	if err := e.state.PutAccount(e.addr, strategyAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(receiver, receiverAcc); err != nil {
		return nil, err
	}

	var debtRelief *big.Int
	if e.variant == VariantSkimming {
		debtRelief = e.debtReliefFor(owner, burn)
	}

	if string(caller.Bytes()) != string(owner.Bytes()) {
		if err := e.ledger.SpendAllowance(owner, caller, burn); err != nil {
			return nil, err
		}
	}
	if err := e.ledger.Burn(owner, burn); err != nil {
		return nil, err
	}
	// The ledger gives up the gross amount, loss included.
	e.ledger.SubTotalAssets(assets)

	if debtRelief != nil {
		if e.isBeneficiary(owner) {
			e.dragonDebtValue = clampSub(e.dragonDebtValue, debtRelief)
		} else {
			e.userDebtValue = clampSub(e.userDebtValue, debtRelief)
		}
	}
	if err := e.persistShares(); err != nil {
		return nil, err
	}

	e.emitter.Emit(newWithdrawEvent(owner, receiver, freed, burn, loss))
	return freed, nil
}

// debtReliefFor computes how much recorded debt a share burn retires: the
// owner class's debt scaled by the burned fraction of that class's holdings.
// Computed before the burn mutates balances.
func (e *Engine) debtReliefFor(owner crypto.Address, burn *big.Int) *big.Int {
	var classDebt, classShares *big.Int
	if e.isBeneficiary(owner) {
		classDebt = e.dragonDebtValue
		classShares = e.ledger.BalanceOf(e.beneficiary)
	} else {
		classDebt = e.userDebtValue
		classShares = e.ledger.TotalSupply()
		if e.hasBeneficiary {
			classShares = new(big.Int).Sub(classShares, e.ledger.BalanceOf(e.beneficiary))
		}
	}
	if classShares.Sign() == 0 || classDebt.Sign() == 0 {
		return big.NewInt(0)
	}
	relief, err := fixedpoint.MulDiv(classDebt, burn, classShares, fixedpoint.RoundDown)
	if err != nil {
		return big.NewInt(0)
	}
	return relief
}

func clampSub(a, b *big.Int) *big.Int {
	next := new(big.Int).Sub(a, b)
	if next.Sign() < 0 {
		next.SetInt64(0)
	}
	return next
}

// --- Maintenance ---

// Tend runs the integration's maintenance hook when its trigger fires.
func (e *Engine) Tend() error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if e.integration == nil {
		return errNilIntegration
	}
	due, err := e.integration.TendTrigger()
	if err != nil {
		return err
	}
	if !due {
		return nil
	}
	return e.integration.Tend()
}

// EmergencyWithdraw forces the integration to free funds into the strategy's
// idle balance without running report accounting. Restricted to the
// configured emergency admin.
func (e *Engine) EmergencyWithdraw(caller crypto.Address, amount *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if !e.hasEmergency || string(caller.Bytes()) != string(e.emergencyAdmin.Bytes()) {
		return ErrNotEmergencyAdmin
	}
	if e.integration == nil {
		return errNilIntegration
	}
	if amount == nil || amount.Sign() <= 0 {
		return errInvalidAmount
	}
	freed, err := e.integration.FreeFunds(amount)
	if err != nil {
		return err
	}
	e.emitter.Emit(newEmergencyWithdrawEvent(caller, freed))
	return nil
}
