package vault

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
	"dragonvault/native/unlock"
)

var (
	errNilState       = errors.New("vault engine: state not configured")
	errNilResolver    = errors.New("vault engine: strategy resolver not configured")
	errInvalidAmount  = errors.New("vault engine: amount must be positive")
	errNothingToMove  = errors.New("vault engine: no assets available to move")
	errQueueTooLong   = errors.New("vault engine: withdrawal queue exceeds bound")
	errQueueDuplicate = errors.New("vault engine: duplicate strategy in queue")

	ErrStrategyNotActive        = errors.New("vault engine: strategy not active")
	ErrStrategyAlreadyActive    = errors.New("vault engine: strategy already active")
	ErrStrategyHasDebt          = errors.New("vault engine: strategy has outstanding debt")
	ErrAssetMismatch            = errors.New("vault engine: strategy asset does not match vault")
	ErrNewDebtEqualsCurrentDebt = errors.New("vault engine: new debt equals current debt")
	ErrTooMuchLoss              = errors.New("vault engine: loss exceeds tolerance")
	ErrInsufficientAssets       = errors.New("vault engine: insufficient assets in vault")
	ErrExceedsDepositLimit      = errors.New("vault engine: deposit limit exceeded")
	ErrVaultShutdown            = errors.New("vault engine: vault is shut down")
	ErrReentrantCall            = errors.New("vault engine: reentrant call")
)

const moduleName = "vault"

// DefaultMaxQueue bounds the withdrawal queue length.
const DefaultMaxQueue = 10

type engineState interface {
	GetStrategy(id [32]byte) (*StrategyAccount, error)
	PutStrategy(id [32]byte, acct *StrategyAccount) error
	DeleteStrategy(id [32]byte) error
	Queue() ([][32]byte, error)
	PutQueue(queue [][32]byte) error
	Totals() (*Totals, error)
	PutTotals(totals *Totals) error
	GetAccount(addr crypto.Address) (*types.Account, error)
	PutAccount(addr crypto.Address, account *types.Account) error
	LedgerSnapshot(module string) (*shares.Snapshot, error)
	PutLedgerSnapshot(module string, snap *shares.Snapshot) error
	UnlockState() (*unlock.Schedule, error)
	PutUnlockState(schedule *unlock.Schedule) error
}

// Engine owns the vault-side accounting: the share ledger for depositors, the
// set of strategy accounts, the idle/debt totals and the debt-allocation and
// withdrawal-queue algorithms. Every mutating entry point is serialized by a
// reentrancy flag and validates before funds move; once a strategy has freed
// funds, abort paths settle the accounting for what already moved before the
// error surfaces.
type Engine struct {
	vaultAddr crypto.Address
	asset     string

	state    engineState
	resolver SourceResolver
	ledger   *shares.Ledger
	schedule *unlock.Schedule
	emitter  events.Emitter
	pauses   nativecommon.PauseView
	nowFn    func() int64

	minimumTotalIdle *big.Int
	depositLimit     *big.Int
	maxQueue         int
	shutdown         bool

	busy          bool
	workingTotals *Totals
}

// NewEngine constructs a vault engine for the given instance address and
// underlying asset denom.
func NewEngine(vaultAddr crypto.Address, asset string) *Engine {
	e := &Engine{
		vaultAddr:        vaultAddr,
		asset:            asset,
		ledger:           shares.NewLedger(),
		schedule:         unlock.NewSchedule(0),
		emitter:          events.NoopEmitter{},
		nowFn:            func() int64 { return time.Now().Unix() },
		minimumTotalIdle: big.NewInt(0),
		maxQueue:         DefaultMaxQueue,
	}
	e.ledger.SetTotalValueFunc(func() *big.Int { return e.viewTotals().TotalAssets() })
	e.ledger.SetSupplyShadeFunc(func() *big.Int { return e.schedule.UnlockedShares(e.nowFn()) })
	return e
}

// SetState wires the engine to the external persistence layer and hydrates
// the share ledger and unlock schedule from it, so holder balances survive a
// restart alongside the totals they back.
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
	schedule, err := state.UnlockState()
	if err != nil {
		return err
	}
	e.schedule.Restore(schedule)
	return nil
}

// SetSourceResolver wires the strategy capability lookup.
func (e *Engine) SetSourceResolver(r SourceResolver) { e.resolver = r }

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

// SetMinimumTotalIdle configures the idle liquidity floor the allocator must
// preserve when deploying funds.
func (e *Engine) SetMinimumTotalIdle(min *big.Int) {
	if min == nil {
		e.minimumTotalIdle = big.NewInt(0)
		return
	}
	e.minimumTotalIdle = new(big.Int).Set(min)
}

// SetDepositLimit caps total assets after any deposit. Nil removes the cap.
func (e *Engine) SetDepositLimit(limit *big.Int) {
	if limit == nil {
		e.depositLimit = nil
		return
	}
	e.depositLimit = new(big.Int).Set(limit)
}

// SetProfitMaxUnlockTime configures the window over which reported gains
// unlock into the share price. Zero releases profit immediately.
func (e *Engine) SetProfitMaxUnlockTime(seconds int64) {
	e.schedule.MaxUnlockTime = seconds
}

// SetMaxQueue bounds the withdrawal queue length.
func (e *Engine) SetMaxQueue(n int) {
	if n <= 0 {
		n = DefaultMaxQueue
	}
	e.maxQueue = n
}

// Shutdown blocks deposits and debt increases. Withdrawals and reports keep
// working so depositors can exit.
func (e *Engine) Shutdown() { e.shutdown = true }

// IsShutdown reports whether the vault is in shutdown mode.
func (e *Engine) IsShutdown() bool { return e.shutdown }

// BalanceOf returns the share balance held by addr.
func (e *Engine) BalanceOf(addr crypto.Address) *big.Int { return e.ledger.BalanceOf(addr) }

// Allowance returns the amount spender may move from owner.
func (e *Engine) Allowance(owner, spender crypto.Address) *big.Int {
	return e.ledger.Allowance(owner, spender)
}

// TotalSupply returns the raw share supply including locked profit shares.
func (e *Engine) TotalSupply() *big.Int { return e.ledger.TotalSupply() }

func (e *Engine) enter() error {
	if e.busy {
		return ErrReentrantCall
	}
	e.busy = true
	return nil
}

func (e *Engine) exit() {
	e.busy = false
	e.workingTotals = nil
}

// viewTotals returns the totals an in-flight operation is working against, or
// the persisted totals for read-only callers.
func (e *Engine) viewTotals() *Totals {
	if e.workingTotals != nil {
		return e.workingTotals
	}
	if e.state == nil {
		return &Totals{TotalIdle: big.NewInt(0), TotalDebt: big.NewInt(0)}
	}
	totals, err := e.state.Totals()
	if err != nil || totals == nil {
		return &Totals{TotalIdle: big.NewInt(0), TotalDebt: big.NewInt(0)}
	}
	return totals
}

func (e *Engine) loadTotals() (*Totals, error) {
	if e.state == nil {
		return nil, errNilState
	}
	totals, err := e.state.Totals()
	if err != nil {
		return nil, err
	}
	return totals.Clone(), nil
}

// persistShares writes the share ledger and unlock schedule alongside the
// other records an operation commits.
func (e *Engine) persistShares() error {
	if err := e.state.PutLedgerSnapshot(moduleName, e.ledger.Snapshot()); err != nil {
		return err
	}
	return e.state.PutUnlockState(e.schedule)
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

func (e *Engine) loadStrategy(addr crypto.Address) (*StrategyAccount, error) {
	acct, err := e.state.GetStrategy(crypto.StrategyID(addr))
	if err != nil {
		return nil, err
	}
	if acct == nil || acct.Status != StrategyActive {
		return nil, ErrStrategyNotActive
	}
	clone := acct.Clone()
	clone.normalize()
	return clone, nil
}

func (e *Engine) source(addr crypto.Address) (StrategySource, error) {
	if e.resolver == nil {
		return nil, errNilResolver
	}
	return e.resolver.Source(addr)
}

// settleUnlock burns shares that unlocked since the last settlement out of the
// vault's own locked pool, raising price per share by the released amount.
func (e *Engine) settleUnlock(now int64) error {
	released := e.schedule.Settle(now)
	if released.Sign() == 0 {
		return nil
	}
	held := e.ledger.BalanceOf(e.vaultAddr)
	if released.Cmp(held) > 0 {
		released = held
	}
	return e.ledger.Burn(e.vaultAddr, released)
}

// --- Views ---

// TotalAssets returns idle plus allocated debt.
func (e *Engine) TotalAssets() *big.Int { return e.viewTotals().TotalAssets() }

// TotalIdle returns the unallocated pooled asset amount.
func (e *Engine) TotalIdle() *big.Int {
	return new(big.Int).Set(e.viewTotals().TotalIdle)
}

// TotalDebt returns the pooled asset amount allocated to strategies.
func (e *Engine) TotalDebt() *big.Int {
	return new(big.Int).Set(e.viewTotals().TotalDebt)
}

// PricePerShare reports the asset value of one whole share.
func (e *Engine) PricePerShare() (*big.Int, error) { return e.ledger.PricePerShare() }

// --- Deposits ---

// Deposit pulls assets from the sender's account, mints shares to the
// receiver at the floor price and grows total idle.
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
	if e.shutdown {
		return nil, ErrVaultShutdown
	}
	if assets == nil || assets.Sign() <= 0 {
		return nil, errInvalidAmount
	}

	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	e.workingTotals = totals

	if e.depositLimit != nil {
		projected := new(big.Int).Add(totals.TotalAssets(), assets)
		if projected.Cmp(e.depositLimit) > 0 {
			return nil, ErrExceedsDepositLimit
		}
	}

	if err := e.settleUnlock(e.nowFn()); err != nil {
		return nil, err
	}

	minted, err := e.ledger.ConvertToShares(assets, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	if minted.Sign() == 0 {
		return nil, shares.ErrZeroShares
	}

	senderAcc, err := e.loadAccount(sender)
	if err != nil {
		return nil, err
	}
	if senderAcc.BalanceAsset.Cmp(assets) < 0 {
		return nil, shares.ErrInsufficientBalance
	}
	vaultAcc, err := e.loadAccount(e.vaultAddr)
	if err != nil {
		return nil, err
	}

	senderAcc.BalanceAsset = new(big.Int).Sub(senderAcc.BalanceAsset, assets)
	vaultAcc.BalanceAsset = new(big.Int).Add(vaultAcc.BalanceAsset, assets)

	if err := e.state.PutAccount(sender, senderAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(e.vaultAddr, vaultAcc); err != nil {
		return nil, err
	}

	totals.TotalIdle = new(big.Int).Add(totals.TotalIdle, assets)
	if err := e.state.PutTotals(totals); err != nil {
		return nil, err
	}

	if err := e.ledger.Mint(receiver, minted); err != nil {
		return nil, err
	}
	if err := e.persistShares(); err != nil {
		return nil, err
	}

	e.emitter.Emit(newDepositEvent(sender, receiver, assets, minted))
	return minted, nil
}

// --- Share transfers ---

// Approve grants spender the right to move the owner's shares.
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

// Transfer moves shares between holders.
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
	if err := e.ledger.Transfer(from, to, amount); err != nil {
		return err
	}
	return e.persistShares()
}

// TransferFrom moves shares on behalf of the owner after consuming allowance.
func (e *Engine) TransferFrom(spender, from, to crypto.Address, amount *big.Int) error {
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
	if err := e.ledger.TransferFrom(spender, from, to, amount); err != nil {
		return err
	}
	return e.persistShares()
}

// --- Withdrawals ---

type withdrawalPull struct {
	id     [32]byte
	acct   *StrategyAccount
	source StrategySource
	amount *big.Int
	loss   *big.Int
}

// Withdraw redeems enough of the owner's shares to pay out the requested
// asset amount, pulling liquidity through the withdrawal queue when idle is
// insufficient. Returns the shares burned.
func (e *Engine) Withdraw(caller, receiver, owner crypto.Address, assets *big.Int, maxLossBps uint64) (*big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	if assets == nil || assets.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if err := e.settleUnlock(e.nowFn()); err != nil {
		return nil, err
	}
	burn, err := e.ledger.ConvertToShares(assets, fixedpoint.RoundUp)
	if err != nil {
		return nil, err
	}
	if _, err := e.redeemInternal(caller, receiver, owner, burn, assets, maxLossBps); err != nil {
		return nil, err
	}
	return burn, nil
}

// Redeem burns an exact share amount and pays out its floor asset value,
// reduced by the owner's pro-rata slice of any unrealized strategy losses.
// Returns the assets paid out.
func (e *Engine) Redeem(caller, receiver, owner crypto.Address, sharesToBurn *big.Int, maxLossBps uint64) (*big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.exit()
	if sharesToBurn == nil || sharesToBurn.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if err := e.settleUnlock(e.nowFn()); err != nil {
		return nil, err
	}
	assets, err := e.ledger.ConvertToAssets(sharesToBurn, fixedpoint.RoundDown)
	if err != nil {
		return nil, err
	}
	if assets.Sign() == 0 {
		return nil, errNothingToMove
	}
	return e.redeemInternal(caller, receiver, owner, sharesToBurn, assets, maxLossBps)
}

func (e *Engine) redeemInternal(caller, receiver, owner crypto.Address, burn, requested *big.Int, maxLossBps uint64) (*big.Int, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if e.state == nil {
		return nil, errNilState
	}
	if burn.Sign() <= 0 {
		return nil, errInvalidAmount
	}
	if e.ledger.BalanceOf(owner).Cmp(burn) < 0 {
		return nil, shares.ErrInsufficientBalance
	}
	if string(caller.Bytes()) != string(owner.Bytes()) {
		if e.ledger.Allowance(owner, caller).Cmp(burn) < 0 {
			return nil, shares.ErrInsufficientAllowance
		}
	}

	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	e.workingTotals = totals

	plan, err := e.planWithdrawals(totals, requested)
	if err != nil {
		return nil, err
	}

	lossLimit, err := fixedpoint.Bps(requested, maxLossBps)
	if err != nil {
		return nil, err
	}

	// Gate on the planned loss before any funds move.
	totalLoss := big.NewInt(0)
	for _, pull := range plan {
		totalLoss.Add(totalLoss, pull.loss)
	}
	if totalLoss.Cmp(lossLimit) > 0 {
		return nil, ErrTooMuchLoss
	}

	// Funds freed from a source are committed on its side the moment the call
	// returns, so every abort past this point settles the accounting for what
	// already moved before surfacing the error.
	completed := 0
	for i, pull := range plan {
		toFree := new(big.Int).Sub(pull.amount, pull.loss)
		freed := big.NewInt(0)
		if toFree.Sign() > 0 {
			freed, err = pull.source.FreeFunds(toFree)
			if err != nil {
				if perr := e.persistPulls(plan[:completed], totals); perr != nil {
					return nil, perr
				}
				return nil, err
			}
			if freed == nil {
				freed = big.NewInt(0)
			}
			if freed.Cmp(toFree) > 0 {
				freed = new(big.Int).Set(toFree)
			}
			totalLoss.Add(totalLoss, new(big.Int).Sub(toFree, freed))
		}
		pull.acct.CurrentDebt = new(big.Int).Sub(pull.acct.CurrentDebt, pull.amount)
		totals.TotalDebt = new(big.Int).Sub(totals.TotalDebt, pull.amount)
		totals.TotalIdle = new(big.Int).Add(totals.TotalIdle, freed)
		completed = i + 1
	}

	// Re-gate with any shortfall realized while freeing funds.
	if totalLoss.Cmp(lossLimit) > 0 {
		if perr := e.persistPulls(plan, totals); perr != nil {
			return nil, perr
		}
		return nil, ErrTooMuchLoss
	}

	payout := new(big.Int).Sub(requested, totalLoss)

	// Sources deliver freed funds into the vault account, so it is loaded
	// only after every FreeFunds call has settled.
	vaultAcc, err := e.loadAccount(e.vaultAddr)
	if err != nil {
		return nil, err
	}
	if totals.TotalIdle.Cmp(payout) < 0 || vaultAcc.BalanceAsset.Cmp(payout) < 0 {
		if perr := e.persistPulls(plan, totals); perr != nil {
			return nil, perr
		}
		return nil, ErrInsufficientAssets
	}
	totals.TotalIdle = new(big.Int).Sub(totals.TotalIdle, payout)
	receiverAcc, err := e.loadAccount(receiver)
	if err != nil {
		return nil, err
	}
	vaultAcc.BalanceAsset = new(big.Int).Sub(vaultAcc.BalanceAsset, payout)
	receiverAcc.BalanceAsset = new(big.Int).Add(receiverAcc.BalanceAsset, payout)

	if err := e.state.PutAccount(e.vaultAddr, vaultAcc); err != nil {
		return nil, err
	}
	if err := e.state.PutAccount(receiver, receiverAcc); err != nil {
		return nil, err
	}

	if string(caller.Bytes()) != string(owner.Bytes()) {
		if err := e.ledger.SpendAllowance(owner, caller, burn); err != nil {
			return nil, err
		}
	}
	if err := e.ledger.Burn(owner, burn); err != nil {
		return nil, err
	}
	if err := e.persistPulls(plan, totals); err != nil {
		return nil, err
	}

	e.emitter.Emit(newWithdrawEvent(owner, receiver, payout, burn, totalLoss))
	return payout, nil
}

// persistPulls commits strategy debts, totals and the share ledger after
// sources have freed funds. It also runs on abort paths: freed assets already
// sit in the vault account, so their accounting must land even when the
// caller sees an error.
func (e *Engine) persistPulls(plan []withdrawalPull, totals *Totals) error {
	for _, pull := range plan {
		if err := e.state.PutStrategy(pull.id, pull.acct); err != nil {
			return err
		}
	}
	if err := e.state.PutTotals(totals); err != nil {
		return err
	}
	return e.persistShares()
}

// planWithdrawals walks the ordered queue and decides how much to pull from
// each strategy, clamped to remaining need, recorded debt and the strategy's
// reported max-withdrawable. Each pull carries the caller's pro-rata share of
// that strategy's unrealized loss.
func (e *Engine) planWithdrawals(totals *Totals, requested *big.Int) ([]withdrawalPull, error) {
	needed := new(big.Int).Sub(requested, totals.TotalIdle)
	if needed.Sign() <= 0 {
		return nil, nil
	}

	queue, err := e.state.Queue()
	if err != nil {
		return nil, err
	}

	var plan []withdrawalPull
	for _, id := range queue {
		if needed.Sign() == 0 {
			break
		}
		acct, err := e.state.GetStrategy(id)
		if err != nil {
			return nil, err
		}
		if acct == nil || acct.Status != StrategyActive {
			continue
		}
		acct = acct.Clone()
		acct.normalize()
		if acct.CurrentDebt.Sign() == 0 {
			continue
		}
		source, err := e.source(acct.Address)
		if err != nil {
			return nil, err
		}
		maxWithdraw, err := source.MaxWithdraw(e.vaultAddr)
		if err != nil {
			return nil, err
		}
		pull := fixedpoint.Min(needed, acct.CurrentDebt)
		if maxWithdraw != nil {
			pull = fixedpoint.Min(pull, maxWithdraw)
		}
		if pull.Sign() == 0 {
			continue
		}
		loss, err := e.assessLoss(acct, source, pull)
		if err != nil {
			return nil, err
		}
		plan = append(plan, withdrawalPull{
			id:     id,
			acct:   acct,
			source: source,
			amount: pull,
			loss:   loss,
		})
		needed.Sub(needed, pull)
	}
	if needed.Sign() > 0 {
		return nil, ErrInsufficientAssets
	}
	return plan, nil
}

func (e *Engine) assessLoss(acct *StrategyAccount, source StrategySource, assetsNeeded *big.Int) (*big.Int, error) {
	value, err := source.ReportValue()
	if err != nil {
		return nil, err
	}
	if value == nil {
		value = big.NewInt(0)
	}
	if value.Cmp(acct.CurrentDebt) >= 0 || acct.CurrentDebt.Sign() == 0 {
		return big.NewInt(0), nil
	}
	shortfall := new(big.Int).Sub(acct.CurrentDebt, value)
	return fixedpoint.MulDiv(assetsNeeded, shortfall, acct.CurrentDebt, fixedpoint.RoundDown)
}

// AssessShareOfUnrealisedLosses returns the caller's pro-rata slice of a
// strategy's unrealized loss for a given asset need, used to gate withdrawals
// under a loss tolerance.
func (e *Engine) AssessShareOfUnrealisedLosses(strategy crypto.Address, assetsNeeded *big.Int) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if assetsNeeded == nil || assetsNeeded.Sign() < 0 {
		return nil, errInvalidAmount
	}
	acct, err := e.loadStrategy(strategy)
	if err != nil {
		return nil, err
	}
	source, err := e.source(strategy)
	if err != nil {
		return nil, err
	}
	return e.assessLoss(acct, source, assetsNeeded)
}

// --- Strategy lifecycle ---

// AddStrategy activates a new allocation slot. The strategy must operate on
// the vault's underlying asset and must not already be active. When
// addToQueue is set the strategy is appended to the withdrawal queue if the
// bound allows.
func (e *Engine) AddStrategy(strategy crypto.Address, addToQueue bool) error {
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
	source, err := e.source(strategy)
	if err != nil {
		return err
	}
	if source.Asset() != e.asset {
		return ErrAssetMismatch
	}
	id := crypto.StrategyID(strategy)
	existing, err := e.state.GetStrategy(id)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status == StrategyActive {
		return ErrStrategyAlreadyActive
	}

	now := e.nowFn()
	acct := &StrategyAccount{
		Address:     strategy,
		Status:      StrategyActive,
		Activation:  now,
		LastReport:  now,
		CurrentDebt: big.NewInt(0),
		MaxDebt:     big.NewInt(0),
	}
	if err := e.state.PutStrategy(id, acct); err != nil {
		return err
	}

	if addToQueue {
		queue, err := e.state.Queue()
		if err != nil {
			return err
		}
		if len(queue) < e.maxQueue {
			queue = append(queue, id)
			if err := e.state.PutQueue(queue); err != nil {
				return err
			}
		}
	}

	e.emitter.Emit(newStrategyAddedEvent(strategy, now))
	return nil
}

// RevokeStrategy deactivates a strategy. A strategy with outstanding debt can
// only be removed with force, which writes the debt off as a realized loss.
func (e *Engine) RevokeStrategy(strategy crypto.Address, force bool) error {
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
	acct, err := e.loadStrategy(strategy)
	if err != nil {
		return err
	}

	loss := big.NewInt(0)
	if acct.CurrentDebt.Sign() > 0 {
		if !force {
			return ErrStrategyHasDebt
		}
		loss = new(big.Int).Set(acct.CurrentDebt)
		totals, err := e.loadTotals()
		if err != nil {
			return err
		}
		totals.TotalDebt = new(big.Int).Sub(totals.TotalDebt, loss)
		if totals.TotalDebt.Sign() < 0 {
			totals.TotalDebt.SetInt64(0)
		}
		if err := e.state.PutTotals(totals); err != nil {
			return err
		}
	}

	id := crypto.StrategyID(strategy)
	queue, err := e.state.Queue()
	if err != nil {
		return err
	}
	filtered := queue[:0]
	for _, entry := range queue {
		if entry != id {
			filtered = append(filtered, entry)
		}
	}
	if err := e.state.PutQueue(filtered); err != nil {
		return err
	}
	if err := e.state.DeleteStrategy(id); err != nil {
		return err
	}

	e.emitter.Emit(newStrategyRevokedEvent(strategy, loss))
	return nil
}

// UpdateMaxDebt sets the allocation cap for a strategy.
func (e *Engine) UpdateMaxDebt(strategy crypto.Address, maxDebt *big.Int) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if e.state == nil {
		return errNilState
	}
	if maxDebt == nil || maxDebt.Sign() < 0 {
		return errInvalidAmount
	}
	acct, err := e.loadStrategy(strategy)
	if err != nil {
		return err
	}
	acct.MaxDebt = new(big.Int).Set(maxDebt)
	return e.state.PutStrategy(crypto.StrategyID(strategy), acct)
}

// SetWithdrawQueue replaces the ordered withdrawal queue. Entries must be
// active strategies, unique, and within the queue bound.
func (e *Engine) SetWithdrawQueue(strategies []crypto.Address) error {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.exit()
	if e.state == nil {
		return errNilState
	}
	if len(strategies) > e.maxQueue {
		return errQueueTooLong
	}
	seen := make(map[[32]byte]struct{}, len(strategies))
	queue := make([][32]byte, 0, len(strategies))
	for _, addr := range strategies {
		if _, err := e.loadStrategy(addr); err != nil {
			return err
		}
		id := crypto.StrategyID(addr)
		if _, dup := seen[id]; dup {
			return errQueueDuplicate
		}
		seen[id] = struct{}{}
		queue = append(queue, id)
	}
	return e.state.PutQueue(queue)
}

// --- Debt allocation ---

// UpdateDebt moves assets between vault idle and a strategy until the
// strategy's debt reaches targetDebt, clamped by max debt, the idle floor and
// the strategy's own deposit/withdraw limits. Returns the strategy's new
// debt.
func (e *Engine) UpdateDebt(strategy crypto.Address, targetDebt *big.Int, maxLossBps uint64) (*big.Int, error) {
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
	if targetDebt == nil || targetDebt.Sign() < 0 {
		return nil, errInvalidAmount
	}

	acct, err := e.loadStrategy(strategy)
	if err != nil {
		return nil, err
	}
	source, err := e.source(strategy)
	if err != nil {
		return nil, err
	}
	totals, err := e.loadTotals()
	if err != nil {
		return nil, err
	}
	e.workingTotals = totals

	target := new(big.Int).Set(targetDebt)
	if target.Cmp(acct.MaxDebt) > 0 {
		target = new(big.Int).Set(acct.MaxDebt)
	}
	if e.shutdown && target.Cmp(acct.CurrentDebt) > 0 {
		target = new(big.Int).Set(acct.CurrentDebt)
	}
	if target.Cmp(acct.CurrentDebt) == 0 {
		return nil, ErrNewDebtEqualsCurrentDebt
	}

	previous := new(big.Int).Set(acct.CurrentDebt)

	if target.Cmp(acct.CurrentDebt) < 0 {
		if err := e.decreaseDebt(acct, source, totals, target, maxLossBps); err != nil {
			return nil, err
		}
	} else {
		if err := e.increaseDebt(acct, source, totals, target); err != nil {
			return nil, err
		}
	}

	if err := e.state.PutStrategy(crypto.StrategyID(strategy), acct); err != nil {
		return nil, err
	}
	if err := e.state.PutTotals(totals); err != nil {
		return nil, err
	}

	e.emitter.Emit(newDebtUpdatedEvent(strategy, previous, acct.CurrentDebt))
	return new(big.Int).Set(acct.CurrentDebt), nil
}

func (e *Engine) decreaseDebt(acct *StrategyAccount, source StrategySource, totals *Totals, target *big.Int, maxLossBps uint64) error {
	toWithdraw := new(big.Int).Sub(acct.CurrentDebt, target)

	// Pull extra when idle has fallen under the configured floor.
	if totals.TotalIdle.Cmp(e.minimumTotalIdle) < 0 {
		shortage := new(big.Int).Sub(e.minimumTotalIdle, totals.TotalIdle)
		if shortage.Cmp(toWithdraw) > 0 {
			toWithdraw = shortage
		}
		if toWithdraw.Cmp(acct.CurrentDebt) > 0 {
			toWithdraw = new(big.Int).Set(acct.CurrentDebt)
		}
	}

	maxWithdraw, err := source.MaxWithdraw(e.vaultAddr)
	if err != nil {
		return err
	}
	if maxWithdraw != nil {
		toWithdraw = fixedpoint.Min(toWithdraw, maxWithdraw)
	}
	if toWithdraw.Sign() == 0 {
		return errNothingToMove
	}

	tolerance, err := fixedpoint.Bps(toWithdraw, maxLossBps)
	if err != nil {
		return err
	}

	// Gate on the unrealized loss before any funds move. Once FreeFunds has
	// run the source's writes are committed and cannot be unwound.
	expectedLoss, err := e.assessLoss(acct, source, toWithdraw)
	if err != nil {
		return err
	}
	if expectedLoss.Cmp(tolerance) > 0 {
		return ErrTooMuchLoss
	}

	freed, err := source.FreeFunds(toWithdraw)
	if err != nil {
		return err
	}
	if freed == nil {
		freed = big.NewInt(0)
	}
	if freed.Cmp(toWithdraw) > 0 {
		freed = new(big.Int).Set(toWithdraw)
	}

	totals.TotalIdle = new(big.Int).Add(totals.TotalIdle, freed)
	totals.TotalDebt = new(big.Int).Sub(totals.TotalDebt, freed)
	acct.CurrentDebt = new(big.Int).Sub(acct.CurrentDebt, freed)

	// A shortfall realized while freeing still aborts the rebalance, but the
	// freed assets are already in the vault account: their accounting lands
	// before the error surfaces, leaving the shortfall as remaining debt for
	// the next report to reconcile.
	shortfall := new(big.Int).Sub(toWithdraw, freed)
	if shortfall.Cmp(tolerance) > 0 {
		if perr := e.state.PutStrategy(crypto.StrategyID(acct.Address), acct); perr != nil {
			return perr
		}
		if perr := e.state.PutTotals(totals); perr != nil {
			return perr
		}
		return ErrTooMuchLoss
	}
	return nil
}

func (e *Engine) increaseDebt(acct *StrategyAccount, source StrategySource, totals *Totals, target *big.Int) error {
	increase := new(big.Int).Sub(target, acct.CurrentDebt)

	available := new(big.Int).Sub(totals.TotalIdle, e.minimumTotalIdle)
	if available.Sign() <= 0 {
		return errNothingToMove
	}
	if increase.Cmp(available) > 0 {
		increase = available
	}

	maxDeposit, err := source.MaxDeposit(e.vaultAddr)
	if err != nil {
		return err
	}
	if maxDeposit != nil {
		increase = fixedpoint.Min(increase, maxDeposit)
	}
	if increase.Sign() == 0 {
		return errNothingToMove
	}

	if err := source.DeployFunds(increase); err != nil {
		return err
	}

	totals.TotalIdle = new(big.Int).Sub(totals.TotalIdle, increase)
	totals.TotalDebt = new(big.Int).Add(totals.TotalDebt, increase)
	acct.CurrentDebt = new(big.Int).Add(acct.CurrentDebt, increase)
	return nil
}

// --- Reporting ---

// ProcessReport reconciles a strategy's live reported value against its
// recorded debt. Gains mint locked shares to the vault itself and enter the
// unlock schedule; losses burn locked shares first and reduce recorded debt.
// Returns (gain, loss).
func (e *Engine) ProcessReport(strategy crypto.Address) (*big.Int, *big.Int, error) {
	if err := e.enter(); err != nil {
		return nil, nil, err
	}
	defer e.exit()
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, nil, err
	}
	if e.state == nil {
		return nil, nil, errNilState
	}

	acct, err := e.loadStrategy(strategy)
	if err != nil {
		return nil, nil, err
	}
	source, err := e.source(strategy)
	if err != nil {
		return nil, nil, err
	}
	value, err := source.ReportValue()
	if err != nil {
		return nil, nil, err
	}
	if value == nil {
		value = big.NewInt(0)
	}

	totals, err := e.loadTotals()
	if err != nil {
		return nil, nil, err
	}
	e.workingTotals = totals

	now := e.nowFn()
	if err := e.settleUnlock(now); err != nil {
		return nil, nil, err
	}

	gain := big.NewInt(0)
	loss := big.NewInt(0)

	switch cmp := value.Cmp(acct.CurrentDebt); {
	case cmp > 0:
		gain = new(big.Int).Sub(value, acct.CurrentDebt)
		// Price the locked shares before the gain moves the totals.
		locked, err := e.ledger.ConvertToShares(gain, fixedpoint.RoundDown)
		if err != nil {
			return nil, nil, err
		}
		totals.TotalDebt = new(big.Int).Add(totals.TotalDebt, gain)
		acct.CurrentDebt = new(big.Int).Add(acct.CurrentDebt, gain)
		if e.schedule.MaxUnlockTime > 0 && locked.Sign() > 0 {
			if err := e.ledger.Mint(e.vaultAddr, locked); err != nil {
				return nil, nil, err
			}
			if _, err := e.schedule.LockProfit(locked, now); err != nil {
				return nil, nil, err
			}
		}
	case cmp < 0:
		loss = new(big.Int).Sub(acct.CurrentDebt, value)
		// Locked profit shares absorb the loss before depositors do.
		toBurn, err := e.ledger.ConvertToShares(loss, fixedpoint.RoundDown)
		if err != nil {
			return nil, nil, err
		}
		held := e.ledger.BalanceOf(e.vaultAddr)
		toBurn = fixedpoint.Min(toBurn, held)
		if toBurn.Sign() > 0 {
			if err := e.ledger.Burn(e.vaultAddr, toBurn); err != nil {
				return nil, nil, err
			}
			e.schedule.BurnLocked(toBurn)
		}
		totals.TotalDebt = new(big.Int).Sub(totals.TotalDebt, loss)
		acct.CurrentDebt = new(big.Int).Sub(acct.CurrentDebt, loss)
	}

	acct.LastReport = now
	if err := e.state.PutStrategy(crypto.StrategyID(strategy), acct); err != nil {
		return nil, nil, err
	}
	if err := e.state.PutTotals(totals); err != nil {
		return nil, nil, err
	}
	if err := e.persistShares(); err != nil {
		return nil, nil, err
	}

	e.emitter.Emit(newReportedEvent(strategy, gain, loss, now))
	return gain, loss, nil
}
