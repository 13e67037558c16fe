package storage

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"dragonvault/core/types"
	"dragonvault/crypto"
	"dragonvault/native/shares"
	"dragonvault/native/unlock"
	"dragonvault/native/vault"
)

var (
	queueKey     = []byte("vault/queue")
	totalsKey    = []byte("vault/totals")
	unlockKey    = []byte("vault/unlock")
	bookKey      = []byte("strategy/book")
	vaultAddrKey = []byte("vault/address")
)

func strategyKey(id [32]byte) []byte {
	return append([]byte("vault/strategy/"), id[:]...)
}

func ledgerKey(module string) []byte {
	return append([]byte(module), []byte("/ledger")...)
}

func accountKey(addr crypto.Address) []byte {
	return append([]byte("account/"), []byte(addr.String())...)
}

// RLP cannot carry signed integers, so unix seconds travel as uint64.
type strategyRecord struct {
	Address     string
	Status      uint8
	Activation  uint64
	LastReport  uint64
	CurrentDebt *big.Int
	MaxDebt     *big.Int
}

type totalsRecord struct {
	TotalIdle *big.Int
	TotalDebt *big.Int
}

type queueRecord struct {
	Members [][]byte
}

type accountRecord struct {
	Nonce        uint64
	BalanceAsset *big.Int
}

type balanceRecord struct {
	Holder []byte
	Amount *big.Int
}

type allowanceRecord struct {
	Owner   []byte
	Spender []byte
	Amount  *big.Int
}

type ledgerRecord struct {
	TotalSupply *big.Int
	TotalAssets *big.Int
	Balances    []balanceRecord
	Allowances  []allowanceRecord
}

type unlockRecord struct {
	LockedShares   *big.Int
	FullUnlockDate uint64
	LastUpdate     uint64
}

type bookRecord struct {
	UserDebtValue   *big.Int
	DragonDebtValue *big.Int
	LastRate        *big.Int
	LastReport      uint64
}

// StateStore persists the vault ledger to a key-value database, encoding
// each record with RLP. It satisfies the persistence interfaces of the vault
// and strategy engines: strategy accounts, the withdrawal queue, the
// idle/debt totals, asset account balances, per-module share ledgers, the
// profit unlock schedule and the strategy report book.
type StateStore struct {
	db Database
}

// NewStateStore wraps a database. The caller retains ownership of db and is
// responsible for closing it.
func NewStateStore(db Database) *StateStore {
	return &StateStore{db: db}
}

func (s *StateStore) get(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("storage: decode %q: %w", key, err)
	}
	return true, nil
}

func (s *StateStore) put(key []byte, in interface{}) error {
	raw, err := rlp.EncodeToBytes(in)
	if err != nil {
		return fmt.Errorf("storage: encode %q: %w", key, err)
	}
	return s.db.Put(key, raw)
}

// GetStrategy loads a strategy account by id. Missing entries return nil
// without error.
func (s *StateStore) GetStrategy(id [32]byte) (*vault.StrategyAccount, error) {
	var rec strategyRecord
	ok, err := s.get(strategyKey(id), &rec)
	if err != nil || !ok {
		return nil, err
	}
	addr, err := crypto.DecodeAddress(rec.Address)
	if err != nil {
		return nil, fmt.Errorf("storage: strategy address: %w", err)
	}
	acct := &vault.StrategyAccount{
		Address:     addr,
		Status:      vault.StrategyStatus(rec.Status),
		Activation:  int64(rec.Activation),
		LastReport:  int64(rec.LastReport),
		CurrentDebt: rec.CurrentDebt,
		MaxDebt:     rec.MaxDebt,
	}
	if acct.CurrentDebt == nil {
		acct.CurrentDebt = big.NewInt(0)
	}
	if acct.MaxDebt == nil {
		acct.MaxDebt = big.NewInt(0)
	}
	return acct, nil
}

// PutStrategy stores a strategy account under its id.
func (s *StateStore) PutStrategy(id [32]byte, acct *vault.StrategyAccount) error {
	if acct == nil {
		return errors.New("storage: nil strategy account")
	}
	rec := strategyRecord{
		Address:     acct.Address.String(),
		Status:      uint8(acct.Status),
		Activation:  uint64(acct.Activation),
		LastReport:  uint64(acct.LastReport),
		CurrentDebt: acct.CurrentDebt,
		MaxDebt:     acct.MaxDebt,
	}
	if rec.CurrentDebt == nil {
		rec.CurrentDebt = big.NewInt(0)
	}
	if rec.MaxDebt == nil {
		rec.MaxDebt = big.NewInt(0)
	}
	return s.put(strategyKey(id), &rec)
}

// DeleteStrategy removes a strategy account.
func (s *StateStore) DeleteStrategy(id [32]byte) error {
	return s.db.Delete(strategyKey(id))
}

// Queue loads the withdrawal queue. A missing queue is empty.
func (s *StateStore) Queue() ([][32]byte, error) {
	var rec queueRecord
	ok, err := s.get(queueKey, &rec)
	if err != nil || !ok {
		return nil, err
	}
	queue := make([][32]byte, 0, len(rec.Members))
	for _, raw := range rec.Members {
		if len(raw) != 32 {
			return nil, fmt.Errorf("storage: queue member length %d", len(raw))
		}
		var id [32]byte
		copy(id[:], raw)
		queue = append(queue, id)
	}
	return queue, nil
}

// PutQueue stores the withdrawal queue order.
func (s *StateStore) PutQueue(queue [][32]byte) error {
	rec := queueRecord{Members: make([][]byte, 0, len(queue))}
	for _, id := range queue {
		member := make([]byte, 32)
		copy(member, id[:])
		rec.Members = append(rec.Members, member)
	}
	return s.put(queueKey, &rec)
}

// Totals loads the idle/debt split. Missing totals return nil without error.
func (s *StateStore) Totals() (*vault.Totals, error) {
	var rec totalsRecord
	ok, err := s.get(totalsKey, &rec)
	if err != nil || !ok {
		return nil, err
	}
	totals := &vault.Totals{TotalIdle: rec.TotalIdle, TotalDebt: rec.TotalDebt}
	if totals.TotalIdle == nil {
		totals.TotalIdle = big.NewInt(0)
	}
	if totals.TotalDebt == nil {
		totals.TotalDebt = big.NewInt(0)
	}
	return totals, nil
}

// PutTotals stores the idle/debt split. Both legs persist together so the
// total-assets invariant survives restarts.
func (s *StateStore) PutTotals(totals *vault.Totals) error {
	if totals == nil {
		return errors.New("storage: nil totals")
	}
	rec := totalsRecord{TotalIdle: totals.TotalIdle, TotalDebt: totals.TotalDebt}
	if rec.TotalIdle == nil {
		rec.TotalIdle = big.NewInt(0)
	}
	if rec.TotalDebt == nil {
		rec.TotalDebt = big.NewInt(0)
	}
	return s.put(totalsKey, &rec)
}

// GetAccount loads an asset account. Missing accounts return nil without
// error.
func (s *StateStore) GetAccount(addr crypto.Address) (*types.Account, error) {
	var rec accountRecord
	ok, err := s.get(accountKey(addr), &rec)
	if err != nil || !ok {
		return nil, err
	}
	account := &types.Account{Nonce: rec.Nonce, BalanceAsset: rec.BalanceAsset}
	account.Normalize()
	return account, nil
}

// PutAccount stores an asset account.
func (s *StateStore) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return errors.New("storage: nil account")
	}
	rec := accountRecord{Nonce: account.Nonce, BalanceAsset: account.BalanceAsset}
	if rec.BalanceAsset == nil {
		rec.BalanceAsset = big.NewInt(0)
	}
	return s.put(accountKey(addr), &rec)
}

// LedgerSnapshot loads the share ledger persisted under the given module
// namespace. A missing ledger returns nil without error.
func (s *StateStore) LedgerSnapshot(module string) (*shares.Snapshot, error) {
	var rec ledgerRecord
	ok, err := s.get(ledgerKey(module), &rec)
	if err != nil || !ok {
		return nil, err
	}
	snap := &shares.Snapshot{
		TotalSupply: rec.TotalSupply,
		TotalAssets: rec.TotalAssets,
	}
	if snap.TotalSupply == nil {
		snap.TotalSupply = big.NewInt(0)
	}
	if snap.TotalAssets == nil {
		snap.TotalAssets = big.NewInt(0)
	}
	for _, bal := range rec.Balances {
		snap.Balances = append(snap.Balances, shares.Balance{
			Holder: bal.Holder,
			Amount: bal.Amount,
		})
	}
	for _, grant := range rec.Allowances {
		snap.Allowances = append(snap.Allowances, shares.Grant{
			Owner:   grant.Owner,
			Spender: grant.Spender,
			Amount:  grant.Amount,
		})
	}
	return snap, nil
}

// PutLedgerSnapshot stores a share ledger under the given module namespace.
// Snapshots arrive sorted, so the encoded bytes are deterministic.
func (s *StateStore) PutLedgerSnapshot(module string, snap *shares.Snapshot) error {
	if snap == nil {
		return errors.New("storage: nil ledger snapshot")
	}
	rec := ledgerRecord{TotalSupply: snap.TotalSupply, TotalAssets: snap.TotalAssets}
	if rec.TotalSupply == nil {
		rec.TotalSupply = big.NewInt(0)
	}
	if rec.TotalAssets == nil {
		rec.TotalAssets = big.NewInt(0)
	}
	for _, bal := range snap.Balances {
		rec.Balances = append(rec.Balances, balanceRecord{Holder: bal.Holder, Amount: bal.Amount})
	}
	for _, grant := range snap.Allowances {
		rec.Allowances = append(rec.Allowances, allowanceRecord{
			Owner:   grant.Owner,
			Spender: grant.Spender,
			Amount:  grant.Amount,
		})
	}
	return s.put(ledgerKey(module), &rec)
}

// UnlockState loads the persisted profit unlock progress. A missing schedule
// returns nil without error.
func (s *StateStore) UnlockState() (*unlock.Schedule, error) {
	var rec unlockRecord
	ok, err := s.get(unlockKey, &rec)
	if err != nil || !ok {
		return nil, err
	}
	schedule := &unlock.Schedule{
		LockedShares:   rec.LockedShares,
		FullUnlockDate: int64(rec.FullUnlockDate),
		LastUpdate:     int64(rec.LastUpdate),
	}
	if schedule.LockedShares == nil {
		schedule.LockedShares = big.NewInt(0)
	}
	return schedule, nil
}

// PutUnlockState stores the profit unlock progress. The configured window is
// engine configuration, not state, and is not persisted.
func (s *StateStore) PutUnlockState(schedule *unlock.Schedule) error {
	if schedule == nil {
		return errors.New("storage: nil unlock schedule")
	}
	rec := unlockRecord{
		LockedShares:   schedule.LockedShares,
		FullUnlockDate: uint64(schedule.FullUnlockDate),
		LastUpdate:     uint64(schedule.LastUpdate),
	}
	if rec.LockedShares == nil {
		rec.LockedShares = big.NewInt(0)
	}
	return s.put(unlockKey, &rec)
}

// StrategyBook loads the persisted strategy report state. A missing book
// returns nil without error.
func (s *StateStore) StrategyBook() (*types.StrategyBook, error) {
	var rec bookRecord
	ok, err := s.get(bookKey, &rec)
	if err != nil || !ok {
		return nil, err
	}
	book := &types.StrategyBook{
		UserDebtValue:   rec.UserDebtValue,
		DragonDebtValue: rec.DragonDebtValue,
		LastRate:        rec.LastRate,
		LastReport:      int64(rec.LastReport),
	}
	book.Normalize()
	return book, nil
}

// PutStrategyBook stores the strategy report state.
func (s *StateStore) PutStrategyBook(book *types.StrategyBook) error {
	if book == nil {
		return errors.New("storage: nil strategy book")
	}
	rec := bookRecord{
		UserDebtValue:   book.UserDebtValue,
		DragonDebtValue: book.DragonDebtValue,
		LastRate:        book.LastRate,
		LastReport:      uint64(book.LastReport),
	}
	if rec.UserDebtValue == nil {
		rec.UserDebtValue = big.NewInt(0)
	}
	if rec.DragonDebtValue == nil {
		rec.DragonDebtValue = big.NewInt(0)
	}
	if rec.LastRate == nil {
		rec.LastRate = big.NewInt(0)
	}
	return s.put(bookKey, &rec)
}

// VaultAddress loads the persisted vault account address. Returns false when
// no address has been stored yet.
func (s *StateStore) VaultAddress() (crypto.Address, bool, error) {
	raw, err := s.db.Get(vaultAddrKey)
	if errors.Is(err, ErrKeyNotFound) {
		return crypto.Address{}, false, nil
	}
	if err != nil {
		return crypto.Address{}, false, err
	}
	addr, err := crypto.DecodeAddress(string(raw))
	if err != nil {
		return crypto.Address{}, false, fmt.Errorf("storage: vault address: %w", err)
	}
	return addr, true, nil
}

// PutVaultAddress stores the vault account address so restarts reuse the
// same identity.
func (s *StateStore) PutVaultAddress(addr crypto.Address) error {
	return s.db.Put(vaultAddrKey, []byte(addr.String()))
}
