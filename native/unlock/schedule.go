package unlock

import (
	"errors"
	"math/big"
)

var errInvalidShares = errors.New("unlock schedule: shares must be non-negative")

// Schedule tracks shares minted from recognized profit that have not yet been
// released into the externally visible supply. Releasing them over a window
// turns a profit report into a gradual price-per-share climb instead of an
// instantaneous jump.
type Schedule struct {
	// LockedShares is the share amount still locked as of LastUpdate.
	LockedShares *big.Int
	// FullUnlockDate is the unix second at which LockedShares reaches zero
	// absent new profit.
	FullUnlockDate int64
	// LastUpdate is the unix second of the last settlement.
	LastUpdate int64
	// MaxUnlockTime is the configured window, in seconds, over which fresh
	// profit unlocks. Zero disables locking entirely.
	MaxUnlockTime int64
}

// NewSchedule returns an empty schedule with the given unlock window.
func NewSchedule(maxUnlockTime int64) *Schedule {
	return &Schedule{
		LockedShares:  big.NewInt(0),
		MaxUnlockTime: maxUnlockTime,
	}
}

// Restore copies the persisted progress fields from other, leaving the
// configured window untouched.
func (s *Schedule) Restore(other *Schedule) {
	if other == nil {
		return
	}
	s.LockedShares = big.NewInt(0)
	if other.LockedShares != nil {
		s.LockedShares = new(big.Int).Set(other.LockedShares)
	}
	s.FullUnlockDate = other.FullUnlockDate
	s.LastUpdate = other.LastUpdate
}

// Clone returns a deep copy of the schedule.
func (s *Schedule) Clone() *Schedule {
	if s == nil {
		return nil
	}
	clone := &Schedule{
		FullUnlockDate: s.FullUnlockDate,
		LastUpdate:     s.LastUpdate,
		MaxUnlockTime:  s.MaxUnlockTime,
		LockedShares:   big.NewInt(0),
	}
	if s.LockedShares != nil {
		clone.LockedShares = new(big.Int).Set(s.LockedShares)
	}
	return clone
}

func (s *Schedule) locked() *big.Int {
	if s.LockedShares == nil {
		s.LockedShares = big.NewInt(0)
	}
	return s.LockedShares
}

// UnlockedShares reports how many of the locked shares have been released
// between LastUpdate and now, without mutating the schedule.
func (s *Schedule) UnlockedShares(now int64) *big.Int {
	if s == nil || s.locked().Sign() == 0 {
		return big.NewInt(0)
	}
	if now >= s.FullUnlockDate {
		return new(big.Int).Set(s.locked())
	}
	if now <= s.LastUpdate {
		return big.NewInt(0)
	}
	elapsed := big.NewInt(now - s.LastUpdate)
	remaining := big.NewInt(s.FullUnlockDate - s.LastUpdate)
	released := new(big.Int).Mul(s.locked(), elapsed)
	return released.Quo(released, remaining)
}

// Settle moves the schedule forward to now and returns the share amount that
// unlocked since the previous settlement. Callers burn the returned shares
// from the locked pool.
func (s *Schedule) Settle(now int64) *big.Int {
	released := s.UnlockedShares(now)
	if released.Sign() > 0 {
		s.LockedShares = new(big.Int).Sub(s.locked(), released)
	}
	if now > s.LastUpdate {
		s.LastUpdate = now
	}
	if now >= s.FullUnlockDate {
		s.FullUnlockDate = 0
	}
	return released
}

// LockProfit settles the schedule at now, then folds freshly minted profit
// shares into it. An already-active schedule is extended proportionally to
// the value still locked: the new horizon is the locked-amount-weighted
// average of the remaining period and the full window. Returns the shares
// that unlocked during settlement.
//
// When MaxUnlockTime is zero no locking occurs: the caller should treat the
// profit as released immediately and mint nothing into the locked pool.
func (s *Schedule) LockProfit(shares *big.Int, now int64) (*big.Int, error) {
	if shares == nil || shares.Sign() < 0 {
		return nil, errInvalidShares
	}
	released := s.Settle(now)
	if s.MaxUnlockTime == 0 || shares.Sign() == 0 {
		return released, nil
	}

	remaining := s.FullUnlockDate - now
	if remaining < 0 || s.locked().Sign() == 0 {
		remaining = 0
	}

	total := new(big.Int).Add(s.locked(), shares)
	weighted := new(big.Int).Mul(s.locked(), big.NewInt(remaining))
	fresh := new(big.Int).Mul(shares, big.NewInt(s.MaxUnlockTime))
	weighted.Add(weighted, fresh)
	period := weighted.Quo(weighted, total)

	s.LockedShares = total
	s.LastUpdate = now
	s.FullUnlockDate = now + period.Int64()
	return released, nil
}

// BurnLocked removes up to shares from the locked pool without releasing
// them, clamping at the locked amount. Reports use it when locked profit
// shares are burned to absorb a loss. Returns the amount actually removed.
func (s *Schedule) BurnLocked(shares *big.Int) *big.Int {
	if s == nil || shares == nil || shares.Sign() <= 0 {
		return big.NewInt(0)
	}
	burned := new(big.Int).Set(shares)
	if burned.Cmp(s.locked()) > 0 {
		burned.Set(s.locked())
	}
	s.LockedShares = new(big.Int).Sub(s.locked(), burned)
	if s.LockedShares.Sign() == 0 {
		s.FullUnlockDate = 0
	}
	return burned
}

// Active reports whether any shares remain locked.
func (s *Schedule) Active() bool {
	return s != nil && s.locked().Sign() > 0
}
