package unlock

import (
	"math/big"
	"testing"
)

func TestLockProfitStartsSchedule(t *testing.T) {
	s := NewSchedule(1000)
	released, err := s.LockProfit(big.NewInt(500), 100)
	if err != nil {
		t.Fatalf("lock profit: %v", err)
	}
	if released.Sign() != 0 {
		t.Fatalf("unexpected release on fresh schedule: %s", released)
	}
	if s.FullUnlockDate != 1100 {
		t.Fatalf("unexpected full unlock date: %d", s.FullUnlockDate)
	}
	if s.LockedShares.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("unexpected locked shares: %s", s.LockedShares)
	}
}

func TestUnlockMonotonicAndExactAtDeadline(t *testing.T) {
	s := NewSchedule(1000)
	if _, err := s.LockProfit(big.NewInt(777), 0); err != nil {
		t.Fatalf("lock profit: %v", err)
	}

	prev := big.NewInt(-1)
	for now := int64(0); now <= 1000; now += 50 {
		got := s.UnlockedShares(now)
		if got.Cmp(prev) < 0 {
			t.Fatalf("unlocked shares decreased at t=%d: %s < %s", now, got, prev)
		}
		prev = got
	}
	if prev.Cmp(big.NewInt(777)) != 0 {
		t.Fatalf("full unlock mismatch: got %s want 777", prev)
	}
	if got := s.UnlockedShares(5000); got.Cmp(big.NewInt(777)) != 0 {
		t.Fatalf("post-deadline unlock mismatch: %s", got)
	}
}

func TestSettleDrainsLockedPool(t *testing.T) {
	s := NewSchedule(100)
	if _, err := s.LockProfit(big.NewInt(100), 0); err != nil {
		t.Fatalf("lock profit: %v", err)
	}

	released := s.Settle(40)
	if released.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected release: got %s want 40", released)
	}
	if s.LockedShares.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("unexpected locked remainder: %s", s.LockedShares)
	}

	released = s.Settle(100)
	if released.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("unexpected final release: got %s want 60", released)
	}
	if s.Active() {
		t.Fatalf("schedule still active after full unlock")
	}
}

func TestLockProfitBlendsRemainingValue(t *testing.T) {
	s := NewSchedule(1000)
	if _, err := s.LockProfit(big.NewInt(400), 0); err != nil {
		t.Fatalf("lock profit: %v", err)
	}

	// Half way through, 200 shares remain locked over 500s. Fresh profit of
	// 200 carries the full window, so the blended period is
	// (200*500 + 200*1000) / 400 = 750.
	released, err := s.LockProfit(big.NewInt(200), 500)
	if err != nil {
		t.Fatalf("lock profit: %v", err)
	}
	if released.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("unexpected settlement release: %s", released)
	}
	if s.LockedShares.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("unexpected locked shares: %s", s.LockedShares)
	}
	if s.FullUnlockDate != 1250 {
		t.Fatalf("unexpected blended unlock date: %d", s.FullUnlockDate)
	}
}

func TestZeroWindowDisablesLocking(t *testing.T) {
	s := NewSchedule(0)
	released, err := s.LockProfit(big.NewInt(999), 50)
	if err != nil {
		t.Fatalf("lock profit: %v", err)
	}
	if released.Sign() != 0 {
		t.Fatalf("unexpected release: %s", released)
	}
	if s.Active() {
		t.Fatalf("zero-window schedule must never hold locked shares")
	}
}

func TestLockProfitRejectsNegative(t *testing.T) {
	s := NewSchedule(10)
	if _, err := s.LockProfit(big.NewInt(-1), 0); err == nil {
		t.Fatalf("expected error for negative shares")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewSchedule(100)
	if _, err := s.LockProfit(big.NewInt(10), 0); err != nil {
		t.Fatalf("lock profit: %v", err)
	}
	c := s.Clone()
	c.LockedShares.SetInt64(0)
	if s.LockedShares.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("clone aliased locked shares")
	}
}
