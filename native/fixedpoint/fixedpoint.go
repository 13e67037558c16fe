package fixedpoint

import (
	"errors"
	"math/big"
)

// Rounding selects the direction applied when a quotient is inexact.
type Rounding int

const (
	// RoundDown truncates toward zero. Used for conversions that could
	// otherwise benefit the caller.
	RoundDown Rounding = iota
	// RoundUp rounds away from zero. Used for conversions that could
	// otherwise benefit the ledger's counterparty.
	RoundUp
)

var (
	// Wad is the 18-fractional-digit fixed-point scale shared by every
	// conversion in the accounting engines.
	Wad = mustBigInt("1000000000000000000")

	// BasisPoints is the denominator for bps-expressed ratios.
	BasisPoints = big.NewInt(10_000)

	ErrDivisionByZero = errors.New("fixedpoint: division by zero")
	ErrNegativeInput  = errors.New("fixedpoint: negative input")
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// MulDiv computes a*b/denom over non-negative inputs without intermediate
// overflow, applying the requested rounding to an inexact quotient. The
// result is freshly allocated; inputs are never mutated.
func MulDiv(a, b, denom *big.Int, rounding Rounding) (*big.Int, error) {
	if a == nil || b == nil || denom == nil {
		return nil, ErrDivisionByZero
	}
	if a.Sign() < 0 || b.Sign() < 0 || denom.Sign() < 0 {
		return nil, ErrNegativeInput
	}
	if denom.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	product := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(product, denom, new(big.Int))
	if rounding == RoundUp && rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	return quo, nil
}

// MulWad returns a*b/1e18 rounded down.
func MulWad(a, b *big.Int) (*big.Int, error) {
	return MulDiv(a, b, Wad, RoundDown)
}

// DivWad returns a*1e18/b with the requested rounding.
func DivWad(a, b *big.Int, rounding Rounding) (*big.Int, error) {
	return MulDiv(a, Wad, b, rounding)
}

// Bps returns amount*bps/10_000 rounded down.
func Bps(amount *big.Int, bps uint64) (*big.Int, error) {
	return MulDiv(amount, new(big.Int).SetUint64(bps), BasisPoints, RoundDown)
}

// Min returns a fresh copy of the smaller of a and b.
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}
