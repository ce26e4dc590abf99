// Package fixedpoint provides the overflow-aware integer helpers shared by
// pricing, payout and the arena handlers. Nothing in here uses floating point.
//
// Two accumulation policies exist. Checked arithmetic fails with ErrOverflow
// and is used wherever an under-reported value would lose money (pots, ticket
// counts, bucket math). Saturating arithmetic clamps at the type's ceiling and
// is used only for audit counters that must never block an operation.
package fixedpoint

import (
	"errors"
	"math"
	"math/bits"
)

var (
	ErrOverflow     = errors.New("arithmetic overflow")
	ErrDivideByZero = errors.New("invalid divisor")
)

// Policy selects how a counter reacts to overflow.
type Policy uint8

const (
	Checked Policy = iota
	Saturating
)

func (p Policy) String() string {
	if p == Saturating {
		return "saturating"
	}
	return "checked"
}

// Add32 adds under the policy.
func (p Policy) Add32(a, b uint32) (uint32, error) {
	if p == Saturating {
		return SaturatingAdd32(a, b), nil
	}
	return Add32(a, b)
}

// Add64 adds under the policy.
func (p Policy) Add64(a, b uint64) (uint64, error) {
	if p == Saturating {
		return SaturatingAdd64(a, b), nil
	}
	return Add64(a, b)
}

// Add128 adds under the policy.
func (p Policy) Add128(a, b U128) (U128, error) {
	if p == Saturating {
		return a.SaturatingAdd(b), nil
	}
	return a.Add(b)
}

func Add32(a, b uint32) (uint32, error) {
	if a > math.MaxUint32-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

func Add64(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

func Sub64(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}

func Mul64(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

func SaturatingAdd32(a, b uint32) uint32 {
	if a > math.MaxUint32-b {
		return math.MaxUint32
	}
	return a + b
}

func SaturatingAdd64(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// SaturatingSub64 returns a-b, or 0 when b > a.
func SaturatingSub64(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// CeilDiv64 returns ceil(n/d) without the n+d-1 overflow.
func CeilDiv64(n, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrDivideByZero
	}
	q := n / d
	if n%d != 0 {
		q++
	}
	return q, nil
}

// MulDiv64 computes floor(a*b/c) with a 128-bit intermediate. The quotient
// must fit in 64 bits.
func MulDiv64(a, b, c uint64) (uint64, error) {
	if c == 0 {
		return 0, ErrDivideByZero
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= c {
		return 0, ErrOverflow
	}
	quo, _ := bits.Div64(hi, lo, c)
	return quo, nil
}

// Percent returns floor(amount*pct/100).
func Percent(amount, pct uint64) (uint64, error) {
	return MulDiv64(amount, pct, 100)
}

// CeilPercent returns ceil(n*pct/100).
func CeilPercent(n, pct uint64) (uint64, error) {
	prod, err := Mul64(n, pct)
	if err != nil {
		return 0, err
	}
	return CeilDiv64(prod, 100)
}
