package fixedpoint

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"math/bits"
)

// U128 is an unsigned 128-bit integer. It serialises to JSON as a decimal
// string so clients in any language can read it without precision loss.
type U128 struct {
	Hi uint64
	Lo uint64
}

// MaxU128 is 2^128-1.
var MaxU128 = U128{Hi: math.MaxUint64, Lo: math.MaxUint64}

func From64(v uint64) U128 { return U128{Lo: v} }

func (u U128) IsZero() bool { return u.Hi == 0 && u.Lo == 0 }

// Cmp returns -1, 0 or +1.
func (u U128) Cmp(v U128) int {
	switch {
	case u.Hi < v.Hi:
		return -1
	case u.Hi > v.Hi:
		return 1
	case u.Lo < v.Lo:
		return -1
	case u.Lo > v.Lo:
		return 1
	}
	return 0
}

func (u U128) Add(v U128) (U128, error) {
	lo, carry := bits.Add64(u.Lo, v.Lo, 0)
	hi, carry := bits.Add64(u.Hi, v.Hi, carry)
	if carry != 0 {
		return U128{}, ErrOverflow
	}
	return U128{Hi: hi, Lo: lo}, nil
}

func (u U128) SaturatingAdd(v U128) U128 {
	sum, err := u.Add(v)
	if err != nil {
		return MaxU128
	}
	return sum
}

func (u U128) Sub(v U128) (U128, error) {
	lo, borrow := bits.Sub64(u.Lo, v.Lo, 0)
	hi, borrow := bits.Sub64(u.Hi, v.Hi, borrow)
	if borrow != 0 {
		return U128{}, ErrOverflow
	}
	return U128{Hi: hi, Lo: lo}, nil
}

func (u U128) Mul(v U128) (U128, error) {
	if u.Hi != 0 && v.Hi != 0 {
		return U128{}, ErrOverflow
	}
	hi, lo := bits.Mul64(u.Lo, v.Lo)
	c1hi, c1 := bits.Mul64(u.Hi, v.Lo)
	c2hi, c2 := bits.Mul64(u.Lo, v.Hi)
	if c1hi != 0 || c2hi != 0 {
		return U128{}, ErrOverflow
	}
	var carry uint64
	hi, carry = bits.Add64(hi, c1, 0)
	if carry != 0 {
		return U128{}, ErrOverflow
	}
	hi, carry = bits.Add64(hi, c2, 0)
	if carry != 0 {
		return U128{}, ErrOverflow
	}
	return U128{Hi: hi, Lo: lo}, nil
}

func (u U128) Mul64(v uint64) (U128, error) { return u.Mul(From64(v)) }

// QuoRem returns the truncated quotient and remainder of u/v.
func (u U128) QuoRem(v U128) (U128, U128, error) {
	if v.IsZero() {
		return U128{}, U128{}, ErrDivideByZero
	}
	if v.Hi == 0 {
		qhi := u.Hi / v.Lo
		r := u.Hi % v.Lo
		qlo, rem := bits.Div64(r, u.Lo, v.Lo)
		return U128{Hi: qhi, Lo: qlo}, From64(rem), nil
	}

	// Divisor wider than 64 bits: restoring long division.
	var q, r U128
	for i := 127; i >= 0; i-- {
		carry := r.Hi >> 63
		r = U128{Hi: r.Hi<<1 | r.Lo>>63, Lo: r.Lo<<1 | u.bit(i)}
		if carry != 0 || r.Cmp(v) >= 0 {
			lo, borrow := bits.Sub64(r.Lo, v.Lo, 0)
			hi, _ := bits.Sub64(r.Hi, v.Hi, borrow)
			r = U128{Hi: hi, Lo: lo}
			q = q.setBit(i)
		}
	}
	return q, r, nil
}

// CeilDiv returns ceil(u/v).
func (u U128) CeilDiv(v U128) (U128, error) {
	q, r, err := u.QuoRem(v)
	if err != nil {
		return U128{}, err
	}
	if !r.IsZero() {
		return q.Add(From64(1))
	}
	return q, nil
}

// Uint64 narrows u, failing when the high word is set.
func (u U128) Uint64() (uint64, error) {
	if u.Hi != 0 {
		return 0, ErrOverflow
	}
	return u.Lo, nil
}

// Pow10 returns 10^exp; 10^38 is the largest power that fits.
func Pow10(exp uint32) (U128, error) {
	r := From64(1)
	for i := uint32(0); i < exp; i++ {
		var err error
		if r, err = r.Mul64(10); err != nil {
			return U128{}, err
		}
	}
	return r, nil
}

func (u U128) bit(i int) uint64 {
	if i >= 64 {
		return (u.Hi >> uint(i-64)) & 1
	}
	return (u.Lo >> uint(i)) & 1
}

func (u U128) setBit(i int) U128 {
	if i >= 64 {
		u.Hi |= 1 << uint(i-64)
	} else {
		u.Lo |= 1 << uint(i)
	}
	return u
}

func (u U128) Big() *big.Int {
	b := new(big.Int).SetUint64(u.Hi)
	b.Lsh(b, 64)
	return b.Or(b, new(big.Int).SetUint64(u.Lo))
}

func (u U128) String() string { return u.Big().String() }

// ParseU128 parses a base-10 string.
func ParseU128(s string) (U128, error) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok || b.Sign() < 0 {
		return U128{}, fmt.Errorf("invalid u128 %q", s)
	}
	if b.BitLen() > 128 {
		return U128{}, ErrOverflow
	}
	lo := new(big.Int).And(b, new(big.Int).SetUint64(math.MaxUint64))
	hi := new(big.Int).Rsh(b, 64)
	return U128{Hi: hi.Uint64(), Lo: lo.Uint64()}, nil
}

func (u U128) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}

func (u *U128) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		// Accept bare JSON numbers for small values.
		var n uint64
		if numErr := json.Unmarshal(data, &n); numErr != nil {
			return fmt.Errorf("u128: %w", err)
		}
		*u = From64(n)
		return nil
	}
	v, err := ParseU128(s)
	if err != nil {
		return err
	}
	*u = v
	return nil
}
