// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package num provides the checked 256-bit arithmetic helpers and the
// fixed-point fraction types used by the omnipool engines. All operations
// report failure instead of panicking; a false ok result means the caller
// must abort whatever computation it was part of.
package num

import (
	"github.com/holiman/uint256"
)

// Million is the parts-per-million denominator shared by Fee and the
// slip-fee rate checks.
const Million = 1_000_000

// FixedDiv is the scale of the Fixed type (18 decimals).
var FixedDiv = uint256.NewInt(1_000_000_000_000_000_000)

var millionU256 = uint256.NewInt(Million)

// MulDiv returns floor(a*b/c). It fails when c is zero or when the
// 256-bit product overflows.
func MulDiv(a, b, c *uint256.Int) (*uint256.Int, bool) {
	if c.IsZero() {
		return nil, false
	}
	p := new(uint256.Int)
	if _, overflow := p.MulOverflow(a, b); overflow {
		return nil, false
	}
	return p.Div(p, c), true
}

// FitsBalance reports whether x is representable as a 128-bit balance.
func FitsBalance(x *uint256.Int) bool {
	return x.BitLen() <= 128
}

// AddBalance returns a+b, failing when the sum leaves the 128-bit
// balance range.
func AddBalance(a, b *uint256.Int) (*uint256.Int, bool) {
	s := new(uint256.Int)
	if _, overflow := s.AddOverflow(a, b); overflow {
		return nil, false
	}
	if !FitsBalance(s) {
		return nil, false
	}
	return s, true
}

// SubBalance returns a-b, failing on underflow.
func SubBalance(a, b *uint256.Int) (*uint256.Int, bool) {
	if a.Lt(b) {
		return nil, false
	}
	return new(uint256.Int).Sub(a, b), true
}

// =========================================================================
// Fee - parts-per-million fraction
// =========================================================================

// Fee is a fraction with parts-per-million granularity, the resolution at
// which all trading fees are expressed.
type Fee uint32

// FeeFromParts builds a Fee from raw ppm parts, saturating at 100%.
func FeeFromParts(parts uint32) Fee {
	if parts > Million {
		parts = Million
	}
	return Fee(parts)
}

// FeeFromPercent builds a Fee from a whole percentage.
func FeeFromPercent(p uint32) Fee {
	return FeeFromParts(p * 10_000)
}

// FeeFromRational builds a Fee as floor(n*1e6/d). A zero denominator
// yields a zero fee.
func FeeFromRational(n, d uint64) Fee {
	if d == 0 {
		return 0
	}
	v := new(uint256.Int).Mul(uint256.NewInt(n), millionU256)
	v.Div(v, uint256.NewInt(d))
	if !v.IsUint64() || v.Uint64() > Million {
		return Fee(Million)
	}
	return Fee(v.Uint64())
}

// Parts returns the raw ppm parts.
func (f Fee) Parts() uint32 { return uint32(f) }

// IsZero reports whether the fee is 0%.
func (f Fee) IsZero() bool { return f == 0 }

// IsFull reports whether the fee is 100%.
func (f Fee) IsFull() bool { return f >= Million }

// Complement returns 1 - f.
func (f Fee) Complement() Fee {
	if f.IsFull() {
		return 0
	}
	return Fee(Million - uint32(f))
}

// MulFloor returns floor(x * f).
func (f Fee) MulFloor(x *uint256.Int) *uint256.Int {
	if f.IsZero() || x.IsZero() {
		return new(uint256.Int)
	}
	p := new(uint256.Int).Mul(x, uint256.NewInt(uint64(f)))
	return p.Div(p, millionU256)
}

// =========================================================================
// Fixed - 18-decimal unsigned fixed point
// =========================================================================

// Fixed is an unsigned fixed-point number with 18 decimal places, used
// for prices and the withdrawal-fee ratio. The zero value is 0.0.
type Fixed struct {
	inner uint256.Int
}

// FixedZero returns 0.0.
func FixedZero() Fixed { return Fixed{} }

// FixedOne returns 1.0.
func FixedOne() Fixed {
	var f Fixed
	f.inner.Set(FixedDiv)
	return f
}

// FixedFromInner builds a Fixed from a raw 1e18-scaled value.
func FixedFromInner(inner *uint256.Int) Fixed {
	var f Fixed
	f.inner.Set(inner)
	return f
}

// FixedFromRational returns n/d rounded down. It fails when d is zero or
// the scaled numerator overflows.
func FixedFromRational(n, d *uint256.Int) (Fixed, bool) {
	v, ok := MulDiv(n, FixedDiv, d)
	if !ok {
		return Fixed{}, false
	}
	return FixedFromInner(v), true
}

// FixedFromFee converts a ppm fraction to a Fixed.
func FixedFromFee(f Fee) Fixed {
	v := new(uint256.Int).Mul(uint256.NewInt(uint64(f)), uint256.NewInt(1_000_000_000_000))
	return FixedFromInner(v)
}

// FeeFromFixed converts a Fixed to a ppm fraction, rounding down and
// saturating at 100%.
func FeeFromFixed(f Fixed) Fee {
	v := new(uint256.Int).Div(&f.inner, uint256.NewInt(1_000_000_000_000))
	if v.GtUint64(Million) {
		return Fee(Million)
	}
	return Fee(v.Uint64())
}

// Inner returns the raw 1e18-scaled value.
func (f Fixed) Inner() *uint256.Int {
	return new(uint256.Int).Set(&f.inner)
}

// IsZero reports whether the value is 0.0.
func (f Fixed) IsZero() bool { return f.inner.IsZero() }

// Cmp compares two fixed-point values.
func (f Fixed) Cmp(o Fixed) int { return f.inner.Cmp(&o.inner) }

// MulInt returns floor(f * x).
func (f Fixed) MulInt(x *uint256.Int) (*uint256.Int, bool) {
	return MulDiv(&f.inner, x, FixedDiv)
}

// Mul returns f*o rounded down.
func (f Fixed) Mul(o Fixed) (Fixed, bool) {
	v, ok := MulDiv(&f.inner, &o.inner, FixedDiv)
	if !ok {
		return Fixed{}, false
	}
	return FixedFromInner(v), true
}

// Div returns f/o rounded down.
func (f Fixed) Div(o Fixed) (Fixed, bool) {
	return FixedFromRational(&f.inner, &o.inner)
}

// SaturatingSub returns f-o, clamping at zero.
func (f Fixed) SaturatingSub(o Fixed) Fixed {
	if f.inner.Lt(&o.inner) {
		return Fixed{}
	}
	return FixedFromInner(new(uint256.Int).Sub(&f.inner, &o.inner))
}

// Clamp bounds f into [lo, hi].
func (f Fixed) Clamp(lo, hi Fixed) Fixed {
	if f.Cmp(lo) < 0 {
		return lo
	}
	if f.Cmp(hi) > 0 {
		return hi
	}
	return f
}
