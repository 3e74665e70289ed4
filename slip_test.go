// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package omnipool

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/omnipool/num"
)

// unit scales an amount to 12 decimals.
func unit(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), uint256.NewInt(1_000_000_000_000))
}

func TestSlipFeeZeroCases(t *testing.T) {
	maxFee := num.FeeFromPercent(5)

	// empty pool side
	got, ok := CalculateSlipFeeAmount(new(uint256.Int), ZeroSigned(), Negative(unit(10)), maxFee, unit(10))
	require.True(t, ok)
	require.True(t, got.IsZero())

	// zero base amount
	got, ok = CalculateSlipFeeAmount(unit(1000), ZeroSigned(), Negative(unit(10)), maxFee, new(uint256.Int))
	require.True(t, ok)
	require.True(t, got.IsZero())

	// flows cancel out within the block
	got, ok = CalculateSlipFeeAmount(unit(1000), Positive(unit(50)), Negative(unit(50)), maxFee, unit(50))
	require.True(t, ok)
	require.True(t, got.IsZero())
}

func TestSlipFeeFailsWhenFlowDrainsReserve(t *testing.T) {
	maxFee := num.FeeFromPercent(5)

	// cumulative outflow equals the block-start reserve
	_, ok := CalculateSlipFeeAmount(uint256.NewInt(100), Negative(uint256.NewInt(60)), Negative(uint256.NewInt(40)), maxFee, uint256.NewInt(40))
	require.False(t, ok)

	// cumulative outflow exceeds the block-start reserve
	_, ok = CalculateSlipFeeAmount(uint256.NewInt(100), Negative(uint256.NewInt(60)), Negative(uint256.NewInt(50)), maxFee, uint256.NewInt(50))
	require.False(t, ok)
}

func TestSlipFeeSellSideRate(t *testing.T) {
	maxFee := num.FeeFromPercent(5)
	base := unit(99_000)

	got, ok := CalculateSlipFeeAmount(unit(10_000_000), ZeroSigned(), Negative(base), maxFee, base)
	require.True(t, ok)

	// rate = 99_000 / 9_901_000 which lands between 9998 and 9999 ppm
	lo := num.FeeFromParts(9_998).MulFloor(base)
	hi := num.FeeFromParts(9_999).MulFloor(base)
	require.True(t, got.Gt(lo), "got %s, want > %s", got, lo)
	require.True(t, got.Lt(hi), "got %s, want < %s", got, hi)
}

func TestSlipFeeBuySideRate(t *testing.T) {
	maxFee := num.FeeFromPercent(5)
	base := unit(97_516)

	got, ok := CalculateSlipFeeAmount(unit(5_000_000), ZeroSigned(), Positive(base), maxFee, base)
	require.True(t, ok)

	// rate = 97_516 / 5_097_516 which lands between 19130 and 19131 ppm
	lo := num.FeeFromParts(19_130).MulFloor(base)
	hi := num.FeeFromParts(19_131).MulFloor(base)
	require.True(t, got.Gt(lo), "got %s, want > %s", got, lo)
	require.True(t, got.Lt(hi), "got %s, want < %s", got, hi)
}

func TestSlipFeeCapsAtMax(t *testing.T) {
	maxFee := num.FeeFromPercent(5)
	base := unit(900)

	// rate = 900/1900, far above the 5% cap
	got, ok := CalculateSlipFeeAmount(unit(1000), ZeroSigned(), Positive(base), maxFee, base)
	require.True(t, ok)
	require.Equal(t, maxFee.MulFloor(base), got)
}

func TestSlipFeeAccumulatesWithinBlock(t *testing.T) {
	maxFee := num.FeeFromPercent(20)
	q0 := unit(1_000_000)
	base := unit(10_000)

	first, ok := CalculateSlipFeeAmount(q0, ZeroSigned(), Negative(base), maxFee, base)
	require.True(t, ok)

	// same trade later in the block pays a higher surcharge
	second, ok := CalculateSlipFeeAmount(q0, Negative(base), Negative(base), maxFee, base)
	require.True(t, ok)
	require.True(t, second.Gt(first))
}

func TestInvertBuySideSlipLinear(t *testing.T) {
	l := unit(5_000_000)
	maxFee := num.FeeFromPercent(50)

	for _, c := range []SignedBalance{ZeroSigned(), Positive(unit(20_000))} {
		dGross := unit(80_000)
		slip, ok := CalculateSlipFeeAmount(l, c, Positive(dGross), maxFee, dGross)
		require.True(t, ok)
		dNet := new(uint256.Int).Sub(dGross, slip)

		recovered, ok := invertBuySideSlip(dNet, l, c)
		require.True(t, ok)
		requireWithin(t, dGross, recovered, 4)
	}
}

func TestInvertBuySideSlipQuadratic(t *testing.T) {
	l := unit(5_000_000)
	maxFee := num.FeeFromPercent(50)

	// prior net outflow flips the cumulative flow negative
	c := Negative(unit(300_000))
	dGross := unit(50_000)
	slip, ok := CalculateSlipFeeAmount(l, c, Positive(dGross), maxFee, dGross)
	require.True(t, ok)
	dNet := new(uint256.Int).Sub(dGross, slip)

	recovered, ok := invertBuySideSlip(dNet, l, c)
	require.True(t, ok)
	requireWithin(t, dGross, recovered, 4)
}

func TestInvertBuySideSlipRejectsExhaustedPool(t *testing.T) {
	l := unit(100)

	_, ok := invertBuySideSlip(unit(100), l, ZeroSigned())
	require.False(t, ok)

	_, ok = invertBuySideSlip(unit(1), new(uint256.Int), ZeroSigned())
	require.False(t, ok)
}

func TestInvertSellSideFees(t *testing.T) {
	l := unit(10_000_000)
	maxFee := num.FeeFromPercent(50)

	tests := []struct {
		name string
		pf   num.Fee
		c    SignedBalance
	}{
		{"no fee no flow", 0, ZeroSigned()},
		{"fee no flow", num.FeeFromParts(500), ZeroSigned()},
		{"fee prior outflow", num.FeeFromParts(500), Negative(unit(150_000))},
		{"fee prior inflow", num.FeeFromParts(500), Positive(unit(150_000))},
		{"no fee prior inflow", 0, Positive(unit(150_000))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deltaQ := unit(90_000)
			pfAmount := tt.pf.MulFloor(deltaQ)
			slip, ok := CalculateSlipFeeAmount(l, tt.c, Negative(deltaQ), maxFee, deltaQ)
			require.True(t, ok)

			dGross := new(uint256.Int).Sub(deltaQ, pfAmount)
			dGross.Sub(dGross, slip)

			recovered, ok := invertSellSideFees(dGross, tt.pf, l, tt.c)
			require.True(t, ok)
			requireWithin(t, deltaQ, recovered, 4)
		})
	}
}

func requireWithin(t *testing.T, want, got *uint256.Int, tolerance uint64) {
	t.Helper()
	lo := new(uint256.Int).SubUint64(want, tolerance)
	hi := new(uint256.Int).AddUint64(want, tolerance)
	require.True(t, got.Cmp(lo) >= 0 && got.Cmp(hi) <= 0,
		"got %s, want %s +- %d", got, want, tolerance)
}
