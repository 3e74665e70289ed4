// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package omnipool

import (
	"github.com/holiman/uint256"

	"github.com/luxfi/omnipool/num"
)

// HubAssetBlockState tracks one asset's hub-reserve level at the start of
// the current block and the net signed hub flow accumulated since, the two
// inputs of the slip surcharge. It is reset at every block boundary and
// never persisted.
type HubAssetBlockState struct {
	// HubReserveAtBlockStart is Q0, the hub reserve when the block began.
	HubReserveAtBlockStart *uint256.Int

	// CurrentDelta is the net hub flow of the block so far. Positive
	// means net buying of the asset, negative net selling.
	CurrentDelta SignedBalance
}

// NewHubAssetBlockState starts a fresh block accumulator at the given
// reserve level.
func NewHubAssetBlockState(blockStartReserve *uint256.Int) *HubAssetBlockState {
	return &HubAssetBlockState{
		HubReserveAtBlockStart: new(uint256.Int).Set(blockStartReserve),
		CurrentDelta:           ZeroSigned(),
	}
}

// TradeSlipFees carries the slip inputs for both sides of a two-sided
// trade.
type TradeSlipFees struct {
	AssetInHubReserve  *uint256.Int
	AssetInDelta       SignedBalance
	AssetOutHubReserve *uint256.Int
	AssetOutDelta      SignedBalance
	MaxSlipFee         num.Fee
}

// HubTradeSlipFees carries the slip inputs for a one-sided hub-asset
// trade; only the bought asset's side accumulates flow.
type HubTradeSlipFees struct {
	AssetHubReserve *uint256.Int
	AssetDelta      SignedBalance
	MaxSlipFee      num.Fee
}

// CalculateSlipFeeAmount computes the slip surcharge at full 256-bit
// precision, avoiding fixed-point truncation:
//
//	min(|cumulative| / (Q0 + cumulative), maxSlipFee) * baseAmount
//
// where cumulative = priorDelta + deltaQ. Below the cap the amount is a
// single multiply-then-divide, so it is off by at most one unit from the
// true rational value. The surcharge is zero when Q0, the base amount or
// the cumulative flow is zero, and the computation fails outright when
// Q0 + cumulative is not positive.
func CalculateSlipFeeAmount(
	hubReserveAtBlockStart *uint256.Int,
	priorDelta, deltaQ SignedBalance,
	maxSlipFee num.Fee,
	baseAmount *uint256.Int,
) (*uint256.Int, bool) {
	if hubReserveAtBlockStart.IsZero() || baseAmount.IsZero() {
		return new(uint256.Int), true
	}

	cumulative, ok := priorDelta.CheckedAdd(deltaQ)
	if !ok {
		return nil, false
	}

	denom, ok := cumulative.AddToUnsigned(hubReserveAtBlockStart)
	if !ok || denom.IsZero() {
		return nil, false
	}

	if cumulative.IsZero() {
		return new(uint256.Int), true
	}

	absCumulative := cumulative.Abs()

	// rate check in ppm: |cumulative| * 1e6 / denom vs the cap
	rate, ok := num.MulDiv(absCumulative, uint256.NewInt(num.Million), denom)
	if !ok {
		return nil, false
	}
	if rate.GtUint64(uint64(maxSlipFee.Parts())) {
		return maxSlipFee.MulFloor(baseAmount), true
	}

	return num.MulDiv(absCumulative, baseAmount, denom)
}

// invertBuySideSlip recovers D_gross, the hub amount before buy-side slip
// deduction, from D_net, the hub amount that must actually enter the buy
// pool. Forward relation: D_net = D_gross - |cum|*D_gross/(L+cum) with
// cum = C + D_gross.
//
// When the cumulative flow after the trade is non-negative the relation
// is linear. When C is negative and the flow stays negative it is the
// quadratic 2*D_gross^2 + (L+2C-D_net)*D_gross - D_net*(L+C) = 0, solved
// with the numerically stable root form to avoid cancellation. Every
// branch rounds the result up one unit in the pool's favor.
func invertBuySideSlip(dNet, l *uint256.Int, c SignedBalance) (*uint256.Int, bool) {
	sBuy, ok := c.AddToUnsigned(l) // L + C
	if !ok || sBuy.IsZero() {
		return nil, false
	}
	if dNet.Cmp(l) >= 0 {
		return nil, false
	}

	// Linear candidate: D_gross = D_net * S_buy / (L - D_net) + 1
	lMinusD := new(uint256.Int).Sub(l, dNet)
	dGrossLinear, ok := num.MulDiv(dNet, sBuy, lMinusD)
	if !ok {
		return nil, false
	}
	dGrossLinear.AddUint64(dGrossLinear, 1)
	if !num.FitsBalance(dGrossLinear) {
		return nil, false
	}

	if !c.IsNegative() || dGrossLinear.Cmp(c.Abs()) >= 0 {
		// cum = C + D_gross >= 0, linear case valid
		return dGrossLinear, true
	}

	// Quadratic case: C < 0 and the flow stays negative.
	// 2*D^2 + (L + 2C - D_net)*D - D_net*S_buy = 0
	absC := c.Abs()
	twoC := new(uint256.Int).Lsh(absC, 1)
	if l.Lt(twoC) {
		return nil, false
	}
	lMinus2C := new(uint256.Int).Sub(l, twoC)

	bPositive := lMinus2C.Cmp(dNet) >= 0
	bAbs := new(uint256.Int)
	if bPositive {
		bAbs.Sub(lMinus2C, dNet)
	} else {
		bAbs.Sub(dNet, lMinus2C)
	}

	// disc = b^2 + 8*D_net*S_buy
	bSq := new(uint256.Int)
	if _, overflow := bSq.MulOverflow(bAbs, bAbs); overflow {
		return nil, false
	}
	eightDS := new(uint256.Int)
	if _, overflow := eightDS.MulOverflow(dNet, sBuy); overflow {
		return nil, false
	}
	if _, overflow := eightDS.MulOverflow(eightDS, uint256.NewInt(8)); overflow {
		return nil, false
	}
	disc := new(uint256.Int)
	if _, overflow := disc.AddOverflow(bSq, eightDS); overflow {
		return nil, false
	}
	sqrtDisc := new(uint256.Int).Sqrt(disc)

	dGross := new(uint256.Int)
	if bPositive {
		// stable form: 2*D_net*S_buy / (b + sqrt(disc))
		denom := new(uint256.Int).Add(bAbs, sqrtDisc)
		n := new(uint256.Int)
		if _, overflow := n.MulOverflow(dNet, sBuy); overflow {
			return nil, false
		}
		if _, overflow := n.MulOverflow(n, uint256.NewInt(2)); overflow {
			return nil, false
		}
		if denom.IsZero() {
			return nil, false
		}
		dGross.Div(n, denom)
	} else {
		// (-b + sqrt(disc)) / 4
		dGross.Add(bAbs, sqrtDisc)
		dGross.Rsh(dGross, 2)
	}
	dGross.AddUint64(dGross, 1)
	if !num.FitsBalance(dGross) {
		return nil, false
	}
	return dGross, true
}

// invertSellSideFees recovers u = delta_hub_reserve_in, the raw hub
// inflow, from D_gross, the hub amount remaining after the protocol fee
// and sell-side slip were both deducted. Forward relation:
//
//	D_gross = u*(1-pf) - |C-u|*u/(L+C-u)
//
// Case A covers one-sided flow (u produces a negative cumulative); Case B
// covers opposing flow (C > 0 and u stays within it), degenerating to a
// linear solve when the protocol fee is zero. Case B is tried first when
// C > 0 and accepted only if its own root is consistent (u <= |C|);
// otherwise Case A applies. Every branch rounds u up one unit.
func invertSellSideFees(dGross *uint256.Int, protocolFee num.Fee, l *uint256.Int, c SignedBalance) (*uint256.Int, bool) {
	absC := c.Abs()
	cPositive := c.IsPositive()

	// S = L + C, must be representable
	var s *uint256.Int
	var ok bool
	if cPositive {
		s, ok = num.AddBalance(l, absC)
	} else {
		s, ok = num.SubBalance(l, absC)
	}
	if !ok {
		return nil, false
	}

	pfParts := uint64(protocolFee.Parts())
	kParts := uint64(num.Million) - pfParts
	scale := uint256.NewInt(num.Million)

	// Case A: (k+1e6)u^2 - (kS + (C+D)*1e6)u + D*S*1e6 = 0
	solveCaseA := func() (*uint256.Int, bool) {
		a := uint256.NewInt(kParts + num.Million)
		ks := new(uint256.Int)
		if _, overflow := ks.MulOverflow(uint256.NewInt(kParts), s); overflow {
			return nil, false
		}
		dScaled := new(uint256.Int)
		if _, overflow := dScaled.MulOverflow(dGross, scale); overflow {
			return nil, false
		}
		cScaled := new(uint256.Int)
		if _, overflow := cScaled.MulOverflow(absC, scale); overflow {
			return nil, false
		}
		b := new(uint256.Int)
		if cPositive {
			if _, overflow := b.AddOverflow(ks, dScaled); overflow {
				return nil, false
			}
			if _, overflow := b.AddOverflow(b, cScaled); overflow {
				return nil, false
			}
		} else {
			if _, overflow := b.AddOverflow(ks, dScaled); overflow {
				return nil, false
			}
			if b.Lt(cScaled) {
				return nil, false
			}
			b.Sub(b, cScaled)
		}
		cTerm := new(uint256.Int)
		if _, overflow := cTerm.MulOverflow(dGross, s); overflow {
			return nil, false
		}
		if _, overflow := cTerm.MulOverflow(cTerm, scale); overflow {
			return nil, false
		}
		bSq := new(uint256.Int)
		if _, overflow := bSq.MulOverflow(b, b); overflow {
			return nil, false
		}
		fourAC := new(uint256.Int)
		if _, overflow := fourAC.MulOverflow(a, cTerm); overflow {
			return nil, false
		}
		if _, overflow := fourAC.MulOverflow(fourAC, uint256.NewInt(4)); overflow {
			return nil, false
		}
		if bSq.Lt(fourAC) {
			return nil, false
		}
		disc := new(uint256.Int).Sub(bSq, fourAC)
		sqrtDisc := new(uint256.Int).Sqrt(disc)
		if b.Lt(sqrtDisc) {
			return nil, false
		}
		twoA := new(uint256.Int).Lsh(a, 1)
		u := new(uint256.Int).Sub(b, sqrtDisc)
		u.Div(u, twoA)
		u.AddUint64(u, 1)
		if !num.FitsBalance(u) {
			return nil, false
		}
		return u, true
	}

	if !cPositive {
		return solveCaseA()
	}

	// C > 0: try Case B (opposing flow, u <= C) first.
	uB, okB := solveCaseB(dGross, l, s, absC, pfParts, kParts)
	if okB && uB.Cmp(absC) <= 0 {
		return uB, true
	}
	return solveCaseA()
}

// solveCaseB solves the opposing-flow inversion pf*u^2 + (kS +
// (D-C)*1e6)u - D*S*1e6 = 0, or the linear degenerate (D+L)u = D*S when
// the protocol fee is zero. The caller validates the root against |C|.
func solveCaseB(dGross, l, s, absC *uint256.Int, pfParts, kParts uint64) (*uint256.Int, bool) {
	scale := uint256.NewInt(num.Million)

	if pfParts == 0 {
		denom := new(uint256.Int).Add(dGross, l)
		u, ok := num.MulDiv(dGross, s, denom)
		if !ok {
			return nil, false
		}
		u.AddUint64(u, 1)
		return u, num.FitsBalance(u)
	}

	a := uint256.NewInt(pfParts)
	ks := new(uint256.Int)
	if _, overflow := ks.MulOverflow(uint256.NewInt(kParts), s); overflow {
		return nil, false
	}
	dScaled := new(uint256.Int)
	if _, overflow := dScaled.MulOverflow(dGross, scale); overflow {
		return nil, false
	}
	cScaled := new(uint256.Int)
	if _, overflow := cScaled.MulOverflow(absC, scale); overflow {
		return nil, false
	}

	// b = kS + (D - C)*1e6, may be negative
	bSum := new(uint256.Int)
	if _, overflow := bSum.AddOverflow(ks, dScaled); overflow {
		return nil, false
	}
	bPositive := bSum.Cmp(cScaled) >= 0
	bAbs := new(uint256.Int)
	if bPositive {
		bAbs.Sub(bSum, cScaled)
	} else {
		bAbs.Sub(cScaled, bSum)
	}

	cTerm := new(uint256.Int)
	if _, overflow := cTerm.MulOverflow(dGross, s); overflow {
		return nil, false
	}
	if _, overflow := cTerm.MulOverflow(cTerm, scale); overflow {
		return nil, false
	}

	// disc = b^2 + 4*a*D*S*1e6
	bSq := new(uint256.Int)
	if _, overflow := bSq.MulOverflow(bAbs, bAbs); overflow {
		return nil, false
	}
	fourADS := new(uint256.Int)
	if _, overflow := fourADS.MulOverflow(a, cTerm); overflow {
		return nil, false
	}
	if _, overflow := fourADS.MulOverflow(fourADS, uint256.NewInt(4)); overflow {
		return nil, false
	}
	disc := new(uint256.Int)
	if _, overflow := disc.AddOverflow(bSq, fourADS); overflow {
		return nil, false
	}
	sqrtDisc := new(uint256.Int).Sqrt(disc)

	u := new(uint256.Int)
	if bPositive {
		// stable form: 2c / (b + sqrt(disc))
		denom := new(uint256.Int).Add(bAbs, sqrtDisc)
		if denom.IsZero() {
			return nil, false
		}
		if _, overflow := u.MulOverflow(cTerm, uint256.NewInt(2)); overflow {
			return nil, false
		}
		u.Div(u, denom)
	} else {
		twoA := new(uint256.Int).Lsh(a, 1)
		u.Add(bAbs, sqrtDisc)
		u.Div(u, twoA)
	}
	u.AddUint64(u, 1)
	return u, num.FitsBalance(u)
}
