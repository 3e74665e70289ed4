// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package omnipool

import (
	"github.com/holiman/uint256"

	"github.com/luxfi/omnipool/num"
)

// The functions in this file are pure: they compute the state deltas of a
// trade or liquidity operation from the current reserve states without
// touching any shared state. A false result means an overflow, underflow
// or division by zero somewhere in the chain; the caller must abort the
// operation.

func amountWithoutFee(amount *uint256.Int, fee num.Fee) *uint256.Int {
	return fee.Complement().MulFloor(amount)
}

// calculateFeeAmountForBuy returns the fee taken on top of an exact
// output amount: fee*amount/(1e6-fee), rounded up against the trader.
func calculateFeeAmountForBuy(fee num.Fee, amount *uint256.Int) *uint256.Int {
	if fee.IsZero() {
		return new(uint256.Int)
	}
	if fee.IsFull() {
		return new(uint256.Int).Set(amount)
	}
	n := new(uint256.Int).Mul(amount, uint256.NewInt(uint64(fee.Parts())))
	n.Div(n, uint256.NewInt(uint64(num.Million-fee.Parts())))
	return n.AddUint64(n, 1)
}

// =========================================================================
// Sell
// =========================================================================

// CalculateSellStateChanges computes the reserve deltas of selling a
// fixed input amount of one asset for another.
//
// The input leg converts the amount to hub asset against the in-asset's
// own invariant, then the protocol fee and the sell-side slip surcharge
// are deducted, the buy-side slip surcharge is deducted from what enters
// the out-asset's side, and the remainder buys the output against the
// out-asset's invariant. The asset fee stays in the pool and is matched
// by an extra hub-reserve mint so the out-asset's price is not distorted.
func CalculateSellStateChanges(
	assetInState, assetOutState *AssetReserveState,
	amount *uint256.Int,
	assetFee, protocolFee, burnFee num.Fee,
	slip *TradeSlipFees,
) (*TradeStateChange, bool) {
	denomIn := new(uint256.Int)
	if _, overflow := denomIn.AddOverflow(assetInState.Reserve, amount); overflow {
		return nil, false
	}
	deltaHubReserveIn, ok := num.MulDiv(amount, assetInState.HubReserve, denomIn)
	if !ok || !num.FitsBalance(deltaHubReserveIn) {
		return nil, false
	}

	protocolFeeAmount := protocolFee.MulFloor(deltaHubReserveIn)

	// Sell-side slip: hub asset leaves the sell pool.
	slipSellAmount := new(uint256.Int)
	if slip != nil {
		slipSellAmount, ok = CalculateSlipFeeAmount(
			slip.AssetInHubReserve,
			slip.AssetInDelta,
			Negative(deltaHubReserveIn),
			slip.MaxSlipFee,
			deltaHubReserveIn,
		)
		if !ok {
			return nil, false
		}
	}

	dGross, ok := num.SubBalance(deltaHubReserveIn, protocolFeeAmount)
	if !ok {
		return nil, false
	}
	dGross, ok = num.SubBalance(dGross, slipSellAmount)
	if !ok {
		return nil, false
	}

	// Buy-side slip: hub asset enters the buy pool.
	slipBuyAmount := new(uint256.Int)
	if slip != nil {
		slipBuyAmount, ok = CalculateSlipFeeAmount(
			slip.AssetOutHubReserve,
			slip.AssetOutDelta,
			Positive(dGross),
			slip.MaxSlipFee,
			dGross,
		)
		if !ok {
			return nil, false
		}
	}

	dNet, ok := num.SubBalance(dGross, slipBuyAmount)
	if !ok {
		return nil, false
	}

	denomOut := new(uint256.Int)
	if _, overflow := denomOut.AddOverflow(assetOutState.HubReserve, dNet); overflow {
		return nil, false
	}
	amountOut, ok := num.MulDiv(assetOutState.Reserve, dNet, denomOut)
	if !ok || !num.FitsBalance(amountOut) {
		return nil, false
	}
	deltaReserveOut := amountWithoutFee(amountOut, assetFee)
	assetFeeAmount := new(uint256.Int).Sub(amountOut, deltaReserveOut)

	// Hub asset minted to account for the asset fee that stays in the
	// pool: assetFee * (Qout+dNet)*dNet/Qout.
	extraBase, ok := num.MulDiv(denomOut, dNet, assetOutState.HubReserve)
	if !ok || !num.FitsBalance(extraBase) {
		return nil, false
	}
	extraHubReserve := assetFee.MulFloor(extraBase)

	totalProtocolFee, ok := num.AddBalance(protocolFeeAmount, slipSellAmount)
	if !ok {
		return nil, false
	}
	totalProtocolFee, ok = num.AddBalance(totalProtocolFee, slipBuyAmount)
	if !ok {
		return nil, false
	}
	burnedProtocolFee := burnFee.MulFloor(totalProtocolFee)

	return &TradeStateChange{
		AssetIn: AssetStateChange{
			DeltaReserve:    Increase(amount),
			DeltaHubReserve: Decrease(deltaHubReserveIn),
		},
		AssetOut: AssetStateChange{
			DeltaReserve:          Decrease(deltaReserveOut),
			DeltaHubReserve:       Increase(dNet),
			ExtraHubReserveAmount: Increase(extraHubReserve),
		},
		Fee: TradeFee{
			AssetFee:          assetFeeAmount,
			ProtocolFee:       totalProtocolFee,
			BurnedProtocolFee: burnedProtocolFee,
		},
		HubFlowIn:  Negative(deltaHubReserveIn),
		HubFlowOut: Positive(dGross),
	}, true
}

// CalculateSellHubStateChanges computes the one-sided deltas of selling
// the hub asset itself for a listed asset. Only the bought asset's side
// moves; the hub inflow is subject to the buy-side slip surcharge.
func CalculateSellHubStateChanges(
	assetOutState *AssetReserveState,
	hubAssetAmount *uint256.Int,
	assetFee num.Fee,
	slip *HubTradeSlipFees,
) (*HubTradeStateChange, bool) {
	slipBuyAmount := new(uint256.Int)
	var ok bool
	if slip != nil {
		slipBuyAmount, ok = CalculateSlipFeeAmount(
			slip.AssetHubReserve,
			slip.AssetDelta,
			Positive(hubAssetAmount),
			slip.MaxSlipFee,
			hubAssetAmount,
		)
		if !ok {
			return nil, false
		}
	}

	effectiveHub, ok := num.SubBalance(hubAssetAmount, slipBuyAmount)
	if !ok {
		return nil, false
	}

	denom := new(uint256.Int)
	if _, overflow := denom.AddOverflow(assetOutState.HubReserve, effectiveHub); overflow {
		return nil, false
	}
	amountOut, ok := num.MulDiv(assetOutState.Reserve, effectiveHub, denom)
	if !ok || !num.FitsBalance(amountOut) {
		return nil, false
	}
	deltaReserveOut := amountWithoutFee(amountOut, assetFee)
	assetFeeAmount := new(uint256.Int).Sub(amountOut, deltaReserveOut)

	extraBase, ok := num.MulDiv(denom, effectiveHub, assetOutState.HubReserve)
	if !ok || !num.FitsBalance(extraBase) {
		return nil, false
	}
	extraHubReserve := assetFee.MulFloor(extraBase)

	return &HubTradeStateChange{
		Asset: AssetStateChange{
			DeltaReserve:          Decrease(deltaReserveOut),
			DeltaHubReserve:       Increase(effectiveHub),
			ExtraHubReserveAmount: Increase(extraHubReserve),
		},
		Fee: TradeFee{
			AssetFee:          assetFeeAmount,
			ProtocolFee:       slipBuyAmount,
			BurnedProtocolFee: new(uint256.Int),
		},
		HubFlow: Positive(hubAssetAmount),
	}, true
}

// =========================================================================
// Buy
// =========================================================================

// CalculateBuyStateChanges computes the reserve deltas of buying an exact
// output amount, solving the sell relation backwards. The buy-side slip
// and the sell-side fees are recovered through their algebraic
// inversions; an inversion failure aborts the trade rather than
// approximating.
func CalculateBuyStateChanges(
	assetInState, assetOutState *AssetReserveState,
	amount *uint256.Int,
	assetFee, protocolFee, burnFee num.Fee,
	slip *TradeSlipFees,
) (*TradeStateChange, bool) {
	reserveNoFee := amountWithoutFee(assetOutState.Reserve, assetFee)
	if amount.Cmp(reserveNoFee) >= 0 {
		return nil, false
	}

	// D_net: hub asset needed for the desired output
	denomOut := new(uint256.Int).Sub(reserveNoFee, amount)
	dNet, ok := num.MulDiv(assetOutState.HubReserve, amount, denomOut)
	if !ok {
		return nil, false
	}
	dNet.AddUint64(dNet, 1)
	if !num.FitsBalance(dNet) {
		return nil, false
	}

	// D_gross: before the buy-side slip deduction
	dGross := dNet
	if slip != nil {
		dGross, ok = invertBuySideSlip(dNet, slip.AssetOutHubReserve, slip.AssetOutDelta)
		if !ok {
			return nil, false
		}
	}

	// delta_hub_reserve_in: before protocol fee and sell-side slip
	var deltaHubReserveIn *uint256.Int
	if slip != nil {
		deltaHubReserveIn, ok = invertSellSideFees(dGross, protocolFee, slip.AssetInHubReserve, slip.AssetInDelta)
		if !ok {
			return nil, false
		}
	} else {
		if protocolFee.IsFull() {
			return nil, false
		}
		deltaHubReserveIn, ok = num.MulDiv(dNet, uint256.NewInt(num.Million), uint256.NewInt(uint64(protocolFee.Complement().Parts())))
		if !ok || !num.FitsBalance(deltaHubReserveIn) {
			return nil, false
		}
	}

	if deltaHubReserveIn.Cmp(assetInState.HubReserve) >= 0 {
		return nil, false
	}

	denomIn := new(uint256.Int).Sub(assetInState.HubReserve, deltaHubReserveIn)
	deltaReserveIn, ok := num.MulDiv(assetInState.Reserve, deltaHubReserveIn, denomIn)
	if !ok {
		return nil, false
	}
	deltaReserveIn.AddUint64(deltaReserveIn, 1)
	if !num.FitsBalance(deltaReserveIn) {
		return nil, false
	}

	assetFeeAmount := calculateFeeAmountForBuy(assetFee, amount)
	protocolFeeAmount := protocolFee.MulFloor(deltaHubReserveIn)

	// Recompute the slip amounts in the forward direction so the fee
	// breakdown matches what a sell of deltaHubReserveIn would charge.
	slipSellAmount := new(uint256.Int)
	if slip != nil {
		slipSellAmount, ok = CalculateSlipFeeAmount(
			slip.AssetInHubReserve,
			slip.AssetInDelta,
			Negative(deltaHubReserveIn),
			slip.MaxSlipFee,
			deltaHubReserveIn,
		)
		if !ok {
			return nil, false
		}
	}

	dGrossForward, ok := num.SubBalance(deltaHubReserveIn, protocolFeeAmount)
	if !ok {
		return nil, false
	}
	dGrossForward, ok = num.SubBalance(dGrossForward, slipSellAmount)
	if !ok {
		return nil, false
	}

	slipBuyAmount := new(uint256.Int)
	if slip != nil {
		slipBuyAmount, ok = CalculateSlipFeeAmount(
			slip.AssetOutHubReserve,
			slip.AssetOutDelta,
			Positive(dGrossForward),
			slip.MaxSlipFee,
			dGrossForward,
		)
		if !ok {
			return nil, false
		}
	}

	dNetForward, ok := num.SubBalance(dGrossForward, slipBuyAmount)
	if !ok {
		return nil, false
	}

	totalProtocolFee, ok := num.AddBalance(protocolFeeAmount, slipSellAmount)
	if !ok {
		return nil, false
	}
	totalProtocolFee, ok = num.AddBalance(totalProtocolFee, slipBuyAmount)
	if !ok {
		return nil, false
	}

	extraDenom := new(uint256.Int)
	if _, overflow := extraDenom.AddOverflow(assetOutState.HubReserve, dNetForward); overflow {
		return nil, false
	}
	extraBase, ok := num.MulDiv(extraDenom, dNetForward, assetOutState.HubReserve)
	if !ok || !num.FitsBalance(extraBase) {
		return nil, false
	}
	extraHubReserve := assetFee.MulFloor(extraBase)

	burnedProtocolFee := burnFee.MulFloor(totalProtocolFee)

	return &TradeStateChange{
		AssetIn: AssetStateChange{
			DeltaReserve:    Increase(deltaReserveIn),
			DeltaHubReserve: Decrease(deltaHubReserveIn),
		},
		AssetOut: AssetStateChange{
			DeltaReserve:          Decrease(amount),
			DeltaHubReserve:       Increase(dNetForward),
			ExtraHubReserveAmount: Increase(extraHubReserve),
		},
		Fee: TradeFee{
			AssetFee:          assetFeeAmount,
			ProtocolFee:       totalProtocolFee,
			BurnedProtocolFee: burnedProtocolFee,
		},
		HubFlowIn:  Negative(deltaHubReserveIn),
		HubFlowOut: Positive(dGrossForward),
	}, true
}

// CalculateBuyForHubStateChanges computes the one-sided deltas of buying
// an exact output amount with the hub asset as payment.
func CalculateBuyForHubStateChanges(
	assetOutState *AssetReserveState,
	assetOutAmount *uint256.Int,
	assetFee num.Fee,
	slip *HubTradeSlipFees,
) (*HubTradeStateChange, bool) {
	reserveNoFee := amountWithoutFee(assetOutState.Reserve, assetFee)
	hubDenominator, ok := num.SubBalance(reserveNoFee, assetOutAmount)
	if !ok || hubDenominator.IsZero() {
		return nil, false
	}

	dNet, ok := num.MulDiv(assetOutState.HubReserve, assetOutAmount, hubDenominator)
	if !ok {
		return nil, false
	}
	dNet.AddUint64(dNet, 1)
	if !num.FitsBalance(dNet) {
		return nil, false
	}

	// Slip paid on top of D_net by the buyer.
	slipBuyAmount := new(uint256.Int)
	if slip != nil {
		dGross, ok := invertBuySideSlip(dNet, slip.AssetHubReserve, slip.AssetDelta)
		if !ok {
			return nil, false
		}
		slipBuyAmount, ok = num.SubBalance(dGross, dNet)
		if !ok {
			return nil, false
		}
	}

	grossHub, ok := num.AddBalance(dNet, slipBuyAmount)
	if !ok {
		return nil, false
	}

	feeAmount := calculateFeeAmountForBuy(assetFee, assetOutAmount)

	// extra mint: assetFee * (Qout+dNet)*amount / (Rout*(1-assetFee)-amount)
	extraNum := new(uint256.Int)
	if _, overflow := extraNum.AddOverflow(assetOutState.HubReserve, dNet); overflow {
		return nil, false
	}
	if _, overflow := extraNum.MulOverflow(extraNum, assetOutAmount); overflow {
		return nil, false
	}
	if !num.FitsBalance(extraNum) {
		return nil, false
	}
	extraHubReserve := assetFee.MulFloor(extraNum)
	extraHubReserve.Div(extraHubReserve, hubDenominator)

	return &HubTradeStateChange{
		Asset: AssetStateChange{
			DeltaReserve:          Decrease(assetOutAmount),
			DeltaHubReserve:       Increase(dNet),
			ExtraHubReserveAmount: Increase(extraHubReserve),
		},
		Fee: TradeFee{
			AssetFee:          feeAmount,
			ProtocolFee:       slipBuyAmount,
			BurnedProtocolFee: new(uint256.Int),
		},
		HubFlow: Positive(grossHub),
	}, true
}

// =========================================================================
// Liquidity
// =========================================================================

// CalculateAddLiquidityStateChanges computes the deltas of providing the
// given amount of an asset: hub reserve grows at the current price and
// shares are issued pro rata.
func CalculateAddLiquidityStateChanges(
	assetState *AssetReserveState,
	amount *uint256.Int,
) (*LiquidityStateChange, bool) {
	price, ok := assetState.Price()
	if !ok {
		return nil, false
	}
	deltaHubReserve, ok := price.MulInt(amount)
	if !ok || !num.FitsBalance(deltaHubReserve) {
		return nil, false
	}

	deltaShares, ok := num.MulDiv(assetState.Shares, amount, assetState.Reserve)
	if !ok || !num.FitsBalance(deltaShares) {
		return nil, false
	}

	return &LiquidityStateChange{
		Asset: AssetStateChange{
			DeltaReserve:    Increase(amount),
			DeltaHubReserve: Increase(deltaHubReserve),
			DeltaShares:     Increase(deltaShares),
		},
		LPHubAmount:          new(uint256.Int),
		DeltaPositionReserve: Increase(amount),
		DeltaPositionShares:  Increase(deltaShares),
	}, true
}

// CalculateWithdrawalFee derives the remove-liquidity fee from the
// divergence between the pool's spot price and the oracle price, clamped
// into [minFee, 100%]. A zero oracle price yields the minimum fee.
func CalculateWithdrawalFee(spotPrice, oraclePrice num.Fixed, minWithdrawalFee num.Fee) num.Fixed {
	var priceDiff num.Fixed
	if oraclePrice.Cmp(spotPrice) <= 0 {
		priceDiff = spotPrice.SaturatingSub(oraclePrice)
	} else {
		priceDiff = oraclePrice.SaturatingSub(spotPrice)
	}

	minFee := num.FixedFromFee(minWithdrawalFee)
	if oraclePrice.IsZero() {
		return minFee
	}

	ratio, ok := priceDiff.Div(oraclePrice)
	if !ok {
		return minFee
	}
	return ratio.Clamp(minFee, num.FixedOne())
}

// CalculateRemoveLiquidityStateChanges computes the deltas of removing
// shares from a position. When the price fell below the entry price a
// portion of the shares converts to protocol shares (rounded up, against
// the provider); when it rose, part of the exit is paid out in hub asset.
func CalculateRemoveLiquidityStateChanges(
	assetState *AssetReserveState,
	sharesRemoved *uint256.Int,
	position *Position,
	withdrawalFee num.Fixed,
) (*LiquidityStateChange, bool) {
	currentPrice, ok := assetState.Price()
	if !ok {
		return nil, false
	}
	positionPrice, ok := position.EntryPrice()
	if !ok {
		return nil, false
	}

	// p_x_r = position price * current reserve + 1
	pxr, ok := positionPrice.MulInt(assetState.Reserve)
	if !ok {
		return nil, false
	}
	pxr.AddUint64(pxr, 1)

	// Protocol shares absorb the impermanent loss below entry price.
	deltaB := new(uint256.Int)
	if currentPrice.Cmp(positionPrice) < 0 {
		numer, ok := num.SubBalance(pxr, assetState.HubReserve)
		if !ok {
			return nil, false
		}
		denom := new(uint256.Int)
		if _, overflow := denom.AddOverflow(pxr, assetState.HubReserve); overflow {
			return nil, false
		}
		deltaB, ok = num.MulDiv(numer, sharesRemoved, denom)
		if !ok {
			return nil, false
		}
		deltaB.AddUint64(deltaB, 1)
	}

	deltaShares, ok := num.SubBalance(sharesRemoved, deltaB)
	if !ok {
		return nil, false
	}

	deltaReserve, ok := num.MulDiv(assetState.Reserve, deltaShares, assetState.Shares)
	if !ok {
		return nil, false
	}
	deltaHubReserve, ok := num.MulDiv(deltaReserve, assetState.HubReserve, assetState.Reserve)
	if !ok {
		return nil, false
	}
	deltaPositionAmount, ok := num.MulDiv(sharesRemoved, position.Amount, position.Shares)
	if !ok {
		return nil, false
	}

	// Above entry price the provider receives part of the exit in hub
	// asset.
	hubTransferred := new(uint256.Int)
	if currentPrice.Cmp(positionPrice) > 0 {
		sub, ok := num.SubBalance(assetState.HubReserve, pxr)
		if !ok {
			return nil, false
		}
		sum := new(uint256.Int)
		if _, overflow := sum.AddOverflow(assetState.HubReserve, pxr); overflow {
			return nil, false
		}
		div1, ok := num.MulDiv(assetState.HubReserve, sub, sum)
		if !ok {
			return nil, false
		}
		hubTransferred, ok = num.MulDiv(div1, deltaShares, assetState.Shares)
		if !ok || !num.FitsBalance(hubTransferred) {
			return nil, false
		}
	}

	feeComplement := num.FixedOne().SaturatingSub(withdrawalFee)
	deltaReserve, ok = feeComplement.MulInt(deltaReserve)
	if !ok {
		return nil, false
	}
	deltaHubReserve, ok = feeComplement.MulInt(deltaHubReserve)
	if !ok {
		return nil, false
	}
	hubTransferred, ok = feeComplement.MulInt(hubTransferred)
	if !ok {
		return nil, false
	}
	if !num.FitsBalance(deltaReserve) || !num.FitsBalance(deltaHubReserve) {
		return nil, false
	}

	return &LiquidityStateChange{
		Asset: AssetStateChange{
			DeltaReserve:        Decrease(deltaReserve),
			DeltaHubReserve:     Decrease(deltaHubReserve),
			DeltaShares:         Decrease(deltaShares),
			DeltaProtocolShares: Increase(deltaB),
		},
		LPHubAmount:          hubTransferred,
		DeltaPositionReserve: Decrease(deltaPositionAmount),
		DeltaPositionShares:  Decrease(sharesRemoved),
	}, true
}

// =========================================================================
// Prices and caps
// =========================================================================

// CalculateSpotPrice returns the price of assetA denominated in assetB,
// optionally adjusted by a (protocolFee, assetFee) pair the way a sell
// would charge them.
func CalculateSpotPrice(assetA, assetB *AssetReserveState, withFees bool, protocolFee, assetFee num.Fee) (num.Fixed, bool) {
	priceA, ok := num.FixedFromRational(assetA.HubReserve, assetA.Reserve)
	if !ok {
		return num.Fixed{}, false
	}
	priceB, ok := num.FixedFromRational(assetB.Reserve, assetB.HubReserve)
	if !ok {
		return num.Fixed{}, false
	}
	spot, ok := priceA.Mul(priceB)
	if !ok {
		return num.Fixed{}, false
	}

	if !withFees {
		return spot, true
	}

	spot, ok = spot.Mul(num.FixedFromFee(protocolFee.Complement()))
	if !ok {
		return num.Fixed{}, false
	}
	return spot.Mul(num.FixedFromFee(assetFee.Complement()))
}

// CalculateHubSpotPrice returns the price of the hub asset denominated in
// the given asset, optionally net of the asset fee. No protocol fee
// applies when the hub asset is sold.
func CalculateHubSpotPrice(asset *AssetReserveState, withFee bool, assetFee num.Fee) (num.Fixed, bool) {
	spot, ok := num.FixedFromRational(asset.Reserve, asset.HubReserve)
	if !ok {
		return num.Fixed{}, false
	}
	if !withFee {
		return spot, true
	}
	return spot.Mul(num.FixedFromFee(assetFee.Complement()))
}

// VerifyAssetCap reports whether adding hubAmount to the asset's hub
// reserve keeps its weight within the configured cap.
func VerifyAssetCap(asset *AssetReserveState, cap uint64, hubAmount, totalHubReserve *uint256.Int) (bool, bool) {
	n := new(uint256.Int)
	if _, overflow := n.AddOverflow(asset.HubReserve, hubAmount); overflow {
		return false, false
	}
	d := new(uint256.Int)
	if _, overflow := d.AddOverflow(totalHubReserve, hubAmount); overflow {
		return false, false
	}
	weight, ok := num.FixedFromRational(n, d)
	if !ok {
		return false, false
	}
	weightCap := num.FixedFromInner(uint256.NewInt(cap))
	return weight.Cmp(weightCap) <= 0, true
}

// CalculateBurnAmountBasedOnFeeTaken apportions the extra hub-reserve
// mint to a fee share taken out of the pool, so the mint can be unwound
// when part of the asset fee is redirected.
func CalculateBurnAmountBasedOnFeeTaken(takenFee, totalFeeAmount, extraHubAmount *uint256.Int) *uint256.Int {
	if totalFeeAmount.IsZero() {
		return new(uint256.Int)
	}
	v, ok := num.MulDiv(takenFee, extraHubAmount, totalFeeAmount)
	if !ok {
		return new(uint256.Int)
	}
	return v
}
