// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package omnipool

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/omnipool/num"
)

const (
	hubAsset    AssetID = 1
	nativeAsset AssetID = 0
	assetA      AssetID = 100
	assetB      AssetID = 200
)

func testLedger(t *testing.T, fees FeeSource) *Ledger {
	t.Helper()
	cfg := Config{
		HubAssetID:      hubAsset,
		NativeAssetID:   nativeAsset,
		MinTradingLimit: uint256.NewInt(1000),
		MaxInRatio:      3,
		MaxOutRatio:     3,
		MaxSlipFee:      num.FeeFromPercent(5),
		BurnFee:         num.FeeFromPercent(50),
	}
	l, err := NewLedger(cfg, fees, nil)
	require.NoError(t, err)
	return l
}

func bootstrapped(t *testing.T, fees FeeSource) *Ledger {
	t.Helper()
	l := testLedger(t, fees)
	_, err := l.AddToken(nativeAsset, unit(1_000_000), unit(500_000), 1_000_000_000_000_000_000, TradabilityDefault)
	require.NoError(t, err)
	_, err = l.AddToken(assetA, unit(10_000_000), unit(10_000_000), 1_000_000_000_000_000_000, TradabilityDefault)
	require.NoError(t, err)
	_, err = l.AddToken(assetB, unit(500_000), unit(5_000_000), 1_000_000_000_000_000_000, TradabilityDefault)
	require.NoError(t, err)
	l.AdvanceBlock(1)
	return l
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{HubAssetID: 1, NativeAssetID: 1}
	require.Error(t, cfg.Validate())

	cfg = Config{HubAssetID: 1, NativeAssetID: 0}
	require.NoError(t, cfg.Validate())
}

func TestAddTokenLifecycle(t *testing.T) {
	l := testLedger(t, StaticFees{})

	position, err := l.AddToken(assetA, unit(1000), unit(2000), 1_000_000_000_000_000_000, TradabilityDefault)
	require.NoError(t, err)
	require.Equal(t, unit(1000), position.Shares)

	_, err = l.AddToken(assetA, unit(1000), unit(2000), 1_000_000_000_000_000_000, TradabilityDefault)
	require.ErrorIs(t, err, ErrAssetAlreadyListed)

	_, err = l.AddToken(hubAsset, unit(1000), unit(2000), 1_000_000_000_000_000_000, TradabilityDefault)
	require.ErrorIs(t, err, ErrNotAllowed)

	_, err = l.AddToken(assetB, new(uint256.Int), unit(2000), 1_000_000_000_000_000_000, TradabilityDefault)
	require.ErrorIs(t, err, ErrMissingReserve)

	require.Equal(t, unit(2000), l.HubAssetIssuance())
}

func TestRemoveToken(t *testing.T) {
	l := testLedger(t, StaticFees{})

	position, err := l.AddToken(assetA, unit(1000), unit(2000), 1_000_000_000_000_000_000, TradabilityDefault)
	require.NoError(t, err)

	require.ErrorIs(t, l.RemoveToken(assetB), ErrAssetNotFound)
	require.ErrorIs(t, l.RemoveToken(assetA), ErrAssetNotFrozen)

	require.NoError(t, l.SetTradability(assetA, TradabilityFrozen))
	require.ErrorIs(t, l.RemoveToken(assetA), ErrSharesRemaining)

	// withdraw everything, then delist
	require.NoError(t, l.SetTradability(assetA, CanRemoveLiquidity))
	spot, _ := num.FixedFromRational(unit(2000), unit(1000))
	_, err = l.RemoveLiquidity(assetA, position, position.Shares, spot)
	require.NoError(t, err)

	require.NoError(t, l.SetTradability(assetA, TradabilityFrozen))
	require.NoError(t, l.RemoveToken(assetA))
	_, ok := l.AssetState(assetA)
	require.False(t, ok)
	require.True(t, l.HubAssetIssuance().IsZero())
}

func TestSellValidation(t *testing.T) {
	l := bootstrapped(t, StaticFees{})

	_, err := l.Sell(assetA, assetA, unit(10), new(uint256.Int))
	require.ErrorIs(t, err, ErrNotAllowed)

	_, err = l.Sell(assetA, assetB, uint256.NewInt(10), new(uint256.Int))
	require.ErrorIs(t, err, ErrTradeTooSmall)

	_, err = l.Sell(assetA, hubAsset, unit(10), new(uint256.Int))
	require.ErrorIs(t, err, ErrNotAllowed)

	_, err = l.Sell(AssetID(999), assetB, unit(10), new(uint256.Int))
	require.ErrorIs(t, err, ErrAssetNotFound)

	// a third of the reserve is the most a single trade may move
	_, err = l.Sell(assetA, assetB, unit(4_000_000), new(uint256.Int))
	require.ErrorIs(t, err, ErrTradeTooLarge)

	require.NoError(t, l.SetTradability(assetA, CanBuy))
	_, err = l.Sell(assetA, assetB, unit(10), new(uint256.Int))
	require.ErrorIs(t, err, ErrNotAllowed)

	require.NoError(t, l.SetTradability(assetA, TradabilityDefault))
	_, err = l.Sell(assetA, assetB, unit(10), unit(1_000_000))
	require.ErrorIs(t, err, ErrLimitNotMet)
}

func TestBuyValidation(t *testing.T) {
	l := bootstrapped(t, StaticFees{})

	_, err := l.Buy(hubAsset, assetA, unit(10), unit(1_000_000))
	require.ErrorIs(t, err, ErrNotAllowed)

	_, err = l.Buy(assetB, assetA, unit(10), uint256.NewInt(1))
	require.ErrorIs(t, err, ErrLimitNotMet)

	_, err = l.Buy(assetB, assetA, unit(600_000), unit(100_000_000))
	require.ErrorIs(t, err, ErrInsufficientLiquidity)

	_, err = l.Buy(assetB, assetA, unit(400_000), unit(100_000_000))
	require.ErrorIs(t, err, ErrTradeTooLarge)
}

func TestSellKeepsHubConservation(t *testing.T) {
	fees := StaticFees{AssetFee: num.FeeFromParts(2_500), ProtocolFee: num.FeeFromParts(500)}
	l := bootstrapped(t, fees)

	result, err := l.Sell(assetA, assetB, unit(100_000), new(uint256.Int))
	require.NoError(t, err)
	require.True(t, result.AmountOut.Gt(new(uint256.Int)))

	require.Equal(t, l.TotalHubReserve(), l.HubAssetIssuance())

	// the in-asset reserve grew by exactly the sold amount
	state, ok := l.AssetState(assetA)
	require.True(t, ok)
	want := new(uint256.Int).Add(unit(10_000_000), unit(100_000))
	require.Equal(t, want, state.Reserve)
}

func TestBuyKeepsHubConservation(t *testing.T) {
	fees := StaticFees{AssetFee: num.FeeFromParts(2_500), ProtocolFee: num.FeeFromParts(500)}
	l := bootstrapped(t, fees)

	result, err := l.Buy(assetB, assetA, unit(10_000), unit(100_000_000))
	require.NoError(t, err)
	require.True(t, result.AmountIn.Gt(new(uint256.Int)))

	require.Equal(t, l.TotalHubReserve(), l.HubAssetIssuance())

	state, ok := l.AssetState(assetB)
	require.True(t, ok)
	want := new(uint256.Int).Sub(unit(500_000), unit(10_000))
	require.Equal(t, want, state.Reserve)
}

func TestProtocolFeeAccruesToNativeAsset(t *testing.T) {
	fees := StaticFees{ProtocolFee: num.FeeFromParts(500)}
	l := bootstrapped(t, fees)

	before, _ := l.AssetState(nativeAsset)

	_, err := l.Sell(assetA, assetB, unit(100_000), new(uint256.Int))
	require.NoError(t, err)

	// half the protocol fee burns, the rest credits the native asset
	after, _ := l.AssetState(nativeAsset)
	require.True(t, after.HubReserve.Gt(before.HubReserve))
	require.Equal(t, l.TotalHubReserve(), l.HubAssetIssuance())
}

func TestHubAssetTrades(t *testing.T) {
	fees := StaticFees{AssetFee: num.FeeFromParts(2_500)}
	l := bootstrapped(t, fees)

	sellResult, err := l.Sell(hubAsset, assetA, unit(10_000), new(uint256.Int))
	require.NoError(t, err)
	require.True(t, sellResult.AmountOut.Gt(new(uint256.Int)))
	require.Equal(t, l.TotalHubReserve(), l.HubAssetIssuance())

	buyResult, err := l.Buy(assetB, hubAsset, unit(1_000), unit(100_000_000))
	require.NoError(t, err)
	require.True(t, buyResult.AmountIn.Gt(new(uint256.Int)))
	require.Equal(t, l.TotalHubReserve(), l.HubAssetIssuance())

	// the hub asset itself cannot be bought
	_, err = l.Buy(hubAsset, assetA, unit(1_000), unit(100_000_000))
	require.ErrorIs(t, err, ErrNotAllowed)
}

func TestSlipSurchargeGrowsWithinBlock(t *testing.T) {
	fees := StaticFees{}
	first := bootstrapped(t, fees)
	second := bootstrapped(t, fees)

	// one big trade pays more than the same volume in the next block
	r1, err := first.Sell(assetA, assetB, unit(100_000), new(uint256.Int))
	require.NoError(t, err)
	r2, err := first.Sell(assetA, assetB, unit(100_000), new(uint256.Int))
	require.NoError(t, err)
	require.True(t, r2.AmountOut.Lt(r1.AmountOut))

	_, err = second.Sell(assetA, assetB, unit(100_000), new(uint256.Int))
	require.NoError(t, err)
	second.AdvanceBlock(2)
	r4, err := second.Sell(assetA, assetB, unit(100_000), new(uint256.Int))
	require.NoError(t, err)

	// resetting the block flow resets the surcharge
	require.True(t, r4.AmountOut.Gt(r2.AmountOut))
}

func TestAddAndRemoveLiquidity(t *testing.T) {
	l := bootstrapped(t, StaticFees{})

	position, err := l.AddLiquidity(assetA, unit(100_000))
	require.NoError(t, err)
	require.Equal(t, unit(100_000), position.Shares)
	require.Equal(t, l.TotalHubReserve(), l.HubAssetIssuance())

	spot, _ := num.FixedFromRational(unit(10_000_000), unit(10_000_000))
	result, err := l.RemoveLiquidity(assetA, position, position.Shares, spot)
	require.NoError(t, err)
	require.Nil(t, result.Position)
	require.Equal(t, l.TotalHubReserve(), l.HubAssetIssuance())

	// round trip at unchanged price returns the provided amount
	requireWithin(t, unit(100_000), result.AssetAmount, 2)
}

func TestRemoveLiquidityPartial(t *testing.T) {
	l := bootstrapped(t, StaticFees{})

	position, err := l.AddLiquidity(assetA, unit(100_000))
	require.NoError(t, err)

	spot, _ := num.FixedFromRational(unit(10_000_000), unit(10_000_000))
	half := new(uint256.Int).Div(position.Shares, uint256.NewInt(2))
	result, err := l.RemoveLiquidity(assetA, position, half, spot)
	require.NoError(t, err)
	require.NotNil(t, result.Position)
	require.Equal(t, half, result.Position.Shares)

	_, err = l.RemoveLiquidity(assetA, result.Position, position.Shares, spot)
	require.ErrorIs(t, err, ErrInsufficientShares)
}

func TestAddLiquidityRespectsCap(t *testing.T) {
	l := testLedger(t, StaticFees{})

	_, err := l.AddToken(assetA, unit(1000), unit(2000), 1_000_000_000_000_000_000, TradabilityDefault)
	require.NoError(t, err)
	// assetB capped at 40% weight, currently at 50%
	_, err = l.AddToken(assetB, unit(1000), unit(2000), 400_000_000_000_000_000, TradabilityDefault)
	require.NoError(t, err)

	_, err = l.AddLiquidity(assetB, unit(1000))
	require.ErrorIs(t, err, ErrCapExceeded)
}

func routingLedger(t *testing.T, pf num.Fee) *Ledger {
	t.Helper()
	cfg := Config{
		HubAssetID:      hubAsset,
		NativeAssetID:   nativeAsset,
		MinTradingLimit: uint256.NewInt(1000),
		MaxInRatio:      3,
		MaxOutRatio:     3,
	}
	l, err := NewLedger(cfg, StaticFees{ProtocolFee: pf}, nil)
	require.NoError(t, err)
	_, err = l.AddToken(nativeAsset, unit(1_000_000), unit(500_000), 1_000_000_000_000_000_000, TradabilityDefault)
	require.NoError(t, err)
	_, err = l.AddToken(assetA, unit(10_000_000), unit(10_000_000), 1_000_000_000_000_000_000, TradabilityDefault)
	require.NoError(t, err)
	_, err = l.AddToken(assetB, unit(500_000), unit(5_000_000), 1_000_000_000_000_000_000, TradabilityDefault)
	require.NoError(t, err)
	l.AdvanceBlock(1)
	return l
}

func TestProtocolFeeRoutingKeepsIssuance(t *testing.T) {
	l := routingLedger(t, num.FeeFromPercent(10))

	issuance := l.HubAssetIssuance()
	before, _ := l.AssetState(nativeAsset)

	_, err := l.Sell(assetA, assetB, unit(100_000), new(uint256.Int))
	require.NoError(t, err)

	// the skimmed fee moves hub asset to the native side without minting
	after, _ := l.AssetState(nativeAsset)
	require.True(t, after.HubReserve.Gt(before.HubReserve))
	require.Equal(t, issuance, l.HubAssetIssuance())
	require.Equal(t, l.TotalHubReserve(), l.HubAssetIssuance())
}

func TestZeroProtocolFeeLeavesNativeUntouched(t *testing.T) {
	l := routingLedger(t, 0)

	before, _ := l.AssetState(nativeAsset)

	_, err := l.Sell(assetA, assetB, unit(100_000), new(uint256.Int))
	require.NoError(t, err)

	after, _ := l.AssetState(nativeAsset)
	require.Equal(t, before.HubReserve, after.HubReserve)
	require.Equal(t, l.TotalHubReserve(), l.HubAssetIssuance())
}
