// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package omnipool

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/omnipool/num"
)

func TestStorageRoundTrip(t *testing.T) {
	fees := StaticFees{AssetFee: num.FeeFromParts(2_500), ProtocolFee: num.FeeFromParts(500)}
	l := bootstrapped(t, fees)

	_, err := l.Sell(assetA, assetB, unit(100_000), new(uint256.Int))
	require.NoError(t, err)
	require.NoError(t, l.SetTradability(assetB, CanSell|CanBuy))

	store := NewMemStore()
	l.SaveTo(store)

	restored := testLedger(t, fees)
	restored.LoadFrom(store)

	require.Equal(t, l.HubAssetIssuance(), restored.HubAssetIssuance())
	require.Equal(t, l.CurrentBlock(), restored.CurrentBlock())

	for _, id := range []AssetID{nativeAsset, assetA, assetB} {
		want, ok := l.AssetState(id)
		require.True(t, ok)
		got, ok := restored.AssetState(id)
		require.True(t, ok)
		require.Equal(t, want, got)
	}

	// the restored pool trades identically once both start a fresh block
	l.AdvanceBlock(2)
	restored.AdvanceBlock(2)
	wantResult, err := l.Sell(assetA, assetB, unit(50_000), new(uint256.Int))
	require.NoError(t, err)
	gotResult, err := restored.Sell(assetA, assetB, unit(50_000), new(uint256.Int))
	require.NoError(t, err)
	require.Equal(t, wantResult.AmountOut, gotResult.AmountOut)
}

func TestStorageKeysAreDistinct(t *testing.T) {
	seen := map[[32]byte]bool{
		makeStorageKey(poolMetaPrefix):      true,
		makeStorageKey(poolIssuancePref):    true,
		makeStorageKey(assetIndexPrefix, 0): true,
	}
	for id := uint32(0); id < 8; id++ {
		for slot := uint32(slotReserve); slot <= slotAssetMeta; slot++ {
			key := makeStorageKey(assetStatePrefix, id, slot)
			require.False(t, seen[key])
			seen[key] = true
		}
	}
}
