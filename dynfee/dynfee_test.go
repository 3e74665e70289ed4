// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package dynfee

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/omnipool"
	"github.com/luxfi/omnipool/num"
)

type mapOracle map[omnipool.AssetID]*OracleEntry

func (m mapOracle) Entry(asset omnipool.AssetID) (*OracleEntry, bool) {
	e, ok := m[asset]
	return e, ok
}

func fixedRational(n, d uint64) num.Fixed {
	f, ok := num.FixedFromRational(uint256.NewInt(n), uint256.NewInt(d))
	if !ok {
		panic("bad rational")
	}
	return f
}

func entry(amountIn, amountOut, liquidity uint64) *OracleEntry {
	return &OracleEntry{
		AmountIn:    uint256.NewInt(amountIn),
		AmountOut:   uint256.NewInt(amountOut),
		Liquidity:   uint256.NewInt(liquidity),
		DecayFactor: fixedRational(2, 10),
	}
}

func testParams() Params {
	return Params{
		MinFee:        num.FeeFromPercent(1),
		MaxFee:        num.FeeFromPercent(30),
		Decay:         num.FixedZero(),
		Amplification: fixedRational(2, 1),
	}
}

func TestRecalculateFeeVectors(t *testing.T) {
	tests := []struct {
		name  string
		entry *OracleEntry
		dir   netDirection
		want  uint32
	}{
		{"asset fee drops on net inflow", entry(25, 20, 1000), netOutIn, 90_000},
		{"asset fee rises on net outflow", entry(5, 20, 1000), netOutIn, 130_000},
		{"protocol fee drops on net outflow", entry(5, 20, 1000), netInOut, 70_000},
		{"protocol fee rises on net inflow", entry(25, 20, 1000), netInOut, 110_000},
	}
	previous := num.FeeFromPercent(10)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recalculateFee(tt.entry, previous, 1, testParams(), tt.dir)
			require.Equal(t, tt.want, got.Parts())
		})
	}
}

func TestRecalculateFeeClampsToMax(t *testing.T) {
	params := testParams()
	params.Decay = fixedRational(1, 1000)

	got := recalculateFee(entry(5, 20, 100), num.FeeFromPercent(10), 3, params, netOutIn)
	require.Equal(t, num.FeeFromPercent(30), got)
}

func TestRecalculateFeeDecaysToMin(t *testing.T) {
	params := testParams()
	params.Decay = fixedRational(2, 10)

	// balanced flow leaves only the decay pull
	got := recalculateFee(entry(20, 20, 1000), num.FeeFromPercent(10), 1, params, netOutIn)
	require.Equal(t, num.FeeFromPercent(1), got)
}

func TestRecalculateFeeZeroBlockDiff(t *testing.T) {
	previous := num.FeeFromPercent(7)
	got := recalculateFee(entry(5, 20, 1000), previous, 0, testParams(), netOutIn)
	require.Equal(t, previous, got)
}

func TestGrowthFactorCompoundsBlocks(t *testing.T) {
	// w=0.2 over 3 blocks: (1-0.8^3)/0.2 = 2.44
	g := growthFactor(fixedRational(2, 10), 3)
	require.Equal(t, fixedRational(244, 100), g)

	// without smoothing the factor is the block count
	g = growthFactor(num.FixedZero(), 5)
	require.Equal(t, fixedRational(5, 1), g)

	require.Equal(t, num.FixedOne(), growthFactor(fixedRational(2, 10), 1))
}

func TestEngineValidation(t *testing.T) {
	cfg := Config{AssetFeeParams: testParams(), ProtocolFeeParams: testParams()}
	cfg.AssetFeeParams.MinFee = num.FeeFromPercent(40)
	_, err := NewEngine(cfg, mapOracle{}, nil)
	require.Error(t, err)

	cfg = Config{AssetFeeParams: testParams(), ProtocolFeeParams: testParams()}
	cfg.ProtocolFeeParams.Amplification = num.FixedZero()
	_, err = NewEngine(cfg, mapOracle{}, nil)
	require.Error(t, err)

	cfg = Config{AssetFeeParams: testParams(), ProtocolFeeParams: testParams()}
	_, err = NewEngine(cfg, mapOracle{}, nil)
	require.NoError(t, err)
}

func TestEngineUpdatesOncePerBlock(t *testing.T) {
	oracle := mapOracle{1: entry(5, 20, 1000)}
	cfg := Config{AssetFeeParams: testParams(), ProtocolFeeParams: testParams()}
	cfg.AssetFeeParams.MinFee = num.FeeFromPercent(10)
	cfg.ProtocolFeeParams.MinFee = num.FeeFromPercent(10)

	e, err := NewEngine(cfg, oracle, nil)
	require.NoError(t, err)

	assetFee, protocolFee := e.GetAndStore(1, 1)
	require.Equal(t, uint32(130_000), assetFee.Parts())
	require.Equal(t, uint32(100_000), protocolFee.Parts())

	// a different oracle reading within the same block changes nothing
	oracle[1] = entry(1000, 2000, 1000)
	assetFee, protocolFee = e.GetAndStore(1, 1)
	require.Equal(t, uint32(130_000), assetFee.Parts())
	require.Equal(t, uint32(100_000), protocolFee.Parts())
	require.Equal(t, uint64(1), e.fees[1].Timestamp)

	// the next block picks up the new reading and restamps the entry
	assetFee, _ = e.GetAndStore(1, 2)
	require.Equal(t, num.FeeFromPercent(30), assetFee)
	require.Equal(t, uint64(2), e.fees[1].Timestamp)
}

func TestEngineKeepsFeesWithoutOracle(t *testing.T) {
	oracle := mapOracle{1: entry(5, 20, 1000)}
	cfg := Config{AssetFeeParams: testParams(), ProtocolFeeParams: testParams()}
	e, err := NewEngine(cfg, oracle, nil)
	require.NoError(t, err)

	assetFee, _ := e.GetAndStore(1, 1)
	require.Equal(t, uint32(40_000), assetFee.Parts())

	// oracle goes dark: fees freeze at their last value
	delete(oracle, 1)
	frozen, _ := e.GetAndStore(1, 2)
	require.Equal(t, assetFee, frozen)

	// a dead liquidity reading freezes them too
	oracle[1] = entry(5, 20, 0)
	frozen, _ = e.GetAndStore(1, 3)
	require.Equal(t, assetFee, frozen)

	// unknown assets quote the configured minimum
	a, p := e.Get(2)
	require.Equal(t, cfg.AssetFeeParams.MinFee, a)
	require.Equal(t, cfg.ProtocolFeeParams.MinFee, p)
}

func TestEngineClear(t *testing.T) {
	oracle := mapOracle{1: entry(5, 20, 1000)}
	cfg := Config{AssetFeeParams: testParams(), ProtocolFeeParams: testParams()}
	e, err := NewEngine(cfg, oracle, nil)
	require.NoError(t, err)

	assetFee, _ := e.GetAndStore(1, 1)
	require.NotEqual(t, cfg.AssetFeeParams.MinFee, assetFee)

	e.Clear(1)
	a, _ := e.Get(1)
	require.Equal(t, cfg.AssetFeeParams.MinFee, a)
}
