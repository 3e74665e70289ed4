// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package dynfee adjusts the per-asset trading fees from oracle-observed
// volume. Fees rise with one-sided flow against the pool and decay back
// toward their minimum when flow subsides. The asset fee reacts to net
// outflow, the protocol fee to net inflow.
package dynfee

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"
	log "github.com/luxfi/log"

	"github.com/luxfi/omnipool"
	"github.com/luxfi/omnipool/num"
)

// Params are the bounds and reaction coefficients of one fee.
type Params struct {
	MinFee num.Fee
	MaxFee num.Fee

	// Decay pulls the fee toward MinFee per block without volume.
	Decay num.Fixed

	// Amplification scales the volume-to-liquidity ratio.
	Amplification num.Fixed
}

// Validate checks the params for values that would break the update rule.
func (p Params) Validate() error {
	if p.MinFee > p.MaxFee {
		return errors.New("min fee above max fee")
	}
	if p.Amplification.IsZero() {
		return errors.New("amplification is zero")
	}
	return nil
}

// Config pairs the asset-fee and protocol-fee parameters.
type Config struct {
	AssetFeeParams    Params
	ProtocolFeeParams Params
}

// Validate checks both parameter sets.
func (c Config) Validate() error {
	if err := c.AssetFeeParams.Validate(); err != nil {
		return err
	}
	return c.ProtocolFeeParams.Validate()
}

// OracleEntry is one asset's observed flow: traded volume in and out of
// the pool, the oracle's liquidity reading and its per-block smoothing
// factor.
type OracleEntry struct {
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	Liquidity *uint256.Int

	// DecayFactor is the oracle's smoothing weight w in (0, 1]; zero
	// means the oracle does not smooth.
	DecayFactor num.Fixed
}

// Oracle provides per-asset volume entries.
type Oracle interface {
	Entry(asset omnipool.AssetID) (*OracleEntry, bool)
}

// FeeEntry is the stored fee pair for an asset, tagged with the block it
// was computed at.
type FeeEntry struct {
	AssetFee    num.Fee
	ProtocolFee num.Fee
	Timestamp   uint64
}

// Engine computes and stores the dynamic fees. It implements
// omnipool.FeeSource.
type Engine struct {
	mu sync.RWMutex

	log    log.Logger
	cfg    Config
	oracle Oracle

	fees map[omnipool.AssetID]FeeEntry
}

// NewEngine creates a fee engine. A nil logger falls back to a test
// logger at info level.
func NewEngine(cfg Config, oracle Oracle, logger log.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &Engine{
		log:    logger,
		cfg:    cfg,
		oracle: oracle,
		fees:   make(map[omnipool.AssetID]FeeEntry),
	}, nil
}

// GetAndStore returns the asset's fees for the given block, recomputing
// and storing them at most once per block. It never fails: without an
// oracle entry the previous fees stand.
func (e *Engine) GetAndStore(asset omnipool.AssetID, block uint64) (num.Fee, num.Fee) {
	e.mu.Lock()
	defer e.mu.Unlock()

	current, ok := e.fees[asset]
	if !ok {
		current = FeeEntry{
			AssetFee:    e.cfg.AssetFeeParams.MinFee,
			ProtocolFee: e.cfg.ProtocolFeeParams.MinFee,
		}
	}
	if ok && current.Timestamp == block {
		return current.AssetFee, current.ProtocolFee
	}

	blockDiff := block - current.Timestamp
	if !ok {
		blockDiff = block
	}

	entry, found := e.oracle.Entry(asset)
	if !found || entry.Liquidity == nil || entry.Liquidity.IsZero() {
		return current.AssetFee, current.ProtocolFee
	}

	assetFee := recalculateFee(entry, current.AssetFee, blockDiff, e.cfg.AssetFeeParams, netOutIn)
	protocolFee := recalculateFee(entry, current.ProtocolFee, blockDiff, e.cfg.ProtocolFeeParams, netInOut)

	e.fees[asset] = FeeEntry{
		AssetFee:    assetFee,
		ProtocolFee: protocolFee,
		Timestamp:   block,
	}

	e.log.Debug("fees updated", "asset", asset, "block", block,
		"assetFee", assetFee.Parts(), "protocolFee", protocolFee.Parts())
	return assetFee, protocolFee
}

// Get returns the stored fees without recomputing, falling back to the
// configured minimums.
func (e *Engine) Get(asset omnipool.AssetID) (num.Fee, num.Fee) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	entry, ok := e.fees[asset]
	if !ok {
		return e.cfg.AssetFeeParams.MinFee, e.cfg.ProtocolFeeParams.MinFee
	}
	return entry.AssetFee, entry.ProtocolFee
}

// Clear drops the stored entry for a delisted asset.
func (e *Engine) Clear(asset omnipool.AssetID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.fees, asset)
}

// =========================================================================
// Update rule
// =========================================================================

type netDirection int

const (
	// netOutIn reacts to net outflow: amount_out - amount_in.
	netOutIn netDirection = iota
	// netInOut reacts to net inflow: amount_in - amount_out.
	netInOut
)

// recalculateFee applies the fee update rule:
//
//	fee' = clamp(fee + amplification*(net/liquidity)*growth - decay*blocks, min, max)
//
// where growth compounds the oracle's smoothing factor over the elapsed
// blocks: (1-(1-w)^blocks)/w, or just blocks when w is zero.
func recalculateFee(entry *OracleEntry, previous num.Fee, blockDiff uint64, params Params, dir netDirection) num.Fee {
	if blockDiff == 0 {
		return previous
	}

	var netVolume *uint256.Int
	positive := false
	switch dir {
	case netOutIn:
		if entry.AmountOut.Cmp(entry.AmountIn) >= 0 {
			netVolume = new(uint256.Int).Sub(entry.AmountOut, entry.AmountIn)
			positive = true
		} else {
			netVolume = new(uint256.Int).Sub(entry.AmountIn, entry.AmountOut)
		}
	default:
		if entry.AmountIn.Cmp(entry.AmountOut) >= 0 {
			netVolume = new(uint256.Int).Sub(entry.AmountIn, entry.AmountOut)
			positive = true
		} else {
			netVolume = new(uint256.Int).Sub(entry.AmountOut, entry.AmountIn)
		}
	}

	x, ok := num.FixedFromRational(netVolume, entry.Liquidity)
	if !ok {
		return previous
	}

	growth := growthFactor(entry.DecayFactor, blockDiff)
	delta, ok := params.Amplification.Mul(x)
	if !ok {
		return previous
	}
	delta, ok = delta.Mul(growth)
	if !ok {
		return previous
	}

	fee := num.FixedFromFee(previous)
	if positive {
		fee = num.FixedFromInner(new(uint256.Int).Add(fee.Inner(), delta.Inner()))
	} else {
		fee = fee.SaturatingSub(delta)
	}

	if !params.Decay.IsZero() {
		decayTerm, ok := params.Decay.Mul(fixedFromUint(blockDiff))
		if !ok {
			return previous
		}
		fee = fee.SaturatingSub(decayTerm)
	}

	fee = fee.Clamp(num.FixedFromFee(params.MinFee), num.FixedFromFee(params.MaxFee))
	return num.FeeFromFixed(fee)
}

// growthFactor returns (1-(1-w)^n)/w, the closed form of n blocks of
// oracle smoothing, or n when w is zero.
func growthFactor(w num.Fixed, n uint64) num.Fixed {
	if w.IsZero() {
		return fixedFromUint(n)
	}

	complement := num.FixedOne().SaturatingSub(w)
	pow := fixedPow(complement, n)
	numerator := num.FixedOne().SaturatingSub(pow)
	g, ok := numerator.Div(w)
	if !ok {
		return fixedFromUint(n)
	}
	return g
}

func fixedFromUint(n uint64) num.Fixed {
	return num.FixedFromInner(new(uint256.Int).Mul(uint256.NewInt(n), num.FixedDiv))
}

// fixedPow computes base^n by squaring, rounding down at each step.
func fixedPow(base num.Fixed, n uint64) num.Fixed {
	result := num.FixedOne()
	for n > 0 {
		if n&1 == 1 {
			r, ok := result.Mul(base)
			if !ok {
				return num.FixedZero()
			}
			result = r
		}
		n >>= 1
		if n > 0 {
			b, ok := base.Mul(base)
			if !ok {
				return num.FixedZero()
			}
			base = b
		}
	}
	return result
}
