// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package omnipool

import (
	"github.com/holiman/uint256"

	"github.com/luxfi/omnipool/num"
)

// FeePair is an asset's trading fee pair.
type FeePair struct {
	AssetFee    num.Fee
	ProtocolFee num.Fee
}

// Ratio is a price as a reduced rational number.
type Ratio struct {
	N *uint256.Int
	D *uint256.Int
}

// Snapshot is a detached copy of the pool used for what-if simulation.
// Simulations never touch the ledger and ignore the block-scoped slip
// surcharge, which depends on live per-block flow.
type Snapshot struct {
	Assets map[AssetID]*AssetReserveState
	Fees   map[AssetID]FeePair

	HubAssetID      AssetID
	MinTradingLimit *uint256.Int
	MaxInRatio      uint64
	MaxOutRatio     uint64
}

// Snapshot returns a detached copy of the pool's current state with the
// fees the FeeSource currently reports.
func (l *Ledger) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	assets := make(map[AssetID]*AssetReserveState, len(l.assets))
	fees := make(map[AssetID]FeePair, len(l.assets))
	for id, state := range l.assets {
		assets[id] = state.Clone()
		assetFee, protocolFee := l.fees.Get(id)
		fees[id] = FeePair{AssetFee: assetFee, ProtocolFee: protocolFee}
	}

	return &Snapshot{
		Assets:          assets,
		Fees:            fees,
		HubAssetID:      l.cfg.HubAssetID,
		MinTradingLimit: new(uint256.Int).Set(l.cfg.MinTradingLimit),
		MaxInRatio:      l.cfg.MaxInRatio,
		MaxOutRatio:     l.cfg.MaxOutRatio,
	}
}

// Asset returns the reserve state of an asset, if listed.
func (s *Snapshot) Asset(id AssetID) (*AssetReserveState, bool) {
	state, ok := s.Assets[id]
	return state, ok
}

// GetFees returns an asset's fee pair, zero when unknown.
func (s *Snapshot) GetFees(id AssetID) FeePair {
	return s.Fees[id]
}

// WithUpdatedAsset returns a copy of the snapshot with one asset's state
// replaced.
func (s *Snapshot) WithUpdatedAsset(id AssetID, state *AssetReserveState) *Snapshot {
	assets := make(map[AssetID]*AssetReserveState, len(s.Assets))
	for k, v := range s.Assets {
		assets[k] = v
	}
	assets[id] = state

	return &Snapshot{
		Assets:          assets,
		Fees:            s.Fees,
		HubAssetID:      s.HubAssetID,
		MinTradingLimit: s.MinTradingLimit,
		MaxInRatio:      s.MaxInRatio,
		MaxOutRatio:     s.MaxOutRatio,
	}
}

// CanTrade reports whether the pair can be traded through the snapshot.
// Hub asset trades are excluded from simulation.
func (s *Snapshot) CanTrade(assetIn, assetOut AssetID) bool {
	if assetIn == s.HubAssetID || assetOut == s.HubAssetID {
		return false
	}
	_, hasIn := s.Assets[assetIn]
	_, hasOut := s.Assets[assetOut]
	return hasIn && hasOut
}

func ratioLimit(reserve *uint256.Int, divisor uint64) (*uint256.Int, bool) {
	if divisor == 0 {
		return nil, false
	}
	return new(uint256.Int).Div(reserve, uint256.NewInt(divisor)), true
}

// SimulateSell computes the outcome of selling amountIn of assetIn for
// assetOut and returns the post-trade snapshot alongside the result.
func (s *Snapshot) SimulateSell(assetIn, assetOut AssetID, amountIn, minAmountOut *uint256.Int) (*Snapshot, *TradeResult, error) {
	if assetIn == assetOut {
		return nil, nil, ErrNotAllowed
	}
	if amountIn.Lt(s.MinTradingLimit) {
		return nil, nil, ErrTradeTooSmall
	}
	if assetIn == s.HubAssetID || assetOut == s.HubAssetID {
		return nil, nil, ErrNotAllowed
	}

	inState, ok := s.Assets[assetIn]
	if !ok {
		return nil, nil, ErrAssetNotFound
	}
	outState, ok := s.Assets[assetOut]
	if !ok {
		return nil, nil, ErrAssetNotFound
	}
	if !inState.Tradable.Contains(CanSell) {
		return nil, nil, ErrNotAllowed
	}
	if !outState.Tradable.Contains(CanBuy) {
		return nil, nil, ErrNotAllowed
	}

	inLimit, ok := ratioLimit(inState.Reserve, s.MaxInRatio)
	if !ok {
		return nil, nil, ErrMath
	}
	if amountIn.Gt(inLimit) {
		return nil, nil, ErrTradeTooLarge
	}

	assetFee := s.GetFees(assetOut).AssetFee
	protocolFee := s.GetFees(assetIn).ProtocolFee

	ch, ok := CalculateSellStateChanges(inState, outState, amountIn, assetFee, protocolFee, 0, nil)
	if !ok {
		return nil, nil, ErrMath
	}

	amountOut := ch.AssetOut.DeltaReserve.Amount()
	if amountOut.IsZero() {
		return nil, nil, ErrInsufficientLiquidity
	}
	if amountOut.Lt(minAmountOut) {
		return nil, nil, ErrLimitNotMet
	}
	outLimit, ok := ratioLimit(outState.Reserve, s.MaxOutRatio)
	if !ok {
		return nil, nil, ErrMath
	}
	if amountOut.Gt(outLimit) {
		return nil, nil, ErrTradeTooLarge
	}

	newIn, ok := inState.DeltaUpdate(&ch.AssetIn)
	if !ok {
		return nil, nil, ErrMath
	}
	newOut, ok := outState.DeltaUpdate(&ch.AssetOut)
	if !ok {
		return nil, nil, ErrMath
	}

	next := s.WithUpdatedAsset(assetIn, newIn).WithUpdatedAsset(assetOut, newOut)
	return next, &TradeResult{
		AmountIn:  new(uint256.Int).Set(amountIn),
		AmountOut: amountOut,
	}, nil
}

// SimulateBuy computes the outcome of buying amountOut of assetOut with
// assetIn and returns the post-trade snapshot alongside the result.
func (s *Snapshot) SimulateBuy(assetIn, assetOut AssetID, amountOut, maxAmountIn *uint256.Int) (*Snapshot, *TradeResult, error) {
	if assetIn == assetOut {
		return nil, nil, ErrNotAllowed
	}
	if assetIn == s.HubAssetID || assetOut == s.HubAssetID {
		return nil, nil, ErrNotAllowed
	}

	inState, ok := s.Assets[assetIn]
	if !ok {
		return nil, nil, ErrAssetNotFound
	}
	outState, ok := s.Assets[assetOut]
	if !ok {
		return nil, nil, ErrAssetNotFound
	}
	if !inState.Tradable.Contains(CanSell) {
		return nil, nil, ErrNotAllowed
	}
	if !outState.Tradable.Contains(CanBuy) {
		return nil, nil, ErrNotAllowed
	}

	assetFee := s.GetFees(assetOut).AssetFee
	protocolFee := s.GetFees(assetIn).ProtocolFee

	ch, ok := CalculateBuyStateChanges(inState, outState, amountOut, assetFee, protocolFee, 0, nil)
	if !ok {
		return nil, nil, ErrMath
	}

	amountIn := ch.AssetIn.DeltaReserve.Amount()
	if amountIn.Gt(maxAmountIn) {
		return nil, nil, ErrLimitNotMet
	}
	if amountIn.Lt(s.MinTradingLimit) {
		return nil, nil, ErrTradeTooSmall
	}

	inLimit, ok := ratioLimit(inState.Reserve, s.MaxInRatio)
	if !ok {
		return nil, nil, ErrMath
	}
	if amountIn.Gt(inLimit) {
		return nil, nil, ErrTradeTooLarge
	}
	outLimit, ok := ratioLimit(outState.Reserve, s.MaxOutRatio)
	if !ok {
		return nil, nil, ErrMath
	}
	if amountOut.Gt(outLimit) {
		return nil, nil, ErrTradeTooLarge
	}

	newIn, ok := inState.DeltaUpdate(&ch.AssetIn)
	if !ok {
		return nil, nil, ErrMath
	}
	newOut, ok := outState.DeltaUpdate(&ch.AssetOut)
	if !ok {
		return nil, nil, ErrMath
	}

	next := s.WithUpdatedAsset(assetIn, newIn).WithUpdatedAsset(assetOut, newOut)
	return next, &TradeResult{
		AmountIn:  amountIn,
		AmountOut: new(uint256.Int).Set(amountOut),
	}, nil
}

// GetSpotPrice returns the price of assetIn denominated in assetOut as a
// rational number. Cross rates are reduced to balance-range legs, rounded
// to nearest.
func (s *Snapshot) GetSpotPrice(assetIn, assetOut AssetID) (*Ratio, error) {
	if assetIn == s.HubAssetID {
		outState, ok := s.Assets[assetOut]
		if !ok {
			return nil, ErrAssetNotFound
		}
		return &Ratio{
			N: new(uint256.Int).Set(outState.Reserve),
			D: new(uint256.Int).Set(outState.HubReserve),
		}, nil
	}
	if assetOut == s.HubAssetID {
		inState, ok := s.Assets[assetIn]
		if !ok {
			return nil, ErrAssetNotFound
		}
		return &Ratio{
			N: new(uint256.Int).Set(inState.HubReserve),
			D: new(uint256.Int).Set(inState.Reserve),
		}, nil
	}

	inState, ok := s.Assets[assetIn]
	if !ok {
		return nil, ErrAssetNotFound
	}
	outState, ok := s.Assets[assetOut]
	if !ok {
		return nil, ErrAssetNotFound
	}

	// price = (hub_in/reserve_in) / (hub_out/reserve_out)
	n := new(uint256.Int).Mul(inState.HubReserve, outState.Reserve)
	d := new(uint256.Int).Mul(inState.Reserve, outState.HubReserve)
	rn, rd := roundToRational(n, d)
	return &Ratio{N: rn, D: rd}, nil
}

// roundToRational reduces a 256-bit rational to balance-range legs by
// truncating both sides equally. Non-zero legs stay non-zero.
func roundToRational(n, d *uint256.Int) (*uint256.Int, *uint256.Int) {
	bits := n.BitLen()
	if db := d.BitLen(); db > bits {
		bits = db
	}
	if bits <= 128 {
		return new(uint256.Int).Set(n), new(uint256.Int).Set(d)
	}
	shift := uint(bits - 128)

	rn := new(uint256.Int).Rsh(n, shift)
	if rn.IsZero() && !n.IsZero() {
		rn.SetUint64(1)
	}
	rd := new(uint256.Int).Rsh(d, shift)
	if rd.IsZero() {
		rd.SetUint64(1)
	}
	return rn, rd
}
