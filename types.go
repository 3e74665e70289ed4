// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package omnipool implements the multi-asset AMM core in which every
// listed asset trades against a shared hub asset. It holds the per-asset
// reserve bookkeeping, the trade and liquidity delta math, the block-scoped
// slip-fee surcharge, and a storage-free simulation adapter.
package omnipool

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/luxfi/omnipool/num"
)

// AssetID identifies a listed asset.
type AssetID uint32

// Tradability is a bitset controlling which operations are permitted for
// an asset. The zero value means fully frozen.
type Tradability uint8

const (
	CanSell Tradability = 1 << iota
	CanBuy
	CanAddLiquidity
	CanRemoveLiquidity

	// TradabilityFrozen disables every operation.
	TradabilityFrozen Tradability = 0

	// TradabilityDefault permits everything.
	TradabilityDefault = CanSell | CanBuy | CanAddLiquidity | CanRemoveLiquidity
)

// Contains reports whether all flags in f are set.
func (t Tradability) Contains(f Tradability) bool {
	return t&f == f
}

// Errors - trade validation and arithmetic
var (
	ErrAssetNotFound         = errors.New("asset not found")
	ErrTradeTooSmall         = errors.New("trade amount below minimum trading limit")
	ErrTradeTooLarge         = errors.New("trade amount exceeds max in/out ratio")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrLimitNotMet           = errors.New("trade limit not met")
	ErrMath                  = errors.New("math error")
	ErrNotAllowed            = errors.New("operation not allowed")
)

// Errors - asset lifecycle
var (
	ErrAssetAlreadyListed = errors.New("asset already listed")
	ErrSharesRemaining    = errors.New("asset still has shares")
	ErrAssetNotFrozen     = errors.New("asset is not frozen")
	ErrCapExceeded        = errors.New("asset weight cap exceeded")
	ErrInsufficientShares = errors.New("insufficient position shares")
	ErrMissingReserve     = errors.New("reserve must be positive")
)

// =========================================================================
// Balance deltas
// =========================================================================

// BalanceUpdate is a signed delta applied to an unsigned balance: either
// an increase or a decrease by a non-negative amount.
type BalanceUpdate struct {
	amount   uint256.Int
	decrease bool
}

// Increase returns an additive update.
func Increase(amount *uint256.Int) BalanceUpdate {
	var u BalanceUpdate
	u.amount.Set(amount)
	return u
}

// Decrease returns a subtractive update. A zero decrease normalizes to a
// zero increase so equality checks behave.
func Decrease(amount *uint256.Int) BalanceUpdate {
	var u BalanceUpdate
	u.amount.Set(amount)
	u.decrease = !amount.IsZero()
	return u
}

// Amount returns the magnitude of the update.
func (u BalanceUpdate) Amount() *uint256.Int {
	return new(uint256.Int).Set(&u.amount)
}

// IsIncrease reports whether the update adds to the balance. A zero
// update counts as an increase.
func (u BalanceUpdate) IsIncrease() bool { return !u.decrease }

// IsZero reports whether the update has no effect.
func (u BalanceUpdate) IsZero() bool { return u.amount.IsZero() }

// CheckedAdd merges two updates, failing on balance-range overflow.
func (u BalanceUpdate) CheckedAdd(o BalanceUpdate) (BalanceUpdate, bool) {
	if u.decrease == o.decrease {
		s, ok := num.AddBalance(&u.amount, &o.amount)
		if !ok {
			return BalanceUpdate{}, false
		}
		if u.decrease {
			return Decrease(s), true
		}
		return Increase(s), true
	}
	// Opposite directions: the larger magnitude wins.
	if u.amount.Cmp(&o.amount) >= 0 {
		d := new(uint256.Int).Sub(&u.amount, &o.amount)
		if u.decrease {
			return Decrease(d), true
		}
		return Increase(d), true
	}
	d := new(uint256.Int).Sub(&o.amount, &u.amount)
	if o.decrease {
		return Decrease(d), true
	}
	return Increase(d), true
}

// ApplyTo returns balance+u, failing on underflow or balance-range
// overflow.
func (u BalanceUpdate) ApplyTo(balance *uint256.Int) (*uint256.Int, bool) {
	if u.decrease {
		return num.SubBalance(balance, &u.amount)
	}
	return num.AddBalance(balance, &u.amount)
}

// =========================================================================
// Signed hub-asset flow
// =========================================================================

// SignedBalance is a sign-magnitude value used for the per-block hub-asset
// flow accumulator. Positive means hub asset entering the pool side,
// negative means leaving.
type SignedBalance struct {
	amount   uint256.Int
	negative bool
}

// Positive returns a non-negative signed balance.
func Positive(amount *uint256.Int) SignedBalance {
	var s SignedBalance
	s.amount.Set(amount)
	return s
}

// Negative returns a non-positive signed balance. Negative zero
// normalizes to zero.
func Negative(amount *uint256.Int) SignedBalance {
	var s SignedBalance
	s.amount.Set(amount)
	s.negative = !amount.IsZero()
	return s
}

// ZeroSigned returns the zero flow.
func ZeroSigned() SignedBalance { return SignedBalance{} }

// Abs returns the magnitude.
func (s SignedBalance) Abs() *uint256.Int {
	return new(uint256.Int).Set(&s.amount)
}

// IsZero reports whether the value is zero.
func (s SignedBalance) IsZero() bool { return s.amount.IsZero() }

// IsNegative reports whether the value is strictly negative.
func (s SignedBalance) IsNegative() bool { return s.negative }

// IsPositive reports whether the value is strictly positive.
func (s SignedBalance) IsPositive() bool { return !s.negative && !s.amount.IsZero() }

// CheckedAdd returns s+o, failing on balance-range overflow.
func (s SignedBalance) CheckedAdd(o SignedBalance) (SignedBalance, bool) {
	if s.negative == o.negative {
		sum, ok := num.AddBalance(&s.amount, &o.amount)
		if !ok {
			return SignedBalance{}, false
		}
		if s.negative {
			return Negative(sum), true
		}
		return Positive(sum), true
	}
	if s.amount.Cmp(&o.amount) >= 0 {
		d := new(uint256.Int).Sub(&s.amount, &o.amount)
		if s.negative {
			return Negative(d), true
		}
		return Positive(d), true
	}
	d := new(uint256.Int).Sub(&o.amount, &s.amount)
	if o.negative {
		return Negative(d), true
	}
	return Positive(d), true
}

// AddToUnsigned returns u+s as an unsigned balance, failing on underflow
// or balance-range overflow.
func (s SignedBalance) AddToUnsigned(u *uint256.Int) (*uint256.Int, bool) {
	if s.negative {
		return num.SubBalance(u, &s.amount)
	}
	return num.AddBalance(u, &s.amount)
}

// =========================================================================
// Reserve state
// =========================================================================

// AssetReserveState is the per-asset side of the two-asset invariant:
// the pool's balance of the asset itself, the hub-asset balance attributed
// to it, and the share bookkeeping on top.
type AssetReserveState struct {
	Reserve        *uint256.Int
	HubReserve     *uint256.Int
	Shares         *uint256.Int
	ProtocolShares *uint256.Int

	// Cap is the asset's maximum weight among all hub reserves,
	// expressed as an 18-decimal fraction of 1.0.
	Cap uint64

	Tradable Tradability
}

// NewAssetReserveState returns a zeroed state with default tradability.
func NewAssetReserveState() *AssetReserveState {
	return &AssetReserveState{
		Reserve:        new(uint256.Int),
		HubReserve:     new(uint256.Int),
		Shares:         new(uint256.Int),
		ProtocolShares: new(uint256.Int),
		Cap:            1_000_000_000_000_000_000,
		Tradable:       TradabilityDefault,
	}
}

// Clone returns a deep copy.
func (s *AssetReserveState) Clone() *AssetReserveState {
	return &AssetReserveState{
		Reserve:        new(uint256.Int).Set(s.Reserve),
		HubReserve:     new(uint256.Int).Set(s.HubReserve),
		Shares:         new(uint256.Int).Set(s.Shares),
		ProtocolShares: new(uint256.Int).Set(s.ProtocolShares),
		Cap:            s.Cap,
		Tradable:       s.Tradable,
	}
}

// Price returns hub_reserve/reserve, the asset's price denominated in the
// hub asset.
func (s *AssetReserveState) Price() (num.Fixed, bool) {
	return num.FixedFromRational(s.HubReserve, s.Reserve)
}

// DeltaUpdate returns a new state with the given deltas applied. The
// extra hub reserve amount is deliberately not folded in here; callers
// decide whether the mint applies.
func (s *AssetReserveState) DeltaUpdate(delta *AssetStateChange) (*AssetReserveState, bool) {
	reserve, ok := delta.DeltaReserve.ApplyTo(s.Reserve)
	if !ok {
		return nil, false
	}
	hubReserve, ok := delta.DeltaHubReserve.ApplyTo(s.HubReserve)
	if !ok {
		return nil, false
	}
	shares, ok := delta.DeltaShares.ApplyTo(s.Shares)
	if !ok {
		return nil, false
	}
	protocolShares, ok := delta.DeltaProtocolShares.ApplyTo(s.ProtocolShares)
	if !ok {
		return nil, false
	}
	return &AssetReserveState{
		Reserve:        reserve,
		HubReserve:     hubReserve,
		Shares:         shares,
		ProtocolShares: protocolShares,
		Cap:            s.Cap,
		Tradable:       s.Tradable,
	}, true
}

// =========================================================================
// State transitions
// =========================================================================

// AssetStateChange is the set of deltas a single operation applies to one
// asset's reserve state.
type AssetStateChange struct {
	DeltaReserve        BalanceUpdate
	DeltaHubReserve     BalanceUpdate
	DeltaShares         BalanceUpdate
	DeltaProtocolShares BalanceUpdate

	// ExtraHubReserveAmount is hub asset minted into this asset's side
	// to account for the asset fee that stays in the pool.
	ExtraHubReserveAmount BalanceUpdate
}

// TotalDeltaHubReserve merges the hub reserve delta with the extra mint.
func (c *AssetStateChange) TotalDeltaHubReserve() (BalanceUpdate, bool) {
	return c.DeltaHubReserve.CheckedAdd(c.ExtraHubReserveAmount)
}

// TradeFee is the fee breakdown of a single trade, all amounts in hub
// asset units except the asset fee which is in the out-asset.
type TradeFee struct {
	AssetFee          *uint256.Int
	ProtocolFee       *uint256.Int
	BurnedProtocolFee *uint256.Int
}

// TradeStateChange describes a two-sided trade: deltas for the asset sold
// into the pool and the asset bought out of it.
type TradeStateChange struct {
	AssetIn  AssetStateChange
	AssetOut AssetStateChange
	Fee      TradeFee

	// Gross hub-asset flows feeding the per-block slip accumulators:
	// the full outflow on the sell side and the inflow on the buy side
	// before the buy-side surcharge is skimmed.
	HubFlowIn  SignedBalance
	HubFlowOut SignedBalance
}

// HubTradeStateChange describes a one-sided trade in which the hub asset
// itself is sold into the pool.
type HubTradeStateChange struct {
	Asset AssetStateChange
	Fee   TradeFee

	// HubFlow is the gross hub-asset inflow for the slip accumulator.
	HubFlow SignedBalance
}

// LiquidityStateChange describes an add- or remove-liquidity operation.
type LiquidityStateChange struct {
	Asset AssetStateChange

	// LPHubAmount is hub asset paid out to the liquidity provider when
	// the price moved above the position's entry price.
	LPHubAmount *uint256.Int

	DeltaPositionReserve BalanceUpdate
	DeltaPositionShares  BalanceUpdate
}

// Position records the entry terms of one liquidity provision.
type Position struct {
	// Amount of the asset originally provided.
	Amount *uint256.Int
	// Shares owned by the provider.
	Shares *uint256.Int
	// Price at provision time, as a reserve pair (hub_reserve, reserve).
	PriceN *uint256.Int
	PriceD *uint256.Int
}

// EntryPrice returns the price at which the position was opened.
func (p *Position) EntryPrice() (num.Fixed, bool) {
	return num.FixedFromRational(p.PriceN, p.PriceD)
}

// TradeResult is the summary returned by simulations.
type TradeResult struct {
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
}
