// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package omnipool

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"
	log "github.com/luxfi/log"

	"github.com/luxfi/omnipool/num"
)

// FeeSource supplies the per-asset trading fees. GetAndStore is called on
// the trade path and may update internal state for the given block; Get is
// read-only; Clear drops any stored state when an asset is delisted.
type FeeSource interface {
	GetAndStore(asset AssetID, block uint64) (assetFee, protocolFee num.Fee)
	Get(asset AssetID) (assetFee, protocolFee num.Fee)
	Clear(asset AssetID)
}

// StaticFees is a FeeSource returning the same fee pair for every asset.
type StaticFees struct {
	AssetFee    num.Fee
	ProtocolFee num.Fee
}

func (f StaticFees) GetAndStore(AssetID, uint64) (num.Fee, num.Fee) {
	return f.AssetFee, f.ProtocolFee
}

func (f StaticFees) Get(AssetID) (num.Fee, num.Fee) { return f.AssetFee, f.ProtocolFee }

func (f StaticFees) Clear(AssetID) {}

// Config holds the pool-wide parameters of a Ledger.
type Config struct {
	// HubAssetID is the asset every trade routes through.
	HubAssetID AssetID

	// NativeAssetID receives the non-burned share of protocol fees. Zero
	// hub-reserve credit is skipped when the asset is not listed.
	NativeAssetID AssetID

	// MinTradingLimit is the smallest accepted trade or liquidity amount.
	MinTradingLimit *uint256.Int

	// MaxInRatio and MaxOutRatio bound a single trade to reserve/ratio.
	// Zero disables the bound.
	MaxInRatio  uint64
	MaxOutRatio uint64

	// MaxSlipFee caps the slip surcharge per trade side.
	MaxSlipFee num.Fee

	// BurnFee is the share of each protocol fee that is burned.
	BurnFee num.Fee

	// MinWithdrawalFee is the floor of the price-divergence withdrawal fee.
	MinWithdrawalFee num.Fee
}

// Validate checks the config for values that would corrupt the pool math.
func (c *Config) Validate() error {
	if c.HubAssetID == c.NativeAssetID {
		return errors.New("hub asset and native asset must differ")
	}
	if c.MaxSlipFee.Parts() > num.Million {
		return errors.New("max slip fee above 100%")
	}
	if c.BurnFee.Parts() > num.Million {
		return errors.New("burn fee above 100%")
	}
	return nil
}

// Ledger is the stateful pool: per-asset reserve states, the hub-asset
// issuance counter, and the per-block slip-fee flow accumulators. All
// methods are safe for concurrent use.
type Ledger struct {
	mu sync.RWMutex

	log log.Logger
	cfg Config

	fees FeeSource

	// assets holds the listed reserve states.
	assets map[AssetID]*AssetReserveState

	// issuance mirrors the sum of all hub reserves.
	issuance *uint256.Int

	// blockStates holds the per-block hub-asset flow accumulators, reset
	// lazily on AdvanceBlock.
	blockStates  map[AssetID]*HubAssetBlockState
	currentBlock uint64
}

// NewLedger creates an empty pool. A nil logger falls back to a test
// logger at info level.
func NewLedger(cfg Config, fees FeeSource, logger log.Logger) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MinTradingLimit == nil {
		cfg.MinTradingLimit = new(uint256.Int)
	}
	if fees == nil {
		fees = StaticFees{}
	}
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &Ledger{
		log:         logger,
		cfg:         cfg,
		fees:        fees,
		assets:      make(map[AssetID]*AssetReserveState),
		issuance:    new(uint256.Int),
		blockStates: make(map[AssetID]*HubAssetBlockState),
	}, nil
}

// =========================================================================
// Asset lifecycle
// =========================================================================

// AddToken lists an asset with its initial reserve and hub reserve. The
// initial shares equal the reserve and are returned as a position at the
// listing price.
func (l *Ledger) AddToken(id AssetID, reserve, hubReserve *uint256.Int, cap uint64, tradable Tradability) (*Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id == l.cfg.HubAssetID {
		return nil, ErrNotAllowed
	}
	if _, ok := l.assets[id]; ok {
		return nil, ErrAssetAlreadyListed
	}
	if reserve.IsZero() || hubReserve.IsZero() {
		return nil, ErrMissingReserve
	}
	if !num.FitsBalance(reserve) || !num.FitsBalance(hubReserve) {
		return nil, ErrMath
	}

	issuance, ok := num.AddBalance(l.issuance, hubReserve)
	if !ok {
		return nil, ErrMath
	}

	state := NewAssetReserveState()
	state.Reserve.Set(reserve)
	state.HubReserve.Set(hubReserve)
	state.Shares.Set(reserve)
	state.Cap = cap
	state.Tradable = tradable

	l.assets[id] = state
	l.issuance = issuance

	l.log.Debug("asset listed", "asset", id, "reserve", reserve, "hubReserve", hubReserve)

	return &Position{
		Amount: new(uint256.Int).Set(reserve),
		Shares: new(uint256.Int).Set(reserve),
		PriceN: new(uint256.Int).Set(hubReserve),
		PriceD: new(uint256.Int).Set(reserve),
	}, nil
}

// RemoveToken delists a frozen asset once every provider position has
// been withdrawn; only protocol-owned shares may remain. The remaining
// hub reserve is burned.
func (l *Ledger) RemoveToken(id AssetID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.assets[id]
	if !ok {
		return ErrAssetNotFound
	}
	if state.Tradable != TradabilityFrozen {
		return ErrAssetNotFrozen
	}
	if state.Shares.Cmp(state.ProtocolShares) != 0 {
		return ErrSharesRemaining
	}

	l.issuance.Sub(l.issuance, state.HubReserve)
	delete(l.assets, id)
	delete(l.blockStates, id)
	l.fees.Clear(id)

	l.log.Debug("asset delisted", "asset", id)
	return nil
}

// SetTradability replaces an asset's tradability flags.
func (l *Ledger) SetTradability(id AssetID, t Tradability) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.assets[id]
	if !ok {
		return ErrAssetNotFound
	}
	state.Tradable = t
	return nil
}

// AssetState returns a copy of an asset's reserve state.
func (l *Ledger) AssetState(id AssetID) (*AssetReserveState, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state, ok := l.assets[id]
	if !ok {
		return nil, false
	}
	return state.Clone(), true
}

// HubAssetIssuance returns the total in-pool hub asset, which equals the
// sum of all hub reserves.
func (l *Ledger) HubAssetIssuance() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(uint256.Int).Set(l.issuance)
}

// TotalHubReserve sums the hub reserves of every listed asset. It equals
// HubAssetIssuance at all times.
func (l *Ledger) TotalHubReserve() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	total := new(uint256.Int)
	for _, state := range l.assets {
		total.Add(total, state.HubReserve)
	}
	return total
}

// CurrentBlock returns the block height set by the last AdvanceBlock.
func (l *Ledger) CurrentBlock() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.currentBlock
}

// AdvanceBlock moves the ledger to a new block height, resetting the
// slip-fee flow accumulators to the current hub reserves.
func (l *Ledger) AdvanceBlock(height uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.currentBlock = height
	l.blockStates = make(map[AssetID]*HubAssetBlockState)
}

// blockState returns the flow accumulator for an asset, snapshotting the
// hub reserve on first touch within the block. Callers hold l.mu.
func (l *Ledger) blockState(id AssetID) *HubAssetBlockState {
	bs, ok := l.blockStates[id]
	if !ok {
		bs = NewHubAssetBlockState(l.assets[id].HubReserve)
		l.blockStates[id] = bs
	}
	return bs
}

func exceedsRatio(amount, reserve *uint256.Int, divisor uint64) bool {
	if divisor == 0 {
		return false
	}
	limit := new(uint256.Int).Div(reserve, uint256.NewInt(divisor))
	return amount.Gt(limit)
}

// =========================================================================
// Trading
// =========================================================================

// Sell swaps an exact amount of assetIn for assetOut, failing if the
// output would fall below minBuyAmount. Selling into the hub asset is not
// possible; selling the hub asset itself is.
func (l *Ledger) Sell(assetIn, assetOut AssetID, amount, minBuyAmount *uint256.Int) (*TradeResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if assetIn == assetOut {
		return nil, ErrNotAllowed
	}
	if amount.Lt(l.cfg.MinTradingLimit) {
		return nil, ErrTradeTooSmall
	}
	if assetOut == l.cfg.HubAssetID {
		return nil, ErrNotAllowed
	}
	if assetIn == l.cfg.HubAssetID {
		return l.sellHubAsset(assetOut, amount, minBuyAmount)
	}

	inState, ok := l.assets[assetIn]
	if !ok {
		return nil, ErrAssetNotFound
	}
	outState, ok := l.assets[assetOut]
	if !ok {
		return nil, ErrAssetNotFound
	}
	if !inState.Tradable.Contains(CanSell) || !outState.Tradable.Contains(CanBuy) {
		return nil, ErrNotAllowed
	}
	if exceedsRatio(amount, inState.Reserve, l.cfg.MaxInRatio) {
		return nil, ErrTradeTooLarge
	}

	assetFee, _ := l.fees.GetAndStore(assetOut, l.currentBlock)
	_, protocolFee := l.fees.GetAndStore(assetIn, l.currentBlock)

	inFlow := l.blockState(assetIn)
	outFlow := l.blockState(assetOut)
	slip := &TradeSlipFees{
		AssetInHubReserve:  inFlow.HubReserveAtBlockStart,
		AssetInDelta:       inFlow.CurrentDelta,
		AssetOutHubReserve: outFlow.HubReserveAtBlockStart,
		AssetOutDelta:      outFlow.CurrentDelta,
		MaxSlipFee:         l.cfg.MaxSlipFee,
	}

	ch, ok := CalculateSellStateChanges(inState, outState, amount, assetFee, protocolFee, l.cfg.BurnFee, slip)
	if !ok {
		return nil, ErrMath
	}

	amountOut := ch.AssetOut.DeltaReserve.Amount()
	if amountOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	if amountOut.Lt(minBuyAmount) {
		return nil, ErrLimitNotMet
	}
	if exceedsRatio(amountOut, outState.Reserve, l.cfg.MaxOutRatio) {
		return nil, ErrTradeTooLarge
	}

	if err := l.commitTrade(assetIn, assetOut, ch); err != nil {
		return nil, err
	}

	l.log.Debug("sell executed",
		"assetIn", assetIn, "assetOut", assetOut,
		"amountIn", amount, "amountOut", amountOut,
		"protocolFee", ch.Fee.ProtocolFee)

	return &TradeResult{
		AmountIn:  new(uint256.Int).Set(amount),
		AmountOut: amountOut,
	}, nil
}

// Buy swaps assetIn for an exact amount of assetOut, failing if the input
// would exceed maxSellAmount. Buying the hub asset is not possible;
// buying with the hub asset is.
func (l *Ledger) Buy(assetOut, assetIn AssetID, amount, maxSellAmount *uint256.Int) (*TradeResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if assetIn == assetOut {
		return nil, ErrNotAllowed
	}
	if amount.Lt(l.cfg.MinTradingLimit) {
		return nil, ErrTradeTooSmall
	}
	if assetOut == l.cfg.HubAssetID {
		return nil, ErrNotAllowed
	}
	if assetIn == l.cfg.HubAssetID {
		return l.buyForHubAsset(assetOut, amount, maxSellAmount)
	}

	inState, ok := l.assets[assetIn]
	if !ok {
		return nil, ErrAssetNotFound
	}
	outState, ok := l.assets[assetOut]
	if !ok {
		return nil, ErrAssetNotFound
	}
	if !inState.Tradable.Contains(CanSell) || !outState.Tradable.Contains(CanBuy) {
		return nil, ErrNotAllowed
	}
	if amount.Gt(outState.Reserve) {
		return nil, ErrInsufficientLiquidity
	}
	if exceedsRatio(amount, outState.Reserve, l.cfg.MaxOutRatio) {
		return nil, ErrTradeTooLarge
	}

	assetFee, _ := l.fees.GetAndStore(assetOut, l.currentBlock)
	_, protocolFee := l.fees.GetAndStore(assetIn, l.currentBlock)

	inFlow := l.blockState(assetIn)
	outFlow := l.blockState(assetOut)
	slip := &TradeSlipFees{
		AssetInHubReserve:  inFlow.HubReserveAtBlockStart,
		AssetInDelta:       inFlow.CurrentDelta,
		AssetOutHubReserve: outFlow.HubReserveAtBlockStart,
		AssetOutDelta:      outFlow.CurrentDelta,
		MaxSlipFee:         l.cfg.MaxSlipFee,
	}

	ch, ok := CalculateBuyStateChanges(inState, outState, amount, assetFee, protocolFee, l.cfg.BurnFee, slip)
	if !ok {
		return nil, ErrMath
	}

	amountIn := ch.AssetIn.DeltaReserve.Amount()
	if amountIn.Gt(maxSellAmount) {
		return nil, ErrLimitNotMet
	}
	if amountIn.Lt(l.cfg.MinTradingLimit) {
		return nil, ErrTradeTooSmall
	}
	if exceedsRatio(amountIn, inState.Reserve, l.cfg.MaxInRatio) {
		return nil, ErrTradeTooLarge
	}

	if err := l.commitTrade(assetIn, assetOut, ch); err != nil {
		return nil, err
	}

	l.log.Debug("buy executed",
		"assetIn", assetIn, "assetOut", assetOut,
		"amountIn", amountIn, "amountOut", amount,
		"protocolFee", ch.Fee.ProtocolFee)

	return &TradeResult{
		AmountIn:  amountIn,
		AmountOut: new(uint256.Int).Set(amount),
	}, nil
}

// commitTrade applies a two-sided trade atomically: both reserve states,
// the flow accumulators, the native-asset protocol fee credit and the
// issuance counter. Callers hold l.mu.
func (l *Ledger) commitTrade(assetIn, assetOut AssetID, ch *TradeStateChange) error {
	inState := l.assets[assetIn]
	outState := l.assets[assetOut]

	newIn, ok := inState.DeltaUpdate(&ch.AssetIn)
	if !ok {
		return ErrMath
	}
	newOut, ok := outState.DeltaUpdate(&ch.AssetOut)
	if !ok {
		return ErrMath
	}
	newOut.HubReserve, ok = ch.AssetOut.ExtraHubReserveAmount.ApplyTo(newOut.HubReserve)
	if !ok {
		return ErrMath
	}

	// issuance delta: -deltaQin +dNet +extra, i.e. extra minus the full
	// protocol fee skimmed from the hub flow.
	issuance, ok := ch.AssetIn.DeltaHubReserve.ApplyTo(l.issuance)
	if !ok {
		return ErrMath
	}
	hubOut, ok := ch.AssetOut.TotalDeltaHubReserve()
	if !ok {
		return ErrMath
	}
	issuance, ok = hubOut.ApplyTo(issuance)
	if !ok {
		return ErrMath
	}

	// Non-burned protocol fee accrues to the native asset's hub reserve.
	// The native asset may itself be a leg of the trade, in which case the
	// credit lands on its post-trade state.
	credit := new(uint256.Int).Sub(ch.Fee.ProtocolFee, ch.Fee.BurnedProtocolFee)
	nativeState, creditNative := l.assets[l.cfg.NativeAssetID]
	switch l.cfg.NativeAssetID {
	case assetIn:
		nativeState = newIn
	case assetOut:
		nativeState = newOut
	}
	var nativeHub *uint256.Int
	if creditNative && !credit.IsZero() {
		nativeHub, ok = num.AddBalance(nativeState.HubReserve, credit)
		if !ok {
			return ErrMath
		}
		issuance, ok = num.AddBalance(issuance, credit)
		if !ok {
			return ErrMath
		}
	}

	inFlow := l.blockState(assetIn)
	outFlow := l.blockState(assetOut)
	inDelta, ok := inFlow.CurrentDelta.CheckedAdd(ch.HubFlowIn)
	if !ok {
		return ErrMath
	}
	outDelta, ok := outFlow.CurrentDelta.CheckedAdd(ch.HubFlowOut)
	if !ok {
		return ErrMath
	}

	if nativeHub != nil {
		nativeState.HubReserve = nativeHub
	}
	l.assets[assetIn] = newIn
	l.assets[assetOut] = newOut
	l.issuance = issuance
	inFlow.CurrentDelta = inDelta
	outFlow.CurrentDelta = outDelta
	return nil
}

// sellHubAsset handles assetIn == hub asset. Callers hold l.mu.
func (l *Ledger) sellHubAsset(assetOut AssetID, amount, minBuyAmount *uint256.Int) (*TradeResult, error) {
	outState, ok := l.assets[assetOut]
	if !ok {
		return nil, ErrAssetNotFound
	}
	if !outState.Tradable.Contains(CanBuy) {
		return nil, ErrNotAllowed
	}

	assetFee, _ := l.fees.GetAndStore(assetOut, l.currentBlock)

	outFlow := l.blockState(assetOut)
	slip := &HubTradeSlipFees{
		AssetHubReserve: outFlow.HubReserveAtBlockStart,
		AssetDelta:      outFlow.CurrentDelta,
		MaxSlipFee:      l.cfg.MaxSlipFee,
	}

	ch, ok := CalculateSellHubStateChanges(outState, amount, assetFee, slip)
	if !ok {
		return nil, ErrMath
	}

	amountOut := ch.Asset.DeltaReserve.Amount()
	if amountOut.IsZero() {
		return nil, ErrInsufficientLiquidity
	}
	if amountOut.Lt(minBuyAmount) {
		return nil, ErrLimitNotMet
	}
	if exceedsRatio(amountOut, outState.Reserve, l.cfg.MaxOutRatio) {
		return nil, ErrTradeTooLarge
	}

	// The hub inflow grows the asset's weight; respect its cap.
	hubIn, ok := ch.Asset.TotalDeltaHubReserve()
	if !ok {
		return nil, ErrMath
	}
	within, ok := VerifyAssetCap(outState, outState.Cap, hubIn.Amount(), l.issuance)
	if !ok {
		return nil, ErrMath
	}
	if !within {
		return nil, ErrCapExceeded
	}

	if err := l.commitHubTrade(assetOut, ch); err != nil {
		return nil, err
	}

	l.log.Debug("hub sell executed", "assetOut", assetOut, "amountIn", amount, "amountOut", amountOut)

	return &TradeResult{
		AmountIn:  new(uint256.Int).Set(amount),
		AmountOut: amountOut,
	}, nil
}

// buyForHubAsset handles assetIn == hub asset. Callers hold l.mu.
func (l *Ledger) buyForHubAsset(assetOut AssetID, amount, maxSellAmount *uint256.Int) (*TradeResult, error) {
	outState, ok := l.assets[assetOut]
	if !ok {
		return nil, ErrAssetNotFound
	}
	if !outState.Tradable.Contains(CanBuy) {
		return nil, ErrNotAllowed
	}
	if amount.Gt(outState.Reserve) {
		return nil, ErrInsufficientLiquidity
	}
	if exceedsRatio(amount, outState.Reserve, l.cfg.MaxOutRatio) {
		return nil, ErrTradeTooLarge
	}

	assetFee, _ := l.fees.GetAndStore(assetOut, l.currentBlock)

	outFlow := l.blockState(assetOut)
	slip := &HubTradeSlipFees{
		AssetHubReserve: outFlow.HubReserveAtBlockStart,
		AssetDelta:      outFlow.CurrentDelta,
		MaxSlipFee:      l.cfg.MaxSlipFee,
	}

	ch, ok := CalculateBuyForHubStateChanges(outState, amount, assetFee, slip)
	if !ok {
		return nil, ErrMath
	}

	// Hub paid by the buyer: net inflow plus the slip surcharge.
	amountIn, ok := num.AddBalance(ch.Asset.DeltaHubReserve.Amount(), ch.Fee.ProtocolFee)
	if !ok {
		return nil, ErrMath
	}
	if amountIn.Gt(maxSellAmount) {
		return nil, ErrLimitNotMet
	}

	hubIn, ok := ch.Asset.TotalDeltaHubReserve()
	if !ok {
		return nil, ErrMath
	}
	within, ok := VerifyAssetCap(outState, outState.Cap, hubIn.Amount(), l.issuance)
	if !ok {
		return nil, ErrMath
	}
	if !within {
		return nil, ErrCapExceeded
	}

	if err := l.commitHubTrade(assetOut, ch); err != nil {
		return nil, err
	}

	l.log.Debug("hub buy executed", "assetOut", assetOut, "amountIn", amountIn, "amountOut", amount)

	return &TradeResult{
		AmountIn:  amountIn,
		AmountOut: new(uint256.Int).Set(amount),
	}, nil
}

// commitHubTrade applies a one-sided hub trade. Callers hold l.mu.
func (l *Ledger) commitHubTrade(assetOut AssetID, ch *HubTradeStateChange) error {
	outState := l.assets[assetOut]

	newOut, ok := outState.DeltaUpdate(&ch.Asset)
	if !ok {
		return ErrMath
	}
	newOut.HubReserve, ok = ch.Asset.ExtraHubReserveAmount.ApplyTo(newOut.HubReserve)
	if !ok {
		return ErrMath
	}

	hubIn, ok := ch.Asset.TotalDeltaHubReserve()
	if !ok {
		return ErrMath
	}
	issuance, ok := hubIn.ApplyTo(l.issuance)
	if !ok {
		return ErrMath
	}

	credit := new(uint256.Int).Sub(ch.Fee.ProtocolFee, ch.Fee.BurnedProtocolFee)
	nativeState, creditNative := l.assets[l.cfg.NativeAssetID]
	if l.cfg.NativeAssetID == assetOut {
		nativeState = newOut
	}
	var nativeHub *uint256.Int
	if creditNative && !credit.IsZero() {
		nativeHub, ok = num.AddBalance(nativeState.HubReserve, credit)
		if !ok {
			return ErrMath
		}
		issuance, ok = num.AddBalance(issuance, credit)
		if !ok {
			return ErrMath
		}
	}

	outFlow := l.blockState(assetOut)
	outDelta, ok := outFlow.CurrentDelta.CheckedAdd(ch.HubFlow)
	if !ok {
		return ErrMath
	}

	if nativeHub != nil {
		nativeState.HubReserve = nativeHub
	}
	l.assets[assetOut] = newOut
	l.issuance = issuance
	outFlow.CurrentDelta = outDelta
	return nil
}

// =========================================================================
// Liquidity
// =========================================================================

// AddLiquidity provides an amount of an asset and returns the resulting
// position. The asset's weight cap bounds the hub reserve growth.
func (l *Ledger) AddLiquidity(id AssetID, amount *uint256.Int) (*Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.assets[id]
	if !ok {
		return nil, ErrAssetNotFound
	}
	if !state.Tradable.Contains(CanAddLiquidity) {
		return nil, ErrNotAllowed
	}
	if amount.Lt(l.cfg.MinTradingLimit) {
		return nil, ErrTradeTooSmall
	}

	ch, ok := CalculateAddLiquidityStateChanges(state, amount)
	if !ok {
		return nil, ErrMath
	}

	deltaHub := ch.Asset.DeltaHubReserve.Amount()
	within, ok := VerifyAssetCap(state, state.Cap, deltaHub, l.issuance)
	if !ok {
		return nil, ErrMath
	}
	if !within {
		return nil, ErrCapExceeded
	}

	position := &Position{
		Amount: new(uint256.Int).Set(amount),
		Shares: ch.DeltaPositionShares.Amount(),
		PriceN: new(uint256.Int).Set(state.HubReserve),
		PriceD: new(uint256.Int).Set(state.Reserve),
	}

	newState, ok := state.DeltaUpdate(&ch.Asset)
	if !ok {
		return nil, ErrMath
	}
	issuance, ok := num.AddBalance(l.issuance, deltaHub)
	if !ok {
		return nil, ErrMath
	}

	l.assets[id] = newState
	l.issuance = issuance

	l.log.Debug("liquidity added", "asset", id, "amount", amount, "shares", position.Shares)
	return position, nil
}

// RemoveLiquidityResult is the payout of a RemoveLiquidity call.
type RemoveLiquidityResult struct {
	// AssetAmount is the asset paid back to the provider.
	AssetAmount *uint256.Int

	// HubAmount is hub asset paid out when the price rose above the
	// position's entry price.
	HubAmount *uint256.Int

	// Position is the remaining position, nil when fully exited.
	Position *Position
}

// RemoveLiquidity withdraws shares from a position. The withdrawal fee
// grows with the divergence between the pool price and oraclePrice; pass
// the current spot price to charge only the minimum fee.
func (l *Ledger) RemoveLiquidity(id AssetID, position *Position, sharesRemoved *uint256.Int, oraclePrice num.Fixed) (*RemoveLiquidityResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	state, ok := l.assets[id]
	if !ok {
		return nil, ErrAssetNotFound
	}
	if !state.Tradable.Contains(CanRemoveLiquidity) {
		return nil, ErrNotAllowed
	}
	if sharesRemoved.IsZero() || sharesRemoved.Gt(position.Shares) {
		return nil, ErrInsufficientShares
	}

	spotPrice, ok := state.Price()
	if !ok {
		return nil, ErrMath
	}
	withdrawalFee := CalculateWithdrawalFee(spotPrice, oraclePrice, l.cfg.MinWithdrawalFee)

	ch, ok := CalculateRemoveLiquidityStateChanges(state, sharesRemoved, position, withdrawalFee)
	if !ok {
		return nil, ErrMath
	}

	newState, ok := state.DeltaUpdate(&ch.Asset)
	if !ok {
		return nil, ErrMath
	}
	deltaHub := ch.Asset.DeltaHubReserve.Amount()
	issuance, ok := num.SubBalance(l.issuance, deltaHub)
	if !ok {
		return nil, ErrMath
	}

	remaining := &Position{
		Amount: new(uint256.Int).Set(position.Amount),
		Shares: new(uint256.Int).Set(position.Shares),
		PriceN: new(uint256.Int).Set(position.PriceN),
		PriceD: new(uint256.Int).Set(position.PriceD),
	}
	remaining.Amount, ok = ch.DeltaPositionReserve.ApplyTo(remaining.Amount)
	if !ok {
		return nil, ErrMath
	}
	remaining.Shares, ok = ch.DeltaPositionShares.ApplyTo(remaining.Shares)
	if !ok {
		return nil, ErrMath
	}

	l.assets[id] = newState
	l.issuance = issuance

	result := &RemoveLiquidityResult{
		AssetAmount: ch.Asset.DeltaReserve.Amount(),
		HubAmount:   new(uint256.Int).Set(ch.LPHubAmount),
	}
	if !remaining.Shares.IsZero() {
		result.Position = remaining
	}

	l.log.Debug("liquidity removed",
		"asset", id, "shares", sharesRemoved,
		"amountOut", result.AssetAmount, "hubOut", result.HubAmount)
	return result, nil
}
