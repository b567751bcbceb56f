// Package position implements the weighted-average, long-only position
// store (C4). Generalized directly from the teacher's
// internal/strategy/inventory.go Inventory type: the same
// weighted-average-entry / realize-on-reduction algorithm, applied to
// (segment, security_id, side) keys instead of a YES/NO token pair, with
// CE/PE-aware realized PnL and decimal arithmetic throughout.
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/pkg/errs"
	"dhan-scalper-sub003/pkg/types"
)

// PartialSellResult is the outcome of a (possibly clamped) sell.
type PartialSellResult struct {
	Position    types.Position
	RealizedPnL decimal.Decimal
	NetProceeds decimal.Decimal
	SoldQty     decimal.Decimal
}

// Store tracks all open and closed positions for the session. One mutex
// guards the whole map; per spec.md §5 a single mutex per entity is an
// explicitly permitted serialization mechanism, matching the teacher's
// Inventory discipline.
type Store struct {
	mu        sync.Mutex
	positions map[types.PositionKey]*types.Position
}

// New creates an empty position store.
func New() *Store {
	return &Store{positions: make(map[types.PositionKey]*types.Position)}
}

// AddBuy records a buy fill, updating the quantity-weighted average entry
// price. Creates the position if this is the first fill for the key.
func (s *Store) AddBuy(segment types.Segment, securityID, side string, qty, price, fee decimal.Decimal, optionType *types.OptionType) (types.Position, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return types.Position{}, fmt.Errorf("%w: buy qty must be positive", errs.ErrInvalidQuantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := types.PositionKey{Segment: segment, SecurityID: securityID, Side: side}
	pos, ok := s.positions[key]
	if !ok {
		pos = &types.Position{
			Key:        key,
			OptionType: optionType,
			CreatedAt:  time.Now(),
		}
		s.positions[key] = pos
	}

	totalCost := pos.BuyAvg.Mul(pos.BuyQty).Add(price.Mul(qty))
	pos.BuyQty = pos.BuyQty.Add(qty)
	if pos.BuyQty.GreaterThan(decimal.Zero) {
		pos.BuyAvg = totalCost.Div(pos.BuyQty)
	}
	pos.NetQty = pos.BuyQty.Sub(pos.SellQty)
	pos.DayBuyQty = pos.DayBuyQty.Add(qty)
	pos.EntryFee = pos.EntryFee.Add(fee)
	pos.LastUpdated = time.Now()

	return *pos, nil
}

// PartialSell records a sell fill, clamping the requested quantity to the
// open net quantity. Realized PnL uses the option-type-aware formula from
// spec.md §4.4: CE (or unspecified) is (price-buy_avg)*sold_qty; PE is
// (buy_avg-price)*sold_qty. Fails with ErrOversell only when net_qty is
// already zero.
func (s *Store) PartialSell(segment types.Segment, securityID, side string, qty, price, fee decimal.Decimal) (PartialSellResult, error) {
	if qty.LessThanOrEqual(decimal.Zero) {
		return PartialSellResult{}, fmt.Errorf("%w: sell qty must be positive", errs.ErrInvalidQuantity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := types.PositionKey{Segment: segment, SecurityID: securityID, Side: side}
	pos, ok := s.positions[key]
	if !ok || pos.NetQty.LessThanOrEqual(decimal.Zero) {
		return PartialSellResult{}, fmt.Errorf("%w: %s:%s", errs.ErrOversell, segment, securityID)
	}

	soldQty := decimal.Min(qty, pos.NetQty)

	var realized decimal.Decimal
	if pos.OptionType != nil && *pos.OptionType == types.PE {
		realized = pos.BuyAvg.Sub(price).Mul(soldQty)
	} else {
		realized = price.Sub(pos.BuyAvg).Mul(soldQty)
	}

	totalSellCost := pos.SellAvg.Mul(pos.SellQty).Add(price.Mul(soldQty))
	pos.SellQty = pos.SellQty.Add(soldQty)
	if pos.SellQty.GreaterThan(decimal.Zero) {
		pos.SellAvg = totalSellCost.Div(pos.SellQty)
	}
	pos.NetQty = pos.BuyQty.Sub(pos.SellQty)
	pos.DaySellQty = pos.DaySellQty.Add(soldQty)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.LastUpdated = time.Now()

	netProceeds := price.Mul(soldQty).Sub(fee)

	return PartialSellResult{
		Position:    *pos,
		RealizedPnL: realized,
		NetProceeds: netProceeds,
		SoldQty:     soldQty,
	}, nil
}

// Get returns a copy of the position for a key.
func (s *Store) Get(key types.PositionKey) (types.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[key]
	if !ok {
		return types.Position{}, false
	}
	return *pos, true
}

// List returns a copy of every tracked position (open and closed), for
// reporting per spec.md §9's "closed positions retained for reporting."
func (s *Store) List() []types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out
}

// OpenPositions returns only positions with net_qty > 0 — the set eligible
// for risk evaluation per spec.md §9 Open Question decision.
func (s *Store) OpenPositions() []types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Position, 0)
	for _, p := range s.positions {
		if p.IsOpen() {
			out = append(out, *p)
		}
	}
	return out
}

// UpdatePrice sets current_price for a key; used by the tick-driven path
// before MtmRefresher recomputes unrealized PnL.
func (s *Store) UpdatePrice(key types.PositionKey, ltp decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos, ok := s.positions[key]; ok {
		pos.CurrentPrice = ltp
		pos.LastUpdated = time.Now()
	}
}

// UpdateUnrealized sets unrealized_pnl for a key. MtmRefresher is the sole
// writer of this field per spec.md §9.
func (s *Store) UpdateUnrealized(key types.PositionKey, pnl decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos, ok := s.positions[key]; ok {
		pos.UnrealizedPnL = pnl
		pos.LastUpdated = time.Now()
	}
}

// Align forcibly sets a position's net quantity and average entry price to
// match an external source of truth (the Reconciler's broker-position
// pull). Creates the position if absent, matching the "insert a synthetic
// tracker position with broker-provided avg/qty" repair in spec.md §4.12.
func (s *Store) Align(segment types.Segment, securityID, side string, netQty, buyAvg decimal.Decimal, optionType *types.OptionType) types.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := types.PositionKey{Segment: segment, SecurityID: securityID, Side: side}
	pos, ok := s.positions[key]
	if !ok {
		pos = &types.Position{Key: key, OptionType: optionType, CreatedAt: time.Now()}
		s.positions[key] = pos
	}
	pos.BuyQty = netQty.Add(pos.SellQty)
	pos.BuyAvg = buyAvg
	pos.NetQty = netQty
	pos.LastUpdated = time.Now()
	return *pos
}

// CloseAt forcibly closes a position (net_qty -> 0) at a known price
// without a corresponding broker fill — used by the Reconciler's
// "missing_in_broker" repair, where the broker no longer reports a
// position our tracker still holds.
func (s *Store) CloseAt(key types.PositionKey, price decimal.Decimal) (types.Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.positions[key]
	if !ok || pos.NetQty.LessThanOrEqual(decimal.Zero) {
		return types.Position{}, false
	}

	var realized decimal.Decimal
	if pos.OptionType != nil && *pos.OptionType == types.PE {
		realized = pos.BuyAvg.Sub(price).Mul(pos.NetQty)
	} else {
		realized = price.Sub(pos.BuyAvg).Mul(pos.NetQty)
	}

	totalSellCost := pos.SellAvg.Mul(pos.SellQty).Add(price.Mul(pos.NetQty))
	pos.SellQty = pos.SellQty.Add(pos.NetQty)
	pos.SellAvg = totalSellCost.Div(pos.SellQty)
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	pos.NetQty = decimal.Zero
	pos.CurrentPrice = price
	pos.LastUpdated = time.Now()
	return *pos, true
}

// ResetDayCounters zeroes day_buy_qty/day_sell_qty at the day boundary.
func (s *Store) ResetDayCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		p.DayBuyQty = decimal.Zero
		p.DaySellQty = decimal.Zero
	}
}
