// Package mtm implements EquityCalculator + MtmRefresher (C6): on every
// fresh tick for a held instrument, recompute unrealized PnL with the
// CE/PE-aware formula and the overall equity figure. Refreshes are paced
// per instrument with a minimum interval, the same per-key last-seen
// bookkeeping the teacher's rate limiters use, one entry per
// (segment, security_id) instead of per API category.
package mtm

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/internal/position"
	"dhan-scalper-sub003/internal/wallet"
	"dhan-scalper-sub003/pkg/types"
)

const defaultMinInterval = time.Second

// Refresher recomputes unrealized PnL per position and aggregate equity.
type Refresher struct {
	positions *position.Store
	wallet    *wallet.Wallet

	minInterval time.Duration
	lastRun     sync.Map // types.InstrumentKey -> time.Time
}

// New creates a MtmRefresher wired to the shared PositionStore and Wallet.
func New(positions *position.Store, w *wallet.Wallet) *Refresher {
	return &Refresher{positions: positions, wallet: w, minInterval: defaultMinInterval}
}

// WithMinInterval overrides the default 1s per-instrument rate limit.
func (r *Refresher) WithMinInterval(d time.Duration) *Refresher {
	r.minInterval = d
	return r
}

// RefreshOne recomputes unrealized PnL for a single instrument if it is
// held and the per-instrument rate-limit interval has elapsed. Returns
// (unrealizedPnL, equity, true) when a refresh happened.
func (r *Refresher) RefreshOne(key types.PositionKey, ltp decimal.Decimal) (decimal.Decimal, decimal.Decimal, bool) {
	pos, ok := r.positions.Get(key)
	if !ok || !pos.IsOpen() {
		return decimal.Zero, decimal.Zero, false
	}

	now := time.Now()
	instKey := types.InstrumentKey{Segment: key.Segment, SecurityID: key.SecurityID}
	if last, seen := r.lastRun.Load(instKey); seen {
		if now.Sub(last.(time.Time)) < r.minInterval {
			return pos.UnrealizedPnL, r.equity(), false
		}
	}
	r.lastRun.Store(instKey, now)

	var unrealized decimal.Decimal
	if pos.OptionType != nil && *pos.OptionType == types.PE {
		unrealized = pos.BuyAvg.Sub(ltp).Mul(pos.NetQty)
	} else {
		unrealized = ltp.Sub(pos.BuyAvg).Mul(pos.NetQty)
	}

	r.positions.UpdatePrice(key, ltp)
	r.positions.UpdateUnrealized(key, unrealized)

	return unrealized, r.equity(), true
}

// RefreshAll recomputes unrealized PnL for every open position using the
// ltpProvider collaborator (typically TickCache.Get), then returns the
// resulting equity breakdown.
func (r *Refresher) RefreshAll(ltpProvider func(segment types.Segment, securityID string) (decimal.Decimal, bool)) Breakdown {
	for _, pos := range r.positions.OpenPositions() {
		ltp, ok := ltpProvider(pos.Key.Segment, pos.Key.SecurityID)
		if !ok {
			continue
		}
		r.RefreshOne(pos.Key, ltp)
	}
	return r.EquityBreakdown()
}

// Breakdown is the equity decomposition returned by EquityBreakdown.
type Breakdown struct {
	WalletTotal     decimal.Decimal
	TotalUnrealized decimal.Decimal
	Equity          decimal.Decimal
	OpenPositions   int
}

// EquityBreakdown computes equity = wallet.total + Σ unrealized_pnl over
// open positions.
func (r *Refresher) EquityBreakdown() Breakdown {
	snap := r.wallet.Snapshot()
	total := decimal.Zero
	open := r.positions.OpenPositions()
	for _, p := range open {
		total = total.Add(p.UnrealizedPnL)
	}
	return Breakdown{
		WalletTotal:     snap.Total,
		TotalUnrealized: total,
		Equity:          snap.Total.Add(total),
		OpenPositions:   len(open),
	}
}

func (r *Refresher) equity() decimal.Decimal {
	return r.EquityBreakdown().Equity
}
