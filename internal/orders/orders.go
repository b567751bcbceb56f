// Package orders implements OrderGateway (C9): builds and dispatches
// orders to the broker, enforces a short-TTL dedupe window, and performs
// the Wallet+PositionStore update as one logical operation per spec.md
// §4.9/§9 ("OrderGateway is the sole writer of Wallet and PositionStore
// for order effects"). The dedupe TTL cache is grounded on the teacher's
// TokenBucket "bounded, concurrency-safe, time-windowed" idiom
// (internal/broker/ratelimit.go, adapted from the teacher's
// internal/exchange/ratelimit.go).
package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/internal/broker"
	"dhan-scalper-sub003/internal/position"
	"dhan-scalper-sub003/internal/wallet"
	"dhan-scalper-sub003/pkg/errs"
	"dhan-scalper-sub003/pkg/types"
)

// Result is what Place returns to callers (Sizer→entry path, RiskManager
// exit path).
type Result struct {
	Success bool
	OrderID string
	Mode    types.Mode
	Error   error
}

// Gateway is the sole writer of Wallet and PositionStore for order effects.
type Gateway struct {
	broker   broker.Broker
	wallet   *wallet.Wallet
	store    *position.Store
	mode     types.Mode
	chargePO decimal.Decimal
	logger   *slog.Logger

	dedupeTTL time.Duration
	dedupeMu  sync.Mutex
	dedupe    map[string]time.Time

	onFilled func(types.Trade)
}

// New creates an OrderGateway. chargePerOrder is the flat brokerage fee
// applied to every fill (spec.md §6 global.charge_per_order).
func New(b broker.Broker, w *wallet.Wallet, s *position.Store, mode types.Mode, chargePerOrder decimal.Decimal, logger *slog.Logger) *Gateway {
	g := &Gateway{
		broker:    b,
		wallet:    w,
		store:     s,
		mode:      mode,
		chargePO:  chargePerOrder,
		logger:    logger,
		dedupeTTL: 10 * time.Second,
		dedupe:    make(map[string]time.Time),
	}
	return g
}

// OnFilled registers a callback invoked with every successfully filled
// trade, used by SessionReporter.RecordTrade.
func (g *Gateway) OnFilled(fn func(types.Trade)) {
	g.onFilled = fn
}

// WithDedupeTTL overrides the default 10s dedupe window.
func (g *Gateway) WithDedupeTTL(d time.Duration) *Gateway {
	g.dedupeTTL = d
	return g
}

func dedupeKey(req types.OrderRequest) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s", req.Symbol, req.SecurityID, req.Side, req.Quantity.String(), req.OrderType)
}

// Place builds and dispatches a market/limit order, folding the resulting
// Wallet+PositionStore mutation into one logical operation: if the wallet
// rejects a buy for insufficient funds, no order is recorded and no
// position is created.
func (g *Gateway) Place(ctx context.Context, req types.OrderRequest) Result {
	if req.Quantity.LessThanOrEqual(decimal.Zero) || req.Price.IsNegative() {
		return Result{Success: false, Mode: g.mode, Error: fmt.Errorf("%w", errs.ErrInvalidOrder)}
	}

	key := dedupeKey(req)
	if g.isDuplicate(key) {
		return Result{Success: false, Mode: g.mode, Error: errs.ErrDuplicateOrder}
	}
	g.markDedupe(key)

	placed, err := g.broker.Place(ctx, req)
	if err != nil {
		g.releaseDedupe(key)
		return Result{Success: false, Mode: g.mode, Error: fmt.Errorf("%w", err)}
	}

	fillPrice := placed.FillPrice
	if fillPrice.IsZero() {
		fillPrice = req.Price
	}

	var side string = "LONG"
	var trade types.Trade

	switch req.Side {
	case types.BUY:
		cost := req.Quantity.Mul(fillPrice)
		if _, err := g.wallet.Debit(cost, g.chargePO); err != nil {
			g.releaseDedupe(key)
			return Result{Success: false, Mode: g.mode, Error: err}
		}
		if _, err := g.store.AddBuy(req.Segment, req.SecurityID, side, req.Quantity, fillPrice, g.chargePO, req.OptionType); err != nil {
			g.releaseDedupe(key)
			return Result{Success: false, Mode: g.mode, Error: err}
		}
		// The fee reserved above is actually spent now, not merely held —
		// SettleFee keeps it out of the pool Credit would otherwise return
		// to available when this position unwinds.
		g.wallet.SettleFee(g.chargePO)
		trade = types.Trade{
			OrderID: placed.OrderID, Symbol: req.Symbol, SecurityID: req.SecurityID,
			Side: req.Side, Quantity: req.Quantity, Price: fillPrice, Fee: g.chargePO,
			Timestamp: time.Now(),
		}

	case types.SELL:
		sellRes, err := g.store.PartialSell(req.Segment, req.SecurityID, side, req.Quantity, fillPrice, g.chargePO)
		if err != nil {
			g.releaseDedupe(key)
			return Result{Success: false, Mode: g.mode, Error: err}
		}
		// Release the cost basis reserved at buy time (buy_avg * sold_qty),
		// then book the realized PnL as a running statistic.
		costBasisReleased := sellRes.Position.BuyAvg.Mul(sellRes.SoldQty)
		g.wallet.Credit(costBasisReleased)
		g.wallet.RecordRealized(sellRes.RealizedPnL)
		// The sell-side fee was never reserved at buy time, so reserve and
		// spend it now. A shortfall here is logged, not unwound — the sell
		// itself already settled and reversing it over a fee gap would be
		// unrealistic.
		if _, err := g.wallet.Debit(g.chargePO, decimal.Zero); err != nil {
			g.logger.Warn("insufficient funds to settle sell-side fee", "security_id", req.SecurityID, "fee", g.chargePO, "error", err)
		} else {
			g.wallet.SettleFee(g.chargePO)
		}
		trade = types.Trade{
			OrderID: placed.OrderID, Symbol: req.Symbol, SecurityID: req.SecurityID,
			Side: req.Side, Quantity: sellRes.SoldQty, Price: fillPrice, Fee: g.chargePO,
			RealizedPnL: sellRes.RealizedPnL, Timestamp: time.Now(),
		}
	}

	if g.onFilled != nil {
		g.onFilled(trade)
	}

	g.logger.Info("order filled", "security_id", req.SecurityID, "side", req.Side, "qty", req.Quantity, "price", fillPrice)
	return Result{Success: true, OrderID: placed.OrderID, Mode: g.mode}
}

func (g *Gateway) isDuplicate(key string) bool {
	g.dedupeMu.Lock()
	defer g.dedupeMu.Unlock()
	expiry, ok := g.dedupe[key]
	return ok && time.Now().Before(expiry)
}

func (g *Gateway) markDedupe(key string) {
	g.dedupeMu.Lock()
	defer g.dedupeMu.Unlock()
	g.dedupe[key] = time.Now().Add(g.dedupeTTL)
}

func (g *Gateway) releaseDedupe(key string) {
	g.dedupeMu.Lock()
	defer g.dedupeMu.Unlock()
	delete(g.dedupe, key)
}

// SweepExpiredDedupe drops dedupe entries past their TTL, bounding memory
// even under low query volume. Intended to be driven by a ticker goroutine
// started by the engine, the same shape as the teacher's
// risk.Manager.Run periodic clearExpiredKillSwitch sweep.
func (g *Gateway) SweepExpiredDedupe() {
	now := time.Now()
	g.dedupeMu.Lock()
	defer g.dedupeMu.Unlock()
	for k, exp := range g.dedupe {
		if now.After(exp) {
			delete(g.dedupe, k)
		}
	}
}
