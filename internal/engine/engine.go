// Package engine is the central orchestrator of the intraday options
// scalping engine.
//
// It wires together all subsystems:
//
//  1. FeedManager streams ticks for baseline (index) and position
//     instruments into TickCache.
//  2. Scheduler drives per-symbol signal evaluation, MTM refresh, risk
//     evaluation, reconciliation and dedupe sweeps at their configured
//     cadences.
//  3. SignalEngine → Sizer → OrderGateway places entries; RiskManager →
//     OrderGateway places exits. Both paths mutate PositionStore and
//     Wallet only through OrderGateway.
//  4. SessionReporter observes every fill via OrderGateway.OnFilled and
//     finalizes the report at shutdown or the configured session end.
//
// Lifecycle: New() → Start() → [runs until SIGINT] → Stop().
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/internal/broker"
	"dhan-scalper-sub003/internal/config"
	"dhan-scalper-sub003/internal/feed"
	"dhan-scalper-sub003/internal/instrument"
	"dhan-scalper-sub003/internal/marketdata"
	"dhan-scalper-sub003/internal/mtm"
	"dhan-scalper-sub003/internal/orders"
	"dhan-scalper-sub003/internal/position"
	"dhan-scalper-sub003/internal/reconciler"
	"dhan-scalper-sub003/internal/risk"
	"dhan-scalper-sub003/internal/scheduler"
	"dhan-scalper-sub003/internal/session"
	"dhan-scalper-sub003/internal/signal"
	"dhan-scalper-sub003/internal/sizer"
	"dhan-scalper-sub003/internal/tickcache"
	"dhan-scalper-sub003/internal/wallet"
	"dhan-scalper-sub003/pkg/types"
)

// Engine orchestrates every component of the scalping system. It owns the
// lifecycle of all goroutines and is the only type cmd/engine talks to.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	brokerImpl  broker.Broker
	cache       *tickcache.Cache
	instruments instrument.Lookup
	candles     *marketdata.CandleClient
	wallet      *wallet.Wallet
	positions   *position.Store
	feedMgr     *feed.Manager
	mtmRef      *mtm.Refresher
	signalEng   *signal.Engine
	gateway     *orders.Gateway
	riskMgr     *risk.Manager
	sched       *scheduler.Scheduler
	recon       *reconciler.Reconciler
	reporter    *session.Reporter

	events chan Event

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Event is a notification pushed to the introspection API as things
// happen — a fill, a kill-switch trip. Kept decoupled from the api
// package's wire format so engine never imports it.
type Event struct {
	Type      string
	Timestamp time.Time
	Data      any
}

// Events returns the channel of engine notifications the dashboard API
// subscribes to. Never closed; safe to range over for the engine's
// lifetime.
func (e *Engine) Events() <-chan Event {
	return e.events
}

func (e *Engine) emit(kind string, data any) {
	select {
	case e.events <- Event{Type: kind, Timestamp: time.Now(), Data: data}:
	default:
		e.logger.Warn("event channel full, dropping event", "type", kind)
	}
}

// cachePriceSource adapts tickcache.Cache's LastPrice to broker.PriceSource
// so PaperBroker fills synthetic market orders at the live tick LTP rather
// than always falling back to the order's own requested price.
type cachePriceSource struct {
	cache *tickcache.Cache
}

func (c cachePriceSource) LTP(segment types.Segment, securityID string) (decimal.Decimal, bool) {
	return c.cache.LastPrice(segment, securityID)
}

// New wires every component per cfg. The instrument master is loaded
// synchronously from cfg.InstrumentsFile (spec.md §1: loading itself is
// out of scope, only the lookup interface survives into the rest of the
// engine).
func New(cfg config.Config, logger *slog.Logger) (*Engine, error) {
	logger = logger.With("component", "engine")

	f, err := os.Open(cfg.InstrumentsFile)
	if err != nil {
		return nil, fmt.Errorf("open instruments file: %w", err)
	}
	defer f.Close()
	master, err := instrument.LoadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("load instrument master: %w", err)
	}

	mode := types.Mode(cfg.Mode)

	var brokerImpl broker.Broker
	var cache *tickcache.Cache
	var startingBalance decimal.Decimal
	candles := marketdata.NewCandleClient(cfg.Broker)

	switch mode {
	case types.Live:
		live := broker.NewLiveBroker(cfg.Broker, logger)
		brokerImpl = live
		cache = tickcache.New(live)
		funds, err := live.GetFunds(context.Background())
		if err != nil {
			return nil, fmt.Errorf("fetch opening funds: %w", err)
		}
		startingBalance = funds
	default:
		cache = tickcache.New(nil)
		pb := broker.NewPaperBroker(cachePriceSource{cache})
		brokerImpl = pb
		startingBalance = cfg.Paper.StartingBalance
	}

	w := wallet.New(startingBalance)
	positions := position.New()
	feedMgr := feed.New(cfg.Broker.BaseURL, cache, master, logger)
	mtmRef := mtm.New(positions, w)
	if cfg.Global.MtmRefreshIntervalSecs > 0 {
		mtmRef = mtmRef.WithMinInterval(time.Duration(cfg.Global.MtmRefreshIntervalSecs) * time.Second)
	}

	signalParams := signal.DefaultParams()
	if cfg.Global.SecondaryTimeframe != "" {
		signalParams.SecondaryTimeframe = cfg.Global.SecondaryTimeframe
	}
	if cfg.Global.StreakGateMinutes > 0 {
		signalParams.GateDuration = time.Duration(cfg.Global.StreakGateMinutes) * time.Minute
	}
	signalEng := signal.New(candles, signalParams, logger)

	gateway := orders.New(brokerImpl, w, positions, mode, cfg.Global.ChargePerOrder, logger)
	if cfg.Global.DedupeTTLSeconds > 0 {
		gateway = gateway.WithDedupeTTL(time.Duration(cfg.Global.DedupeTTLSeconds) * time.Second)
	}

	riskParams := risk.ParamsFromGlobal(cfg.Global, cfg.Risk)
	riskMgr := risk.New(riskParams, positions, gateway, master, signalEng, w.Snapshot().Total, logger)

	sched := scheduler.New(logger)
	recon := reconciler.New(brokerImpl, positions, logger)

	reporter, err := session.Open(cfg.Store.DataDir, cfg.Store.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("open session reporter: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	eng := &Engine{
		cfg:         cfg,
		logger:      logger,
		brokerImpl:  brokerImpl,
		cache:       cache,
		instruments: master,
		candles:     candles,
		wallet:      w,
		positions:   positions,
		feedMgr:     feedMgr,
		mtmRef:      mtmRef,
		signalEng:   signalEng,
		gateway:     gateway,
		riskMgr:     riskMgr,
		sched:       sched,
		recon:       recon,
		reporter:    reporter,
		events:      make(chan Event, 256),
		ctx:         ctx,
		cancel:      cancel,
	}

	gateway.OnFilled(func(trade types.Trade) {
		if err := reporter.RecordTrade(context.Background(), trade); err != nil {
			logger.Error("failed to record trade", "error", err)
		}
		eng.emit("fill", trade)
	})
	riskMgr.OnDailyCapHit(func(loss, cap decimal.Decimal) {
		eng.emit("kill", struct {
			Loss decimal.Decimal
			Cap  decimal.Decimal
		}{Loss: loss, Cap: cap})
	})

	return eng, nil
}

// Start launches the feed, subscribes baseline instruments, opens/resumes
// the session, and registers every scheduled task.
func (e *Engine) Start() error {
	if _, err := e.reporter.LoadOrCreate(e.ctx, types.Mode(e.cfg.Mode), e.wallet.Snapshot().Total); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.feedMgr.Start(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("feed manager stopped", "error", err)
		}
	}()

	for symbol, sym := range e.cfg.Symbols {
		e.feedMgr.Subscribe(types.InstrumentKey{Segment: types.Segment(sym.SegIdx), SecurityID: sym.IdxSecurityID}, types.RoleBaseline)
		e.scheduleSymbol(symbol, sym)
	}

	e.sched.Start()

	if e.cfg.Global.MtmRefreshIntervalSecs > 0 {
		e.sched.ScheduleRecurring("mtm-refresh", time.Duration(e.cfg.Global.MtmRefreshIntervalSecs)*time.Second, e.refreshMTM)
	}
	if e.cfg.Global.RiskCheckInterval > 0 {
		e.sched.ScheduleRecurring("risk-eval", e.cfg.Global.RiskCheckInterval, e.evaluateRisk)
	}
	// Reconcile only makes sense against a broker with independent position
	// truth. PaperBroker.GetPositions always reports zero positions, which
	// Reconciler cannot distinguish from "broker legitimately flat" — running
	// it in paper mode would force-close every tracked position every cycle.
	if e.cfg.Mode == "live" && e.cfg.Global.ReconcileIntervalSecs > 0 {
		e.sched.ScheduleRecurring("reconcile", time.Duration(e.cfg.Global.ReconcileIntervalSecs)*time.Second, e.runReconcile)
	}
	e.sched.ScheduleRecurring("dedupe-sweep", 30*time.Second, func(ctx context.Context) error {
		e.gateway.SweepExpiredDedupe()
		return nil
	})

	if endHour, endMinute, ok := sessionEndClock(e.cfg.Global.SessionHours); ok {
		if err := e.sched.ScheduleDaily("session-finalize", endHour, endMinute, e.finalizeAndRoll); err != nil {
			e.logger.Error("failed to schedule daily session finalize", "error", err)
		}
	}

	e.logger.Info("engine started", "mode", e.cfg.Mode, "symbols", len(e.cfg.Symbols))
	return nil
}

// scheduleSymbol registers the per-symbol decision task that drives
// SignalEngine → Sizer → OrderGateway for one tracked index.
func (e *Engine) scheduleSymbol(symbol string, sym config.SymbolConfig) {
	interval := e.cfg.Global.DecisionInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	e.sched.ScheduleRecurring("signal:"+symbol, interval, func(ctx context.Context) error {
		return e.evaluateEntry(ctx, symbol, sym)
	})
}

// evaluateEntry runs one signal→size→place cycle for symbol.
func (e *Engine) evaluateEntry(ctx context.Context, symbol string, sym config.SymbolConfig) error {
	if e.cfg.Global.EnforceMarketHours && !withinSessionHours(e.cfg.Global.SessionHours, time.Now()) {
		return nil
	}
	if !e.riskMgr.EntriesAllowed() {
		return nil
	}

	dir, err := e.signalEng.Signal(symbol)
	if err != nil {
		return fmt.Errorf("signal %s: %w", symbol, err)
	}
	if dir == types.SignalNone {
		return nil
	}

	startedAt, ok := e.signalEng.StreakStartedAt(symbol)
	gate := e.signalEng.Params().GateDuration
	if !ok || time.Since(startedAt) < gate {
		return nil
	}

	idxSegment := types.Segment(sym.SegIdx)
	indexLTP, err := e.cache.LTP(ctx, idxSegment, sym.IdxSecurityID, true)
	if err != nil {
		return nil // no index price yet; try again next tick
	}

	strike := roundToStep(indexLTP, sym.StrikeStep)
	expiry := nearestExpiry(e.instruments.ExpiryDates(symbol))
	if expiry.IsZero() {
		return nil
	}

	optionType := types.CE
	if dir == types.SignalShort {
		optionType = types.PE
	}

	securityID, ok := e.instruments.SecurityID(symbol, expiry, strike, optionType)
	if !ok {
		return nil
	}

	optSegment := types.Segment(sym.SegOpt)
	key := types.PositionKey{Segment: optSegment, SecurityID: securityID, Side: "LONG"}
	if pos, ok := e.positions.Get(key); ok && pos.IsOpen() {
		return nil // already holding this contract
	}

	e.feedMgr.Subscribe(types.InstrumentKey{Segment: optSegment, SecurityID: securityID}, types.RolePosition)

	premium, err := e.cache.LTP(ctx, optSegment, securityID, true)
	if err != nil {
		return nil // no premium yet; wait for the next tick
	}

	lotSize := sym.LotSize
	if master, ok := e.instruments.Get(securityID); ok && master.LotSize > 0 {
		lotSize = master.LotSize
	}

	sizeResult := sizer.Size(sizer.Params{
		Premium:           premium,
		LotSize:           lotSize,
		AllocationPct:     e.cfg.Global.AllocationPct,
		SlippageBufferPct: e.cfg.Global.SlippageBufferPct,
		AvailableFunds:    e.wallet.Snapshot().Available,
		MaxLotsPerTrade:   e.cfg.Global.MaxLotsPerTrade,
	})
	if sizeResult.Reason != sizer.ReasonOK {
		return nil
	}

	res := e.gateway.Place(ctx, types.OrderRequest{
		Symbol:     symbol,
		SecurityID: securityID,
		Segment:    optSegment,
		Side:       types.BUY,
		Quantity:   sizeResult.Quantity,
		Price:      premium,
		OrderType:  types.Market,
		OptionType: &optionType,
		Strike:     &strike,
	})
	if !res.Success {
		e.logger.Warn("entry order rejected", "symbol", symbol, "security_id", securityID, "error", res.Error)
	}
	return nil
}

func (e *Engine) refreshMTM(ctx context.Context) error {
	e.mtmRef.RefreshAll(func(segment types.Segment, securityID string) (decimal.Decimal, bool) {
		tick, ok := e.cache.Get(segment, securityID)
		if !ok {
			return decimal.Zero, false
		}
		return tick.LTP, true
	})
	return nil
}

func (e *Engine) evaluateRisk(ctx context.Context) error {
	breakdown := e.mtmRef.EquityBreakdown()
	e.riskMgr.Evaluate(ctx, breakdown.Equity)
	return nil
}

func (e *Engine) runReconcile(ctx context.Context) error {
	e.recon.Reconcile(ctx)
	return nil
}

// finalizeAndRoll closes out the current trading day's session and opens
// the next one, matching spec.md §3's "session finalized at stop or at
// daily boundary."
func (e *Engine) finalizeAndRoll(ctx context.Context) error {
	snap := e.wallet.Snapshot()
	if _, err := e.reporter.Finalize(ctx, e.positions.List(), snap.Total); err != nil {
		e.logger.Error("failed to finalize session", "error", err)
	}
	e.riskMgr.ResetSession(snap.Total)
	if _, err := e.reporter.LoadOrCreate(ctx, types.Mode(e.cfg.Mode), snap.Total); err != nil {
		e.logger.Error("failed to roll session", "error", err)
	}
	return nil
}

// Stop gracefully shuts down: cancels every scheduled task, stops the
// feed, finalizes the session, and waits for outstanding goroutines with a
// bounded timeout.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")

	e.sched.Stop()
	e.cancel()

	if err := e.feedMgr.Stop(); err != nil {
		e.logger.Error("failed to stop feed manager", "error", err)
	}

	snap := e.wallet.Snapshot()
	if _, err := e.reporter.Finalize(context.Background(), e.positions.List(), snap.Total); err != nil {
		e.logger.Error("failed to finalize session on shutdown", "error", err)
	}
	if err := e.reporter.Close(); err != nil {
		e.logger.Error("failed to close session reporter", "error", err)
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		e.logger.Warn("shutdown timed out waiting for outstanding goroutines")
	}
	e.logger.Info("shutdown complete")
}

// Snapshot returns a read-only view of engine state for the api package's
// introspection surface.
type Snapshot struct {
	Mode      types.Mode
	Wallet    types.WalletSnapshot
	Equity    decimal.Decimal
	Positions []types.Position
}

// Config returns the engine's configuration, for the dashboard's config
// summary panel.
func (e *Engine) Config() config.Config {
	return e.cfg
}

// RiskSnapshot returns the current risk-ladder gating state.
func (e *Engine) RiskSnapshot() risk.Snapshot {
	return e.riskMgr.Snapshot()
}

// Snapshot returns a point-in-time read of wallet, equity and positions.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Mode:      types.Mode(e.cfg.Mode),
		Wallet:    e.wallet.Snapshot(),
		Equity:    e.mtmRef.EquityBreakdown().Equity,
		Positions: e.positions.List(),
	}
}

func roundToStep(price decimal.Decimal, step int64) decimal.Decimal {
	if step <= 0 {
		return price
	}
	stepD := decimal.NewFromInt(step)
	return price.Div(stepD).Round(0).Mul(stepD)
}

func nearestExpiry(expiries []time.Time) time.Time {
	now := time.Now()
	var best time.Time
	for _, e := range expiries {
		if e.Before(now) {
			continue
		}
		if best.IsZero() || e.Before(best) {
			best = e
		}
	}
	return best
}

// withinSessionHours parses an "HH:MM-HH:MM" window and reports whether
// now falls within it in local time.
func withinSessionHours(window string, now time.Time) bool {
	start, end, ok := parseSessionHours(window)
	if !ok {
		return true // no window configured: don't suppress entries
	}
	cur := now.Hour()*60 + now.Minute()
	return cur >= start && cur <= end
}

// sessionEndClock returns the (hour, minute) the configured session_hours
// window closes at, for scheduling the daily finalize task.
func sessionEndClock(window string) (int, int, bool) {
	_, end, ok := parseSessionHours(window)
	if !ok {
		return 0, 0, false
	}
	return end / 60, end % 60, true
}

// parseSessionHours parses "HH:MM-HH:MM" into minutes-since-midnight.
func parseSessionHours(window string) (start, end int, ok bool) {
	parts := strings.SplitN(window, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	start, ok1 := parseClock(parts[0])
	end, ok2 := parseClock(parts[1])
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return start, end, true
}

func parseClock(s string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return h*60 + m, true
}
