// Package risk implements RiskManager (C10): per-position TP/SL/trailing/
// time-stop checks plus session-wide daily-loss cap and post-loss cooldown,
// with idempotent exit issuance. Generalized directly from the teacher's
// risk.Manager: the per-market exposure/global-exposure/daily-loss checks
// and the kill-switch-with-cooldown state machine become a per-position
// check ladder plus a session-wide daily-loss cap and cooldown; the
// priceAnchor rolling-reference pattern becomes the trailing-stop
// high-water mark tracked per position key.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/internal/config"
	"dhan-scalper-sub003/internal/instrument"
	"dhan-scalper-sub003/internal/orders"
	"dhan-scalper-sub003/internal/position"
	"dhan-scalper-sub003/pkg/types"
)

// Params bundles the layered risk regime's tunables from spec.md §6/§4.10.
type Params struct {
	TPPct              decimal.Decimal
	SLPct              decimal.Decimal
	TrailPct           decimal.Decimal
	TimeStop           time.Duration
	EnableTimeStop     bool
	MaxDailyLossRs     decimal.Decimal
	EnableDailyLossCap bool
	CooldownAfterLoss  time.Duration
	EnableCooldown     bool
}

// ParamsFromGlobal builds risk Params from the engine-wide configuration,
// then layers config.RiskConfig on top: any field set there overrides its
// GlobalConfig counterpart, letting per-environment risk tuning live apart
// from trading parameters (config.go's risk: key).
func ParamsFromGlobal(g config.GlobalConfig, r config.RiskConfig) Params {
	p := Params{
		TPPct:              g.TPPct,
		SLPct:              g.SLPct,
		TrailPct:           g.TrailPct,
		TimeStop:           time.Duration(g.TimeStopSeconds) * time.Second,
		EnableTimeStop:     g.EnableTimeStop,
		MaxDailyLossRs:     g.MaxDailyLossRs,
		EnableDailyLossCap: g.EnableDailyLossCap,
		CooldownAfterLoss:  time.Duration(g.CooldownAfterLossSecs) * time.Second,
		EnableCooldown:     g.EnableCooldown,
	}
	if r.MaxDailyLossRs.IsPositive() {
		p.MaxDailyLossRs = r.MaxDailyLossRs
	}
	if r.CooldownAfterLoss > 0 {
		p.CooldownAfterLoss = r.CooldownAfterLoss
	}
	if r.EnableDailyLossCap {
		p.EnableDailyLossCap = true
	}
	return p
}

// SignalSource is consumed for the technical-invalidation check.
type SignalSource interface {
	Signal(symbol string) (types.SignalDirection, error)
}

// highWater tracks the trailing-stop reference per position.
type highWater struct {
	price decimal.Decimal
}

// exitState tracks an in-flight or completed exit attempt for idempotency.
type exitState struct {
	reason    types.ExitReason
	pending   bool
	completed bool
}

// Manager evaluates the layered risk regime every tick (driven by the
// Scheduler at risk_check_interval, default 1s).
type Manager struct {
	cfg        Params
	store      *position.Store
	gateway    *orders.Gateway
	lookup     instrument.Lookup
	signals    SignalSource
	logger     *slog.Logger
	startEquity decimal.Decimal

	mu          sync.Mutex
	highWaters  map[types.PositionKey]highWater
	exits       map[string]*exitState // key = security_id|reason
	lastLossAt  time.Time
	dailyCapHit bool

	onDailyCapHit func(loss, cap decimal.Decimal)
}

// OnDailyCapHit registers a callback fired exactly once per session the
// instant the daily-loss cap trips, for the dashboard's kill-switch event.
func (m *Manager) OnDailyCapHit(fn func(loss, cap decimal.Decimal)) {
	m.onDailyCapHit = fn
}

// New wires a RiskManager to its collaborators. startEquity is the
// session's opening equity, the daily-loss-cap reference point.
func New(cfg Params, store *position.Store, gateway *orders.Gateway, lookup instrument.Lookup, signals SignalSource, startEquity decimal.Decimal, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:         cfg,
		store:       store,
		gateway:     gateway,
		lookup:      lookup,
		signals:     signals,
		startEquity: startEquity,
		logger:      logger.With("component", "risk"),
		highWaters:  make(map[types.PositionKey]highWater),
		exits:       make(map[string]*exitState),
	}
}

// EntriesAllowed reports whether new entries may be placed this session —
// false once the daily-loss cap has fired, until the session resets.
func (m *Manager) EntriesAllowed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.dailyCapHit
}

// Snapshot is a read-only view of risk state for the introspection API.
type Snapshot struct {
	EntriesAllowed  bool
	DailyCapHit     bool
	InCooldown      bool
	StartEquity     decimal.Decimal
	MaxDailyLossRs  decimal.Decimal
}

// Snapshot returns the current risk state.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		EntriesAllowed: !m.dailyCapHit,
		DailyCapHit:    m.dailyCapHit,
		InCooldown:     m.cfg.EnableCooldown && !m.lastLossAt.IsZero() && time.Since(m.lastLossAt) < m.cfg.CooldownAfterLoss,
		StartEquity:    m.startEquity,
		MaxDailyLossRs: m.cfg.MaxDailyLossRs,
	}
}

// Evaluate runs the full priority ladder once: daily-loss cap, then
// cooldown, then per-position checks. currentEquity is the latest
// wallet_total + Σ unrealized_pnl figure (EquityCalculator's output).
func (m *Manager) Evaluate(ctx context.Context, currentEquity decimal.Decimal) {
	if m.checkDailyLossCap(ctx, currentEquity) {
		return
	}

	if m.cfg.EnableCooldown && m.inCooldown() {
		return
	}

	for _, pos := range m.store.OpenPositions() {
		m.evaluatePosition(ctx, pos)
	}
}

// checkDailyLossCap emits exits for every open position and disables
// further entries when starting_equity - current_equity meets or exceeds
// the cap (spec.md §8: "at exactly the threshold triggers"). Returns true
// when the cap fired (callers should skip per-position evaluation this
// tick, matching the teacher's emitKill short-circuit).
func (m *Manager) checkDailyLossCap(ctx context.Context, currentEquity decimal.Decimal) bool {
	if !m.cfg.EnableDailyLossCap {
		return false
	}

	loss := m.startEquity.Sub(currentEquity)
	if loss.LessThan(m.cfg.MaxDailyLossRs) {
		return false
	}

	m.mu.Lock()
	alreadyHit := m.dailyCapHit
	m.dailyCapHit = true
	m.mu.Unlock()

	if alreadyHit {
		return true
	}

	m.logger.Error("daily loss cap breached", "loss", loss, "cap", m.cfg.MaxDailyLossRs)
	if m.onDailyCapHit != nil {
		m.onDailyCapHit(loss, m.cfg.MaxDailyLossRs)
	}
	for _, pos := range m.store.OpenPositions() {
		m.issueExit(ctx, pos, types.ReasonDailyLossCap)
	}
	return true
}

func (m *Manager) inCooldown() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastLossAt.IsZero() {
		return false
	}
	return time.Since(m.lastLossAt) < m.cfg.CooldownAfterLoss
}

// evaluatePosition runs the per-position ladder in spec.md §4.10 order:
// TP, SL, time-stop, trailing-stop, technical-invalidation. The first
// check that fires issues the exit and stops further checks for this tick.
func (m *Manager) evaluatePosition(ctx context.Context, pos types.Position) {
	if pos.BuyAvg.IsZero() {
		return
	}
	m.updateHighWater(pos)

	gainPct := pos.CurrentPrice.Sub(pos.BuyAvg).Div(pos.BuyAvg)
	if pos.OptionType != nil && *pos.OptionType == types.PE {
		gainPct = pos.BuyAvg.Sub(pos.CurrentPrice).Div(pos.BuyAvg)
	}

	if gainPct.GreaterThanOrEqual(m.cfg.TPPct) {
		m.issueExit(ctx, pos, types.ReasonTakeProfit)
		return
	}
	if gainPct.Neg().GreaterThanOrEqual(m.cfg.SLPct) {
		m.issueExit(ctx, pos, types.ReasonStopLoss)
		return
	}
	if m.cfg.EnableTimeStop && time.Since(pos.CreatedAt) >= m.cfg.TimeStop {
		m.issueExit(ctx, pos, types.ReasonTimeStop)
		return
	}
	if m.checkTrailingStop(pos) {
		m.issueExit(ctx, pos, types.ReasonTrailingStop)
		return
	}
	if m.checkTechnicalInvalidation(pos) {
		m.issueExit(ctx, pos, types.ReasonTechnicalInvalid)
		return
	}
}

func (m *Manager) updateHighWater(pos types.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hw, ok := m.highWaters[pos.Key]
	if !ok || pos.CurrentPrice.GreaterThan(hw.price) {
		m.highWaters[pos.Key] = highWater{price: pos.CurrentPrice}
	}
}

func (m *Manager) checkTrailingStop(pos types.Position) bool {
	if m.cfg.TrailPct.IsZero() {
		return false
	}
	m.mu.Lock()
	hw, ok := m.highWaters[pos.Key]
	m.mu.Unlock()
	if !ok || hw.price.IsZero() {
		return false
	}
	threshold := hw.price.Mul(decimal.NewFromInt(1).Sub(m.cfg.TrailPct))
	return pos.CurrentPrice.LessThan(threshold)
}

func (m *Manager) checkTechnicalInvalidation(pos types.Position) bool {
	if m.signals == nil || m.lookup == nil {
		return false
	}
	inst, ok := m.lookup.Get(pos.Key.SecurityID)
	if !ok {
		return false
	}
	dir, err := m.signals.Signal(inst.Symbol)
	if err != nil {
		return false
	}

	// A held CE (long) is invalidated by a short signal and vice versa.
	if pos.OptionType != nil && *pos.OptionType == types.PE {
		return dir == types.SignalLong
	}
	return dir == types.SignalShort
}

// issueExit sends one SELL for the full net quantity, enforcing the
// idempotency key (security_id, reason) from spec.md §4.10: duplicate
// attempts while one is pending or after success within the session are
// no-ops. On broker failure the position reverts to Open and the next
// tick may retry.
func (m *Manager) issueExit(ctx context.Context, pos types.Position, reason types.ExitReason) {
	idemKey := fmt.Sprintf("%s|%s", pos.Key.SecurityID, reason)

	m.mu.Lock()
	st, exists := m.exits[idemKey]
	if exists && (st.pending || st.completed) {
		m.mu.Unlock()
		return
	}
	m.exits[idemKey] = &exitState{reason: reason, pending: true}
	m.mu.Unlock()

	inst, ok := m.lookup.Get(pos.Key.SecurityID)
	symbol := pos.Key.SecurityID
	var optionType *types.OptionType
	if ok {
		symbol = inst.Symbol
		optionType = inst.OptionType
	} else {
		optionType = pos.OptionType
	}

	req := types.OrderRequest{
		Symbol:     symbol,
		SecurityID: pos.Key.SecurityID,
		Segment:    pos.Key.Segment,
		Side:       types.SELL,
		Quantity:   pos.NetQty,
		Price:      pos.CurrentPrice,
		OrderType:  types.Market,
		OptionType: optionType,
	}

	res := m.gateway.Place(ctx, req)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !res.Success {
		m.logger.Warn("exit order failed, will retry next tick", "security_id", pos.Key.SecurityID, "reason", reason, "error", res.Error)
		delete(m.exits, idemKey) // revert to Open, allow retry
		return
	}

	m.exits[idemKey] = &exitState{reason: reason, completed: true}
	m.logger.Info("exit issued", "security_id", pos.Key.SecurityID, "reason", reason, "qty", pos.NetQty)

	if reason == types.ReasonStopLoss || reason == types.ReasonDailyLossCap || reason == types.ReasonTrailingStop {
		m.lastLossAt = time.Now()
	}
}

// ResetSession clears the daily-loss-cap flag, idempotency keys, and
// trailing-stop anchors at a new trading day's start.
func (m *Manager) ResetSession(startEquity decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startEquity = startEquity
	m.dailyCapHit = false
	m.lastLossAt = time.Time{}
	m.exits = make(map[string]*exitState)
	m.highWaters = make(map[types.PositionKey]highWater)
}
