// Package signal implements SignalEngine (C7): per-symbol multi-timeframe
// trend decision from OHLC candles. Primary rule is Supertrend agreement
// across two timeframes; fallback is EMA/RSI confirmation when Supertrend
// cannot be computed (insufficient history). Indicator math is grounded on
// aristath-sentinel's markcheno/go-talib usage (pkg/formulas/{ema,rsi}.go):
// talib operates on []float64, so candle closes are converted to float64
// here purely for indicator computation — this is signal math, not the
// money/price arithmetic spec.md §3 requires in decimal.
//
// The streak gate is grounded on the bot's risk.Manager.priceAnchor: a
// rolling reference that resets when its window lapses, generalized here
// to a per-symbol "how long has this direction held" timer instead of a
// price-movement anchor.
package signal

import (
	"log/slog"
	"sync"
	"time"

	"github.com/markcheno/go-talib"

	"dhan-scalper-sub003/pkg/types"
)

// CandleLoader supplies OHLC history for a symbol/timeframe pair. It is an
// external collaborator (spec.md §1 treats candle sourcing as out of
// scope) — SignalEngine consumes only this interface.
type CandleLoader interface {
	Candles(symbol, timeframe string) ([]types.Candle, error)
}

// Params bundles the tunables from spec.md §4.7.
type Params struct {
	PrimaryTimeframe     string
	SecondaryTimeframe   string
	SupertrendPeriod     int
	SupertrendMultiplier float64
	EMAFast              int
	EMASlow              int
	RSIPeriod            int
	RSILongPrimary       float64
	RSILongSecondary     float64
	RSIShortPrimary      float64
	RSIShortSecondary    float64
	GateDuration         time.Duration
}

// DefaultParams mirrors the thresholds named in spec.md §4.7.
func DefaultParams() Params {
	return Params{
		PrimaryTimeframe:     "1m",
		SecondaryTimeframe:   "5m",
		SupertrendPeriod:     10,
		SupertrendMultiplier: 3.0,
		EMAFast:              20,
		EMASlow:              50,
		RSIPeriod:            14,
		RSILongPrimary:       55,
		RSILongSecondary:     52,
		RSIShortPrimary:      45,
		RSIShortSecondary:    48,
		GateDuration:         3 * time.Minute,
	}
}

type streakState struct {
	direction types.SignalDirection
	startedAt time.Time
	expiresAt time.Time
}

// Engine computes a per-symbol long/short/none decision and tracks a
// per-symbol streak-gate timer.
type Engine struct {
	loader CandleLoader
	params Params
	logger *slog.Logger

	mu      sync.Mutex
	streaks map[string]*streakState
}

// New wires a SignalEngine to its candle-loading collaborator.
func New(loader CandleLoader, params Params, logger *slog.Logger) *Engine {
	return &Engine{
		loader:  loader,
		params:  params,
		logger:  logger.With("component", "signal"),
		streaks: make(map[string]*streakState),
	}
}

// Signal computes {long, short, none} for symbol and updates its streak gate.
func (e *Engine) Signal(symbol string) (types.SignalDirection, error) {
	primary, err := e.loader.Candles(symbol, e.params.PrimaryTimeframe)
	if err != nil {
		return types.SignalNone, err
	}
	secondary, err := e.loader.Candles(symbol, e.params.SecondaryTimeframe)
	if err != nil {
		return types.SignalNone, err
	}

	dir := e.decide(primary, secondary)
	e.updateStreak(symbol, dir)
	return dir, nil
}

// StreakStartedAt returns when the current non-none streak for symbol
// began, if one is active.
func (e *Engine) StreakStartedAt(symbol string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.streaks[symbol]
	if !ok || time.Now().After(s.expiresAt) {
		return time.Time{}, false
	}
	return s.startedAt, true
}

// Params returns the engine's configured parameters, e.g. for callers that
// need GateDuration to evaluate a streak alongside StreakStartedAt.
func (e *Engine) Params() Params {
	return e.params
}

func (e *Engine) updateStreak(symbol string, dir types.SignalDirection) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if dir == types.SignalNone {
		delete(e.streaks, symbol)
		return
	}

	now := time.Now()
	s, ok := e.streaks[symbol]
	if !ok || s.direction != dir || now.After(s.expiresAt) {
		e.streaks[symbol] = &streakState{direction: dir, startedAt: now, expiresAt: now.Add(e.params.GateDuration)}
		return
	}
	s.expiresAt = now.Add(e.params.GateDuration)
}

func (e *Engine) decide(primary, secondary []types.Candle) types.SignalDirection {
	primaryUp, primaryOk := supertrendUp(primary, e.params.SupertrendPeriod, e.params.SupertrendMultiplier)
	secondaryUp, secondaryOk := supertrendUp(secondary, e.params.SupertrendPeriod, e.params.SupertrendMultiplier)

	if primaryOk && secondaryOk {
		switch {
		case primaryUp && secondaryUp:
			return types.SignalLong
		case !primaryUp && !secondaryUp:
			return types.SignalShort
		default:
			return types.SignalNone
		}
	}

	e.logger.Debug("supertrend unavailable, falling back to ema/rsi", "primary_ok", primaryOk, "secondary_ok", secondaryOk)
	return e.emaRSIDecision(primary, secondary)
}

func (e *Engine) emaRSIDecision(primary, secondary []types.Candle) types.SignalDirection {
	pClose := closes(primary)
	sClose := closes(secondary)

	pEMAFast, pEMAOk1 := lastValue(talib.Ema(pClose, e.params.EMAFast))
	pEMASlow, pEMAOk2 := lastValue(talib.Ema(pClose, e.params.EMASlow))
	pRSI, pRSIOk := lastValue(talib.Rsi(pClose, e.params.RSIPeriod))

	sEMAFast, sEMAOk1 := lastValue(talib.Ema(sClose, e.params.EMAFast))
	sEMASlow, sEMAOk2 := lastValue(talib.Ema(sClose, e.params.EMASlow))
	sRSI, sRSIOk := lastValue(talib.Rsi(sClose, e.params.RSIPeriod))

	if !pEMAOk1 || !pEMAOk2 || !pRSIOk || !sEMAOk1 || !sEMAOk2 || !sRSIOk {
		return types.SignalNone
	}

	primaryLong := pEMAFast > pEMASlow && pRSI > e.params.RSILongPrimary
	secondaryLong := sEMAFast > sEMASlow && sRSI > e.params.RSILongSecondary
	if primaryLong && secondaryLong {
		return types.SignalLong
	}

	primaryShort := pEMAFast < pEMASlow && pRSI < e.params.RSIShortPrimary
	secondaryShort := sEMAFast < sEMASlow && sRSI < e.params.RSIShortSecondary
	if primaryShort && secondaryShort {
		return types.SignalShort
	}

	return types.SignalNone
}

func closes(candles []types.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i], _ = c.Close.Float64()
	}
	return out
}

func highsLowsCloses(candles []types.Candle) (highs, lows, closes []float64) {
	highs = make([]float64, len(candles))
	lows = make([]float64, len(candles))
	closes = make([]float64, len(candles))
	for i, c := range candles {
		highs[i], _ = c.High.Float64()
		lows[i], _ = c.Low.Float64()
		closes[i], _ = c.Close.Float64()
	}
	return
}

func lastValue(series []float64) (float64, bool) {
	if len(series) == 0 {
		return 0, false
	}
	v := series[len(series)-1]
	if v != v { // NaN
		return 0, false
	}
	return v, true
}

// supertrendUp computes the Supertrend indicator over the full candle
// series (ATR via go-talib, band-flip logic hand-rolled since talib has
// no Supertrend primitive) and reports whether the last close sits above
// the current trend line. ok is false when there is not enough history
// for a stable ATR reading.
func supertrendUp(candles []types.Candle, period int, multiplier float64) (up bool, ok bool) {
	if len(candles) < period+2 {
		return false, false
	}

	highs, lows, closesF := highsLowsCloses(candles)
	atr := talib.Atr(highs, lows, closesF, period)

	firstValid := -1
	for i, v := range atr {
		if v == v && v > 0 {
			firstValid = i
			break
		}
	}
	if firstValid < 0 || firstValid >= len(atr)-1 {
		return false, false
	}

	var finalUpper, finalLower float64
	var trendUp bool
	initialized := false

	for i := firstValid; i < len(candles); i++ {
		mid := (highs[i] + lows[i]) / 2
		basicUpper := mid + multiplier*atr[i]
		basicLower := mid - multiplier*atr[i]

		if !initialized {
			finalUpper = basicUpper
			finalLower = basicLower
			trendUp = closesF[i] >= finalLower
			initialized = true
			continue
		}

		if basicUpper < finalUpper || closesF[i-1] > finalUpper {
			finalUpper = basicUpper
		}
		if basicLower > finalLower || closesF[i-1] < finalLower {
			finalLower = basicLower
		}

		if trendUp {
			if closesF[i] < finalLower {
				trendUp = false
			}
		} else {
			if closesF[i] > finalUpper {
				trendUp = true
			}
		}
	}

	return trendUp, true
}
