package signal

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// stubLoader returns a fixed candle series per timeframe. With 80 rising
// candles the Supertrend rule decides; with 5 candles Supertrend lacks
// history and decide() falls back to the EMA/RSI rule, which returns none
// on that series. No fixture here builds a Supertrend flip.
type stubLoader struct {
	series map[string][]types.Candle
}

func (s stubLoader) Candles(symbol, timeframe string) ([]types.Candle, error) {
	return s.series[timeframe], nil
}

func risingSeries(n int, start float64) []types.Candle {
	out := make([]types.Candle, 0, n)
	price := start
	now := time.Now()
	for i := 0; i < n; i++ {
		price += 1
		out = append(out, types.Candle{
			Timestamp: now.Add(time.Duration(i) * time.Minute),
			Open:      d(price - 1),
			High:      d(price + 0.5),
			Low:       d(price - 1.5),
			Close:     d(price),
			Volume:    100,
		})
	}
	return out
}

func TestSignalShortHistoryFallsBackAndReturnsNone(t *testing.T) {
	t.Parallel()
	loader := stubLoader{series: map[string][]types.Candle{
		"1m": risingSeries(5, 100),
		"5m": risingSeries(5, 100),
	}}
	e := New(loader, DefaultParams(), testLogger())

	dir, err := e.Signal("NIFTY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != types.SignalNone {
		t.Fatalf("expected none on insufficient history for both rules, got %v", dir)
	}
}

func TestSignalLongOnSustainedUptrend(t *testing.T) {
	t.Parallel()
	loader := stubLoader{series: map[string][]types.Candle{
		"1m": risingSeries(80, 100),
		"5m": risingSeries(80, 100),
	}}
	e := New(loader, DefaultParams(), testLogger())

	dir, err := e.Signal("NIFTY")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir != types.SignalLong {
		t.Fatalf("expected long on sustained uptrend, got %v", dir)
	}

	if _, ok := e.StreakStartedAt("NIFTY"); !ok {
		t.Fatal("expected streak gate to be set after a long signal")
	}
}

func TestStreakResetsToNoneClearsGate(t *testing.T) {
	t.Parallel()
	e := New(stubLoader{series: map[string][]types.Candle{}}, DefaultParams(), testLogger())
	e.updateStreak("BANKNIFTY", types.SignalLong)
	if _, ok := e.StreakStartedAt("BANKNIFTY"); !ok {
		t.Fatal("expected streak set")
	}
	e.updateStreak("BANKNIFTY", types.SignalNone)
	if _, ok := e.StreakStartedAt("BANKNIFTY"); ok {
		t.Fatal("expected streak cleared on none transition")
	}
}
