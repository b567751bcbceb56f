package risk

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/internal/broker"
	"dhan-scalper-sub003/internal/config"
	"dhan-scalper-sub003/internal/orders"
	"dhan-scalper-sub003/internal/position"
	"dhan-scalper-sub003/internal/wallet"
	"dhan-scalper-sub003/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// stubLookup satisfies instrument.Lookup with a single fixed instrument.
type stubLookup struct {
	inst types.Instrument
}

func (s stubLookup) SecurityID(symbol string, expiry time.Time, strike decimal.Decimal, optionType types.OptionType) (string, bool) {
	return "", false
}
func (s stubLookup) ExpiryDates(symbol string) []time.Time                    { return nil }
func (s stubLookup) Strikes(symbol string, expiry time.Time) []decimal.Decimal { return nil }
func (s stubLookup) ExchangeSegment(securityID string) (types.Segment, bool)   { return s.inst.Segment, true }
func (s stubLookup) LotSize(securityID string) (int64, bool)                   { return s.inst.LotSize, true }
func (s stubLookup) Get(securityID string) (types.Instrument, bool) {
	if securityID != s.inst.SecurityID {
		return types.Instrument{}, false
	}
	return s.inst, true
}

type stubSignals struct {
	dir types.SignalDirection
}

func (s stubSignals) Signal(symbol string) (types.SignalDirection, error) {
	return s.dir, nil
}

func newHarness(t *testing.T, cfg Params, sig SignalSource) (*Manager, *position.Store, *wallet.Wallet) {
	t.Helper()
	ps := position.New()
	w := wallet.New(d("200000"))
	pb := broker.NewPaperBroker(nil)
	gw := orders.New(pb, w, ps, types.Paper, decimal.Zero, testLogger())

	ce := types.CE
	lookup := stubLookup{inst: types.Instrument{SecurityID: "1", Segment: "NSE_FO", Symbol: "NIFTY", OptionType: &ce}}

	m := New(cfg, ps, gw, lookup, sig, d("200000"), testLogger())
	return m, ps, w
}

func TestTakeProfitTriggersSingleExitThenNoOp(t *testing.T) {
	t.Parallel()
	cfg := Params{TPPct: d("0.35"), SLPct: d("1")}
	m, ps, _ := newHarness(t, cfg, stubSignals{dir: types.SignalNone})

	ce := types.CE
	ps.AddBuy("NSE_FO", "1", "LONG", d("75"), d("100"), decimal.Zero, &ce)
	key := types.PositionKey{Segment: "NSE_FO", SecurityID: "1", Side: "LONG"}
	ps.UpdatePrice(key, d("135"))

	ctx := context.Background()
	m.Evaluate(ctx, d("200000"))

	if pos, ok := ps.Get(key); !ok || pos.NetQty.GreaterThan(decimal.Zero) {
		t.Fatalf("expected position fully exited, got %+v ok=%v", pos, ok)
	}

	// Second tick: position already closed, excluded from evaluation —
	// issuing a duplicate exit must not be possible.
	ps.UpdatePrice(key, d("140"))
	m.Evaluate(ctx, d("200000"))

	if _, exists := m.exits["1|TAKE_PROFIT"]; !exists {
		t.Fatal("expected idempotency record for the completed exit")
	}
}

func TestDailyLossCapExitsAllAndBlocksEntries(t *testing.T) {
	t.Parallel()
	cfg := Params{TPPct: d("1"), SLPct: d("1"), MaxDailyLossRs: d("2000"), EnableDailyLossCap: true}
	m, ps, _ := newHarness(t, cfg, stubSignals{dir: types.SignalNone})

	ce := types.CE
	ps.AddBuy("NSE_FO", "1", "LONG", d("75"), d("100"), decimal.Zero, &ce)
	key := types.PositionKey{Segment: "NSE_FO", SecurityID: "1", Side: "LONG"}
	ps.UpdatePrice(key, d("70"))

	ctx := context.Background()
	m.Evaluate(ctx, d("197500")) // loss = 2500 > cap 2000

	if m.EntriesAllowed() {
		t.Fatal("expected entries disabled after daily loss cap fires")
	}
	if pos, ok := ps.Get(key); !ok || pos.NetQty.GreaterThan(decimal.Zero) {
		t.Fatalf("expected position closed by daily loss cap, got %+v", pos)
	}
}

func TestDailyLossCapTriggersAtExactThreshold(t *testing.T) {
	t.Parallel()
	cfg := Params{TPPct: d("1"), SLPct: d("1"), MaxDailyLossRs: d("2000"), EnableDailyLossCap: true}
	m, ps, _ := newHarness(t, cfg, stubSignals{dir: types.SignalNone})

	ce := types.CE
	ps.AddBuy("NSE_FO", "1", "LONG", d("75"), d("100"), decimal.Zero, &ce)
	key := types.PositionKey{Segment: "NSE_FO", SecurityID: "1", Side: "LONG"}
	ps.UpdatePrice(key, d("70"))

	ctx := context.Background()
	m.Evaluate(ctx, d("198000")) // loss = 2000, exactly at cap: must trigger per spec.md §8

	if m.EntriesAllowed() {
		t.Fatal("expected entries disabled when loss exactly equals the daily loss cap")
	}
	if pos, ok := ps.Get(key); !ok || pos.NetQty.GreaterThan(decimal.Zero) {
		t.Fatalf("expected position closed when loss exactly equals the cap, got %+v", pos)
	}
}

func TestParamsFromGlobalAppliesRiskConfigOverrides(t *testing.T) {
	t.Parallel()
	g := config.GlobalConfig{
		MaxDailyLossRs:        d("2000"),
		EnableDailyLossCap:    false,
		CooldownAfterLossSecs: 60,
	}
	r := config.RiskConfig{
		MaxDailyLossRs:     d("5000"),
		EnableDailyLossCap: true,
		CooldownAfterLoss:  5 * time.Minute,
	}

	p := ParamsFromGlobal(g, r)
	if !p.MaxDailyLossRs.Equal(d("5000")) {
		t.Fatalf("expected risk.max_daily_loss_rs override to win, got %s", p.MaxDailyLossRs)
	}
	if !p.EnableDailyLossCap {
		t.Fatal("expected risk.enable_daily_loss_cap override to win")
	}
	if p.CooldownAfterLoss != 5*time.Minute {
		t.Fatalf("expected risk.cooldown_after_loss override to win, got %s", p.CooldownAfterLoss)
	}
}

func TestParamsFromGlobalKeepsGlobalsWhenRiskConfigEmpty(t *testing.T) {
	t.Parallel()
	g := config.GlobalConfig{
		MaxDailyLossRs:     d("2000"),
		EnableDailyLossCap: true,
	}

	p := ParamsFromGlobal(g, config.RiskConfig{})
	if !p.MaxDailyLossRs.Equal(d("2000")) {
		t.Fatalf("expected global default to survive an empty override, got %s", p.MaxDailyLossRs)
	}
	if !p.EnableDailyLossCap {
		t.Fatal("expected global EnableDailyLossCap to survive an empty override")
	}
}

func TestTechnicalInvalidationExitsOppositeSignal(t *testing.T) {
	t.Parallel()
	cfg := Params{TPPct: d("1"), SLPct: d("1")}
	m, ps, _ := newHarness(t, cfg, stubSignals{dir: types.SignalShort})

	ce := types.CE
	ps.AddBuy("NSE_FO", "1", "LONG", d("75"), d("100"), decimal.Zero, &ce)
	key := types.PositionKey{Segment: "NSE_FO", SecurityID: "1", Side: "LONG"}
	ps.UpdatePrice(key, d("101"))

	m.Evaluate(context.Background(), d("200000"))

	if pos, ok := ps.Get(key); !ok || pos.NetQty.GreaterThan(decimal.Zero) {
		t.Fatalf("expected technical-invalidation exit, got %+v", pos)
	}
}
