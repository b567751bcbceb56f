package position

import (
	"testing"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/pkg/types"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestAddBuyWeightedAverage(t *testing.T) {
	t.Parallel()
	s := New()
	ce := types.CE

	if _, err := s.AddBuy("NSE_FO", "1", "LONG", d("75"), d("100"), d("20"), &ce); err != nil {
		t.Fatal(err)
	}
	pos, err := s.AddBuy("NSE_FO", "1", "LONG", d("75"), d("140"), d("20"), &ce)
	if err != nil {
		t.Fatal(err)
	}

	if !pos.BuyAvg.Equal(d("120")) {
		t.Fatalf("expected buy_avg=120, got %s", pos.BuyAvg)
	}
	if !pos.NetQty.Equal(d("150")) {
		t.Fatalf("expected net_qty=150, got %s", pos.NetQty)
	}
}

func TestPartialSellCERealizedPnL(t *testing.T) {
	t.Parallel()
	s := New()
	ce := types.CE
	s.AddBuy("NSE_FO", "1", "LONG", d("75"), d("100"), d("20"), &ce)
	s.AddBuy("NSE_FO", "1", "LONG", d("75"), d("140"), d("20"), &ce)

	res, err := s.PartialSell("NSE_FO", "1", "LONG", d("75"), d("160"), d("20"))
	if err != nil {
		t.Fatal(err)
	}

	if !res.RealizedPnL.Equal(d("3000")) {
		t.Fatalf("expected realized_pnl=3000, got %s", res.RealizedPnL)
	}
	if !res.Position.NetQty.Equal(d("75")) {
		t.Fatalf("expected net_qty=75, got %s", res.Position.NetQty)
	}
	if !res.Position.SellAvg.Equal(d("160")) {
		t.Fatalf("expected sell_avg=160, got %s", res.Position.SellAvg)
	}
	if !res.NetProceeds.Equal(d("11980")) {
		t.Fatalf("expected net_proceeds=11980, got %s", res.NetProceeds)
	}
}

func TestPartialSellPEInvertedFormula(t *testing.T) {
	t.Parallel()
	s := New()
	pe := types.PE
	s.AddBuy("NSE_FO", "2", "LONG", d("75"), d("100"), decimal.Zero, &pe)

	res, err := s.PartialSell("NSE_FO", "2", "LONG", d("75"), d("80"), decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}
	if !res.RealizedPnL.Equal(d("1500")) {
		t.Fatalf("expected PE realized_pnl=1500 (100-80)*75, got %s", res.RealizedPnL)
	}
}

func TestRoundTripBuySellZeroFee(t *testing.T) {
	t.Parallel()
	s := New()
	ce := types.CE
	s.AddBuy("NSE_FO", "3", "LONG", d("75"), d("100"), decimal.Zero, &ce)
	res, err := s.PartialSell("NSE_FO", "3", "LONG", d("75"), d("100"), decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Position.NetQty.IsZero() {
		t.Fatalf("expected net_qty=0, got %s", res.Position.NetQty)
	}
	if !res.RealizedPnL.IsZero() {
		t.Fatalf("expected realized_pnl=0, got %s", res.RealizedPnL)
	}
}

func TestSellClampsToNetQty(t *testing.T) {
	t.Parallel()
	s := New()
	ce := types.CE
	s.AddBuy("NSE_FO", "4", "LONG", d("50"), d("100"), decimal.Zero, &ce)

	res, err := s.PartialSell("NSE_FO", "4", "LONG", d("200"), d("110"), decimal.Zero)
	if err != nil {
		t.Fatal(err)
	}
	if !res.SoldQty.Equal(d("50")) {
		t.Fatalf("expected sold_qty clamped to 50, got %s", res.SoldQty)
	}
}

func TestSellOnEmptyPositionFails(t *testing.T) {
	t.Parallel()
	s := New()
	if _, err := s.PartialSell("NSE_FO", "5", "LONG", d("10"), d("100"), decimal.Zero); err == nil {
		t.Fatal("expected ErrOversell on sell with no position")
	}
}

func TestAlignCreatesPositionWhenAbsent(t *testing.T) {
	t.Parallel()
	s := New()
	ce := types.CE

	pos := s.Align("NSE_FO", "7", "LONG", d("75"), d("105"), &ce)
	if !pos.NetQty.Equal(d("75")) {
		t.Fatalf("expected net_qty=75, got %s", pos.NetQty)
	}
	if !pos.BuyAvg.Equal(d("105")) {
		t.Fatalf("expected buy_avg=105, got %s", pos.BuyAvg)
	}

	got, ok := s.Get(types.PositionKey{Segment: "NSE_FO", SecurityID: "7", Side: "LONG"})
	if !ok {
		t.Fatal("expected Align to create the position")
	}
	if !got.NetQty.Equal(d("75")) {
		t.Fatalf("expected stored net_qty=75, got %s", got.NetQty)
	}
}

func TestAlignOverwritesExistingTracker(t *testing.T) {
	t.Parallel()
	s := New()
	ce := types.CE
	s.AddBuy("NSE_FO", "8", "LONG", d("75"), d("100"), decimal.Zero, &ce)

	pos := s.Align("NSE_FO", "8", "LONG", d("150"), d("90"), &ce)
	if !pos.NetQty.Equal(d("150")) {
		t.Fatalf("expected net_qty overwritten to 150, got %s", pos.NetQty)
	}
	if !pos.BuyAvg.Equal(d("90")) {
		t.Fatalf("expected buy_avg overwritten to 90, got %s", pos.BuyAvg)
	}
}

func TestCloseAtCERealizedPnL(t *testing.T) {
	t.Parallel()
	s := New()
	ce := types.CE
	s.AddBuy("NSE_FO", "9", "LONG", d("75"), d("100"), decimal.Zero, &ce)

	key := types.PositionKey{Segment: "NSE_FO", SecurityID: "9", Side: "LONG"}
	pos, ok := s.CloseAt(key, d("120"))
	if !ok {
		t.Fatal("expected CloseAt to succeed on an open position")
	}
	if !pos.NetQty.IsZero() {
		t.Fatalf("expected net_qty=0 after CloseAt, got %s", pos.NetQty)
	}
	if !pos.RealizedPnL.Equal(d("1500")) {
		t.Fatalf("expected realized_pnl=1500 (120-100)*75, got %s", pos.RealizedPnL)
	}
}

func TestCloseAtPEInvertedFormula(t *testing.T) {
	t.Parallel()
	s := New()
	pe := types.PE
	s.AddBuy("NSE_FO", "10", "LONG", d("75"), d("100"), decimal.Zero, &pe)

	key := types.PositionKey{Segment: "NSE_FO", SecurityID: "10", Side: "LONG"}
	pos, ok := s.CloseAt(key, d("80"))
	if !ok {
		t.Fatal("expected CloseAt to succeed")
	}
	if !pos.RealizedPnL.Equal(d("1500")) {
		t.Fatalf("expected PE realized_pnl=1500 (100-80)*75, got %s", pos.RealizedPnL)
	}
}

func TestCloseAtOnAbsentPositionFails(t *testing.T) {
	t.Parallel()
	s := New()
	key := types.PositionKey{Segment: "NSE_FO", SecurityID: "11", Side: "LONG"}
	if _, ok := s.CloseAt(key, d("100")); ok {
		t.Fatal("expected CloseAt to fail on a position that was never opened")
	}
}

func TestClosedPositionsRetainedNotOpen(t *testing.T) {
	t.Parallel()
	s := New()
	ce := types.CE
	s.AddBuy("NSE_FO", "6", "LONG", d("10"), d("100"), decimal.Zero, &ce)
	s.PartialSell("NSE_FO", "6", "LONG", d("10"), d("100"), decimal.Zero)

	if len(s.OpenPositions()) != 0 {
		t.Fatal("expected closed position excluded from OpenPositions")
	}
	if len(s.List()) != 1 {
		t.Fatal("expected closed position retained in List for reporting")
	}
}
