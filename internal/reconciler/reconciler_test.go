package reconciler

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/internal/broker"
	"dhan-scalper-sub003/internal/position"
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

type stubBroker struct {
	positions []broker.BrokerPosition
	err       error
}

func (s stubBroker) Place(ctx context.Context, req types.OrderRequest) (broker.PlacedOrder, error) {
	return broker.PlacedOrder{}, nil
}
func (s stubBroker) Cancel(ctx context.Context, orderID string) error { return nil }
func (s stubBroker) GetOrderStatus(ctx context.Context, orderID string) (broker.PlacedOrder, error) {
	return broker.PlacedOrder{}, nil
}
func (s stubBroker) GetPositions(ctx context.Context) ([]broker.BrokerPosition, error) {
	return s.positions, s.err
}
func (s stubBroker) GetFunds(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (s stubBroker) GetTrades(ctx context.Context) ([]types.Trade, error) { return nil, nil }

func TestReconcileInsertsMissingInTracker(t *testing.T) {
	t.Parallel()
	ps := position.New()
	b := stubBroker{positions: []broker.BrokerPosition{
		{Segment: "NSE_FO", SecurityID: "1", NetQty: d("75"), BuyAvg: d("120")},
	}}
	r := New(b, ps, testLogger())

	report := r.Reconcile(context.Background())
	if len(report.MissingInTracker) != 1 {
		t.Fatalf("expected 1 missing_in_tracker, got %d", len(report.MissingInTracker))
	}

	pos, ok := ps.Get(types.PositionKey{Segment: "NSE_FO", SecurityID: "1", Side: "LONG"})
	if !ok || !pos.NetQty.Equal(d("75")) || !pos.BuyAvg.Equal(d("120")) {
		t.Fatalf("expected synthetic position inserted, got %+v ok=%v", pos, ok)
	}
}

func TestReconcileClosesMissingInBroker(t *testing.T) {
	t.Parallel()
	ps := position.New()
	ce := types.CE
	ps.AddBuy("NSE_FO", "2", "LONG", d("75"), d("100"), decimal.Zero, &ce)
	key := types.PositionKey{Segment: "NSE_FO", SecurityID: "2", Side: "LONG"}
	ps.UpdatePrice(key, d("110"))

	b := stubBroker{positions: nil}
	r := New(b, ps, testLogger())

	report := r.Reconcile(context.Background())
	if len(report.MissingInBroker) != 1 {
		t.Fatalf("expected 1 missing_in_broker, got %d", len(report.MissingInBroker))
	}
	pos, ok := ps.Get(key)
	if !ok || pos.NetQty.GreaterThan(decimal.Zero) {
		t.Fatalf("expected tracker position closed, got %+v", pos)
	}
}

func TestReconcileAlignsQuantityMismatch(t *testing.T) {
	t.Parallel()
	ps := position.New()
	ce := types.CE
	ps.AddBuy("NSE_FO", "3", "LONG", d("75"), d("100"), decimal.Zero, &ce)

	b := stubBroker{positions: []broker.BrokerPosition{
		{Segment: "NSE_FO", SecurityID: "3", NetQty: d("150"), BuyAvg: d("100")},
	}}
	r := New(b, ps, testLogger())

	report := r.Reconcile(context.Background())
	if len(report.QuantityMismatch) != 1 {
		t.Fatalf("expected 1 quantity_mismatch, got %d", len(report.QuantityMismatch))
	}
	pos, _ := ps.Get(types.PositionKey{Segment: "NSE_FO", SecurityID: "3", Side: "LONG"})
	if !pos.NetQty.Equal(d("150")) {
		t.Fatalf("expected tracker qty aligned to broker qty 150, got %s", pos.NetQty)
	}
}

func TestReconcileErrorIsLoggedAndNonFatal(t *testing.T) {
	t.Parallel()
	ps := position.New()
	b := stubBroker{err: context.DeadlineExceeded}
	r := New(b, ps, testLogger())

	report := r.Reconcile(context.Background())
	if len(report.MissingInTracker) != 0 || len(report.MissingInBroker) != 0 {
		t.Fatal("expected empty report on broker error")
	}
}
