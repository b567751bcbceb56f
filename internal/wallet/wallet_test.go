package wallet

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/pkg/errs"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestDebitInsufficientFunds(t *testing.T) {
	t.Parallel()
	w := New(d("1000"))

	_, err := w.Debit(d("7500"), d("20"))
	if !errors.Is(err, errs.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	snap := w.Snapshot()
	if !snap.Available.Equal(d("1000")) {
		t.Fatalf("expected wallet unchanged on failed debit, got available=%s", snap.Available)
	}
}

func TestDebitThenCreditRoundTrip(t *testing.T) {
	t.Parallel()
	w := New(d("100000"))

	if _, err := w.Debit(d("7500"), decimal.Zero); err != nil {
		t.Fatal(err)
	}
	w.Credit(d("7500"))

	snap := w.Snapshot()
	if !snap.Available.Equal(d("100000")) {
		t.Fatalf("expected available restored, got %s", snap.Available)
	}
	if !snap.Used.IsZero() {
		t.Fatalf("expected used=0, got %s", snap.Used)
	}
}

func TestTotalInvariantHoldsAcrossMutations(t *testing.T) {
	t.Parallel()
	w := New(d("50000"))

	w.Debit(d("1000"), d("20"))
	w.RecordRealized(d("500"))
	w.Credit(d("300"))

	snap := w.Snapshot()
	if !snap.Total.Equal(snap.Available.Add(snap.Used)) {
		t.Fatalf("total invariant violated: total=%s available=%s used=%s", snap.Total, snap.Available, snap.Used)
	}
	if snap.Available.IsNegative() {
		t.Fatalf("available went negative: %s", snap.Available)
	}
}
