package instrument

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/pkg/types"
)

const sampleCSV = `security_id,segment,symbol,instrument_type,lot_size,strike,expiry,option_type
13,NSE_IDX,NIFTY,INDEX,1,,,
49081,NSE_FO,NIFTY,OPTION,75,25000,2026-08-07,CE
49082,NSE_FO,NIFTY,OPTION,75,25000,2026-08-07,PE
`

func loadSample(t *testing.T) *Master {
	t.Helper()
	m, err := LoadCSV(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("LoadCSV: %v", err)
	}
	return m
}

func TestSecurityIDLookup(t *testing.T) {
	t.Parallel()
	m := loadSample(t)
	expiry := time.Date(2026, 8, 7, 0, 0, 0, 0, time.UTC)

	id, ok := m.SecurityID("NIFTY", expiry, decimal.NewFromInt(25000), types.CE)
	if !ok || id != "49081" {
		t.Fatalf("expected CE security id 49081, got %q ok=%v", id, ok)
	}

	if _, ok := m.SecurityID("NIFTY", expiry, decimal.NewFromInt(99999), types.CE); ok {
		t.Fatal("expected unknown strike to return not-found")
	}
}

func TestLotSizeAndSegment(t *testing.T) {
	t.Parallel()
	m := loadSample(t)

	if lot, ok := m.LotSize("49081"); !ok || lot != 75 {
		t.Fatalf("expected lot size 75, got %d ok=%v", lot, ok)
	}
	if seg, ok := m.ExchangeSegment("13"); !ok || seg != "NSE_IDX" {
		t.Fatalf("expected NSE_IDX, got %q ok=%v", seg, ok)
	}
	if _, ok := m.LotSize("does-not-exist"); ok {
		t.Fatal("expected unknown security id to return not-found")
	}
}

func TestExpiriesAndStrikes(t *testing.T) {
	t.Parallel()
	m := loadSample(t)

	expiries := m.ExpiryDates("NIFTY")
	if len(expiries) != 1 {
		t.Fatalf("expected 1 expiry, got %d", len(expiries))
	}

	strikes := m.Strikes("NIFTY", expiries[0])
	if len(strikes) != 1 || !strikes[0].Equal(decimal.NewFromInt(25000)) {
		t.Fatalf("expected single strike 25000, got %v", strikes)
	}
}
