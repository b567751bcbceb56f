package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseSessionHours(t *testing.T) {
	t.Parallel()
	start, end, ok := parseSessionHours("09:15-15:30")
	if !ok {
		t.Fatal("expected valid window")
	}
	if start != 9*60+15 {
		t.Fatalf("expected start 555, got %d", start)
	}
	if end != 15*60+30 {
		t.Fatalf("expected end 930, got %d", end)
	}
}

func TestParseSessionHoursRejectsMalformed(t *testing.T) {
	t.Parallel()
	cases := []string{"", "0915-1530", "09:15", "09:15-", "ab:cd-15:30"}
	for _, c := range cases {
		if _, _, ok := parseSessionHours(c); ok {
			t.Fatalf("expected %q to be rejected", c)
		}
	}
}

func TestWithinSessionHours(t *testing.T) {
	t.Parallel()
	window := "09:15-15:30"
	inside := time.Date(2026, 7, 30, 11, 0, 0, 0, time.UTC)
	before := time.Date(2026, 7, 30, 8, 0, 0, 0, time.UTC)
	after := time.Date(2026, 7, 30, 16, 0, 0, 0, time.UTC)

	if !withinSessionHours(window, inside) {
		t.Fatal("expected 11:00 to be within session hours")
	}
	if withinSessionHours(window, before) {
		t.Fatal("expected 08:00 to be outside session hours")
	}
	if withinSessionHours(window, after) {
		t.Fatal("expected 16:00 to be outside session hours")
	}
}

func TestWithinSessionHoursNoWindowConfigured(t *testing.T) {
	t.Parallel()
	if !withinSessionHours("", time.Now()) {
		t.Fatal("expected an unconfigured window to never suppress entries")
	}
}

func TestSessionEndClock(t *testing.T) {
	t.Parallel()
	hour, minute, ok := sessionEndClock("09:15-15:30")
	if !ok {
		t.Fatal("expected a valid end clock")
	}
	if hour != 15 || minute != 30 {
		t.Fatalf("expected 15:30, got %02d:%02d", hour, minute)
	}

	if _, _, ok := sessionEndClock(""); ok {
		t.Fatal("expected no end clock for an empty window")
	}
}

func TestRoundToStep(t *testing.T) {
	t.Parallel()
	cases := []struct {
		price decimal.Decimal
		step  int64
		want  string
	}{
		{decimal.NewFromInt(22034), 50, "22050"},
		{decimal.NewFromInt(22024), 50, "22000"},
		{decimal.NewFromInt(22025), 50, "22050"},
		{decimal.NewFromInt(100), 0, "100"},
	}
	for _, c := range cases {
		got := roundToStep(c.price, c.step)
		if got.String() != c.want {
			t.Errorf("roundToStep(%s, %d) = %s, want %s", c.price, c.step, got, c.want)
		}
	}
}

func TestNearestExpiry(t *testing.T) {
	t.Parallel()
	now := time.Now()
	past := now.Add(-24 * time.Hour)
	near := now.Add(48 * time.Hour)
	far := now.Add(7 * 24 * time.Hour)

	got := nearestExpiry([]time.Time{far, past, near})
	if !got.Equal(near) {
		t.Fatalf("expected nearest upcoming expiry, got %v", got)
	}
}

func TestNearestExpiryAllPastReturnsZero(t *testing.T) {
	t.Parallel()
	now := time.Now()
	got := nearestExpiry([]time.Time{now.Add(-time.Hour), now.Add(-48 * time.Hour)})
	if !got.IsZero() {
		t.Fatalf("expected zero time when all expiries are past, got %v", got)
	}
}
