package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/internal/config"
	"dhan-scalper-sub003/internal/engine"
	"dhan-scalper-sub003/internal/risk"
	"dhan-scalper-sub003/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeProvider is a stub Provider backed by fixed engine/risk state, used
// to exercise the dashboard handlers without standing up a real Engine.
type fakeProvider struct {
	snapshot engine.Snapshot
	risk     risk.Snapshot
	cfg      config.Config
	events   chan engine.Event
}

func (f *fakeProvider) Snapshot() engine.Snapshot   { return f.snapshot }
func (f *fakeProvider) RiskSnapshot() risk.Snapshot { return f.risk }
func (f *fakeProvider) Config() config.Config       { return f.cfg }
func (f *fakeProvider) Events() <-chan engine.Event { return f.events }

func TestHandleSnapshotFiltersToOpenPositions(t *testing.T) {
	t.Parallel()

	ce := types.CE
	provider := &fakeProvider{
		snapshot: engine.Snapshot{
			Mode:   types.Paper,
			Wallet: types.WalletSnapshot{Total: decimal.NewFromInt(100000)},
			Equity: decimal.NewFromInt(101500),
			Positions: []types.Position{
				{Key: types.PositionKey{Segment: "NSE_FO", SecurityID: "1"}, NetQty: decimal.NewFromInt(75), OptionType: &ce},
				{Key: types.PositionKey{Segment: "NSE_FO", SecurityID: "2"}, NetQty: decimal.Zero, OptionType: &ce},
			},
		},
		risk: risk.Snapshot{EntriesAllowed: true, StartEquity: decimal.NewFromInt(100000)},
		cfg:  config.Config{Mode: "paper", Symbols: map[string]config.SymbolConfig{"NIFTY": {}}},
	}

	h := NewHandlers(provider, config.DashboardConfig{}, NewHub(testLogger()), testLogger())

	req := httptest.NewRequest(http.MethodGet, "/api/snapshot", nil)
	rec := httptest.NewRecorder()
	h.HandleSnapshot(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var got DashboardSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got.Positions) != 1 {
		t.Fatalf("expected only the open position to survive BuildSnapshot, got %d", len(got.Positions))
	}
	if got.Positions[0].SecurityID != "1" {
		t.Fatalf("expected open position security_id=1, got %s", got.Positions[0].SecurityID)
	}
	if !got.Equity.Equal(decimal.NewFromInt(101500)) {
		t.Fatalf("expected equity=101500, got %s", got.Equity)
	}
}

func TestParseSecurityIDFilter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
		want map[string]bool
	}{
		{"no params means no filter", "/ws", nil},
		{"single id", "/ws?security_id=49081", map[string]bool{"49081": true}},
		{"multiple ids", "/ws?security_id=49081&security_id=49082", map[string]bool{"49081": true, "49082": true}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			got := parseSecurityIDFilter(req)
			if len(got) != len(tt.want) {
				t.Fatalf("parseSecurityIDFilter(%q) = %v, want %v", tt.url, got, tt.want)
			}
			for id := range tt.want {
				if !got[id] {
					t.Fatalf("expected filter to include %q", id)
				}
			}
		})
	}
}

func TestClientAcceptsFiltersBySecurityID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		c    *Client
		evt  DashboardEvent
		want bool
	}{
		{"no filter accepts everything", &Client{}, DashboardEvent{SecurityID: "1"}, true},
		{"global event bypasses filter", &Client{securityIDs: map[string]bool{"1": true}}, DashboardEvent{SecurityID: ""}, true},
		{"matching id accepted", &Client{securityIDs: map[string]bool{"1": true}}, DashboardEvent{SecurityID: "1"}, true},
		{"non-matching id rejected", &Client{securityIDs: map[string]bool{"1": true}}, DashboardEvent{SecurityID: "2"}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.c.accepts(tt.evt); got != tt.want {
				t.Fatalf("accepts() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		cfg     config.DashboardConfig
		reqHost string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8080",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			cfg:     config.DashboardConfig{},
			reqHost: "localhost:8080",
			want:    false,
		},
		{
			name:    "allowlist permits exact origin",
			origin:  "https://dash.example.com",
			cfg:     config.DashboardConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    true,
		},
		{
			name:    "allowlist denies everything else",
			origin:  "https://evil.example",
			cfg:     config.DashboardConfig{AllowedOrigins: []string{"https://dash.example.com"}},
			reqHost: "0.0.0.0:8080",
			want:    false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://mm.internal:8080",
			cfg:     config.DashboardConfig{},
			reqHost: "mm.internal:8080",
			want:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.cfg, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
