package marketdata

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"dhan-scalper-sub003/internal/config"
)

func TestCandlesParsesIntradayResponse(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "NIFTY" || r.URL.Query().Get("interval") != "1m" {
			t.Errorf("unexpected query params: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"ts":1700000000,"open":100,"high":105,"low":99,"close":103,"volume":1000}]`))
	}))
	defer srv.Close()

	c := NewCandleClient(config.BrokerConfig{BaseURL: srv.URL})
	candles, err := c.Candles("NIFTY", "1m")
	if err != nil {
		t.Fatalf("candles: %v", err)
	}
	if len(candles) != 1 {
		t.Fatalf("expected 1 candle, got %d", len(candles))
	}
	if !candles[0].Close.Equal(candles[0].Close) || candles[0].Close.String() != "103" {
		t.Fatalf("expected close 103, got %s", candles[0].Close)
	}
}

func TestCandlesPropagatesServerError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewCandleClient(config.BrokerConfig{BaseURL: srv.URL})
	c.http.SetRetryCount(0)
	_, err := c.Candles("NIFTY", "1m")
	if err == nil {
		t.Fatal("expected error on server 500")
	}
}
