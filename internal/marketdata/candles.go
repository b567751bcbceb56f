// Package marketdata implements the REST-backed candle loader collaborator
// SignalEngine consumes (spec.md §4.7's "candle loader collaborator" — an
// external concern per spec.md §1, same status as InstrumentMaster's CSV
// source). Grounded on broker.LiveBroker's resty construction: same
// base-URL/timeout/retry-on-5xx client, pointed at the broker's historical
// intraday-candle endpoint instead of the order/quote endpoints.
package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/internal/config"
	"dhan-scalper-sub003/pkg/errs"
	"dhan-scalper-sub003/pkg/types"
)

// CandleClient loads OHLC candle history from the broker's historical data
// REST API. Satisfies signal.CandleLoader.
type CandleClient struct {
	http *resty.Client
}

// NewCandleClient builds a resty client against cfg.BaseURL, mirroring
// LiveBroker's bearer-auth/retry construction.
func NewCandleClient(cfg config.BrokerConfig) *CandleClient {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("client-id", cfg.ClientID).
		SetHeader("access-token", cfg.AccessToken)

	return &CandleClient{http: httpClient}
}

type candleRow struct {
	Timestamp int64   `json:"ts"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
}

// Candles satisfies signal.CandleLoader: fetches the OHLC series for symbol
// at the given timeframe ("1m", "5m", "15m").
func (c *CandleClient) Candles(symbol, timeframe string) ([]types.Candle, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var rows []candleRow
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("interval", timeframe).
		SetResult(&rows).
		Get("/charts/intraday")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrBrokerUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", errs.ErrBrokerRejection, resp.StatusCode())
	}

	candles := make([]types.Candle, 0, len(rows))
	for _, row := range rows {
		candles = append(candles, types.Candle{
			Timestamp: time.Unix(row.Timestamp, 0),
			Open:      decimal.NewFromFloat(row.Open),
			High:      decimal.NewFromFloat(row.High),
			Low:       decimal.NewFromFloat(row.Low),
			Close:     decimal.NewFromFloat(row.Close),
			Volume:    row.Volume,
		})
	}
	return candles, nil
}
