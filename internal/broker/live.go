// live.go implements LiveBroker, a resty-backed adapter over the Indian
// brokerage REST API. Adapted from the teacher's internal/exchange/client.go:
// same rate-limited, retry-on-5xx resty construction, but orders are
// authenticated with bearer CLIENT_ID/ACCESS_TOKEN headers instead of
// EIP-712/HMAC L1/L2 signing (there is no on-chain order surface here).
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/internal/config"
	"dhan-scalper-sub003/pkg/errs"
	"dhan-scalper-sub003/pkg/types"
)

// LiveBroker places real orders against the broker's REST API.
type LiveBroker struct {
	http   *resty.Client
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewLiveBroker creates a REST client with bearer auth, rate limiting and
// retry-on-5xx, mirroring the teacher's NewClient construction.
func NewLiveBroker(cfg config.BrokerConfig, logger *slog.Logger) *LiveBroker {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("client-id", cfg.ClientID).
		SetHeader("access-token", cfg.AccessToken)

	return &LiveBroker{
		http:   httpClient,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger,
	}
}

type liveOrderResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"orderStatus"`
}

// Place submits a market/limit order. In dry-run mode it synthesizes an
// order id and returns without transmitting, per spec.md §4.9.
func (b *LiveBroker) Place(ctx context.Context, req types.OrderRequest) (PlacedOrder, error) {
	if b.dryRun {
		id := "dryrun-" + uuid.NewString()
		b.logger.Info("DRY-RUN: would place order", "security_id", req.SecurityID, "side", req.Side, "qty", req.Quantity)
		return PlacedOrder{OrderID: id, Status: types.Pending}, nil
	}

	if err := b.rl.Order.Wait(ctx); err != nil {
		return PlacedOrder{}, fmt.Errorf("rate limit wait: %w", err)
	}

	body := map[string]any{
		"transactionType": string(req.Side),
		"exchangeSegment": string(req.Segment),
		"securityId":      req.SecurityID,
		"quantity":        req.Quantity.IntPart(),
		"orderType":       string(req.OrderType),
		"price":           req.Price.String(),
		"productType":     "INTRADAY",
	}

	var result liveOrderResponse
	resp, err := b.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post("/orders")
	if err != nil {
		return PlacedOrder{}, fmt.Errorf("%w: %v", errs.ErrBrokerUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK && resp.StatusCode() != http.StatusCreated {
		return PlacedOrder{}, fmt.Errorf("%w: status %d: %s", errs.ErrBrokerRejection, resp.StatusCode(), resp.String())
	}

	return PlacedOrder{OrderID: result.OrderID, Status: types.Pending}, nil
}

// Cancel cancels a live order by id.
func (b *LiveBroker) Cancel(ctx context.Context, orderID string) error {
	if b.dryRun {
		b.logger.Info("DRY-RUN: would cancel order", "order_id", orderID)
		return nil
	}
	if err := b.rl.Cancel.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	resp, err := b.http.R().SetContext(ctx).Delete("/orders/" + orderID)
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrBrokerUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%w: status %d", errs.ErrBrokerRejection, resp.StatusCode())
	}
	return nil
}

// GetOrderStatus polls the live status of a previously placed order.
func (b *LiveBroker) GetOrderStatus(ctx context.Context, orderID string) (PlacedOrder, error) {
	var result struct {
		OrderID      string  `json:"orderId"`
		OrderStatus  string  `json:"orderStatus"`
		FilledQty    float64 `json:"filledQty"`
		AveragePrice float64 `json:"averagePrice"`
	}
	resp, err := b.http.R().SetContext(ctx).SetResult(&result).Get("/orders/" + orderID)
	if err != nil {
		return PlacedOrder{}, fmt.Errorf("%w: %v", errs.ErrBrokerUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return PlacedOrder{}, fmt.Errorf("%w: status %d", errs.ErrBrokerRejection, resp.StatusCode())
	}
	return PlacedOrder{
		OrderID:   result.OrderID,
		Status:    mapOrderStatus(result.OrderStatus),
		FillPrice: decimal.NewFromFloat(result.AveragePrice),
		FillQty:   decimal.NewFromFloat(result.FilledQty),
	}, nil
}

// GetPositions pulls the broker's authoritative open-position list for the Reconciler.
func (b *LiveBroker) GetPositions(ctx context.Context) ([]BrokerPosition, error) {
	var result []struct {
		ExchangeSegment string  `json:"exchangeSegment"`
		SecurityID      string  `json:"securityId"`
		NetQty          float64 `json:"netQty"`
		BuyAvg          float64 `json:"buyAvg"`
		LastPrice       float64 `json:"lastTradedPrice"`
	}
	resp, err := b.http.R().SetContext(ctx).SetResult(&result).Get("/positions")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrBrokerUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", errs.ErrBrokerRejection, resp.StatusCode())
	}
	out := make([]BrokerPosition, 0, len(result))
	for _, p := range result {
		out = append(out, BrokerPosition{
			Segment:    types.Segment(p.ExchangeSegment),
			SecurityID: p.SecurityID,
			NetQty:     decimal.NewFromFloat(p.NetQty),
			BuyAvg:     decimal.NewFromFloat(p.BuyAvg),
			LastPrice:  decimal.NewFromFloat(p.LastPrice),
		})
	}
	return out, nil
}

// GetFunds pulls the broker's authoritative available-balance figure.
func (b *LiveBroker) GetFunds(ctx context.Context) (decimal.Decimal, error) {
	var result struct {
		AvailableBalance float64 `json:"availabelBalance"`
	}
	resp, err := b.http.R().SetContext(ctx).SetResult(&result).Get("/fundlimit")
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", errs.ErrBrokerUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: status %d", errs.ErrBrokerRejection, resp.StatusCode())
	}
	return decimal.NewFromFloat(result.AvailableBalance), nil
}

// GetTrades pulls the broker's trade book for the session.
func (b *LiveBroker) GetTrades(ctx context.Context) ([]types.Trade, error) {
	var result []struct {
		OrderID    string  `json:"orderId"`
		SecurityID string  `json:"securityId"`
		Side       string  `json:"transactionType"`
		Quantity   float64 `json:"tradedQty"`
		Price      float64 `json:"tradedPrice"`
	}
	resp, err := b.http.R().SetContext(ctx).SetResult(&result).Get("/trades")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrBrokerUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", errs.ErrBrokerRejection, resp.StatusCode())
	}
	out := make([]types.Trade, 0, len(result))
	for _, t := range result {
		out = append(out, types.Trade{
			OrderID:    t.OrderID,
			SecurityID: t.SecurityID,
			Side:       types.Side(t.Side),
			Quantity:   decimal.NewFromFloat(t.Quantity),
			Price:      decimal.NewFromFloat(t.Price),
		})
	}
	return out, nil
}

// LastTradedPrice satisfies tickcache.LTPLookup, reusing the quote-category
// rate limiter bucket.
func (b *LiveBroker) LastTradedPrice(ctx context.Context, segment types.Segment, securityID string) (decimal.Decimal, error) {
	if err := b.rl.Quote.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("rate limit wait: %w", err)
	}
	var result struct {
		LastPrice float64 `json:"lastTradedPrice"`
	}
	resp, err := b.http.R().
		SetContext(ctx).
		SetQueryParam("segment", string(segment)).
		SetQueryParam("securityId", securityID).
		SetResult(&result).
		Get("/quote/ltp")
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", errs.ErrBrokerUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: status %d", errs.ErrBrokerRejection, resp.StatusCode())
	}
	return decimal.NewFromFloat(result.LastPrice), nil
}

func mapOrderStatus(s string) types.OrderStatus {
	switch s {
	case "TRADED", "COMPLETE", "FILLED":
		return types.Filled
	case "CANCELLED":
		return types.Cancelled
	case "REJECTED":
		return types.Rejected
	default:
		return types.Pending
	}
}
