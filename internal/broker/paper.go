// paper.go implements PaperBroker: synthetic immediate fills (market orders
// at the current tick price, limit orders at their own price), for simulated
// trading with no external transport at all.
package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/pkg/errs"
	"dhan-scalper-sub003/pkg/types"
)

// PriceSource supplies the current price PaperBroker fills against.
type PriceSource interface {
	LTP(segment types.Segment, securityID string) (decimal.Decimal, bool)
}

// PaperBroker fills every order immediately: a market order at the current
// tick price (or its requested price if no tick is available), a limit
// order always at its own limit price. Orders and trades are tracked purely
// in memory.
type PaperBroker struct {
	mu     sync.Mutex
	prices PriceSource
	orders map[string]PlacedOrder
	trades []types.Trade
}

// NewPaperBroker creates a paper broker reading prices from prices.
func NewPaperBroker(prices PriceSource) *PaperBroker {
	return &PaperBroker{
		prices: prices,
		orders: make(map[string]PlacedOrder),
	}
}

// Place synthesizes an immediate fill. A market order fills at the current
// LTP, falling back to the requested price when no tick is available yet; a
// limit order fills at its requested price.
func (p *PaperBroker) Place(ctx context.Context, req types.OrderRequest) (PlacedOrder, error) {
	if req.Quantity.LessThanOrEqual(decimal.Zero) {
		return PlacedOrder{}, fmt.Errorf("%w: quantity must be positive", errs.ErrInvalidOrder)
	}
	if req.Price.IsNegative() {
		return PlacedOrder{}, fmt.Errorf("%w: price must be non-negative", errs.ErrInvalidOrder)
	}

	fillPrice := req.Price
	if p.prices != nil {
		if ltp, ok := p.prices.LTP(req.Segment, req.SecurityID); ok && req.OrderType == types.Market {
			fillPrice = ltp
		}
	}

	order := PlacedOrder{
		OrderID:   "paper-" + uuid.NewString(),
		Status:    types.Filled,
		FillPrice: fillPrice,
		FillQty:   req.Quantity,
	}

	p.mu.Lock()
	p.orders[order.OrderID] = order
	p.trades = append(p.trades, types.Trade{
		OrderID:    order.OrderID,
		Symbol:     req.Symbol,
		SecurityID: req.SecurityID,
		Side:       req.Side,
		Quantity:   req.Quantity,
		Price:      fillPrice,
	})
	p.mu.Unlock()

	return order, nil
}

// Cancel is a no-op: paper orders fill synchronously and are never pending.
func (p *PaperBroker) Cancel(ctx context.Context, orderID string) error {
	return nil
}

// GetOrderStatus returns the recorded synthetic fill.
func (p *PaperBroker) GetOrderStatus(ctx context.Context, orderID string) (PlacedOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	order, ok := p.orders[orderID]
	if !ok {
		return PlacedOrder{}, fmt.Errorf("%w: unknown order id %s", errs.ErrInvalidOrder, orderID)
	}
	return order, nil
}

// GetPositions always returns an empty set: the paper broker has no
// independent position truth, and an empty set is indistinguishable from
// "broker legitimately flat" to Reconciler's diff. Callers must not run
// Reconciler against a PaperBroker — engine.Start only schedules
// reconciliation in live mode for this reason.
func (p *PaperBroker) GetPositions(ctx context.Context) ([]BrokerPosition, error) {
	return nil, nil
}

// GetFunds is unsupported in paper mode; Wallet is authoritative.
func (p *PaperBroker) GetFunds(ctx context.Context) (decimal.Decimal, error) {
	return decimal.Zero, fmt.Errorf("%w: paper broker has no independent funds source", errs.ErrBrokerUnavailable)
}

// GetTrades returns every synthetic trade executed this session.
func (p *PaperBroker) GetTrades(ctx context.Context) ([]types.Trade, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Trade, len(p.trades))
	copy(out, p.trades)
	return out, nil
}
