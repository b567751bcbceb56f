// Package broker defines the single capability interface the engine uses
// to place and query orders (§9 Design Notes: replaces the
// monkey-patched/duck-typed broker bindings pattern with one interface),
// plus two implementations: PaperBroker (synthetic fills against the tick
// cache) and LiveBroker (resty REST adapter over the Indian brokerage API).
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/pkg/types"
)

// PlacedOrder is the broker's immediate response to a place call.
type PlacedOrder struct {
	OrderID   string
	Status    types.OrderStatus
	FillPrice decimal.Decimal
	FillQty   decimal.Decimal
}

// Broker is the single capability contract every adapter implements. The
// core trading loop calls only this interface — never a concrete client —
// per spec.md §9.
type Broker interface {
	Place(ctx context.Context, req types.OrderRequest) (PlacedOrder, error)
	Cancel(ctx context.Context, orderID string) error
	GetOrderStatus(ctx context.Context, orderID string) (PlacedOrder, error)
	GetPositions(ctx context.Context) ([]BrokerPosition, error)
	GetFunds(ctx context.Context) (decimal.Decimal, error)
	GetTrades(ctx context.Context) ([]types.Trade, error)
}

// BrokerPosition is the broker's own view of an open position, used by
// Reconciler to diff against PositionStore.
type BrokerPosition struct {
	Segment    types.Segment
	SecurityID string
	NetQty     decimal.Decimal
	BuyAvg     decimal.Decimal
	LastPrice  decimal.Decimal
}

