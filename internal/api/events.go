package api

import (
	"time"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/pkg/types"
)

// DashboardEvent is the wrapper for all events pushed to the dashboard.
type DashboardEvent struct {
	Type       string      `json:"type"` // "snapshot", "fill", "position", "kill"
	Timestamp  time.Time   `json:"timestamp"`
	SecurityID string      `json:"security_id,omitempty"`
	Data       interface{} `json:"data"`
}

// FillEvent represents an OrderGateway fill, mirroring types.Trade.
type FillEvent struct {
	OrderID     string          `json:"order_id"`
	Symbol      string          `json:"symbol"`
	SecurityID  string          `json:"security_id"`
	Side        types.Side      `json:"side"`
	Quantity    decimal.Decimal `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Reason      types.ExitReason `json:"reason,omitempty"`
}

// NewFillEvent projects a types.Trade into a dashboard fill event.
func NewFillEvent(trade types.Trade) FillEvent {
	return FillEvent{
		OrderID:     trade.OrderID,
		Symbol:      trade.Symbol,
		SecurityID:  trade.SecurityID,
		Side:        trade.Side,
		Quantity:    trade.Quantity,
		Price:       trade.Price,
		RealizedPnL: trade.RealizedPnL,
		Reason:      trade.Reason,
	}
}

// PositionEvent is emitted when a position's mark-to-market changes.
type PositionEvent struct {
	Position PositionStatus `json:"position"`
}

// NewPositionEvent wraps a position into a dashboard position event.
func NewPositionEvent(p types.Position) PositionEvent {
	return PositionEvent{Position: NewPositionStatus(p)}
}

// KillEvent is emitted when the daily-loss cap fires and entries are
// disabled for the remainder of the session.
type KillEvent struct {
	Reason string          `json:"reason"`
	Loss   decimal.Decimal `json:"loss"`
	Cap    decimal.Decimal `json:"cap"`
}

// NewKillEvent builds a kill-switch event from the risk ladder's state.
func NewKillEvent(loss, cap decimal.Decimal) KillEvent {
	return KillEvent{Reason: "daily_loss_cap", Loss: loss, Cap: cap}
}
