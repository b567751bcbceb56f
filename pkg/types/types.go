// Package types defines the shared vocabulary used across every layer of the
// scalping engine — ticks, instruments, positions, orders, wallet and session
// state. It depends on nothing internal so any package may import it.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// OrderType enumerates supported order types.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// OrderStatus tracks the lifecycle of a placed order.
type OrderStatus string

const (
	Pending   OrderStatus = "PENDING"
	Filled    OrderStatus = "FILLED"
	Cancelled OrderStatus = "CANCELLED"
	Rejected  OrderStatus = "REJECTED"
)

// InstrumentType classifies what a security_id refers to.
type InstrumentType string

const (
	Index  InstrumentType = "INDEX"
	Option InstrumentType = "OPTION"
	Future InstrumentType = "FUTURE"
	Equity InstrumentType = "EQUITY"
)

// OptionType distinguishes calls from puts.
type OptionType string

const (
	CE OptionType = "CE"
	PE OptionType = "PE"
)

// Segment identifies the exchange segment a security_id trades on.
type Segment string

// Mode selects between paper and live trading.
type Mode string

const (
	Paper Mode = "paper"
	Live  Mode = "live"
)

// SubscriptionRole distinguishes a baseline (always-on) subscription from a
// position-driven one so FeedManager can resubscribe the right set on
// reconnect.
type SubscriptionRole string

const (
	RoleBaseline SubscriptionRole = "baseline"
	RolePosition SubscriptionRole = "position"
)

// ExitReason names why RiskManager issued an exit.
type ExitReason string

const (
	ReasonTakeProfit        ExitReason = "TAKE_PROFIT"
	ReasonStopLoss          ExitReason = "STOP_LOSS"
	ReasonTimeStop          ExitReason = "TIME_STOP"
	ReasonTrailingStop      ExitReason = "TRAILING_STOP"
	ReasonTechnicalInvalid  ExitReason = "TECHNICAL_INVALID"
	ReasonDailyLossCap      ExitReason = "DAILY_LOSS_CAP"
	ReasonReconciledMissing ExitReason = "reconciled_missing"
	ReasonManual            ExitReason = "MANUAL"
)

// ————————————————————————————————————————————————————————————————————————
// Tick / market data
// ————————————————————————————————————————————————————————————————————————

// InstrumentKey identifies a tradeable instrument by exchange segment and
// broker security id — the primary key for ticks, positions and subscriptions.
type InstrumentKey struct {
	Segment    Segment
	SecurityID string
}

// Tick is the canonical normalized market-data record. Heterogeneous source
// packets (index/option/future quote variants, OI-only updates) are folded
// into this single shape by the feed package's packet handler; TickCache
// stores the result.
type Tick struct {
	Segment        Segment
	SecurityID     string
	LTP            decimal.Decimal
	Open           decimal.Decimal
	High           decimal.Decimal
	Low            decimal.Decimal
	Close          decimal.Decimal
	Volume         int64
	OI             int64
	Timestamp      time.Time
	DayHigh        decimal.Decimal
	DayLow         decimal.Decimal
	ATP            decimal.Decimal
	Kind           string // e.g. "ticker", "quote", "full", "oi"
	InstrumentType InstrumentType
	ExpiryDate     *time.Time
	Strike         *decimal.Decimal
	OptionType     *OptionType
}

// Key returns the (segment, security_id) composite key for this tick.
func (t Tick) Key() InstrumentKey {
	return InstrumentKey{Segment: t.Segment, SecurityID: t.SecurityID}
}

// Candle is one OHLC bar for a given timeframe, consumed by SignalEngine.
type Candle struct {
	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
}

// ————————————————————————————————————————————————————————————————————————
// Instrument metadata
// ————————————————————————————————————————————————————————————————————————

// Instrument is the read-only metadata record supplied by InstrumentMaster.
type Instrument struct {
	SecurityID     string
	Segment        Segment
	Symbol         string
	InstrumentType InstrumentType
	LotSize        int64
	Strike         *decimal.Decimal
	Expiry         *time.Time
	OptionType     *OptionType
}

// ————————————————————————————————————————————————————————————————————————
// Position
// ————————————————————————————————————————————————————————————————————————

// PositionKey identifies a position: segment + security + side. The engine
// is long-only, so Side is always LONG in practice, but the field is kept
// explicit per the data model.
type PositionKey struct {
	Segment    Segment
	SecurityID string
	Side       string
}

// Position tracks weighted-average accounting for one tradeable instrument
// held within a session.
type Position struct {
	Key           PositionKey
	BuyQty        decimal.Decimal
	BuyAvg        decimal.Decimal
	SellQty       decimal.Decimal
	SellAvg       decimal.Decimal
	NetQty        decimal.Decimal
	DayBuyQty     decimal.Decimal
	DaySellQty    decimal.Decimal
	CurrentPrice  decimal.Decimal
	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	EntryFee      decimal.Decimal
	OptionType    *OptionType
	CreatedAt     time.Time
	LastUpdated   time.Time
}

// IsOpen reports whether this position still carries quantity and is
// therefore eligible for risk evaluation (closed positions are retained for
// reporting only, per spec.md §9 Open Questions).
func (p Position) IsOpen() bool {
	return p.NetQty.GreaterThan(decimal.Zero)
}

// ————————————————————————————————————————————————————————————————————————
// Wallet
// ————————————————————————————————————————————————————————————————————————

// WalletSnapshot is a point-in-time read of wallet state.
type WalletSnapshot struct {
	Available       decimal.Decimal
	Used            decimal.Decimal
	RealizedPnL     decimal.Decimal
	Total           decimal.Decimal
	StartingBalance decimal.Decimal
	UpdatedAt       time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Orders
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is what callers (the Sizer→OrderGateway entry path and
// RiskManager's exit path) ask to be placed.
type OrderRequest struct {
	Symbol     string
	SecurityID string
	Segment    Segment
	Side       Side
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	OrderType  OrderType
	OptionType *OptionType
	Strike     *decimal.Decimal
}

// Order is the canonical record of a submitted order.
type Order struct {
	OrderID      string
	Symbol       string
	SecurityID   string
	Side         Side
	Quantity     decimal.Decimal
	Price        decimal.Decimal
	OrderType    OrderType
	Status       OrderStatus
	FillPrice    decimal.Decimal
	FillQuantity decimal.Decimal
	CreatedAt    time.Time
	LastUpdated  time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Session
// ————————————————————————————————————————————————————————————————————————

// Trade is one completed fill recorded into the session report.
type Trade struct {
	OrderID     string
	Symbol      string
	SecurityID  string
	Side        Side
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	Fee         decimal.Decimal
	RealizedPnL decimal.Decimal
	Timestamp   time.Time
	Reason      ExitReason
}

// Session is the trading-day-scoped lifecycle container.
type Session struct {
	SessionID       string
	TradingDay      time.Time
	Mode            Mode
	StartTime       time.Time
	EndTime         time.Time
	StartingBalance decimal.Decimal
	EndingBalance   decimal.Decimal
	Trades          []Trade
	Positions       []Position
	SymbolsTraded   []string
}

// SessionReport is the final JSON-serializable artifact emitted on finalize,
// matching the schema in spec.md §6.
type SessionReport struct {
	SessionID        string          `json:"session_id"`
	Mode             Mode            `json:"mode"`
	TradingDay       string          `json:"trading_day"`
	StartTime        time.Time       `json:"start_time"`
	EndTime          time.Time       `json:"end_time"`
	DurationMinutes  float64         `json:"duration_minutes"`
	StartingBalance  decimal.Decimal `json:"starting_balance"`
	EndingBalance    decimal.Decimal `json:"ending_balance"`
	TotalTrades      int             `json:"total_trades"`
	SuccessfulTrades int             `json:"successful_trades"`
	FailedTrades     int             `json:"failed_trades"`
	TotalPnL         decimal.Decimal `json:"total_pnl"`
	MaxProfit        decimal.Decimal `json:"max_profit"`
	MaxDrawdown      decimal.Decimal `json:"max_drawdown"`
	WinRate          float64         `json:"win_rate"`
	AverageTradePnL  decimal.Decimal `json:"average_trade_pnl"`
	SymbolsTraded    []string        `json:"symbols_traded"`
	Positions        []Position      `json:"positions"`
	Trades           []Trade         `json:"trades"`
}

// ————————————————————————————————————————————————————————————————————————
// Dedupe / idempotency
// ————————————————————————————————————————————————————————————————————————

// DedupeKey suppresses duplicate order submissions within a TTL window.
type DedupeKey struct {
	Key       string
	ExpiresAt time.Time
}

// IdempotencyKey suppresses duplicate exit attempts for the same
// (security_id, reason) pair within a session.
type IdempotencyKey struct {
	SecurityID string
	Reason     ExitReason
	Nonce      string
}

// SignalDirection is the output of SignalEngine.
type SignalDirection string

const (
	SignalLong  SignalDirection = "long"
	SignalShort SignalDirection = "short"
	SignalNone  SignalDirection = "none"
)
