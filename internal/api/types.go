package api

import (
	"time"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/internal/config"
	"dhan-scalper-sub003/pkg/types"
)

// DashboardSnapshot represents the complete read-only introspection state
// named in spec.md §6 (status/balance/positions/report).
type DashboardSnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Mode      types.Mode `json:"mode"`

	Wallet types.WalletSnapshot `json:"wallet"`
	Equity decimal.Decimal      `json:"equity"`

	Positions []PositionStatus `json:"positions"`
	Risk      RiskSnapshot     `json:"risk"`
	Config    ConfigSummary    `json:"config"`
}

// PositionStatus is the dashboard-facing view of one tracked position.
type PositionStatus struct {
	Symbol        string            `json:"symbol"`
	SecurityID    string            `json:"security_id"`
	Segment       types.Segment     `json:"segment"`
	OptionType    *types.OptionType `json:"option_type,omitempty"`
	NetQty        decimal.Decimal   `json:"net_qty"`
	BuyAvg        decimal.Decimal   `json:"buy_avg"`
	CurrentPrice  decimal.Decimal   `json:"current_price"`
	RealizedPnL   decimal.Decimal   `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal   `json:"unrealized_pnl"`
	LastUpdated   time.Time         `json:"last_updated"`
}

// NewPositionStatus projects a types.Position into its dashboard view.
func NewPositionStatus(p types.Position) PositionStatus {
	return PositionStatus{
		Symbol:        p.Key.SecurityID,
		SecurityID:    p.Key.SecurityID,
		Segment:       p.Key.Segment,
		OptionType:    p.OptionType,
		NetQty:        p.NetQty,
		BuyAvg:        p.BuyAvg,
		CurrentPrice:  p.CurrentPrice,
		RealizedPnL:   p.RealizedPnL,
		UnrealizedPnL: p.UnrealizedPnL,
		LastUpdated:   p.LastUpdated,
	}
}

// RiskSnapshot represents the risk ladder's current gating state.
type RiskSnapshot struct {
	EntriesAllowed bool            `json:"entries_allowed"`
	DailyCapHit    bool            `json:"daily_cap_hit"`
	InCooldown     bool            `json:"in_cooldown"`
	StartEquity    decimal.Decimal `json:"start_equity"`
	MaxDailyLossRs decimal.Decimal `json:"max_daily_loss_rs"`
}

// ConfigSummary represents the engine-wide trading parameters, trimmed to
// what an operator needs when reading the dashboard.
type ConfigSummary struct {
	Mode              string          `json:"mode"`
	AllocationPct     decimal.Decimal `json:"allocation_pct"`
	SlippageBufferPct decimal.Decimal `json:"slippage_buffer_pct"`
	TPPct             decimal.Decimal `json:"tp_pct"`
	SLPct             decimal.Decimal `json:"sl_pct"`
	TrailPct          decimal.Decimal `json:"trail_pct"`
	MaxDailyLossRs    decimal.Decimal `json:"max_daily_loss_rs"`
	SessionHours      string          `json:"session_hours"`
	Symbols           []string        `json:"symbols"`
	DryRun            bool            `json:"dry_run"`
}

// NewConfigSummary creates a config summary from the engine configuration.
func NewConfigSummary(cfg config.Config) ConfigSummary {
	symbols := make([]string, 0, len(cfg.Symbols))
	for name := range cfg.Symbols {
		symbols = append(symbols, name)
	}
	return ConfigSummary{
		Mode:              cfg.Mode,
		AllocationPct:     cfg.Global.AllocationPct,
		SlippageBufferPct: cfg.Global.SlippageBufferPct,
		TPPct:             cfg.Global.TPPct,
		SLPct:             cfg.Global.SLPct,
		TrailPct:          cfg.Global.TrailPct,
		MaxDailyLossRs:    cfg.Global.MaxDailyLossRs,
		SessionHours:      cfg.Global.SessionHours,
		Symbols:           symbols,
		DryRun:            cfg.Broker.DryRun,
	}
}
