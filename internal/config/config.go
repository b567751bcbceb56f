// Package config defines all configuration for the scalping engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Mode    string                  `mapstructure:"mode"`
	Global  GlobalConfig            `mapstructure:"global"`
	Paper   PaperConfig             `mapstructure:"paper"`
	Broker  BrokerConfig            `mapstructure:"broker"`
	Risk    RiskConfig              `mapstructure:"risk"`
	Store     StoreConfig             `mapstructure:"store"`
	Logging   LoggingConfig           `mapstructure:"logging"`
	Dashboard DashboardConfig         `mapstructure:"dashboard"`
	Symbols   map[string]SymbolConfig `mapstructure:"symbols"`

	// InstrumentsFile points at the CSV instrument master InstrumentMaster
	// loads at startup (spec.md §1: loading is out of scope, only the
	// resulting lookup interface is consumed by the rest of the engine).
	InstrumentsFile string `mapstructure:"instruments_file"`

	// StrictConfig rejects unknown YAML keys when true (§9 "unknown fields
	// are rejected in strict mode and logged in lenient mode"); defaults to
	// false, matching the teacher's own permissive Unmarshal call.
	StrictConfig bool `mapstructure:"strict_config"`
}

// GlobalConfig holds the engine-wide trading parameters from spec.md §6.
type GlobalConfig struct {
	MinProfitTarget         decimal.Decimal `mapstructure:"min_profit_target"`
	MaxDayLoss              decimal.Decimal `mapstructure:"max_day_loss"`
	ChargePerOrder          decimal.Decimal `mapstructure:"charge_per_order"`
	AllocationPct           decimal.Decimal `mapstructure:"allocation_pct"`
	SlippageBufferPct       decimal.Decimal `mapstructure:"slippage_buffer_pct"`
	MaxLotsPerTrade         int64           `mapstructure:"max_lots_per_trade"`
	DecisionInterval        time.Duration   `mapstructure:"decision_interval"`
	TPPct                   decimal.Decimal `mapstructure:"tp_pct"`
	SLPct                   decimal.Decimal `mapstructure:"sl_pct"`
	TrailPct                decimal.Decimal `mapstructure:"trail_pct"`
	RiskCheckInterval       time.Duration   `mapstructure:"risk_check_interval"`
	TimeStopSeconds         int64           `mapstructure:"time_stop_seconds"`
	EnableTimeStop          bool            `mapstructure:"enable_time_stop"`
	MaxDailyLossRs          decimal.Decimal `mapstructure:"max_daily_loss_rs"`
	EnableDailyLossCap      bool            `mapstructure:"enable_daily_loss_cap"`
	CooldownAfterLossSecs   int64           `mapstructure:"cooldown_after_loss_seconds"`
	EnableCooldown          bool            `mapstructure:"enable_cooldown"`
	UseMultiTimeframe       bool            `mapstructure:"use_multi_timeframe"`
	SecondaryTimeframe      string          `mapstructure:"secondary_timeframe"`
	SessionHours            string          `mapstructure:"session_hours"`
	EnforceMarketHours      bool            `mapstructure:"enforce_market_hours"`
	StreakGateMinutes       int64           `mapstructure:"streak_gate_minutes"`
	ReconcileIntervalSecs   int64           `mapstructure:"reconcile_interval_seconds"`
	MtmRefreshIntervalSecs  int64           `mapstructure:"mtm_refresh_interval_seconds"`
	LTPFallbackCacheSeconds int64           `mapstructure:"ltp_fallback_cache_seconds"`
	DedupeTTLSeconds        int64           `mapstructure:"dedupe_ttl_seconds"`
}

// PaperConfig holds paper-trading-only parameters.
type PaperConfig struct {
	StartingBalance decimal.Decimal `mapstructure:"starting_balance"`
}

// BrokerConfig holds broker connection parameters. Secrets are populated
// from environment variables, never checked into YAML.
type BrokerConfig struct {
	ClientID    string `mapstructure:"client_id"`
	AccessToken string `mapstructure:"access_token"`
	BaseURL     string `mapstructure:"base_url"`
	DryRun      bool   `mapstructure:"dry_run"`
}

// RiskConfig groups optional overrides of the layered risk regime beyond
// what lives in GlobalConfig; kept separate so per-environment risk tuning
// doesn't require touching trading parameters.
type RiskConfig struct {
	MaxDailyLossRs     decimal.Decimal `mapstructure:"max_daily_loss_rs"`
	CooldownAfterLoss  time.Duration   `mapstructure:"cooldown_after_loss"`
	EnableDailyLossCap bool            `mapstructure:"enable_daily_loss_cap"`
}

// StoreConfig sets where session/position data is persisted.
type StoreConfig struct {
	DataDir  string `mapstructure:"data_dir"`
	RedisURL string `mapstructure:"redis_url"`
}

// LoggingConfig controls slog setup.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DashboardConfig controls the read-only introspection HTTP/WebSocket
// server (spec.md §6's status/balance/positions/orders/report surface).
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// SymbolConfig is the per-symbol instrument-resolution configuration named
// in spec.md §6 (idx_sid, seg_idx, seg_opt, strike_step, lot_size,
// qty_multiplier, expiry_wday).
type SymbolConfig struct {
	IdxSecurityID string `mapstructure:"idx_sid"`
	SegIdx        string `mapstructure:"seg_idx"`
	SegOpt        string `mapstructure:"seg_opt"`
	StrikeStep    int64  `mapstructure:"strike_step"`
	LotSize       int64  `mapstructure:"lot_size"`
	QtyMultiplier int64  `mapstructure:"qty_multiplier"`
	ExpiryWday    int    `mapstructure:"expiry_wday"`
}

// Load reads config from a YAML file with env var overrides for the
// credentials and operational knobs spec.md §6 names as environment
// variables: CLIENT_ID, ACCESS_TOKEN, BASE_URL, LOG_LEVEL, REDIS_URL,
// ENFORCE_MARKET_HOURS.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DHAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	var err error
	if v.IsSet("strict_config") && v.GetBool("strict_config") {
		err = v.UnmarshalExact(&cfg)
	} else {
		err = v.Unmarshal(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if id := os.Getenv("CLIENT_ID"); id != "" {
		cfg.Broker.ClientID = id
	}
	if tok := os.Getenv("ACCESS_TOKEN"); tok != "" {
		cfg.Broker.AccessToken = tok
	}
	if url := os.Getenv("BASE_URL"); url != "" {
		cfg.Broker.BaseURL = url
	}
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Store.RedisURL = redisURL
	}
	if v := os.Getenv("ENFORCE_MARKET_HOURS"); v == "true" || v == "1" {
		cfg.Global.EnforceMarketHours = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges, matching the
// fail-fast ConfigurationError behavior in spec.md §7.
func (c *Config) Validate() error {
	switch c.Mode {
	case "paper", "live":
	default:
		return fmt.Errorf("mode must be one of: paper, live")
	}
	if c.Mode == "live" {
		if c.Broker.ClientID == "" {
			return fmt.Errorf("broker.client_id is required in live mode (set CLIENT_ID)")
		}
		if c.Broker.AccessToken == "" {
			return fmt.Errorf("broker.access_token is required in live mode (set ACCESS_TOKEN)")
		}
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url is required in live mode (set BASE_URL)")
		}
	}
	if c.Mode == "paper" && c.Paper.StartingBalance.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("paper.starting_balance must be > 0")
	}
	if c.Global.AllocationPct.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("global.allocation_pct must be > 0")
	}
	if c.Global.DecisionInterval <= 0 {
		return fmt.Errorf("global.decision_interval must be > 0")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one entry under symbols is required")
	}
	if c.InstrumentsFile == "" {
		return fmt.Errorf("instruments_file is required")
	}
	for name, sym := range c.Symbols {
		if sym.LotSize <= 0 {
			return fmt.Errorf("symbols.%s.lot_size must be > 0", name)
		}
		if sym.IdxSecurityID == "" {
			return fmt.Errorf("symbols.%s.idx_sid is required", name)
		}
	}
	return nil
}
