// Package session implements SessionReporter (C13): trading-day-scoped
// session lifecycle, trade accumulation, and final report generation.
// Grounded on the bot's internal/store/store.go atomic-write-then-rename
// JSON persistence; generalized to also mirror into Redis (when
// REDIS_URL is configured) under the `dhan_scalper:v1` namespace spec.md
// §6 names, using go-redis/v9's standard client API — the pack's only
// go-redis usage is a dependency listing (go-coffee manifest), not a
// reusable call pattern, so the client wiring here follows the library's
// own idiomatic usage rather than a pack source file.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/pkg/errs"
	"dhan-scalper-sub003/pkg/types"
)

const redisNamespace = "dhan_scalper:v1"
const redisTTL = 24 * time.Hour

// TradingDay resolves t to its trading day: weekends resolve to the
// previous Friday, per spec.md §3.
func TradingDay(t time.Time) time.Time {
	switch t.Weekday() {
	case time.Saturday:
		return t.AddDate(0, 0, -1)
	case time.Sunday:
		return t.AddDate(0, 0, -2)
	default:
		return t
	}
}

// SessionID derives "<MODE>_<YYYYMMDD>" from mode and a trading day.
func SessionID(mode types.Mode, tradingDay time.Time) string {
	return fmt.Sprintf("%s_%s", strings.ToUpper(string(mode)), tradingDay.Format("20060102"))
}

// Reporter owns the session lifecycle: create/resume, trade accumulation,
// and final report emission.
type Reporter struct {
	dataDir string
	redis   *redis.Client

	mu      sync.Mutex
	session types.Session
}

// Open wires a Reporter to its local directory and, if redisURL is
// non-empty, an optional Redis mirror.
func Open(dataDir, redisURL string) (*Reporter, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	r := &Reporter{dataDir: dataDir}
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		r.redis = redis.NewClient(opts)
	}
	return r, nil
}

// Close releases the Redis connection, if one was opened.
func (r *Reporter) Close() error {
	if r.redis != nil {
		return r.redis.Close()
	}
	return nil
}

// LoadOrCreate resumes today's session if a record already exists, else
// initializes a new one with the given starting balance.
func (r *Reporter) LoadOrCreate(ctx context.Context, mode types.Mode, startingBalance decimal.Decimal) (types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	day := TradingDay(now)
	id := SessionID(mode, day)

	if existing, ok := r.load(ctx, id); ok {
		r.session = existing
		return r.session, nil
	}

	r.session = types.Session{
		SessionID:       id,
		TradingDay:      day,
		Mode:            mode,
		StartTime:       now,
		StartingBalance: startingBalance,
	}
	if err := r.persist(ctx); err != nil {
		return types.Session{}, err
	}
	return r.session, nil
}

// RecordTrade appends a filled trade to the session and persists.
func (r *Reporter) RecordTrade(ctx context.Context, trade types.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session.SessionID == "" {
		return errs.ErrSessionNotStarted
	}

	r.session.Trades = append(r.session.Trades, trade)
	if !containsString(r.session.SymbolsTraded, trade.Symbol) {
		r.session.SymbolsTraded = append(r.session.SymbolsTraded, trade.Symbol)
	}
	return r.persist(ctx)
}

// Finalize computes the closing report from accumulated trades and the
// final position snapshot, persists it, and returns it.
func (r *Reporter) Finalize(ctx context.Context, positions []types.Position, endingBalance decimal.Decimal) (types.SessionReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session.SessionID == "" {
		return types.SessionReport{}, errs.ErrSessionNotStarted
	}

	r.session.EndTime = time.Now()
	r.session.EndingBalance = endingBalance
	r.session.Positions = positions

	report := buildReport(r.session)
	if err := r.persist(ctx); err != nil {
		return report, err
	}
	if err := r.saveReport(ctx, report); err != nil {
		return report, err
	}
	return report, nil
}

func buildReport(s types.Session) types.SessionReport {
	var (
		total, successful, failed int
		totalPnL, maxProfit       decimal.Decimal
		runningPnL, peakPnL       decimal.Decimal
		maxDrawdown               decimal.Decimal
	)

	for _, t := range s.Trades {
		if t.Side != types.SELL {
			continue
		}
		total++
		totalPnL = totalPnL.Add(t.RealizedPnL)
		if t.RealizedPnL.GreaterThanOrEqual(decimal.Zero) {
			successful++
		} else {
			failed++
		}
		if t.RealizedPnL.GreaterThan(maxProfit) {
			maxProfit = t.RealizedPnL
		}

		runningPnL = runningPnL.Add(t.RealizedPnL)
		if runningPnL.GreaterThan(peakPnL) {
			peakPnL = runningPnL
		}
		drawdown := peakPnL.Sub(runningPnL)
		if drawdown.GreaterThan(maxDrawdown) {
			maxDrawdown = drawdown
		}
	}

	var winRate float64
	var avgPnL decimal.Decimal
	if total > 0 {
		winRate = float64(successful) / float64(total) * 100
		avgPnL = totalPnL.Div(decimal.NewFromInt(int64(total)))
	}

	return types.SessionReport{
		SessionID:        s.SessionID,
		Mode:             s.Mode,
		TradingDay:       s.TradingDay.Format("2006-01-02"),
		StartTime:        s.StartTime,
		EndTime:          s.EndTime,
		DurationMinutes:  s.EndTime.Sub(s.StartTime).Minutes(),
		StartingBalance:  s.StartingBalance,
		EndingBalance:    s.EndingBalance,
		TotalTrades:      total,
		SuccessfulTrades: successful,
		FailedTrades:     failed,
		TotalPnL:         totalPnL,
		MaxProfit:        maxProfit,
		MaxDrawdown:      maxDrawdown,
		WinRate:          winRate,
		AverageTradePnL:  avgPnL,
		SymbolsTraded:    s.SymbolsTraded,
		Positions:        s.Positions,
		Trades:           s.Trades,
	}
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// persist atomically writes the session JSON file and, if configured,
// mirrors it into Redis.
func (r *Reporter) persist(ctx context.Context) error {
	if err := r.writeFile(r.sessionPath(), r.session); err != nil {
		return err
	}
	if r.redis == nil {
		return nil
	}
	data, err := json.Marshal(r.session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	key := fmt.Sprintf("%s:session:%s", redisNamespace, r.session.SessionID)
	if err := r.redis.Set(ctx, key, data, redisTTL).Err(); err != nil {
		return fmt.Errorf("redis set session: %w", err)
	}
	metaKey := fmt.Sprintf("%s:session_meta:%s", redisNamespace, r.session.SessionID)
	meta := map[string]any{
		"mode":             string(r.session.Mode),
		"trading_day":      r.session.TradingDay.Format("2006-01-02"),
		"starting_balance": r.session.StartingBalance.String(),
		"trade_count":      len(r.session.Trades),
	}
	if err := r.redis.HSet(ctx, metaKey, meta).Err(); err != nil {
		return fmt.Errorf("redis hset session meta: %w", err)
	}
	r.redis.Expire(ctx, metaKey, redisTTL)
	return nil
}

func (r *Reporter) saveReport(ctx context.Context, report types.SessionReport) error {
	path := filepath.Join(r.dataDir, "report_"+report.SessionID+".json")
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return atomicWrite(path, data)
}

func (r *Reporter) load(ctx context.Context, id string) (types.Session, bool) {
	if r.redis != nil {
		key := fmt.Sprintf("%s:session:%s", redisNamespace, id)
		if data, err := r.redis.Get(ctx, key).Bytes(); err == nil {
			var s types.Session
			if json.Unmarshal(data, &s) == nil {
				return s, true
			}
		}
	}

	path := filepath.Join(r.dataDir, "session_"+id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Session{}, false
	}
	var s types.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return types.Session{}, false
	}
	return s, true
}

func (r *Reporter) writeFile(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return atomicWrite(path, data)
}

func (r *Reporter) sessionPath() string {
	return filepath.Join(r.dataDir, "session_"+r.session.SessionID+".json")
}

// atomicWrite writes to a .tmp file then renames over the target, the
// same crash-safe idiom as the bot's store.Store.SavePosition.
func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}
