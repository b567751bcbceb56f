// dhan-scalper is the intraday options-scalping engine for NIFTY,
// BANKNIFTY and SENSEX (spec.md §1).
//
// Architecture:
//
//	main.go                 — CLI entry point: start/stop/status/balance/positions/orders/report
//	internal/engine         — orchestrator: wires every component and owns the lifecycle
//	internal/feed           — WebSocket tick subscription manager (C5)
//	internal/signal         — per-symbol trend decision from OHLC candles (C7)
//	internal/sizer          — budget-based lot sizing (C8)
//	internal/orders         — the sole writer of Wallet and PositionStore (C9)
//	internal/risk           — TP/SL/trailing/time-stop ladder + daily-loss cap (C10)
//	internal/scheduler      — cron/ticker task runner (C11)
//	internal/reconciler     — broker-vs-tracker position reconciliation (C12)
//	internal/session        — session lifecycle + report persistence (C13)
//	internal/api            — read-only HTTP/WebSocket introspection surface
//
// Exit codes: 0 normal; 1 configuration/credential failure; 2 unrecoverable
// external dependency (stream or store), per spec.md §6.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"dhan-scalper-sub003/internal/api"
	"dhan-scalper-sub003/internal/config"
	"dhan-scalper-sub003/internal/engine"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		runStart(os.Args[2:])
	case "stop":
		runStop(os.Args[2:])
	case "status", "balance", "positions", "orders", "report":
		runIntrospect(os.Args[1], os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dhan-scalper <start|stop|status|balance|positions|orders|report> [flags]")
	fmt.Fprintln(os.Stderr, "  start -c <config> -m {paper|live} [-t <minutes>] [-q]")
	fmt.Fprintln(os.Stderr, "  stop  -c <config>")
	fmt.Fprintln(os.Stderr, "  status|balance|positions|orders|report -c <config>")
}

func runStart(args []string) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	cfgPath := fs.String("c", "configs/config.yaml", "path to config file")
	mode := fs.String("m", "paper", "trading mode: paper or live")
	minutes := fs.Int("t", 0, "auto-stop after this many minutes (0 = run until signaled)")
	quiet := fs.Bool("q", false, "quiet: only warnings and errors")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *cfgPath)
		os.Exit(1)
	}
	cfg.Mode = *mode
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := buildLogger(cfg.Logging, *quiet)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(2)
	}
	writePIDFile(*cfgPath)
	defer removePIDFile(*cfgPath)

	logger.Info("engine started", "mode", cfg.Mode, "symbols", len(cfg.Symbols))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var timeout <-chan time.Time
	if *minutes > 0 {
		timeout = time.After(time.Duration(*minutes) * time.Minute)
	}

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-timeout:
		logger.Info("auto-stop timer elapsed", "minutes", *minutes)
	}

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop dashboard", "error", err)
		}
	}
	eng.Stop()
}

func runStop(args []string) {
	fs := flag.NewFlagSet("stop", flag.ExitOnError)
	cfgPath := fs.String("c", "configs/config.yaml", "path to config file")
	fs.Parse(args)

	pid, err := readPIDFile(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "no running engine found:", err)
		os.Exit(1)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to find process:", err)
		os.Exit(1)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		fmt.Fprintln(os.Stderr, "failed to signal process:", err)
		os.Exit(1)
	}
	fmt.Println("stop signal sent")
}

// runIntrospect hits the running engine's dashboard API for the read-only
// commands, matching spec.md §6's status/balance/positions/orders/report.
func runIntrospect(command string, args []string) {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	cfgPath := fs.String("c", "configs/config.yaml", "path to config file")
	fs.Parse(args)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if !cfg.Dashboard.Enabled {
		fmt.Fprintln(os.Stderr, "dashboard is disabled in config; enable dashboard.enabled to use this command")
		os.Exit(1)
	}

	url := fmt.Sprintf("http://localhost:%d/api/snapshot", cfg.Dashboard.Port)
	resp, err := http.Get(url)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to reach dashboard:", err)
		os.Exit(2)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to read response:", err)
		os.Exit(2)
	}

	var snapshot api.DashboardSnapshot
	if err := json.Unmarshal(body, &snapshot); err != nil {
		fmt.Fprintln(os.Stderr, "failed to parse response:", err)
		os.Exit(2)
	}

	printSnapshot(command, snapshot)
}

func printSnapshot(command string, snapshot api.DashboardSnapshot) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	switch command {
	case "balance":
		enc.Encode(snapshot.Wallet)
	case "positions":
		enc.Encode(snapshot.Positions)
	case "orders":
		enc.Encode(snapshot.Positions) // orders are not separately tracked once filled; positions reflect them
	case "report":
		enc.Encode(snapshot)
	default:
		enc.Encode(snapshot)
	}
}

func buildLogger(cfg config.LoggingConfig, quiet bool) *slog.Logger {
	level := parseLogLevel(cfg.Level)
	if quiet && level < slog.LevelWarn {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func pidFilePath(cfgPath string) string {
	return os.TempDir() + "/dhan-scalper-" + strconv.Itoa(hashString(cfgPath)) + ".pid"
}

func hashString(s string) int {
	h := 0
	for _, r := range s {
		h = h*31 + int(r)
	}
	if h < 0 {
		h = -h
	}
	return h
}

func writePIDFile(cfgPath string) {
	path := pidFilePath(cfgPath)
	_ = os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(cfgPath string) {
	_ = os.Remove(pidFilePath(cfgPath))
}

func readPIDFile(cfgPath string) (int, error) {
	data, err := os.ReadFile(pidFilePath(cfgPath))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}
