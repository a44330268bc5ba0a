// Cross-exchange arbitrage executor for USDT perpetual futures on
// Bybit, Gate, MEXC, and BingX.
//
// Architecture:
//
//	main.go                 — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go        — supervisor: wires signals → filter → coordinator, restarts crashed components
//	signal/parser.go        — parses raw feed messages into SignalEvents (symbol + reported spread)
//	filter/filter.go        — ordered admission checks: spread band, limits, live quotes, margin
//	trade/coordinator.go    — per-pair lifecycle FSM: open both legs, monitor, unwind, settle
//	pricestream/stream.go   — per-(venue,symbol) ticker streams with quote cache and REST fallback
//	balance/reconciler.go   — periodic balance fan-out, venue health and quarantine
//	ledger/ledger.go        — daily realized P&L with UTC rollover, all-time stats
//	exchange/               — venue adapters (REST + WS), typed errors, rate limits, clock sync
//	store/store.go          — crash-safe JSON persistence (ledger, trade registry, balances)
//
// How it makes money:
//
//	A monitored feed reports price spreads between venues listing the
//	same perpetual. The bot longs the cheap venue and shorts the dear
//	one for equal size, holds while the spread converges, then closes
//	both legs. The position is market-neutral: profit comes from the
//	spread collapsing, not from price direction.
//
// Exit codes: 0 clean shutdown, 1 configuration error, 2 no venue
// reachable at boot, 3 unrecoverable runtime failure.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"crossarb/internal/api"
	"crossarb/internal/config"
	"crossarb/internal/engine"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		return 1
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		return 2
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, eng, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("status server failed", "error", err)
			}
		}()
		logger.Info("status dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		if errors.Is(err, engine.ErrNoVenues) {
			return 2
		}
		return 3
	}

	// Minimal ingestion transport: one raw signal message per stdin line.
	// A chat-client transport plugs into the same channel.
	go readSignals(eng, logger)

	logger.Info("arbitrage bot started",
		"venues", cfg.EnabledVenues(),
		"min_spread", cfg.Trading.MinSpread,
		"max_trades", cfg.Risk.MaxConcurrentTrades,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-eng.Fatal():
		logger.Error("unrecoverable engine failure", "error", err)
		code = 3
	}

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop status server", "error", err)
		}
	}
	eng.Stop()
	return code
}

func readSignals(eng *engine.Engine, logger *slog.Logger) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		select {
		case eng.Messages() <- line:
		default:
			logger.Warn("signal channel full, dropping message")
		}
	}
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
