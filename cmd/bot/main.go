// Cryptobot — a multi-venue crypto trading bot running pluggable strategies
// over a uniform exchange abstraction.
//
// Architecture:
//
//	main.go               — entry point: loads config, wires venues and strategies, waits for SIGINT/SIGTERM
//	venue/adapter.go      — uniform adapter surface; binance, kraken, and tradeogre implementations
//	venue/registry.go     — live adapters behind permission gating, circuit breaking, and fault absorption
//	strategy/base.go      — per-strategy tick loop with idempotent start/stop and exactly-once teardown
//	strategy/arbitrage.go — cross-venue price-gap trading with compensated two-phase execution
//	strategy/grid.go      — single-venue limit-order ladder with fill replacement
//	strategy/registry.go  — available strategies, single-active-instance rule
//	api/server.go         — REST control plane + WebSocket event stream for dashboards
//	store/store.go        — atomic JSON persistence of the whole configuration
//
// The bot runs either headless (start the configured strategy and trade until
// signalled) or with the control plane enabled (-api), where venues and
// strategies are managed over HTTP at runtime.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"cryptobot/internal/api"
	"cryptobot/internal/store"
	"cryptobot/internal/strategy"
	"cryptobot/internal/venue"
)

func main() {
	var (
		configPath = flag.String("config", "data/config.json", "path to the config file")
		apiMode    = flag.Bool("api", false, "serve the HTTP control plane")
		host       = flag.String("host", "127.0.0.1", "control plane bind host")
		port       = flag.Int("port", 8080, "control plane bind port")
	)
	flag.Parse()

	st, err := store.Open(*configPath)
	if err != nil {
		slog.Error("failed to open config store", "error", err, "path", *configPath)
		os.Exit(1)
	}
	cfg, err := st.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *configPath)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.GlobalSettings.String("log_level", "info"))}
	if cfg.GlobalSettings.String("log_format", "text") == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	venues := venue.NewRegistry(logger)
	for _, vc := range cfg.Exchanges {
		if !vc.Enabled {
			continue
		}
		if !venues.Add(vc) {
			logger.Warn("skipping venue", "venue", vc.VenueID)
		}
	}

	strategies := strategy.NewRegistry(logger)
	strategy.RegisterBuiltins(strategies)

	// Restore the persisted strategy selection. Construction failures are
	// not fatal: the control plane can fix the params at runtime.
	if cfg.ActiveStrategy != "" {
		params := strategy.Params(cfg.StrategyParams)
		if _, ok := params["max_order_age_seconds"]; !ok {
			params = params.Clone()
			params["max_order_age_seconds"] = cfg.GlobalSettings.Float("max_order_age_seconds", 86400)
		}
		if err := strategies.SetActive(cfg.ActiveStrategy, venues, params); err != nil {
			logger.Error("could not restore active strategy", "strategy", cfg.ActiveStrategy, "error", err)
		}
	}

	var apiServer *api.Server
	if *apiMode {
		apiServer = api.NewServer(*host, *port, cfg, st, venues, strategies, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("control plane failed", "error", err)
				os.Exit(1)
			}
		}()
		logger.Info("control plane started", "url", fmt.Sprintf("http://%s:%d", *host, *port))
	} else {
		// Headless: the configured strategy trades until we are signalled.
		if err := strategies.StartActive(); err != nil {
			logger.Warn("no strategy to run, idling", "error", err)
		}
	}

	logger.Info("cryptobot started",
		"venues", len(venues.IDs()),
		"active_strategy", cfg.ActiveStrategy,
		"api", *apiMode,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("failed to stop control plane", "error", err)
		}
	}
	strategies.ClearActive()
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
