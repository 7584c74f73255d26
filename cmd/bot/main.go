// Polymarket Market Maker — a rebate-harvesting quoting bot for Polymarket
// binary prediction markets.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: routes WS events into the stores and spawns trade passes
//	engine/reconciler.go — periodic REST truth-folding and spreadsheet market refresh
//	strategy/trader.go   — per-market quoting pass: merge, stop-loss, take-profit, bid management
//	strategy/quotes.go   — pure pricing and sizing rules
//	book/book.go         — local order book mirrors fed by WS snapshots + deltas
//	state/               — positions, resting orders, pending fills, traded market set
//	sheets/sheets.go     — market selection and hyperparameters from a published spreadsheet
//	exchange/client.go   — REST client for the Polymarket CLOB (orders, cancels, listings)
//	exchange/auth.go     — L1 (EIP-712) and L2 (HMAC) authentication, order signing
//	exchange/ws.go       — WebSocket feeds (market books + user fills) with auto-reconnect
//	exchange/chain.go    — on-chain balance reads for the merge step
//	exchange/merger.go   — external subprocess that burns YES/NO pairs back into USDC
//	risk/state.go        — per-market stop-loss cooldown files
//
// How it makes money:
//
//	The bot rests a bid and an ask inside each market's liquidity reward band
//	and collects maker rebates while the quotes sit near the touch. Filled
//	inventory is worked off by take-profit asks, merged against the opposite
//	outcome when both sides fill, or dumped by the stop-loss when a market
//	moves away.
package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/tzf1003/poly-maker-rewords/internal/config"
	"github.com/tzf1003/poly-maker-rewords/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("POLY_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(*cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}
	logger.Info("polymarket market maker started",
		"reconcile_interval", cfg.Reconcile.Interval,
		"min_merge_size", cfg.Trading.MinMergeSize,
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
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
