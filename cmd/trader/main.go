// Orderly Paper Trader — an LLM-driven perpetual futures swing trader
// running entirely on Orderly Network public market data.
//
// Architecture:
//
//	main.go              — entry point: loads config, runs the engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: backfill → WS streams → analysis loop → shutdown
//	strategy/strategy.go — builds prompts, parses model JSON, executes approved decisions
//	market/collector.go  — per-symbol rolling state fed by the public WebSocket streams
//	indicator/           — RSI, MACD, Bollinger, EMA, VWAP, ATR and the per-symbol report
//	risk/manager.go      — graduated budget zones and layered decision validation
//	llm/openrouter.go    — chat-completions client for any model behind OpenRouter
//	exchange/            — REST history client and auto-reconnecting WebSocket feed
//	journal/             — JSONL persistence of every analysis cycle
//	api/                 — read-only status HTTP/WebSocket server plus /metrics
//
// The trader never places real orders: fills are simulated against an
// in-memory portfolio so model behavior can be evaluated risk-free.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"

	"orderly-trader/internal/config"
	"orderly-trader/internal/engine"
)

func main() {
	// .env is optional; the environment always wins.
	_ = godotenv.Load()

	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TRADER_CONFIG"); p != "" {
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

	eng, err := engine.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	if err := eng.Run(ctx); err != nil {
		logger.Error("engine stopped with error", "error", err)
		os.Exit(1)
	}

	printSummary(eng)
}

// printSummary renders the final ledger after shutdown.
func printSummary(eng *engine.Engine) {
	summary := eng.Summary()

	fmt.Printf("\n========================================\n")
	fmt.Printf("  PAPER TRADING SESSION SUMMARY\n")
	fmt.Printf("========================================\n\n")
	fmt.Printf("  Initial budget:   $%.2f\n", summary.InitialBudget)
	fmt.Printf("  Final equity:     $%.2f\n", summary.CurrentBudget)
	fmt.Printf("  Unrealized PnL:   $%.2f\n", summary.UnrealizedPnL)
	fmt.Printf("  Closed trades:    %d (win rate %.1f%%)\n", summary.TotalTrades, summary.WinRate*100)
	fmt.Printf("  Max drawdown:     %.1f%%\n\n", summary.DrawdownFromPeak*100)

	if len(summary.OpenPositions) > 0 {
		fmt.Println("  Open positions at shutdown:")
		tbl := tablewriter.NewWriter(os.Stdout)
		tbl.Header("Symbol", "Side", "Entry", "Qty", "Lev", "SL", "TP", "uPnL")
		for _, p := range summary.OpenPositions {
			tbl.Append(
				p.Symbol,
				string(p.Side),
				fmt.Sprintf("%.2f", p.Entry),
				fmt.Sprintf("%.4f", p.Qty),
				fmt.Sprintf("%.0fx", p.Leverage),
				fmt.Sprintf("%.2f", p.StopLoss),
				fmt.Sprintf("%.2f", p.TakeProfit),
				fmt.Sprintf("$%.2f", p.UnrealizedPnL),
			)
		}
		tbl.Render()
	}

	if len(summary.RecentTrades) > 0 {
		fmt.Println("\n  Recent closed trades:")
		tbl := tablewriter.NewWriter(os.Stdout)
		tbl.Header("Symbol", "Side", "PnL", "Reason")
		for _, t := range summary.RecentTrades {
			tbl.Append(t.Symbol, string(t.Side), fmt.Sprintf("$%.2f", t.PnL), t.Reason)
		}
		tbl.Render()
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
