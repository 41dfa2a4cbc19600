// Package engine is the central orchestrator of the trading loop.
//
// It wires together all subsystems:
//
//  1. One WebSocket feed carries every public market-data stream; each
//     symbol gets a Collector that subscribes its topics and maintains
//     rolling state (klines, orderbook, trades, derivatives).
//  2. The REST client backfills kline history so indicators are live from
//     the first cycle.
//  3. On a fixed interval the strategy engine condenses collector
//     snapshots into prompts, the oracle answers, and approved decisions
//     move the paper portfolio.
//  4. Every cycle is journaled, pushed to status-API clients, and
//     reflected in Prometheus gauges.
//
// Lifecycle: New() → Run(ctx) → [runs until ctx cancelled] → ordered
// shutdown inside Run.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"orderly-trader/internal/api"
	"orderly-trader/internal/config"
	"orderly-trader/internal/exchange"
	"orderly-trader/internal/journal"
	"orderly-trader/internal/llm"
	"orderly-trader/internal/market"
	"orderly-trader/internal/metrics"
	"orderly-trader/internal/strategy"
	"orderly-trader/pkg/types"
)

// stabilizationWait gives the WebSocket streams time to populate the
// collectors before the first analysis cycle.
const stabilizationWait = 10 * time.Second

// Engine owns every component's lifecycle and drives the analysis loop.
type Engine struct {
	cfg        *config.Config
	feed       *exchange.Feed
	client     *exchange.Client
	collectors map[string]*market.Collector
	oracle     llm.Oracle
	strategy   *strategy.Engine
	journal    *journal.Journal
	apiServer  *api.Server
	logger     *slog.Logger

	// events feeds the status API's WebSocket hub. Nil when the status
	// server is disabled.
	events chan api.Event

	// mu guards the strategy engine (and its portfolio) between the
	// trading loop and the status API's snapshot reads.
	mu sync.Mutex

	// knownPositions tracks open position IDs so new opens can be
	// diffed into events after each cycle.
	knownPositions map[uuid.UUID]bool
}

// New creates and wires all components. The oracle is the production
// OpenRouter client; tests construct the Engine directly with a fake.
func New(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	feed := exchange.NewFeed(cfg.StreamURL(), logger)
	client := exchange.NewClient(cfg.RESTBaseURL)

	collectors := make(map[string]*market.Collector, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		collectors[symbol] = market.NewCollector(symbol, feed, client, logger)
	}

	jnl, err := journal.Open(cfg.JournalDir, logger)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:            cfg,
		feed:           feed,
		client:         client,
		collectors:     collectors,
		oracle:         llm.NewOpenRouter(cfg.OpenRouter, logger),
		strategy:       strategy.NewEngine(cfg, logger),
		journal:        jnl,
		logger:         logger.With("component", "engine"),
		knownPositions: make(map[uuid.UUID]bool),
	}

	if cfg.Status.Enabled {
		e.events = make(chan api.Event, 100)
		e.apiServer = api.NewServer(cfg.Status, e, logger)
	}

	return e, nil
}

// Snapshot implements api.StatusProvider.
func (e *Engine) Snapshot() api.StatusSnapshot {
	prices := e.currentPrices()

	e.mu.Lock()
	defer e.mu.Unlock()
	return api.BuildSnapshot(
		e.strategy.Portfolio(),
		e.strategy.Zones(),
		prices,
		e.cfg.Symbols,
		e.strategy.CycleCount(),
	)
}

// Events implements api.StatusProvider.
func (e *Engine) Events() <-chan api.Event {
	return e.events
}

// Summary returns the final ledger view, marked to the latest prices.
func (e *Engine) Summary() types.PortfolioSummary {
	prices := e.currentPrices()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategy.Portfolio().Summary(prices)
}

// Run starts everything, loops until ctx is cancelled, then shuts down
// in order: collectors, status server, journal consumers.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("starting paper trader",
		"symbols", e.cfg.Symbols,
		"budget", e.cfg.InitialBudget,
		"paper", e.cfg.PaperTrading,
		"interval_s", e.cfg.AnalysisIntervalSeconds,
		"model", e.cfg.OpenRouter.Model,
	)

	// History first so indicators have depth from the first cycle.
	for _, c := range e.collectors {
		c.BackfillKlines(ctx)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := e.feed.Run(ctx); err != nil && ctx.Err() == nil {
			e.logger.Error("feed error", "error", err)
		}
	}()

	for _, c := range e.collectors {
		if err := c.Start(); err != nil {
			e.logger.Error("collector start failed", "symbol", c.Symbol(), "error", err)
		}
	}

	if e.apiServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := e.apiServer.Start(); err != nil {
				e.logger.Error("status server error", "error", err)
			}
		}()
	}

	e.logger.Info("waiting for streams to stabilize", "wait", stabilizationWait)
	select {
	case <-time.After(stabilizationWait):
	case <-ctx.Done():
	}

	interval := time.Duration(e.cfg.AnalysisIntervalSeconds) * time.Second
	for ctx.Err() == nil {
		started := time.Now()
		e.runCycle(ctx)

		elapsed := time.Since(started)
		metrics.CycleDuration.Observe(elapsed.Seconds())

		if sleep := interval - elapsed; sleep > 0 {
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
			}
		}
	}

	// Ordered shutdown.
	for _, c := range e.collectors {
		c.Stop()
	}
	if e.apiServer != nil {
		if err := e.apiServer.Stop(); err != nil {
			e.logger.Error("status server shutdown", "error", err)
		}
	}
	wg.Wait()
	if e.events != nil {
		close(e.events)
	}

	e.logger.Info("shutdown complete")
	return nil
}

// runCycle executes one full sweep → prompt → oracle → execute round.
func (e *Engine) runCycle(ctx context.Context) {
	prices := e.currentPrices()

	e.mu.Lock()
	closedBefore := len(e.strategy.Portfolio().ClosedTrades)

	// SL/TP fire on live prices before the model sees the book.
	for _, msg := range e.strategy.CheckStopLossTakeProfit(prices) {
		e.logger.Info(msg)
	}

	snapshots := make(map[string]*market.Snapshot, len(e.collectors))
	for symbol, c := range e.collectors {
		snapshots[symbol] = c.GetSnapshot()
	}

	systemPrompt, userPrompt := e.strategy.PrepareAnalysis(snapshots, prices)
	e.mu.Unlock()

	resp, err := e.oracle.Complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		e.logger.Error("oracle call failed", "error", err)
		metrics.CyclesTotal.WithLabelValues("error").Inc()

		e.mu.Lock()
		cycle := types.AnalysisCycle{
			ID:        uuid.New(),
			Timestamp: time.Now().UTC(),
			Before:    e.strategy.Portfolio().Summary(prices),
			Error:     err.Error(),
		}
		cycle.After = cycle.Before
		e.emitTradeEvents(closedBefore)
		e.mu.Unlock()

		e.journal.Append(cycle)
		e.emit(api.NewCycleEvent(cycle))
		return
	}

	e.mu.Lock()
	validated, cycle := e.strategy.ProcessResponse(resp.Content, resp.Reasoning)

	pf := e.strategy.Portfolio()
	metrics.Equity.Set(pf.CurrentBudget)
	metrics.MarginInUse.Set(pf.TotalMarginInUse())
	metrics.OpenPositions.Set(float64(len(pf.OpenPositions)))

	e.emitTradeEvents(closedBefore)
	equity := types.Round2(pf.CurrentBudget)
	e.mu.Unlock()

	metrics.CyclesTotal.WithLabelValues("ok").Inc()
	e.journal.Append(cycle)
	e.emit(api.NewCycleEvent(cycle))

	approved, rejected := 0, 0
	for _, v := range validated {
		if v.Original.Action == types.ActionHold {
			continue
		}
		if v.Approved {
			approved++
		} else {
			rejected++
		}
	}
	e.logger.Info("cycle complete",
		"model", resp.Model,
		"approved", approved,
		"rejected", rejected,
		"equity", equity,
		"tokens", resp.TotalTokens,
	)
}

// emitTradeEvents publishes open/close events by diffing the portfolio
// against the last published state. Caller holds e.mu.
func (e *Engine) emitTradeEvents(closedBefore int) {
	pf := e.strategy.Portfolio()

	for _, trade := range pf.ClosedTrades[closedBefore:] {
		delete(e.knownPositions, trade.ID)
		e.emit(api.NewPositionClosedEvent(trade))
	}

	for _, pos := range pf.OpenPositions {
		if !e.knownPositions[pos.ID] {
			e.knownPositions[pos.ID] = true
			e.emit(api.NewPositionOpenedEvent(pos))
		}
	}
}

// currentPrices reads the best-available price from every collector.
// Symbols with no data yet are omitted.
func (e *Engine) currentPrices() map[string]float64 {
	prices := make(map[string]float64, len(e.collectors))
	for symbol, c := range e.collectors {
		if p := c.CurrentPrice(); p > 0 {
			prices[symbol] = p
		}
	}
	return prices
}

// emit sends an event to the status hub without blocking the loop.
func (e *Engine) emit(evt api.Event) {
	if e.events == nil {
		return
	}
	select {
	case e.events <- evt:
	default:
	}
}
