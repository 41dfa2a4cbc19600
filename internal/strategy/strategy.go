// Package strategy orchestrates the analysis cycle: market snapshots are
// condensed into indicator reports, rendered into a prompt, and the model's
// JSON answer is parsed, risk-validated, and executed against the paper
// portfolio. The package never talks to the network — the engine feeds it
// snapshots and the raw model response.
package strategy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"orderly-trader/internal/config"
	"orderly-trader/internal/indicator"
	"orderly-trader/internal/market"
	"orderly-trader/internal/metrics"
	"orderly-trader/internal/risk"
	"orderly-trader/pkg/types"
)

// Engine owns the paper portfolio and runs the two-phase analysis cycle:
// PrepareAnalysis builds the prompts, ProcessResponse consumes the model's
// answer. Not goroutine-safe; the trading loop is the only caller.
type Engine struct {
	cfg       *config.Config
	portfolio *types.Portfolio
	risk      *risk.Manager
	logger    *slog.Logger

	cycleCount int

	// State stashed between PrepareAnalysis and ProcessResponse.
	pendingReports map[string]indicator.Report
	pendingPrices  map[string]float64
}

// NewEngine creates the orchestrator with a fresh portfolio at the
// configured initial budget.
func NewEngine(cfg *config.Config, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:       cfg,
		portfolio: types.NewPortfolio(cfg.InitialBudget),
		risk:      risk.NewManager(cfg, logger),
		logger:    logger.With("component", "strategy"),
	}
}

// Portfolio exposes the ledger for status reporting and journaling.
func (e *Engine) Portfolio() *types.Portfolio { return e.portfolio }

// Zones returns the current budget partition.
func (e *Engine) Zones() risk.Zones { return e.risk.ComputeZones(e.portfolio) }

// CycleCount returns the number of completed analysis cycles.
func (e *Engine) CycleCount() int { return e.cycleCount }

// PrepareAnalysis computes indicator reports for every snapshot and builds
// the prompt pair for the model. The reports and prices are stashed until
// ProcessResponse consumes the answer.
func (e *Engine) PrepareAnalysis(
	snapshots map[string]*market.Snapshot,
	prices map[string]float64,
) (systemPrompt, userPrompt string) {
	reports := make(map[string]indicator.Report, len(snapshots))
	for symbol, snap := range snapshots {
		reports[symbol] = indicator.Compute(snap)
	}

	userPrompt = e.buildUserPrompt(reports, prices, time.Now())
	e.logger.Debug("built user prompt", "chars", len(userPrompt))

	e.pendingReports = reports
	e.pendingPrices = prices

	return SystemPrompt, userPrompt
}

// ProcessResponse parses the model's answer, validates every decision
// through the risk manager, executes the approved ones, and records the
// full cycle. The returned cycle is what the journal persists.
func (e *Engine) ProcessResponse(responseText, reasoning string) ([]types.ValidatedDecision, types.AnalysisCycle) {
	reports := e.pendingReports
	prices := e.pendingPrices
	e.pendingReports = nil
	e.pendingPrices = nil

	cycle := types.AnalysisCycle{
		ID:        uuid.New(),
		Timestamp: time.Now().UTC(),
		Before:    e.portfolio.Summary(prices),
	}
	if e.cfg.StoreReasoning {
		cycle.Reasoning = reasoning
		cycle.RawResponse = responseText
	}

	decisions := e.parseResponse(responseText)

	validated := make([]types.ValidatedDecision, 0, len(decisions))
	for _, decision := range decisions {
		price := prices[decision.Symbol]
		report, haveReport := reports[decision.Symbol]

		var v types.ValidatedDecision
		if !haveReport || price <= 0 {
			v = types.ValidatedDecision{
				Original:         decision,
				RejectionReasons: []string{"No price/indicator data"},
			}
		} else {
			v = e.risk.Validate(decision, e.portfolio, report, price)
		}
		validated = append(validated, v)

		outcome := "rejected"
		if v.Approved {
			outcome = "approved"
		}
		metrics.Decisions.WithLabelValues(string(decision.Action), outcome).Inc()

		e.logger.Info("decision",
			"symbol", decision.Symbol,
			"action", decision.Action,
			"approved", v.Approved,
			"leverage", v.FinalLeverage(),
			"quantity", v.FinalQuantity(),
			"reasons", v.RejectionReasons,
		)
	}

	e.executeDecisions(validated, prices)

	cycle.Decisions = validated
	cycle.After = e.portfolio.Summary(prices)
	e.cycleCount++

	return validated, cycle
}

// CheckStopLossTakeProfit sweeps every open position against the latest
// prices and closes the ones whose SL or TP has fired. SL wins when both
// would trigger. Returns one message per close.
func (e *Engine) CheckStopLossTakeProfit(prices map[string]float64) []string {
	type hit struct {
		pos    types.Position
		price  float64
		reason string
	}
	var hits []hit

	for _, pos := range e.portfolio.OpenPositions {
		price, ok := prices[pos.Symbol]
		if !ok || price <= 0 {
			continue
		}
		switch {
		case pos.ShouldStopLoss(price):
			hits = append(hits, hit{pos, price, "SL"})
		case pos.ShouldTakeProfit(price):
			hits = append(hits, hit{pos, price, "TP"})
		}
	}

	messages := make([]string, 0, len(hits))
	for _, h := range hits {
		trade := e.portfolio.Close(h.pos, h.price, h.reason)
		metrics.PositionsClosed.WithLabelValues(h.reason).Inc()
		msg := closeMessage(h.pos, h.price, h.reason, trade.PnL)
		messages = append(messages, msg)
		e.logger.Info("position closed",
			"symbol", h.pos.Symbol,
			"side", h.pos.Side,
			"price", h.price,
			"reason", h.reason,
			"pnl", types.Round2(trade.PnL),
		)
	}

	return messages
}

func closeMessage(pos types.Position, price float64, reason string, pnl float64) string {
	return fmt.Sprintf("Closed %s %s @ %.2f (%s) PnL: $%.2f",
		pos.Symbol, pos.Side, price, reason, pnl)
}

// parseResponse turns the raw model output into one TradeDecision per
// configured symbol: fences stripped, direct JSON first, then the largest
// brace-delimited substring, then all-HOLD. Malformed or unknown-symbol
// decisions are dropped; omitted symbols get a HOLD.
func (e *Engine) parseResponse(responseText string) []types.TradeDecision {
	content := strings.TrimSpace(responseText)

	if strings.HasPrefix(content, "```") {
		var kept []string
		for _, line := range strings.Split(content, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				continue
			}
			kept = append(kept, line)
		}
		content = strings.Join(kept, "\n")
	}

	var parsed struct {
		Decisions []types.TradeDecision `json:"decisions"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		start := strings.Index(content, "{")
		end := strings.LastIndex(content, "}")
		if start >= 0 && end > start {
			err = json.Unmarshal([]byte(content[start:end+1]), &parsed)
		}
		if err != nil {
			e.logger.Error("failed to parse model response", "head", head(content, 200))
			decisions := make([]types.TradeDecision, 0, len(e.cfg.Symbols))
			for _, s := range e.cfg.Symbols {
				decisions = append(decisions, types.Hold(s, "Parse error — defaulting to HOLD"))
			}
			return decisions
		}
	}

	known := make(map[string]bool, len(e.cfg.Symbols))
	for _, s := range e.cfg.Symbols {
		known[s] = true
	}

	decisions := make([]types.TradeDecision, 0, len(e.cfg.Symbols))
	seen := make(map[string]bool, len(e.cfg.Symbols))
	for _, d := range parsed.Decisions {
		if !known[d.Symbol] || seen[d.Symbol] || !d.Action.Valid() {
			e.logger.Warn("skipping decision", "symbol", d.Symbol, "action", d.Action)
			continue
		}
		seen[d.Symbol] = true
		decisions = append(decisions, d)
	}

	for _, s := range e.cfg.Symbols {
		if !seen[s] {
			decisions = append(decisions, types.Hold(s, "No decision provided"))
		}
	}

	return decisions
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// executeDecisions applies the approved decisions to the paper portfolio.
func (e *Engine) executeDecisions(validated []types.ValidatedDecision, prices map[string]float64) {
	for _, v := range validated {
		if !v.Approved {
			continue
		}
		decision := v.Original

		switch decision.Action {
		case types.ActionClose:
			price := prices[decision.Symbol]
			if price <= 0 {
				continue
			}
			for _, pos := range e.portfolio.PositionsFor(decision.Symbol) {
				trade := e.portfolio.Close(pos, price, "LLM_CLOSE")
				metrics.PositionsClosed.WithLabelValues("LLM_CLOSE").Inc()
				e.logger.Info("position closed",
					"symbol", pos.Symbol,
					"side", pos.Side,
					"price", price,
					"reason", "LLM_CLOSE",
					"pnl", types.Round2(trade.PnL),
				)
			}

		case types.ActionLong, types.ActionShort:
			price := prices[decision.Symbol]
			if price <= 0 {
				continue
			}
			notional := v.FinalQuantity() * price
			margin := notional
			if v.FinalLeverage() > 0 {
				margin = notional / v.FinalLeverage()
			}

			pos := types.Position{
				ID:         uuid.New(),
				Symbol:     decision.Symbol,
				Side:       decision.Action,
				EntryPrice: price,
				Quantity:   v.FinalQuantity(),
				Leverage:   v.FinalLeverage(),
				StopLoss:   decision.StopLoss,
				TakeProfit: decision.TakeProfit,
				Margin:     margin,
				OpenedAt:   time.Now().UTC(),
				Confidence: decision.Confidence,
				Reasoning:  decision.Reasoning,
			}
			e.portfolio.Open(pos)
			metrics.PositionsOpened.WithLabelValues(string(decision.Action)).Inc()
			e.logger.Info("position opened",
				"symbol", decision.Symbol,
				"side", decision.Action,
				"price", price,
				"quantity", v.FinalQuantity(),
				"leverage", v.FinalLeverage(),
				"margin", types.Round2(margin),
			)
		}
	}
}
