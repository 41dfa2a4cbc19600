package strategy

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"orderly-trader/internal/market"
	"orderly-trader/pkg/types"
)

func promptFor(e *Engine, prices map[string]float64) string {
	snapshots := make(map[string]*market.Snapshot, len(prices))
	for symbol, price := range prices {
		snapshots[symbol] = testSnapshot(symbol, price)
	}
	_, user := e.PrepareAnalysis(snapshots, prices)
	return user
}

func TestPromptLayout(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	prices := map[string]float64{"PERP_BTC_USDC": 60000, "PERP_ETH_USDC": 3000}

	user := promptFor(e, prices)

	for _, want := range []string{
		"## Current Market Data —",
		"### PERP_BTC_USDC",
		"### PERP_ETH_USDC",
		"**5m Timeframe:**",
		"RSI(14):",
		"**Orderbook:**",
		"**Derivatives:**",
		"**Volume Delta:**",
		"## Portfolio State",
		"Budget: $1000.00 (initial: $1000.00)",
		"Analyze all symbols. Output your decisions as JSON.",
	} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	// Symbols render in configured order.
	btc := strings.Index(user, "### PERP_BTC_USDC")
	eth := strings.Index(user, "### PERP_ETH_USDC")
	if btc > eth {
		t.Error("symbols out of configured order")
	}

	if strings.Contains(user, "## Open Positions") {
		t.Error("open positions section with no positions")
	}
	if strings.Contains(user, "## Recent Closed Trades") {
		t.Error("recent trades section with no trades")
	}
}

func TestPromptOpenPositions(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	e.Portfolio().Open(types.Position{
		ID: uuid.New(), Symbol: "PERP_BTC_USDC", Side: types.ActionLong,
		EntryPrice: 59000, Quantity: 0.01, Leverage: 3, Margin: 196.67,
		StopLoss: 58000, TakeProfit: 61000,
		OpenedAt: time.Now().UTC().Add(-45 * time.Minute),
	})

	user := promptFor(e, map[string]float64{"PERP_BTC_USDC": 60000, "PERP_ETH_USDC": 3000})

	if !strings.Contains(user, "## Open Positions") {
		t.Fatal("missing open positions section")
	}
	if !strings.Contains(user, "PERP_BTC_USDC LONG @ 59000.00") {
		t.Error("missing position line")
	}
	// Price is halfway between entry (59000) and TP (61000).
	if !strings.Contains(user, "Progress to TP: 50%") {
		t.Error("missing TP progress")
	}
	if !strings.Contains(user, "Held: 45min") {
		t.Error("missing hold time")
	}
	if !strings.Contains(user, "uPnL=$10.00") {
		t.Error("missing unrealized pnl")
	}
}

func TestPromptDrawdownWarnings(t *testing.T) {
	t.Parallel()
	prices := map[string]float64{"PERP_BTC_USDC": 60000, "PERP_ETH_USDC": 3000}

	halted := newTestEngine(t)
	halted.Portfolio().PeakBudget = 1000
	halted.Portfolio().CurrentBudget = 790 // 21% drawdown
	user := promptFor(halted, prices)
	if !strings.Contains(user, "WARNING: TRADING HALTED") {
		t.Error("missing halt warning at 21% drawdown")
	}

	caution := newTestEngine(t)
	caution.Portfolio().PeakBudget = 1000
	caution.Portfolio().CurrentBudget = 880 // 12% drawdown
	user = promptFor(caution, prices)
	if !strings.Contains(user, "CAUTION: Position sizes reduced — drawdown at 12.0%.") {
		t.Error("missing caution warning at 12% drawdown")
	}
	if strings.Contains(user, "TRADING HALTED") {
		t.Error("halt warning below halt threshold")
	}
}

func TestPromptRecentTrades(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)
	e.Portfolio().ClosedTrades = append(e.Portfolio().ClosedTrades, types.ClosedTrade{
		Symbol: "PERP_ETH_USDC", Side: types.ActionShort, PnL: -12.5, CloseReason: "SL",
	})

	user := promptFor(e, map[string]float64{"PERP_BTC_USDC": 60000, "PERP_ETH_USDC": 3000})

	if !strings.Contains(user, "## Recent Closed Trades") {
		t.Fatal("missing recent trades section")
	}
	if !strings.Contains(user, "- PERP_ETH_USDC SHORT PnL=$-12.50 (SL)") {
		t.Error("missing trade line")
	}
}

func TestSystemPromptContract(t *testing.T) {
	t.Parallel()
	for _, want := range []string{
		"Output ONLY valid JSON",
		`"action": "LONG|SHORT|HOLD|CLOSE"`,
		"One decision per symbol. Always include all symbols.",
	} {
		if !strings.Contains(SystemPrompt, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}
