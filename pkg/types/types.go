// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the trading engine — model
// decisions, risk-validated decisions, paper positions and closed trades,
// the portfolio ledger, and the wire payloads of the public market-data
// feed. It has no dependencies on internal packages, so it can be imported
// by any layer.
package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Action is the per-symbol decision proposed by the model each cycle.
type Action string

const (
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
	ActionHold  Action = "HOLD"
	ActionClose Action = "CLOSE"
)

// IsEntry reports whether the action opens a new position.
func (a Action) IsEntry() bool {
	return a == ActionLong || a == ActionShort
}

// Valid reports whether the action is one of the four known values.
func (a Action) Valid() bool {
	switch a {
	case ActionLong, ActionShort, ActionHold, ActionClose:
		return true
	}
	return false
}

// ————————————————————————————————————————————————————————————————————————
// Decisions
// ————————————————————————————————————————————————————————————————————————

// TradeDecision is a single per-symbol decision parsed from the model's
// response. Leverage defaults to 1; all other numeric fields default to 0.
type TradeDecision struct {
	Symbol     string  `json:"symbol"`
	Action     Action  `json:"action"`
	Leverage   float64 `json:"leverage"`
	Quantity   float64 `json:"quantity"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// Hold returns a no-op decision for a symbol, used when the model omitted
// the symbol or its response could not be parsed.
func Hold(symbol, reasoning string) TradeDecision {
	if reasoning == "" {
		reasoning = "No action"
	}
	return TradeDecision{
		Symbol:    symbol,
		Action:    ActionHold,
		Leverage:  1,
		Reasoning: reasoning,
	}
}

// ValidatedDecision wraps a TradeDecision with the risk manager's verdict.
// When rejected, the adjusted values are zero and RejectionReasons explains
// every failed check. An approved decision may still carry informational
// reasons (e.g. drawdown size reduction).
type ValidatedDecision struct {
	Original         TradeDecision `json:"original"`
	Approved         bool          `json:"approved"`
	AdjustedLeverage float64       `json:"adjusted_leverage"`
	AdjustedQuantity float64       `json:"adjusted_quantity"`
	MarginRequired   float64       `json:"margin_required"`
	MaxLoss          float64       `json:"max_loss"`
	RejectionReasons []string      `json:"rejection_reasons"`
}

// FinalLeverage returns the leverage to execute with, 0 if rejected.
func (v ValidatedDecision) FinalLeverage() float64 {
	if !v.Approved {
		return 0
	}
	return v.AdjustedLeverage
}

// FinalQuantity returns the quantity to execute with, 0 if rejected.
func (v ValidatedDecision) FinalQuantity() float64 {
	if !v.Approved {
		return 0
	}
	return v.AdjustedQuantity
}

// ————————————————————————————————————————————————————————————————————————
// Positions & trades
// ————————————————————————————————————————————————————————————————————————

// Position is an open paper position. Created when an approved LONG/SHORT
// executes, destroyed when SL/TP fires or an approved CLOSE arrives. Never
// mutated in place — closing produces a ClosedTrade.
type Position struct {
	ID         uuid.UUID `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       Action    `json:"side"` // LONG or SHORT
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	Leverage   float64   `json:"leverage"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Margin     float64   `json:"margin"`
	OpenedAt   time.Time `json:"opened_at"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning"`
}

// UnrealizedPnL returns mark-to-market PnL at the given price.
func (p Position) UnrealizedPnL(price float64) float64 {
	if p.Side == ActionLong {
		return p.Quantity * (price - p.EntryPrice)
	}
	return p.Quantity * (p.EntryPrice - price)
}

// UnrealizedPnLPct returns PnL as a percentage of margin (return on margin).
func (p Position) UnrealizedPnLPct(price float64) float64 {
	if p.Margin == 0 {
		return 0
	}
	return p.UnrealizedPnL(price) / p.Margin * 100
}

// ShouldStopLoss reports whether the stop-loss triggers at the given price.
func (p Position) ShouldStopLoss(price float64) bool {
	if p.StopLoss <= 0 {
		return false
	}
	if p.Side == ActionLong {
		return price <= p.StopLoss
	}
	return price >= p.StopLoss
}

// ShouldTakeProfit reports whether the take-profit triggers at the given price.
func (p Position) ShouldTakeProfit(price float64) bool {
	if p.TakeProfit <= 0 {
		return false
	}
	if p.Side == ActionLong {
		return price >= p.TakeProfit
	}
	return price <= p.TakeProfit
}

// ClosedTrade is the immutable record of a closed position.
// CloseReason is one of "SL", "TP", "LLM_CLOSE".
type ClosedTrade struct {
	ID          uuid.UUID `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        Action    `json:"side"`
	EntryPrice  float64   `json:"entry_price"`
	ExitPrice   float64   `json:"exit_price"`
	Quantity    float64   `json:"quantity"`
	Leverage    float64   `json:"leverage"`
	Margin      float64   `json:"margin"`
	PnL         float64   `json:"pnl"`
	PnLPct      float64   `json:"pnl_pct"`
	OpenedAt    time.Time `json:"opened_at"`
	ClosedAt    time.Time `json:"closed_at"`
	CloseReason string    `json:"close_reason"`
}

// IsWin reports whether the trade closed with positive PnL.
func (t ClosedTrade) IsWin() bool {
	return t.PnL > 0
}

// ————————————————————————————————————————————————————————————————————————
// Portfolio
// ————————————————————————————————————————————————————————————————————————

// Portfolio is the paper-trading ledger. CurrentBudget is equity and moves
// only on realized PnL; margin locked in open positions reduces
// AvailableBudget but not equity. The strategy orchestrator is the sole
// owner — nothing here is goroutine-safe.
type Portfolio struct {
	InitialBudget float64       `json:"initial_budget"`
	CurrentBudget float64       `json:"current_budget"`
	PeakBudget    float64       `json:"peak_budget"`
	OpenPositions []Position    `json:"open_positions"`
	ClosedTrades  []ClosedTrade `json:"closed_trades"`
}

// NewPortfolio creates a portfolio with the given starting equity.
func NewPortfolio(initialBudget float64) *Portfolio {
	return &Portfolio{
		InitialBudget: initialBudget,
		CurrentBudget: initialBudget,
		PeakBudget:    initialBudget,
	}
}

// TotalMarginInUse sums the margin locked in open positions.
func (pf *Portfolio) TotalMarginInUse() float64 {
	var total float64
	for _, p := range pf.OpenPositions {
		total += p.Margin
	}
	return total
}

// AvailableBudget is equity minus margin locked in open positions.
func (pf *Portfolio) AvailableBudget() float64 {
	return pf.CurrentBudget - pf.TotalMarginInUse()
}

// TotalUnrealizedPnL marks every open position to the given prices.
// Positions without a price are marked at entry (zero PnL).
func (pf *Portfolio) TotalUnrealizedPnL(prices map[string]float64) float64 {
	var total float64
	for _, p := range pf.OpenPositions {
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			price = p.EntryPrice
		}
		total += p.UnrealizedPnL(price)
	}
	return total
}

// TotalTrades returns the number of closed trades.
func (pf *Portfolio) TotalTrades() int {
	return len(pf.ClosedTrades)
}

// WinRate returns the fraction of closed trades that were wins, 0 if none.
func (pf *Portfolio) WinRate() float64 {
	return pf.WinRateLastN(len(pf.ClosedTrades))
}

// WinRateLastN returns the win rate over the most recent n closed trades.
func (pf *Portfolio) WinRateLastN(n int) float64 {
	if n <= 0 || len(pf.ClosedTrades) == 0 {
		return 0
	}
	start := len(pf.ClosedTrades) - n
	if start < 0 {
		start = 0
	}
	recent := pf.ClosedTrades[start:]
	wins := 0
	for _, t := range recent {
		if t.IsWin() {
			wins++
		}
	}
	return float64(wins) / float64(len(recent))
}

// LosingStreak counts consecutive non-winning trades from the tail.
func (pf *Portfolio) LosingStreak() int {
	streak := 0
	for i := len(pf.ClosedTrades) - 1; i >= 0; i-- {
		if pf.ClosedTrades[i].IsWin() {
			break
		}
		streak++
	}
	return streak
}

// DrawdownFromPeak returns (peak − current) / peak, 0 when peak is 0.
func (pf *Portfolio) DrawdownFromPeak() float64 {
	if pf.PeakBudget <= 0 {
		return 0
	}
	return (pf.PeakBudget - pf.CurrentBudget) / pf.PeakBudget
}

// Open appends a new position. Equity is unchanged — margin is reserved
// implicitly through AvailableBudget.
func (pf *Portfolio) Open(pos Position) {
	pf.OpenPositions = append(pf.OpenPositions, pos)
}

// Close realizes PnL for a position at exitPrice, removes it from the open
// set (matched by ID), appends the ClosedTrade, and advances the peak.
func (pf *Portfolio) Close(pos Position, exitPrice float64, reason string) ClosedTrade {
	pnl := pos.UnrealizedPnL(exitPrice)
	trade := ClosedTrade{
		ID:          pos.ID,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exitPrice,
		Quantity:    pos.Quantity,
		Leverage:    pos.Leverage,
		Margin:      pos.Margin,
		PnL:         pnl,
		PnLPct:      pos.UnrealizedPnLPct(exitPrice),
		OpenedAt:    pos.OpenedAt,
		ClosedAt:    time.Now().UTC(),
		CloseReason: reason,
	}

	pf.CurrentBudget += pnl
	pf.ClosedTrades = append(pf.ClosedTrades, trade)

	for i, p := range pf.OpenPositions {
		if p.ID == pos.ID {
			pf.OpenPositions = append(pf.OpenPositions[:i], pf.OpenPositions[i+1:]...)
			break
		}
	}

	if pf.CurrentBudget > pf.PeakBudget {
		pf.PeakBudget = pf.CurrentBudget
	}

	return trade
}

// PositionsFor returns the open positions on a symbol in insertion order.
func (pf *Portfolio) PositionsFor(symbol string) []Position {
	var out []Position
	for _, p := range pf.OpenPositions {
		if p.Symbol == symbol {
			out = append(out, p)
		}
	}
	return out
}

// ————————————————————————————————————————————————————————————————————————
// Summaries & cycle records
// ————————————————————————————————————————————————————————————————————————

// PositionSummary is the compact open-position view used in prompts,
// journal lines, and the status API.
type PositionSummary struct {
	Symbol        string  `json:"symbol"`
	Side          Action  `json:"side"`
	Entry         float64 `json:"entry"`
	Qty           float64 `json:"qty"`
	Leverage      float64 `json:"leverage"`
	StopLoss      float64 `json:"sl"`
	TakeProfit    float64 `json:"tp"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// TradeSummary is the compact closed-trade view (last few trades only).
type TradeSummary struct {
	Symbol string  `json:"symbol"`
	Side   Action  `json:"side"`
	PnL    float64 `json:"pnl"`
	Reason string  `json:"reason"`
}

// PortfolioSummary is the rounded, serializable snapshot of the ledger
// taken before and after each analysis cycle. Money fields are rounded to
// 2 decimals, ratios to 3.
type PortfolioSummary struct {
	InitialBudget    float64           `json:"initial_budget"`
	CurrentBudget    float64           `json:"current_budget"`
	AvailableBudget  float64           `json:"available_budget"`
	MarginInUse      float64           `json:"margin_in_use"`
	UnrealizedPnL    float64           `json:"unrealized_pnl"`
	TotalTrades      int               `json:"total_trades"`
	WinRate          float64           `json:"win_rate"`
	LosingStreak     int               `json:"losing_streak"`
	DrawdownFromPeak float64           `json:"drawdown_from_peak"`
	OpenPositions    []PositionSummary `json:"open_positions"`
	RecentTrades     []TradeSummary    `json:"recent_trades"`
}

// Summary builds a PortfolioSummary, marking open positions to the given
// prices (entry price when a symbol has no price yet).
func (pf *Portfolio) Summary(prices map[string]float64) PortfolioSummary {
	positions := make([]PositionSummary, 0, len(pf.OpenPositions))
	for _, p := range pf.OpenPositions {
		price, ok := prices[p.Symbol]
		if !ok || price <= 0 {
			price = p.EntryPrice
		}
		positions = append(positions, PositionSummary{
			Symbol:        p.Symbol,
			Side:          p.Side,
			Entry:         p.EntryPrice,
			Qty:           p.Quantity,
			Leverage:      p.Leverage,
			StopLoss:      p.StopLoss,
			TakeProfit:    p.TakeProfit,
			UnrealizedPnL: Round2(p.UnrealizedPnL(price)),
		})
	}

	start := len(pf.ClosedTrades) - 5
	if start < 0 {
		start = 0
	}
	recent := make([]TradeSummary, 0, len(pf.ClosedTrades)-start)
	for _, t := range pf.ClosedTrades[start:] {
		recent = append(recent, TradeSummary{
			Symbol: t.Symbol,
			Side:   t.Side,
			PnL:    Round2(t.PnL),
			Reason: t.CloseReason,
		})
	}

	return PortfolioSummary{
		InitialBudget:    pf.InitialBudget,
		CurrentBudget:    Round2(pf.CurrentBudget),
		AvailableBudget:  Round2(pf.AvailableBudget()),
		MarginInUse:      Round2(pf.TotalMarginInUse()),
		UnrealizedPnL:    Round2(pf.TotalUnrealizedPnL(prices)),
		TotalTrades:      pf.TotalTrades(),
		WinRate:          Round3(pf.WinRate()),
		LosingStreak:     pf.LosingStreak(),
		DrawdownFromPeak: Round3(pf.DrawdownFromPeak()),
		OpenPositions:    positions,
		RecentTrades:     recent,
	}
}

// AnalysisCycle records one full prompt → response → validation → execution
// round trip, including the portfolio state on either side.
type AnalysisCycle struct {
	ID          uuid.UUID           `json:"id"`
	Timestamp   time.Time           `json:"timestamp"`
	Reasoning   string              `json:"reasoning_content,omitempty"`
	RawResponse string              `json:"llm_output,omitempty"`
	Decisions   []ValidatedDecision `json:"validated_decisions"`
	Before      PortfolioSummary    `json:"portfolio_before"`
	After       PortfolioSummary    `json:"portfolio_after"`
	Error       string              `json:"error,omitempty"`
}

// Round2 rounds money values to 2 decimal places (half-up, exact decimal
// arithmetic rather than float formatting).
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}

// Round3 rounds ratio values to 3 decimal places.
func Round3(v float64) float64 {
	return decimal.NewFromFloat(v).Round(3).InexactFloat64()
}
