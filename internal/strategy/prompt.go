package strategy

import (
	"fmt"
	"strings"
	"time"

	"orderly-trader/internal/indicator"
	"orderly-trader/internal/market"
	"orderly-trader/pkg/types"
)

// SystemPrompt frames the model as a swing trader and fixes the JSON
// output contract. The risk layer enforces the hard limits, so the prompt
// pushes the model toward finding trades rather than avoiding them.
const SystemPrompt = `You are an expert perpetual futures swing trader on Orderly Network. You receive pre-computed technical indicators for multiple symbols and output JSON trading decisions.

## Your Job
- You are a SWING TRADER, not a passive observer. Your job is to find trades, not reasons to avoid them.
- Analyze all symbols for actionable setups. If indicators lean in one direction, TRADE IT.
- HOLD is for genuinely conflicting or flat signals. If 2+ categories agree, that's enough to act.
- The risk manager will protect the downside — your job is to find opportunities.
- Use lower confidence (0.4-0.6) for moderate setups, higher (0.7+) for strong ones.

## Signal Categories

### 1. Trend (15m and 1h)
- EMA alignment: 9 > 21 > 50 = bullish, reverse = bearish
- Price vs VWAP: above = bullish, below = bearish
- MACD direction and histogram

### 2. Momentum (5m and 15m)
- RSI: <40 favors long, >60 favors short. Extremes (<30, >70) are strong signals.
- Bollinger %B: <0.3 = long zone, >0.7 = short zone
- MACD histogram building = momentum, fading = weakening
- Recent candle trend: 3+ red candles = actively dropping (bearish), 3+ green = actively rising (bullish)
- Recent % change: shows actual price movement over last 3 candles — use this to detect sharp moves that lagging indicators miss

### 3. Market Microstructure
- Orderbook imbalance: positive = buy pressure, negative = sell pressure
- Volume delta: positive = buyers aggressive, negative = sellers

### 4. Derivatives Sentiment
- Funding rate direction and magnitude
- Open interest changes
- Long/short ratio extremes = contrarian signal

## When to Trade
- 2 categories agreeing with moderate signals → trade with confidence 0.4-0.6
- 3 categories agreeing → trade with confidence 0.6-0.8
- Strong trend + momentum alignment → trade even without microstructure confirmation
- All symbols moving together in one direction → stronger conviction

## Position Sizing
- Set stop-loss 1-2 ATR from entry at a technical level (EMA, BB band, recent swing)
- Set take-profit at 2:1 or better risk:reward ratio
- Quantity: aim to risk about 1.5-2% of available budget per trade
- Use quantity = (budget * 0.02) / (entry_price * sl_distance_pct) as a guide

## Managing Open Positions
Your SL and TP levels are your trade plan. RESPECT THEM.

**Default is HOLD.** Only CLOSE when the original trade thesis is BROKEN:
- The trend that justified entry has clearly reversed (EMA alignment flipped, MACD crossed against you on 15m+)
- Multiple signal categories that supported the entry now oppose it
- A small unrealized loss or flat P&L is NOT a reason to close — that's normal noise

**Do NOT close because:**
- uPnL is slightly negative — that's what the stop-loss is for
- You're "unsure" — uncertainty means HOLD, not CLOSE
- Only 1 category weakened while others still support the trade
- The position just opened recently and hasn't had time to work

**CLOSE when:**
- 2+ signal categories have flipped against the position direction
- Price action shows clear reversal pattern confirmed by trend indicators
- The reason you entered no longer exists (e.g., bullish EMA alignment is now bearish)

Think of it this way: you set SL/TP for a reason. Let them do their job unless the market structure has fundamentally changed.

## Cross-Symbol
- BTC often leads ETH and SOL
- Correlated moves = stronger signal
- If all 3 trend the same way, that confirms direction

## Output Format
Output ONLY valid JSON (no markdown fences):
{
  "decisions": [
    {
      "symbol": "PERP_ETH_USDC",
      "action": "LONG|SHORT|HOLD|CLOSE",
      "leverage": 1,
      "quantity": 0.0,
      "stop_loss": 0.0,
      "take_profit": 0.0,
      "confidence": 0.0,
      "reasoning": "Which categories agree and why"
    }
  ]
}

Rules:
- One decision per symbol. Always include all symbols.
- HOLD: leverage=1, quantity=0, stop_loss=0, take_profit=0, confidence=0
- CLOSE: quantity=0 (system closes full position)
- Confidence: 0.0-1.0
- Leverage: 1-10 (will be capped by risk manager based on confidence)`

// buildUserPrompt renders every symbol's indicator report plus the
// portfolio state into the per-cycle user message. Symbols appear in
// configured order, timeframes shortest first.
func (e *Engine) buildUserPrompt(
	reports map[string]indicator.Report,
	prices map[string]float64,
	now time.Time,
) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Current Market Data — %s\n\n", now.UTC().Format("2006-01-02 15:04 UTC"))

	for _, symbol := range e.cfg.Symbols {
		report, ok := reports[symbol]
		if !ok {
			continue
		}

		fmt.Fprintf(&b, "### %s\n", symbol)
		fmt.Fprintf(&b, "Mark Price: %.2f\n", report.MarkPrice)
		fmt.Fprintf(&b, "Index Price: %.2f\n", report.IndexPrice)
		fmt.Fprintf(&b, "24h Change: %.2f%%\n", report.TickerChange24h)
		fmt.Fprintf(&b, "24h Volume: %.0f\n\n", report.TickerVolume24h)

		for _, tf := range market.Timeframes {
			ti, ok := report.Timeframes[tf]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "**%s Timeframe:**\n", tf)
			fmt.Fprintf(&b, "  Last Close: %.2f\n", ti.LastClose)
			fmt.Fprintf(&b, "  RSI(14): %.1f\n", ti.RSI14)
			fmt.Fprintf(&b, "  MACD: line=%.4f signal=%.4f hist=%.4f\n",
				ti.MACDLine, ti.MACDSignal, ti.MACDHistogram)
			fmt.Fprintf(&b, "  Bollinger: upper=%.2f mid=%.2f lower=%.2f %%B=%.3f\n",
				ti.BBUpper, ti.BBMiddle, ti.BBLower, ti.BBPctB)
			fmt.Fprintf(&b, "  EMA: 9=%.2f 21=%.2f 50=%.2f alignment=%s\n",
				ti.EMA9, ti.EMA21, ti.EMA50, ti.EMAAlignment)
			fmt.Fprintf(&b, "  VWAP: %.2f (price %s)\n", ti.VWAP, ti.PriceVsVWAP)
			fmt.Fprintf(&b, "  ATR(14): %.4f\n", ti.ATR14)
			fmt.Fprintf(&b, "  Recent: %+.2f%% last 3 candles, %d red / %d green streak, trend=%s\n\n",
				ti.RecentChangePct, ti.ConsecutiveRed, ti.ConsecutiveGreen, ti.CandleTrend)
		}

		ob := report.Orderbook
		fmt.Fprintf(&b, "**Orderbook:** imbalance=%.3f (%s) spread=%.1fbps bid_depth=%.2f ask_depth=%.2f\n",
			ob.Imbalance, ob.Interpretation, ob.SpreadBps, ob.BidDepth, ob.AskDepth)

		dv := report.Derivatives
		fmt.Fprintf(&b, "**Derivatives:** funding=%.6f (%s) OI=%.0f L/S=%.2f (%s)\n",
			dv.FundingRate, dv.FundingInterpretation, dv.OpenInterest, dv.LSRatio, dv.Sentiment)

		fmt.Fprintf(&b, "**Volume Delta:** %.2f (ratio=%.3f)\n\n",
			report.VolumeDelta, report.VolumeDeltaRatio)
	}

	summary := e.portfolio.Summary(prices)
	b.WriteString("## Portfolio State\n")
	fmt.Fprintf(&b, "Budget: $%.2f (initial: $%.2f)\n", summary.CurrentBudget, summary.InitialBudget)
	fmt.Fprintf(&b, "Available for trades: $%.2f\n", summary.AvailableBudget)
	fmt.Fprintf(&b, "Margin in use: $%.2f\n", summary.MarginInUse)
	fmt.Fprintf(&b, "Unrealized PnL: $%.2f\n", summary.UnrealizedPnL)
	fmt.Fprintf(&b, "Win rate: %.1f%% (%d trades)\n", summary.WinRate*100, summary.TotalTrades)
	fmt.Fprintf(&b, "Current losing streak: %d\n", summary.LosingStreak)
	fmt.Fprintf(&b, "Drawdown from peak: %.1f%%\n\n", summary.DrawdownFromPeak*100)

	dd := e.portfolio.DrawdownFromPeak()
	if dd >= e.cfg.Risk.DrawdownHaltPct {
		b.WriteString("**WARNING: TRADING HALTED — drawdown exceeds halt threshold. Output HOLD for all symbols.**\n")
	} else if dd >= e.cfg.Risk.DrawdownReducePct {
		fmt.Fprintf(&b, "**CAUTION: Position sizes reduced — drawdown at %.1f%%.**\n", dd*100)
	}

	if len(e.portfolio.OpenPositions) > 0 {
		b.WriteString("\n## Open Positions\n")
		b.WriteString("**Default action for open positions is HOLD.** Only CLOSE if the entry thesis is broken (see rules above).\n\n")
		for _, pos := range e.portfolio.OpenPositions {
			price, ok := prices[pos.Symbol]
			if !ok || price <= 0 {
				price = pos.EntryPrice
			}
			upnl := pos.UnrealizedPnL(price)

			var slDistPct, tpDistPct float64
			if price > 0 {
				slDistPct = abs(price-pos.StopLoss) / price * 100
				tpDistPct = abs(pos.TakeProfit-price) / price * 100
			}

			// Progress toward TP: 0% at entry, 100% at the target.
			var progress float64
			if totalRange := abs(pos.TakeProfit - pos.EntryPrice); totalRange > 0 {
				if pos.Side == types.ActionLong {
					progress = (price - pos.EntryPrice) / totalRange * 100
				} else {
					progress = (pos.EntryPrice - price) / totalRange * 100
				}
			}

			heldMin := int(now.Sub(pos.OpenedAt).Minutes())

			fmt.Fprintf(&b,
				"- %s %s @ %.2f (qty=%.4f, lev=%.0fx, uPnL=$%.2f)\n"+
					"  SL=%.2f (%.1f%% away) | TP=%.2f (%.1f%% away) | "+
					"Progress to TP: %.0f%% | Held: %dmin\n",
				pos.Symbol, pos.Side, pos.EntryPrice, pos.Quantity, pos.Leverage, upnl,
				pos.StopLoss, slDistPct, pos.TakeProfit, tpDistPct, progress, heldMin)
		}
	}

	if len(summary.RecentTrades) > 0 {
		b.WriteString("\n## Recent Closed Trades\n")
		for _, t := range summary.RecentTrades {
			fmt.Fprintf(&b, "- %s %s PnL=$%.2f (%s)\n", t.Symbol, t.Side, t.PnL, t.Reason)
		}
	}

	b.WriteString("\nAnalyze all symbols. Output your decisions as JSON.")
	return b.String()
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
