package api

import (
	"orderly-trader/internal/risk"
	"orderly-trader/pkg/types"
)

// BuildSnapshot assembles the status view from the portfolio ledger. The
// caller (the engine) holds whatever lock guards the portfolio; this
// function only reads.
func BuildSnapshot(
	pf *types.Portfolio,
	zones risk.Zones,
	prices map[string]float64,
	symbols []string,
	cycleCount int,
) StatusSnapshot {
	summary := pf.Summary(prices)

	// Copy prices so the snapshot doesn't alias the engine's map.
	priceCopy := make(map[string]float64, len(prices))
	for k, v := range prices {
		priceCopy[k] = v
	}

	return StatusSnapshot{
		Symbols:          symbols,
		CycleCount:       cycleCount,
		InitialBudget:    summary.InitialBudget,
		Equity:           summary.CurrentBudget,
		AvailableBudget:  summary.AvailableBudget,
		MarginInUse:      summary.MarginInUse,
		UnrealizedPnL:    summary.UnrealizedPnL,
		TotalTrades:      summary.TotalTrades,
		WinRate:          summary.WinRate,
		LosingStreak:     summary.LosingStreak,
		DrawdownFromPeak: summary.DrawdownFromPeak,
		Zones:            zones,
		Positions:        summary.OpenPositions,
		RecentTrades:     summary.RecentTrades,
		Prices:           priceCopy,
	}
}
