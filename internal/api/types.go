package api

import (
	"time"

	"orderly-trader/internal/risk"
	"orderly-trader/pkg/types"
)

// StatusSnapshot is the complete read-only view of the trader, served on
// /api/snapshot and pushed to WebSocket clients on connect.
type StatusSnapshot struct {
	Timestamp time.Time `json:"timestamp"`

	Symbols    []string `json:"symbols"`
	CycleCount int      `json:"cycle_count"`

	// Ledger
	InitialBudget    float64 `json:"initial_budget"`
	Equity           float64 `json:"equity"`
	AvailableBudget  float64 `json:"available_budget"`
	MarginInUse      float64 `json:"margin_in_use"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	TotalTrades      int     `json:"total_trades"`
	WinRate          float64 `json:"win_rate"`
	LosingStreak     int     `json:"losing_streak"`
	DrawdownFromPeak float64 `json:"drawdown_from_peak"`

	// Budget partition
	Zones risk.Zones `json:"zones"`

	Positions    []types.PositionSummary `json:"open_positions"`
	RecentTrades []types.TradeSummary    `json:"recent_trades"`

	// Latest prices per symbol
	Prices map[string]float64 `json:"prices"`
}

// StatusProvider is the engine-side view the API server reads from.
// Snapshot must be safe to call from HTTP handler goroutines; Events is
// the stream the server fans out to WebSocket clients.
type StatusProvider interface {
	Snapshot() StatusSnapshot
	Events() <-chan Event
}
