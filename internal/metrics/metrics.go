// Package metrics exposes Prometheus collectors for the trading engine.
// Everything is registered on the default registry and served by the
// status server's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CyclesTotal counts completed analysis cycles by result ("ok", "error").
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_cycles_total",
		Help: "Analysis cycles run, by result.",
	}, []string{"result"})

	// CycleDuration observes wall-clock seconds per analysis cycle.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trader_cycle_duration_seconds",
		Help:    "Wall-clock duration of one analysis cycle.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})

	// Decisions counts model decisions by action and validation outcome.
	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_decisions_total",
		Help: "Model decisions processed, by action and outcome.",
	}, []string{"action", "outcome"})

	// PositionsOpened counts opened paper positions by side.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_positions_opened_total",
		Help: "Paper positions opened, by side.",
	}, []string{"side"})

	// PositionsClosed counts closed paper positions by close reason.
	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_positions_closed_total",
		Help: "Paper positions closed, by reason (SL, TP, LLM_CLOSE).",
	}, []string{"reason"})

	// Equity tracks current paper equity.
	Equity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_equity",
		Help: "Current paper-portfolio equity.",
	})

	// MarginInUse tracks margin locked in open positions.
	MarginInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_margin_in_use",
		Help: "Margin locked in open paper positions.",
	})

	// OpenPositions tracks the number of open paper positions.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "trader_open_positions",
		Help: "Number of open paper positions.",
	})

	// WSMessages counts dispatched feed messages by stream kind.
	WSMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_ws_messages_total",
		Help: "WebSocket feed messages dispatched, by stream kind.",
	}, []string{"stream"})

	// WSReconnects counts feed reconnections.
	WSReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "trader_ws_reconnects_total",
		Help: "WebSocket feed reconnections.",
	})

	// BackfillCandles counts candles loaded via REST backfill per timeframe.
	BackfillCandles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_backfill_candles_total",
		Help: "Candles loaded via REST backfill, by timeframe.",
	}, []string{"timeframe"})

	// OracleTokens counts LLM token usage by kind (prompt, completion).
	OracleTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trader_oracle_tokens_total",
		Help: "LLM tokens consumed, by kind.",
	}, []string{"kind"})
)
