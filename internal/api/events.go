package api

import (
	"time"

	"github.com/google/uuid"

	"orderly-trader/pkg/types"
)

// Event is the wrapper for everything pushed to WebSocket clients.
// Type is one of "snapshot", "cycle", "position_opened", "position_closed".
type Event struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol,omitempty"`
	Data      any       `json:"data"`
}

// CycleEvent summarizes one completed analysis cycle.
type CycleEvent struct {
	CycleID  uuid.UUID `json:"cycle_id"`
	Approved int       `json:"approved"`
	Rejected int       `json:"rejected"`
	Equity   float64   `json:"equity"`
	Error    string    `json:"error,omitempty"`
}

// PositionOpenedEvent is emitted when an approved entry executes.
type PositionOpenedEvent struct {
	Symbol     string  `json:"symbol"`
	Side       string  `json:"side"`
	EntryPrice float64 `json:"entry_price"`
	Quantity   float64 `json:"quantity"`
	Leverage   float64 `json:"leverage"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Margin     float64 `json:"margin"`
}

// PositionClosedEvent is emitted when a position closes, whatever the
// trigger (SL, TP, or a model CLOSE).
type PositionClosedEvent struct {
	Symbol    string  `json:"symbol"`
	Side      string  `json:"side"`
	ExitPrice float64 `json:"exit_price"`
	PnL       float64 `json:"pnl"`
	Reason    string  `json:"reason"`
}

// NewCycleEvent builds the cycle summary from the recorded AnalysisCycle.
func NewCycleEvent(cycle types.AnalysisCycle) Event {
	approved, rejected := 0, 0
	for _, v := range cycle.Decisions {
		if v.Approved {
			approved++
		} else {
			rejected++
		}
	}
	return Event{
		Type:      "cycle",
		Timestamp: cycle.Timestamp,
		Data: CycleEvent{
			CycleID:  cycle.ID,
			Approved: approved,
			Rejected: rejected,
			Equity:   cycle.After.CurrentBudget,
			Error:    cycle.Error,
		},
	}
}

// NewPositionClosedEvent builds the close notification from a trade.
func NewPositionClosedEvent(trade types.ClosedTrade) Event {
	return Event{
		Type:      "position_closed",
		Timestamp: trade.ClosedAt,
		Symbol:    trade.Symbol,
		Data: PositionClosedEvent{
			Symbol:    trade.Symbol,
			Side:      string(trade.Side),
			ExitPrice: trade.ExitPrice,
			PnL:       types.Round2(trade.PnL),
			Reason:    trade.CloseReason,
		},
	}
}

// NewPositionOpenedEvent builds the open notification from a position.
func NewPositionOpenedEvent(pos types.Position) Event {
	return Event{
		Type:      "position_opened",
		Timestamp: pos.OpenedAt,
		Symbol:    pos.Symbol,
		Data: PositionOpenedEvent{
			Symbol:     pos.Symbol,
			Side:       string(pos.Side),
			EntryPrice: pos.EntryPrice,
			Quantity:   pos.Quantity,
			Leverage:   pos.Leverage,
			StopLoss:   pos.StopLoss,
			TakeProfit: pos.TakeProfit,
			Margin:     types.Round2(pos.Margin),
		},
	}
}
