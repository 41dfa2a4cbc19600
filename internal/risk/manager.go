// Package risk implements the graduated reserve system and the layered
// validation every model decision must pass before execution. The risk
// manager has absolute veto power: a rejected decision is never executed,
// and an approved one may carry reduced leverage and quantity.
package risk

import (
	"fmt"
	"log/slog"
	"math"

	"orderly-trader/internal/config"
	"orderly-trader/internal/indicator"
	"orderly-trader/pkg/types"
)

// Zones is the budget partition computed from current equity. Accessible
// is what a new position may actually draw on right now: the unlocked
// zones minus margin already committed, floored at zero.
type Zones struct {
	Total      float64 `json:"total"`
	Free       float64 `json:"free"`
	Guarded    float64 `json:"guarded"`
	Floor      float64 `json:"floor"`
	Lockout    float64 `json:"lockout"`
	Accessible float64 `json:"accessible"`
}

// Manager validates decisions against the portfolio and market state.
type Manager struct {
	risk    config.RiskConfig
	reserve config.ReserveConfig
	scale   config.LeverageScale
	logger  *slog.Logger
}

// NewManager creates a risk manager from the validated config.
func NewManager(cfg *config.Config, logger *slog.Logger) *Manager {
	return &Manager{
		risk:    cfg.Risk,
		reserve: cfg.Risk.Reserve,
		scale:   cfg.LeverageScale,
		logger:  logger.With("component", "risk"),
	}
}

// ComputeZones determines how much budget is accessible given current
// performance. The free zone is always available; guarded and floor unlock
// only after a sustained track record.
func (m *Manager) ComputeZones(pf *types.Portfolio) Zones {
	total := pf.CurrentBudget
	r := m.reserve

	zones := Zones{
		Total:   total,
		Free:    total * r.FreePct,
		Guarded: total * r.GuardedPct,
		Floor:   total * r.FloorPct,
		Lockout: total * r.LockoutPct,
	}

	zones.Accessible = zones.Free
	if m.guardedUnlocked(pf) {
		zones.Accessible += zones.Guarded
	}
	if m.floorUnlocked(pf) {
		zones.Accessible += zones.Floor
	}

	zones.Accessible = math.Max(0, zones.Accessible-pf.TotalMarginInUse())
	return zones
}

func (m *Manager) guardedUnlocked(pf *types.Portfolio) bool {
	r := m.reserve
	if pf.TotalTrades() < r.GuardedMinTrades {
		return false
	}
	if pf.WinRateLastN(r.GuardedMinTrades) < r.GuardedWinRate {
		return false
	}
	if pf.LosingStreak() >= r.GuardedMaxLosingStreak {
		return false
	}
	return true
}

func (m *Manager) floorUnlocked(pf *types.Portfolio) bool {
	r := m.reserve
	if pf.TotalTrades() < r.FloorMinTrades {
		return false
	}
	if pf.WinRateLastN(r.FloorMinTrades) < r.FloorWinRate {
		return false
	}
	return true
}

// Validate runs every layer on a single decision against the portfolio,
// the symbol's indicator report, and the current price. The returned
// verdict is either rejected with reasons or approved with possibly
// adjusted leverage and quantity (informational reasons may still be
// attached, e.g. the drawdown size reduction).
func (m *Manager) Validate(
	decision types.TradeDecision,
	pf *types.Portfolio,
	report indicator.Report,
	currentPrice float64,
) types.ValidatedDecision {
	result := types.ValidatedDecision{Original: decision}
	var reasons []string

	reject := func() types.ValidatedDecision {
		result.RejectionReasons = reasons
		m.logger.Debug("decision rejected",
			"symbol", decision.Symbol,
			"action", decision.Action,
			"reasons", reasons,
		)
		return result
	}

	// HOLD and CLOSE pass through untouched; only entries are risk-checked.
	if !decision.Action.IsEntry() {
		result.Approved = true
		result.AdjustedLeverage = decision.Leverage
		result.AdjustedQuantity = decision.Quantity
		return result
	}

	// Drawdown circuit breaker.
	drawdown := pf.DrawdownFromPeak()
	if drawdown >= m.risk.DrawdownHaltPct {
		reasons = append(reasons, fmt.Sprintf(
			"HALTED: drawdown %.1f%% >= %.0f%% halt threshold",
			drawdown*100, m.risk.DrawdownHaltPct*100))
		return reject()
	}

	sizeMultiplier := 1.0
	if drawdown >= m.risk.DrawdownReducePct {
		sizeMultiplier = 0.5
		reasons = append(reasons, fmt.Sprintf(
			"Size halved: drawdown %.1f%% >= reduce threshold", drawdown*100))
	}

	// Confidence.
	confidence := math.Max(0, math.Min(1, decision.Confidence))
	if confidence < 0.1 {
		reasons = append(reasons, fmt.Sprintf("Confidence too low: %v", confidence))
		return reject()
	}

	// Leverage cap by confidence.
	adjustedLeverage := math.Min(decision.Leverage, m.scale.MaxLeverageFor(confidence))

	// Budget zone access. Dipping past the free zone demands extra
	// conviction; without it the trade is confined to the free remainder
	// and leverage is clamped.
	zones := m.ComputeZones(pf)
	if pf.AvailableBudget()-zones.Free > 0 {
		if confidence < m.reserve.GuardedMinConfidence {
			zones.Accessible = math.Min(zones.Accessible,
				math.Max(0, zones.Free-pf.TotalMarginInUse()))
			if adjustedLeverage > m.reserve.GuardedMaxLeverage {
				adjustedLeverage = m.reserve.GuardedMaxLeverage
			}
		}
	}

	if zones.Accessible <= 0 {
		reasons = append(reasons, "No accessible budget (all zones locked or in use)")
		return reject()
	}

	// Stop-loss validity.
	if decision.StopLoss <= 0 {
		reasons = append(reasons, "No stop-loss provided")
		return reject()
	}

	slDistance := math.Abs(currentPrice - decision.StopLoss)
	var slPct float64
	if currentPrice > 0 {
		slPct = slDistance / currentPrice
	}

	if decision.Action == types.ActionLong && decision.StopLoss >= currentPrice {
		reasons = append(reasons, "LONG stop-loss must be below current price")
		return reject()
	}
	if decision.Action == types.ActionShort && decision.StopLoss <= currentPrice {
		reasons = append(reasons, "SHORT stop-loss must be above current price")
		return reject()
	}

	// ATR band on the stop distance, when an ATR is available.
	if atr := report.ATRPreferred(); atr > 0 {
		ratio := slDistance / atr
		if ratio < m.risk.MinSLATRMultiple {
			reasons = append(reasons, fmt.Sprintf(
				"SL too tight: %.2fx ATR (min %.1fx)", ratio, m.risk.MinSLATRMultiple))
			return reject()
		}
		if ratio > m.risk.MaxSLATRMultiple {
			reasons = append(reasons, fmt.Sprintf(
				"SL too wide: %.2fx ATR (max %.1fx)", ratio, m.risk.MaxSLATRMultiple))
			return reject()
		}
	}

	// Risk/reward, raised when the trade reaches past the free zone.
	if decision.TakeProfit > 0 {
		tpDistance := math.Abs(decision.TakeProfit - currentPrice)
		var rr float64
		if slDistance > 0 {
			rr = tpDistance / slDistance
		}

		minRR := 1.5
		if zones.Accessible > zones.Free {
			minRR = math.Max(minRR, m.reserve.GuardedMinRR)
		}
		if rr < minRR {
			reasons = append(reasons, fmt.Sprintf(
				"R:R ratio %.2f below minimum %.1f", rr, minRR))
			return reject()
		}
	}

	// Position sizing: cap the worst-case loss at a fixed fraction of the
	// accessible budget.
	maxLossBudget := zones.Accessible * m.risk.MaxLossPerTradePct * sizeMultiplier

	var maxQuantity float64
	if slPct > 0 {
		maxQuantity = maxLossBudget / (currentPrice * slPct)
	}

	var adjustedQuantity float64
	if maxQuantity > 0 {
		adjustedQuantity = math.Min(decision.Quantity, maxQuantity)
	}
	if adjustedQuantity <= 0 {
		reasons = append(reasons, "Position size rounds to zero after risk limits")
		return reject()
	}

	// Margin and total exposure.
	notional := adjustedQuantity * currentPrice
	marginNeeded := notional
	if adjustedLeverage > 0 {
		marginNeeded = notional / adjustedLeverage
	}

	if marginNeeded > zones.Accessible {
		marginNeeded = zones.Accessible
		notional = marginNeeded * adjustedLeverage
		if currentPrice > 0 {
			adjustedQuantity = notional / currentPrice
		} else {
			adjustedQuantity = 0
		}
	}

	maxExposure := pf.CurrentBudget * m.risk.MaxTotalExposurePct
	if pf.TotalMarginInUse()+marginNeeded > maxExposure {
		allowedMargin := math.Max(0, maxExposure-pf.TotalMarginInUse())
		if allowedMargin <= 0 {
			reasons = append(reasons, "Total exposure limit reached")
			return reject()
		}
		marginNeeded = allowedMargin
		notional = marginNeeded * adjustedLeverage
		if currentPrice > 0 {
			adjustedQuantity = notional / currentPrice
		} else {
			adjustedQuantity = 0
		}
	}

	// Position conflicts: at most one position per symbol and side.
	for _, pos := range pf.PositionsFor(decision.Symbol) {
		if pos.Side == decision.Action {
			reasons = append(reasons, fmt.Sprintf(
				"Already have %s position on %s", pos.Side, decision.Symbol))
		} else {
			reasons = append(reasons, fmt.Sprintf(
				"Have opposite %s position on %s — CLOSE it first", pos.Side, decision.Symbol))
		}
		return reject()
	}

	result.Approved = true
	result.AdjustedLeverage = adjustedLeverage
	result.AdjustedQuantity = adjustedQuantity
	result.MarginRequired = marginNeeded
	result.MaxLoss = adjustedQuantity * slDistance
	result.RejectionReasons = reasons // informational messages only
	return result
}
