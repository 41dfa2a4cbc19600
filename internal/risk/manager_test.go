package risk

import (
	"log/slog"
	"math"
	"os"
	"strings"
	"testing"

	"orderly-trader/internal/config"
	"orderly-trader/internal/indicator"
	"orderly-trader/internal/market"
	"orderly-trader/pkg/types"
)

func testConfig() *config.Config {
	return &config.Config{
		Risk: config.RiskConfig{
			MaxLossPerTradePct:  0.02,
			MaxTotalExposurePct: 0.80,
			MinSLATRMultiple:    0.5,
			MaxSLATRMultiple:    3.0,
			DrawdownReducePct:   0.10,
			DrawdownHaltPct:     0.20,
			Reserve: config.ReserveConfig{
				FreePct:                0.70,
				GuardedPct:             0.20,
				GuardedWinRate:         0.45,
				GuardedMinTrades:       20,
				GuardedMaxLosingStreak: 3,
				GuardedMinConfidence:   0.75,
				GuardedMinRR:           2.0,
				GuardedMaxLeverage:     3.0,
				FloorPct:               0.05,
				FloorWinRate:           0.60,
				FloorMinTrades:         30,
				FloorMinConfidence:     0.9,
				FloorMinRR:             3.0,
				LockoutPct:             0.05,
			},
		},
		LeverageScale: config.DefaultLeverageScale(),
	}
}

func newTestManager() *Manager {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewManager(testConfig(), logger)
}

// portfolioWithTrades builds a 1000-equity portfolio with the given
// win/loss history, newest last. PnL magnitudes cancel so equity stays
// at the initial budget.
func portfolioWithTrades(results ...bool) *types.Portfolio {
	pf := types.NewPortfolio(1000)
	for _, win := range results {
		pnl := -1.0
		if win {
			pnl = 1.0
		}
		pf.ClosedTrades = append(pf.ClosedTrades, types.ClosedTrade{Symbol: "PERP_ETH_USDC", PnL: pnl})
	}
	return pf
}

func wins(n int) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = true
	}
	return out
}

func reportWithATR(atr float64) indicator.Report {
	return indicator.Report{
		Timeframes: map[market.Timeframe]indicator.TimeframeIndicators{
			market.Timeframe15m: {ATR14: atr},
		},
	}
}

func longDecision() types.TradeDecision {
	return types.TradeDecision{
		Symbol:     "PERP_ETH_USDC",
		Action:     types.ActionLong,
		Leverage:   5,
		Quantity:   0.5,
		StopLoss:   2940,
		TakeProfit: 3120,
		Confidence: 0.8,
	}
}

func hasReason(v types.ValidatedDecision, substr string) bool {
	for _, r := range v.RejectionReasons {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}

func TestZonesFreshPortfolio(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	zones := m.ComputeZones(types.NewPortfolio(1000))
	if zones.Free != 700 || zones.Guarded != 200 || zones.Floor != 50 || zones.Lockout != 50 {
		t.Errorf("zones = %+v, want 700/200/50/50", zones)
	}
	if zones.Accessible != 700 {
		t.Errorf("accessible = %v, want 700 (only free zone)", zones.Accessible)
	}
}

func TestZonesGuardedUnlocksAfterTrackRecord(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	pf := portfolioWithTrades(wins(20)...)
	zones := m.ComputeZones(pf)
	if zones.Accessible != 900 {
		t.Errorf("accessible = %v, want 900 (free + guarded)", zones.Accessible)
	}
}

func TestZonesLosingStreakLocksGuarded(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	// 17 wins then 3 losses: win rate 0.85 but streak 3 locks guarded.
	results := append(wins(17), false, false, false)
	pf := portfolioWithTrades(results...)
	zones := m.ComputeZones(pf)
	if zones.Accessible != 700 {
		t.Errorf("accessible = %v, want 700 (guarded locked by streak)", zones.Accessible)
	}
}

func TestZonesFloorUnlock(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	pf := portfolioWithTrades(wins(30)...)
	zones := m.ComputeZones(pf)
	if zones.Accessible != 950 {
		t.Errorf("accessible = %v, want 950 (free + guarded + floor)", zones.Accessible)
	}
}

func TestZonesMarginReducesAccessible(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	pf := types.NewPortfolio(1000)
	pf.Open(types.Position{Symbol: "PERP_BTC_USDC", Side: types.ActionLong, Margin: 650})
	zones := m.ComputeZones(pf)
	if zones.Accessible != 50 {
		t.Errorf("accessible = %v, want 50 (700 free - 650 margin)", zones.Accessible)
	}

	pf.OpenPositions[0].Margin = 800
	if got := m.ComputeZones(pf).Accessible; got != 0 {
		t.Errorf("accessible = %v, want 0 (clamped)", got)
	}
}

func TestReserveMonotonicity(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	// More unlocked zones never shrink accessibility.
	fresh := m.ComputeZones(types.NewPortfolio(1000)).Accessible
	guarded := m.ComputeZones(portfolioWithTrades(wins(20)...)).Accessible
	floor := m.ComputeZones(portfolioWithTrades(wins(30)...)).Accessible

	if !(fresh <= guarded && guarded <= floor) {
		t.Errorf("accessibility not monotone: %v, %v, %v", fresh, guarded, floor)
	}
}

func TestHoldAndClosePassThrough(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	pf := types.NewPortfolio(1000)

	for _, action := range []types.Action{types.ActionHold, types.ActionClose} {
		d := types.TradeDecision{Symbol: "PERP_ETH_USDC", Action: action, Leverage: 3, Quantity: 0.7}
		v := m.Validate(d, pf, indicator.Report{}, 3000)
		if !v.Approved {
			t.Errorf("%s should pass through, got reasons %v", action, v.RejectionReasons)
		}
		if v.AdjustedLeverage != 3 || v.AdjustedQuantity != 0.7 {
			t.Errorf("%s adjusted = (%v, %v), want original (3, 0.7)",
				action, v.AdjustedLeverage, v.AdjustedQuantity)
		}
	}
}

func TestLeverageCappedByConfidence(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	pf := types.NewPortfolio(1000)

	d := longDecision()
	d.Leverage = 10
	d.Confidence = 0.4

	v := m.Validate(d, pf, reportWithATR(30), 3000)
	if !v.Approved {
		t.Fatalf("expected approval, got %v", v.RejectionReasons)
	}
	if v.AdjustedLeverage != 2 {
		t.Errorf("adjusted leverage = %v, want 2 (confidence 0.4 tier)", v.AdjustedLeverage)
	}
}

func TestDrawdownHalt(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	pf := &types.Portfolio{InitialBudget: 1000, CurrentBudget: 790, PeakBudget: 1000}
	v := m.Validate(longDecision(), pf, reportWithATR(30), 3000)
	if v.Approved {
		t.Fatal("expected rejection at 21% drawdown")
	}
	if !hasReason(v, "HALTED") {
		t.Errorf("reasons = %v, want HALTED", v.RejectionReasons)
	}
	if v.FinalQuantity() != 0 {
		t.Errorf("final quantity = %v, want 0 when rejected", v.FinalQuantity())
	}
}

func TestDrawdownHalvesSize(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	full := types.NewPortfolio(1000)
	reduced := &types.Portfolio{InitialBudget: 1000, CurrentBudget: 880, PeakBudget: 1000}

	d := longDecision()
	d.Quantity = 100 // far above the sizing cap so the cap binds

	vFull := m.Validate(d, full, reportWithATR(30), 3000)
	vReduced := m.Validate(d, reduced, reportWithATR(30), 3000)
	if !vFull.Approved || !vReduced.Approved {
		t.Fatalf("expected both approved: %v / %v", vFull.RejectionReasons, vReduced.RejectionReasons)
	}
	if !hasReason(vReduced, "Size halved") {
		t.Errorf("reasons = %v, want size-halved info", vReduced.RejectionReasons)
	}

	// Accessible shrinks with equity too, so compare per-accessible-dollar.
	fullPerBudget := vFull.AdjustedQuantity / 700    // accessible at 1000 equity
	reducedPerBudget := vReduced.AdjustedQuantity / 616 // 880 * 0.7
	if math.Abs(reducedPerBudget-fullPerBudget/2) > 1e-9 {
		t.Errorf("halving not applied: full %v, reduced %v", fullPerBudget, reducedPerBudget)
	}
}

func TestConfidenceTooLow(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	d := longDecision()
	d.Confidence = 0.05
	v := m.Validate(d, types.NewPortfolio(1000), reportWithATR(30), 3000)
	if v.Approved || !hasReason(v, "Confidence too low") {
		t.Errorf("want confidence rejection, got %+v", v)
	}
}

func TestStopLossRequired(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	d := longDecision()
	d.StopLoss = 0
	v := m.Validate(d, types.NewPortfolio(1000), reportWithATR(30), 3000)
	if v.Approved || !hasReason(v, "No stop-loss provided") {
		t.Errorf("want stop-loss rejection, got %+v", v)
	}
}

func TestStopLossDirection(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	pf := types.NewPortfolio(1000)

	long := longDecision()
	long.StopLoss = 3050 // above price
	v := m.Validate(long, pf, reportWithATR(30), 3000)
	if v.Approved || !hasReason(v, "LONG stop-loss must be below") {
		t.Errorf("want direction rejection, got %+v", v)
	}

	short := longDecision()
	short.Action = types.ActionShort
	short.StopLoss = 2950 // below price
	short.TakeProfit = 2800
	v = m.Validate(short, pf, reportWithATR(30), 3000)
	if v.Approved || !hasReason(v, "SHORT stop-loss must be above") {
		t.Errorf("want direction rejection, got %+v", v)
	}
}

func TestStopLossATRBand(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	pf := types.NewPortfolio(1000)

	tight := longDecision()
	tight.StopLoss = 2995 // distance 5 vs ATR 30 ⇒ 0.17x < 0.5x
	v := m.Validate(tight, pf, reportWithATR(30), 3000)
	if v.Approved || !hasReason(v, "too tight") {
		t.Errorf("want too-tight rejection, got %+v", v)
	}

	wide := longDecision()
	wide.StopLoss = 2800 // distance 200 vs ATR 30 ⇒ 6.7x > 3x
	wide.TakeProfit = 3400
	v = m.Validate(wide, pf, reportWithATR(30), 3000)
	if v.Approved || !hasReason(v, "too wide") {
		t.Errorf("want too-wide rejection, got %+v", v)
	}

	// Without any ATR the band check is skipped.
	v = m.Validate(tight, pf, indicator.Report{}, 3000)
	if hasReason(v, "too tight") {
		t.Errorf("ATR band should be skipped without ATR: %v", v.RejectionReasons)
	}
}

func TestRiskRewardMinimum(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	pf := types.NewPortfolio(1000)

	d := longDecision()
	d.StopLoss = 2940   // distance 60
	d.TakeProfit = 3060 // distance 60 ⇒ R:R 1.0
	v := m.Validate(d, pf, reportWithATR(60), 3000)
	if v.Approved || !hasReason(v, "below minimum 1.5") {
		t.Errorf("want R:R rejection, got %+v", v)
	}

	// No take-profit skips the check.
	d.TakeProfit = 0
	v = m.Validate(d, pf, reportWithATR(60), 3000)
	if !v.Approved {
		t.Errorf("no-TP decision should skip R:R: %v", v.RejectionReasons)
	}
}

func TestRiskRewardRaisedInGuardedZone(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	// Guarded unlocked (accessible 900 > free 700) and confident enough to
	// use it: minimum climbs to 2.0.
	pf := portfolioWithTrades(wins(20)...)
	d := longDecision()
	d.Confidence = 0.8
	d.StopLoss = 2940   // distance 60
	d.TakeProfit = 3108 // distance 108 ⇒ R:R 1.8
	v := m.Validate(d, pf, reportWithATR(60), 3000)
	if v.Approved || !hasReason(v, "below minimum 2.0") {
		t.Errorf("want raised R:R rejection, got %+v", v)
	}

	d.TakeProfit = 3150 // R:R 2.5
	v = m.Validate(d, pf, reportWithATR(60), 3000)
	if !v.Approved {
		t.Errorf("R:R 2.5 should pass in guarded zone: %v", v.RejectionReasons)
	}
}

func TestTwoPercentSizing(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	pf := types.NewPortfolio(1000)

	d := longDecision()
	d.Quantity = 100 // cap binds
	v := m.Validate(d, pf, reportWithATR(30), 3000)
	if !v.Approved {
		t.Fatalf("expected approval, got %v", v.RejectionReasons)
	}

	// Max loss budget = 700 * 0.02 = 14; SL distance 60 ⇒ qty 14/60.
	wantQty := 14.0 / 60.0
	if math.Abs(v.AdjustedQuantity-wantQty) > 1e-9 {
		t.Errorf("adjusted qty = %v, want %v", v.AdjustedQuantity, wantQty)
	}
	if math.Abs(v.MaxLoss-14.0) > 1e-9 {
		t.Errorf("max loss = %v, want 14", v.MaxLoss)
	}
	if v.MarginRequired > m.ComputeZones(pf).Accessible {
		t.Errorf("margin %v exceeds accessible", v.MarginRequired)
	}
}

func TestExposureLimit(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	pf := types.NewPortfolio(1000)
	pf.Open(types.Position{Symbol: "PERP_BTC_USDC", Side: types.ActionLong, Margin: 800})

	v := m.Validate(longDecision(), pf, reportWithATR(30), 3000)
	if v.Approved {
		t.Fatal("expected rejection at exposure cap")
	}
	// Accessible hits zero first (700 free − 800 margin), which is the
	// stricter gate on this path.
	if !hasReason(v, "No accessible budget") {
		t.Errorf("reasons = %v", v.RejectionReasons)
	}
}

func TestDuplicatePositionRejected(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	pf := types.NewPortfolio(1000)
	pf.Open(types.Position{Symbol: "PERP_ETH_USDC", Side: types.ActionLong, Margin: 10})

	v := m.Validate(longDecision(), pf, reportWithATR(30), 3000)
	if v.Approved || !hasReason(v, "Already have LONG position on PERP_ETH_USDC") {
		t.Errorf("want duplicate rejection, got %+v", v)
	}
}

func TestOppositePositionRequiresClose(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	pf := types.NewPortfolio(1000)
	pf.Open(types.Position{Symbol: "PERP_ETH_USDC", Side: types.ActionShort, Margin: 10})

	v := m.Validate(longDecision(), pf, reportWithATR(30), 3000)
	if v.Approved || !hasReason(v, "CLOSE it first") {
		t.Errorf("want opposite-side rejection, got %+v", v)
	}
}

func TestApprovedDecisionSafetyEnvelope(t *testing.T) {
	t.Parallel()
	m := newTestManager()
	pf := types.NewPortfolio(1000)

	d := longDecision()
	d.Quantity = 100
	d.Leverage = 50 // absurd, must be capped

	v := m.Validate(d, pf, reportWithATR(30), 3000)
	if !v.Approved {
		t.Fatalf("expected approval, got %v", v.RejectionReasons)
	}

	zones := m.ComputeZones(pf)
	if v.AdjustedLeverage > m.scale.MaxLeverageFor(d.Confidence) {
		t.Errorf("leverage %v exceeds tier cap", v.AdjustedLeverage)
	}
	if v.MarginRequired > zones.Accessible+1e-9 {
		t.Errorf("margin %v exceeds accessible %v", v.MarginRequired, zones.Accessible)
	}
	if pf.TotalMarginInUse()+v.MarginRequired > pf.CurrentBudget*m.risk.MaxTotalExposurePct+1e-9 {
		t.Error("exposure cap violated")
	}
}

func TestGuardedDipWithLowConfidence(t *testing.T) {
	t.Parallel()
	m := newTestManager()

	// Guarded unlocked but the decision lacks conviction: confined to the
	// free remainder with leverage clamped to 3.
	pf := portfolioWithTrades(wins(20)...)
	pf.Open(types.Position{Symbol: "PERP_BTC_USDC", Side: types.ActionLong, Margin: 100})

	d := longDecision()
	d.Confidence = 0.6
	d.Leverage = 5
	d.Quantity = 100

	v := m.Validate(d, pf, reportWithATR(30), 3000)
	if !v.Approved {
		t.Fatalf("expected approval, got %v", v.RejectionReasons)
	}
	if v.AdjustedLeverage != 3 {
		t.Errorf("leverage = %v, want clamped to 3", v.AdjustedLeverage)
	}
	// Accessible restricted to free − margin = 600; qty = 600*0.02/60.
	wantQty := 600.0 * 0.02 / 60.0
	if math.Abs(v.AdjustedQuantity-wantQty) > 1e-9 {
		t.Errorf("qty = %v, want %v (free-zone sizing)", v.AdjustedQuantity, wantQty)
	}
}
