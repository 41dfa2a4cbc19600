package indicator

import (
	"math"

	"orderly-trader/internal/market"
)

// TimeframeIndicators is the computed indicator set for one timeframe.
// Values default to 0 (RSI 50, %B 0.5) when the series is too short.
type TimeframeIndicators struct {
	Timeframe string  `json:"timeframe"`
	LastClose float64 `json:"last_close"`

	RSI14         float64 `json:"rsi_14"`
	MACDLine      float64 `json:"macd_line"`
	MACDSignal    float64 `json:"macd_signal"`
	MACDHistogram float64 `json:"macd_histogram"`

	BBUpper  float64 `json:"bb_upper"`
	BBMiddle float64 `json:"bb_middle"`
	BBLower  float64 `json:"bb_lower"`
	BBPctB   float64 `json:"bb_pct_b"`

	EMA9         float64 `json:"ema_9"`
	EMA21        float64 `json:"ema_21"`
	EMA50        float64 `json:"ema_50"`
	EMAAlignment string  `json:"ema_alignment"` // "bullish", "bearish", "mixed"

	VWAP        float64 `json:"vwap"`
	PriceVsVWAP string  `json:"price_vs_vwap"` // "above", "below", "at"

	ATR14 float64 `json:"atr_14"`

	RecentChangePct  float64 `json:"recent_change_pct"` // % change over last 3 candles
	ConsecutiveRed   int     `json:"consecutive_red"`
	ConsecutiveGreen int     `json:"consecutive_green"`
	CandleTrend      string  `json:"candle_trend"` // "dropping", "rising", "choppy"
}

// OrderbookAnalysis is the derived orderbook view.
type OrderbookAnalysis struct {
	BidDepth       float64 `json:"bid_depth"`
	AskDepth       float64 `json:"ask_depth"`
	Imbalance      float64 `json:"imbalance"`
	SpreadBps      float64 `json:"spread_bps"`
	MidPrice       float64 `json:"mid_price"`
	Interpretation string  `json:"interpretation"` // "buy_pressure", "sell_pressure", "balanced"
}

// DerivativesAnalysis combines funding, OI, and positioning.
type DerivativesAnalysis struct {
	FundingRate           float64 `json:"funding_rate"`
	FundingInterpretation string  `json:"funding_interpretation"` // "longs_pay", "shorts_pay", "neutral"
	OpenInterest          float64 `json:"open_interest"`
	LongRatio             float64 `json:"long_ratio"`
	ShortRatio            float64 `json:"short_ratio"`
	LSRatio               float64 `json:"ls_ratio"`
	Sentiment             string  `json:"sentiment"` // "crowded_longs", "crowded_shorts", "balanced"
}

// Report is the full indicator report for one symbol's snapshot.
type Report struct {
	Symbol     string  `json:"symbol"`
	MarkPrice  float64 `json:"mark_price"`
	IndexPrice float64 `json:"index_price"`

	Timeframes  map[market.Timeframe]TimeframeIndicators `json:"timeframes"`
	Orderbook   OrderbookAnalysis                        `json:"orderbook"`
	Derivatives DerivativesAnalysis                      `json:"derivatives"`

	VolumeDelta      float64 `json:"volume_delta"`
	VolumeDeltaRatio float64 `json:"volume_delta_ratio"`

	TickerChange24h float64 `json:"ticker_change_24h"`
	TickerVolume24h float64 `json:"ticker_volume_24h"`
}

// ATRPreferred returns the ATR used for stop-loss validation: the 15m value
// when positive, then 5m, then 1h, else 0.
func (r Report) ATRPreferred() float64 {
	for _, tf := range []market.Timeframe{market.Timeframe15m, market.Timeframe5m, market.Timeframe1h} {
		if ti, ok := r.Timeframes[tf]; ok && ti.ATR14 > 0 {
			return ti.ATR14
		}
	}
	return 0
}

// Compute builds the full report for one snapshot. This is the only entry
// point the strategy layer uses.
func Compute(snap *market.Snapshot) Report {
	report := Report{
		Symbol:     snap.Symbol,
		MarkPrice:  snap.MarkPrice,
		IndexPrice: snap.IndexPrice,
		Timeframes: make(map[market.Timeframe]TimeframeIndicators, len(snap.Klines)),
	}

	for tf, series := range snap.Klines {
		report.Timeframes[tf] = computeTimeframe(series, string(tf))
	}

	report.Orderbook = analyzeOrderbook(snap)
	report.Derivatives = analyzeDerivatives(snap)

	report.VolumeDelta = snap.VolumeDelta.Delta
	report.VolumeDeltaRatio = snap.VolumeDelta.DeltaRatio
	report.TickerChange24h = snap.Ticker.Change24h
	report.TickerVolume24h = snap.Ticker.Volume

	return report
}

// lastOr returns the final element of a series, or def when it is NaN.
func lastOr(arr []float64, def float64) float64 {
	if len(arr) == 0 {
		return def
	}
	v := arr[len(arr)-1]
	if math.IsNaN(v) {
		return def
	}
	return v
}

func computeTimeframe(s market.KlineSeries, name string) TimeframeIndicators {
	ti := TimeframeIndicators{
		Timeframe:    name,
		RSI14:        50.0,
		BBPctB:       0.5,
		EMAAlignment: "mixed",
		PriceVsVWAP:  "at",
		CandleTrend:  "choppy",
	}
	if s.Size() < 2 {
		ti.RSI14 = 0
		ti.BBPctB = 0
		return ti
	}

	c := s.Close
	ti.LastClose = c[len(c)-1]

	ti.RSI14 = lastOr(RSI(c, 14), 50.0)

	line, signal, hist := MACD(c, 12, 26, 9)
	ti.MACDLine = lastOr(line, 0)
	ti.MACDSignal = lastOr(signal, 0)
	ti.MACDHistogram = lastOr(hist, 0)

	upper, middle, lower := BollingerBands(c, 20, 2.0)
	ti.BBUpper = lastOr(upper, 0)
	ti.BBMiddle = lastOr(middle, 0)
	ti.BBLower = lastOr(lower, 0)
	ti.BBPctB = lastOr(BollingerPctB(c, 20, 2.0), 0.5)

	ti.EMA9 = lastOr(EMA(c, 9), 0)
	ti.EMA21 = lastOr(EMA(c, 21), 0)
	ti.EMA50 = lastOr(EMA(c, 50), 0)

	switch {
	case ti.EMA9 > ti.EMA21 && ti.EMA21 > ti.EMA50 && ti.EMA50 > 0:
		ti.EMAAlignment = "bullish"
	case ti.EMA50 > ti.EMA21 && ti.EMA21 > ti.EMA9 && ti.EMA9 > 0:
		ti.EMAAlignment = "bearish"
	default:
		ti.EMAAlignment = "mixed"
	}

	ti.VWAP = lastOr(VWAP(s.High, s.Low, c, s.Volume), 0)
	if ti.VWAP > 0 {
		switch {
		case ti.LastClose > ti.VWAP*1.001:
			ti.PriceVsVWAP = "above"
		case ti.LastClose < ti.VWAP*0.999:
			ti.PriceVsVWAP = "below"
		default:
			ti.PriceVsVWAP = "at"
		}
	}

	ti.ATR14 = lastOr(ATR(s.High, s.Low, c, 14), 0)

	if s.Size() >= 4 {
		ref := c[len(c)-4] // close 3 candles ago
		if ref > 0 {
			ti.RecentChangePct = (ti.LastClose - ref) / ref * 100
		}

		// Walk back from the newest candle counting a single unbroken run
		// of red or green closes; a flat close ends the run.
		red, green := 0, 0
		for i := len(c) - 1; i > 0; i-- {
			if c[i] < c[i-1] {
				if green > 0 {
					break
				}
				red++
			} else if c[i] > c[i-1] {
				if red > 0 {
					break
				}
				green++
			} else {
				break
			}
		}
		ti.ConsecutiveRed = red
		ti.ConsecutiveGreen = green

		switch {
		case red >= 3:
			ti.CandleTrend = "dropping"
		case green >= 3:
			ti.CandleTrend = "rising"
		default:
			ti.CandleTrend = "choppy"
		}
	}

	return ti
}

func analyzeOrderbook(snap *market.Snapshot) OrderbookAnalysis {
	a := OrderbookAnalysis{
		BidDepth:  snap.Orderbook.BidDepth(),
		AskDepth:  snap.Orderbook.AskDepth(),
		Imbalance: snap.Orderbook.Imbalance(),
		SpreadBps: snap.BBO.SpreadBps(),
		MidPrice:  snap.BBO.Mid(),
	}
	switch {
	case a.Imbalance > 0.2:
		a.Interpretation = "buy_pressure"
	case a.Imbalance < -0.2:
		a.Interpretation = "sell_pressure"
	default:
		a.Interpretation = "balanced"
	}
	return a
}

func analyzeDerivatives(snap *market.Snapshot) DerivativesAnalysis {
	a := DerivativesAnalysis{
		FundingRate:  snap.Funding.EstFundingRate,
		OpenInterest: snap.OpenInterest.OpenInterest,
		LongRatio:    snap.TradersOI.LongRatio,
		ShortRatio:   snap.TradersOI.ShortRatio,
		LSRatio:      snap.TradersOI.LSRatio(),
	}

	switch {
	case a.FundingRate > 0.0001:
		a.FundingInterpretation = "longs_pay"
	case a.FundingRate < -0.0001:
		a.FundingInterpretation = "shorts_pay"
	default:
		a.FundingInterpretation = "neutral"
	}

	switch {
	case a.LSRatio >= 1.49:
		a.Sentiment = "crowded_longs"
	case a.LSRatio <= 0.67:
		a.Sentiment = "crowded_shorts"
	default:
		a.Sentiment = "balanced"
	}

	return a
}
