// Package indicator computes technical indicators from kline series and
// assembles the per-symbol report handed to the model each cycle.
//
// The low-level functions are pure: input and output slices have the same
// length, warm-up gaps are NaN, and no input is mutated. Report building
// substitutes documented defaults for NaN tails (RSI 50, %B 0.5, 0 for the
// rest) so downstream consumers never see NaN.
package indicator

import "math"

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// EMA returns the exponential moving average with α = 2/(period+1), seeded
// with the mean of the first period valid values. Leading NaNs are skipped;
// a NaN after the seed carries the previous value forward.
func EMA(data []float64, period int) []float64 {
	out := nanSlice(len(data))
	if len(data) < period || period <= 0 {
		return out
	}

	start, valid := -1, 0
	for i, v := range data {
		if !math.IsNaN(v) {
			if start < 0 {
				start = i
			}
			valid++
		}
	}
	if valid < period {
		return out
	}

	seedEnd := start + period
	if seedEnd > len(data) {
		return out
	}

	var sum float64
	for _, v := range data[start:seedEnd] {
		sum += v
	}
	out[seedEnd-1] = sum / float64(period)

	alpha := 2.0 / float64(period+1)
	for i := seedEnd; i < len(data); i++ {
		if math.IsNaN(data[i]) {
			out[i] = out[i-1]
		} else {
			out[i] = alpha*data[i] + (1-alpha)*out[i-1]
		}
	}
	return out
}

// SMA returns the simple moving average over the given period.
func SMA(data []float64, period int) []float64 {
	out := nanSlice(len(data))
	if len(data) < period || period <= 0 {
		return out
	}

	var sum float64
	for i, v := range data {
		sum += v
		if i >= period {
			sum -= data[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// RSI returns the Relative Strength Index with Wilder's smoothing. The
// first value appears at index period; it is 100 when the average loss
// over the window is zero.
func RSI(close []float64, period int) []float64 {
	out := nanSlice(len(close))
	if len(close) < period+1 || period <= 0 {
		return out
	}

	deltas := make([]float64, len(close)-1)
	for i := 1; i < len(close); i++ {
		deltas[i-1] = close[i] - close[i-1]
	}

	var avgGain, avgLoss float64
	for _, d := range deltas[:period] {
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	rsiAt := func(gain, loss float64) float64 {
		if loss == 0 {
			return 100.0
		}
		rs := gain / loss
		return 100.0 - 100.0/(1.0+rs)
	}

	out[period] = rsiAt(avgGain, avgLoss)
	for i := period; i < len(deltas); i++ {
		gain, loss := 0.0, 0.0
		if deltas[i] > 0 {
			gain = deltas[i]
		} else {
			loss = -deltas[i]
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i+1] = rsiAt(avgGain, avgLoss)
	}
	return out
}

// MACD returns the MACD line, signal line, and histogram for the standard
// fast/slow/signal EMA periods.
func MACD(close []float64, fast, slow, signalPeriod int) (line, signal, histogram []float64) {
	emaFast := EMA(close, fast)
	emaSlow := EMA(close, slow)

	line = make([]float64, len(close))
	for i := range line {
		line[i] = emaFast[i] - emaSlow[i]
	}

	signal = EMA(line, signalPeriod)

	histogram = make([]float64, len(close))
	for i := range histogram {
		histogram[i] = line[i] - signal[i]
	}
	return line, signal, histogram
}

// BollingerBands returns the upper, middle (SMA), and lower bands using a
// population standard deviation.
func BollingerBands(close []float64, period int, numStd float64) (upper, middle, lower []float64) {
	middle = SMA(close, period)
	upper = nanSlice(len(close))
	lower = nanSlice(len(close))
	if len(close) < period || period <= 0 {
		return upper, middle, lower
	}

	for i := period - 1; i < len(close); i++ {
		mean := middle[i]
		var variance float64
		for _, v := range close[i-period+1 : i+1] {
			d := v - mean
			variance += d * d
		}
		std := math.Sqrt(variance / float64(period))
		upper[i] = mean + numStd*std
		lower[i] = mean - numStd*std
	}
	return upper, middle, lower
}

// BollingerPctB returns %B: (price − lower) / (upper − lower), 0.5 where
// the band width is exactly zero.
func BollingerPctB(close []float64, period int, numStd float64) []float64 {
	upper, _, lower := BollingerBands(close, period, numStd)
	out := make([]float64, len(close))
	for i := range close {
		width := upper[i] - lower[i]
		if width == 0 {
			out[i] = 0.5
		} else {
			out[i] = (close[i] - lower[i]) / width
		}
	}
	return out
}

// VWAP returns the volume-weighted average price, cumulative from the start
// of the series, 0 where cumulative volume is still zero.
func VWAP(high, low, close, volume []float64) []float64 {
	out := make([]float64, len(close))
	var cumTPVol, cumVol float64
	for i := range close {
		typical := (high[i] + low[i] + close[i]) / 3.0
		cumTPVol += typical * volume[i]
		cumVol += volume[i]
		if cumVol != 0 {
			out[i] = cumTPVol / cumVol
		}
	}
	return out
}

// ATR returns the Average True Range with Wilder's smoothing. TR of the
// first candle is high − low (no previous close).
func ATR(high, low, close []float64, period int) []float64 {
	out := nanSlice(len(close))
	if len(close) < 2 || period <= 0 {
		return out
	}

	tr := make([]float64, len(close))
	tr[0] = high[0] - low[0]
	for i := 1; i < len(close); i++ {
		hl := high[i] - low[i]
		hc := math.Abs(high[i] - close[i-1])
		lc := math.Abs(low[i] - close[i-1])
		tr[i] = math.Max(hl, math.Max(hc, lc))
	}

	if len(tr) < period {
		return out
	}

	var sum float64
	for _, v := range tr[:period] {
		sum += v
	}
	out[period-1] = sum / float64(period)
	for i := period; i < len(tr); i++ {
		out[i] = (out[i-1]*float64(period-1) + tr[i]) / float64(period)
	}
	return out
}
