package market

// Timeframe identifies a candle resolution tracked by the collector.
type Timeframe string

const (
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
)

// Timeframes lists every tracked resolution in ascending order.
var Timeframes = []Timeframe{Timeframe5m, Timeframe15m, Timeframe1h}

// Resolution returns the TradingView-style resolution string used by the
// REST history endpoint ("5", "15", "60").
func (tf Timeframe) Resolution() string {
	switch tf {
	case Timeframe5m:
		return "5"
	case Timeframe15m:
		return "15"
	case Timeframe1h:
		return "60"
	}
	return ""
}

// Seconds returns the candle duration in seconds.
func (tf Timeframe) Seconds() int64 {
	switch tf {
	case Timeframe5m:
		return 300
	case Timeframe15m:
		return 900
	case Timeframe1h:
		return 3600
	}
	return 0
}

// KlineBuffer is a bounded OHLCV series stored as parallel slices, oldest
// first. An update with the timestamp of the last candle replaces it in
// place (the candle is still forming); a newer timestamp appends, evicting
// the head once the buffer is full. Not goroutine-safe — the owning
// collector serializes access.
type KlineBuffer struct {
	Open      []float64
	High      []float64
	Low       []float64
	Close     []float64
	Volume    []float64
	Timestamp []int64 // candle open time, unix ms

	maxSize int
}

// NewKlineBuffer creates a buffer holding at most maxSize candles.
func NewKlineBuffer(maxSize int) *KlineBuffer {
	return &KlineBuffer{
		Open:      make([]float64, 0, maxSize),
		High:      make([]float64, 0, maxSize),
		Low:       make([]float64, 0, maxSize),
		Close:     make([]float64, 0, maxSize),
		Volume:    make([]float64, 0, maxSize),
		Timestamp: make([]int64, 0, maxSize),
		maxSize:   maxSize,
	}
}

// Size returns the number of candles currently held.
func (b *KlineBuffer) Size() int {
	return len(b.Timestamp)
}

// Append adds one candle, updating the last candle in place when ts matches
// its timestamp.
func (b *KlineBuffer) Append(o, h, l, c, v float64, ts int64) {
	n := len(b.Timestamp)
	if n > 0 && b.Timestamp[n-1] == ts {
		b.Open[n-1] = o
		b.High[n-1] = h
		b.Low[n-1] = l
		b.Close[n-1] = c
		b.Volume[n-1] = v
		return
	}

	if n >= b.maxSize {
		b.Open = b.Open[1:]
		b.High = b.High[1:]
		b.Low = b.Low[1:]
		b.Close = b.Close[1:]
		b.Volume = b.Volume[1:]
		b.Timestamp = b.Timestamp[1:]
	}

	b.Open = append(b.Open, o)
	b.High = append(b.High, h)
	b.Low = append(b.Low, l)
	b.Close = append(b.Close, c)
	b.Volume = append(b.Volume, v)
	b.Timestamp = append(b.Timestamp, ts)
}

// LoadBulk replaces the buffer contents with a backfilled series, keeping
// only the most recent maxSize candles. Inputs must be parallel and oldest
// first.
func (b *KlineBuffer) LoadBulk(o, h, l, c, v []float64, ts []int64) {
	start := 0
	if len(ts) > b.maxSize {
		start = len(ts) - b.maxSize
	}

	b.Open = append(b.Open[:0], o[start:]...)
	b.High = append(b.High[:0], h[start:]...)
	b.Low = append(b.Low[:0], l[start:]...)
	b.Close = append(b.Close[:0], c[start:]...)
	b.Volume = append(b.Volume[:0], v[start:]...)
	b.Timestamp = append(b.Timestamp[:0], ts[start:]...)
}

// Snapshot returns an independent copy of the series.
func (b *KlineBuffer) Snapshot() KlineSeries {
	return KlineSeries{
		Open:      append([]float64(nil), b.Open...),
		High:      append([]float64(nil), b.High...),
		Low:       append([]float64(nil), b.Low...),
		Close:     append([]float64(nil), b.Close...),
		Volume:    append([]float64(nil), b.Volume...),
		Timestamp: append([]int64(nil), b.Timestamp...),
	}
}

// KlineSeries is an immutable copy of a KlineBuffer handed out in snapshots.
type KlineSeries struct {
	Open      []float64
	High      []float64
	Low       []float64
	Close     []float64
	Volume    []float64
	Timestamp []int64
}

// Size returns the number of candles in the series.
func (s KlineSeries) Size() int {
	return len(s.Timestamp)
}

// LastClose returns the most recent close, 0 when empty.
func (s KlineSeries) LastClose() float64 {
	if len(s.Close) == 0 {
		return 0
	}
	return s.Close[len(s.Close)-1]
}
