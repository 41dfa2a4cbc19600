// Package market holds the per-symbol market-data state: bounded kline
// buffers, the latest orderbook/BBO/derivatives records, and the collector
// that keeps them current from the streaming feed. Snapshots handed out are
// deep copies — safe to read while ingest keeps running.
package market

import (
	"math"
	"time"
)

// PriceLevel is one orderbook level.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// OrderbookSnapshot is the latest full book snapshot, truncated to 20
// levels per side. Bids descend, asks ascend.
type OrderbookSnapshot struct {
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp int64 // unix ms
}

// BidDepth sums bid quantity over the stored levels.
func (ob OrderbookSnapshot) BidDepth() float64 {
	var d float64
	for _, l := range ob.Bids {
		d += l.Quantity
	}
	return d
}

// AskDepth sums ask quantity over the stored levels.
func (ob OrderbookSnapshot) AskDepth() float64 {
	var d float64
	for _, l := range ob.Asks {
		d += l.Quantity
	}
	return d
}

// Imbalance returns (bid − ask) / (bid + ask) depth, in [−1, 1], 0 when the
// book is empty.
func (ob OrderbookSnapshot) Imbalance() float64 {
	bid, ask := ob.BidDepth(), ob.AskDepth()
	total := bid + ask
	if total == 0 {
		return 0
	}
	return (bid - ask) / total
}

// BBO is the best bid/offer.
type BBO struct {
	Bid       float64
	BidSize   float64
	Ask       float64
	AskSize   float64
	Timestamp int64
}

// Mid returns the midpoint, 0 unless both sides are positive.
func (b BBO) Mid() float64 {
	if b.Bid <= 0 || b.Ask <= 0 {
		return 0
	}
	return (b.Bid + b.Ask) / 2
}

// SpreadBps returns the bid-ask spread in basis points of the mid.
func (b BBO) SpreadBps() float64 {
	mid := b.Mid()
	if mid == 0 {
		return 0
	}
	return (b.Ask - b.Bid) / mid * 10000
}

// FundingRate is the latest funding update for a perp symbol.
type FundingRate struct {
	EstFundingRate  float64
	LastFundingRate float64
	NextFundingTime int64 // unix ms
}

// OpenInterest is the latest open-interest figure (base units).
type OpenInterest struct {
	OpenInterest float64
}

// TradersOI is the long/short account breakdown.
type TradersOI struct {
	LongRatio  float64
	ShortRatio float64
}

// LSRatio returns long/short, +Inf when nobody is short.
func (t TradersOI) LSRatio() float64 {
	if t.ShortRatio == 0 {
		return math.Inf(1)
	}
	return t.LongRatio / t.ShortRatio
}

// TickerData is the rolling 24h OHLCV.
type TickerData struct {
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Change24h float64 // percent, recomputed from open/close when open > 0
}

// RecentTrade is one public trade print kept in the collector's FIFO.
type RecentTrade struct {
	Price     float64
	Size      float64
	Side      string // "BUY" or "SELL"
	Timestamp int64
}

// VolumeDelta aggregates the trades FIFO into taker buy/sell pressure.
type VolumeDelta struct {
	BuyVolume  float64
	SellVolume float64
	Delta      float64
	DeltaRatio float64 // delta / total volume, 0 when no volume
	TradeCount int
}

// Snapshot is a deep copy of everything the collector knows about one
// symbol at a point in time. Safe to hold and read without locking.
type Snapshot struct {
	Symbol    string
	Timestamp time.Time

	Klines map[Timeframe]KlineSeries

	Orderbook    OrderbookSnapshot
	BBO          BBO
	Funding      FundingRate
	OpenInterest OpenInterest
	TradersOI    TradersOI
	Ticker       TickerData
	VolumeDelta  VolumeDelta

	MarkPrice  float64
	IndexPrice float64
	LastPrice  float64 // CurrentPrice at snapshot time
}
