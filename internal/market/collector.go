package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"orderly-trader/internal/metrics"
	"orderly-trader/pkg/types"
)

// maxRecentTrades bounds the FIFO used for volume-delta computation.
const maxRecentTrades = 500

const klineBufferSize = 200

// Subscriber is the part of the streaming feed the collector needs:
// register a handler for a topic, drop it on teardown.
type Subscriber interface {
	Subscribe(topic string, handler func(topic string, data []byte)) error
	Unsubscribe(topic string) error
}

// HistorySource fetches candle history for backfill. Implemented by the
// exchange REST client.
type HistorySource interface {
	KlineHistory(ctx context.Context, symbol, resolution string, from, to int64) (*types.HistoryResponse, error)
}

// Collector maintains all market-data state for a single symbol. Ingest
// handlers run on the feed's dispatch goroutine; readers take deep-copy
// snapshots. One mutex guards everything.
type Collector struct {
	symbol     string
	spotSymbol string

	feed   Subscriber
	hist   HistorySource
	logger *slog.Logger

	mu           sync.Mutex
	klines       map[Timeframe]*KlineBuffer
	orderbook    OrderbookSnapshot
	bbo          BBO
	funding      FundingRate
	openInterest OpenInterest
	tradersOI    TradersOI
	ticker       TickerData
	recentTrades []RecentTrade
	markPrice    float64
	indexPrice   float64
	started      bool
}

// NewCollector creates a collector for one perp symbol. The index price is
// tracked on the spot twin (PERP_ETH_USDC → SPOT_ETH_USDC).
func NewCollector(symbol string, feed Subscriber, hist HistorySource, logger *slog.Logger) *Collector {
	return &Collector{
		symbol:     symbol,
		spotSymbol: spotTwin(symbol),
		feed:       feed,
		hist:       hist,
		logger:     logger.With("component", "collector", "symbol", symbol),
		klines: map[Timeframe]*KlineBuffer{
			Timeframe5m:  NewKlineBuffer(klineBufferSize),
			Timeframe15m: NewKlineBuffer(klineBufferSize),
			Timeframe1h:  NewKlineBuffer(klineBufferSize),
		},
		// No public stream carries the long/short breakdown; a balanced
		// default keeps the sentiment reading neutral.
		tradersOI: TradersOI{LongRatio: 0.5, ShortRatio: 0.5},
	}
}

func spotTwin(symbol string) string {
	parts := strings.Split(symbol, "_")
	if len(parts) == 3 {
		return fmt.Sprintf("SPOT_%s_%s", parts[1], parts[2])
	}
	return symbol
}

// Symbol returns the perp symbol this collector tracks.
func (c *Collector) Symbol() string {
	return c.symbol
}

// Topics returns every feed topic the collector subscribes to.
func (c *Collector) Topics() []string {
	s := c.symbol
	return []string{
		s + "@kline_5m",
		s + "@kline_15m",
		s + "@kline_1h",
		s + "@orderbook",
		s + "@bbo",
		s + "@trade",
		s + "@ticker",
		s + "@estfundingrate",
		s + "@openinterest",
		s + "@markprice",
		c.spotSymbol + "@indexprice",
	}
}

// Start subscribes to all topics. Idempotent.
func (c *Collector) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	for _, topic := range c.Topics() {
		if err := c.feed.Subscribe(topic, c.Ingest); err != nil {
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
	}
	c.logger.Info("collector started")
	return nil
}

// Stop drops all subscriptions. Idempotent.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	for _, topic := range c.Topics() {
		if err := c.feed.Unsubscribe(topic); err != nil {
			c.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	c.logger.Info("collector stopped")
}

// BackfillKlines populates the kline buffers from REST history. Failures
// are logged per timeframe and never abort the remaining timeframes.
func (c *Collector) BackfillKlines(ctx context.Context) {
	now := time.Now().Unix()

	for _, tf := range Timeframes {
		lookback := klineBufferSize * tf.Seconds()
		resp, err := c.hist.KlineHistory(ctx, c.symbol, tf.Resolution(), now-lookback, now)
		if err != nil {
			c.logger.Error("backfill failed", "timeframe", string(tf), "error", err)
			continue
		}
		if len(resp.T) == 0 {
			continue
		}

		ts := make([]int64, len(resp.T))
		for i, t := range resp.T {
			ts[i] = t * 1000 // REST returns seconds, buffers hold ms
		}

		c.mu.Lock()
		c.klines[tf].LoadBulk(resp.O, resp.H, resp.L, resp.C, resp.V, ts)
		c.mu.Unlock()

		metrics.BackfillCandles.WithLabelValues(string(tf)).Add(float64(len(resp.T)))
		c.logger.Info("backfilled klines", "timeframe", string(tf), "candles", len(resp.T))
	}
}

// CurrentPrice returns the best available price: mark price, then BBO mid,
// then the last 5m close, then 0.
func (c *Collector) CurrentPrice() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.markPrice > 0 {
		return c.markPrice
	}
	if mid := c.bbo.Mid(); mid > 0 {
		return mid
	}
	buf := c.klines[Timeframe5m]
	if buf.Size() > 0 {
		return buf.Close[buf.Size()-1]
	}
	return 0
}

// GetSnapshot deep-copies everything under a single lock acquisition,
// computing the volume delta from the trades FIFO on the way out.
func (c *Collector) GetSnapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	klines := make(map[Timeframe]KlineSeries, len(c.klines))
	for tf, buf := range c.klines {
		klines[tf] = buf.Snapshot()
	}

	var buyVol, sellVol float64
	for _, t := range c.recentTrades {
		if t.Side == "BUY" {
			buyVol += t.Size
		} else {
			sellVol += t.Size
		}
	}
	delta := buyVol - sellVol
	var ratio float64
	if total := buyVol + sellVol; total > 0 {
		ratio = delta / total
	}

	last := c.markPrice
	if last <= 0 {
		last = c.bbo.Mid()
	}
	if last <= 0 {
		if buf := c.klines[Timeframe5m]; buf.Size() > 0 {
			last = buf.Close[buf.Size()-1]
		}
	}

	return &Snapshot{
		Symbol:    c.symbol,
		Timestamp: time.Now().UTC(),
		Klines:    klines,
		Orderbook: OrderbookSnapshot{
			Bids:      append([]PriceLevel(nil), c.orderbook.Bids...),
			Asks:      append([]PriceLevel(nil), c.orderbook.Asks...),
			Timestamp: c.orderbook.Timestamp,
		},
		BBO:          c.bbo,
		Funding:      c.funding,
		OpenInterest: c.openInterest,
		TradersOI:    c.tradersOI,
		Ticker:       c.ticker,
		VolumeDelta: VolumeDelta{
			BuyVolume:  buyVol,
			SellVolume: sellVol,
			Delta:      delta,
			DeltaRatio: ratio,
			TradeCount: len(c.recentTrades),
		},
		MarkPrice:  c.markPrice,
		IndexPrice: c.indexPrice,
		LastPrice:  last,
	}
}

// Ingest routes one feed message by topic substring. Malformed payloads are
// dropped; a panic in a handler is recovered so one bad message cannot kill
// the dispatch loop.
func (c *Collector) Ingest(topic string, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic handling message", "topic", topic, "panic", r)
		}
	}()

	switch {
	case strings.Contains(topic, "@kline_5m"):
		c.handleKline(data, Timeframe5m)
	case strings.Contains(topic, "@kline_15m"):
		c.handleKline(data, Timeframe15m)
	case strings.Contains(topic, "@kline_1h"):
		c.handleKline(data, Timeframe1h)
	case strings.Contains(topic, "@orderbookupdate"):
		// incremental updates are not consumed, only full snapshots
	case strings.Contains(topic, "@orderbook"):
		c.handleOrderbook(data)
	case strings.Contains(topic, "@bbo"):
		c.handleBBO(data)
	case strings.Contains(topic, "@trade"):
		c.handleTrade(data)
	case strings.Contains(topic, "@ticker"):
		c.handleTicker(data)
	case strings.Contains(topic, "@estfundingrate"):
		c.handleFunding(data)
	case strings.Contains(topic, "@openinterest"):
		c.handleOpenInterest(data)
	case strings.Contains(topic, "@markprice"):
		c.handleMarkPrice(data)
	case strings.Contains(topic, "@indexprice"):
		c.handleIndexPrice(data)
	}
}

func (c *Collector) handleKline(data []byte, tf Timeframe) {
	var p types.KlinePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.klines[tf].Append(p.Open, p.High, p.Low, p.Close, p.Volume, p.StartTime)
}

func (c *Collector) handleOrderbook(data []byte) {
	var p types.OrderbookPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}

	toLevels := func(raw [][]float64) []PriceLevel {
		if len(raw) > 20 {
			raw = raw[:20]
		}
		levels := make([]PriceLevel, 0, len(raw))
		for _, l := range raw {
			if len(l) < 2 {
				continue
			}
			levels = append(levels, PriceLevel{Price: l[0], Quantity: l[1]})
		}
		return levels
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderbook = OrderbookSnapshot{
		Bids:      toLevels(p.Bids),
		Asks:      toLevels(p.Asks),
		Timestamp: p.Ts,
	}
}

func (c *Collector) handleBBO(data []byte) {
	var p types.BBOPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bbo = BBO{
		Bid:       p.Bid,
		BidSize:   p.BidSize,
		Ask:       p.Ask,
		AskSize:   p.AskSize,
		Timestamp: p.Timestamp,
	}
}

func (c *Collector) handleTrade(data []byte) {
	var p types.TradePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	side := p.Side
	if side == "" {
		side = "BUY"
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.recentTrades = append(c.recentTrades, RecentTrade{
		Price:     p.Price,
		Size:      p.Size,
		Side:      side,
		Timestamp: p.Timestamp,
	})
	if len(c.recentTrades) > maxRecentTrades {
		c.recentTrades = c.recentTrades[len(c.recentTrades)-maxRecentTrades:]
	}
}

func (c *Collector) handleTicker(data []byte) {
	var p types.TickerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticker = TickerData{
		Open:   p.Open,
		High:   p.High,
		Low:    p.Low,
		Close:  p.Close,
		Volume: p.Volume,
	}
	if p.Open > 0 {
		c.ticker.Change24h = (p.Close - p.Open) / p.Open * 100
	}
}

func (c *Collector) handleFunding(data []byte) {
	var p types.FundingPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.funding = FundingRate{
		EstFundingRate:  p.EstFundingRate,
		LastFundingRate: p.LastFundingRate,
		NextFundingTime: p.NextFundingTime,
	}
}

func (c *Collector) handleOpenInterest(data []byte) {
	var p types.OpenInterestPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.openInterest = OpenInterest{OpenInterest: p.OpenInterest}
}

func (c *Collector) handleMarkPrice(data []byte) {
	var p types.PricePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markPrice = p.Price
}

func (c *Collector) handleIndexPrice(data []byte) {
	var p types.PricePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexPrice = p.Price
}
