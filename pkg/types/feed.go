package types

import (
	"encoding/json"
	"strings"
)

// ————————————————————————————————————————————————————————————————————————
// Market-data feed wire format
// ————————————————————————————————————————————————————————————————————————
// The public WebSocket delivers envelopes of {"topic": ..., "data": {...}}.
// Topics are "{SYMBOL}@{stream}" (e.g. "PERP_ETH_USDC@kline_5m"); the data
// shape depends on the stream. These structs map 1:1 onto the JSON payloads;
// the collector routes on the topic and unmarshals data into the right one.

// StreamMessage is the envelope for every feed message. Data is left raw so
// the dispatcher can route by topic before paying for a typed unmarshal.
type StreamMessage struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// TopicKind returns the stream name after the '@' separator ("kline_5m",
// "bbo", …), or the whole topic when there is none.
func TopicKind(topic string) string {
	if i := strings.IndexByte(topic, '@'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}

// KlinePayload is one candle update from a @kline_{5m,15m,1h} stream. The
// same StartTime arrives repeatedly while the candle is still forming.
type KlinePayload struct {
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	StartTime int64   `json:"startTime"` // candle open time, unix ms
	EndTime   int64   `json:"endTime"`
}

// OrderbookPayload is a full book snapshot from @orderbook. Levels are
// [price, quantity] pairs, bids descending and asks ascending.
type OrderbookPayload struct {
	Bids [][]float64 `json:"bids"`
	Asks [][]float64 `json:"asks"`
	Ts   int64       `json:"ts"`
}

// BBOPayload is a best bid/offer update from @bbo.
type BBOPayload struct {
	Bid       float64 `json:"bid"`
	BidSize   float64 `json:"bidSize"`
	Ask       float64 `json:"ask"`
	AskSize   float64 `json:"askSize"`
	Timestamp int64   `json:"timestamp"`
}

// TradePayload is a public trade print from @trade.
type TradePayload struct {
	Price     float64 `json:"price"`
	Size      float64 `json:"size"`
	Side      string  `json:"side"` // "BUY" or "SELL"
	Timestamp int64   `json:"timestamp"`
}

// TickerPayload is a rolling 24h OHLCV update from @ticker.
type TickerPayload struct {
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// FundingPayload is a funding-rate update from @estfundingrate.
type FundingPayload struct {
	EstFundingRate  float64 `json:"estFundingRate"`
	LastFundingRate float64 `json:"lastFundingRate"`
	NextFundingTime int64   `json:"nextFundingTime"` // unix ms
}

// OpenInterestPayload is an open-interest update from @openinterest.
type OpenInterestPayload struct {
	OpenInterest float64 `json:"openInterest"`
}

// PricePayload carries a single price from @markprice or @indexprice.
type PricePayload struct {
	Price float64 `json:"price"`
}

// ————————————————————————————————————————————————————————————————————————
// REST history
// ————————————————————————————————————————————————————————————————————————

// HistoryResponse is the TradingView-style candle history returned by
// GET /v1/tv/history. Parallel arrays, oldest first; an empty T means the
// venue has no data for the requested window.
type HistoryResponse struct {
	S string    `json:"s"` // status, "ok" when data is present
	T []int64   `json:"t"` // candle open times, unix seconds
	O []float64 `json:"o"`
	H []float64 `json:"h"`
	L []float64 `json:"l"`
	C []float64 `json:"c"`
	V []float64 `json:"v"`
}
