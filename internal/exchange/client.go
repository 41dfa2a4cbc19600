// Package exchange implements the Orderly public-data transport: the
// streaming WebSocket feed (ws.go) and the REST client used to backfill
// candle history on startup.
//
// The REST client talks to the public TradingView-style endpoint:
//
//	GET /v1/tv/history?symbol=S&resolution=R&from=F&to=T
//
// No authentication is needed for either path. Every request is paced by a
// shared rate limiter and automatically retried on transport errors and
// 5xx responses.
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"orderly-trader/pkg/types"
)

// Startup backfill fires three timeframes per symbol back to back; 8 req/s
// keeps a multi-symbol start well inside the venue's public limits.
const (
	requestTimeout = 15 * time.Second
	historyRate    = 8
	historyBurst   = 8
)

// Client is the Orderly public REST client.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
}

// NewClient creates a REST client with retry and rate limiting.
func NewClient(baseURL string) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(historyRate, historyBurst),
	}
}

// KlineHistory fetches candle history for a symbol. from and to are unix
// seconds; resolution is the TradingView string ("5", "15", "60"). A
// response with an empty T slice means the venue has no data for the
// window — callers skip it, it is not an error.
func (c *Client) KlineHistory(ctx context.Context, symbol, resolution string, from, to int64) (*types.HistoryResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result types.HistoryResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":     symbol,
			"resolution": resolution,
			"from":       strconv.FormatInt(from, 10),
			"to":         strconv.FormatInt(to, 10),
		}).
		SetResult(&result).
		Get("/v1/tv/history")
	if err != nil {
		return nil, fmt.Errorf("get history: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get history: status %d: %s", resp.StatusCode(), resp.String())
	}

	n := len(result.T)
	if len(result.O) != n || len(result.H) != n || len(result.L) != n ||
		len(result.C) != n || len(result.V) != n {
		return nil, fmt.Errorf("get history: ragged arrays in response (t=%d o=%d h=%d l=%d c=%d v=%d)",
			n, len(result.O), len(result.H), len(result.L), len(result.C), len(result.V))
	}

	return &result, nil
}
