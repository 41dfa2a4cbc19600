// ws.go implements the public Orderly market-data WebSocket feed.
//
// One connection carries every subscribed topic ("{SYMBOL}@{stream}").
// Messages arrive as {"topic": ..., "data": {...}} envelopes and are routed
// to per-topic handlers. The feed auto-reconnects with exponential backoff
// (1s → 30s max) and re-subscribes to all tracked topics on reconnection.
// A read deadline (90s) ensures silent server failures are detected; the
// server's ping events are answered with pong frames and we send our own
// ping every 25s.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"orderly-trader/internal/metrics"
	"orderly-trader/pkg/types"
)

const (
	pingInterval     = 25 * time.Second // keep-alive cadence expected by the venue
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
)

// Handler consumes the raw data payload of one feed message. It is an
// alias so callers can satisfy consumer interfaces with plain funcs.
type Handler = func(topic string, data []byte)

// wsRequest is the frame sent to subscribe to or drop a topic.
type wsRequest struct {
	ID    string `json:"id"`
	Event string `json:"event"`
	Topic string `json:"topic,omitempty"`
}

// Feed manages the public market-data WebSocket connection: lifecycle,
// subscription tracking, message routing, and automatic reconnection.
type Feed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex // protects conn reads/writes

	// Track handlers per topic for routing and re-subscribe on reconnect
	handlersMu sync.RWMutex
	handlers   map[string]Handler

	logger *slog.Logger
}

// NewFeed creates a feed for the given stream URL
// (wss://ws-evm.orderly.org/ws/stream/{account_id}).
func NewFeed(wsURL string, logger *slog.Logger) *Feed {
	return &Feed{
		url:      wsURL,
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "ws_feed"),
	}
}

// Subscribe registers a handler for a topic and sends the subscribe frame
// when connected. Before the first connection it only records the topic;
// the initial subscription is sent on connect.
func (f *Feed) Subscribe(topic string, handler Handler) error {
	f.handlersMu.Lock()
	f.handlers[topic] = handler
	f.handlersMu.Unlock()

	err := f.writeJSON(wsRequest{ID: uuid.NewString(), Event: "subscribe", Topic: topic})
	if err != nil && !isNotConnected(err) {
		return err
	}
	return nil
}

// Unsubscribe drops a topic's handler and tells the server, when connected.
func (f *Feed) Unsubscribe(topic string) error {
	f.handlersMu.Lock()
	delete(f.handlers, topic)
	f.handlersMu.Unlock()

	err := f.writeJSON(wsRequest{ID: uuid.NewString(), Event: "unsubscribe", Topic: topic})
	if err != nil && !isNotConnected(err) {
		return err
	}
	return nil
}

// Run connects and maintains the connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		start := time.Now()
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A connection that survived a while earns a fresh backoff.
		if time.Since(start) > time.Minute {
			backoff = time.Second
		}

		f.logger.Warn("websocket disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)
		metrics.WSReconnects.Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close gracefully closes the connection.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.resubscribeAll(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("websocket connected", "url", f.url)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	// Read loop with deadline so we reconnect if the server goes silent
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *Feed) resubscribeAll() error {
	f.handlersMu.RLock()
	topics := make([]string, 0, len(f.handlers))
	for topic := range f.handlers {
		topics = append(topics, topic)
	}
	f.handlersMu.RUnlock()

	for _, topic := range topics {
		if err := f.writeJSON(wsRequest{ID: uuid.NewString(), Event: "subscribe", Topic: topic}); err != nil {
			return err
		}
	}
	return nil
}

func (f *Feed) dispatchMessage(raw []byte) {
	var envelope struct {
		Topic string          `json:"topic"`
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(raw))
		return
	}

	// The server probes liveness with ping events.
	if envelope.Event == "ping" {
		if err := f.writeJSON(map[string]string{"event": "pong"}); err != nil {
			f.logger.Warn("pong failed", "error", err)
		}
		return
	}

	if envelope.Topic == "" || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return
	}

	f.handlersMu.RLock()
	handler, ok := f.handlers[envelope.Topic]
	f.handlersMu.RUnlock()
	if !ok {
		f.logger.Debug("no handler for topic", "topic", envelope.Topic)
		return
	}

	metrics.WSMessages.WithLabelValues(types.TopicKind(envelope.Topic)).Inc()
	handler(envelope.Topic, envelope.Data)
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeJSON(map[string]string{"event": "ping"}); err != nil {
				f.logger.Warn("ping failed", "error", err)
				return
			}
		}
	}
}

var errNotConnected = errors.New("websocket not connected")

func isNotConnected(err error) bool {
	return errors.Is(err, errNotConnected)
}

func (f *Feed) writeJSON(v interface{}) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return errNotConnected
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}
