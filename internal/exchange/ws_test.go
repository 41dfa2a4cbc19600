package exchange

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestFeed(url string) *Feed {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewFeed(url, logger)
}

func TestSubscribeBeforeConnect(t *testing.T) {
	t.Parallel()

	f := newTestFeed("ws://nowhere")
	if err := f.Subscribe("PERP_ETH_USDC@bbo", func(string, []byte) {}); err != nil {
		t.Fatalf("subscribe before connect should only record the topic: %v", err)
	}

	f.handlersMu.RLock()
	_, ok := f.handlers["PERP_ETH_USDC@bbo"]
	f.handlersMu.RUnlock()
	if !ok {
		t.Error("topic not recorded for resubscribe")
	}

	if err := f.Unsubscribe("PERP_ETH_USDC@bbo"); err != nil {
		t.Fatalf("unsubscribe before connect: %v", err)
	}
	f.handlersMu.RLock()
	n := len(f.handlers)
	f.handlersMu.RUnlock()
	if n != 0 {
		t.Errorf("handlers after unsubscribe = %d, want 0", n)
	}
}

func TestDispatchRoutesByTopic(t *testing.T) {
	t.Parallel()

	f := newTestFeed("ws://nowhere")

	var mu sync.Mutex
	got := map[string]string{}
	handler := func(topic string, data []byte) {
		mu.Lock()
		got[topic] = string(data)
		mu.Unlock()
	}
	f.Subscribe("PERP_ETH_USDC@bbo", handler)
	f.Subscribe("PERP_ETH_USDC@trade", handler)

	f.dispatchMessage([]byte(`{"topic":"PERP_ETH_USDC@bbo","data":{"bid":3000}}`))
	f.dispatchMessage([]byte(`{"topic":"PERP_ETH_USDC@markprice","data":{"price":1}}`)) // no handler
	f.dispatchMessage([]byte(`{"topic":"PERP_ETH_USDC@trade","data":null}`))            // null data dropped
	f.dispatchMessage([]byte(`not json`))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("dispatched = %v, want only the bbo message", got)
	}
	if got["PERP_ETH_USDC@bbo"] != `{"bid":3000}` {
		t.Errorf("payload = %q", got["PERP_ETH_USDC@bbo"])
	}
}

func TestFeedSubscribesAndAnswersPing(t *testing.T) {
	t.Parallel()

	upgrader := websocket.Upgrader{}
	frames := make(chan string, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Probe liveness the way the venue does.
		conn.WriteMessage(websocket.TextMessage, []byte(`{"event":"ping"}`))

		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- string(msg)
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := newTestFeed(wsURL)
	f.Subscribe("PERP_ETH_USDC@bbo", func(string, []byte) {})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go f.Run(ctx)

	var sawSubscribe, sawPong bool
	deadline := time.After(2 * time.Second)
	for !(sawSubscribe && sawPong) {
		select {
		case frame := <-frames:
			if strings.Contains(frame, `"event":"subscribe"`) &&
				strings.Contains(frame, `"topic":"PERP_ETH_USDC@bbo"`) {
				sawSubscribe = true
			}
			if strings.Contains(frame, `"event":"pong"`) {
				sawPong = true
			}
		case <-deadline:
			t.Fatalf("timed out: subscribe=%v pong=%v", sawSubscribe, sawPong)
		}
	}
}
