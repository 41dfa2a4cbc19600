package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"orderly-trader/internal/config"
)

func newTestOracle(baseURL, model string) *OpenRouter {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewOpenRouter(config.OpenRouterConfig{
		APIKey:          "test-key",
		BaseURL:         baseURL,
		Model:           model,
		ReasoningEffort: "high",
		MaxTokens:       4096,
		Temperature:     0.2,
		TimeoutSeconds:  5,
	}, logger)
}

func TestCompleteRequestShape(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q, want /chat/completions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"model": "x-ai/grok-3-mini",
			"choices": [{"message": {"content": "{\"decisions\":[]}", "reasoning_content": "thought hard"}}],
			"usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
		}`))
	}))
	defer srv.Close()

	o := newTestOracle(srv.URL, "x-ai/grok-3-mini")
	resp, err := o.Complete(context.Background(), "system text", "user text")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody["model"] != "x-ai/grok-3-mini" {
		t.Errorf("model = %v", gotBody["model"])
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	first, _ := msgs[0].(map[string]any)
	if first["role"] != "system" || first["content"] != "system text" {
		t.Errorf("first message = %v", first)
	}
	// Grok models get the reasoning-effort knob.
	reasoning, ok := gotBody["reasoning"].(map[string]any)
	if !ok || reasoning["effort"] != "high" {
		t.Errorf("reasoning = %v, want effort high", gotBody["reasoning"])
	}

	if resp.Content != `{"decisions":[]}` {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.Reasoning != "thought hard" {
		t.Errorf("reasoning = %q", resp.Reasoning)
	}
	if resp.TotalTokens != 150 {
		t.Errorf("total tokens = %d, want 150", resp.TotalTokens)
	}
}

func TestCompleteNonGrokOmitsReasoning(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": [{"message": {"content": "ok", "reasoning": "alt key"}}]}`))
	}))
	defer srv.Close()

	o := newTestOracle(srv.URL, "openai/gpt-4o-mini")
	resp, err := o.Complete(context.Background(), "s", "u")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	if _, present := gotBody["reasoning"]; present {
		t.Error("non-grok request should omit the reasoning field")
	}
	// Falls back to the alternate reasoning key and the configured model name.
	if resp.Reasoning != "alt key" {
		t.Errorf("reasoning = %q", resp.Reasoning)
	}
	if resp.Model != "openai/gpt-4o-mini" {
		t.Errorf("model = %q", resp.Model)
	}
}

func TestCompleteErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	o := newTestOracle(srv.URL, "x-ai/grok-3-mini")
	if _, err := o.Complete(context.Background(), "s", "u"); err == nil {
		t.Error("expected error on 429")
	}
}

func TestCompleteNoChoices(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	o := newTestOracle(srv.URL, "x-ai/grok-3-mini")
	if _, err := o.Complete(context.Background(), "s", "u"); err == nil {
		t.Error("expected error on empty choices")
	}
}
