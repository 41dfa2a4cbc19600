package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"orderly-trader/internal/config"
	"orderly-trader/internal/metrics"
)

// OpenRouter calls any model through OpenRouter's unified
// chat-completions API.
type OpenRouter struct {
	http   *resty.Client
	cfg    config.OpenRouterConfig
	logger *slog.Logger
}

// NewOpenRouter creates the production oracle from config. The API key is
// sent as a bearer token on every request.
func NewOpenRouter(cfg config.OpenRouterConfig, logger *slog.Logger) *OpenRouter {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(time.Duration(cfg.TimeoutSeconds) * time.Second).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("HTTP-Referer", "https://github.com/orderly-trader")

	return &OpenRouter{
		http:   httpClient,
		cfg:    cfg,
		logger: logger.With("component", "openrouter"),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Reasoning   *reasoningOpt `json:"reasoning,omitempty"`
}

type reasoningOpt struct {
	Effort string `json:"effort"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
			Reasoning        string `json:"reasoning"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one chat-completion request and returns the model's
// answer with reasoning text when the backend exposes it.
func (o *OpenRouter) Complete(ctx context.Context, systemPrompt, userPrompt string) (*Response, error) {
	body := chatRequest{
		Model: o.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
	}

	// Grok models support an effort knob for extended thinking.
	if strings.Contains(o.cfg.Model, "grok") {
		body.Reasoning = &reasoningOpt{Effort: o.cfg.ReasoningEffort}
	}

	o.logger.Info("calling model", "model", o.cfg.Model)

	var result chatResponse
	resp, err := o.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("chat completion: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: no choices in response")
	}

	msg := result.Choices[0].Message

	// OpenRouter surfaces reasoning under different keys per backend.
	reasoning := msg.ReasoningContent
	if reasoning == "" {
		reasoning = msg.Reasoning
	}
	if reasoning == "" {
		o.logger.Warn("no reasoning field in response", "model", result.Model)
	}

	model := result.Model
	if model == "" {
		model = o.cfg.Model
	}

	metrics.OracleTokens.WithLabelValues("prompt").Add(float64(result.Usage.PromptTokens))
	metrics.OracleTokens.WithLabelValues("completion").Add(float64(result.Usage.CompletionTokens))

	return &Response{
		Content:          msg.Content,
		Reasoning:        reasoning,
		Model:            model,
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
	}, nil
}
