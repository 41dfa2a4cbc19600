// Package llm abstracts the language-model backend behind a one-method
// Oracle interface and provides the OpenRouter implementation used in
// production. Tests inject deterministic fakes.
package llm

import "context"

// Response is the model's answer to one analysis prompt.
type Response struct {
	Content          string // the message body (expected to be decision JSON)
	Reasoning        string // chain-of-thought text when the model exposes it
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Oracle produces a completion for a system/user prompt pair. The single
// production implementation is the OpenRouter client; tests use fakes.
type Oracle interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (*Response, error)
}
