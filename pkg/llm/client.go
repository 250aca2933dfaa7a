// Package llm contains the chat-model gateway and the link-choice decision
// protocol built on top of it. Everything provider-specific stays behind the
// Client interface.
package llm

import "context"

// ChatRequest is a single-turn prompt for a chat model.
type ChatRequest struct {
	Model           string
	Prompt          string
	MaxTokens       int
	Temperature     *float64
	APIBase         string
	ReasoningEffort string
}

// Usage carries provider token counters. Fields are pointers so counters a
// provider never reported stay absent on the wire.
type Usage struct {
	PromptTokens     *int `json:"prompt_tokens,omitempty"`
	CompletionTokens *int `json:"completion_tokens,omitempty"`
	TotalTokens      *int `json:"total_tokens,omitempty"`
}

// ChatResult is the model's reply text plus usage when reported.
type ChatResult struct {
	Content string `json:"content"`
	Usage   *Usage `json:"usage,omitempty"`
}

// Client is the single abstraction every model call goes through.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResult, error)
}
