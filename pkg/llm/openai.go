package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultAPIBase = "https://api.openai.com/v1"

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
// A per-request APIBase overrides the default, which covers local vLLM or
// Ollama-style servers.
type OpenAIClient struct {
	apiKey     string
	httpClient *http.Client
}

// NewOpenAIClient builds a client using the given API key. The key may be
// empty when only local endpoints are used.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey: apiKey,
		// Reasoning models can take minutes on long prompts.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

type chatCompletionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model           string                  `json:"model"`
	Messages        []chatCompletionMessage `json:"messages"`
	MaxTokens       int                     `json:"max_tokens,omitempty"`
	Temperature     *float64                `json:"temperature,omitempty"`
	ReasoningEffort string                  `json:"reasoning_effort,omitempty"`
}

// chatUsage accepts both OpenAI-style and Anthropic-style counter names.
// A missing total is synthesized from the sub-counts after normalization.
type chatUsage struct {
	PromptTokens     *int `json:"prompt_tokens"`
	InputTokens      *int `json:"input_tokens"`
	CompletionTokens *int `json:"completion_tokens"`
	OutputTokens     *int `json:"output_tokens"`
	TotalTokens      *int `json:"total_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatCompletionMessage `json:"message"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	base := strings.TrimRight(req.APIBase, "/")
	if base == "" {
		base = defaultAPIBase
	}
	url := base + "/chat/completions"

	body := chatCompletionRequest{
		Model:    stripProviderPrefix(req.Model),
		Messages: []chatCompletionMessage{{Role: "user", Content: req.Prompt}},
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	body.Temperature = req.Temperature
	if effort := strings.TrimSpace(req.ReasoningEffort); effort != "" {
		body.ReasoningEffort = effort
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if key := c.bearer(req.APIBase); key != "" {
		httpReq.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("chat API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var out chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("model returned empty content")
	}

	return &ChatResult{
		Content: out.Choices[0].Message.Content,
		Usage:   normalizeUsage(out.Usage),
	}, nil
}

// bearer returns the Authorization bearer for a request. Local
// OpenAI-compatible servers usually ignore auth but still expect a
// key-shaped header, hence the EMPTY fallback when an api_base is given.
func (c *OpenAIClient) bearer(apiBase string) string {
	if c.apiKey != "" {
		return c.apiKey
	}
	if apiBase != "" {
		return "EMPTY"
	}
	return ""
}

// stripProviderPrefix drops a routing prefix like "openai/gpt-4o" so the
// bare model name reaches the endpoint.
func stripProviderPrefix(model string) string {
	for _, p := range []string{"openai/", "openai:"} {
		if strings.HasPrefix(model, p) {
			return strings.TrimPrefix(model, p)
		}
	}
	return model
}

func normalizeUsage(raw *chatUsage) *Usage {
	if raw == nil {
		return nil
	}
	u := &Usage{TotalTokens: raw.TotalTokens}
	if raw.PromptTokens != nil {
		u.PromptTokens = raw.PromptTokens
	} else {
		u.PromptTokens = raw.InputTokens
	}
	if raw.CompletionTokens != nil {
		u.CompletionTokens = raw.CompletionTokens
	} else {
		u.CompletionTokens = raw.OutputTokens
	}
	if u.PromptTokens == nil && u.CompletionTokens == nil && u.TotalTokens == nil {
		return nil
	}
	if u.TotalTokens == nil {
		n := 0
		if u.PromptTokens != nil {
			n += *u.PromptTokens
		}
		if u.CompletionTokens != nil {
			n += *u.CompletionTokens
		}
		u.TotalTokens = &n
	}
	return u
}
