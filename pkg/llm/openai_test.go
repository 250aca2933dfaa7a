package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClientChat(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "<answer>1</answer>"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient("")
	temp := 0.5
	res, err := client.Chat(context.Background(), ChatRequest{
		Model:           "openai/gpt-4o",
		Prompt:          "pick a link",
		MaxTokens:       64,
		Temperature:     &temp,
		APIBase:         srv.URL,
		ReasoningEffort: " low ",
	})
	require.NoError(t, err)

	assert.Equal(t, "<answer>1</answer>", res.Content)
	require.NotNil(t, res.Usage)
	assert.Equal(t, 12, *res.Usage.PromptTokens)
	assert.Equal(t, 3, *res.Usage.CompletionTokens)
	assert.Equal(t, 15, *res.Usage.TotalTokens)

	// local endpoints still get a key-shaped header
	assert.Equal(t, "Bearer EMPTY", gotAuth)
	assert.Equal(t, "gpt-4o", gotBody["model"], "provider prefix stripped")
	assert.Equal(t, float64(64), gotBody["max_tokens"])
	assert.Equal(t, 0.5, gotBody["temperature"])
	assert.Equal(t, "low", gotBody["reasoning_effort"])

	msgs, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 1)
	msg := msgs[0].(map[string]any)
	assert.Equal(t, "user", msg["role"])
	assert.Equal(t, "pick a link", msg["content"])
}

func TestOpenAIClientUsageAliases(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "hi"}}],
			"usage": {"input_tokens": 9, "output_tokens": 2}
		}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient("sk-test")
	res, err := client.Chat(context.Background(), ChatRequest{
		Model:   "gpt-4o",
		Prompt:  "hello",
		APIBase: srv.URL,
	})
	require.NoError(t, err)

	require.NotNil(t, res.Usage)
	assert.Equal(t, 9, *res.Usage.PromptTokens)
	assert.Equal(t, 2, *res.Usage.CompletionTokens)
	require.NotNil(t, res.Usage.TotalTokens)
	assert.Equal(t, 11, *res.Usage.TotalTokens, "total synthesized from sub-counts")
}

func TestOpenAIClientConfiguredKeyWins(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "ok"}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient("sk-real")
	_, err := client.Chat(context.Background(), ChatRequest{Model: "gpt-4o", Prompt: "x", APIBase: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-real", gotAuth)
}

func TestOpenAIClientEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": ""}}]}`))
	}))
	defer srv.Close()

	client := NewOpenAIClient("")
	_, err := client.Chat(context.Background(), ChatRequest{Model: "gpt-4o", Prompt: "x", APIBase: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty content")
}

func TestOpenAIClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error": "rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOpenAIClient("")
	_, err := client.Chat(context.Background(), ChatRequest{Model: "gpt-4o", Prompt: "x", APIBase: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestStripProviderPrefix(t *testing.T) {
	assert.Equal(t, "gpt-4o", stripProviderPrefix("openai/gpt-4o"))
	assert.Equal(t, "gpt-5", stripProviderPrefix("openai:gpt-5"))
	assert.Equal(t, "llama3:8b", stripProviderPrefix("llama3:8b"))
}
