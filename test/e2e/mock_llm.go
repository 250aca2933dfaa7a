package e2e

import (
	"context"
	"fmt"
	"sync"

	"github.com/wikiracing-llms/wikirace/pkg/llm"
)

// LLMScriptEntry defines a single scripted LLM response.
type LLMScriptEntry struct {
	// Response content (at most one of Text / Error)
	Text  string     // Reply content returned from Chat()
	Error error      // Return error from Chat()
	Usage *llm.Usage // Usage override; defaults to 10/5/15 when nil

	// Test control
	BlockUntilCancelled bool            // Block Chat() until ctx is cancelled
	WaitCh              <-chan struct{} // Block Chat() until closed, then return the normal response
	OnBlock             chan<- struct{} // Notified when Chat() enters its blocking path (BlockUntilCancelled or WaitCh)
}

// ScriptedLLMClient implements llm.Client with a strictly sequential script.
// Decision-protocol retries within one run are ordered, and tests that race
// several runs script one run at a time, so sequential dispatch is enough.
type ScriptedLLMClient struct {
	mu       sync.Mutex
	script   []LLMScriptEntry
	index    int
	captured []llm.ChatRequest
}

// NewScriptedLLMClient creates an empty ScriptedLLMClient.
func NewScriptedLLMClient() *ScriptedLLMClient {
	return &ScriptedLLMClient{}
}

// Add appends one entry to the script.
func (c *ScriptedLLMClient) Add(entry LLMScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.script = append(c.script, entry)
}

// AddText appends plain reply entries, one per text.
func (c *ScriptedLLMClient) AddText(texts ...string) {
	for _, text := range texts {
		c.Add(LLMScriptEntry{Text: text})
	}
}

// Chat implements llm.Client.
func (c *ScriptedLLMClient) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResult, error) {
	c.mu.Lock()
	c.captured = append(c.captured, req)
	var entry *LLMScriptEntry
	if c.index < len(c.script) {
		entry = &c.script[c.index]
		c.index++
	}
	served := c.index
	total := len(c.script)
	c.mu.Unlock()

	if entry == nil {
		return nil, fmt.Errorf("ScriptedLLMClient: no more entries (served %d/%d)", served, total)
	}

	// Handle BlockUntilCancelled: park until the caller's context dies.
	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}

	// Handle WaitCh: block until released, then continue with the normal response.
	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
			// Released — fall through to the scripted response.
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if entry.Error != nil {
		return nil, entry.Error
	}

	usage := entry.Usage
	if usage == nil {
		usage = &llm.Usage{
			PromptTokens:     intPtr(10),
			CompletionTokens: intPtr(5),
			TotalTokens:      intPtr(15),
		}
	}
	return &llm.ChatResult{Content: entry.Text, Usage: usage}, nil
}

// CallCount returns the total number of Chat() calls made.
func (c *ScriptedLLMClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.captured)
}

// CapturedRequests returns a snapshot of every request seen.
func (c *ScriptedLLMClient) CapturedRequests() []llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.ChatRequest, len(c.captured))
	copy(out, c.captured)
	return out
}

func intPtr(n int) *int { return &n }
