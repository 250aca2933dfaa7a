package llm

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Gate wraps a Client with a process-wide concurrency limit. Callers wait
// for a slot before the underlying call starts; waiting respects the
// caller's context.
type Gate struct {
	inner Client
	sem   *semaphore.Weighted
}

// NewGate limits concurrent calls through inner to maxConcurrent (minimum 1).
func NewGate(inner Client, maxConcurrent int) *Gate {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Gate{
		inner: inner,
		sem:   semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

func (g *Gate) Chat(ctx context.Context, req ChatRequest) (*ChatResult, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return g.inner.Chat(ctx, req)
}
