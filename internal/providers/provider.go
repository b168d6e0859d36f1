// Package providers wraps the external text-generation services. The
// pipeline treats any provider failure as "no candidate reply" and falls back
// to a canned response; providers never decide authority.
package providers

import (
	"context"
	"math/rand"
	"time"
)

// Message is one turn of conversation context passed to the model.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Request carries everything a provider needs for one generation call.
type Request struct {
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	Model     string    `json:"model,omitempty"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// Reply is a candidate response.
type Reply struct {
	Text string `json:"text"`
}

// Provider is the generation contract.
type Provider interface {
	// Generate produces a candidate reply; it may fail or time out, and the
	// caller owns the fallback.
	Generate(ctx context.Context, req Request) (*Reply, error)

	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// RetryConfig bounds retries for transient provider failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig returns 3 attempts starting at 1s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 20 * time.Second}
}

// Backoff returns the delay before the given 1-indexed retry, with jitter.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	d := c.BaseDelay << (attempt - 1)
	if d > c.MaxDelay {
		d = c.MaxDelay
	}
	// up to 25% jitter so concurrent retries spread out
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// RetryDo runs fn with bounded retries, honoring ctx between attempts.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(cfg.Backoff(attempt)):
		}
	}
	return zero, lastErr
}
