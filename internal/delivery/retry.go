package delivery

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/nextlevelbuilder/warelay/internal/bridge"
)

// RetryPolicy controls how failed transport attempts are retried with
// exponential backoff. One policy instance serves all sends; per-call-site
// retry logic is deliberately absent.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      float64 // fraction of the delay, 0..1
}

// DefaultRetryPolicy returns 3 attempts, 1s base, 2x multiplier, 30s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
		Jitter:      0.25,
	}
}

// Retryable classifies a transport error. Auth failures are permanent;
// rate limits and anything unclassified (timeouts, 5xx, connection resets)
// are worth another attempt.
func (p RetryPolicy) Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, bridge.ErrAuth)
}

// NextDelay returns the backoff before the given 1-indexed retry.
func (p RetryPolicy) NextDelay(attempt int) time.Duration {
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		d += rand.Float64() * p.Jitter * d
	}
	return time.Duration(d)
}
