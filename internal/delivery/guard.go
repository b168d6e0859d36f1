// Package delivery deduplicates outbound sends and records the durable
// outcome of every transport attempt. Transport errors never escape this
// boundary; they become a FAILED send record and a status value.
package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/warelay/internal/bridge"
	"github.com/nextlevelbuilder/warelay/internal/store"
)

// DefaultMaxBodyChars is the channel's message length limit.
const DefaultMaxBodyChars = 4096

// timeBucket is the idempotency key's coarse time resolution: two identical
// sends within the same bucket collapse into one transport call.
const timeBucket = time.Minute

// Guard is the single path to the outbound transport.
type Guard struct {
	transport bridge.Transport
	sends     store.SendRecordStore
	retry     RetryPolicy
	limiter   *rate.Limiter
	maxChars  int
	now       func() time.Time
	tracer    trace.Tracer
}

// Option configures the guard.
type Option func(*Guard)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(g *Guard) { g.retry = p }
}

// WithRateLimit sets client-side pacing of transport calls per second.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(g *Guard) {
		if perSecond > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		}
	}
}

// WithMaxBodyChars overrides the truncation limit.
func WithMaxBodyChars(n int) Option {
	return func(g *Guard) {
		if n > 0 {
			g.maxChars = n
		}
	}
}

func withNow(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// New creates a delivery guard.
func New(transport bridge.Transport, sends store.SendRecordStore, opts ...Option) *Guard {
	g := &Guard{
		transport: transport,
		sends:     sends,
		retry:     DefaultRetryPolicy(),
		limiter:   rate.NewLimiter(rate.Limit(5), 5),
		maxChars:  DefaultMaxBodyChars,
		now:       time.Now,
		tracer:    otel.Tracer("warelay/delivery"),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// IdempotencyKey derives the dedup key for one send: conversation, content,
// and a coarse time bucket. Retries within the bucket collapse; a deliberate
// resend later gets a fresh key.
func (g *Guard) IdempotencyKey(convID uuid.UUID, body string) string {
	bucket := g.now().UTC().Truncate(timeBucket).Unix()
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d", convID, body, bucket))
	return hex.EncodeToString(sum[:])
}

// Send attempts delivery of a persisted message. The returned status is the
// durable outcome; the error is non-nil only when the outcome itself could
// not be recorded (persistence failure).
func (g *Guard) Send(ctx context.Context, agent *store.Agent, convID, msgID uuid.UUID, contactID, body string) (store.SendStatus, error) {
	ctx, span := g.tracer.Start(ctx, "delivery.send",
		trace.WithAttributes(attribute.String("conversation_id", convID.String())))
	defer span.End()

	// The channel limit counts characters; truncation must not split a rune.
	if runes := []rune(body); len(runes) > g.maxChars {
		slog.Warn("truncating outbound message", "conversation_id", convID, "length", len(runes))
		body = string(runes[:g.maxChars-3]) + "..."
	}

	key := g.IdempotencyKey(convID, body)

	// A previous SENT under this key means the message already went out;
	// short-circuit without touching the transport.
	if rec, err := g.sends.Get(ctx, key); err == nil && rec.Status == store.SendSent {
		slog.Info("send short-circuited by idempotency key", "conversation_id", convID, "key", key)
		return store.SendSent, nil
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return store.SendFailed, fmt.Errorf("check send record: %w", err)
	}

	result, sendErr := g.attempt(ctx, agent, contactID, body)

	rec := &store.SendRecord{
		IdempotencyKey: key,
		ConversationID: convID,
		MessageID:      msgID,
	}
	if sendErr != nil {
		rec.Status = store.SendFailed
		rec.TransportResponse = sendErr.Error()
	} else {
		rec.Status = store.SendSent
		rec.TransportResponse = result.MessageID
	}

	if err := g.sends.Record(ctx, rec); err != nil {
		return store.SendFailed, fmt.Errorf("record send outcome: %w", err)
	}
	span.SetAttributes(attribute.String("status", string(rec.Status)))

	if sendErr != nil {
		span.RecordError(sendErr)
		slog.Warn("transport delivery failed", "conversation_id", convID, "error", sendErr)
		return store.SendFailed, nil
	}
	return store.SendSent, nil
}

// Suppress durably records that an already-persisted message was withheld
// from the transport (authority changed between persist and send).
func (g *Guard) Suppress(ctx context.Context, convID, msgID uuid.UUID, body, reason string) error {
	rec := &store.SendRecord{
		IdempotencyKey:    g.IdempotencyKey(convID, body),
		ConversationID:    convID,
		MessageID:         msgID,
		Status:            store.SendSuppressed,
		TransportResponse: reason,
	}
	if err := g.sends.Record(ctx, rec); err != nil {
		return fmt.Errorf("record suppressed send: %w", err)
	}
	return nil
}

// attempt runs the transport call under the rate limiter with bounded
// backoff on retryable failures.
func (g *Guard) attempt(ctx context.Context, agent *store.Agent, contactID, body string) (*bridge.DeliverResult, error) {
	var lastErr error
	for n := 1; n <= g.retry.MaxAttempts; n++ {
		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
		}

		result, err := g.transport.Deliver(ctx, agent.InstanceID, agent.BridgeToken, contactID, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !g.retry.Retryable(err) || n == g.retry.MaxAttempts {
			break
		}
		slog.Debug("retrying delivery", "attempt", n, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.retry.NextDelay(n)):
		}
	}
	return nil, lastErr
}
