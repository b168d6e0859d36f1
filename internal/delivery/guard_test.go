package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/warelay/internal/bridge"
	"github.com/nextlevelbuilder/warelay/internal/store"
	"github.com/nextlevelbuilder/warelay/internal/store/memory"
)

type fakeTransport struct {
	mu     sync.Mutex
	calls  int
	bodies []string
	errs   []error // consumed per call; nil entry means success
}

func (f *fakeTransport) Deliver(_ context.Context, _, _, _ string, body string) (*bridge.DeliverResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.bodies = append(f.bodies, body)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &bridge.DeliverResult{MessageID: "wamid-1"}, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
}

func testAgent() *store.Agent {
	return &store.Agent{ID: store.NewID(), InstanceID: "inst-1", BridgeToken: "tok"}
}

func TestSendRecordsOutcome(t *testing.T) {
	stores := memory.NewStores()
	tr := &fakeTransport{}
	fixed := time.Date(2026, 3, 1, 10, 30, 5, 0, time.UTC)
	g := New(tr, stores.Sends, WithRetryPolicy(fastRetry()), withNow(func() time.Time { return fixed }))

	convID, msgID := store.NewID(), store.NewID()
	status, err := g.Send(context.Background(), testAgent(), convID, msgID, "6591234567", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if status != store.SendSent {
		t.Fatalf("status = %s, want SENT", status)
	}

	rec, err := stores.Sends.Get(context.Background(), g.IdempotencyKey(convID, "hello"))
	if err != nil {
		t.Fatalf("send record missing: %v", err)
	}
	if rec.Status != store.SendSent || rec.MessageID != msgID {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestSendIdempotentWithinBucket(t *testing.T) {
	stores := memory.NewStores()
	tr := &fakeTransport{}
	fixed := time.Date(2026, 3, 1, 10, 30, 5, 0, time.UTC)
	g := New(tr, stores.Sends, WithRetryPolicy(fastRetry()), withNow(func() time.Time { return fixed }))

	convID := store.NewID()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		status, err := g.Send(ctx, testAgent(), convID, store.NewID(), "6591234567", "hello")
		if err != nil || status != store.SendSent {
			t.Fatalf("Send %d: status=%s err=%v", i, status, err)
		}
	}

	if tr.callCount() != 1 {
		t.Fatalf("expected exactly 1 transport call, got %d", tr.callCount())
	}
}

func TestSendNewBucketSendsAgain(t *testing.T) {
	stores := memory.NewStores()
	tr := &fakeTransport{}
	now := time.Date(2026, 3, 1, 10, 30, 5, 0, time.UTC)
	g := New(tr, stores.Sends, WithRetryPolicy(fastRetry()), withNow(func() time.Time { return now }))

	convID := store.NewID()
	ctx := context.Background()
	if _, err := g.Send(ctx, testAgent(), convID, store.NewID(), "6591234567", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	now = now.Add(2 * time.Minute) // deliberate resend, fresh key
	if _, err := g.Send(ctx, testAgent(), convID, store.NewID(), "6591234567", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if tr.callCount() != 2 {
		t.Fatalf("expected 2 transport calls across buckets, got %d", tr.callCount())
	}
}

func TestSendAuthFailureNotRetried(t *testing.T) {
	stores := memory.NewStores()
	tr := &fakeTransport{errs: []error{bridge.ErrAuth}}
	g := New(tr, stores.Sends, WithRetryPolicy(fastRetry()))

	convID := store.NewID()
	status, err := g.Send(context.Background(), testAgent(), convID, store.NewID(), "6591234567", "hello")
	if err != nil {
		t.Fatalf("Send must absorb transport errors, got %v", err)
	}
	if status != store.SendFailed {
		t.Fatalf("status = %s, want FAILED", status)
	}
	if tr.callCount() != 1 {
		t.Fatalf("auth failure retried: %d calls", tr.callCount())
	}

	rec, err := stores.Sends.Get(context.Background(), g.IdempotencyKey(convID, "hello"))
	if err != nil {
		t.Fatalf("FAILED outcome must still be recorded: %v", err)
	}
	if rec.Status != store.SendFailed {
		t.Fatalf("record status = %s, want FAILED", rec.Status)
	}
}

func TestSendTransientFailureRetried(t *testing.T) {
	stores := memory.NewStores()
	tr := &fakeTransport{errs: []error{errors.New("connection reset"), bridge.ErrRateLimited, nil}}
	g := New(tr, stores.Sends, WithRetryPolicy(fastRetry()))

	status, err := g.Send(context.Background(), testAgent(), store.NewID(), store.NewID(), "6591234567", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if status != store.SendSent {
		t.Fatalf("status = %s, want SENT after retries", status)
	}
	if tr.callCount() != 3 {
		t.Fatalf("expected 3 attempts, got %d", tr.callCount())
	}
}

func TestSendExhaustedRetriesRecordsFailed(t *testing.T) {
	stores := memory.NewStores()
	tr := &fakeTransport{errs: []error{errors.New("boom"), errors.New("boom"), errors.New("boom")}}
	g := New(tr, stores.Sends, WithRetryPolicy(fastRetry()))

	status, err := g.Send(context.Background(), testAgent(), store.NewID(), store.NewID(), "6591234567", "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if status != store.SendFailed {
		t.Fatalf("status = %s, want FAILED", status)
	}
	if tr.callCount() != 3 {
		t.Fatalf("expected MaxAttempts=3 calls, got %d", tr.callCount())
	}
}

func TestSendFailureThenSuccessUpgradesRecord(t *testing.T) {
	stores := memory.NewStores()
	tr := &fakeTransport{errs: []error{bridge.ErrAuth}}
	fixed := time.Date(2026, 3, 1, 10, 30, 5, 0, time.UTC)
	g := New(tr, stores.Sends, WithRetryPolicy(fastRetry()), withNow(func() time.Time { return fixed }))

	convID := store.NewID()
	ctx := context.Background()
	key := g.IdempotencyKey(convID, "hello")

	// First attempt fails and records FAILED.
	status, err := g.Send(ctx, testAgent(), convID, store.NewID(), "6591234567", "hello")
	if err != nil || status != store.SendFailed {
		t.Fatalf("first send: status=%s err=%v", status, err)
	}

	// Second attempt under the same key succeeds; the record must upgrade.
	msgID := store.NewID()
	status, err = g.Send(ctx, testAgent(), convID, msgID, "6591234567", "hello")
	if err != nil || status != store.SendSent {
		t.Fatalf("second send: status=%s err=%v", status, err)
	}
	rec, err := stores.Sends.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != store.SendSent || rec.MessageID != msgID {
		t.Fatalf("record not upgraded after success: %+v", rec)
	}

	// A third attempt short-circuits on the SENT record: exactly one success
	// ever reaches the transport for one key.
	if _, err := g.Send(ctx, testAgent(), convID, store.NewID(), "6591234567", "hello"); err != nil {
		t.Fatalf("third send: %v", err)
	}
	if tr.callCount() != 2 {
		t.Fatalf("transport calls = %d, want 2 (one failure, one success)", tr.callCount())
	}
}

func TestSentRecordNotDowngraded(t *testing.T) {
	stores := memory.NewStores()
	ctx := context.Background()

	rec := &store.SendRecord{
		IdempotencyKey: "k1",
		ConversationID: store.NewID(),
		MessageID:      store.NewID(),
		Status:         store.SendSent,
	}
	if err := stores.Sends.Record(ctx, rec); err != nil {
		t.Fatalf("Record: %v", err)
	}
	later := *rec
	later.Status = store.SendFailed
	if err := stores.Sends.Record(ctx, &later); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, _ := stores.Sends.Get(ctx, "k1")
	if got.Status != store.SendSent {
		t.Fatalf("SENT record downgraded to %s", got.Status)
	}
}

func TestSendTruncatesLongBody(t *testing.T) {
	stores := memory.NewStores()
	tr := &fakeTransport{}
	g := New(tr, stores.Sends, WithRetryPolicy(fastRetry()), WithMaxBodyChars(100))

	long := strings.Repeat("a", 500)
	if _, err := g.Send(context.Background(), testAgent(), store.NewID(), store.NewID(), "6591234567", long); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if got := tr.bodies[0]; len(got) > 100 || !strings.HasSuffix(got, "...") {
		t.Fatalf("body not truncated: len=%d", len(got))
	}
}

func TestSendTruncatesOnRuneBoundary(t *testing.T) {
	stores := memory.NewStores()
	tr := &fakeTransport{}
	g := New(tr, stores.Sends, WithRetryPolicy(fastRetry()), WithMaxBodyChars(50))

	long := strings.Repeat("新加坡物业", 30)
	if _, err := g.Send(context.Background(), testAgent(), store.NewID(), store.NewID(), "6591234567", long); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got := tr.bodies[0]
	if !utf8.ValidString(got) {
		t.Fatal("truncated body is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(got); n != 50 {
		t.Fatalf("rune count = %d, want 50", n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("missing truncation marker: %q", got[len(got)-12:])
	}
}

func TestSuppressRecordsWithoutTransport(t *testing.T) {
	stores := memory.NewStores()
	tr := &fakeTransport{}
	g := New(tr, stores.Sends, WithRetryPolicy(fastRetry()))

	convID, msgID := store.NewID(), store.NewID()
	if err := g.Suppress(context.Background(), convID, msgID, "held back", "authority changed before transmit"); err != nil {
		t.Fatalf("Suppress: %v", err)
	}
	if tr.callCount() != 0 {
		t.Fatal("Suppress must never touch the transport")
	}

	rec, err := stores.Sends.Get(context.Background(), g.IdempotencyKey(convID, "held back"))
	if err != nil {
		t.Fatalf("suppressed record missing: %v", err)
	}
	if rec.Status != store.SendSuppressed {
		t.Fatalf("record status = %s, want SUPPRESSED", rec.Status)
	}
}

func TestRetryPolicyClassification(t *testing.T) {
	p := DefaultRetryPolicy()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"auth", bridge.ErrAuth, false},
		{"wrapped auth", errors.Join(errors.New("ctx"), bridge.ErrAuth), false},
		{"rate limited", bridge.ErrRateLimited, true},
		{"unknown", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Retryable(tt.err); got != tt.want {
				t.Fatalf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestNextDelayBounded(t *testing.T) {
	p := DefaultRetryPolicy()
	for attempt := 1; attempt <= 10; attempt++ {
		d := p.NextDelay(attempt)
		if d < p.BaseDelay || d > p.MaxDelay+time.Duration(p.Jitter*float64(p.MaxDelay)) {
			t.Fatalf("attempt %d: delay %s out of bounds", attempt, d)
		}
	}
}
