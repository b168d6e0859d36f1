package locks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestAcquireSerializesSameKey(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	release, err := k.Acquire(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var counter, max, cur int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r, err := k.Acquire(ctx, "conv-1")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			mu.Lock()
			cur++
			if cur > max {
				max = cur
			}
			counter++
			cur--
			mu.Unlock()
			r()
		}()
	}

	release()
	wg.Wait()

	if counter != 10 {
		t.Fatalf("expected 10 holders to run, got %d", counter)
	}
	if max != 1 {
		t.Fatalf("expected at most one concurrent holder, saw %d", max)
	}
	if k.Len() != 0 {
		t.Fatalf("expected registry pruned after release, have %d keys", k.Len())
	}
}

func TestAcquireDifferentKeysDoNotBlock(t *testing.T) {
	k := NewKeyed()
	ctx := context.Background()

	r1, err := k.Acquire(ctx, "conv-1")
	if err != nil {
		t.Fatalf("Acquire conv-1: %v", err)
	}
	defer r1()

	ctx2, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	r2, err := k.Acquire(ctx2, "conv-2")
	if err != nil {
		t.Fatalf("Acquire conv-2 should not block on conv-1: %v", err)
	}
	r2()
}

func TestAcquireTimeout(t *testing.T) {
	k := NewKeyed()

	release, err := k.Acquire(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := k.Acquire(ctx, "conv-1"); !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	k := NewKeyed()

	release, err := k.Acquire(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	release()
	release() // second call must be a no-op

	r2, err := k.Acquire(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("re-Acquire after double release: %v", err)
	}
	r2()
}
