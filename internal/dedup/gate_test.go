package dedup

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestGateAdmitsOncePerWindow(t *testing.T) {
	g := New(nil, time.Minute)

	if !g.Admit("fp-1") {
		t.Fatal("first delivery should be admitted")
	}
	if g.Admit("fp-1") {
		t.Fatal("redelivery within the window should be rejected")
	}
	if !g.Admit("fp-2") {
		t.Fatal("distinct fingerprint should be admitted")
	}
}

func TestGateAdmitsAfterExpiry(t *testing.T) {
	g := New(nil, 10*time.Millisecond)

	if !g.Admit("fp-1") {
		t.Fatal("first delivery should be admitted")
	}
	time.Sleep(20 * time.Millisecond)
	if !g.Admit("fp-1") {
		t.Fatal("delivery after the window should be admitted again")
	}
}

type failingCache struct{}

func (failingCache) Seen(string, time.Duration) (bool, error) {
	return false, errors.New("cache down")
}

func TestGateFailsOpen(t *testing.T) {
	g := New(failingCache{}, time.Minute)

	if !g.Admit("fp-1") {
		t.Fatal("cache failure must admit the event, not drop it")
	}
	if !g.Admit("fp-1") {
		t.Fatal("cache failure must keep admitting")
	}
}

func TestMemoryCacheBounded(t *testing.T) {
	const limit = 128
	c := NewMemoryCache(limit)

	for i := 0; i < limit+100; i++ {
		if _, err := c.Seen(fmt.Sprintf("fp-%d", i), time.Hour); err != nil {
			t.Fatalf("Seen: %v", err)
		}
	}

	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	if n > limit {
		t.Fatalf("cache grew past cap: %d entries", n)
	}
}

func TestMemoryCacheDefaultCap(t *testing.T) {
	c := NewMemoryCache(0)
	if c.maxKeys != DefaultMaxFingerprints {
		t.Fatalf("maxKeys = %d, want default", c.maxKeys)
	}
}
