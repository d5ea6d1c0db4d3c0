package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestAllow_Unlimited(t *testing.T) {
	l := New(Config{})
	for i := 0; i < 1000; i++ {
		if err := l.Allow("anyone"); err != nil {
			t.Fatalf("unlimited limiter refused request %d: %v", i, err)
		}
	}
}

func TestAllow_BurstExhaustion(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("caller"); err != nil {
			t.Fatalf("request %d within burst refused: %v", i, err)
		}
	}
	if err := l.Allow("caller"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after burst, got %v", err)
	}
}

func TestAllow_IndependentCallers(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("alpha"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("alpha"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected alpha exhausted, got %v", err)
	}
	if err := l.Allow("beta"); err != nil {
		t.Errorf("beta should have its own bucket: %v", err)
	}
}

func TestAllow_Refills(t *testing.T) {
	l := New(Config{RequestsPerMinute: 6000, BurstSize: 1})

	if err := l.Allow("caller"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("caller"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected exhaustion, got %v", err)
	}

	// 100 tokens/second; 50ms is ample for one token.
	time.Sleep(50 * time.Millisecond)
	if err := l.Allow("caller"); err != nil {
		t.Errorf("bucket did not refill: %v", err)
	}
}

func TestAllow_BurstDefaultsToRate(t *testing.T) {
	l := New(Config{RequestsPerMinute: 2})

	if err := l.Allow("caller"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("caller"); err != nil {
		t.Fatal(err)
	}
	if err := l.Allow("caller"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected exhaustion after default burst, got %v", err)
	}
}

func TestSweep_EvictsIdleBuckets(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("stale"); err != nil {
		t.Fatal(err)
	}

	l.mu.Lock()
	l.buckets["stale"].seen = time.Now().Add(-2 * idleEviction)
	l.lastSweep = time.Now().Add(-2 * idleEviction)
	l.mu.Unlock()

	if err := l.Allow("fresh"); err != nil {
		t.Fatal(err)
	}

	l.mu.Lock()
	_, present := l.buckets["stale"]
	l.mu.Unlock()
	if present {
		t.Error("idle bucket survived the sweep")
	}
}
