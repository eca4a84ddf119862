package ratelimit

import (
	"errors"
	"testing"
	"time"
)

func TestUnlimitedWhenRateZero(t *testing.T) {
	l := NewLimiter(Config{})
	for i := 0; i < 1000; i++ {
		if err := l.Allow("anyone"); err != nil {
			t.Fatalf("unexpected limit at call %d: %v", i, err)
		}
	}
}

func TestBurstThenLimited(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		if err := l.Allow("client-a"); err != nil {
			t.Fatalf("call %d should pass: %v", i, err)
		}
	}
	if err := l.Allow("client-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestCallersIsolated(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})

	if err := l.Allow("client-a"); err != nil {
		t.Fatalf("client-a first call: %v", err)
	}
	if err := l.Allow("client-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("client-a should be limited, got %v", err)
	}
	// An exhausted bucket for one caller leaves others untouched.
	if err := l.Allow("client-b"); err != nil {
		t.Fatalf("client-b should have its own bucket: %v", err)
	}
}

func TestRefillOverTime(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 600, BurstSize: 1}) // 10 tokens/sec

	if err := l.Allow("client-a"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if err := l.Allow("client-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited immediately, got %v", err)
	}

	time.Sleep(150 * time.Millisecond) // enough for at least one token
	if err := l.Allow("client-a"); err != nil {
		t.Fatalf("expected refill after wait: %v", err)
	}
}

func TestBurstDefaultsToRate(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 5})
	for i := 0; i < 5; i++ {
		if err := l.Allow("client-a"); err != nil {
			t.Fatalf("call %d should pass within burst: %v", i, err)
		}
	}
	if err := l.Allow("client-a"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after burst, got %v", err)
	}
}

func TestPruneDropsIdleBuckets(t *testing.T) {
	l := NewLimiter(Config{RequestsPerMinute: 60, BurstSize: 1})
	_ = l.Allow("client-a")
	_ = l.Allow("client-b")

	if removed := l.Prune(time.Hour); removed != 0 {
		t.Fatalf("fresh buckets pruned: %d", removed)
	}
	if removed := l.Prune(0); removed != 2 {
		t.Fatalf("expected 2 pruned, got %d", removed)
	}
	// Pruned caller starts over with a full bucket.
	if err := l.Allow("client-a"); err != nil {
		t.Fatalf("client-a after prune: %v", err)
	}
}
