package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLimiterWaitSpacesRequests(t *testing.T) {
	l := New()
	l.Register("bsky-main", Config{RPS: 10, Burst: 1})
	ctx := context.Background()

	if err := l.Wait(ctx, "bsky-main"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 10 RPS with burst 1 leaves the bucket empty; the next token is ~100ms away.
	start := time.Now()
	if err := l.Wait(ctx, "bsky-main"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("expected to wait for a token, waited %v", elapsed)
	}
}

func TestLimiterUnregisteredSourceIsUnlimited(t *testing.T) {
	l := New()
	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := l.Wait(context.Background(), "rss"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("unregistered source should not be limited")
	}
}

func TestLimiterNonPositiveRateIsUnlimited(t *testing.T) {
	l := New()
	l.Register("free", Config{})
	for i := 0; i < 50; i++ {
		if err := l.Wait(context.Background(), "free"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestLimiterWaitHonorsContext(t *testing.T) {
	l := New()
	l.Register("slow", Config{RPS: 0.01, Burst: 1})
	if err := l.Wait(context.Background(), "slow"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Wait(ctx, "slow")
	if err == nil {
		t.Fatal("expected wait to fail once the context expires")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		// rate.Limiter reports an early error when the wait would exceed the deadline.
		t.Logf("wait error: %v", err)
	}
}
