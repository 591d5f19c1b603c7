package store

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	l := NewRateLimiter(s, 10, time.Minute)

	base := time.Date(2026, 8, 25, 12, 0, 5, 0, time.UTC)
	l.now = func() time.Time { return base }

	for i := 0; i < 10; i++ {
		ok, _, err := l.Allow(ctx, "key-1")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	ok, retryAfter, err := l.Allow(ctx, "key-1")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Fatal("11th request in the window should be rejected")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("unexpected retry hint: %v", retryAfter)
	}

	// A different identity has its own counter.
	if ok, _, _ := l.Allow(ctx, "key-2"); !ok {
		t.Fatal("other identity should be unaffected")
	}

	// Next window: counter starts over.
	l.now = func() time.Time { return base.Add(time.Minute) }
	if ok, _, _ := l.Allow(ctx, "key-1"); !ok {
		t.Fatal("new window should admit requests again")
	}
}
