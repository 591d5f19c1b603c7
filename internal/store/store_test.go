package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/wizdom13/ytdlnis/internal/job"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, time.Hour)
}

func testRequest() job.Request {
	return job.Request{URL: "https://example.com/v", Format: "best"}
}

func TestCreateQueuedIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created, err := s.CreateQueued(ctx, "abc123", testRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("expected first create to succeed")
	}

	// Same id while queued: not recreated.
	created, err = s.CreateQueued(ctx, "abc123", testRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created {
		t.Fatal("expected duplicate create to be rejected while non-terminal")
	}

	rec, err := s.Get(ctx, "abc123")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != job.StatusQueued || rec.Progress != 0 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Request.URL != "https://example.com/v" {
		t.Fatalf("request snapshot not persisted: %+v", rec.Request)
	}
}

func TestCreateQueuedReplacesTerminal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.CreateQueued(ctx, "abc123", testRequest())
	s.Claim(ctx, "abc123")
	s.Fail(ctx, "abc123", job.Error{Kind: job.ErrToolFailure, Message: "boom"})

	created, err := s.CreateQueued(ctx, "abc123", testRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("expected terminal record to be replaced")
	}
	rec, _ := s.Get(ctx, "abc123")
	if rec.Status != job.StatusQueued || rec.Error != nil {
		t.Fatalf("expected fresh queued record, got %+v", rec)
	}
}

func TestGetUnknown(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaimExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.CreateQueued(ctx, "abc123", testRequest())

	const attempts = 10
	var wg sync.WaitGroup
	wins := make(chan bool, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.Claim(ctx, "abc123")
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			wins <- ok
		}()
	}
	wg.Wait()
	close(wins)

	won := 0
	for ok := range wins {
		if ok {
			won++
		}
	}
	if won != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", won)
	}

	rec, _ := s.Get(ctx, "abc123")
	if rec.Status != job.StatusRunning {
		t.Fatalf("expected running, got %s", rec.Status)
	}
}

func TestProgressMonotonicAndClamped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.CreateQueued(ctx, "abc123", testRequest())

	// Progress is rejected while queued.
	if _, err := s.UpdateProgress(ctx, "abc123", 10); err == nil {
		t.Fatal("expected progress update to fail while queued")
	}

	s.Claim(ctx, "abc123")

	if n, _ := s.UpdateProgress(ctx, "abc123", 40); n != 40 {
		t.Fatalf("expected 40, got %d", n)
	}
	// Backwards update is ignored.
	if n, _ := s.UpdateProgress(ctx, "abc123", 25); n != 40 {
		t.Fatalf("expected progress to stay at 40, got %d", n)
	}
	// Clamped above 100.
	if n, _ := s.UpdateProgress(ctx, "abc123", 150); n != 100 {
		t.Fatalf("expected clamp to 100, got %d", n)
	}
}

func TestFinishAndFailExclusive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.CreateQueued(ctx, "abc123", testRequest())
	s.Claim(ctx, "abc123")

	ok, err := s.Finish(ctx, "abc123", job.Result{
		Mime: "video/mp4", FileName: "v.mp4", SizeBytes: 12345, Locator: "file:///tmp/v.mp4",
	})
	if err != nil || !ok {
		t.Fatalf("finish: ok=%v err=%v", ok, err)
	}

	// Terminal: neither transition fires again.
	if ok, _ := s.Fail(ctx, "abc123", job.Error{Kind: job.ErrTimeout, Message: "late"}); ok {
		t.Fatal("fail must not override finished")
	}
	if ok, _ := s.Finish(ctx, "abc123", job.Result{}); ok {
		t.Fatal("finish must not fire twice")
	}
	if ok, _ := s.Claim(ctx, "abc123"); ok {
		t.Fatal("claim must not fire on terminal job")
	}

	rec, _ := s.Get(ctx, "abc123")
	if rec.Status != job.StatusFinished || rec.Progress != 100 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Result == nil || rec.Error != nil {
		t.Fatalf("expected exactly result set, got result=%v error=%v", rec.Result, rec.Error)
	}
	if rec.Result.Locator != "file:///tmp/v.mp4" {
		t.Fatalf("unexpected locator %q", rec.Result.Locator)
	}
}

func TestFailFromQueued(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.CreateQueued(ctx, "abc123", testRequest())

	ok, err := s.Fail(ctx, "abc123", job.Error{Kind: job.ErrCancelled, Message: "cancelled by request"})
	if err != nil || !ok {
		t.Fatalf("fail: ok=%v err=%v", ok, err)
	}
	rec, _ := s.Get(ctx, "abc123")
	if rec.Status != job.StatusFailed || rec.Error == nil || rec.Error.Kind != job.ErrCancelled {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.Result != nil {
		t.Fatal("failed record must not carry a result")
	}
}

func TestQueueFIFO(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.Enqueue(ctx, id); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	for _, want := range []string{"a", "b", "c"} {
		got, err := s.Dequeue(ctx, time.Second)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

func TestCancelSignal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	requested, err := s.CancelRequested(ctx, "abc123")
	if err != nil {
		t.Fatalf("cancel requested: %v", err)
	}
	if requested {
		t.Fatal("no cancel expected yet")
	}

	ch, stop := s.SubscribeCancel(ctx, "abc123")
	defer stop()
	// Subscription setup is asynchronous on the client side.
	time.Sleep(50 * time.Millisecond)

	if err := s.RequestCancel(ctx, "abc123"); err != nil {
		t.Fatalf("request cancel: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("cancel signal not delivered")
	}

	requested, _ = s.CancelRequested(ctx, "abc123")
	if !requested {
		t.Fatal("cancel flag should persist for late checks")
	}
}
