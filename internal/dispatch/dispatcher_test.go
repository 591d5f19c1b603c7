package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/wizdom13/ytdlnis/internal/job"
	"github.com/wizdom13/ytdlnis/internal/store"
)

func newTestDispatcher(t *testing.T, domains []string) (*Dispatcher, *store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st := store.New(rdb, time.Hour)
	return New(st, domains, 10*time.Second), st
}

func TestSubmitIdempotentWithinWindow(t *testing.T) {
	d, st := newTestDispatcher(t, nil)
	ctx := context.Background()

	fixed := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	req := job.Request{URL: "https://example.com/v", Format: "best"}

	id1, status, created, err := d.Submit(ctx, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if status != job.StatusQueued || !created {
		t.Fatalf("expected fresh queued job, got status=%s created=%v", status, created)
	}

	// Identical submission moments later, same bucket: same id, no new work.
	d.now = func() time.Time { return fixed.Add(3 * time.Second) }
	id2, _, created, err := d.Submit(ctx, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if created {
		t.Fatal("duplicate submission must not create new work")
	}
	if id1 != id2 {
		t.Fatalf("expected identical ids, got %s and %s", id1, id2)
	}

	// Only one queue entry exists.
	got, _ := st.Dequeue(ctx, 100*time.Millisecond)
	if got != id1 {
		t.Fatalf("expected %s on the queue, got %q", id1, got)
	}
	if extra, _ := st.Dequeue(ctx, 100*time.Millisecond); extra != "" {
		t.Fatalf("expected empty queue, got %q", extra)
	}
}

func TestSubmitNewBucketNewJob(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	ctx := context.Background()

	fixed := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }
	id1, _, _, _ := d.Submit(ctx, job.Request{URL: "https://example.com/v"})

	d.now = func() time.Time { return fixed.Add(30 * time.Second) }
	id2, _, _, err := d.Submit(ctx, job.Request{URL: "https://example.com/v"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id1 == id2 {
		t.Fatal("expected a fresh id outside the idempotency window")
	}
}

func TestSubmitSubSecondWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	st := store.New(rdb, time.Hour)

	// Bucketing works in whole seconds, so finer windows round up.
	d := New(st, nil, 500*time.Millisecond)
	if d.window < time.Second {
		t.Fatalf("window not clamped: %v", d.window)
	}

	if _, _, created, err := d.Submit(context.Background(), job.Request{URL: "https://example.com/v"}); err != nil || !created {
		t.Fatalf("submit: created=%v err=%v", created, err)
	}
}

func TestSubmitDeterministicAcrossInstances(t *testing.T) {
	req := job.Request{URL: "https://example.com/v", Format: "best", Filename: "v.mp4"}
	if deriveID(req, 42) != deriveID(req, 42) {
		t.Fatal("id derivation must be stable")
	}
	if deriveID(req, 42) == deriveID(req, 43) {
		t.Fatal("different buckets must yield different ids")
	}
}

func TestSubmitRejectsDisallowedDomain(t *testing.T) {
	d, st := newTestDispatcher(t, []string{"example.com"})
	ctx := context.Background()

	_, _, _, err := d.Submit(ctx, job.Request{URL: "https://evil.test/v"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// No record, no queue entry.
	if got, _ := st.Dequeue(ctx, 100*time.Millisecond); got != "" {
		t.Fatalf("expected empty queue, got %q", got)
	}

	// Allowed domain passes.
	if _, _, _, err := d.Submit(ctx, job.Request{URL: "https://EXAMPLE.com/v"}); err != nil {
		t.Fatalf("expected allowed domain to pass, got %v", err)
	}
}

func TestSubmitRejectsBadSchemes(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	ctx := context.Background()

	for _, u := range []string{"", "ftp://example.com/v", "javascript:alert(1)", "http://"} {
		var verr *ValidationError
		if _, _, _, err := d.Submit(ctx, job.Request{URL: u}); !errors.As(err, &verr) {
			t.Errorf("url %q: expected ValidationError, got %v", u, err)
		}
	}
}

func TestSubmitSanitizesFields(t *testing.T) {
	d, st := newTestDispatcher(t, nil)
	ctx := context.Background()

	id, _, _, err := d.Submit(ctx, job.Request{
		URL:      "https://example.com/v",
		Format:   "be\x00st\x1b",
		Filename: "../../etc/passwd",
		Headers:  map[string]string{"X-Test": "a\r\nb"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rec, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Request.Format != "best" {
		t.Errorf("control characters not stripped: %q", rec.Request.Format)
	}
	if strings.Contains(rec.Request.Filename, "/") || strings.HasPrefix(rec.Request.Filename, ".") {
		t.Errorf("filename hint can escape the storage dir: %q", rec.Request.Filename)
	}
	if rec.Request.Headers["X-Test"] != "ab" {
		t.Errorf("header value not sanitized: %q", rec.Request.Headers["X-Test"])
	}
}

func TestSubmitCookieContent(t *testing.T) {
	d, st := newTestDispatcher(t, nil)
	ctx := context.Background()

	// Cookie file content is line-oriented: tabs and newlines survive,
	// other control characters do not.
	cookie := "# Netscape HTTP Cookie File\nexample.com\tFALSE\t/\tTRUE\t0\tsession\tabc\x00\x1b\n"
	id, _, _, err := d.Submit(ctx, job.Request{URL: "https://example.com/v", Cookie: cookie})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	rec, err := st.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := "# Netscape HTTP Cookie File\nexample.com\tFALSE\t/\tTRUE\t0\tsession\tabc\n"
	if rec.Request.Cookie != want {
		t.Errorf("stored cookie: %q", rec.Request.Cookie)
	}

	var verr *ValidationError
	if _, _, _, err := d.Submit(ctx, job.Request{
		URL: "https://example.com/other", Cookie: strings.Repeat("a", maxCookieLen+1),
	}); !errors.As(err, &verr) {
		t.Fatalf("oversized cookie: expected ValidationError, got %v", err)
	}
}

func TestSanitizeTruncatesOnRuneBoundary(t *testing.T) {
	// An 11-byte input whose limit lands mid-rune backs off to the
	// previous boundary instead of persisting broken UTF-8.
	got := sanitize(strings.Repeat("a", 9)+"é", 10)
	if !utf8.ValidString(got) {
		t.Fatalf("invalid UTF-8 after truncation: %q", got)
	}
	if got != strings.Repeat("a", 9) {
		t.Errorf("got %q", got)
	}

	// A limit that lands on a boundary keeps the whole rune.
	if got := sanitize(strings.Repeat("a", 8)+"é", 10); got != strings.Repeat("a", 8)+"é" {
		t.Errorf("got %q", got)
	}
}

func TestSubmitTooManyHeaders(t *testing.T) {
	d, _ := newTestDispatcher(t, nil)
	headers := make(map[string]string)
	for i := 0; i < 20; i++ {
		headers[strings.Repeat("h", i+1)] = "v"
	}
	var verr *ValidationError
	if _, _, _, err := d.Submit(context.Background(), job.Request{
		URL: "https://example.com/v", Headers: headers,
	}); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}
