package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/wizdom13/ytdlnis/internal/job"
	"github.com/wizdom13/ytdlnis/internal/store"
)

// ErrStoreUnavailable wraps store failures during submission.
var ErrStoreUnavailable = errors.New("state store unavailable")

// ValidationError rejects a submission before any record is created.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

const (
	maxURLLen      = 2048
	maxFormatLen   = 256
	maxFilenameLen = 256
	maxProxyLen    = 512
	maxHeaderLen   = 256
	maxHeaders     = 16
	maxCookieLen   = 16384
)

// Dispatcher validates submissions, derives deterministic job ids, and
// performs the idempotent write-then-enqueue handoff to the worker tier.
type Dispatcher struct {
	store          *store.Store
	allowedDomains map[string]bool
	window         time.Duration
	now            func() time.Time
}

func New(s *store.Store, allowedDomains []string, idempotencyWindow time.Duration) *Dispatcher {
	domains := make(map[string]bool, len(allowedDomains))
	for _, d := range allowedDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			domains[d] = true
		}
	}
	if idempotencyWindow <= 0 {
		idempotencyWindow = 10 * time.Second
	} else if idempotencyWindow < time.Second {
		// Bucketing is in whole seconds; finer windows would divide by zero.
		idempotencyWindow = time.Second
	}
	return &Dispatcher{
		store:          s,
		allowedDomains: domains,
		window:         idempotencyWindow,
		now:            time.Now,
	}
}

// Submit validates and sanitizes the request, writes the initial queued
// record, and enqueues the job. Rapid duplicate submissions within the
// idempotency window collapse to the same id without re-enqueueing;
// created reports whether this call enqueued new work.
func (d *Dispatcher) Submit(ctx context.Context, req job.Request) (id string, status job.Status, created bool, err error) {
	normalized, err := d.normalize(req)
	if err != nil {
		return "", "", false, err
	}

	bucket := d.now().Unix() / int64(d.window.Seconds())
	id = deriveID(normalized, bucket)

	created, err = d.store.CreateQueued(ctx, id, normalized)
	if err != nil {
		return "", "", false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !created {
		// A non-terminal record already holds this id: idempotent hit.
		log.Debug().Str("job_id", id).Msg("duplicate submission collapsed")
		existing, err := d.store.Get(ctx, id)
		if err != nil {
			return "", "", false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return id, existing.Status, false, nil
	}

	if err := d.store.Enqueue(ctx, id); err != nil {
		// The queued record would otherwise sit unclaimed forever.
		_, _ = d.store.Fail(ctx, id, job.Error{
			Kind:    job.ErrStoreUnavailable,
			Message: "enqueue failed",
		})
		return "", "", false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	log.Info().Str("job_id", id).Str("url", normalized.URL).Msg("job queued")
	return id, job.StatusQueued, true, nil
}

func (d *Dispatcher) normalize(req job.Request) (job.Request, error) {
	rawURL := sanitize(req.URL, maxURLLen)
	if rawURL == "" {
		return job.Request{}, &ValidationError{Reason: "url is required"}
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return job.Request{}, &ValidationError{Reason: "url is not parseable"}
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return job.Request{}, &ValidationError{Reason: "only http(s) URLs are allowed"}
	}
	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return job.Request{}, &ValidationError{Reason: "url has no host"}
	}
	if len(d.allowedDomains) > 0 && !d.allowedDomains[host] {
		return job.Request{}, &ValidationError{Reason: "url domain is not allowed"}
	}
	parsed.Scheme = scheme
	parsed.Host = strings.ToLower(parsed.Host)

	if len(req.Cookie) > maxCookieLen {
		return job.Request{}, &ValidationError{Reason: "cookie is too large"}
	}

	out := job.Request{
		URL:         parsed.String(),
		Format:      sanitize(req.Format, maxFormatLen),
		PreferAudio: req.PreferAudio,
		Filename:    sanitizeFilename(req.Filename),
		Proxy:       sanitize(req.Proxy, maxProxyLen),
		Cookie:      sanitizeCookie(req.Cookie),
	}

	if len(req.Headers) > 0 {
		if len(req.Headers) > maxHeaders {
			return job.Request{}, &ValidationError{Reason: "too many custom headers"}
		}
		out.Headers = make(map[string]string, len(req.Headers))
		for k, v := range req.Headers {
			k = sanitize(k, maxHeaderLen)
			v = sanitize(v, maxHeaderLen)
			if k == "" {
				return job.Request{}, &ValidationError{Reason: "empty header name"}
			}
			out.Headers[k] = v
		}
	}
	return out, nil
}

// deriveID hashes the identifying submission fields plus the epoch bucket,
// so identical rapid submissions map to one job id.
func deriveID(req job.Request, bucket int64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%s\n%s\n%d", req.URL, req.Format, req.Filename, bucket)
	return hex.EncodeToString(h.Sum(nil)[:12])
}

// sanitize trims, strips control characters, and bounds the length.
func sanitize(s string, max int) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	return truncate(strings.TrimSpace(s), max)
}

// truncate bounds the byte length without splitting a multi-byte rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// sanitizeCookie keeps tabs and newlines intact since cookie file content
// is line-oriented, stripping only the remaining control characters.
func sanitizeCookie(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// sanitizeFilename additionally forbids path separators so a filename hint
// can never escape the job's storage directory.
func sanitizeFilename(s string) string {
	s = sanitize(s, maxFilenameLen)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.TrimLeft(s, ".")
	return s
}
