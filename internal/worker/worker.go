package worker

import (
	"context"
	"errors"
	"math"
	"mime"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wizdom13/ytdlnis/internal/engine/ytdlp"
	"github.com/wizdom13/ytdlnis/internal/job"
	"github.com/wizdom13/ytdlnis/internal/storage"
	"github.com/wizdom13/ytdlnis/internal/store"
)

// Engine executes claimed jobs: it runs the fetch tool in a scratch
// directory, relays throttled progress, and hands the artifact to storage.
type Engine struct {
	store         *store.Store
	storage       storage.Provider
	binary        string
	defaultFormat string
	timeout       time.Duration

	// scratchRoot overrides os.TempDir in tests.
	scratchRoot string
}

func NewEngine(s *store.Store, provider storage.Provider, binary, defaultFormat string, timeout time.Duration) *Engine {
	return &Engine{
		store:         s,
		storage:       provider,
		binary:        binary,
		defaultFormat: defaultFormat,
		timeout:       timeout,
	}
}

// Execute runs a job already claimed by the caller through to a terminal
// state. It always records finished or failed before returning.
func (e *Engine) Execute(ctx context.Context, rec *job.Record) {
	logger := log.With().Str("job_id", rec.ID).Logger()

	scratch, err := os.MkdirTemp(e.scratchRoot, "fetch-"+rec.ID+"-")
	if err != nil {
		e.fail(ctx, rec.ID, job.Error{Kind: job.ErrToolFailure, Message: "create scratch dir: " + err.Error()})
		return
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			logger.Warn().Err(rmErr).Str("dir", scratch).Msg("scratch dir not removed")
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	// A cancel may have landed between submission and claim.
	var cancelled atomic.Bool
	if requested, err := e.store.CancelRequested(ctx, rec.ID); err == nil && requested {
		cancelled.Store(true)
		cancel()
	} else {
		signal, stop := e.store.SubscribeCancel(runCtx, rec.ID)
		defer stop()
		go func() {
			if _, ok := <-signal; ok {
				cancelled.Store(true)
				cancel()
			}
		}()
	}

	format := rec.Request.Format
	if format == "" && !rec.Request.PreferAudio {
		format = e.defaultFormat
	}
	opts := ytdlp.Options{
		URL:          rec.Request.URL,
		Format:       format,
		PreferAudio:  rec.Request.PreferAudio,
		Headers:      rec.Request.Headers,
		Proxy:        rec.Request.Proxy,
		OutputDir:    scratch,
		FilenameHint: rec.Request.Filename,
	}
	if rec.Request.Cookie != "" {
		cookieFile, err := writeCookieFile(scratch, rec.Request.Cookie)
		if err != nil {
			e.fail(ctx, rec.ID, job.Error{Kind: job.ErrToolFailure, Message: "write cookie file: " + err.Error()})
			return
		}
		opts.CookieFile = cookieFile
	}

	logger.Info().Str("url", rec.Request.URL).Msg("starting download")
	runErr := ytdlp.Run(runCtx, e.binary, opts, e.progressRelay(ctx, rec.ID))

	if runErr != nil {
		e.fail(ctx, rec.ID, classify(runErr, cancelled.Load()))
		return
	}

	artifact, err := ytdlp.FindArtifact(scratch)
	if err != nil {
		e.fail(ctx, rec.ID, job.Error{Kind: job.ErrToolFailure, Message: err.Error()})
		return
	}

	preferred := rec.Request.Filename
	if preferred == "" {
		preferred = filepath.Base(artifact)
	}
	info, statErr := os.Stat(artifact)

	locator, err := e.storage.Put(ctx, rec.ID, artifact, preferred)
	if err != nil {
		e.fail(ctx, rec.ID, job.Error{Kind: job.ErrStorageFailure, Message: err.Error()})
		return
	}

	res := job.Result{
		Mime:     mimeForFile(preferred),
		FileName: preferred,
		Locator:  locator,
	}
	if statErr == nil {
		res.SizeBytes = info.Size()
	}

	if ok, err := e.store.Finish(ctx, rec.ID, res); err != nil || !ok {
		logger.Error().Err(err).Bool("applied", ok).Msg("finish transition rejected")
		return
	}

	public := res.Public()
	hundred := 100
	_ = e.store.PublishEvent(ctx, job.Event{
		JobID:    rec.ID,
		Kind:     job.EventCompleted,
		Progress: &hundred,
		Result:   &public,
	})
	logger.Info().Str("file", res.FileName).Int64("bytes", res.SizeBytes).Msg("job finished")
}

// progressRelay throttles tool progress into store writes and events:
// only whole-point changes are persisted, and failures are non-fatal.
func (e *Engine) progressRelay(ctx context.Context, id string) func(float64, string) {
	last := -1
	lastStage := ""
	return func(pct float64, stage string) {
		point := last
		if pct >= 0 {
			point = int(math.Floor(pct))
		}
		if point == last && stage == lastStage {
			return
		}
		last = point
		lastStage = stage

		effective := point
		if point >= 0 {
			if v, err := e.store.UpdateProgress(ctx, id, point); err == nil {
				effective = v
			}
		}
		ev := job.Event{JobID: id, Kind: job.EventProgress, Stage: stage}
		if effective >= 0 {
			ev.Progress = &effective
		}
		_ = e.store.PublishEvent(ctx, ev)
	}
}

func (e *Engine) fail(ctx context.Context, id string, jerr job.Error) {
	applied, err := e.store.Fail(ctx, id, jerr)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("recording failure")
		return
	}
	if !applied {
		return
	}
	_ = e.store.PublishEvent(ctx, job.Event{
		JobID: id,
		Kind:  job.EventFailed,
		Error: &jerr,
	})
	log.Warn().Str("job_id", id).Str("kind", string(jerr.Kind)).Str("reason", jerr.Message).Msg("job failed")
}

// writeCookieFile materializes the submission's cookie content under a
// subdirectory of scratch, out of sight of artifact discovery.
func writeCookieFile(scratch, content string) (string, error) {
	dir := filepath.Join(scratch, ".cookies")
	if err := os.Mkdir(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "cookies.txt")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

func mimeForFile(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func classify(runErr error, cancelled bool) job.Error {
	switch {
	case cancelled:
		return job.Error{Kind: job.ErrCancelled, Message: "cancelled by client"}
	case errors.Is(runErr, context.DeadlineExceeded):
		return job.Error{Kind: job.ErrTimeout, Message: "download exceeded the configured timeout"}
	default:
		var terr *ytdlp.ToolError
		if errors.As(runErr, &terr) {
			return job.Error{Kind: job.ErrToolFailure, Message: terr.Message}
		}
		return job.Error{Kind: job.ErrToolFailure, Message: runErr.Error()}
	}
}
