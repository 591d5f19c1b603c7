package worker

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wizdom13/ytdlnis/internal/config"
	"github.com/wizdom13/ytdlnis/internal/job"
	"github.com/wizdom13/ytdlnis/internal/storage"
	"github.com/wizdom13/ytdlnis/internal/store"
)

const dequeueTimeout = 2 * time.Second

// Run starts the worker tier: a pool of goroutines that block on the
// shared queue, claim jobs, and execute them. Returns on SIGINT/SIGTERM
// or ctx cancellation, once all in-flight jobs have reached a terminal
// state.
func Run(ctx context.Context, cfg *config.Config) error {
	if level, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := store.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect state store: %w", err)
	}
	defer rdb.Close()
	st := store.New(rdb, cfg.JobTTL())

	provider, err := storage.FromConfig(cfg.Storage)
	if err != nil {
		return err
	}

	if _, err := exec.LookPath(cfg.Engine.Binary); err != nil {
		log.Warn().Str("binary", cfg.Engine.Binary).Msg("fetch tool not found on PATH, jobs will fail")
	}

	engine := NewEngine(st, provider, cfg.Engine.Binary, cfg.Engine.DefaultFormat, cfg.WorkerTimeout())

	workerID := uuid.NewString()[:8]
	concurrency := cfg.Worker.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	log.Info().Str("worker_id", workerID).Int("concurrency", concurrency).
		Str("storage", provider.Name()).Msg("worker tier started")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			loop(ctx, st, engine, fmt.Sprintf("%s-%d", workerID, slot))
		}(i)
	}
	wg.Wait()

	log.Info().Str("worker_id", workerID).Msg("worker tier stopped")
	return nil
}

func loop(ctx context.Context, st *store.Store, engine *Engine, slot string) {
	logger := log.With().Str("slot", slot).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		id, err := st.Dequeue(ctx, dequeueTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("dequeue failed")
			time.Sleep(time.Second)
			continue
		}
		if id == "" {
			continue
		}

		rec, err := st.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				logger.Error().Err(err).Str("job_id", id).Msg("load dequeued job")
			}
			// Expired or failed-at-submit records are dropped silently.
			continue
		}

		claimed, err := st.Claim(ctx, id)
		if err != nil {
			logger.Error().Err(err).Str("job_id", id).Msg("claim failed")
			continue
		}
		if !claimed {
			logger.Debug().Str("job_id", id).Str("status", string(rec.Status)).Msg("job no longer claimable")
			continue
		}

		zero := 0
		_ = st.PublishEvent(ctx, job.Event{JobID: id, Kind: job.EventProgress, Progress: &zero, Stage: "starting"})
		engine.Execute(ctx, rec)
	}
}
