package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wizdom13/ytdlnis/internal/job"
)

// PublishEvent broadcasts a progress event on the job's channel.
// Fire-and-forget: slow or absent subscribers never see backpressure, and
// callers treat failures as non-fatal.
func (s *Store) PublishEvent(ctx context.Context, ev job.Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.rdb.Publish(ctx, eventsChannel(ev.JobID), payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// SubscribeEvents delivers the job's progress events until the context is
// cancelled or the returned stop function is called. Events published
// before subscription are not replayed.
func (s *Store) SubscribeEvents(ctx context.Context, jobID string) (<-chan job.Event, func()) {
	pubsub := s.rdb.Subscribe(ctx, eventsChannel(jobID))
	out := make(chan job.Event, 16)

	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev job.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				log.Warn().Err(err).Str("job_id", jobID).Msg("dropping undecodable event")
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = pubsub.Close() }
}

// RequestCancel signals a running or queued job to stop. The flag key
// covers the race where the signal lands before the worker subscribes.
func (s *Store) RequestCancel(ctx context.Context, id string) error {
	if err := s.rdb.Set(ctx, cancelFlagKey(id), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("set cancel flag: %w", err)
	}
	if err := s.rdb.Publish(ctx, cancelChannel(id), "cancel").Err(); err != nil {
		return fmt.Errorf("publish cancel: %w", err)
	}
	return nil
}

// CancelRequested reports whether a cancel signal was recorded for the job.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, cancelFlagKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("check cancel flag: %w", err)
	}
	return n > 0, nil
}

// SubscribeCancel yields once when a cancel signal arrives for the job.
func (s *Store) SubscribeCancel(ctx context.Context, id string) (<-chan struct{}, func()) {
	pubsub := s.rdb.Subscribe(ctx, cancelChannel(id))
	out := make(chan struct{}, 1)

	go func() {
		defer close(out)
		select {
		case <-ctx.Done():
		case _, ok := <-pubsub.Channel():
			if ok {
				out <- struct{}{}
			}
		}
	}()

	return out, func() { _ = pubsub.Close() }
}
