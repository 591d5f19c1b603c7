package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/wizdom13/ytdlnis/internal/job"
)

var ErrNotFound = errors.New("job not found")

const queueKey = "jobs:queue"

func jobKey(id string) string           { return "job:" + id }
func eventsChannel(id string) string    { return "job:" + id + ":events" }
func cancelChannel(id string) string    { return "job:" + id + ":cancel" }
func cancelFlagKey(id string) string    { return "job:" + id + ":cancelled" }
func rateKey(id string, w int64) string { return fmt.Sprintf("ratelimit:%s:%d", id, w) }

// createScript writes a fresh queued record unless a non-terminal record
// with the same id already exists. Returns 1 when the record was created.
var createScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status == 'queued' or status == 'running' then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('HSET', KEYS[1],
	'status', 'queued',
	'progress', '0',
	'request', ARGV[1],
	'created_at', ARGV[2],
	'updated_at', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// claimScript is the single compare-and-set in the system: at most one
// caller transitions a job out of queued.
var claimScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') == 'queued' then
	redis.call('HSET', KEYS[1], 'status', 'running', 'updated_at', ARGV[1])
	return 1
end
return 0
`)

// progressScript enforces the monotonic, clamped progress invariant while
// running. Returns the effective progress, or -1 when not running.
var progressScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'running' then
	return -1
end
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress')) or 0
local new = tonumber(ARGV[1]) or 0
if new > 100 then new = 100 end
if new < cur then new = cur end
redis.call('HSET', KEYS[1], 'progress', tostring(new), 'updated_at', ARGV[2])
return new
`)

var finishScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'running' then
	return 0
end
redis.call('HSET', KEYS[1],
	'status', 'finished',
	'progress', '100',
	'result', ARGV[1],
	'updated_at', ARGV[2])
redis.call('HDEL', KEYS[1], 'error')
return 1
`)

var failScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if status ~= 'queued' and status ~= 'running' then
	return 0
end
redis.call('HSET', KEYS[1], 'status', 'failed', 'error', ARGV[1], 'updated_at', ARGV[2])
redis.call('HDEL', KEYS[1], 'result')
return 1
`)

// Store is the shared state store: job records, the FIFO work queue,
// progress pub/sub, cancel signals, and rate-limit counters.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, jobTTL time.Duration) *Store {
	return &Store{rdb: rdb, ttl: jobTTL}
}

// Connect opens and pings a Redis client from a redis:// URL.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// CreateQueued persists the initial record. Returns false when a
// non-terminal record with the same id already exists (idempotent enqueue).
func (s *Store) CreateQueued(ctx context.Context, id string, req job.Request) (bool, error) {
	reqJSON, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	n, err := createScript.Run(ctx, s.rdb, []string{jobKey(id)},
		string(reqJSON), now, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("create job: %w", err)
	}
	return n == 1, nil
}

// Get loads a job record. Returns ErrNotFound for unknown or expired ids.
func (s *Store) Get(ctx context.Context, id string) (*job.Record, error) {
	fields, err := s.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return recordFromHash(id, fields)
}

// Claim attempts the queued -> running transition. Exactly one concurrent
// caller wins; everyone else observes false.
func (s *Store) Claim(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	n, err := claimScript.Run(ctx, s.rdb, []string{jobKey(id)}, now).Int()
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return n == 1, nil
}

// UpdateProgress records progress while running. The store clamps to
// [0,100] and never moves backwards; the effective value is returned.
func (s *Store) UpdateProgress(ctx context.Context, id string, progress int) (int, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	n, err := progressScript.Run(ctx, s.rdb, []string{jobKey(id)}, progress, now).Int()
	if err != nil {
		return 0, fmt.Errorf("update progress: %w", err)
	}
	if n < 0 {
		return 0, fmt.Errorf("job %s is not running", id)
	}
	return n, nil
}

// Finish records the result and transitions running -> finished.
func (s *Store) Finish(ctx context.Context, id string, res job.Result) (bool, error) {
	resJSON, err := json.Marshal(res)
	if err != nil {
		return false, fmt.Errorf("marshal result: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	n, err := finishScript.Run(ctx, s.rdb, []string{jobKey(id)}, string(resJSON), now).Int()
	if err != nil {
		return false, fmt.Errorf("finish job: %w", err)
	}
	return n == 1, nil
}

// Fail records the error and transitions queued/running -> failed.
func (s *Store) Fail(ctx context.Context, id string, jerr job.Error) (bool, error) {
	errJSON, err := json.Marshal(jerr)
	if err != nil {
		return false, fmt.Errorf("marshal error: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	n, err := failScript.Run(ctx, s.rdb, []string{jobKey(id)}, string(errJSON), now).Int()
	if err != nil {
		return false, fmt.Errorf("fail job: %w", err)
	}
	return n == 1, nil
}

// Enqueue pushes a job id onto the shared FIFO queue.
func (s *Store) Enqueue(ctx context.Context, id string) error {
	if err := s.rdb.LPush(ctx, queueKey, id).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next queued job id, FIFO by enqueue
// order. Returns "" without error when the timeout elapses.
func (s *Store) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	vals, err := s.rdb.BRPop(ctx, timeout, queueKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dequeue job: %w", err)
	}
	if len(vals) < 2 {
		return "", fmt.Errorf("unexpected BRPOP response: %v", vals)
	}
	return vals[1], nil
}

func recordFromHash(id string, fields map[string]string) (*job.Record, error) {
	rec := &job.Record{
		ID:     id,
		Status: job.Status(fields["status"]),
	}
	if v := fields["progress"]; v != "" {
		fmt.Sscanf(v, "%d", &rec.Progress)
	}
	if v := fields["request"]; v != "" {
		if err := json.Unmarshal([]byte(v), &rec.Request); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
	}
	if v := fields["result"]; v != "" {
		var res job.Result
		if err := json.Unmarshal([]byte(v), &res); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
		rec.Result = &res
	}
	if v := fields["error"]; v != "" {
		var jerr job.Error
		if err := json.Unmarshal([]byte(v), &jerr); err != nil {
			return nil, fmt.Errorf("decode error: %w", err)
		}
		rec.Error = &jerr
	}
	if v := fields["created_at"]; v != "" {
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v := fields["updated_at"]; v != "" {
		rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return rec, nil
}
