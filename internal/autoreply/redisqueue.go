package autoreply

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps jobs in redis so they survive restarts and can be shared
// by several instances. Due times live in a sorted set and payloads in a
// hash. Whoever removes the handle from the sorted set owns the job, which
// settles the race between a worker's claim and a Cancel.
type RedisQueue struct {
	Client       *redis.Client
	Prefix       string
	PollInterval time.Duration
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(rdb *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "scribe:autoreply"
	}
	return &RedisQueue{
		Client:       rdb,
		Prefix:       prefix,
		PollInterval: 500 * time.Millisecond,
	}
}

func (q *RedisQueue) dueKey() string  { return q.Prefix + ":due" }
func (q *RedisQueue) jobsKey() string { return q.Prefix + ":jobs" }

func (q *RedisQueue) Submit(ctx context.Context, job Job, delay time.Duration) (Handle, error) {
	if job.Handle == "" {
		job.Handle = Handle(uuid.NewString())
	}
	if delay < 0 {
		delay = 0
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	runAt := time.Now().Add(delay).UnixMilli()

	_, err = q.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobsKey(), string(job.Handle), payload)
		pipe.ZAdd(ctx, q.dueKey(), redis.Z{Score: float64(runAt), Member: string(job.Handle)})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enqueue reply job: %w", err)
	}
	return job.Handle, nil
}

func (q *RedisQueue) Cancel(ctx context.Context, h Handle) (bool, error) {
	removed, err := q.Client.ZRem(ctx, q.dueKey(), string(h)).Result()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		return false, nil
	}
	if err := q.Client.HDel(ctx, q.jobsKey(), string(h)).Err(); err != nil {
		return true, err
	}
	return true, nil
}

func (q *RedisQueue) Next(ctx context.Context) (Job, error) {
	ticker := time.NewTicker(q.PollInterval)
	defer ticker.Stop()
	for {
		job, ok, err := q.claim(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			return Job{}, err
		}
		if ok {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *RedisQueue) claim(ctx context.Context) (Job, bool, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	handles, err := q.Client.ZRangeByScore(ctx, q.dueKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: 10,
	}).Result()
	if err != nil {
		return Job{}, false, err
	}
	for _, h := range handles {
		removed, err := q.Client.ZRem(ctx, q.dueKey(), h).Result()
		if err != nil {
			return Job{}, false, err
		}
		if removed == 0 {
			// another worker or a Cancel got there first
			continue
		}
		var get *redis.StringCmd
		_, err = q.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			get = pipe.HGet(ctx, q.jobsKey(), h)
			pipe.HDel(ctx, q.jobsKey(), h)
			return nil
		})
		if err != nil {
			return Job{}, false, fmt.Errorf("load reply job %s: %w", h, err)
		}
		payload, err := get.Bytes()
		if err != nil {
			return Job{}, false, fmt.Errorf("load reply job %s: %w", h, err)
		}

		var job Job
		if err := json.Unmarshal(payload, &job); err != nil {
			return Job{}, false, fmt.Errorf("decode reply job %s: %w", h, err)
		}
		return job, true, nil
	}
	return Job{}, false, nil
}
