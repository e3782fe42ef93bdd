package autoreply

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DeadLetter receives jobs that exhausted their retries.
type DeadLetter interface {
	Abandon(ctx context.Context, job Job, attempts int, cause error) error
}

// LogDeadLetter only logs abandoned jobs.
type LogDeadLetter struct {
	Log *zap.Logger
}

func (d LogDeadLetter) Abandon(ctx context.Context, job Job, attempts int, cause error) error {
	d.Log.Error("auto-reply job abandoned",
		zap.String("handle", string(job.Handle)),
		zap.Int64("comment_id", job.CommentID),
		zap.Int64("post_id", job.PostID),
		zap.Int("attempts", attempts),
		zap.Error(cause))
	return nil
}

// RedisDeadLetter appends abandoned jobs to a redis stream for inspection.
type RedisDeadLetter struct {
	Client *redis.Client
	Stream string
	MaxLen int64
}

func NewRedisDeadLetter(rdb *redis.Client) *RedisDeadLetter {
	return &RedisDeadLetter{Client: rdb, Stream: "scribe:autoreply:dlq", MaxLen: 10_000}
}

func (d *RedisDeadLetter) Abandon(ctx context.Context, job Job, attempts int, cause error) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	return d.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: d.Stream,
		MaxLen: d.MaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"job":      string(payload),
			"attempts": attempts,
			"error":    errText,
		},
	}).Err()
}
