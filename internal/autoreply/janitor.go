package autoreply

import (
	"context"
	"time"

	"github.com/alphabot-ai/scribe/internal/store"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Janitor periodically removes finished ledger rows.
type Janitor struct {
	ledger    store.ReplyJobStore
	retention time.Duration
	cron      *cron.Cron
	log       *zap.Logger
}

func NewJanitor(ledger store.ReplyJobStore, retention time.Duration, log *zap.Logger) *Janitor {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Janitor{ledger: ledger, retention: retention, cron: cron.New(), log: log}
}

// Start schedules an hourly purge.
func (j *Janitor) Start() error {
	_, err := j.cron.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		j.Purge(ctx)
	})
	if err != nil {
		return err
	}
	j.cron.Start()
	return nil
}

// Stop waits for a running purge to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

func (j *Janitor) Purge(ctx context.Context) int64 {
	n, err := j.ledger.PurgeReplyJobs(ctx, time.Now().Add(-j.retention))
	if err != nil {
		j.log.Warn("failed to purge reply jobs", zap.Error(err))
		return 0
	}
	if n > 0 {
		j.log.Info("purged reply jobs", zap.Int64("count", n))
	}
	return n
}
