package autoreply

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alphabot-ai/scribe/internal/model"
	"github.com/alphabot-ai/scribe/internal/store"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	Workers      int
	MaxAttempts  int
	RetryBackoff time.Duration
	DeadLetter   DeadLetter
}

func (o *Options) setDefaults(log *zap.Logger) {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryBackoff <= 0 {
		o.RetryBackoff = 60 * time.Second
	}
	if o.DeadLetter == nil {
		o.DeadLetter = LogDeadLetter{Log: log}
	}
}

// Scheduler submits reply jobs and runs the workers that execute them. The
// ledger records every job so deletions can find and cancel outstanding
// ones; it may be nil, in which case only Cancel by handle works.
type Scheduler struct {
	queue  Queue
	exec   *Executor
	ledger store.ReplyJobStore
	opts   Options
	log    *zap.Logger
}

func NewScheduler(queue Queue, exec *Executor, ledger store.ReplyJobStore, opts Options, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	opts.setDefaults(log)
	return &Scheduler{
		queue:  queue,
		exec:   exec,
		ledger: ledger,
		opts:   opts,
		log:    log,
	}
}

// Schedule arranges for a reply to commentID after delaySeconds. The comment
// must already be stored. On failure it logs and returns false; the caller's
// write is not affected.
func (s *Scheduler) Schedule(ctx context.Context, commentID, postID int64, delaySeconds int) (Handle, bool) {
	if delaySeconds < 0 {
		delaySeconds = 0
	}
	now := time.Now()
	delay := time.Duration(delaySeconds) * time.Second
	job := Job{
		Handle:    Handle(uuid.NewString()),
		CommentID: commentID,
		PostID:    postID,
		Delay:     delaySeconds,
		CreatedAt: now,
	}

	if s.ledger != nil {
		err := s.ledger.CreateReplyJob(ctx, model.ReplyJob{
			Handle:    string(job.Handle),
			CommentID: commentID,
			PostID:    postID,
			State:     model.JobScheduled,
			RunAt:     now.Add(delay),
			CreatedAt: now,
		})
		if err != nil {
			s.log.Warn("failed to record reply job", zap.Error(err), zap.Int64("comment_id", commentID))
		}
	}

	h, err := s.queue.Submit(ctx, job, delay)
	if err != nil {
		scheduleCount.WithLabelValues("error").Inc()
		s.log.Error("failed to schedule auto-reply", zap.Error(err), zap.Int64("comment_id", commentID), zap.Int64("post_id", postID))
		s.record(ctx, job.Handle, model.JobAbandoned, "enqueue_failed", nil, 0)
		return "", false
	}
	scheduleCount.WithLabelValues("ok").Inc()
	s.log.Info("auto-reply scheduled", zap.String("handle", string(h)), zap.Int64("comment_id", commentID), zap.Int64("post_id", postID), zap.Int("delay_seconds", delaySeconds))
	return h, true
}

// Cancel removes a job that has not started. It returns false if the job is
// running, finished, or unknown.
func (s *Scheduler) Cancel(ctx context.Context, h Handle) bool {
	ok, err := s.queue.Cancel(ctx, h)
	if err != nil {
		s.log.Warn("failed to cancel reply job", zap.String("handle", string(h)), zap.Error(err))
	}
	if !ok {
		return false
	}
	cancelCount.Inc()
	s.record(ctx, h, model.JobCancelled, "", nil, 0)
	return true
}

func (s *Scheduler) CancelForComment(ctx context.Context, commentID int64) int {
	return s.cancelOpen(ctx, 0, commentID)
}

func (s *Scheduler) CancelForPost(ctx context.Context, postID int64) int {
	return s.cancelOpen(ctx, postID, 0)
}

func (s *Scheduler) cancelOpen(ctx context.Context, postID, commentID int64) int {
	if s.ledger == nil {
		return 0
	}
	jobs, err := s.ledger.ListOpenReplyJobs(ctx, postID, commentID)
	if err != nil {
		s.log.Warn("failed to list reply jobs", zap.Error(err), zap.Int64("post_id", postID), zap.Int64("comment_id", commentID))
		return 0
	}
	n := 0
	for _, j := range jobs {
		if s.Cancel(ctx, Handle(j.Handle)) {
			n++
		}
	}
	return n
}

// Run executes due jobs on the configured number of workers until ctx is
// done, then waits for in-flight jobs to return.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < s.opts.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s.work(ctx, worker)
		}(i)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) work(ctx context.Context, worker int) {
	for {
		job, err := s.queue.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Warn("failed to claim reply job", zap.Int("worker", worker), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		s.process(ctx, job)
	}
}

// process runs one claimed job with bounded retry.
func (s *Scheduler) process(ctx context.Context, job Job) {
	log := s.log.With(zap.String("handle", string(job.Handle)), zap.Int64("comment_id", job.CommentID), zap.Int64("post_id", job.PostID))
	start := time.Now()
	s.record(ctx, job.Handle, model.JobRunning, "", nil, 0)

	var (
		res      Result
		attempts int
	)
	op := func() error {
		attempts++
		var err error
		res, err = s.exec.Execute(ctx, job)
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.RetryBackoff), uint64(s.opts.MaxAttempts-1)),
		ctx)
	notify := func(err error, wait time.Duration) {
		retryCount.Inc()
		log.Warn("auto-reply attempt failed, retrying", zap.Int("attempt", attempts), zap.Duration("wait", wait), zap.Error(err))
	}

	err := backoff.RetryNotify(op, policy, notify)
	jobDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		outcome := "failed"
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			outcome = "interrupted"
		}
		outcomeCount.WithLabelValues("abandoned").Inc()
		log.Error("auto-reply job abandoned", zap.Int("attempts", attempts), zap.String("reason", outcome), zap.Error(err))
		s.record(ctx, job.Handle, model.JobAbandoned, outcome, nil, attempts)
		if derr := s.opts.DeadLetter.Abandon(context.WithoutCancel(ctx), job, attempts, err); derr != nil {
			log.Warn("failed to dead-letter reply job", zap.Error(derr))
		}
		return
	}

	outcomeCount.WithLabelValues(string(res.Outcome)).Inc()
	var replyID *int64
	if res.Outcome == OutcomePosted {
		replyID = &res.ReplyID
		log.Info("auto-reply posted", zap.Int64("reply_id", res.ReplyID), zap.Int("attempts", attempts))
	} else {
		log.Info("auto-reply skipped", zap.String("outcome", string(res.Outcome)), zap.Int("attempts", attempts))
	}
	s.record(ctx, job.Handle, model.JobDone, string(res.Outcome), replyID, attempts)
}

// record updates the ledger. Failures are logged and otherwise ignored.
func (s *Scheduler) record(ctx context.Context, h Handle, state model.JobState, outcome string, replyID *int64, attempts int) {
	if s.ledger == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.ledger.UpdateReplyJob(ctx, string(h), state, outcome, replyID, attempts); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Warn("failed to update reply job", zap.String("handle", string(h)), zap.String("state", string(state)), zap.Error(err))
	}
}
