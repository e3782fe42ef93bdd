package autoreply

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alphabot-ai/scribe/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recordingDLQ struct {
	mu       sync.Mutex
	jobs     []Job
	attempts []int
}

func (d *recordingDLQ) Abandon(ctx context.Context, job Job, attempts int, cause error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job)
	d.attempts = append(d.attempts, attempts)
	return nil
}

func (d *recordingDLQ) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.jobs)
}

func runScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitForState(t *testing.T, f *fixture, h Handle, state model.JobState) model.ReplyJob {
	t.Helper()
	var job model.ReplyJob
	require.Eventually(t, func() bool {
		var err error
		job, err = f.st.GetReplyJob(context.Background(), string(h))
		return err == nil && job.State == state
	}, 3*time.Second, 10*time.Millisecond)
	return job
}

func TestSchedulerEndToEnd(t *testing.T) {
	f := newFixture(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ex := NewExecutor(f.st, &fixedWriter{text: "Thanks for reading!"}, "", nil)
	s := NewScheduler(NewMemoryQueue(), ex, f.st, Options{Workers: 2}, nil)

	func() {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.Run(ctx)
		}()
		defer func() {
			cancel()
			<-done
		}()

		h, ok := s.Schedule(context.Background(), f.comment.ID, f.post.ID, 0)
		require.True(t, ok)

		job := waitForState(t, f, h, model.JobDone)
		assert.Equal(t, string(OutcomePosted), job.Outcome)
		assert.Equal(t, 1, job.Attempts)
		require.NotNil(t, job.ReplyID)

		reply, err := f.st.GetComment(context.Background(), *job.ReplyID)
		require.NoError(t, err)
		assert.Equal(t, "Thanks for reading!", reply.Content)
		assert.True(t, reply.IsAutoReply)
		assert.Equal(t, f.authorID, reply.AuthorID)

		assert.False(t, s.Cancel(context.Background(), h))
	}()
}

func TestSchedulerBurstPostsOneReply(t *testing.T) {
	f := newFixture(t)
	second := f.addComment(t, "Me too")
	ex := NewExecutor(f.st, newRendezvousWriter("Thanks!", 2), "", nil)
	s := NewScheduler(NewMemoryQueue(), ex, f.st, Options{Workers: 2}, nil)
	runScheduler(t, s)

	ctx := context.Background()
	h1, ok := s.Schedule(ctx, f.comment.ID, f.post.ID, 0)
	require.True(t, ok)
	h2, ok := s.Schedule(ctx, second.ID, f.post.ID, 0)
	require.True(t, ok)

	j1 := waitForState(t, f, h1, model.JobDone)
	j2 := waitForState(t, f, h2, model.JobDone)
	assert.ElementsMatch(t,
		[]string{string(OutcomePosted), string(OutcomeAlreadyReplied)},
		[]string{j1.Outcome, j2.Outcome})

	replies := f.autoReplies(t)
	require.Len(t, replies, 1)
	assert.Equal(t, f.authorID, replies[0].AuthorID)
}

func TestSchedulerRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t)
	content := &flakyContent{Content: f.st, failures: 2}
	dlq := &recordingDLQ{}
	s := NewScheduler(NewMemoryQueue(), NewExecutor(content, &fixedWriter{text: "ok"}, "", nil), f.st,
		Options{Workers: 1, RetryBackoff: 10 * time.Millisecond, DeadLetter: dlq}, nil)
	runScheduler(t, s)

	h, ok := s.Schedule(context.Background(), f.comment.ID, f.post.ID, 0)
	require.True(t, ok)
	job := waitForState(t, f, h, model.JobDone)
	assert.Equal(t, string(OutcomePosted), job.Outcome)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, 0, dlq.count())
}

func TestSchedulerAbandonsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t)
	content := &flakyContent{Content: f.st, failures: 100}
	dlq := &recordingDLQ{}
	s := NewScheduler(NewMemoryQueue(), NewExecutor(content, &fixedWriter{text: "ok"}, "", nil), f.st,
		Options{Workers: 1, MaxAttempts: 3, RetryBackoff: 5 * time.Millisecond, DeadLetter: dlq}, nil)
	runScheduler(t, s)

	h, ok := s.Schedule(context.Background(), f.comment.ID, f.post.ID, 0)
	require.True(t, ok)
	job := waitForState(t, f, h, model.JobAbandoned)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, "failed", job.Outcome)
	assert.Equal(t, 3, content.calls)

	require.Eventually(t, func() bool { return dlq.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, h, dlq.jobs[0].Handle)
	assert.Equal(t, 3, dlq.attempts[0])
	assert.Len(t, f.comments(t), 1)
}

func TestSchedulerCancelForPost(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := NewMemoryQueue()
	s := NewScheduler(q, NewExecutor(f.st, &fixedWriter{text: "x"}, "", nil), f.st, Options{}, nil)

	h1, ok := s.Schedule(ctx, f.comment.ID, f.post.ID, 3600)
	require.True(t, ok)
	second := model.Comment{PostID: f.post.ID, AuthorID: f.readerID, Content: "another"}
	var err error
	second.ID, err = f.st.CreateComment(ctx, &second)
	require.NoError(t, err)
	h2, ok := s.Schedule(ctx, second.ID, f.post.ID, 3600)
	require.True(t, ok)

	assert.Equal(t, 1, s.CancelForComment(ctx, second.ID))
	assert.Equal(t, 1, s.CancelForPost(ctx, f.post.ID))
	assert.Equal(t, 0, s.CancelForPost(ctx, f.post.ID))
	assert.Equal(t, 0, q.Len())

	for _, h := range []Handle{h1, h2} {
		job, err := f.st.GetReplyJob(ctx, string(h))
		require.NoError(t, err)
		assert.Equal(t, model.JobCancelled, job.State)
	}
}

type failingQueue struct{ MemoryQueue }

func (failingQueue) Submit(ctx context.Context, job Job, delay time.Duration) (Handle, error) {
	return "", ErrQueueClosed
}

func TestScheduleEnqueueFailure(t *testing.T) {
	f := newFixture(t)
	s := NewScheduler(&failingQueue{}, NewExecutor(f.st, &fixedWriter{}, "", nil), f.st, Options{}, nil)
	h, ok := s.Schedule(context.Background(), f.comment.ID, f.post.ID, 10)
	assert.False(t, ok)
	assert.Empty(t, h)

	jobs, err := f.st.ListOpenReplyJobs(context.Background(), f.post.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJanitorPurge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := NewScheduler(NewMemoryQueue(), NewExecutor(f.st, &fixedWriter{}, "", nil), f.st, Options{}, nil)

	h, ok := s.Schedule(ctx, f.comment.ID, f.post.ID, 3600)
	require.True(t, ok)
	require.True(t, s.Cancel(ctx, h))
	_, ok = s.Schedule(ctx, f.comment.ID, f.post.ID, 3600)
	require.True(t, ok)

	assert.Equal(t, int64(0), NewJanitor(f.st, time.Hour, nil).Purge(ctx))
	j := NewJanitor(f.st, time.Nanosecond, nil)
	time.Sleep(time.Millisecond)
	assert.Equal(t, int64(1), j.Purge(ctx))

	_, err := f.st.GetReplyJob(ctx, string(h))
	assert.Error(t, err)
	open, err := f.st.ListOpenReplyJobs(ctx, f.post.ID, 0)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

func TestJanitorStartStop(t *testing.T) {
	f := newFixture(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	j := NewJanitor(f.st, 0, nil)
	require.NoError(t, j.Start())
	j.Stop()
}
