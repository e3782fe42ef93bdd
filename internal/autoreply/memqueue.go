package autoreply

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue keeps jobs in process. Jobs do not survive a restart.
type MemoryQueue struct {
	mu      sync.Mutex
	pending map[Handle]*memEntry
	due     []Handle
	wake    chan struct{}
}

type memEntry struct {
	job   Job
	timer *time.Timer
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		pending: make(map[Handle]*memEntry),
		wake:    make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Submit(ctx context.Context, job Job, delay time.Duration) (Handle, error) {
	if job.Handle == "" {
		job.Handle = Handle(uuid.NewString())
	}
	if delay < 0 {
		delay = 0
	}
	h := job.Handle

	q.mu.Lock()
	defer q.mu.Unlock()
	e := &memEntry{job: job}
	q.pending[h] = e
	e.timer = time.AfterFunc(delay, func() { q.markDue(h) })
	return h, nil
}

func (q *MemoryQueue) markDue(h Handle) {
	q.mu.Lock()
	if _, ok := q.pending[h]; !ok {
		q.mu.Unlock()
		return
	}
	q.due = append(q.due, h)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) Cancel(ctx context.Context, h Handle) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.pending[h]
	if !ok {
		return false, nil
	}
	e.timer.Stop()
	delete(q.pending, h)
	return true, nil
}

func (q *MemoryQueue) Next(ctx context.Context) (Job, error) {
	for {
		if job, ok := q.claim(); ok {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-q.wake:
		}
	}
}

// claim pops the first due job that has not been cancelled.
func (q *MemoryQueue) claim() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.due) > 0 {
		h := q.due[0]
		q.due = q.due[1:]
		e, ok := q.pending[h]
		if !ok {
			continue
		}
		delete(q.pending, h)
		if len(q.due) > 0 {
			// let another waiting worker pick up the rest
			select {
			case q.wake <- struct{}{}:
			default:
			}
		}
		return e.job, true
	}
	return Job{}, false
}

// Len reports how many jobs are waiting or due but unclaimed.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
