// Package queue provides an in-process implementation of the delivery queue,
// used when the API runs its own dispatch worker without Postgres and in tests.
package queue

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	"school-notify/internal/domain/entity"
	"school-notify/internal/repository"
)

var _ repository.DeliveryQueue = (*MemoryQueue)(nil)

// MemoryQueue keeps pending and in-flight jobs in a map guarded by one mutex.
// Jobs leave the map once they reach a terminal state; only their counts are kept.
type MemoryQueue struct {
	mu        sync.Mutex
	nextID    int64
	jobs      map[int64]*entity.DeliveryJob
	delivered int64
	failed    int64
	now       func() time.Time
}

// Option configures a MemoryQueue.
type Option func(*MemoryQueue)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(q *MemoryQueue) { q.now = now }
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue(opts ...Option) *MemoryQueue {
	q := &MemoryQueue{
		jobs: make(map[int64]*entity.DeliveryJob),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job *entity.DeliveryJob, priority int) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := job.Validate(); err != nil {
		return 0, fmt.Errorf("Enqueue: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.nextID++
	now := q.now()
	stored := clone(job)
	stored.ID = q.nextID
	stored.Priority = priority
	stored.State = entity.JobPending
	stored.Attempts = 0
	stored.LastError = ""
	stored.EnqueuedAt = now
	stored.VisibleAt = now
	stored.ClaimedAt = nil
	stored.CompletedAt = nil
	q.jobs[stored.ID] = stored
	return stored.ID, nil
}

func (q *MemoryQueue) DequeueNext(ctx context.Context, channels ...entity.Channel) (*entity.DeliveryJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var next *entity.DeliveryJob
	for _, job := range q.jobs {
		if job.State != entity.JobPending || job.VisibleAt.After(now) {
			continue
		}
		if len(channels) > 0 && !containsChannel(channels, job.Channel) {
			continue
		}
		if next == nil || job.Priority < next.Priority ||
			(job.Priority == next.Priority && job.ID < next.ID) {
			next = job
		}
	}
	if next == nil {
		return nil, nil
	}

	next.State = entity.JobInFlight
	claimed := now
	next.ClaimedAt = &claimed
	return clone(next), nil
}

func (q *MemoryQueue) Complete(ctx context.Context, id int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, err := q.inFlight(id); err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	delete(q.jobs, id)
	q.delivered++
	return nil
}

func (q *MemoryQueue) Fail(ctx context.Context, id int64, reason string, backoff time.Duration) (*entity.DeliveryJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.inFlight(id)
	if err != nil {
		return nil, fmt.Errorf("Fail: %w", err)
	}

	now := q.now()
	job.Attempts++
	job.LastError = reason
	job.ClaimedAt = nil
	if job.Attempts >= job.MaxAttempts {
		q.finishFailed(job, now)
		return clone(job), nil
	}
	job.State = entity.JobPending
	job.VisibleAt = now.Add(backoff)
	return clone(job), nil
}

func (q *MemoryQueue) Terminate(ctx context.Context, id int64, reason string) (*entity.DeliveryJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, err := q.inFlight(id)
	if err != nil {
		return nil, fmt.Errorf("Terminate: %w", err)
	}
	job.LastError = reason
	job.ClaimedAt = nil
	q.finishFailed(job, q.now())
	return clone(job), nil
}

func (q *MemoryQueue) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var n int64
	for _, job := range q.jobs {
		if job.State != entity.JobInFlight || job.ClaimedAt == nil || !job.ClaimedAt.Before(claimedBefore) {
			continue
		}
		n++
		job.Attempts++
		job.LastError = "lease expired"
		job.ClaimedAt = nil
		if job.Attempts >= job.MaxAttempts {
			q.finishFailed(job, now)
			continue
		}
		job.State = entity.JobPending
		job.VisibleAt = now
	}
	return n, nil
}

func (q *MemoryQueue) Counts(ctx context.Context) (map[entity.JobState]int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	counts := map[entity.JobState]int64{
		entity.JobPending:   0,
		entity.JobInFlight:  0,
		entity.JobDelivered: q.delivered,
		entity.JobFailed:    q.failed,
	}
	for _, job := range q.jobs {
		counts[job.State]++
	}
	return counts, nil
}

// inFlight must be called with mu held.
func (q *MemoryQueue) inFlight(id int64) (*entity.DeliveryJob, error) {
	job, ok := q.jobs[id]
	if !ok || job.State != entity.JobInFlight {
		return nil, entity.ErrJobNotInFlight
	}
	return job, nil
}

// finishFailed must be called with mu held.
func (q *MemoryQueue) finishFailed(job *entity.DeliveryJob, now time.Time) {
	job.State = entity.JobFailed
	job.CompletedAt = &now
	delete(q.jobs, job.ID)
	q.failed++
}

func containsChannel(channels []entity.Channel, ch entity.Channel) bool {
	for _, c := range channels {
		if c == ch {
			return true
		}
	}
	return false
}

func clone(job *entity.DeliveryJob) *entity.DeliveryJob {
	c := *job
	c.TemplateData = maps.Clone(job.TemplateData)
	if job.ClaimedAt != nil {
		t := *job.ClaimedAt
		c.ClaimedAt = &t
	}
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
