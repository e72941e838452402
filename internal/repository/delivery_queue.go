package repository

import (
	"context"
	"time"

	"school-notify/internal/domain/entity"
)

// DeliveryQueue is the priority-ordered work queue of channel deliveries.
//
// Lower priority values are served first; jobs with equal priority are served
// in enqueue order. Only a job in flight may be completed, failed or
// terminated; any other state yields entity.ErrJobNotInFlight.
type DeliveryQueue interface {
	// Enqueue stores job as pending and returns its id. Ids increase monotonically.
	Enqueue(ctx context.Context, job *entity.DeliveryJob, priority int) (int64, error)

	// DequeueNext atomically claims the next visible pending job and moves it
	// in flight. When channels are given only jobs for those channels are
	// considered. It returns nil, nil when nothing is claimable.
	DequeueNext(ctx context.Context, channels ...entity.Channel) (*entity.DeliveryJob, error)

	Complete(ctx context.Context, id int64) error

	// Fail records a transient failure. The job returns to pending, visible
	// after backoff, until its attempts reach MaxAttempts; then it becomes
	// failed. The updated job is returned.
	Fail(ctx context.Context, id int64, reason string, backoff time.Duration) (*entity.DeliveryJob, error)

	// Terminate marks the job failed without consuming retry budget.
	Terminate(ctx context.Context, id int64, reason string) (*entity.DeliveryJob, error)

	// RequeueStale recovers jobs claimed before the cutoff. An expired lease
	// costs one attempt, so a job that keeps crashing its worker ends failed.
	// The count covers both requeued and failed jobs.
	RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error)

	Counts(ctx context.Context) (map[entity.JobState]int64, error)
}
