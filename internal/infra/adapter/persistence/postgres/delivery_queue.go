package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	sq "github.com/Masterminds/squirrel"

	"school-notify/internal/domain/entity"
	"school-notify/internal/repository"
)

const jobColumns = `id, channel, address, template_name, template_data, notification_id, recipient_id,
priority, state, attempts, max_attempts, last_error, enqueued_at, visible_at, claimed_at, completed_at`

// DeliveryQueue is the durable queue backed by the delivery_jobs table.
// Claims use FOR UPDATE SKIP LOCKED inside a single UPDATE so concurrent
// workers never receive the same row.
type DeliveryQueue struct{ db *sql.DB }

func NewDeliveryQueue(db *sql.DB) repository.DeliveryQueue {
	return &DeliveryQueue{db: db}
}

func scanJob(s scanner) (*entity.DeliveryJob, error) {
	var j entity.DeliveryJob
	var channel, state string
	var data []byte
	if err := s.Scan(
		&j.ID, &channel, &j.Address, &j.TemplateName, &data, &j.NotificationID, &j.RecipientID,
		&j.Priority, &state, &j.Attempts, &j.MaxAttempts, &j.LastError,
		&j.EnqueuedAt, &j.VisibleAt, &j.ClaimedAt, &j.CompletedAt,
	); err != nil {
		return nil, err
	}
	j.Channel = entity.Channel(channel)
	j.State = entity.JobState(state)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &j.TemplateData); err != nil {
			return nil, fmt.Errorf("unmarshal template_data: %w", err)
		}
	}
	return &j, nil
}

func (q *DeliveryQueue) Enqueue(ctx context.Context, job *entity.DeliveryJob, priority int) (int64, error) {
	if err := job.Validate(); err != nil {
		return 0, fmt.Errorf("Enqueue: %w", err)
	}
	const query = `
INSERT INTO delivery_jobs
  (channel, address, template_name, template_data, notification_id, recipient_id, priority, max_attempts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id`

	data := job.TemplateData
	if data == nil {
		data = map[string]string{}
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("Enqueue: marshal template_data: %w", err)
	}

	var id int64
	if err := q.db.QueryRowContext(ctx, query,
		string(job.Channel), job.Address, job.TemplateName, string(dataJSON),
		job.NotificationID, job.RecipientID, priority, job.MaxAttempts,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("Enqueue: %w", err)
	}
	return id, nil
}

func (q *DeliveryQueue) DequeueNext(ctx context.Context, channels ...entity.Channel) (*entity.DeliveryJob, error) {
	next := psql.Select("id").
		From("delivery_jobs").
		Where(sq.Eq{"state": string(entity.JobPending)}).
		Where("visible_at <= now()").
		OrderBy("priority ASC", "id ASC").
		Limit(1).
		Suffix("FOR UPDATE SKIP LOCKED")
	if len(channels) > 0 {
		names := make([]string, len(channels))
		for i, c := range channels {
			names[i] = string(c)
		}
		next = next.Where(sq.Eq{"channel": names})
	}
	sub, args, err := next.ToSql()
	if err != nil {
		return nil, fmt.Errorf("DequeueNext: build query: %w", err)
	}

	query := `
UPDATE delivery_jobs
SET state = 'in_flight', claimed_at = now()
WHERE id = (` + sub + `)
RETURNING ` + jobColumns

	job, err := scanJob(q.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("DequeueNext: %w", err)
	}
	return job, nil
}

func (q *DeliveryQueue) Complete(ctx context.Context, id int64) error {
	const query = `
UPDATE delivery_jobs
SET state = 'delivered', completed_at = now(), claimed_at = NULL
WHERE id = $1 AND state = 'in_flight'`
	res, err := q.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("Complete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Complete: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("Complete: %w", entity.ErrJobNotInFlight)
	}
	return nil
}

func (q *DeliveryQueue) Fail(ctx context.Context, id int64, reason string, backoff time.Duration) (*entity.DeliveryJob, error) {
	// right-hand sides see the pre-update row, so attempts + 1 is the new count
	query := `
UPDATE delivery_jobs
SET attempts = attempts + 1,
    last_error = $2,
    claimed_at = NULL,
    state = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
    visible_at = CASE WHEN attempts + 1 >= max_attempts THEN visible_at
                      ELSE now() + ($3::bigint * INTERVAL '1 millisecond') END,
    completed_at = CASE WHEN attempts + 1 >= max_attempts THEN now() ELSE NULL END
WHERE id = $1 AND state = 'in_flight'
RETURNING ` + jobColumns

	job, err := scanJob(q.db.QueryRowContext(ctx, query, id, truncate(reason), backoff.Milliseconds()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Fail: %w", entity.ErrJobNotInFlight)
	}
	if err != nil {
		return nil, fmt.Errorf("Fail: %w", err)
	}
	return job, nil
}

func (q *DeliveryQueue) Terminate(ctx context.Context, id int64, reason string) (*entity.DeliveryJob, error) {
	query := `
UPDATE delivery_jobs
SET state = 'failed', last_error = $2, claimed_at = NULL, completed_at = now()
WHERE id = $1 AND state = 'in_flight'
RETURNING ` + jobColumns

	job, err := scanJob(q.db.QueryRowContext(ctx, query, id, truncate(reason)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Terminate: %w", entity.ErrJobNotInFlight)
	}
	if err != nil {
		return nil, fmt.Errorf("Terminate: %w", err)
	}
	return job, nil
}

func (q *DeliveryQueue) RequeueStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	const query = `
UPDATE delivery_jobs
SET attempts = attempts + 1,
    last_error = $2,
    claimed_at = NULL,
    state = CASE WHEN attempts + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
    visible_at = now(),
    completed_at = CASE WHEN attempts + 1 >= max_attempts THEN now() ELSE NULL END
WHERE state = 'in_flight' AND claimed_at < $1`
	res, err := q.db.ExecContext(ctx, query, claimedBefore, leaseExpired)
	if err != nil {
		return 0, fmt.Errorf("RequeueStale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("RequeueStale: rows affected: %w", err)
	}
	return n, nil
}

func (q *DeliveryQueue) Counts(ctx context.Context) (map[entity.JobState]int64, error) {
	const query = `SELECT state, COUNT(*) FROM delivery_jobs GROUP BY state`
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("Counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := map[entity.JobState]int64{
		entity.JobPending:   0,
		entity.JobInFlight:  0,
		entity.JobDelivered: 0,
		entity.JobFailed:    0,
	}
	for rows.Next() {
		var state string
		var n int64
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("Counts: %w", err)
		}
		counts[entity.JobState(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Counts: %w", err)
	}
	return counts, nil
}

const maxErrorLength = 1000

const leaseExpired = "lease expired"

func truncate(reason string) string {
	reason = strings.ToValidUTF8(reason, "")
	if len(reason) <= maxErrorLength {
		return reason
	}
	n := maxErrorLength
	for n > 0 && !utf8.RuneStart(reason[n]) {
		n--
	}
	return reason[:n]
}
