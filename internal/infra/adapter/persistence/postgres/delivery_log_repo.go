package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"school-notify/internal/domain/entity"
	"school-notify/internal/repository"
)

type DeliveryLogRepo struct{ db *sql.DB }

func NewDeliveryLogRepo(db *sql.DB) repository.DeliveryLogRepository {
	return &DeliveryLogRepo{db: db}
}

func (repo *DeliveryLogRepo) Append(ctx context.Context, ev *entity.DeliveryEvent) error {
	const query = `
INSERT INTO delivery_events (job_id, notification_id, channel, event, detail)
VALUES ($1, $2, $3, $4, $5)
RETURNING id, occurred_at`

	var jobID sql.NullInt64
	if ev.JobID != nil {
		jobID = sql.NullInt64{Int64: *ev.JobID, Valid: true}
	}
	if err := repo.db.QueryRowContext(ctx, query,
		jobID, ev.NotificationID, string(ev.Channel), string(ev.Event), truncate(ev.Detail),
	).Scan(&ev.ID, &ev.OccurredAt); err != nil {
		return fmt.Errorf("Append: %w", err)
	}
	return nil
}

func (repo *DeliveryLogRepo) Summary(ctx context.Context, since time.Time) (map[entity.Channel]map[entity.DeliveryEventKind]int64, error) {
	query, args, err := psql.Select("channel", "event", "COUNT(*)").
		From("delivery_events").
		Where(sq.GtOrEq{"occurred_at": since}).
		GroupBy("channel", "event").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("Summary: build query: %w", err)
	}

	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[entity.Channel]map[entity.DeliveryEventKind]int64)
	for rows.Next() {
		var channel, event string
		var n int64
		if err := rows.Scan(&channel, &event, &n); err != nil {
			return nil, fmt.Errorf("Summary: %w", err)
		}
		ch := entity.Channel(channel)
		if out[ch] == nil {
			out[ch] = make(map[entity.DeliveryEventKind]int64)
		}
		out[ch][entity.DeliveryEventKind(event)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Summary: %w", err)
	}
	return out, nil
}
