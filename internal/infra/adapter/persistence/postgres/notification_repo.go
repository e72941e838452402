package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"school-notify/internal/domain/entity"
	"school-notify/internal/repository"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var notificationColumns = []string{
	"id", "recipient_id", "type", "title", "message", "payload", "priority",
	"read", "read_at", "action_url", "icon", "created_at", "expires_at",
}

type NotificationRepo struct{ db *sql.DB }

func NewNotificationRepo(db *sql.DB) repository.NotificationRepository {
	return &NotificationRepo{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNotification(s scanner) (*entity.Notification, error) {
	var n entity.Notification
	var payloadJSON []byte
	var typ, priority string
	if err := s.Scan(
		&n.ID, &n.RecipientID, &typ, &n.Title, &n.Message, &payloadJSON, &priority,
		&n.Read, &n.ReadAt, &n.ActionURL, &n.Icon, &n.CreatedAt, &n.ExpiresAt,
	); err != nil {
		return nil, err
	}
	n.Type = entity.NotificationType(typ)
	n.Priority = entity.Priority(priority)

	n.Payload = entity.EmptyPayload()
	if len(payloadJSON) > 0 {
		if err := json.Unmarshal(payloadJSON, &n.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return &n, nil
}

func (repo *NotificationRepo) Create(ctx context.Context, n *entity.Notification) error {
	const query = `
INSERT INTO notifications
  (id, recipient_id, type, title, message, payload, priority, action_url, icon, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING created_at`

	payload := n.Payload
	if len(payload.Data) == 0 {
		payload = entity.EmptyPayload()
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("Create: marshal payload: %w", err)
	}

	id := uuid.NewString()
	err = repo.db.QueryRowContext(ctx, query,
		id, n.RecipientID, string(n.Type), n.Title, n.Message, string(payloadJSON),
		string(n.Priority), n.ActionURL, n.Icon, n.ExpiresAt,
	).Scan(&n.CreatedAt)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	n.ID = id
	n.Payload = payload
	return nil
}

func (repo *NotificationRepo) Get(ctx context.Context, id string) (*entity.Notification, error) {
	query, args, err := psql.Select(notificationColumns...).
		From("notifications").
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("Get: build query: %w", err)
	}

	n, err := scanNotification(repo.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return n, nil
}

// applyFilter adds the recipient, expiry and caller filter predicates.
func applyFilter(b sq.SelectBuilder, recipientID string, f entity.NotificationFilter, now time.Time) sq.SelectBuilder {
	b = b.Where(sq.Eq{"recipient_id": recipientID}).
		Where(sq.Or{sq.Eq{"expires_at": nil}, sq.Gt{"expires_at": now}})
	if f.Type != nil {
		b = b.Where(sq.Eq{"type": string(*f.Type)})
	}
	if f.Read != nil {
		b = b.Where(sq.Eq{"read": *f.Read})
	}
	if f.Priority != nil {
		b = b.Where(sq.Eq{"priority": string(*f.Priority)})
	}
	if f.StartDate != nil {
		b = b.Where(sq.GtOrEq{"created_at": *f.StartDate})
	}
	if f.EndDate != nil {
		b = b.Where(sq.LtOrEq{"created_at": *f.EndDate})
	}
	return b
}

func (repo *NotificationRepo) List(ctx context.Context, recipientID string, f entity.NotificationFilter, now time.Time) ([]*entity.Notification, error) {
	b := applyFilter(psql.Select(notificationColumns...).From("notifications"), recipientID, f, now).
		OrderBy("created_at DESC", "id DESC")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		b = b.Offset(uint64(f.Offset))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("List: build query: %w", err)
	}

	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]*entity.Notification, 0, f.Limit)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("List: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return out, nil
}

func (repo *NotificationRepo) Count(ctx context.Context, recipientID string, f entity.NotificationFilter, now time.Time) (int64, error) {
	query, args, err := applyFilter(psql.Select("COUNT(*)").From("notifications"), recipientID, f, now).ToSql()
	if err != nil {
		return 0, fmt.Errorf("Count: build query: %w", err)
	}

	var total int64
	if err := repo.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("Count: %w", err)
	}
	return total, nil
}

func (repo *NotificationRepo) MarkRead(ctx context.Context, id string) error {
	const query = `
UPDATE notifications
SET read = TRUE, read_at = COALESCE(read_at, now())
WHERE id = $1`
	if _, err := repo.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("MarkRead: %w", err)
	}
	return nil
}

func (repo *NotificationRepo) MarkAllRead(ctx context.Context, recipientID string) (int64, error) {
	const query = `
UPDATE notifications
SET read = TRUE, read_at = now()
WHERE recipient_id = $1 AND read = FALSE AND (expires_at IS NULL OR expires_at > now())`
	res, err := repo.db.ExecContext(ctx, query, recipientID)
	if err != nil {
		return 0, fmt.Errorf("MarkAllRead: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("MarkAllRead: rows affected: %w", err)
	}
	return n, nil
}

func (repo *NotificationRepo) Stats(ctx context.Context, recipientID string) (*entity.NotificationStats, error) {
	const byTypeQuery = `
SELECT type, COUNT(*), COUNT(*) FILTER (WHERE read = FALSE)
FROM notifications
WHERE recipient_id = $1 AND (expires_at IS NULL OR expires_at > now())
GROUP BY type`
	const byPriorityQuery = `
SELECT priority, COUNT(*)
FROM notifications
WHERE recipient_id = $1 AND read = FALSE AND (expires_at IS NULL OR expires_at > now())
GROUP BY priority`

	stats := &entity.NotificationStats{
		ByType:     make(map[entity.NotificationType]int64),
		ByPriority: make(map[entity.Priority]int64),
	}

	rows, err := repo.db.QueryContext(ctx, byTypeQuery, recipientID)
	if err != nil {
		return nil, fmt.Errorf("Stats: by type: %w", err)
	}
	for rows.Next() {
		var typ string
		var total, unread int64
		if err := rows.Scan(&typ, &total, &unread); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("Stats: scan by type: %w", err)
		}
		stats.ByType[entity.NotificationType(typ)] = total
		stats.Total += total
		stats.Unread += unread
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("Stats: by type: %w", err)
	}
	_ = rows.Close()

	rows, err = repo.db.QueryContext(ctx, byPriorityQuery, recipientID)
	if err != nil {
		return nil, fmt.Errorf("Stats: by priority: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var priority string
		var unread int64
		if err := rows.Scan(&priority, &unread); err != nil {
			return nil, fmt.Errorf("Stats: scan by priority: %w", err)
		}
		stats.ByPriority[entity.Priority(priority)] = unread
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("Stats: by priority: %w", err)
	}
	return stats, nil
}

func (repo *NotificationRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at <= $1`
	res, err := repo.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("DeleteExpired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("DeleteExpired: rows affected: %w", err)
	}
	return n, nil
}
