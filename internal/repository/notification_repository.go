package repository

import (
	"context"
	"time"

	"school-notify/internal/domain/entity"
)

type NotificationRepository interface {
	// Create persists n and fills in ID and CreatedAt.
	Create(ctx context.Context, n *entity.Notification) error
	// Get returns nil, nil when no notification has the id.
	Get(ctx context.Context, id string) (*entity.Notification, error)
	List(ctx context.Context, recipientID string, filter entity.NotificationFilter, now time.Time) ([]*entity.Notification, error)
	Count(ctx context.Context, recipientID string, filter entity.NotificationFilter, now time.Time) (int64, error)
	// MarkRead sets read=true, keeping the first read_at.
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context, recipientID string) (int64, error)
	Stats(ctx context.Context, recipientID string) (*entity.NotificationStats, error)
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}
