package repository

import (
	"context"
	"time"

	"school-notify/internal/domain/entity"
)

// DeliveryLogRepository is append-only.
type DeliveryLogRepository interface {
	Append(ctx context.Context, ev *entity.DeliveryEvent) error
	Summary(ctx context.Context, since time.Time) (map[entity.Channel]map[entity.DeliveryEventKind]int64, error)
}
