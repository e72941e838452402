package repository

import (
	"context"

	"school-notify/internal/domain/entity"
)

type ContactRepository interface {
	// Get returns nil, nil for users without a contact row.
	Get(ctx context.Context, userID string) (*entity.Contact, error)
}

type PushSubscriptionRepository interface {
	Upsert(ctx context.Context, sub *entity.PushSubscription) error
	ListByUser(ctx context.Context, userID string) ([]*entity.PushSubscription, error)
	Delete(ctx context.Context, userID, token string) error
}
