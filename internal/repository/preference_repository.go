package repository

import (
	"context"

	"school-notify/internal/domain/entity"
)

type PreferenceRepository interface {
	ListByUser(ctx context.Context, userID string) ([]*entity.Preference, error)
	// Get returns nil, nil when the user never customised the type.
	Get(ctx context.Context, userID string, t entity.NotificationType) (*entity.Preference, error)
	// UpsertAll stores every row in one transaction; nothing is written on error.
	UpsertAll(ctx context.Context, prefs []*entity.Preference) error
}
