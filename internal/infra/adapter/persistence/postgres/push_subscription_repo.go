package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"school-notify/internal/domain/entity"
	"school-notify/internal/repository"
)

type PushSubscriptionRepo struct{ db *sql.DB }

func NewPushSubscriptionRepo(db *sql.DB) repository.PushSubscriptionRepository {
	return &PushSubscriptionRepo{db: db}
}

// Upsert moves a token to the given user if another account registered it before.
func (repo *PushSubscriptionRepo) Upsert(ctx context.Context, sub *entity.PushSubscription) error {
	const query = `
INSERT INTO push_subscriptions (user_id, token, platform)
VALUES ($1, $2, $3)
ON CONFLICT (token) DO UPDATE
SET user_id = EXCLUDED.user_id, platform = EXCLUDED.platform
RETURNING created_at`
	if err := repo.db.QueryRowContext(ctx, query,
		sub.UserID, sub.Token, string(sub.Platform),
	).Scan(&sub.CreatedAt); err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

func (repo *PushSubscriptionRepo) ListByUser(ctx context.Context, userID string) ([]*entity.PushSubscription, error) {
	const query = `
SELECT user_id, token, platform, created_at
FROM push_subscriptions
WHERE user_id = $1
ORDER BY created_at ASC`
	rows, err := repo.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.PushSubscription
	for rows.Next() {
		var s entity.PushSubscription
		var platform string
		if err := rows.Scan(&s.UserID, &s.Token, &platform, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("ListByUser: %w", err)
		}
		s.Platform = entity.Platform(platform)
		out = append(out, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	return out, nil
}

func (repo *PushSubscriptionRepo) Delete(ctx context.Context, userID, token string) error {
	const query = `DELETE FROM push_subscriptions WHERE user_id = $1 AND token = $2`
	res, err := repo.db.ExecContext(ctx, query, userID, token)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Delete: rows affected: %w", err)
	}
	if n == 0 {
		return entity.ErrNotFound
	}
	return nil
}
