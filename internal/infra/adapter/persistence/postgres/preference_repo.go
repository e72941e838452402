package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"school-notify/internal/domain/entity"
	"school-notify/internal/repository"
)

type PreferenceRepo struct{ db *sql.DB }

func NewPreferenceRepo(db *sql.DB) repository.PreferenceRepository {
	return &PreferenceRepo{db: db}
}

func scanPreference(s scanner) (*entity.Preference, error) {
	var p entity.Preference
	var typ string
	if err := s.Scan(&p.UserID, &typ, &p.InApp, &p.Email, &p.Push, &p.SMS); err != nil {
		return nil, err
	}
	p.Type = entity.NotificationType(typ)
	return &p, nil
}

func (repo *PreferenceRepo) ListByUser(ctx context.Context, userID string) ([]*entity.Preference, error) {
	const query = `
SELECT user_id, type, in_app, email, push, sms
FROM notification_preferences
WHERE user_id = $1
ORDER BY type ASC`
	rows, err := repo.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*entity.Preference
	for rows.Next() {
		p, err := scanPreference(rows)
		if err != nil {
			return nil, fmt.Errorf("ListByUser: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListByUser: %w", err)
	}
	return out, nil
}

func (repo *PreferenceRepo) Get(ctx context.Context, userID string, t entity.NotificationType) (*entity.Preference, error) {
	const query = `
SELECT user_id, type, in_app, email, push, sms
FROM notification_preferences
WHERE user_id = $1 AND type = $2
LIMIT 1`
	p, err := scanPreference(repo.db.QueryRowContext(ctx, query, userID, string(t)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return p, nil
}

func (repo *PreferenceRepo) UpsertAll(ctx context.Context, prefs []*entity.Preference) (err error) {
	const query = `
INSERT INTO notification_preferences (user_id, type, in_app, email, push, sms, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
ON CONFLICT (user_id, type) DO UPDATE
SET in_app = EXCLUDED.in_app,
    email = EXCLUDED.email,
    push = EXCLUDED.push,
    sms = EXCLUDED.sms,
    updated_at = now()`

	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("UpsertAll: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, p := range prefs {
		if _, err = tx.ExecContext(ctx, query,
			p.UserID, string(p.Type), p.InApp, p.Email, p.Push, p.SMS,
		); err != nil {
			return fmt.Errorf("UpsertAll: %s: %w", p.Type, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("UpsertAll: commit: %w", err)
	}
	return nil
}
