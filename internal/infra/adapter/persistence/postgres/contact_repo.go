package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"school-notify/internal/domain/entity"
	"school-notify/internal/repository"
)

type ContactRepo struct{ db *sql.DB }

func NewContactRepo(db *sql.DB) repository.ContactRepository {
	return &ContactRepo{db: db}
}

func (repo *ContactRepo) Get(ctx context.Context, userID string) (*entity.Contact, error) {
	const query = `
SELECT user_id, email, phone
FROM contacts
WHERE user_id = $1
LIMIT 1`
	var c entity.Contact
	err := repo.db.QueryRowContext(ctx, query, userID).Scan(&c.UserID, &c.Email, &c.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return &c, nil
}
