package db

import (
	"context"
	"database/sql"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS notifications (
    id           UUID PRIMARY KEY,
    recipient_id TEXT NOT NULL,
    type         TEXT NOT NULL CHECK (type IN ('course', 'assignment', 'quiz', 'grade', 'live_class',
                                               'payment', 'message', 'announcement', 'system')),
    title        TEXT NOT NULL,
    message      TEXT NOT NULL,
    payload      JSONB NOT NULL DEFAULT '{"version":1,"data":{}}',
    priority     TEXT NOT NULL DEFAULT 'normal' CHECK (priority IN ('low', 'normal', 'high', 'urgent')),
    read         BOOLEAN NOT NULL DEFAULT FALSE,
    read_at      TIMESTAMPTZ,
    action_url   TEXT NOT NULL DEFAULT '',
    icon         TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at   TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS notification_preferences (
    user_id    TEXT NOT NULL,
    type       TEXT NOT NULL,
    in_app     BOOLEAN NOT NULL DEFAULT TRUE,
    email      BOOLEAN NOT NULL DEFAULT TRUE,
    push       BOOLEAN NOT NULL DEFAULT TRUE,
    sms        BOOLEAN NOT NULL DEFAULT TRUE,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, type)
)`,
	`CREATE TABLE IF NOT EXISTS contacts (
    user_id TEXT PRIMARY KEY,
    email   TEXT NOT NULL DEFAULT '',
    phone   TEXT NOT NULL DEFAULT ''
)`,
	`CREATE TABLE IF NOT EXISTS push_subscriptions (
    token      TEXT PRIMARY KEY,
    user_id    TEXT NOT NULL,
    platform   TEXT NOT NULL CHECK (platform IN ('android', 'ios', 'web')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	`CREATE TABLE IF NOT EXISTS delivery_jobs (
    id              BIGSERIAL PRIMARY KEY,
    channel         TEXT NOT NULL CHECK (channel IN ('email', 'push', 'sms')),
    address         TEXT NOT NULL,
    template_name   TEXT NOT NULL,
    template_data   JSONB NOT NULL DEFAULT '{}',
    notification_id TEXT NOT NULL DEFAULT '',
    recipient_id    TEXT NOT NULL DEFAULT '',
    priority        INT NOT NULL,
    state           TEXT NOT NULL DEFAULT 'pending' CHECK (state IN ('pending', 'in_flight', 'delivered', 'failed')),
    attempts        INT NOT NULL DEFAULT 0,
    max_attempts    INT NOT NULL CHECK (max_attempts > 0),
    last_error      TEXT NOT NULL DEFAULT '',
    enqueued_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
    visible_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    claimed_at      TIMESTAMPTZ,
    completed_at    TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS delivery_events (
    id              BIGSERIAL PRIMARY KEY,
    job_id          BIGINT,
    notification_id TEXT NOT NULL DEFAULT '',
    channel         TEXT NOT NULL,
    event           TEXT NOT NULL,
    detail          TEXT NOT NULL DEFAULT '',
    occurred_at     TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
	// inbox listing, newest first
	`CREATE INDEX IF NOT EXISTS idx_notifications_recipient_created
    ON notifications(recipient_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_recipient_unread
    ON notifications(recipient_id) WHERE read = FALSE`,
	`CREATE INDEX IF NOT EXISTS idx_notifications_expires_at
    ON notifications(expires_at) WHERE expires_at IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS idx_push_subscriptions_user ON push_subscriptions(user_id)`,
	// claim order: only pending rows are indexed
	`CREATE INDEX IF NOT EXISTS idx_delivery_jobs_claim
    ON delivery_jobs(priority, id) WHERE state = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_jobs_in_flight
    ON delivery_jobs(claimed_at) WHERE state = 'in_flight'`,
	`CREATE INDEX IF NOT EXISTS idx_delivery_events_occurred_at ON delivery_events(occurred_at)`,
}

// MigrateUp creates every table and index the service needs. It is idempotent.
func MigrateUp(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}

// MigrateDown drops every table created by MigrateUp.
// Use with caution: this will delete all data in the affected tables.
func MigrateDown(ctx context.Context, db *sql.DB) error {
	tables := []string{
		"delivery_events",
		"delivery_jobs",
		"push_subscriptions",
		"contacts",
		"notification_preferences",
		"notifications",
	}
	for _, table := range tables {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE"); err != nil {
			return fmt.Errorf("drop %s: %w", table, err)
		}
	}
	return nil
}
