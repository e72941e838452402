package postgres_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"

	"school-notify/internal/domain/entity"
	"school-notify/internal/infra/adapter/persistence/postgres"
)

func TestDeliveryLogRepo_Append(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	jobID := int64(7)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO delivery_events`)).
		WithArgs(sql.NullInt64{Int64: 7, Valid: true}, "n-1", "email", "delivered", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "occurred_at"}).AddRow(int64(100), at))

	repo := postgres.NewDeliveryLogRepo(db)
	ev := &entity.DeliveryEvent{JobID: &jobID, NotificationID: "n-1", Channel: entity.ChannelEmail, Event: entity.EventDelivered}
	if err := repo.Append(context.Background(), ev); err != nil {
		t.Fatalf("Append err=%v", err)
	}
	if ev.ID != 100 || !ev.OccurredAt.Equal(at) {
		t.Fatalf("Append ev=%+v", ev)
	}
}

func TestDeliveryLogRepo_Append_WithoutJob(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO delivery_events`)).
		WithArgs(sql.NullInt64{}, "", "email", "bounced", "mailbox full").
		WillReturnRows(sqlmock.NewRows([]string{"id", "occurred_at"}).AddRow(int64(101), time.Now()))

	repo := postgres.NewDeliveryLogRepo(db)
	err := repo.Append(context.Background(), &entity.DeliveryEvent{
		Channel: entity.ChannelEmail, Event: entity.EventBounced, Detail: "mailbox full",
	})
	if err != nil {
		t.Fatalf("Append err=%v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDeliveryLogRepo_Summary(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer func() { _ = db.Close() }()

	since := time.Now().Add(-24 * time.Hour)
	mock.ExpectQuery(regexp.QuoteMeta(
		`SELECT channel, event, COUNT(*) FROM delivery_events WHERE occurred_at >= $1 GROUP BY channel, event`)).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"channel", "event", "count"}).
			AddRow("email", "delivered", int64(12)).
			AddRow("email", "bounced", int64(1)).
			AddRow("push", "failed", int64(2)))

	repo := postgres.NewDeliveryLogRepo(db)
	got, err := repo.Summary(context.Background(), since)
	if err != nil {
		t.Fatalf("Summary err=%v", err)
	}
	want := map[entity.Channel]map[entity.DeliveryEventKind]int64{
		entity.ChannelEmail: {entity.EventDelivered: 12, entity.EventBounced: 1},
		entity.ChannelPush:  {entity.EventFailed: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}
