package notification

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"time"

	"school-notify/internal/domain/entity"
	"school-notify/internal/handler/http/respond"
	"school-notify/internal/observability/logging"
	"school-notify/internal/usecase/notify"
)

// WebhookSecretHeader carries the shared secret on provider callbacks.
const WebhookSecretHeader = "X-Webhook-Secret"

const (
	defaultStatsWindow = 24 * time.Hour
	maxWebhookEvents   = 100
)

// DeliveryStatsHandler serves GET /notifications/delivery-stats (admin).
// since (RFC 3339) defaults to 24 hours ago.
type DeliveryStatsHandler struct {
	Svc notify.Service
	Now func() time.Time
}

func (h DeliveryStatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	since := now().Add(-defaultStatsWindow)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, &entity.ValidationError{Field: "since", Message: "since must be RFC 3339"})
			return
		}
		since = t
	}
	stats, err := h.Svc.DeliveryStats(r.Context(), since)
	if err != nil {
		writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, stats)
}

// EmailEventsHandler serves POST /webhooks/email-events. The email provider
// authenticates with a shared secret instead of a user token. Every event of
// a batch is validated before any is recorded.
type EmailEventsHandler struct {
	Svc    notify.Service
	Secret string
	Logger *slog.Logger
}

func (h EmailEventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := logging.WithRequestID(r.Context(), h.Logger)

	got := r.Header.Get(WebhookSecretHeader)
	if h.Secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
		logger.Warn("email webhook rejected", slog.String("remote_addr", r.RemoteAddr))
		respond.SafeErrorV2(w, http.StatusUnauthorized,
			respond.NewAppError(http.StatusUnauthorized, "unauthorized", nil))
		return
	}

	var req emailEventsRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.SafeErrorV2(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Events) == 0 {
		writeError(w, &entity.ValidationError{Field: "events", Message: "at least one event is required"})
		return
	}
	if len(req.Events) > maxWebhookEvents {
		writeError(w, &entity.ValidationError{Field: "events", Message: "too many events in one request"})
		return
	}

	events := make([]*entity.DeliveryEvent, 0, len(req.Events))
	for _, dto := range req.Events {
		kind, err := entity.ParseDeliveryEventKind(dto.Event)
		if err != nil {
			writeError(w, err)
			return
		}
		if dto.NotificationID == "" {
			writeError(w, &entity.ValidationError{Field: "notificationId", Message: "notificationId is required"})
			return
		}
		ev := &entity.DeliveryEvent{
			JobID:          dto.JobID,
			NotificationID: dto.NotificationID,
			Channel:        entity.ChannelEmail,
			Event:          kind,
			Detail:         dto.Detail,
		}
		if dto.OccurredAt != nil {
			ev.OccurredAt = dto.OccurredAt.UTC()
		}
		events = append(events, ev)
	}

	for _, ev := range events {
		if err := h.Svc.RecordDeliveryEvent(r.Context(), ev); err != nil {
			logger.Error("record delivery event failed",
				slog.String("notification_id", ev.NotificationID),
				slog.String("event", string(ev.Event)),
				slog.Any("error", err))
			writeError(w, err)
			return
		}
	}
	respond.JSON(w, http.StatusOK, map[string]int{"recorded": len(events)})
}
