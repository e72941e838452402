package notification

import (
	"log/slog"
	"net/http"
	"time"

	"school-notify/internal/domain/entity"
	"school-notify/internal/handler/http/respond"
	"school-notify/internal/observability/logging"
	"school-notify/internal/usecase/notify"
)

// RegisterPushHandler serves POST /notifications/push-subscriptions.
// Registering a known token again refreshes it.
type RegisterPushHandler struct {
	Svc    notify.Service
	Logger *slog.Logger
	Now    func() time.Time
}

func (h RegisterPushHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req pushSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.SafeErrorV2(w, http.StatusBadRequest, err)
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	sub := &entity.PushSubscription{
		UserID:    p.UserID,
		Token:     req.Token,
		Platform:  entity.Platform(req.Platform),
		CreatedAt: now().UTC(),
	}
	if err := h.Svc.RegisterPushSubscription(r.Context(), sub); err != nil {
		logging.WithRequestID(r.Context(), h.Logger).Warn("register push subscription failed",
			slog.String("user_id", p.UserID),
			slog.String("platform", req.Platform),
			slog.Any("error", err))
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// RemovePushHandler serves DELETE /notifications/push-subscriptions/{token}.
// Users can only remove their own tokens.
type RemovePushHandler struct {
	Svc notify.Service
}

func (h RemovePushHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	token := r.PathValue("token")
	if token == "" {
		writeError(w, &entity.ValidationError{Field: "token", Message: "token is required"})
		return
	}
	if err := h.Svc.RemovePushSubscription(r.Context(), p.UserID, token); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
