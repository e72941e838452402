package notification

import (
	"log/slog"
	"net/http"

	"school-notify/internal/handler/http/pathutil"
	"school-notify/internal/handler/http/respond"
	"school-notify/internal/observability/logging"
	"school-notify/internal/usecase/notify"
)

// MarkReadHandler serves POST /notifications/{id}/read.
type MarkReadHandler struct {
	Svc    notify.Service
	Logger *slog.Logger
}

func (h MarkReadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	id, err := pathutil.UUIDParam(r, "id")
	if err != nil {
		respond.SafeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Svc.MarkRead(r.Context(), id, p.UserID); err != nil {
		logging.WithRequestID(r.Context(), h.Logger).Warn("mark read failed",
			slog.String("notification_id", id),
			slog.String("user_id", p.UserID),
			slog.Any("error", err))
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllReadHandler serves POST /notifications/mark-all-read.
type MarkAllReadHandler struct {
	Svc    notify.Service
	Logger *slog.Logger
}

func (h MarkAllReadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	n, err := h.Svc.MarkAllRead(r.Context(), p.UserID)
	if err != nil {
		logging.WithRequestID(r.Context(), h.Logger).Error("mark all read failed",
			slog.String("user_id", p.UserID),
			slog.Any("error", err))
		writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int64{"updated": n})
}

// StatsHandler serves GET /notifications/stats.
type StatsHandler struct {
	Svc notify.Service
}

func (h StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	stats, err := h.Svc.Stats(r.Context(), p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, stats)
}
