package notification

import (
	"log/slog"
	"net/http"

	"school-notify/internal/domain/entity"
	"school-notify/internal/handler/http/respond"
	"school-notify/internal/observability/logging"
	"school-notify/internal/usecase/notify"
)

// SendHandler serves POST /notifications/send (admin, teacher). It answers
// 201 when at least one recipient got a notification and 422 when none did;
// the body always carries the per-recipient result.
type SendHandler struct {
	Svc    notify.Service
	Logger *slog.Logger
}

func (h SendHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.SafeErrorV2(w, http.StatusBadRequest, err)
		return
	}
	priority, err := entity.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}

	logger := logging.WithRequestID(r.Context(), h.Logger)
	res, err := h.Svc.SendBulk(r.Context(), notify.BulkInput{
		RecipientIDs: req.RecipientIDs,
		Type:         entity.NotificationType(req.Type),
		Title:        req.Title,
		Message:      req.Message,
		Priority:     priority,
		ActionURL:    req.ActionURL,
		Icon:         req.Icon,
		ExpiresAt:    req.ExpiresAt,
		Data:         req.Data,
		DataVersion:  req.DataVersion,
	})
	if err != nil {
		logger.Warn("send rejected",
			slog.String("sender_id", p.UserID),
			slog.String("sender_role", p.Role),
			slog.Any("error", err))
		writeError(w, err)
		return
	}

	logger.Info("notifications sent",
		slog.String("sender_id", p.UserID),
		slog.String("sender_role", p.Role),
		slog.String("type", req.Type),
		slog.Int("created", len(res.Created)),
		slog.Int("failed", len(res.Failed)))

	code := http.StatusCreated
	if len(res.Created) == 0 {
		code = http.StatusUnprocessableEntity
	}
	respond.JSON(w, code, res)
}

// SendPushHandler serves POST /notifications/send-push (admin, teacher).
type SendPushHandler struct {
	Svc    notify.Service
	Logger *slog.Logger
}

func (h SendPushHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req sendPushRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.SafeErrorV2(w, http.StatusBadRequest, err)
		return
	}
	priority, err := entity.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}

	queued, err := h.Svc.SendPush(r.Context(), notify.PushInput{
		UserID:       req.UserID,
		TemplateName: req.TemplateName,
		Type:         entity.NotificationType(req.Type),
		Title:        req.Title,
		Message:      req.Message,
		Priority:     priority,
		Data:         req.Data,
	})
	if err != nil {
		logging.WithRequestID(r.Context(), h.Logger).Warn("send push rejected",
			slog.String("sender_id", p.UserID),
			slog.String("user_id", req.UserID),
			slog.Any("error", err))
		writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]int{"queued": queued})
}

// SendEmailHandler serves POST /notifications/send-email (admin).
type SendEmailHandler struct {
	Svc    notify.Service
	Logger *slog.Logger
}

func (h SendEmailHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req sendEmailRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.SafeErrorV2(w, http.StatusBadRequest, err)
		return
	}
	priority, err := entity.ParsePriority(req.Priority)
	if err != nil {
		writeError(w, err)
		return
	}

	jobID, err := h.Svc.SendTemplatedEmail(r.Context(), notify.EmailInput{
		UserID:       req.UserID,
		TemplateName: req.TemplateName,
		Priority:     priority,
		Data:         req.Data,
	})
	if err != nil {
		logging.WithRequestID(r.Context(), h.Logger).Warn("send email rejected",
			slog.String("sender_id", p.UserID),
			slog.String("user_id", req.UserID),
			slog.String("template", req.TemplateName),
			slog.Any("error", err))
		writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, map[string]int64{"jobId": jobID})
}
