package notification

import (
	"log/slog"
	"net/http"
	"time"

	"school-notify/internal/common/pagination"
	"school-notify/internal/handler/http/auth"
	"school-notify/internal/usecase/notify"
)

// Deps are the collaborators of the notification routes. The limiters are
// optional.
type Deps struct {
	Notify        notify.Service
	Preferences   PreferenceService
	Hub           StreamServer
	PaginationCfg pagination.Config
	// SendLimiter wraps POST /notifications/send.
	SendLimiter func(http.Handler) http.Handler
	// WebhookLimiter wraps POST /webhooks/email-events.
	WebhookLimiter func(http.Handler) http.Handler
	WebhookSecret  string
	Logger         *slog.Logger
	Now            func() time.Time
}

// Register registers the notification and webhook routes on mux. Every
// route except the webhook expects auth.Authenticator.Middleware in front
// of the mux.
func Register(mux *http.ServeMux, d Deps) {
	staff := auth.RequireRole(auth.RoleAdmin, auth.RoleTeacher)
	admin := auth.RequireRole(auth.RoleAdmin)
	sendLimiter := orPassthrough(d.SendLimiter)
	webhookLimiter := orPassthrough(d.WebhookLimiter)

	mux.Handle("GET /notifications", ListHandler{
		Svc:           d.Notify,
		PaginationCfg: d.PaginationCfg,
		Logger:        d.Logger,
	})
	mux.Handle("POST /notifications/{id}/read", MarkReadHandler{Svc: d.Notify, Logger: d.Logger})
	mux.Handle("POST /notifications/mark-all-read", MarkAllReadHandler{Svc: d.Notify, Logger: d.Logger})
	mux.Handle("GET /notifications/stats", StatsHandler{Svc: d.Notify})

	mux.Handle("GET /notifications/preferences", GetPreferencesHandler{Svc: d.Preferences})
	mux.Handle("POST /notifications/preferences", SetPreferencesHandler{Svc: d.Preferences, Logger: d.Logger})

	mux.Handle("POST /notifications/send", staff(sendLimiter(SendHandler{Svc: d.Notify, Logger: d.Logger})))
	mux.Handle("POST /notifications/send-push", staff(SendPushHandler{Svc: d.Notify, Logger: d.Logger}))
	mux.Handle("POST /notifications/send-email", admin(SendEmailHandler{Svc: d.Notify, Logger: d.Logger}))

	mux.Handle("POST /notifications/push-subscriptions", RegisterPushHandler{Svc: d.Notify, Logger: d.Logger, Now: d.Now})
	mux.Handle("DELETE /notifications/push-subscriptions/{token}", RemovePushHandler{Svc: d.Notify})

	mux.Handle("GET /notifications/stream", StreamHandler{Hub: d.Hub})
	mux.Handle("GET /notifications/delivery-stats", admin(DeliveryStatsHandler{Svc: d.Notify, Now: d.Now}))

	mux.Handle("POST /webhooks/email-events", webhookLimiter(EmailEventsHandler{
		Svc:    d.Notify,
		Secret: d.WebhookSecret,
		Logger: d.Logger,
	}))
}

func orPassthrough(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(h http.Handler) http.Handler { return h }
	}
	return mw
}
