package notification

import (
	"context"
	"log/slog"
	"net/http"

	"school-notify/internal/domain/entity"
	"school-notify/internal/handler/http/respond"
	"school-notify/internal/observability/logging"
)

// PreferenceService is the subset of the preference store used over HTTP.
type PreferenceService interface {
	GetPreferences(ctx context.Context, userID string) (map[entity.NotificationType]entity.ChannelFlags, error)
	SetPreferences(ctx context.Context, userID string, prefs []entity.Preference) error
}

// GetPreferencesHandler serves GET /notifications/preferences. Every type is
// present in the response; types the user never changed carry the defaults.
type GetPreferencesHandler struct {
	Svc PreferenceService
}

func (h GetPreferencesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	prefs, err := h.Svc.GetPreferences(r.Context(), p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, PreferencesResponse{Preferences: prefs})
}

// SetPreferencesHandler serves POST /notifications/preferences. The update
// is all-or-nothing: one invalid entry rejects the whole request.
type SetPreferencesHandler struct {
	Svc    PreferenceService
	Logger *slog.Logger
}

func (h SetPreferencesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}
	var req setPreferencesRequest
	if err := decodeJSON(r, &req); err != nil {
		respond.SafeErrorV2(w, http.StatusBadRequest, err)
		return
	}
	if len(req.Preferences) == 0 {
		writeError(w, &entity.ValidationError{Field: "preferences", Message: "at least one preference is required"})
		return
	}

	prefs := make([]entity.Preference, 0, len(req.Preferences))
	for _, dto := range req.Preferences {
		prefs = append(prefs, entity.Preference{
			UserID:       p.UserID,
			Type:         entity.NotificationType(dto.Type),
			ChannelFlags: dto.ChannelFlags,
		})
	}

	logger := logging.WithRequestID(r.Context(), h.Logger)
	if err := h.Svc.SetPreferences(r.Context(), p.UserID, prefs); err != nil {
		logger.Warn("set preferences failed",
			slog.String("user_id", p.UserID),
			slog.Int("entries", len(prefs)),
			slog.Any("error", err))
		writeError(w, err)
		return
	}
	logger.Info("preferences updated",
		slog.String("user_id", p.UserID),
		slog.Int("entries", len(prefs)))

	updated, err := h.Svc.GetPreferences(r.Context(), p.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, PreferencesResponse{Preferences: updated})
}
