// Package notification provides the HTTP handlers of the notification api:
// the recipient inbox, preferences, privileged sends, push device
// registration, the realtime stream and the email provider webhook.
package notification

import (
	"encoding/json"
	"time"

	"school-notify/internal/domain/entity"
)

// DTO is the client view of a notification.
type DTO struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Message     string          `json:"message"`
	Priority    string          `json:"priority"`
	Data        json.RawMessage `json:"data,omitempty"`
	DataVersion int             `json:"dataVersion"`
	ActionURL   string          `json:"actionUrl,omitempty"`
	Icon        string          `json:"icon,omitempty"`
	Read        bool            `json:"read"`
	ReadAt      *time.Time      `json:"readAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
}

func toDTO(n *entity.Notification) DTO {
	return DTO{
		ID:          n.ID,
		Type:        string(n.Type),
		Title:       n.Title,
		Message:     n.Message,
		Priority:    string(n.Priority),
		Data:        n.Payload.Data,
		DataVersion: n.Payload.Version,
		ActionURL:   n.ActionURL,
		Icon:        n.Icon,
		Read:        n.Read,
		ReadAt:      n.ReadAt,
		CreatedAt:   n.CreatedAt,
		ExpiresAt:   n.ExpiresAt,
	}
}

// PreferenceDTO is one (type, channels) row of a preferences update.
type PreferenceDTO struct {
	Type string `json:"type"`
	entity.ChannelFlags
}

// PreferencesResponse maps every notification type to its channel flags.
type PreferencesResponse struct {
	Preferences map[entity.NotificationType]entity.ChannelFlags `json:"preferences"`
}

type setPreferencesRequest struct {
	Preferences []PreferenceDTO `json:"preferences"`
}

type sendRequest struct {
	RecipientIDs []string        `json:"recipientIds"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	Priority     string          `json:"priority"`
	ActionURL    string          `json:"actionUrl"`
	Icon         string          `json:"icon"`
	ExpiresAt    *time.Time      `json:"expiresAt"`
	Data         json.RawMessage `json:"data"`
	DataVersion  int             `json:"dataVersion"`
}

type sendPushRequest struct {
	UserID       string            `json:"userId"`
	TemplateName string            `json:"templateName"`
	Type         string            `json:"type"`
	Title        string            `json:"title"`
	Message      string            `json:"message"`
	Priority     string            `json:"priority"`
	Data         map[string]string `json:"data"`
}

type sendEmailRequest struct {
	UserID       string            `json:"userId"`
	TemplateName string            `json:"templateName"`
	Priority     string            `json:"priority"`
	Data         map[string]string `json:"data"`
}

type pushSubscriptionRequest struct {
	Token    string `json:"token"`
	Platform string `json:"platform"`
}

// EmailEventDTO is one provider callback delivered to the email webhook.
type EmailEventDTO struct {
	NotificationID string     `json:"notificationId"`
	JobID          *int64     `json:"jobId,omitempty"`
	Event          string     `json:"event"`
	Detail         string     `json:"detail,omitempty"`
	OccurredAt     *time.Time `json:"occurredAt,omitempty"`
}

type emailEventsRequest struct {
	Events []EmailEventDTO `json:"events"`
}
