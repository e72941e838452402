// Package entity defines the core domain entities and validation logic for the
// notification subsystem: notifications, per-user channel preferences, queued
// delivery jobs and the append-only delivery log.
package entity

import (
	"fmt"
	"strings"
	"time"
)

// NotificationType is the category of a notification. The set is closed.
type NotificationType string

const (
	TypeCourse       NotificationType = "course"
	TypeAssignment   NotificationType = "assignment"
	TypeQuiz         NotificationType = "quiz"
	TypeGrade        NotificationType = "grade"
	TypeLiveClass    NotificationType = "live_class"
	TypePayment      NotificationType = "payment"
	TypeMessage      NotificationType = "message"
	TypeAnnouncement NotificationType = "announcement"
	TypeSystem       NotificationType = "system"
)

// AllTypes lists every notification type in a stable order.
var AllTypes = []NotificationType{
	TypeCourse,
	TypeAssignment,
	TypeQuiz,
	TypeGrade,
	TypeLiveClass,
	TypePayment,
	TypeMessage,
	TypeAnnouncement,
	TypeSystem,
}

// Valid reports whether t belongs to the closed set of types.
func (t NotificationType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseType converts a raw string into a NotificationType.
func ParseType(s string) (NotificationType, error) {
	t := NotificationType(strings.TrimSpace(s))
	if !t.Valid() {
		return "", &ValidationError{Field: "type", Message: fmt.Sprintf("invalid notification type %q", s)}
	}
	return t, nil
}

// Priority is the user-facing urgency of a notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// AllPriorities lists every priority from most to least urgent.
var AllPriorities = []Priority{PriorityUrgent, PriorityHigh, PriorityNormal, PriorityLow}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ParsePriority converts a raw string into a Priority. Empty input yields normal.
func ParsePriority(s string) (Priority, error) {
	if strings.TrimSpace(s) == "" {
		return PriorityNormal, nil
	}
	p := Priority(strings.TrimSpace(s))
	if !p.Valid() {
		return "", &ValidationError{Field: "priority", Message: fmt.Sprintf("invalid priority %q", s)}
	}
	return p, nil
}

// JobPriority maps a notification priority onto the dispatch queue's numeric
// scale, where a lower value is served first.
func (p Priority) JobPriority() int {
	switch p {
	case PriorityUrgent:
		return 0
	case PriorityHigh:
		return 10
	case PriorityLow:
		return 30
	default:
		return 20
	}
}

// Notification represents one user-facing alert.
// Type, RecipientID and CreatedAt never change after creation; only Read and
// ReadAt are mutated.
type Notification struct {
	ID          string
	RecipientID string
	Type        NotificationType
	Title       string
	Message     string
	Payload     Payload
	Priority    Priority
	Read        bool
	ReadAt      *time.Time
	ActionURL   string
	Icon        string
	CreatedAt   time.Time
	ExpiresAt   *time.Time
}

const (
	maxTitleLength   = 200
	maxMessageLength = 2000
	maxIconLength    = 100
)

// Validate checks the fields a caller supplies when creating a notification.
func (n *Notification) Validate(now time.Time) error {
	if strings.TrimSpace(n.RecipientID) == "" {
		return &ValidationError{Field: "recipient_id", Message: "recipient_id is required"}
	}
	if !n.Type.Valid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("invalid notification type %q", n.Type)}
	}
	if strings.TrimSpace(n.Title) == "" {
		return &ValidationError{Field: "title", Message: "title is required"}
	}
	if len(n.Title) > maxTitleLength {
		return &ValidationError{Field: "title", Message: fmt.Sprintf("title is too long (max %d)", maxTitleLength)}
	}
	if strings.TrimSpace(n.Message) == "" {
		return &ValidationError{Field: "message", Message: "message is required"}
	}
	if len(n.Message) > maxMessageLength {
		return &ValidationError{Field: "message", Message: fmt.Sprintf("message is too long (max %d)", maxMessageLength)}
	}
	if !n.Priority.Valid() {
		return &ValidationError{Field: "priority", Message: fmt.Sprintf("invalid priority %q", n.Priority)}
	}
	if len(n.Icon) > maxIconLength {
		return &ValidationError{Field: "icon", Message: fmt.Sprintf("icon is too long (max %d)", maxIconLength)}
	}
	if n.ActionURL != "" {
		if err := ValidateActionURL(n.ActionURL); err != nil {
			return err
		}
	}
	if n.ExpiresAt != nil && !n.ExpiresAt.After(now) {
		return &ValidationError{Field: "expires_at", Message: "expires_at must be in the future"}
	}
	return nil
}

// Expired reports whether the notification is past its expiry time.
func (n *Notification) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !n.ExpiresAt.After(now)
}

// NotificationFilter narrows a recipient's notification list.
// Nil pointer fields are not applied.
type NotificationFilter struct {
	Type      *NotificationType
	Read      *bool
	Priority  *Priority
	StartDate *time.Time
	EndDate   *time.Time
	Limit     int
	Offset    int
}

// NotificationStats aggregates a recipient's notifications.
// ByPriority counts unread notifications only; ByType counts all of them.
type NotificationStats struct {
	Unread     int64                      `json:"unread"`
	Total      int64                      `json:"total"`
	ByType     map[NotificationType]int64 `json:"byType"`
	ByPriority map[Priority]int64         `json:"byPriority"`
}
