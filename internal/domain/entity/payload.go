package entity

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// CurrentPayloadVersion is the only payload schema version accepted on write.
const CurrentPayloadVersion = 1

// Payload is the structured data attached to a notification. Data always
// holds the canonical JSON of the schema registered for the notification's type.
type Payload struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// EmptyPayload returns a payload with no data at the current version.
func EmptyPayload() Payload {
	return Payload{Version: CurrentPayloadVersion, Data: json.RawMessage(`{}`)}
}

type payloadSchema interface {
	validate() error
	templateData() map[string]string
}

// CoursePayload accompanies course notifications.
type CoursePayload struct {
	CourseID   string `json:"course_id,omitempty"`
	CourseName string `json:"course_name,omitempty"`
}

// AssignmentPayload accompanies assignment notifications.
type AssignmentPayload struct {
	CourseID     string     `json:"course_id,omitempty"`
	AssignmentID string     `json:"assignment_id,omitempty"`
	DueAt        *time.Time `json:"due_at,omitempty"`
}

// QuizPayload accompanies quiz notifications.
type QuizPayload struct {
	CourseID string     `json:"course_id,omitempty"`
	QuizID   string     `json:"quiz_id,omitempty"`
	OpensAt  *time.Time `json:"opens_at,omitempty"`
	ClosesAt *time.Time `json:"closes_at,omitempty"`
}

// GradePayload accompanies grade notifications.
type GradePayload struct {
	CourseID     string   `json:"course_id,omitempty"`
	AssignmentID string   `json:"assignment_id,omitempty"`
	Score        *float64 `json:"score,omitempty"`
	MaxScore     *float64 `json:"max_score,omitempty"`
	Letter       string   `json:"letter,omitempty"`
}

// LiveClassPayload accompanies live class notifications.
type LiveClassPayload struct {
	CourseID string     `json:"course_id,omitempty"`
	ClassID  string     `json:"class_id,omitempty"`
	StartsAt *time.Time `json:"starts_at,omitempty"`
	JoinURL  string     `json:"join_url,omitempty"`
}

// PaymentPayload accompanies payment notifications. Amounts are in minor units.
type PaymentPayload struct {
	PaymentID   string `json:"payment_id,omitempty"`
	AmountMinor int64  `json:"amount_minor,omitempty"`
	Currency    string `json:"currency,omitempty"`
	Status      string `json:"status,omitempty"`
}

// MessagePayload accompanies direct message notifications.
type MessagePayload struct {
	ThreadID   string `json:"thread_id,omitempty"`
	SenderID   string `json:"sender_id,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
}

// AnnouncementPayload accompanies announcements.
type AnnouncementPayload struct {
	AnnouncementID string `json:"announcement_id,omitempty"`
	CourseID       string `json:"course_id,omitempty"`
}

// SystemPayload accompanies system notifications.
type SystemPayload struct {
	Code     string `json:"code,omitempty"`
	Severity string `json:"severity,omitempty"`
}

func (p *CoursePayload) validate() error { return nil }

func (p *CoursePayload) templateData() map[string]string {
	return compact(map[string]string{"course_id": p.CourseID, "course_name": p.CourseName})
}

func (p *AssignmentPayload) validate() error { return nil }

func (p *AssignmentPayload) templateData() map[string]string {
	return compact(map[string]string{
		"course_id":     p.CourseID,
		"assignment_id": p.AssignmentID,
		"due_at":        formatTime(p.DueAt),
	})
}

func (p *QuizPayload) validate() error {
	if p.OpensAt != nil && p.ClosesAt != nil && p.ClosesAt.Before(*p.OpensAt) {
		return &ValidationError{Field: "data.closes_at", Message: "closes_at cannot be before opens_at"}
	}
	return nil
}

func (p *QuizPayload) templateData() map[string]string {
	return compact(map[string]string{
		"course_id": p.CourseID,
		"quiz_id":   p.QuizID,
		"opens_at":  formatTime(p.OpensAt),
		"closes_at": formatTime(p.ClosesAt),
	})
}

func (p *GradePayload) validate() error {
	if p.Score != nil && *p.Score < 0 {
		return &ValidationError{Field: "data.score", Message: "score cannot be negative"}
	}
	if p.MaxScore != nil && *p.MaxScore <= 0 {
		return &ValidationError{Field: "data.max_score", Message: "max_score must be positive"}
	}
	if p.Score != nil && p.MaxScore != nil && *p.Score > *p.MaxScore {
		return &ValidationError{Field: "data.score", Message: "score cannot be greater than max_score"}
	}
	return nil
}

func (p *GradePayload) templateData() map[string]string {
	return compact(map[string]string{
		"course_id":     p.CourseID,
		"assignment_id": p.AssignmentID,
		"score":         formatFloat(p.Score),
		"max_score":     formatFloat(p.MaxScore),
		"letter":        p.Letter,
	})
}

func (p *LiveClassPayload) validate() error {
	if p.JoinURL != "" {
		if err := ValidateActionURL(p.JoinURL); err != nil {
			return &ValidationError{Field: "data.join_url", Message: "join_url is invalid"}
		}
	}
	return nil
}

func (p *LiveClassPayload) templateData() map[string]string {
	return compact(map[string]string{
		"course_id": p.CourseID,
		"class_id":  p.ClassID,
		"starts_at": formatTime(p.StartsAt),
		"join_url":  p.JoinURL,
	})
}

func (p *PaymentPayload) validate() error {
	if p.AmountMinor < 0 {
		return &ValidationError{Field: "data.amount_minor", Message: "amount_minor cannot be negative"}
	}
	if p.Currency != "" && len(p.Currency) != 3 {
		return &ValidationError{Field: "data.currency", Message: "currency must be a 3-letter ISO code"}
	}
	return nil
}

func (p *PaymentPayload) templateData() map[string]string {
	data := map[string]string{
		"payment_id": p.PaymentID,
		"currency":   p.Currency,
		"status":     p.Status,
	}
	if p.AmountMinor > 0 {
		data["amount"] = fmt.Sprintf("%d.%02d", p.AmountMinor/100, p.AmountMinor%100)
	}
	return compact(data)
}

func (p *MessagePayload) validate() error { return nil }

func (p *MessagePayload) templateData() map[string]string {
	return compact(map[string]string{
		"thread_id":   p.ThreadID,
		"sender_id":   p.SenderID,
		"sender_name": p.SenderName,
	})
}

func (p *AnnouncementPayload) validate() error { return nil }

func (p *AnnouncementPayload) templateData() map[string]string {
	return compact(map[string]string{"announcement_id": p.AnnouncementID, "course_id": p.CourseID})
}

func (p *SystemPayload) validate() error {
	switch p.Severity {
	case "", "info", "warning", "critical":
		return nil
	}
	return &ValidationError{Field: "data.severity", Message: "severity must be info, warning or critical"}
}

func (p *SystemPayload) templateData() map[string]string {
	return compact(map[string]string{"code": p.Code, "severity": p.Severity})
}

func schemaFor(t NotificationType) payloadSchema {
	switch t {
	case TypeCourse:
		return &CoursePayload{}
	case TypeAssignment:
		return &AssignmentPayload{}
	case TypeQuiz:
		return &QuizPayload{}
	case TypeGrade:
		return &GradePayload{}
	case TypeLiveClass:
		return &LiveClassPayload{}
	case TypePayment:
		return &PaymentPayload{}
	case TypeMessage:
		return &MessagePayload{}
	case TypeAnnouncement:
		return &AnnouncementPayload{}
	case TypeSystem:
		return &SystemPayload{}
	}
	return nil
}

// DecodePayload validates raw JSON against the schema of type t and returns
// the canonical payload. Version 0 means "current". Unknown fields are rejected.
func DecodePayload(t NotificationType, version int, raw json.RawMessage) (Payload, error) {
	schema, err := decodeSchema(t, version, raw)
	if err != nil {
		return Payload{}, err
	}
	canonical, err := json.Marshal(schema)
	if err != nil {
		return Payload{}, fmt.Errorf("encode payload: %w", err)
	}
	return Payload{Version: CurrentPayloadVersion, Data: canonical}, nil
}

// Typed returns the payload decoded into the schema struct of type t,
// for example *GradePayload for TypeGrade.
func (p Payload) Typed(t NotificationType) (any, error) {
	return decodeSchema(t, p.Version, p.Data)
}

// TemplateData flattens the payload into template variables. Payloads that
// no longer decode yield an empty map.
func (p Payload) TemplateData(t NotificationType) map[string]string {
	schema, err := decodeSchema(t, p.Version, p.Data)
	if err != nil {
		return map[string]string{}
	}
	return schema.templateData()
}

func decodeSchema(t NotificationType, version int, raw json.RawMessage) (payloadSchema, error) {
	schema := schemaFor(t)
	if schema == nil {
		return nil, &ValidationError{Field: "type", Message: fmt.Sprintf("invalid notification type %q", t)}
	}
	if version == 0 {
		version = CurrentPayloadVersion
	}
	if version != CurrentPayloadVersion {
		return nil, &ValidationError{Field: "data_version", Message: fmt.Sprintf("unsupported payload version %d", version)}
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(schema); err != nil {
		return nil, &ValidationError{Field: "data", Message: fmt.Sprintf("data is invalid for %s notifications: %v", t, err)}
	}
	if err := schema.validate(); err != nil {
		return nil, err
	}
	return schema, nil
}

func compact(m map[string]string) map[string]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
