package entity

import (
	"fmt"
	"time"
)

// JobState is the position of a delivery job in its state machine:
//
//	pending -> in_flight -> delivered | pending (retry) | failed
//
// delivered and failed are absorbing.
type JobState string

const (
	JobPending   JobState = "pending"
	JobInFlight  JobState = "in_flight"
	JobDelivered JobState = "delivered"
	JobFailed    JobState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s JobState) Terminal() bool {
	return s == JobDelivered || s == JobFailed
}

// CanTransition reports whether the state machine allows moving from s to next.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobPending:
		return next == JobInFlight
	case JobInFlight:
		return next == JobDelivered || next == JobPending || next == JobFailed
	}
	return false
}

// DeliveryJob is one queued attempt to send one notification through one channel.
type DeliveryJob struct {
	ID             int64
	Channel        Channel
	Address        string
	TemplateName   string
	TemplateData   map[string]string
	NotificationID string
	RecipientID    string
	// Priority orders the queue; lower values are served first.
	Priority    int
	State       JobState
	Attempts    int
	MaxAttempts int
	LastError   string
	EnqueuedAt  time.Time
	VisibleAt   time.Time
	ClaimedAt   *time.Time
	CompletedAt *time.Time
}

// Validate checks a job before it is enqueued.
func (j *DeliveryJob) Validate() error {
	if j.Channel != ChannelEmail && j.Channel != ChannelPush && j.Channel != ChannelSMS {
		return &ValidationError{Field: "channel", Message: fmt.Sprintf("channel %q cannot be queued", j.Channel)}
	}
	if j.Address == "" {
		return &ValidationError{Field: "address", Message: "address is required"}
	}
	if j.TemplateName == "" {
		return &ValidationError{Field: "template_name", Message: "template_name is required"}
	}
	if j.MaxAttempts < 1 {
		return &ValidationError{Field: "max_attempts", Message: "max_attempts must be at least 1"}
	}
	return nil
}

// DeliveryEventKind is the outcome recorded in the delivery log.
type DeliveryEventKind string

const (
	EventDelivered  DeliveryEventKind = "delivered"
	EventDeferred   DeliveryEventKind = "deferred"
	EventBounced    DeliveryEventKind = "bounced"
	EventFailed     DeliveryEventKind = "failed"
	EventOpened     DeliveryEventKind = "opened"
	EventClicked    DeliveryEventKind = "clicked"
	EventComplained DeliveryEventKind = "complained"
)

// ParseDeliveryEventKind accepts the outcomes a provider may report back.
func ParseDeliveryEventKind(s string) (DeliveryEventKind, error) {
	switch k := DeliveryEventKind(s); k {
	case EventDelivered, EventOpened, EventClicked, EventBounced, EventComplained:
		return k, nil
	}
	return "", &ValidationError{Field: "event", Message: fmt.Sprintf("invalid delivery event %q", s)}
}

// DeliveryEvent is an append-only audit record of a channel attempt outcome.
type DeliveryEvent struct {
	ID             int64
	JobID          *int64
	NotificationID string
	Channel        Channel
	Event          DeliveryEventKind
	Detail         string
	OccurredAt     time.Time
}

// DeliveryStats summarises the delivery log and queue for operators.
type DeliveryStats struct {
	Since  time.Time                               `json:"since"`
	Events map[Channel]map[DeliveryEventKind]int64 `json:"events"`
	Queue  map[JobState]int64                      `json:"queue"`
}
