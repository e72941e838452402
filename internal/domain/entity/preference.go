package entity

import "fmt"

// Channel is one transport mechanism for a notification.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelSMS   Channel = "sms"
)

// QueuedChannels are the channels delivered asynchronously through the dispatch queue.
var QueuedChannels = []Channel{ChannelEmail, ChannelPush, ChannelSMS}

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelInApp, ChannelEmail, ChannelPush, ChannelSMS:
		return true
	}
	return false
}

// ParseChannel converts a raw string into a Channel.
func ParseChannel(s string) (Channel, error) {
	c := Channel(s)
	if !c.Valid() {
		return "", &ValidationError{Field: "channel", Message: fmt.Sprintf("invalid channel %q", s)}
	}
	return c, nil
}

// ChannelFlags holds the opt-in state of every channel for one notification type.
type ChannelFlags struct {
	InApp bool `json:"in_app"`
	Email bool `json:"email"`
	Push  bool `json:"push"`
	SMS   bool `json:"sms"`
}

// DefaultChannelFlags is applied when a user has never customised a type.
var DefaultChannelFlags = ChannelFlags{InApp: true, Email: true, Push: true, SMS: true}

// Allows reports whether the flags permit delivery on channel c.
func (f ChannelFlags) Allows(c Channel) bool {
	switch c {
	case ChannelInApp:
		return f.InApp
	case ChannelEmail:
		return f.Email
	case ChannelPush:
		return f.Push
	case ChannelSMS:
		return f.SMS
	}
	return false
}

// Preference is one stored (user, type) row.
type Preference struct {
	UserID string
	Type   NotificationType
	ChannelFlags
}

// Validate checks a preference row before it is stored.
func (p *Preference) Validate() error {
	if p.UserID == "" {
		return &ValidationError{Field: "user_id", Message: "user_id is required"}
	}
	if !p.Type.Valid() {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("invalid notification type %q", p.Type)}
	}
	return nil
}
