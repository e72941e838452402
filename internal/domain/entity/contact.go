package entity

import (
	"fmt"
	"time"
)

// Contact holds the out-of-band addresses of a user.
type Contact struct {
	UserID string
	Email  string
	Phone  string
}

// Address returns the contact's address for channel c, or "" if none is known.
func (c *Contact) Address(ch Channel) string {
	if c == nil {
		return ""
	}
	switch ch {
	case ChannelEmail:
		return c.Email
	case ChannelSMS:
		return c.Phone
	}
	return ""
}

// Platform is the device family a push token belongs to.
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformWeb     Platform = "web"
)

// PushSubscription is a device token registered by a user.
type PushSubscription struct {
	UserID    string
	Token     string
	Platform  Platform
	CreatedAt time.Time
}

const maxPushTokenLength = 4096

// Validate checks a subscription before it is stored.
func (s *PushSubscription) Validate() error {
	if s.UserID == "" {
		return &ValidationError{Field: "user_id", Message: "user_id is required"}
	}
	if s.Token == "" {
		return &ValidationError{Field: "token", Message: "token is required"}
	}
	if len(s.Token) > maxPushTokenLength {
		return &ValidationError{Field: "token", Message: "token is too long"}
	}
	switch s.Platform {
	case PlatformAndroid, PlatformIOS, PlatformWeb:
		return nil
	}
	return &ValidationError{Field: "platform", Message: fmt.Sprintf("invalid platform %q", s.Platform)}
}
