// Package preference holds the per-user channel opt-in rules that gate every
// out-of-band delivery. A user who never touched a notification type receives
// it on every channel.
package preference

import "errors"

var (
	// ErrInvalidUserID indicates that the caller supplied an empty user ID.
	ErrInvalidUserID = errors.New("invalid user ID")
)
