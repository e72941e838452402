// Package notify implements the notification use cases: recording in-app
// notifications, fanning them out to the queued channels a recipient accepts,
// and the read/stats views over a recipient's inbox.
package notify

import "errors"

// Sentinel errors for notify use case operations.
var (
	// ErrInvalidUserID indicates that the acting user is missing.
	ErrInvalidUserID = errors.New("invalid user ID")

	// ErrOptedOut indicates that the recipient disabled the requested channel
	// for the notification type. Nothing was queued.
	ErrOptedOut = errors.New("recipient opted out of this channel")

	// ErrNoAddress indicates that the recipient has no address for the
	// requested channel (no email, phone or registered device).
	ErrNoAddress = errors.New("recipient has no address for this channel")

	// ErrUnknownTemplate indicates that a direct send named a template the
	// catalog does not contain.
	ErrUnknownTemplate = errors.New("unknown template")
)
