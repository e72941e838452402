// Package notifier implements the out-of-band delivery channels: email over
// SMTP, push through Firebase Cloud Messaging and SMS through an HTTP gateway.
//
// Every adapter exposes Channel and Send. Send returns nil when the provider
// accepted the message; any other result is sorted into a transient or a
// permanent failure by Classify so the dispatch worker can decide between a
// retry and a terminal failure.
package notifier

import (
	"errors"
	"fmt"
	"time"
)

// PermanentError marks a failure that will not succeed on retry, such as an
// invalid address or an unregistered device token.
type PermanentError struct {
	Reason string
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *PermanentError) Unwrap() error   { return e.Err }
func (e *PermanentError) Retryable() bool { return false }

// Permanent wraps err as a PermanentError.
func Permanent(reason string, err error) error {
	return &PermanentError{Reason: reason, Err: err}
}

// RateLimitError represents a 429 from a provider.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded (retry after %v)", e.RetryAfter)
}

func (e *RateLimitError) Retryable() bool { return true }

// ClientError represents a 4xx response other than 429. It is permanent.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string   { return e.Message }
func (e *ClientError) Retryable() bool { return false }

// ServerError represents a 5xx response or an SMTP 4xx reply.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string   { return e.Message }
func (e *ServerError) Retryable() bool { return true }

// Outcome is the result of one delivery attempt.
type Outcome int

const (
	OutcomeDelivered Outcome = iota
	OutcomeTransient
	OutcomePermanent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDelivered:
		return "delivered"
	case OutcomeTransient:
		return "transient"
	case OutcomePermanent:
		return "permanent"
	}
	return "unknown"
}

// Classify maps the error returned by Send to an Outcome. Unknown errors,
// including timeouts and network failures, are transient.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeDelivered
	}
	var permanent *PermanentError
	if errors.As(err, &permanent) {
		return OutcomePermanent
	}
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return OutcomePermanent
	}
	return OutcomeTransient
}

// RetryAfter returns the provider's backoff hint, if it sent one.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) && rl.RetryAfter > 0 {
		return rl.RetryAfter, true
	}
	return 0, false
}
