// Package resilience groups the fault tolerance helpers used when talking to
// delivery providers.
//
//   - circuitbreaker wraps github.com/sony/gobreaker with one breaker per channel
//   - retry computes the exponential backoff applied between delivery attempts
//
// Usage Example:
//
//	cb := circuitbreaker.New(circuitbreaker.ChannelConfig("email"))
//	err := cb.Execute(func() error {
//	    return adapter.Send(ctx, job)
//	})
//
//	delay := retry.Backoff(retry.DeliveryConfig(), job.Attempts)
package resilience
