package dispatch_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"school-notify/internal/domain/entity"
	"school-notify/internal/infra/notifier"
	"school-notify/internal/infra/queue"
	"school-notify/internal/resilience/circuitbreaker"
	"school-notify/internal/resilience/retry"
	"school-notify/internal/usecase/dispatch"
)

/*──────────────────── fakes ────────────────────*/

type fakeAdapter struct {
	ch entity.Channel

	mu    sync.Mutex
	calls []string
	// next returns the result of the n-th call (0-based).
	next func(n int) error
}

func (a *fakeAdapter) Channel() entity.Channel { return a.ch }

func (a *fakeAdapter) Send(ctx context.Context, address, _ string, _ map[string]string) error {
	a.mu.Lock()
	n := len(a.calls)
	a.calls = append(a.calls, address)
	next := a.next
	a.mu.Unlock()
	if next == nil {
		return nil
	}
	return next(n)
}

func (a *fakeAdapter) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

type memLog struct {
	mu     sync.Mutex
	events []entity.DeliveryEventKind
}

func (l *memLog) Append(_ context.Context, ev *entity.DeliveryEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev.Event)
	return nil
}

func (l *memLog) Summary(context.Context, time.Time) (map[entity.Channel]map[entity.DeliveryEventKind]int64, error) {
	return nil, nil
}

func (l *memLog) kinds() []entity.DeliveryEventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]entity.DeliveryEventKind(nil), l.events...)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testConfig() dispatch.Config {
	return dispatch.Config{
		Concurrency:  1,
		PollInterval: 5 * time.Millisecond,
		SendTimeout:  time.Second,
		Retry: retry.Config{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     time.Second,
			Multiplier:   1,
		},
	}
}

func enqueue(t *testing.T, q *queue.MemoryQueue, ch entity.Channel, addr string, priority int) int64 {
	t.Helper()
	id, err := q.Enqueue(context.Background(), &entity.DeliveryJob{
		Channel:        ch,
		Address:        addr,
		TemplateName:   "grade_" + string(ch),
		NotificationID: "n-" + addr,
		MaxAttempts:    3,
	}, priority)
	require.NoError(t, err)
	return id
}

func counts(t *testing.T, q *queue.MemoryQueue) map[entity.JobState]int64 {
	t.Helper()
	c, err := q.Counts(context.Background())
	require.NoError(t, err)
	return c
}

/*──────────────────── tests ────────────────────*/

func TestProcessOne_Delivered(t *testing.T) {
	q := queue.NewMemoryQueue()
	log := &memLog{}
	email := &fakeAdapter{ch: entity.ChannelEmail}

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	w := dispatch.NewWorker(q, log, []dispatch.Adapter{email}, testConfig(), dispatch.WithTracerProvider(tp))
	enqueue(t, q, entity.ChannelEmail, "a@school.test", 20)

	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)

	assert.EqualValues(t, 1, counts(t, q)[entity.JobDelivered])
	assert.Equal(t, []entity.DeliveryEventKind{entity.EventDelivered}, log.kinds())

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "dispatch.send", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("job.outcome", "delivered"))

	processed, err = w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, processed, "queue should be empty")
}

func TestProcessOne_RetryBudget(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	q := queue.NewMemoryQueue(queue.WithClock(clk.Now))
	log := &memLog{}
	sms := &fakeAdapter{ch: entity.ChannelSMS, next: func(int) error {
		return &notifier.ServerError{StatusCode: 503, Message: "gateway unavailable"}
	}}
	// keep the breaker out of the way
	w := dispatch.NewWorker(q, log, []dispatch.Adapter{sms}, testConfig(),
		dispatch.WithBreakerConfig(func(ch entity.Channel) circuitbreaker.Config {
			cfg := circuitbreaker.ChannelConfig(string(ch))
			cfg.MinRequests = 100
			return cfg
		}))
	enqueue(t, q, entity.ChannelSMS, "+15550100001", 20)

	for i := 0; i < 3; i++ {
		processed, err := w.ProcessOne(context.Background())
		require.NoError(t, err)
		require.True(t, processed, "attempt %d", i+1)
		clk.Advance(time.Minute)
	}

	assert.Equal(t, 3, sms.callCount())
	assert.Equal(t, []entity.DeliveryEventKind{entity.EventDeferred, entity.EventDeferred, entity.EventFailed}, log.kinds())
	c := counts(t, q)
	assert.EqualValues(t, 1, c[entity.JobFailed])
	assert.EqualValues(t, 0, c[entity.JobPending])
}

func TestProcessOne_BackoffHidesJob(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	q := queue.NewMemoryQueue(queue.WithClock(clk.Now))
	calls := 0
	push := &fakeAdapter{ch: entity.ChannelPush, next: func(n int) error {
		calls = n + 1
		if n == 0 {
			return &notifier.RateLimitError{RetryAfter: 10 * time.Minute}
		}
		return nil
	}}
	w := dispatch.NewWorker(q, &memLog{}, []dispatch.Adapter{push}, testConfig())
	enqueue(t, q, entity.ChannelPush, "device-a", 20)

	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	// the provider's hint outweighs the one-second backoff
	clk.Advance(5 * time.Minute)
	processed, err = w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)

	clk.Advance(6 * time.Minute)
	processed, err = w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, processed)
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 1, counts(t, q)[entity.JobDelivered])
}

func TestProcessOne_PermanentFailureIsTerminal(t *testing.T) {
	q := queue.NewMemoryQueue()
	log := &memLog{}
	email := &fakeAdapter{ch: entity.ChannelEmail, next: func(int) error {
		return notifier.Permanent("invalid recipient address", nil)
	}}
	w := dispatch.NewWorker(q, log, []dispatch.Adapter{email}, testConfig(),
		dispatch.WithBreakerConfig(func(ch entity.Channel) circuitbreaker.Config {
			cfg := circuitbreaker.ChannelConfig(string(ch))
			cfg.MinRequests = 1
			cfg.FailureThreshold = 0.1
			return cfg
		}))
	enqueue(t, q, entity.ChannelEmail, "not-an-address", 20)

	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	assert.Equal(t, 1, email.callCount())
	assert.EqualValues(t, 1, counts(t, q)[entity.JobFailed])
	assert.Equal(t, []entity.DeliveryEventKind{entity.EventBounced}, log.kinds())
	// a bad address is not a provider outage
	assert.Equal(t, []entity.Channel{entity.ChannelEmail}, w.AvailableChannels())
	assert.Equal(t, []dispatch.ChannelStatus{
		{Channel: entity.ChannelEmail, BreakerOpen: false, State: "closed"},
	}, w.ChannelStatuses())
}

func TestProcessOne_ClientErrorIsPermanent(t *testing.T) {
	q := queue.NewMemoryQueue()
	sms := &fakeAdapter{ch: entity.ChannelSMS, next: func(int) error {
		return &notifier.ClientError{StatusCode: 422, Message: "invalid number"}
	}}
	w := dispatch.NewWorker(q, &memLog{}, []dispatch.Adapter{sms}, testConfig())
	enqueue(t, q, entity.ChannelSMS, "+15550100001", 20)

	_, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, counts(t, q)[entity.JobFailed])
}

func TestProcessOne_PanicIsTransient(t *testing.T) {
	q := queue.NewMemoryQueue()
	log := &memLog{}
	push := &fakeAdapter{ch: entity.ChannelPush, next: func(int) error {
		panic("nil map write")
	}}
	w := dispatch.NewWorker(q, log, []dispatch.Adapter{push}, testConfig())
	enqueue(t, q, entity.ChannelPush, "device-a", 20)

	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	assert.Equal(t, []entity.DeliveryEventKind{entity.EventDeferred}, log.kinds())
	assert.EqualValues(t, 1, counts(t, q)[entity.JobPending])
}

func TestProcessOne_SendTimeoutIsTransient(t *testing.T) {
	q := queue.NewMemoryQueue()
	log := &memLog{}
	slow := &blockingAdapter{ch: entity.ChannelEmail}
	cfg := testConfig()
	cfg.SendTimeout = 20 * time.Millisecond
	w := dispatch.NewWorker(q, log, []dispatch.Adapter{slow}, cfg)
	enqueue(t, q, entity.ChannelEmail, "a@school.test", 20)

	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, []entity.DeliveryEventKind{entity.EventDeferred}, log.kinds())
}

type blockingAdapter struct{ ch entity.Channel }

func (b *blockingAdapter) Channel() entity.Channel { return b.ch }

func (b *blockingAdapter) Send(ctx context.Context, _, _ string, _ map[string]string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestProcessOne_OpenBreakerChannelIsSkipped(t *testing.T) {
	clk := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	q := queue.NewMemoryQueue(queue.WithClock(clk.Now))
	sms := &fakeAdapter{ch: entity.ChannelSMS, next: func(int) error {
		return errors.New("connection reset")
	}}
	email := &fakeAdapter{ch: entity.ChannelEmail}
	w := dispatch.NewWorker(q, &memLog{}, []dispatch.Adapter{sms, email}, testConfig(),
		dispatch.WithBreakerConfig(func(ch entity.Channel) circuitbreaker.Config {
			cfg := circuitbreaker.ChannelConfig(string(ch))
			cfg.MinRequests = 1
			cfg.FailureThreshold = 0.5
			cfg.Timeout = time.Hour
			return cfg
		}))

	enqueue(t, q, entity.ChannelSMS, "+15550100001", 0)
	enqueue(t, q, entity.ChannelEmail, "a@school.test", 20)

	// the urgent sms is claimed first and trips the breaker
	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, []entity.Channel{entity.ChannelEmail}, w.AvailableChannels())

	// once visible again the sms job outranks email, but sms is filtered out
	clk.Advance(time.Minute)
	processed, err = w.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, processed)
	assert.Equal(t, 1, email.callCount())
	assert.Equal(t, 1, sms.callCount())

	processed, err = w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, processed)
	assert.EqualValues(t, 1, counts(t, q)[entity.JobPending])
}

func TestProcessOne_NoAdapterForChannel(t *testing.T) {
	q := queue.NewMemoryQueue()
	w := dispatch.NewWorker(q, &memLog{}, []dispatch.Adapter{&fakeAdapter{ch: entity.ChannelEmail}}, testConfig())
	enqueue(t, q, entity.ChannelSMS, "+15550100001", 20)

	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, processed, "jobs for channels without an adapter are never claimed")
}

func TestRun_DeliversEachJobOnce(t *testing.T) {
	q := queue.NewMemoryQueue()
	email := &fakeAdapter{ch: entity.ChannelEmail}
	cfg := testConfig()
	cfg.Concurrency = 4
	w := dispatch.NewWorker(q, &memLog{}, []dispatch.Adapter{email}, cfg)

	const jobs = 40
	for i := 0; i < jobs; i++ {
		enqueue(t, q, entity.ChannelEmail, fmt.Sprintf("user%d@school.test", i), i%3)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool {
		return counts(t, q)[entity.JobDelivered] == jobs
	}, 5*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	seen := map[string]int{}
	email.mu.Lock()
	for _, addr := range email.calls {
		seen[addr]++
	}
	email.mu.Unlock()
	assert.Len(t, seen, jobs)
	for addr, n := range seen {
		assert.Equal(t, 1, n, addr)
	}
}

func TestRefreshQueueGauges(t *testing.T) {
	q := queue.NewMemoryQueue()
	enqueue(t, q, entity.ChannelEmail, "a@school.test", 20)
	require.NoError(t, dispatch.RefreshQueueGauges(context.Background(), q))
}

func TestProcessOne_RelayAuthFailureTripsBreaker(t *testing.T) {
	q := queue.NewMemoryQueue()
	email := &fakeAdapter{ch: entity.ChannelEmail, next: func(int) error {
		return &notifier.ServerError{StatusCode: 535, Message: "smtp auth 535: authentication failed"}
	}}
	w := dispatch.NewWorker(q, &memLog{}, []dispatch.Adapter{email}, testConfig(),
		dispatch.WithBreakerConfig(func(ch entity.Channel) circuitbreaker.Config {
			cfg := circuitbreaker.ChannelConfig(string(ch))
			cfg.MinRequests = 1
			cfg.FailureThreshold = 0.5
			cfg.Timeout = time.Hour
			return cfg
		}))
	enqueue(t, q, entity.ChannelEmail, "a@school.test", 20)

	processed, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	require.True(t, processed)

	// bad relay credentials are the provider's fault: retry budget kept, breaker open
	assert.EqualValues(t, 1, counts(t, q)[entity.JobPending])
	assert.Empty(t, w.AvailableChannels())
}
