// Package dispatch drains the delivery queue: it claims jobs, hands them to
// the channel adapter under a timeout and a per-channel circuit breaker, and
// moves each job to its next state according to the outcome.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"school-notify/internal/domain/entity"
	"school-notify/internal/infra/notifier"
	"school-notify/internal/repository"
	"school-notify/internal/resilience/circuitbreaker"
	"school-notify/internal/resilience/retry"
)

// Adapter delivers a rendered template to one address on one channel.
// Errors are classified with notifier.Classify.
type Adapter interface {
	Channel() entity.Channel
	Send(ctx context.Context, address, templateName string, data map[string]string) error
}

// Config tunes the worker.
type Config struct {
	// Concurrency is the number of claim loops.
	Concurrency int
	// PollInterval is the pause after finding the queue empty.
	PollInterval time.Duration
	// SendTimeout bounds every adapter call.
	SendTimeout time.Duration
	// Retry shapes the backoff between attempts of one job.
	Retry retry.Config
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Concurrency:  4,
		PollInterval: time.Second,
		SendTimeout:  15 * time.Second,
		Retry:        retry.DeliveryConfig(),
	}
}

// Option customises a Worker.
type Option func(*Worker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithTracerProvider sets where send spans are recorded.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(w *Worker) { w.tracer = tp.Tracer(tracerName) }
}

// WithBreakerConfig overrides the per-channel breaker settings.
func WithBreakerConfig(fn func(ch entity.Channel) circuitbreaker.Config) Option {
	return func(w *Worker) { w.breakerConfig = fn }
}

const tracerName = "school-notify/dispatch"

// Worker claims and delivers queued jobs. It is safe to run several claim
// loops against one queue; the queue guarantees exclusive claims.
type Worker struct {
	queue         repository.DeliveryQueue
	log           repository.DeliveryLogRepository
	adapters      map[entity.Channel]Adapter
	breakers      map[entity.Channel]*circuitbreaker.CircuitBreaker
	breakerConfig func(ch entity.Channel) circuitbreaker.Config
	channels      []entity.Channel
	cfg           Config
	logger        *slog.Logger
	tracer        trace.Tracer
}

// NewWorker builds a worker for the given adapters. Channels without an
// adapter are never claimed.
func NewWorker(q repository.DeliveryQueue, log repository.DeliveryLogRepository, adapters []Adapter, cfg Config, opts ...Option) *Worker {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	if cfg.Retry.Validate() != nil {
		cfg.Retry = def.Retry
	}

	w := &Worker{
		queue:    q,
		log:      log,
		adapters: make(map[entity.Channel]Adapter, len(adapters)),
		breakers: make(map[entity.Channel]*circuitbreaker.CircuitBreaker, len(adapters)),
		breakerConfig: func(ch entity.Channel) circuitbreaker.Config {
			return circuitbreaker.ChannelConfig(string(ch))
		},
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(w)
	}

	for _, a := range adapters {
		ch := a.Channel()
		if _, dup := w.adapters[ch]; dup {
			continue
		}
		w.adapters[ch] = a
		w.channels = append(w.channels, ch)

		bc := w.breakerConfig(ch)
		bc.IsSuccessful = providerHealthy
		bc.OnStateChange = func(_ string, _, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				RecordBreakerOpen(string(ch))
			}
		}
		w.breakers[ch] = circuitbreaker.New(bc)
	}
	return w
}

// Run starts Concurrency claim loops and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("dispatch worker started",
		slog.Int("concurrency", w.cfg.Concurrency),
		slog.Any("channels", w.channels))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			return w.loop(gctx)
		})
	}
	err := g.Wait()
	w.logger.Info("dispatch worker stopped")
	return err
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		processed, err := w.ProcessOne(ctx)
		if err != nil && ctx.Err() == nil {
			w.logger.Error("dispatch iteration failed", slog.Any("error", err))
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// AvailableChannels lists the channels whose breaker currently admits calls.
func (w *Worker) AvailableChannels() []entity.Channel {
	out := make([]entity.Channel, 0, len(w.channels))
	for _, ch := range w.channels {
		if !w.breakers[ch].IsOpen() {
			out = append(out, ch)
		}
	}
	return out
}

// ChannelStatus describes one configured channel for health reporting.
type ChannelStatus struct {
	Channel     entity.Channel `json:"channel"`
	BreakerOpen bool           `json:"circuit_breaker_open"`
	State       string         `json:"state"`
}

// ChannelStatuses reports the breaker state of every configured channel.
func (w *Worker) ChannelStatuses() []ChannelStatus {
	out := make([]ChannelStatus, 0, len(w.channels))
	for _, ch := range w.channels {
		b := w.breakers[ch]
		out = append(out, ChannelStatus{Channel: ch, BreakerOpen: b.IsOpen(), State: b.State().String()})
	}
	return out
}

// ProcessOne claims and handles at most one job. It reports whether a job
// was claimed.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	channels := w.AvailableChannels()
	if len(channels) == 0 {
		return false, nil
	}
	job, err := w.queue.DequeueNext(ctx, channels...)
	if err != nil {
		return false, fmt.Errorf("dequeue: %w", err)
	}
	if job == nil {
		return false, nil
	}
	return true, w.handle(ctx, job)
}

func (w *Worker) handle(ctx context.Context, job *entity.DeliveryJob) error {
	ctx, span := w.tracer.Start(ctx, "dispatch.send", trace.WithAttributes(
		attribute.Int64("job.id", job.ID),
		attribute.String("job.channel", string(job.Channel)),
		attribute.String("job.template", job.TemplateName),
		attribute.Int("job.attempt", job.Attempts+1),
	))
	defer span.End()

	log := w.logger.With(
		slog.Int64("job_id", job.ID),
		slog.String("channel", string(job.Channel)),
		slog.String("notification_id", job.NotificationID),
	)

	start := time.Now()
	sendErr := w.send(ctx, job)
	outcome := notifier.Classify(sendErr)
	RecordAttempt(string(job.Channel), outcome.String(), time.Since(start))
	span.SetAttributes(attribute.String("job.outcome", outcome.String()))
	if sendErr != nil {
		span.RecordError(sendErr)
		span.SetStatus(codes.Error, outcome.String())
	}

	// state transitions must land even when shutdown cancels ctx mid-send
	qctx := context.WithoutCancel(ctx)

	switch outcome {
	case notifier.OutcomeDelivered:
		if err := w.queue.Complete(qctx, job.ID); err != nil {
			return fmt.Errorf("complete job %d: %w", job.ID, err)
		}
		w.record(qctx, log, job, entity.EventDelivered, "")
		log.Debug("delivered")
		return nil

	case notifier.OutcomePermanent:
		reason := sendErr.Error()
		if _, err := w.queue.Terminate(qctx, job.ID, reason); err != nil {
			return fmt.Errorf("terminate job %d: %w", job.ID, err)
		}
		w.record(qctx, log, job, entity.EventBounced, reason)
		log.Warn("delivery rejected permanently", slog.String("reason", reason))
		return nil
	}

	reason := sendErr.Error()
	backoff := retry.Backoff(w.cfg.Retry, job.Attempts+1)
	if hint, ok := notifier.RetryAfter(sendErr); ok && hint > backoff {
		backoff = hint
	}
	updated, err := w.queue.Fail(qctx, job.ID, reason, backoff)
	if err != nil {
		return fmt.Errorf("fail job %d: %w", job.ID, err)
	}
	if updated.State == entity.JobFailed {
		RecordExhausted(string(job.Channel))
		w.record(qctx, log, job, entity.EventFailed, reason)
		log.Error("delivery failed after exhausting retries",
			slog.String("recipient_id", job.RecipientID),
			slog.Int("attempts", updated.Attempts),
			slog.String("reason", reason))
		return nil
	}
	w.record(qctx, log, job, entity.EventDeferred, reason)
	log.Info("delivery deferred",
		slog.Int("attempts", updated.Attempts),
		slog.Duration("backoff", backoff),
		slog.String("reason", reason))
	return nil
}

// send calls the adapter through the channel breaker.
func (w *Worker) send(ctx context.Context, job *entity.DeliveryJob) error {
	adapter, ok := w.adapters[job.Channel]
	if !ok {
		return notifier.Permanent("no adapter for channel "+string(job.Channel), nil)
	}

	sctx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()

	err := w.breakers[job.Channel].Execute(func() error {
		return w.safeSend(sctx, adapter, job)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("channel %s unavailable: %w", job.Channel, err)
	}
	return err
}

// providerHealthy reports whether err leaves the provider's health intact.
// A bad address or unregistered token is the recipient's fault.
func providerHealthy(err error) bool {
	return err == nil || notifier.Classify(err) == notifier.OutcomePermanent
}

func (w *Worker) safeSend(ctx context.Context, a Adapter, job *entity.DeliveryJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			RecordPanic(string(job.Channel))
			w.logger.Error("channel adapter panicked",
				slog.Int64("job_id", job.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			err = fmt.Errorf("adapter panic: %v", r)
		}
	}()
	return a.Send(ctx, job.Address, job.TemplateName, job.TemplateData)
}

func (w *Worker) record(ctx context.Context, log *slog.Logger, job *entity.DeliveryJob, kind entity.DeliveryEventKind, detail string) {
	if w.log == nil {
		return
	}
	id := job.ID
	ev := &entity.DeliveryEvent{
		JobID:          &id,
		NotificationID: job.NotificationID,
		Channel:        job.Channel,
		Event:          kind,
		Detail:         detail,
		OccurredAt:     time.Now(),
	}
	if err := w.log.Append(ctx, ev); err != nil {
		log.Warn("failed to append delivery event", slog.String("event", string(kind)), slog.Any("error", err))
	}
}

// RefreshQueueGauges publishes the queue depth per state.
func RefreshQueueGauges(ctx context.Context, q repository.DeliveryQueue) error {
	counts, err := q.Counts(ctx)
	if err != nil {
		return fmt.Errorf("queue counts: %w", err)
	}
	for state, n := range counts {
		SetQueueDepth(string(state), float64(n))
	}
	return nil
}
