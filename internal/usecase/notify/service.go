package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"school-notify/internal/domain/entity"
	"school-notify/internal/observability/logging"
	"school-notify/internal/repository"
)

// Defaults applied by NewService when Config leaves a field zero.
const (
	defaultMaxAttempts       = 3
	defaultEnqueueTimeout    = 5 * time.Second
	defaultBulkConcurrency   = 8
	defaultMaxBulkRecipients = 1000
	defaultListLimit         = 20
	maxListLimit             = 100
)

// Service is the entry point for everything that creates or reads notifications.
type Service interface {
	// Notify records an in-app notification for one recipient and queues a
	// delivery job for every out-of-band channel the recipient accepts.
	//
	// The record is persisted unconditionally once the input is valid.
	// Preference, address and enqueue failures are logged and counted but
	// never returned: the caller only sees validation and persistence errors.
	Notify(ctx context.Context, in NotifyInput) (*entity.Notification, error)

	// List returns the recipient's unexpired notifications, most recent first,
	// together with the number of rows matching the filter.
	List(ctx context.Context, userID string, filter entity.NotificationFilter) ([]*entity.Notification, int64, error)

	// MarkRead marks one notification read. It is idempotent and keeps the
	// first read time.
	//
	// Returns:
	//   - entity.ErrNotFound: no such notification
	//   - entity.ErrForbidden: the notification belongs to someone else
	MarkRead(ctx context.Context, notificationID, userID string) error

	// MarkAllRead marks every unread notification of userID read and returns
	// how many changed.
	MarkAllRead(ctx context.Context, userID string) (int64, error)

	// Stats aggregates the recipient's inbox. ByPriority counts unread
	// notifications only.
	Stats(ctx context.Context, userID string) (*entity.NotificationStats, error)

	// SendBulk runs Notify for every recipient with bounded concurrency.
	// Content is validated once up front; per-recipient failures are
	// collected in the result instead of aborting the batch.
	SendBulk(ctx context.Context, in BulkInput) (*BulkResult, error)

	// SendPush queues a push-only delivery to every device the user
	// registered. No notification record is created.
	SendPush(ctx context.Context, in PushInput) (int, error)

	// SendTemplatedEmail queues one email rendered from a catalog template.
	// The template's category decides which preference gates the send.
	SendTemplatedEmail(ctx context.Context, in EmailInput) (int64, error)

	RegisterPushSubscription(ctx context.Context, sub *entity.PushSubscription) error
	RemovePushSubscription(ctx context.Context, userID, token string) error

	// RecordDeliveryEvent appends a provider callback (opened, bounced...) to
	// the delivery log.
	RecordDeliveryEvent(ctx context.Context, ev *entity.DeliveryEvent) error

	// DeliveryStats summarises the delivery log since the given time and the
	// current queue depth per state.
	DeliveryStats(ctx context.Context, since time.Time) (*entity.DeliveryStats, error)

	// PruneExpired deletes notifications whose expiry passed before now.
	PruneExpired(ctx context.Context, now time.Time) (int64, error)
}

// PreferenceGate answers whether a recipient accepts a type on a channel.
type PreferenceGate interface {
	Lookup(ctx context.Context, userID string, t entity.NotificationType) (entity.ChannelFlags, error)
	CanSend(ctx context.Context, userID string, t entity.NotificationType, ch entity.Channel) (bool, error)
}

// TemplateCatalog resolves delivery templates.
type TemplateCatalog interface {
	TemplateFor(t entity.NotificationType, ch entity.Channel) string
	CategoryOf(name string) (entity.NotificationType, bool)
	ChannelOf(name string) (entity.Channel, bool)
}

// Broadcaster pushes a freshly created notification to the recipient's open
// realtime connections. Publishing is best effort.
type Broadcaster interface {
	Publish(userID string, n *entity.Notification)
}

// Deps are the collaborators of the notify service. Broadcaster, Logger and
// Clock are optional.
type Deps struct {
	Notifications repository.NotificationRepository
	Preferences   PreferenceGate
	Queue         repository.DeliveryQueue
	Contacts      repository.ContactRepository
	PushSubs      repository.PushSubscriptionRepository
	DeliveryLog   repository.DeliveryLogRepository
	Templates     TemplateCatalog
	Broadcaster   Broadcaster
	Logger        *slog.Logger
	Clock         func() time.Time
}

// Config tunes the service.
type Config struct {
	// MaxAttempts is the retry budget stamped on every queued job.
	MaxAttempts int
	// EnqueueTimeout bounds each queue write made on behalf of Notify.
	EnqueueTimeout time.Duration
	// BulkConcurrency bounds the parallel Notify calls of SendBulk.
	BulkConcurrency int
	// MaxBulkRecipients caps the recipient list of one SendBulk call.
	MaxBulkRecipients int
}

// NotifyInput carries the caller-supplied fields of a new notification.
type NotifyInput struct {
	RecipientID string
	Type        entity.NotificationType
	Title       string
	Message     string
	Priority    entity.Priority
	ActionURL   string
	Icon        string
	ExpiresAt   *time.Time
	// Data is validated against the payload schema of Type.
	Data        json.RawMessage
	DataVersion int
}

type service struct {
	notifications repository.NotificationRepository
	preferences   PreferenceGate
	queue         repository.DeliveryQueue
	contacts      repository.ContactRepository
	pushSubs      repository.PushSubscriptionRepository
	deliveryLog   repository.DeliveryLogRepository
	templates     TemplateCatalog
	broadcaster   Broadcaster
	logger        *slog.Logger
	now           func() time.Time
	cfg           Config
}

// NewService wires the notify service. Zero Config fields take defaults.
func NewService(d Deps, cfg Config) Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = defaultEnqueueTimeout
	}
	if cfg.BulkConcurrency <= 0 {
		cfg.BulkConcurrency = defaultBulkConcurrency
	}
	if cfg.MaxBulkRecipients <= 0 {
		cfg.MaxBulkRecipients = defaultMaxBulkRecipients
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := d.Clock
	if now == nil {
		now = time.Now
	}
	return &service{
		notifications: d.Notifications,
		preferences:   d.Preferences,
		queue:         d.Queue,
		contacts:      d.Contacts,
		pushSubs:      d.PushSubs,
		deliveryLog:   d.DeliveryLog,
		templates:     d.Templates,
		broadcaster:   d.Broadcaster,
		logger:        logger,
		now:           now,
		cfg:           cfg,
	}
}

func (in NotifyInput) build() *entity.Notification {
	p := in.Priority
	if p == "" {
		p = entity.PriorityNormal
	}
	return &entity.Notification{
		RecipientID: strings.TrimSpace(in.RecipientID),
		Type:        in.Type,
		Title:       strings.TrimSpace(in.Title),
		Message:     strings.TrimSpace(in.Message),
		Priority:    p,
		ActionURL:   in.ActionURL,
		Icon:        in.Icon,
		ExpiresAt:   in.ExpiresAt,
	}
}

// prepare validates the input and decodes its payload.
func (s *service) prepare(in NotifyInput) (*entity.Notification, error) {
	n := in.build()
	if err := n.Validate(s.now()); err != nil {
		return nil, err
	}
	payload, err := entity.DecodePayload(n.Type, in.DataVersion, in.Data)
	if err != nil {
		return nil, err
	}
	n.Payload = payload
	return n, nil
}

func (s *service) Notify(ctx context.Context, in NotifyInput) (*entity.Notification, error) {
	n, err := s.prepare(in)
	if err != nil {
		return nil, err
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	RecordCreated(string(n.Type))

	log := logging.WithRequestID(ctx, s.logger).With(
		slog.String("notification_id", n.ID),
		slog.String("recipient_id", n.RecipientID),
		slog.String("type", string(n.Type)),
	)

	s.publish(log, n)
	s.fanOut(ctx, log, n)
	return n, nil
}

func (s *service) publish(log *slog.Logger, n *entity.Notification) {
	if s.broadcaster == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("realtime publish panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	s.broadcaster.Publish(n.RecipientID, n)
	RecordRealtimePublish()
}

// fanOut queues one job per accepted channel. Nothing here fails the caller,
// and once the record is stored the caller hanging up does not stop it: every
// lookup and enqueue runs detached from ctx cancellation under its own timeout.
func (s *service) fanOut(ctx context.Context, log *slog.Logger, n *entity.Notification) {
	ctx = context.WithoutCancel(ctx)

	lctx, cancel := context.WithTimeout(ctx, s.cfg.EnqueueTimeout)
	flags, err := s.preferences.Lookup(lctx, n.RecipientID, n.Type)
	cancel()
	if err != nil {
		log.Warn("preference lookup failed, skipping out-of-band delivery", slog.Any("error", err))
		for _, ch := range entity.QueuedChannels {
			RecordSkipped(string(ch), "preference_error")
		}
		return
	}

	data := templateData(n)
	for _, ch := range entity.QueuedChannels {
		if !flags.Allows(ch) {
			log.Debug("channel disabled by preference", slog.String("channel", string(ch)))
			RecordSkipped(string(ch), "opted_out")
			continue
		}

		actx, cancel := context.WithTimeout(ctx, s.cfg.EnqueueTimeout)
		addresses, err := s.addresses(actx, n.RecipientID, ch)
		cancel()
		if err != nil {
			log.Warn("address lookup failed", slog.String("channel", string(ch)), slog.Any("error", err))
			RecordSkipped(string(ch), "no_address")
			continue
		}
		if len(addresses) == 0 {
			log.Debug("no address for channel", slog.String("channel", string(ch)))
			RecordSkipped(string(ch), "no_address")
			continue
		}

		for _, addr := range addresses {
			job := &entity.DeliveryJob{
				Channel:        ch,
				Address:        addr,
				TemplateName:   s.templates.TemplateFor(n.Type, ch),
				TemplateData:   data,
				NotificationID: n.ID,
				RecipientID:    n.RecipientID,
				MaxAttempts:    s.cfg.MaxAttempts,
			}
			id, err := s.enqueue(ctx, job, n.Priority.JobPriority())
			if err != nil {
				log.Error("failed to enqueue delivery job",
					slog.String("channel", string(ch)),
					slog.Any("error", err))
				continue
			}
			log.Debug("delivery job enqueued", slog.String("channel", string(ch)), slog.Int64("job_id", id))
		}
	}
}

// enqueue writes one job under the configured timeout, detached from ctx
// cancellation.
func (s *service) enqueue(ctx context.Context, job *entity.DeliveryJob, priority int) (int64, error) {
	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.EnqueueTimeout)
	defer cancel()

	id, err := s.queue.Enqueue(ectx, job, priority)
	if err != nil {
		RecordEnqueueFailure(string(job.Channel))
		return 0, err
	}
	RecordEnqueued(string(job.Channel))
	return id, nil
}

// addresses resolves where channel ch reaches userID. Push fans out to every
// registered device.
func (s *service) addresses(ctx context.Context, userID string, ch entity.Channel) ([]string, error) {
	if ch == entity.ChannelPush {
		subs, err := s.pushSubs.ListByUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		out := make([]string, 0, len(subs))
		for _, sub := range subs {
			out = append(out, sub.Token)
		}
		return out, nil
	}

	c, err := s.contacts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if addr := c.Address(ch); addr != "" {
		return []string{addr}, nil
	}
	return nil, nil
}

func templateData(n *entity.Notification) map[string]string {
	data := n.Payload.TemplateData(n.Type)
	data["title"] = n.Title
	data["message"] = n.Message
	data["notification_id"] = n.ID
	if n.ActionURL != "" {
		data["action_url"] = n.ActionURL
	}
	return data
}

func (s *service) List(ctx context.Context, userID string, filter entity.NotificationFilter) ([]*entity.Notification, int64, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, 0, ErrInvalidUserID
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	if filter.StartDate != nil && filter.EndDate != nil && filter.EndDate.Before(*filter.StartDate) {
		return nil, 0, &entity.ValidationError{Field: "endDate", Message: "endDate cannot be before startDate"}
	}

	now := s.now()
	total, err := s.notifications.Count(ctx, userID, filter, now)
	if err != nil {
		return nil, 0, fmt.Errorf("count notifications: %w", err)
	}
	items, err := s.notifications.List(ctx, userID, filter, now)
	if err != nil {
		return nil, 0, fmt.Errorf("list notifications: %w", err)
	}
	return items, total, nil
}

func (s *service) MarkRead(ctx context.Context, notificationID, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUserID
	}
	// ids are UUIDs; anything else cannot exist
	if _, err := uuid.Parse(notificationID); err != nil {
		return entity.ErrNotFound
	}

	n, err := s.notifications.Get(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("get notification: %w", err)
	}
	if n == nil {
		return entity.ErrNotFound
	}
	if n.RecipientID != userID {
		return entity.ErrForbidden
	}
	if n.Read {
		return nil
	}
	if err := s.notifications.MarkRead(ctx, notificationID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, ErrInvalidUserID
	}
	n, err := s.notifications.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return n, nil
}

func (s *service) Stats(ctx context.Context, userID string) (*entity.NotificationStats, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUserID
	}
	stats, err := s.notifications.Stats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("notification stats: %w", err)
	}
	return stats, nil
}

func (s *service) RegisterPushSubscription(ctx context.Context, sub *entity.PushSubscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	if err := s.pushSubs.Upsert(ctx, sub); err != nil {
		return fmt.Errorf("register push subscription: %w", err)
	}
	return nil
}

func (s *service) RemovePushSubscription(ctx context.Context, userID, token string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUserID
	}
	if err := s.pushSubs.Delete(ctx, userID, token); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return entity.ErrNotFound
		}
		return fmt.Errorf("remove push subscription: %w", err)
	}
	return nil
}

func (s *service) RecordDeliveryEvent(ctx context.Context, ev *entity.DeliveryEvent) error {
	if ev.NotificationID == "" {
		return &entity.ValidationError{Field: "notification_id", Message: "notification_id is required"}
	}
	if !ev.Channel.Valid() {
		return &entity.ValidationError{Field: "channel", Message: fmt.Sprintf("invalid channel %q", ev.Channel)}
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = s.now()
	}
	if err := s.deliveryLog.Append(ctx, ev); err != nil {
		return fmt.Errorf("append delivery event: %w", err)
	}
	return nil
}

func (s *service) DeliveryStats(ctx context.Context, since time.Time) (*entity.DeliveryStats, error) {
	events, err := s.deliveryLog.Summary(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("delivery summary: %w", err)
	}
	counts, err := s.queue.Counts(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue counts: %w", err)
	}
	return &entity.DeliveryStats{Since: since, Events: events, Queue: counts}, nil
}

func (s *service) PruneExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.notifications.DeleteExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("prune expired: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned expired notifications", slog.Int64("deleted", n))
	}
	return n, nil
}
