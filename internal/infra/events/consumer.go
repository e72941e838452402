// Package events turns school domain events published on Kafka into
// notifications.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/propagation"

	"school-notify/internal/domain/entity"
	"school-notify/internal/usecase/notify"
)

// Event is the message format of the school events topic.
type Event struct {
	Event        string          `json:"event"`
	RecipientIDs []string        `json:"recipient_ids"`
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	Message      string          `json:"message"`
	Priority     string          `json:"priority,omitempty"`
	ActionURL    string          `json:"action_url,omitempty"`
	Icon         string          `json:"icon,omitempty"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
	DataVersion  int             `json:"data_version,omitempty"`
}

// BulkSender creates notifications for many recipients.
type BulkSender interface {
	SendBulk(ctx context.Context, in notify.BulkInput) (*notify.BulkResult, error)
}

// Consumer reads the events topic through a consumer group.
type Consumer struct {
	topic  string
	group  sarama.ConsumerGroup
	sender BulkSender
	log    *slog.Logger
}

// NewConsumer wires a consumer around an existing consumer group.
func NewConsumer(topic string, group sarama.ConsumerGroup, sender BulkSender, log *slog.Logger) *Consumer {
	return &Consumer{topic: topic, group: group, sender: sender, log: log}
}

// NewConsumerGroup builds the sarama consumer group used by the worker.
func NewConsumerGroup(brokers []string, groupID string) (sarama.ConsumerGroup, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	group, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}
	return group, nil
}

// Start consumes until ctx is cancelled or the group is closed.
func (c *Consumer) Start(ctx context.Context) error {
	defer func() {
		if err := c.group.Close(); err != nil {
			c.log.Warn("failed to close consumer group", slog.Any("error", err))
		}
	}()

	go func() {
		for err := range c.group.Errors() {
			c.log.Warn("consumer group error", slog.Any("error", err))
		}
	}()

	c.log.Info("event consumer started", slog.String("topic", c.topic))

	backoff := time.Second
	for {
		err := c.group.Consume(ctx, []string{c.topic}, c)
		if err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return err
			}
			c.log.Error("error consuming events", slog.Any("error", err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		if ctx.Err() != nil {
			c.log.Info("event consumer stopped")
			return nil
		}
		backoff = time.Second
	}
}

func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	for topic, partitions := range session.Claims() {
		c.log.Info("partition assignment",
			slog.String("topic", topic),
			slog.Any("partitions", partitions))
	}
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim marks a message once it was handled or found unusable.
// Messages that failed for infrastructure reasons stay unmarked so they are
// redelivered after a rebalance or restart.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		if c.Handle(session.Context(), msg) {
			session.MarkMessage(msg, "")
		}
	}
	return nil
}

// Handle processes one message and reports whether its offset may be committed.
func (c *Consumer) Handle(ctx context.Context, msg *sarama.ConsumerMessage) bool {
	ctx = extractTraceContext(ctx, msg.Headers)
	log := c.log.With(
		slog.String("topic", msg.Topic),
		slog.Int("partition", int(msg.Partition)),
		slog.Int64("offset", msg.Offset))

	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		log.Error("skipping malformed event", slog.Any("error", err))
		return true
	}

	t, err := entity.ParseType(ev.Type)
	if err != nil {
		log.Warn("skipping event with unknown type", slog.String("event", ev.Event), slog.String("type", ev.Type))
		return true
	}
	priority, err := entity.ParsePriority(ev.Priority)
	if err != nil {
		log.Warn("skipping event with unknown priority", slog.String("event", ev.Event), slog.String("priority", ev.Priority))
		return true
	}

	res, err := c.sender.SendBulk(ctx, notify.BulkInput{
		RecipientIDs: ev.RecipientIDs,
		Type:         t,
		Title:        ev.Title,
		Message:      ev.Message,
		Priority:     priority,
		ActionURL:    ev.ActionURL,
		Icon:         ev.Icon,
		ExpiresAt:    ev.ExpiresAt,
		Data:         ev.Data,
		DataVersion:  ev.DataVersion,
	})
	if err != nil {
		if errors.Is(err, entity.ErrValidationFailed) {
			log.Warn("skipping invalid event", slog.String("event", ev.Event), slog.Any("error", err))
			return true
		}
		log.Error("failed to handle event", slog.String("event", ev.Event), slog.Any("error", err))
		return false
	}
	if len(res.Created) == 0 && len(res.Failed) > 0 {
		log.Error("event produced no notifications", slog.String("event", ev.Event), slog.Int("failed", len(res.Failed)))
		return false
	}

	log.Info("event handled",
		slog.String("event", ev.Event),
		slog.Int("created", len(res.Created)),
		slog.Int("failed", len(res.Failed)))
	return true
}

func extractTraceContext(ctx context.Context, headers []*sarama.RecordHeader) context.Context {
	carrier := propagation.MapCarrier{}
	for _, h := range headers {
		if h == nil {
			continue
		}
		carrier[string(h.Key)] = string(h.Value)
	}
	return propagation.TraceContext{}.Extract(ctx, carrier)
}
