package notifier

import (
	"context"
	"log/slog"

	"school-notify/internal/domain/entity"
)

// NoopAdapter accepts every message without contacting a provider. It stands
// in for channels that are not configured, so local runs still drain the queue.
type NoopAdapter struct {
	channel entity.Channel
}

func NewNoopAdapter(ch entity.Channel) *NoopAdapter {
	return &NoopAdapter{channel: ch}
}

func (n *NoopAdapter) Channel() entity.Channel { return n.channel }

func (n *NoopAdapter) Send(ctx context.Context, address, templateName string, _ map[string]string) error {
	slog.DebugContext(ctx, "noop delivery",
		slog.String("channel", string(n.channel)),
		slog.String("template", templateName))
	return nil
}
