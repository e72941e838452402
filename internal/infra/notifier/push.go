package notifier

import (
	"context"
	"fmt"
	"maps"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"school-notify/internal/domain/entity"
)

// PushConfig configures the FCM adapter.
type PushConfig struct {
	// CredentialsFile is the service account JSON for the Firebase project.
	CredentialsFile string
	ProjectID       string
	RateLimit       float64
	Burst           int
}

// Sender is the subset of *messaging.Client the adapter uses.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// PushAdapter delivers notifications to one device token through FCM.
type PushAdapter struct {
	sender      Sender
	catalog     *Catalog
	limiter     *RateLimiter
	isPermanent func(error) bool
}

// NewPushAdapter initialises a Firebase app from cfg and returns an adapter
// bound to its messaging client.
func NewPushAdapter(ctx context.Context, cfg PushConfig, catalog *Catalog) (*PushAdapter, error) {
	var fbCfg *firebase.Config
	if cfg.ProjectID != "" {
		fbCfg = &firebase.Config{ProjectID: cfg.ProjectID}
	}
	app, err := firebase.NewApp(ctx, fbCfg, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}
	return NewPushAdapterWithSender(cfg, catalog, client), nil
}

// NewPushAdapterWithSender uses a caller supplied sender.
func NewPushAdapterWithSender(cfg PushConfig, catalog *Catalog, s Sender) *PushAdapter {
	return &PushAdapter{
		sender:      s,
		catalog:     catalog,
		limiter:     NewRateLimiter(cfg.RateLimit, cfg.Burst),
		isPermanent: fcmPermanent,
	}
}

func (a *PushAdapter) Channel() entity.Channel { return entity.ChannelPush }

// Send pushes the rendered template to the device token in address.
// Unregistered tokens and rejected messages are permanent failures.
func (a *PushAdapter) Send(ctx context.Context, address, templateName string, data map[string]string) error {
	if address == "" {
		return Permanent("empty device token", nil)
	}
	title, body, err := a.catalog.Render(templateName, data)
	if err != nil {
		return err
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("push rate limiter: %w", err)
	}

	payload := maps.Clone(data)
	if payload == nil {
		payload = map[string]string{}
	}
	payload["template"] = templateName

	msg := &messaging.Message{
		Token: address,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: payload,
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		},
	}
	if _, err := a.sender.Send(ctx, msg); err != nil {
		if a.isPermanent(err) {
			return Permanent("fcm rejected message", err)
		}
		return fmt.Errorf("send push: %w", err)
	}
	return nil
}

func fcmPermanent(err error) bool {
	return messaging.IsUnregistered(err) ||
		messaging.IsInvalidArgument(err) ||
		messaging.IsSenderIDMismatch(err)
}
