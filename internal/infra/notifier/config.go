package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mcnijman/go-emailaddress"

	"school-notify/internal/domain/entity"
	"school-notify/pkg/config"
)

// Config selects and configures the delivery adapters. A channel whose
// provider is not configured falls back to the noop adapter.
type Config struct {
	EmailEnabled bool
	Email        EmailConfig

	PushEnabled bool
	Push        PushConfig

	SMSEnabled bool
	SMS        SMSConfig
}

// LoadConfigFromEnv reads SMTP_*, FCM_* and SMS_* variables.
func LoadConfigFromEnv() (Config, error) {
	cfg := Config{
		Email: EmailConfig{
			Host:      config.GetEnvString("SMTP_HOST", ""),
			Port:      config.GetEnvInt("SMTP_PORT", 587),
			Username:  config.GetEnvString("SMTP_USERNAME", ""),
			Password:  config.GetEnvString("SMTP_PASSWORD", ""),
			From:      config.GetEnvString("SMTP_FROM", "no-reply@school.example"),
			Timeout:   config.GetEnvDuration("SMTP_TIMEOUT", 10*time.Second),
			RateLimit: float64(config.GetEnvInt("SMTP_RATE_PER_SECOND", 10)),
			Burst:     config.GetEnvInt("SMTP_BURST", 20),
		},
		Push: PushConfig{
			CredentialsFile: config.GetEnvString("FCM_CREDENTIALS_FILE", ""),
			ProjectID:       config.GetEnvString("FCM_PROJECT_ID", ""),
			RateLimit:       float64(config.GetEnvInt("FCM_RATE_PER_SECOND", 50)),
			Burst:           config.GetEnvInt("FCM_BURST", 100),
		},
		SMS: SMSConfig{
			GatewayURL: config.GetEnvString("SMS_GATEWAY_URL", ""),
			APIKey:     config.GetEnvString("SMS_API_KEY", ""),
			SenderID:   config.GetEnvString("SMS_SENDER_ID", ""),
			Timeout:    config.GetEnvDuration("SMS_TIMEOUT", 10*time.Second),
			RateLimit:  float64(config.GetEnvInt("SMS_RATE_PER_SECOND", 5)),
			Burst:      config.GetEnvInt("SMS_BURST", 5),
		},
	}
	cfg.EmailEnabled = cfg.Email.Host != ""
	cfg.PushEnabled = cfg.Push.CredentialsFile != ""
	cfg.SMSEnabled = cfg.SMS.GatewayURL != ""

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings of every enabled channel.
func (c Config) Validate() error {
	if c.EmailEnabled {
		if c.Email.Port < 1 || c.Email.Port > 65535 {
			return fmt.Errorf("SMTP_PORT: %d is out of range", c.Email.Port)
		}
		if _, err := emailaddress.Parse(c.Email.From); err != nil {
			return fmt.Errorf("SMTP_FROM: %w", err)
		}
	}
	if c.SMSEnabled {
		if err := entity.ValidateHTTPSEndpoint(c.SMS.GatewayURL); err != nil {
			return fmt.Errorf("SMS_GATEWAY_URL: %w", err)
		}
		if c.SMS.Timeout <= 0 {
			return fmt.Errorf("SMS_TIMEOUT must be positive")
		}
	}
	return nil
}

// Adapter is the contract every channel implementation satisfies.
type Adapter interface {
	Channel() entity.Channel
	Send(ctx context.Context, address, templateName string, data map[string]string) error
}

// BuildAdapters returns one adapter per queued channel.
func BuildAdapters(ctx context.Context, cfg Config, catalog *Catalog) ([]Adapter, error) {
	adapters := make([]Adapter, 0, len(entity.QueuedChannels))

	if cfg.EmailEnabled {
		adapters = append(adapters, NewEmailAdapter(cfg.Email, catalog))
	} else {
		slog.Warn("SMTP_HOST not set, email deliveries are discarded")
		adapters = append(adapters, NewNoopAdapter(entity.ChannelEmail))
	}

	if cfg.PushEnabled {
		push, err := NewPushAdapter(ctx, cfg.Push, catalog)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, push)
	} else {
		slog.Warn("FCM_CREDENTIALS_FILE not set, push deliveries are discarded")
		adapters = append(adapters, NewNoopAdapter(entity.ChannelPush))
	}

	if cfg.SMSEnabled {
		adapters = append(adapters, NewSMSAdapter(cfg.SMS, catalog))
	} else {
		slog.Warn("SMS_GATEWAY_URL not set, sms deliveries are discarded")
		adapters = append(adapters, NewNoopAdapter(entity.ChannelSMS))
	}
	return adapters, nil
}
