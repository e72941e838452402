package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"time"

	"github.com/mcnijman/go-emailaddress"
	"gopkg.in/mail.v2"

	"school-notify/internal/domain/entity"
)

// EmailConfig configures the SMTP adapter.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration

	// RateLimit is the sustained send rate in messages per second.
	RateLimit float64
	Burst     int
}

// Dialer sends fully built messages. *mail.Dialer satisfies it.
type Dialer interface {
	DialAndSend(m ...*mail.Message) error
}

// EmailAdapter delivers templated email over SMTP.
type EmailAdapter struct {
	from    string
	dialer  Dialer
	catalog *Catalog
	limiter *RateLimiter
}

// NewEmailAdapter dials cfg.Host for every message.
func NewEmailAdapter(cfg EmailConfig, catalog *Catalog) *EmailAdapter {
	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	if cfg.Timeout > 0 {
		d.Timeout = cfg.Timeout
	}
	return NewEmailAdapterWithDialer(cfg, catalog, d)
}

// NewEmailAdapterWithDialer uses a caller supplied dialer.
func NewEmailAdapterWithDialer(cfg EmailConfig, catalog *Catalog, d Dialer) *EmailAdapter {
	return &EmailAdapter{
		from:    cfg.From,
		dialer:  d,
		catalog: catalog,
		limiter: NewRateLimiter(cfg.RateLimit, cfg.Burst),
	}
}

func (a *EmailAdapter) Channel() entity.Channel { return entity.ChannelEmail }

// Send renders templateName and hands the message to the SMTP server.
// Malformed addresses and 5xx replies are permanent failures.
func (a *EmailAdapter) Send(ctx context.Context, address, templateName string, data map[string]string) error {
	to, err := emailaddress.Parse(address)
	if err != nil {
		return Permanent("invalid email address", err)
	}

	subject, body, err := a.catalog.Render(templateName, data)
	if err != nil {
		return err
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("email rate limiter: %w", err)
	}

	m := mail.NewMessage()
	m.SetHeader("From", a.from)
	m.SetHeader("To", to.String())
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	// DialAndSend takes no context; the goroutine finishes on the dialer timeout
	done := make(chan error, 1)
	go func() { done <- a.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		return classifySMTP(err)
	case <-ctx.Done():
		return fmt.Errorf("send email: %w", ctx.Err())
	}
}

// smtpAuthFailures are 5xx replies about our own credentials, not the
// recipient. They must count against the relay so its breaker can open.
var smtpAuthFailures = map[int]bool{
	530: true, // authentication required
	534: true, // mechanism too weak
	535: true, // credentials invalid
}

// classifySMTP turns SMTP replies into the package error taxonomy.
func classifySMTP(err error) error {
	if err == nil {
		return nil
	}
	cause := err
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) && sendErr.Cause != nil {
		cause = sendErr.Cause
	}
	var reply *textproto.Error
	if errors.As(cause, &reply) {
		switch {
		case smtpAuthFailures[reply.Code]:
			return &ServerError{StatusCode: reply.Code, Message: fmt.Sprintf("smtp auth %d: %s", reply.Code, reply.Msg)}
		case reply.Code >= 500:
			return Permanent(fmt.Sprintf("smtp %d", reply.Code), reply)
		case reply.Code >= 400:
			return &ServerError{StatusCode: reply.Code, Message: fmt.Sprintf("smtp %d: %s", reply.Code, reply.Msg)}
		}
	}
	return fmt.Errorf("send email: %w", err)
}
