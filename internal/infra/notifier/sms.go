package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"school-notify/internal/domain/entity"
)

// SMSConfig configures the HTTP SMS gateway adapter.
type SMSConfig struct {
	// GatewayURL receives a JSON POST per message.
	GatewayURL string
	APIKey     string
	SenderID   string
	Timeout    time.Duration
	RateLimit  float64
	Burst      int
}

// SMSAdapter delivers text messages through an HTTP gateway.
type SMSAdapter struct {
	cfg        SMSConfig
	httpClient *http.Client
	catalog    *Catalog
	limiter    *RateLimiter
}

func NewSMSAdapter(cfg SMSConfig, catalog *Catalog) *SMSAdapter {
	return &SMSAdapter{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		catalog:    catalog,
		limiter:    NewRateLimiter(cfg.RateLimit, cfg.Burst),
	}
}

func (a *SMSAdapter) Channel() entity.Channel { return entity.ChannelSMS }

type smsRequest struct {
	To       string `json:"to"`
	From     string `json:"from,omitempty"`
	Body     string `json:"body"`
	Template string `json:"template"`
}

type smsErrorResponse struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"` // seconds
}

const maxSMSLength = 480

// Send posts the rendered message to the gateway.
//
// Error types:
//   - 429: RateLimitError carrying the gateway's retry hint
//   - other 4xx: ClientError (permanent)
//   - 5xx: ServerError (transient)
//   - network error or timeout: transient
func (a *SMSAdapter) Send(ctx context.Context, address, templateName string, data map[string]string) error {
	if !validPhone(address) {
		return Permanent("invalid phone number", nil)
	}
	_, body, err := a.catalog.Render(templateName, data)
	if err != nil {
		return err
	}
	if len(body) > maxSMSLength {
		body = body[:maxSMSLength-3] + "..."
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("sms rate limiter: %w", err)
	}

	payload, err := json.Marshal(smsRequest{To: address, From: a.cfg.SenderID, Body: body, Template: templateName})
	if err != nil {
		return fmt.Errorf("marshal sms payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.GatewayURL, bytes.NewReader(payload))
	if err != nil {
		return Permanent("create sms request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute sms request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			Message:    "sms gateway rate limit exceeded",
			RetryAfter: extractRetryAfter(resp, respBody),
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// our API key, not the recipient
		return &ServerError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("sms gateway rejected credentials %d", resp.StatusCode),
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &ClientError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("sms gateway client error %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
		}
	case resp.StatusCode >= 500:
		return &ServerError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("sms gateway server error %d", resp.StatusCode),
		}
	}
	return fmt.Errorf("unexpected sms gateway status %d", resp.StatusCode)
}

// extractRetryAfter reads retry_after from the JSON body, then the
// Retry-After header, defaulting to 5s.
func extractRetryAfter(resp *http.Response, body []byte) time.Duration {
	var gwErr smsErrorResponse
	if err := json.Unmarshal(body, &gwErr); err == nil && gwErr.RetryAfter > 0 {
		return time.Duration(gwErr.RetryAfter * float64(time.Second))
	}
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 5 * time.Second
}

// validPhone accepts E.164 numbers: "+" followed by 8 to 15 digits.
func validPhone(s string) bool {
	if len(s) < 9 || len(s) > 16 || s[0] != '+' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
