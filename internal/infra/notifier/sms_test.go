package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSMSAdapter(t *testing.T, url string) *SMSAdapter {
	t.Helper()
	catalog, err := LoadCatalog()
	require.NoError(t, err)
	return NewSMSAdapter(SMSConfig{
		GatewayURL: url,
		APIKey:     "secret",
		SenderID:   "SCHOOL",
		Timeout:    time.Second,
	}, catalog)
}

func TestSMSAdapter_Send(t *testing.T) {
	var got smsRequest
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	a := newTestSMSAdapter(t, server.URL)
	err := a.Send(context.Background(), "+15550100123", "payment_sms", map[string]string{
		"title":   "Payment due",
		"message": "Term fee is due Friday",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "+15550100123", got.To)
	assert.Equal(t, "SCHOOL", got.From)
	assert.Equal(t, "Payment due: Term fee is due Friday", got.Body)
}

func TestSMSAdapter_Send_StatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		header     string
		want       Outcome
		retryAfter time.Duration
	}{
		{"rate limited with body hint", http.StatusTooManyRequests, `{"retry_after":2.5}`, "", OutcomeTransient, 2500 * time.Millisecond},
		{"rate limited with header", http.StatusTooManyRequests, "", "7", OutcomeTransient, 7 * time.Second},
		{"rate limited default", http.StatusTooManyRequests, "", "", OutcomeTransient, 5 * time.Second},
		{"bad request", http.StatusBadRequest, `{"message":"bad number"}`, "", OutcomePermanent, 0},
		{"unprocessable", http.StatusUnprocessableEntity, "", "", OutcomePermanent, 0},
		{"bad api key", http.StatusUnauthorized, "", "", OutcomeTransient, 0},
		{"forbidden account", http.StatusForbidden, "", "", OutcomeTransient, 0},
		{"server error", http.StatusBadGateway, "", "", OutcomeTransient, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.header != "" {
					w.Header().Set("Retry-After", tt.header)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			err := newTestSMSAdapter(t, server.URL).Send(context.Background(), "+15550100123", "grade_sms", nil)
			require.Error(t, err)
			assert.Equal(t, tt.want, Classify(err))
			d, ok := RetryAfter(err)
			assert.Equal(t, tt.retryAfter > 0, ok)
			assert.Equal(t, tt.retryAfter, d)
		})
	}
}

func TestSMSAdapter_Send_InvalidNumber(t *testing.T) {
	a := newTestSMSAdapter(t, "http://127.0.0.1:1")
	for _, number := range []string{"", "5550100", "+1555abc0100", "+1234567890123456"} {
		err := a.Send(context.Background(), number, "grade_sms", nil)
		assert.Equal(t, OutcomePermanent, Classify(err), number)
	}
}

func TestSMSAdapter_Send_NetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	err := newTestSMSAdapter(t, url).Send(context.Background(), "+15550100123", "grade_sms", nil)
	require.Error(t, err)
	assert.Equal(t, OutcomeTransient, Classify(err))
}
