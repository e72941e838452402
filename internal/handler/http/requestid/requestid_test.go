package requestid

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext(t *testing.T) {
	assert.Equal(t, "test-id-123", FromContext(WithRequestID(context.Background(), "test-id-123")))
	assert.Equal(t, "", FromContext(context.Background()))
	assert.Equal(t, "", FromContext(context.WithValue(context.Background(), RequestIDKey, 12345)))
}

func TestMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantKept bool
	}{
		{name: "propagates existing id", header: "existing-request-id-456", wantKept: true},
		{name: "generates when missing", header: ""},
		{name: "replaces id with newline", header: "abc\nlevel=ERROR"},
		{name: "replaces id with spaces", header: "a b"},
		{name: "replaces oversized id", header: strings.Repeat("a", maxIDLength+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = FromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, captured, rec.Header().Get(RequestIDHeader))
			if tt.wantKept {
				assert.Equal(t, tt.header, captured)
				return
			}
			_, err := uuid.Parse(captured)
			require.NoError(t, err, "expected a generated UUID, got %q", captured)
		})
	}
}

func TestMiddleware_UniquePerRequest(t *testing.T) {
	seen := make(map[string]bool)
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen[FromContext(r.Context())] = true
	}))
	for i := 0; i < 50; i++ {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	}
	assert.Len(t, seen, 50)
}
