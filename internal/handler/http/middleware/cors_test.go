package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins: []string{"https://portal.school.example/", "HTTP://localhost:3000"},
		AllowedMethods: defaultCORSMethods,
		AllowedHeaders: defaultCORSHeaders,
		MaxAge:         600,
	}
}

func TestCORS_AllowedOrigin(t *testing.T) {
	called := false
	h := CORS(testCORSConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	req.Header.Set("Origin", "https://portal.school.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, "https://portal.school.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestCORS_OriginMatchIsCaseInsensitive(t *testing.T) {
	h := CORS(testCORSConfig())(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
	req.Header.Set("Origin", "http://LOCALHOST:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://LOCALHOST:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_Preflight(t *testing.T) {
	called := false
	h := CORS(testCORSConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/notifications/send", nil)
	req.Header.Set("Origin", "https://portal.school.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "GET, POST, DELETE, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization, X-Request-ID", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	h := CORS(testCORSConfig())(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/notifications", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_NoOrigin(t *testing.T) {
	h := CORS(testCORSConfig())(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/notifications", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoadCORSConfig(t *testing.T) {
	tests := []struct {
		name    string
		origins string
		maxAge  string
		wantErr bool
	}{
		{name: "valid", origins: "https://a.example, http://localhost:3000"},
		{name: "missing origins", origins: "", wantErr: true},
		{name: "wildcard", origins: "*", wantErr: true},
		{name: "no scheme", origins: "a.example", wantErr: true},
		{name: "negative max age", origins: "https://a.example", maxAge: "-1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CORS_ALLOWED_ORIGINS", tt.origins)
			t.Setenv("CORS_MAX_AGE", tt.maxAge)

			cfg, err := LoadCORSConfig(nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, []string{"https://a.example", "http://localhost:3000"}, cfg.AllowedOrigins)
			assert.Equal(t, 86400, cfg.MaxAge)
			assert.Equal(t, defaultCORSMethods, cfg.AllowedMethods)
		})
	}
}
