package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-at-least-32-characters-long-for-testing"

func signToken(t *testing.T, secret string, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func validClaims(sub, role string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":  sub,
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
}

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	a, err := NewAuthenticator(testSecret)
	require.NoError(t, err)
	return a
}

// principalEcho writes the principal user id and role.
func principalEcho(t *testing.T) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok {
			_, _ = w.Write([]byte("anonymous"))
			return
		}
		_, _ = w.Write([]byte(p.UserID + "/" + p.Role))
	}
}

func TestNewAuthenticator_RejectsShortSecret(t *testing.T) {
	_, err := NewAuthenticator("too-short")
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestMiddleware_PublicEndpoints(t *testing.T) {
	h := newTestAuthenticator(t).Middleware(principalEcho(t))

	for _, path := range []string{"/health", "/ready", "/live", "/metrics", "/webhooks/email-events"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "anonymous", rec.Body.String())
		})
	}
}

func TestMiddleware_TokenValidation(t *testing.T) {
	h := newTestAuthenticator(t).Middleware(principalEcho(t))

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{
			name:     "valid student token",
			header:   "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, validClaims("student-1", RoleStudent)),
			wantCode: http.StatusOK,
			wantBody: "student-1/student",
		},
		{
			name:     "missing header",
			header:   "",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "not a bearer scheme",
			header:   "Basic dXNlcjpwYXNz",
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "wrong secret",
			header:   "Bearer " + signToken(t, "another-secret-key-at-least-32-characters", jwt.SigningMethodHS256, validClaims("u", RoleAdmin)),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "wrong algorithm",
			header:   "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS512, validClaims("u", RoleAdmin)),
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "expired",
			header: "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
				"sub": "u", "role": RoleAdmin, "exp": time.Now().Add(-time.Minute).Unix(),
			}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name: "missing exp",
			header: "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, jwt.MapClaims{
				"sub": "u", "role": RoleAdmin,
			}),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "unknown role",
			header:   "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, validClaims("u", "viewer")),
			wantCode: http.StatusUnauthorized,
		},
		{
			name:     "empty subject",
			header:   "Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, validClaims("", RoleParent)),
			wantCode: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/notifications", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	a := newTestAuthenticator(t)
	h := a.Middleware(RequireRole(RoleAdmin, RoleTeacher)(principalEcho(t)))

	tests := []struct {
		role     string
		wantCode int
	}{
		{RoleAdmin, http.StatusOK},
		{RoleTeacher, http.StatusOK},
		{RoleStudent, http.StatusForbidden},
		{RoleParent, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/notifications/send", nil)
			req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, jwt.SigningMethodHS256, validClaims("u1", tt.role)))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
		})
	}
}

func TestRequireRole_WithoutPrincipal(t *testing.T) {
	rec := httptest.NewRecorder()
	RequireRole(RoleAdmin)(principalEcho(t)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticate_UsesInjectedClock(t *testing.T) {
	a := newTestAuthenticator(t)
	a.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := a.Authenticate("Bearer " + signToken(t, testSecret, jwt.SigningMethodHS256, validClaims("u", RoleAdmin)))
	assert.Error(t, err)
}
