package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"school-notify/internal/handler/http/respond"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest HS256 secret the api accepts.
const MinSecretLength = 32

// ErrWeakSecret is returned by NewAuthenticator for short secrets.
var ErrWeakSecret = fmt.Errorf("jwt secret must be at least %d characters", MinSecretLength)

// Authenticator validates HS256 bearer tokens issued by the school platform.
// Tokens carry the user id in "sub", one of the known roles in "role" and an
// expiry in "exp".
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// NewAuthenticator returns an Authenticator for secret.
func NewAuthenticator(secret string) (*Authenticator, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &Authenticator{secret: []byte(secret), now: time.Now}, nil
}

// Middleware requires a valid token on every non-public endpoint and stores
// the resulting Principal in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IsPublicEndpoint(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		p, err := a.Authenticate(r.Header.Get("Authorization"))
		role := p.Role
		if role == "" {
			role = "unknown"
		}
		RecordAuthDuration(role, time.Since(start).Seconds())
		if err != nil {
			RecordAuthRequest(role, "failure")
			respond.SafeError(w, http.StatusUnauthorized, fmt.Errorf("unauthorized: %w", err))
			return
		}
		RecordAuthRequest(role, "success")
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Authenticate parses an Authorization header value.
func (a *Authenticator) Authenticate(header string) (Principal, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return Principal{}, errors.New("missing bearer token")
	}
	tok, err := jwt.Parse(strings.TrimPrefix(header, prefix), func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !tok.Valid {
		return Principal{}, errors.New("invalid token")
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return Principal{}, errors.New("invalid claims")
	}
	if exp, ok := claims["exp"].(float64); !ok || int64(exp) < a.now().Unix() {
		return Principal{}, errors.New("token expired")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Principal{}, errors.New("invalid sub claim")
	}
	role, ok := claims["role"].(string)
	if !ok || !KnownRole(role) {
		return Principal{}, errors.New("invalid role claim")
	}
	return Principal{UserID: sub, Role: role}, nil
}

// RequireRole rejects requests whose principal holds none of roles. It must
// run behind Middleware.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := FromContext(r.Context())
			if !ok {
				respond.SafeError(w, http.StatusUnauthorized, errors.New("unauthorized: missing principal"))
				return
			}
			if !p.HasRole(roles...) {
				RecordForbiddenAttempt(p.Role, r.Method)
				respond.SafeError(w, http.StatusForbidden, errors.New("forbidden"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
