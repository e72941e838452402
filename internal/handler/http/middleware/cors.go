package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"school-notify/pkg/config"
)

// CORSConfig is the cross-origin policy for the browser clients of the
// notification api.
type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	// MaxAge is how long, in seconds, a browser may cache a preflight result.
	MaxAge int
	Logger *slog.Logger
}

var (
	defaultCORSMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	defaultCORSHeaders = []string{"Content-Type", "Authorization", "X-Request-ID"}
)

// LoadCORSConfig reads the CORS policy from the environment:
//
//	CORS_ALLOWED_ORIGINS  comma-separated, required
//	CORS_ALLOWED_METHODS  default GET, POST, DELETE, OPTIONS
//	CORS_ALLOWED_HEADERS  default Content-Type, Authorization, X-Request-ID
//	CORS_MAX_AGE          seconds, default 86400
func LoadCORSConfig(logger *slog.Logger) (CORSConfig, error) {
	cfg := CORSConfig{
		AllowedOrigins: config.GetEnvStringList("CORS_ALLOWED_ORIGINS", nil),
		AllowedMethods: config.GetEnvStringList("CORS_ALLOWED_METHODS", defaultCORSMethods),
		AllowedHeaders: config.GetEnvStringList("CORS_ALLOWED_HEADERS", defaultCORSHeaders),
		MaxAge:         config.GetEnvInt("CORS_MAX_AGE", 86400),
		Logger:         logger,
	}
	if err := cfg.Validate(); err != nil {
		return CORSConfig{}, err
	}
	return cfg, nil
}

// Validate rejects wildcard or malformed origins and negative max ages.
func (c CORSConfig) Validate() error {
	if len(c.AllowedOrigins) == 0 {
		return errors.New("CORS_ALLOWED_ORIGINS is required")
	}
	for _, origin := range c.AllowedOrigins {
		if origin == "*" {
			return errors.New("wildcard origin is not allowed with credentials")
		}
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return errors.New("origin must start with http:// or https://: " + origin)
		}
	}
	if c.MaxAge < 0 {
		return errors.New("CORS_MAX_AGE must be non-negative")
	}
	return nil
}

// normalizeOrigin lowercases origin and drops a trailing slash.
func normalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")
}

// CORS echoes allowed origins back with credentials enabled and answers
// preflight requests with 204. Requests from other origins are served without
// CORS headers so the browser blocks the response.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		if n := normalizeOrigin(o); n != "" {
			allowed = append(allowed, n)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	methods := strings.Join(cfg.AllowedMethods, ", ")
	headers := strings.Join(cfg.AllowedHeaders, ", ")
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			if !slices.Contains(allowed, normalizeOrigin(origin)) {
				logger.Warn("CORS: origin not allowed",
					slog.String("origin", origin),
					slog.String("path", r.URL.Path),
					slog.String("method", r.Method))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", methods)
				w.Header().Set("Access-Control-Allow-Headers", headers)
				w.Header().Set("Access-Control-Max-Age", maxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
