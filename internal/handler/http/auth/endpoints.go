package auth

import "strings"

// PublicEndpoints are served without a bearer token.
//
//   - /health, /ready, /live: orchestration probes
//   - /metrics: Prometheus scraping
//   - /webhooks/: provider callbacks, authenticated by a shared secret instead
var PublicEndpoints = []string{
	"/health",
	"/ready",
	"/live",
	"/metrics",
	"/webhooks/",
}

// IsPublicEndpoint reports whether path can be accessed without a token.
//
// Entries ending with '/' match by prefix. Other entries match exactly, with an
// optional trailing slash or query string:
//
//	IsPublicEndpoint("/health")                 // true
//	IsPublicEndpoint("/health?x=1")             // true
//	IsPublicEndpoint("/health/detail")          // false
//	IsPublicEndpoint("/webhooks/email-events")  // true
//	IsPublicEndpoint("/notifications")          // false
func IsPublicEndpoint(path string) bool {
	for _, endpoint := range PublicEndpoints {
		if strings.HasSuffix(endpoint, "/") {
			if strings.HasPrefix(path, endpoint) {
				return true
			}
			continue
		}
		if path == endpoint || path == endpoint+"/" || strings.HasPrefix(path, endpoint+"?") {
			return true
		}
	}
	return false
}
