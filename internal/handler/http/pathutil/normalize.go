package pathutil

import (
	"regexp"
	"strings"
)

type pathPattern struct {
	pattern  *regexp.Regexp
	template string
}

const uuidExpr = `[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`

// Evaluated in order; the first match wins.
var pathPatterns = []pathPattern{
	{pattern: regexp.MustCompile(`^/notifications/` + uuidExpr + `/read$`), template: "/notifications/:id/read"},
	{pattern: regexp.MustCompile(`^/notifications/push-subscriptions/[^/]+$`), template: "/notifications/push-subscriptions/:token"},
}

// NormalizePath maps dynamic paths to their route template so metrics labels
// stay bounded. Query strings and a trailing slash are ignored; paths that
// match no template are returned unchanged.
//
//	NormalizePath("/notifications/6f1c.../read")              // "/notifications/:id/read"
//	NormalizePath("/notifications/push-subscriptions/fcm-abc") // "/notifications/push-subscriptions/:token"
//	NormalizePath("/notifications?limit=5")                   // "/notifications"
func NormalizePath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx != -1 {
		path = path[:idx]
	}
	if len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}

	for _, p := range pathPatterns {
		if p.pattern.MatchString(path) {
			return p.template
		}
	}
	return path
}
