package pathutil

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected string
	}{
		{"mark read", "/notifications/6f1c2d3e-4a5b-4c6d-8e9f-0a1b2c3d4e5f/read", "/notifications/:id/read"},
		{"mark read upper case", "/notifications/6F1C2D3E-4A5B-4C6D-8E9F-0A1B2C3D4E5F/read", "/notifications/:id/read"},
		{"mark read trailing slash", "/notifications/6f1c2d3e-4a5b-4c6d-8e9f-0a1b2c3d4e5f/read/", "/notifications/:id/read"},
		{"push subscription token", "/notifications/push-subscriptions/fcm:APA91bH", "/notifications/push-subscriptions/:token"},
		{"push subscriptions collection", "/notifications/push-subscriptions", "/notifications/push-subscriptions"},
		{"list with query", "/notifications?limit=5&offset=10", "/notifications"},
		{"static", "/notifications/mark-all-read", "/notifications/mark-all-read"},
		{"not a uuid", "/notifications/123/read", "/notifications/123/read"},
		{"health", "/health", "/health"},
		{"root", "/", "/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePath(tt.path); got != tt.expected {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.path, got, tt.expected)
			}
		})
	}
}
