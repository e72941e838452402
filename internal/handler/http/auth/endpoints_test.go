package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPublicEndpoint(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/health/", true},
		{"/health?format=json", true},
		{"/health/detail", false},
		{"/healthcheck", false},
		{"/ready", true},
		{"/live", true},
		{"/metrics", true},
		{"/webhooks/email-events", true},
		{"/webhooks", false},
		{"/notifications", false},
		{"/notifications/stream", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPublicEndpoint(tt.path))
		})
	}
}

func TestKnownRoleAndHasRole(t *testing.T) {
	assert.True(t, KnownRole(RoleAdmin))
	assert.True(t, KnownRole(RoleParent))
	assert.False(t, KnownRole("viewer"))

	p := Principal{UserID: "t1", Role: RoleTeacher}
	assert.True(t, p.HasRole(RoleAdmin, RoleTeacher))
	assert.False(t, p.HasRole(RoleAdmin))
	assert.False(t, p.HasRole())
}
