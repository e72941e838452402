package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGetEnvString(t *testing.T) {
	t.Setenv("NOTIFY_TEST_STR", "")
	assert.Equal(t, "fallback", GetEnvString("NOTIFY_TEST_STR", "fallback"))

	t.Setenv("NOTIFY_TEST_STR", "value")
	assert.Equal(t, "value", GetEnvString("NOTIFY_TEST_STR", "fallback"))
}

func TestGetEnvInt(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 7},
		{"42", 42},
		{" 3 ", 3},
		{"-1", -1},
		{"abc", 7},
		{"1.5", 7},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("NOTIFY_TEST_INT", tt.value)
			assert.Equal(t, tt.want, GetEnvInt("NOTIFY_TEST_INT", 7))
		})
	}
}

func TestGetEnvFloat(t *testing.T) {
	t.Setenv("NOTIFY_TEST_FLOAT", "0.25")
	assert.InDelta(t, 0.25, GetEnvFloat("NOTIFY_TEST_FLOAT", 1), 1e-9)

	t.Setenv("NOTIFY_TEST_FLOAT", "quarter")
	assert.InDelta(t, 1.0, GetEnvFloat("NOTIFY_TEST_FLOAT", 1), 1e-9)
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", true},
		{"false", false},
		{"0", false},
		{"TRUE", true},
		{"yes", true},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("NOTIFY_TEST_BOOL", tt.value)
			assert.Equal(t, tt.want, GetEnvBool("NOTIFY_TEST_BOOL", true))
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("NOTIFY_TEST_DUR", "1h30m")
	assert.Equal(t, 90*time.Minute, GetEnvDuration("NOTIFY_TEST_DUR", time.Second))

	t.Setenv("NOTIFY_TEST_DUR", "90")
	assert.Equal(t, time.Second, GetEnvDuration("NOTIFY_TEST_DUR", time.Second))
}

func TestGetEnvStringList(t *testing.T) {
	def := []string{"x"}

	t.Setenv("NOTIFY_TEST_LIST", "a, b ,,c")
	assert.Equal(t, []string{"a", "b", "c"}, GetEnvStringList("NOTIFY_TEST_LIST", def))

	t.Setenv("NOTIFY_TEST_LIST", " , ")
	assert.Equal(t, def, GetEnvStringList("NOTIFY_TEST_LIST", def))
}
