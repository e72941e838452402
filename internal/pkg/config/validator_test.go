package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateCronSchedule(t *testing.T) {
	valid := []string{
		"0 0 * * *",
		"*/15 * * * *",
		"30 9 * * 1-5",
		"15,45 */2 * * 1,3,5",
		"@hourly",
		"@every 10m",
	}
	for _, s := range valid {
		t.Run("valid "+s, func(t *testing.T) {
			assert.NoError(t, ValidateCronSchedule(s))
		})
	}

	invalid := []string{"", "0 0", "0 0 * * * * *", "60 0 * * *", "0 24 * * *", "0 0 * 13 *", "-1 0 * * *", "@sometimes", "every minute"}
	for _, s := range invalid {
		t.Run("invalid "+s, func(t *testing.T) {
			err := ValidateCronSchedule(s)
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), "invalid cron schedule")
			}
		})
	}
}

func TestValidateTimezone(t *testing.T) {
	for _, tz := range []string{"UTC", "Asia/Tokyo", "Europe/London", "America/New_York"} {
		assert.NoError(t, ValidateTimezone(tz), tz)
	}
	for _, tz := range []string{"", "Mars/Olympus", "JST+9"} {
		err := ValidateTimezone(tz)
		if assert.Error(t, err, tz) {
			assert.Contains(t, err.Error(), "invalid timezone")
		}
	}
}

func TestValidateDuration(t *testing.T) {
	tests := []struct {
		name    string
		d       time.Duration
		min     time.Duration
		max     time.Duration
		wantErr string
	}{
		{"inside", 5 * time.Second, time.Second, time.Minute, ""},
		{"at min", time.Second, time.Second, time.Minute, ""},
		{"at max", time.Minute, time.Second, time.Minute, ""},
		{"below", 500 * time.Millisecond, time.Second, time.Minute, "below minimum"},
		{"above", time.Hour, time.Second, time.Minute, "exceeds maximum"},
		{"inverted range", time.Second, time.Minute, time.Second, "invalid range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDuration(tt.d, tt.min, tt.max)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateIntRange(t *testing.T) {
	tests := []struct {
		name    string
		v       int
		min     int
		max     int
		wantErr string
	}{
		{"inside", 4, 1, 64, ""},
		{"at min", 1, 1, 64, ""},
		{"at max", 64, 1, 64, ""},
		{"below", 0, 1, 64, "below minimum"},
		{"above", 65, 1, 64, "exceeds maximum"},
		{"inverted range", 3, 10, 1, "invalid range"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIntRange(tt.v, tt.min, tt.max)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidatePositiveDuration(t *testing.T) {
	assert.NoError(t, ValidatePositiveDuration(time.Nanosecond))
	assert.Error(t, ValidatePositiveDuration(0))
	assert.Error(t, ValidatePositiveDuration(-time.Second))
}
