package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConnectionConfig(t *testing.T) {
	cfg := DefaultConnectionConfig()

	assert.Equal(t, 25, cfg.MaxOpenConns)
	assert.Equal(t, 10, cfg.MaxIdleConns)
	assert.Equal(t, 1*time.Hour, cfg.ConnMaxLifetime)
	assert.Equal(t, 30*time.Minute, cfg.ConnMaxIdleTime)
}

func TestConnectionConfigFromEnv(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want ConnectionConfig
	}{
		{
			name: "defaults",
			env:  map[string]string{},
			want: DefaultConnectionConfig(),
		},
		{
			name: "all overridden",
			env: map[string]string{
				"DB_MAX_OPEN_CONNS":     "50",
				"DB_MAX_IDLE_CONNS":     "20",
				"DB_CONN_MAX_LIFETIME":  "2h",
				"DB_CONN_MAX_IDLE_TIME": "5m",
			},
			want: ConnectionConfig{
				MaxOpenConns:    50,
				MaxIdleConns:    20,
				ConnMaxLifetime: 2 * time.Hour,
				ConnMaxIdleTime: 5 * time.Minute,
			},
		},
		{
			name: "invalid values keep defaults",
			env: map[string]string{
				"DB_MAX_OPEN_CONNS":     "invalid",
				"DB_MAX_IDLE_CONNS":     "-10",
				"DB_CONN_MAX_LIFETIME":  "0s",
				"DB_CONN_MAX_IDLE_TIME": "soon",
			},
			want: DefaultConnectionConfig(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"DB_MAX_OPEN_CONNS", "DB_MAX_IDLE_CONNS", "DB_CONN_MAX_LIFETIME", "DB_CONN_MAX_IDLE_TIME"} {
				t.Setenv(key, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, connectionConfigFromEnv())
		})
	}
}

func TestOpen_MissingDSN(t *testing.T) {
	t.Setenv("DATABASE_URL", "")

	db, err := Open(context.Background())
	require.ErrorIs(t, err, ErrMissingDSN)
	assert.Nil(t, db)
}
