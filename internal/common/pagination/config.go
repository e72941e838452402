// Package pagination parses limit/offset list parameters and wraps list
// results with their pagination metadata.
package pagination

import envcfg "school-notify/pkg/config"

// Config bounds the limit a client may request.
type Config struct {
	DefaultLimit int
	MaxLimit     int
}

// DefaultConfig returns limit=20, max=100.
func DefaultConfig() Config {
	return Config{
		DefaultLimit: 20,
		MaxLimit:     100,
	}
}

// LoadFromEnv reads PAGINATION_DEFAULT_LIMIT and PAGINATION_MAX_LIMIT.
// Inconsistent values fall back to DefaultConfig.
func LoadFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		DefaultLimit: envcfg.GetEnvInt("PAGINATION_DEFAULT_LIMIT", def.DefaultLimit),
		MaxLimit:     envcfg.GetEnvInt("PAGINATION_MAX_LIMIT", def.MaxLimit),
	}
	if cfg.DefaultLimit < 1 || cfg.MaxLimit < cfg.DefaultLimit {
		return def
	}
	return cfg
}
