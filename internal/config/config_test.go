package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mapLookup(m map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load(mapLookup(nil))

	assert.Equal(t, "8001", cfg.Server.Port)
	assert.Equal(t, "velero", cfg.Cluster.Namespace)
	assert.Equal(t, "localhost:6379", cfg.Redis.GetRedisAddr())
	assert.Equal(t, "memory", cfg.RateLimit.Backend)
	assert.Equal(t, "fixed_window", cfg.RateLimit.Algorithm)
	assert.False(t, cfg.Bus.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.JobTimeout)
	assert.Equal(t, 5*time.Second, cfg.WebSocket.WriteTimeout)
	assert.Empty(t, cfg.Warnings)

	require.Len(t, cfg.Scheduler.Jobs, len(cronJobSpecs))
	for _, job := range cfg.Scheduler.Jobs {
		assert.Equal(t, DefaultCronInterval, job.IntervalSeconds, job.Endpoint)
	}
}

func TestLoadOverrides(t *testing.T) {
	cfg := Load(mapLookup(map[string]string{
		"PORT":                     "9000",
		"BUS_ENABLED":              "true",
		"RATE_LIMITER_BACKEND":     "REDIS",
		"CRON_BACKUPS_INTERVAL":    "60",
		"WS_ALLOWED_ORIGINS":       "http://a.example, http://b.example,",
		"WS_EVICT_AFTER_FAILURES":  "3",
		"WS_WRITE_TIMEOUT_SECONDS": "2",
	}))

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.True(t, cfg.Bus.Enabled)
	assert.Equal(t, "redis", cfg.RateLimit.Backend)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.WebSocket.AllowedOrigins)
	assert.Equal(t, 3, cfg.WebSocket.EvictAfterFailures)
	assert.Equal(t, 2*time.Second, cfg.WebSocket.WriteTimeout)

	for _, job := range cfg.Scheduler.Jobs {
		if job.Endpoint == "/api/v1/backups" {
			assert.Equal(t, 60, job.IntervalSeconds)
			assert.True(t, job.CredentialRequired)
		}
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	cfg := Load(mapLookup(map[string]string{
		"CRON_STATS_INTERVAL":    "-5",
		"JOB_TIMEOUT_SECONDS":    "abc",
		"RATE_LIMITER_ALGORITHM": "leaky",
		"BUS_ENABLED":            "maybe",
	}))

	assert.Equal(t, DefaultCronInterval, cfg.Scheduler.Jobs[0].IntervalSeconds)
	assert.Equal(t, 30*time.Second, cfg.Scheduler.JobTimeout)
	assert.Equal(t, "fixed_window", cfg.RateLimit.Algorithm)
	assert.False(t, cfg.Bus.Enabled)
	assert.Len(t, cfg.Warnings, 4)
}
