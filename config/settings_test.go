package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yoobatch/internal/utils"
)

func baseEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"STORE_BACKEND", "REDIS_ADDR", "REDIS_URI", "REDIS_URL", "KEY_PREFIX",
		"DEBOUNCE_TIME", "BUFFER_TTL", "RATE_WINDOW", "LLM_CALLS_PER_MINUTE",
		"RETRY_ATTEMPTS", "AGENT_IDLE_TIMEOUT", "AGENT_SWEEP_INTERVAL",
		"LLM_PROVIDER", "OPENAI_API_KEY", "VERTEX_PROJECT", "PORT",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("OPENAI_API_KEY", "sk-test")
}

func TestLoadSettingsDefaults(t *testing.T) {
	baseEnv(t)

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, "redis", s.StoreBackend)
	assert.Equal(t, 5*time.Second, s.DebounceDelay)
	assert.Equal(t, 300*time.Second, s.BufferTTL)
	assert.Equal(t, 5, s.RateLimit)
	assert.Equal(t, 60*time.Second, s.RateWindow)
	assert.Equal(t, 30*time.Minute, s.AgentIdleTimeout)
	assert.Equal(t, 5*time.Minute, s.AgentSweepInterval)
	assert.Equal(t, uint(3), s.RetryAttempts)
	assert.Equal(t, "8080", s.Port)
}

func TestLoadSettingsParsesSecondsAndDurations(t *testing.T) {
	baseEnv(t)
	t.Setenv("DEBOUNCE_TIME", "2.5")
	t.Setenv("RATE_WINDOW", "90s")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")

	s, err := LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, s.DebounceDelay)
	assert.Equal(t, 90*time.Second, s.RateWindow)
	assert.Equal(t, "redis://localhost:6379/1", s.RedisAddr)
}

func TestLoadSettingsErrors(t *testing.T) {
	cases := map[string]map[string]string{
		"no redis":         {"REDIS_ADDR": ""},
		"bad backend":      {"STORE_BACKEND": "etcd"},
		"bad debounce":     {"DEBOUNCE_TIME": "soon"},
		"short ttl":        {"DEBOUNCE_TIME": "10", "BUFFER_TTL": "15"},
		"no openai key":    {"OPENAI_API_KEY": ""},
		"vertex project":   {"LLM_PROVIDER": "vertex"},
		"zero retries":     {"RETRY_ATTEMPTS": "0"},
		"bad rate limit":   {"LLM_CALLS_PER_MINUTE": "lots"},
		"unknown provider": {"LLM_PROVIDER": "llama"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			baseEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadSettings()
			require.Error(t, err)
			assert.True(t, utils.IsCode(err, utils.CodeConfig), err.Error())
		})
	}
}

func TestMemoryBackendNeedsNoRedis(t *testing.T) {
	baseEnv(t)
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("REDIS_ADDR", "")

	_, err := LoadSettings()
	assert.NoError(t, err)
}
