package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/yoockh/yoobatch/internal/utils"
)

type Settings struct {
	StoreBackend string // "redis" | "memory"
	RedisAddr    string
	KeyPrefix    string

	DebounceDelay time.Duration
	BufferTTL     time.Duration
	RateLimit     int
	RateWindow    time.Duration
	RetryAttempts uint

	AgentIdleTimeout   time.Duration
	AgentSweepInterval time.Duration

	LLMProvider    string // "openai" | "vertex"
	OpenAIKey      string
	LLMModel       string
	VertexProject  string
	VertexLocation string

	PostgresURI string
	MongoURI    string
	MongoDB     string

	TelegramToken string
	JWTSecret     string
	Port          string
}

// LoadSettings reads the environment. Call godotenv.Load first to pick up a
// .env file.
func LoadSettings() (*Settings, error) {
	const op = "config.LoadSettings"

	s := &Settings{
		StoreBackend:   strings.ToLower(envOr("STORE_BACKEND", "redis")),
		RedisAddr:      firstEnv("REDIS_ADDR", "REDIS_URI", "REDIS_URL"),
		KeyPrefix:      os.Getenv("KEY_PREFIX"),
		LLMProvider:    strings.ToLower(envOr("LLM_PROVIDER", "openai")),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		LLMModel:       os.Getenv("LLM_MODEL"),
		VertexProject:  os.Getenv("VERTEX_PROJECT"),
		VertexLocation: envOr("VERTEX_LOCATION", "us-central1"),
		PostgresURI:    os.Getenv("POSTGRES_URI"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDB:        envOr("MONGO_DB", "yoobatch"),
		TelegramToken:  os.Getenv("TELEGRAM_TOKEN"),
		JWTSecret:      os.Getenv("SUPABASE_JWT_SECRET"),
		Port:           envOr("PORT", "8080"),
	}

	var err error
	durations := []struct {
		key string
		def time.Duration
		dst *time.Duration
	}{
		{"DEBOUNCE_TIME", 5 * time.Second, &s.DebounceDelay},
		{"BUFFER_TTL", 300 * time.Second, &s.BufferTTL},
		{"RATE_WINDOW", 60 * time.Second, &s.RateWindow},
		{"AGENT_IDLE_TIMEOUT", 1800 * time.Second, &s.AgentIdleTimeout},
		{"AGENT_SWEEP_INTERVAL", 300 * time.Second, &s.AgentSweepInterval},
	}
	for _, d := range durations {
		if *d.dst, err = envDuration(d.key, d.def); err != nil {
			return nil, utils.E(utils.CodeConfig, op, "invalid "+d.key, err)
		}
	}

	limit, err := envInt("LLM_CALLS_PER_MINUTE", 5)
	if err != nil {
		return nil, utils.E(utils.CodeConfig, op, "invalid LLM_CALLS_PER_MINUTE", err)
	}
	s.RateLimit = limit

	attempts, err := envInt("RETRY_ATTEMPTS", 3)
	if err != nil || attempts < 1 {
		return nil, utils.E(utils.CodeConfig, op, "RETRY_ATTEMPTS must be a positive integer", err)
	}
	s.RetryAttempts = uint(attempts)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) Validate() error {
	const op = "Settings.Validate"

	fail := func(msg string) error { return utils.E(utils.CodeConfig, op, msg, nil) }

	switch s.StoreBackend {
	case "redis":
		if s.RedisAddr == "" {
			return fail("REDIS_ADDR (or REDIS_URI/REDIS_URL) environment variable is not set")
		}
	case "memory":
	default:
		return fail(fmt.Sprintf("unknown STORE_BACKEND %q", s.StoreBackend))
	}

	if s.DebounceDelay <= 0 {
		return fail("DEBOUNCE_TIME must be positive")
	}
	if s.BufferTTL < 2*s.DebounceDelay {
		return fail("BUFFER_TTL must be at least twice DEBOUNCE_TIME")
	}
	if s.RateLimit < 0 {
		return fail("LLM_CALLS_PER_MINUTE must not be negative")
	}

	switch s.LLMProvider {
	case "openai":
		if s.OpenAIKey == "" {
			return fail("OPENAI_API_KEY environment variable is not set")
		}
	case "vertex":
		if s.VertexProject == "" {
			return fail("VERTEX_PROJECT environment variable is not set")
		}
	default:
		return fail(fmt.Sprintf("unknown LLM_PROVIDER %q", s.LLMProvider))
	}
	return nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

// envDuration accepts Go durations ("1500ms") or plain seconds ("1.5").
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
