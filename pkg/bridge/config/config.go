package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// PublicHost overrides the Host header when composing the media-stream
	// URL in the inbound-call reply. Leave empty behind a well-behaved proxy.
	PublicHost string

	// Realtime AI backend.
	BackendURL         string
	BackendAPIKey      string
	BackendVoice       string
	TranscriptionModel string

	// CRM store.
	DatabaseURL string

	// Civil timezone for all scheduling and business-hours computations.
	Timezone string

	// Optional YAML persona file for the spoken agent.
	PersonaPath string

	// Backend reconnect policy.
	MaxReconnects  int
	ReconnectDelay time.Duration

	// Serialized transcript cap for the call-log row.
	MaxTranscriptChars int

	ListingsRefreshInterval time.Duration

	// Per-key sliding-window rate limit on the public status route.
	StatusRateLimitPerMinute int
	StatusCacheTTL           time.Duration

	WSWriteTimeout      time.Duration
	WSPingInterval      time.Duration
	BackendDialTimeout  time.Duration
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                     envOr("CALLBRIDGE_ADDR", ":8080"),
		PublicHost:               envOr("CALLBRIDGE_PUBLIC_HOST", ""),
		BackendURL:               envOr("CALLBRIDGE_BACKEND_URL", "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-12-17"),
		BackendAPIKey:            envOr("CALLBRIDGE_BACKEND_API_KEY", os.Getenv("OPENAI_API_KEY")),
		BackendVoice:             envOr("CALLBRIDGE_BACKEND_VOICE", "echo"),
		TranscriptionModel:       envOr("CALLBRIDGE_TRANSCRIPTION_MODEL", "whisper-1"),
		DatabaseURL:              envOr("CALLBRIDGE_DATABASE_URL", os.Getenv("DATABASE_URL")),
		Timezone:                 envOr("CALLBRIDGE_TIMEZONE", "America/New_York"),
		PersonaPath:              envOr("CALLBRIDGE_PERSONA_PATH", ""),
		MaxReconnects:            envIntOr("CALLBRIDGE_MAX_RECONNECTS", 2),
		ReconnectDelay:           envDurationOr("CALLBRIDGE_RECONNECT_DELAY", 500*time.Millisecond),
		MaxTranscriptChars:       envIntOr("CALLBRIDGE_MAX_TRANSCRIPT_CHARS", 2000),
		ListingsRefreshInterval:  envDurationOr("CALLBRIDGE_LISTINGS_REFRESH_INTERVAL", time.Minute),
		StatusRateLimitPerMinute: envIntOr("CALLBRIDGE_STATUS_RATE_LIMIT_PER_MINUTE", 10),
		StatusCacheTTL:           envDurationOr("CALLBRIDGE_STATUS_CACHE_TTL", time.Minute),
		WSWriteTimeout:           envDurationOr("CALLBRIDGE_WS_WRITE_TIMEOUT", 5*time.Second),
		WSPingInterval:           envDurationOr("CALLBRIDGE_WS_PING_INTERVAL", 20*time.Second),
		BackendDialTimeout:       envDurationOr("CALLBRIDGE_BACKEND_DIAL_TIMEOUT", 10*time.Second),
		ReadHeaderTimeout:        envDurationOr("CALLBRIDGE_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod:      envDurationOr("CALLBRIDGE_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	if strings.TrimSpace(cfg.Addr) == "" {
		return Config{}, fmt.Errorf("CALLBRIDGE_ADDR must not be empty")
	}
	if strings.TrimSpace(cfg.BackendURL) == "" {
		return Config{}, fmt.Errorf("CALLBRIDGE_BACKEND_URL must not be empty")
	}
	if strings.TrimSpace(cfg.Timezone) == "" {
		return Config{}, fmt.Errorf("CALLBRIDGE_TIMEZONE must not be empty")
	}
	if cfg.MaxReconnects < 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_MAX_RECONNECTS must be >= 0")
	}
	if cfg.ReconnectDelay <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_RECONNECT_DELAY must be > 0")
	}
	if cfg.MaxTranscriptChars <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_MAX_TRANSCRIPT_CHARS must be > 0")
	}
	if cfg.ListingsRefreshInterval <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_LISTINGS_REFRESH_INTERVAL must be > 0")
	}
	if cfg.StatusRateLimitPerMinute <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_STATUS_RATE_LIMIT_PER_MINUTE must be > 0")
	}
	if cfg.StatusCacheTTL <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_STATUS_CACHE_TTL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_WS_PING_INTERVAL must be > 0")
	}
	if cfg.BackendDialTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_BACKEND_DIAL_TIMEOUT must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("CALLBRIDGE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
