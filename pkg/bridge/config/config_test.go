package config

import (
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	t.Setenv("CALLBRIDGE_BACKEND_API_KEY", "sk-test")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr=%q, want :8080", cfg.Addr)
	}
	if cfg.MaxReconnects != 2 {
		t.Fatalf("MaxReconnects=%d, want 2", cfg.MaxReconnects)
	}
	if cfg.ReconnectDelay != 500*time.Millisecond {
		t.Fatalf("ReconnectDelay=%v, want 500ms", cfg.ReconnectDelay)
	}
	if cfg.MaxTranscriptChars != 2000 {
		t.Fatalf("MaxTranscriptChars=%d, want 2000", cfg.MaxTranscriptChars)
	}
	if cfg.Timezone != "America/New_York" {
		t.Fatalf("Timezone=%q, want America/New_York", cfg.Timezone)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("CALLBRIDGE_ADDR", ":9999")
	t.Setenv("CALLBRIDGE_MAX_RECONNECTS", "5")
	t.Setenv("CALLBRIDGE_RECONNECT_DELAY", "50ms")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	if cfg.Addr != ":9999" {
		t.Fatalf("Addr=%q, want :9999", cfg.Addr)
	}
	if cfg.MaxReconnects != 5 {
		t.Fatalf("MaxReconnects=%d, want 5", cfg.MaxReconnects)
	}
	if cfg.ReconnectDelay != 50*time.Millisecond {
		t.Fatalf("ReconnectDelay=%v, want 50ms", cfg.ReconnectDelay)
	}
}

func TestLoadFromEnv_RejectsBadValues(t *testing.T) {
	t.Setenv("CALLBRIDGE_MAX_RECONNECTS", "-1")
	if _, err := LoadFromEnv(); err == nil {
		t.Fatalf("expected error for negative max reconnects")
	}
}

func TestLoadFromEnv_MalformedDurationFallsBack(t *testing.T) {
	t.Setenv("CALLBRIDGE_RECONNECT_DELAY", "not-a-duration")
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv error: %v", err)
	}
	if cfg.ReconnectDelay != 500*time.Millisecond {
		t.Fatalf("ReconnectDelay=%v, want default 500ms", cfg.ReconnectDelay)
	}
}
