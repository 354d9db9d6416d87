package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/petrona-ai/callbridge/pkg/bridge/config"
	"github.com/petrona-ai/callbridge/pkg/bridge/sessions"
)

func TestRunMain_ReturnsNonZeroWhenConfigLoadFails(t *testing.T) {
	t.Parallel()

	var stderr bytes.Buffer
	exitCode := runMain(context.Background(), &stderr, bridgeDeps{
		loadConfig: func() (config.Config, error) {
			return config.Config{}, errors.New("boom")
		},
		openStore: func(ctx context.Context, databaseURL string) (callStore, error) {
			t.Fatalf("openStore should not be called when config load fails")
			return nil, nil
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {},
		signalStop:   func(c chan<- os.Signal) {},
	})

	if exitCode != 1 {
		t.Fatalf("exitCode=%d, want 1", exitCode)
	}
	if got := stderr.String(); got == "" {
		t.Fatalf("expected stderr output for startup error")
	}
}

func TestRunBridge_ValidatesDependencies(t *testing.T) {
	t.Parallel()

	err := runBridge(context.Background(), nil, bridgeDeps{})
	if err == nil {
		t.Fatalf("expected error for empty dependencies")
	}
}

func TestRunBridge_FailsWhenStoreCannotOpen(t *testing.T) {
	t.Parallel()

	deps := defaultBridgeDeps()
	deps.loadConfig = func() (config.Config, error) {
		return config.Config{
			Addr:        "127.0.0.1:0",
			BackendURL:  "wss://backend.example/v1/realtime",
			DatabaseURL: "postgres://localhost/callbridge",
			Timezone:    "America/New_York",
		}, nil
	}
	deps.openStore = func(ctx context.Context, databaseURL string) (callStore, error) {
		return nil, errors.New("connection refused")
	}

	err := runBridge(context.Background(), nil, deps)
	if err == nil || !strings.Contains(err.Error(), "open store") {
		t.Fatalf("expected store open error, got %v", err)
	}
}

func TestDrainLiveCalls_CancelsThenWaitsForFlush(t *testing.T) {
	t.Parallel()

	tracker := sessions.NewTracker()
	flushed := make(chan struct{})
	var unregister func()
	unregister = tracker.Register("call-1", func() {
		go func() {
			// Simulates the call loop flushing its record after cancel.
			time.Sleep(20 * time.Millisecond)
			close(flushed)
			unregister()
		}()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	drainLiveCalls(ctx, tracker, slog.New(slog.DiscardHandler))

	select {
	case <-flushed:
	default:
		t.Fatal("drain returned before the canceled call flushed")
	}
	if n := tracker.Count(); n != 0 {
		t.Fatalf("live calls remaining after drain: %d", n)
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Addr:              "127.0.0.1:9999",
		ReadHeaderTimeout: 2 * time.Second,
	}

	srv := buildHTTPServer(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	if srv.Addr != cfg.Addr {
		t.Fatalf("Addr=%q, want %q", srv.Addr, cfg.Addr)
	}
	if srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("ReadHeaderTimeout=%v, want %v", srv.ReadHeaderTimeout, cfg.ReadHeaderTimeout)
	}
}
