package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/petrona-ai/callbridge/internal/dotenv"
	"github.com/petrona-ai/callbridge/pkg/bridge/backend"
	"github.com/petrona-ai/callbridge/pkg/bridge/config"
	"github.com/petrona-ai/callbridge/pkg/bridge/intent"
	"github.com/petrona-ai/callbridge/pkg/bridge/lifecycle"
	"github.com/petrona-ai/callbridge/pkg/bridge/listings"
	"github.com/petrona-ai/callbridge/pkg/bridge/prompt"
	"github.com/petrona-ai/callbridge/pkg/bridge/schedule"
	"github.com/petrona-ai/callbridge/pkg/bridge/session"
	"github.com/petrona-ai/callbridge/pkg/bridge/sessions"
	"github.com/petrona-ai/callbridge/pkg/bridge/tools"
	"github.com/petrona-ai/callbridge/pkg/crm"
	"github.com/petrona-ai/callbridge/pkg/crm/postgres"
	"github.com/petrona-ai/callbridge/pkg/httpapi"
)

// callStore is the persistence surface main wires up: the write side used
// by tools and call flushes plus the read side feeding the listings cache.
type callStore interface {
	crm.Gateway
	crm.Catalog
	Close()
}

type bridgeDeps struct {
	loadConfig   func() (config.Config, error)
	openStore    func(ctx context.Context, databaseURL string) (callStore, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultBridgeDeps() bridgeDeps {
	return bridgeDeps{
		loadConfig: config.LoadFromEnv,
		openStore: func(ctx context.Context, databaseURL string) (callStore, error) {
			return postgres.Open(ctx, databaseURL)
		},
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func runBridge(ctx context.Context, logger *slog.Logger, deps bridgeDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.openStore == nil {
		return errors.New("missing openStore dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	resolver, err := schedule.NewResolver(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone: %w", err)
	}

	persona, err := prompt.LoadPersona(cfg.PersonaPath)
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}

	// Without a database the bridge still answers calls: listings fall
	// back to the built-in default and CRM writes are dropped.
	var store callStore
	if cfg.DatabaseURL != "" {
		store, err = deps.openStore(runCtx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()
	} else {
		logger.Warn("no database configured, CRM writes disabled")
		store = disabledStore{}
	}

	cache := listings.NewCache(store, cfg.ListingsRefreshInterval, logger)
	go cache.Run(runCtx)

	builder := prompt.NewBuilder(persona, cache, resolver)
	dispatcher := tools.NewDispatcher(store, crm.NoCalendar{}, resolver, logger)
	classifier := intent.NewKeywordClassifier()
	tracker := sessions.NewTracker()
	life := &lifecycle.Lifecycle{}

	startSession := func(ctx context.Context, tele session.TelephonyConn, sessionID string) error {
		bridge, err := session.New(session.Dependencies{
			Telephony: tele,
			DialBackend: func(ctx context.Context) (session.BackendConn, error) {
				return backend.Dial(ctx, backend.Config{
					URL:          cfg.BackendURL,
					APIKey:       cfg.BackendAPIKey,
					DialTimeout:  cfg.BackendDialTimeout,
					WriteTimeout: cfg.WSWriteTimeout,
					PingInterval: cfg.WSPingInterval,
					Logger:       logger,
				})
			},
			Instructions: func(ctx context.Context) (string, error) {
				return builder.Build(), nil
			},
			Tools:      dispatcher,
			Gateway:    store,
			Classifier: classifier,
			Logger:     logger,
			SessionID:  sessionID,
			Config: session.Config{
				MaxReconnects:      cfg.MaxReconnects,
				ReconnectDelay:     cfg.ReconnectDelay,
				Voice:              cfg.BackendVoice,
				TranscriptionModel: cfg.TranscriptionModel,
				MaxTranscriptChars: cfg.MaxTranscriptChars,
			},
		})
		if err != nil {
			return err
		}
		return bridge.Run(ctx)
	}

	api := httpapi.New(httpapi.Dependencies{
		Config:    cfg,
		Logger:    logger,
		Gateway:   store,
		Tracker:   tracker,
		Lifecycle: life,
		Listings:  cache,
		Sessions:  startSession,
	})
	httpSrv := buildHTTPServer(cfg, api.Handler())

	logger.Info("starting call bridge", "addr", cfg.Addr, "backend_url", cfg.BackendURL)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	life.SetDraining(true)
	if n := tracker.Count(); n > 0 {
		logger.Info("draining live calls", "count", n)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer waitCancel()
	drainLiveCalls(waitCtx, tracker, logger)

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("call bridge stopped")
	return nil
}

// drainLiveCalls ends every live call first, which closes its telephony
// leg and triggers its flush, then waits bounded by ctx for the flushes
// to finish before the process exits.
func drainLiveCalls(ctx context.Context, tracker *sessions.Tracker, logger *slog.Logger) {
	if n := tracker.CancelAll(); n > 0 {
		logger.Info("canceling live calls", "count", n)
	}
	if !tracker.Wait(ctx) {
		logger.Warn("live calls did not finish flushing before the grace period")
	}
}

// disabledStore wires crm.Disabled into the callStore surface.
type disabledStore struct {
	crm.Disabled
}

func (disabledStore) Close() {}

func runMain(ctx context.Context, stderr io.Writer, deps bridgeDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "callbridge: %v\n", err)
		return 1
	}

	if err := runBridge(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "callbridge: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultBridgeDeps()))
}
