// Package runtime assembles the daemon: embedded bus, engines, cache,
// event log, synthesis pipeline and the admin HTTP surface.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ambiware-labs/staccato/internal/bus"
	"github.com/ambiware-labs/staccato/internal/cache"
	"github.com/ambiware-labs/staccato/internal/config"
	"github.com/ambiware-labs/staccato/internal/engine"
	"github.com/ambiware-labs/staccato/internal/eventstore"
	"github.com/ambiware-labs/staccato/internal/natsserver"
	"github.com/ambiware-labs/staccato/internal/progress"
	"github.com/ambiware-labs/staccato/internal/speak"
	"github.com/ambiware-labs/staccato/internal/staged"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	cache       *cache.Cache
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("failed to start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	busCfg := r.cfg.Bus
	if embedded != nil {
		busCfg.Servers = []string{embedded.ClientURL()}
	}
	busClient, err := bus.Connect(busCfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to bus: %w", err)
	}
	defer busClient.Close()

	engines, err := engine.FromConfig(r.cfg.Engines)
	if err != nil {
		return fmt.Errorf("failed to build engines: %w", err)
	}

	if r.cfg.Staged.EnableCaching {
		r.cache, err = cache.New(r.cfg.Staged.CacheMaxEntries)
		if err != nil {
			return fmt.Errorf("failed to build cache: %w", err)
		}
	}

	events, err := eventstore.Open(ctx, r.cfg.EventLog, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event log: %w", err)
	}
	defer events.Close()

	var reporter progress.Reporter = progress.Nop{}
	if r.cfg.Progress.Enabled {
		reporter = progress.NewConsole(os.Stderr)
	}

	orchestrator := staged.New(r.cfg.Staged, engines, r.cache, reporter, r.logger)

	speakSvc := speak.NewService(ctx, busClient, orchestrator, r.cache, events, r.logger)
	if err := speakSvc.Start(); err != nil {
		return fmt.Errorf("failed to start speak service: %w", err)
	}
	defer speakSvc.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady(busClient, speakSvc))
	mux.HandleFunc("/cache/stats", r.handleCacheStats)
	mux.HandleFunc("/cache/clear", r.handleCacheClear)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(busClient *bus.Client, speakSvc *speak.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if r.ready.Load() && busClient.Healthy() && speakSvc.Healthy() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
	}
}

func (r *Runtime) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.cache == nil {
		_, _ = w.Write([]byte(`{"enabled":false}`))
		return
	}
	stats := r.cache.Stats()
	_ = json.NewEncoder(w).Encode(map[string]any{
		"enabled":     true,
		"entries":     stats.Entries,
		"total_bytes": stats.TotalBytes,
	})
}

func (r *Runtime) handleCacheClear(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if r.cache != nil {
		r.cache.Clear()
		r.logger.Info("synthesis cache cleared via http")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("cleared"))
}
