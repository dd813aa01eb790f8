package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/groundframe/client/internal/config"
	"github.com/groundframe/client/internal/engine"
	"github.com/groundframe/client/internal/performance"
	"github.com/groundframe/client/internal/posefeed"
	"github.com/groundframe/client/internal/remotecache"
	"github.com/groundframe/client/internal/resolver"
	"github.com/groundframe/client/internal/session"
)

// main starts the Groundframe streaming agent: it wires the remote cache
// client, content resolver, session store, and pose feed into the engine's
// tick loop and runs until interrupted.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	cache := remotecache.NewClient(remotecache.Options{
		CacheBaseURL:  cfg.Remote.CacheBaseURL,
		OriginBaseURL: cfg.Remote.OriginBaseURL,
		APIKey:        cfg.Remote.APIKey,
		CacheTimeout:  cfg.Remote.CacheTimeout,
		OriginTimeout: cfg.Remote.OriginTimeout,
		RepopulateTTL: cfg.Remote.RepopulateTTL,
	})

	probeCtx, probeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := cache.Health(probeCtx); err != nil {
		log.Printf("Remote cache unreachable at startup, resolution will fall back to placeholders: %v", err)
	}
	probeCancel()

	res := resolver.New(cache, noopImporter{}, resolver.Options{
		DownloadTimeout: cfg.Resolver.DownloadTimeout,
		DownloadsPerMin: cfg.Resolver.DownloadsPerMin,
		DefaultScale:    cfg.Resolver.DefaultScale,
		PlaceholderPool: cfg.Resolver.PlaceholderPool,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := engine.Deps{
		Resolver: res,
		Store:    session.NewStore(cfg.Session.FilePath),
		Profiler: performance.NewProfiler(cfg.Engine.ProfilerEnabled),
	}
	if cfg.PoseFeed.URL != "" {
		feed := posefeed.New(cfg.PoseFeed.URL, cfg.PoseFeed.ReconnectBackoff)
		deps.Updates = feed.Updates()
		go feed.Run(ctx)
	}

	eng, err := engine.New(cfg, deps)
	if err != nil {
		log.Fatalf("Failed to construct engine: %v", err)
	}

	if cfg.Engine.HealthAddr != "" {
		go serveHealth(cfg.Engine.HealthAddr, deps.Profiler)
	}

	if err := eng.Run(ctx); err != nil {
		log.Fatalf("Engine stopped: %v", err)
	}
	log.Printf("Groundframe agent shut down cleanly")
}

// serveHealth exposes liveness plus the tick profiler snapshot.
func serveHealth(addr string, profiler *performance.Profiler) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		report, err := profiler.JSONReport()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(report)
	})
	log.Printf("Health endpoint listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("Health endpoint failed: %v", err)
	}
}

// noopImporter stands in for the engine-side 3D-asset importer. The host
// runtime replaces it; here a validated payload is carried through opaquely.
type noopImporter struct{}

func (noopImporter) Load(_ context.Context, data []byte) (resolver.Model, error) {
	return data, nil
}
