package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/samelhousseini/gpt-realtime-agents/internal/backend"
	"github.com/samelhousseini/gpt-realtime-agents/internal/config"
	"github.com/samelhousseini/gpt-realtime-agents/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.RealtimeSessionURL == "" || cfg.RealtimeAPIKey == "" {
		log.Fatalf("REALTIME_SESSION_URL and REALTIME_API_KEY are required")
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	issuer := backend.NewIssuer(backend.IssuerConfig{
		SessionURL:        cfg.RealtimeSessionURL,
		APIKey:            cfg.RealtimeAPIKey,
		WebRTCURL:         cfg.WebRTCURL,
		DefaultDeployment: cfg.Model,
		DefaultVoice:      cfg.Voice,
	}, nil)

	registry := backend.NewRegistry(cfg.SessionInactivityTimeout)
	registry.SetExpireHook(func(_ *backend.IssuedSession) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(registry.ActiveCount()))
	})

	srv := backend.NewServer(issuer, backend.NewToolRegistry(), registry, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: srv.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	registry.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("support backend listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
