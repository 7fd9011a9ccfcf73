// Package opsserver exposes the paging core's operational surface: health,
// Prometheus metrics, and a per-channel stats inspector. It mirrors the
// teacher's internal/server/server.go — config-driven http.Server, signal
// handling, bounded graceful shutdown — trimmed to the ops-only scope this
// system needs (no gRPC, no request auth: transport and the management
// surface are external collaborators).
package opsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shashiranjanraj/chanpage/config"
	"github.com/shashiranjanraj/chanpage/internal/paging"
	"github.com/shashiranjanraj/chanpage/pkg/logger"
	"github.com/shashiranjanraj/chanpage/pkg/metrics"
)

// Registry resolves a channel ID to its ChannelCore, for the /channels
// inspector routes. *channelset.Set (cmd/chanpage) satisfies this.
type Registry interface {
	Lookup(channelID string) (*paging.ChannelCore, bool)
	IDs() []string
}

// Handler builds the ops HTTP handler: GET /healthz, GET /metrics,
// GET /channels, and GET /channels/{id}/stats.
func Handler(reg Registry) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Get("/metrics", metrics.Handler())

	r.Get("/channels", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reg.IDs())
	})

	r.Get("/channels/{id}/stats", func(w http.ResponseWriter, req *http.Request) {
		id := chi.URLParam(req, "id")
		core, ok := reg.Lookup(id)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unknown channel"})
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(core.Stats())
	})

	return r
}

// Start boots the ops HTTP server, runs until SIGINT/SIGTERM, then shuts
// down gracefully. It blocks until shutdown completes.
func Start(reg Registry) error {
	procs := runtime.GOMAXPROCS(0)
	logger.Info("runtime", "GOMAXPROCS", procs, "NumCPU", runtime.NumCPU())

	addr := ":" + config.AppPort()
	srv := &http.Server{
		Addr:           addr,
		Handler:        Handler(reg),
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("chanpage ops server on %s [env: %s]\n", addr, config.AppEnv())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		fmt.Printf("signal %s received, shutting down ops server\n", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := srv.Shutdown(ctx)
	logger.CloseMongoHandler()
	return err
}
