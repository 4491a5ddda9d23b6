// coordinatord is the user-facing escrow coordinator service.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"trustora/coordinator"
	"trustora/internal/logging"
	"trustora/kv"
	"trustora/models"
	"trustora/storage"
)

func main() {
	cfg, err := coordinator.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.Setup("coordinatord", cfg.Environment)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	coord, err := kv.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("open coordinator store: %v", err)
	}
	defer coord.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := coord.Ping(ctx); err != nil {
		log.Fatalf("ping coordinator store: %v", err)
	}

	signerClient := coordinator.NewSignerClient(cfg.SignerBaseURL, cfg.SignerHMACSecret)
	server := coordinator.NewServer(cfg, storage.New(db), coord, signerClient, logger,
		coordinator.WithMetrics(coordinator.DefaultMetrics()))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", server.Router())

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("coordinator listening", "addr", cfg.Listen)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}
