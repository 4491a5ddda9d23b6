// signerd is the custody service holding the platform's signing keys.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"trustora/chainrpc"
	"trustora/chains"
	"trustora/internal/logging"
	"trustora/keys"
	"trustora/kv"
	"trustora/models"
	"trustora/signer"
	"trustora/storage"
)

func main() {
	configPath := flag.String("config", "/etc/trustora/signer.yaml", "path to the signer configuration")
	flag.Parse()

	cfg, err := signer.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.Setup("signerd", cfg.Environment)

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

	pool, err := keys.LoadPool(cfg.KeyFile, cfg.KeyPass)
	if err != nil {
		log.Fatalf("load key pool: %v", err)
	}
	logger.Info("key pool loaded", "keys", pool.Len())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends := make(map[chains.Chain]chainrpc.Backend, len(cfg.Chains))
	for chain, cc := range cfg.Chains {
		switch chain {
		case chains.TRC20:
			backend, err := chainrpc.NewTron(cc.NodeURL, cc.APIKey, cc.Contract, cc.TokenDecimals)
			if err != nil {
				log.Fatalf("tron backend: %v", err)
			}
			backends[chain] = backend
		case chains.BEP20:
			backend, err := chainrpc.DialEVM(ctx, cc.NodeURL, cc.Contract, cc.TokenDecimals)
			if err != nil {
				log.Fatalf("evm backend: %v", err)
			}
			backends[chain] = backend
		}
	}

	server := signer.NewServer(cfg, storage.New(db), coord, pool, backends, logger,
		signer.WithMetrics(signer.DefaultMetrics()))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", server.Router())

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace.Duration)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("signer listening", "addr", cfg.Listen)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}
