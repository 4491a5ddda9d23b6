// watcherd scans one settlement chain for deposits into escrow addresses.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"trustora/chainrpc"
	"trustora/chains"
	"trustora/internal/logging"
	"trustora/kv"
	"trustora/models"
	"trustora/storage"
	"trustora/watcher"
)

func main() {
	chainFlag := flag.String("chain", "", "chain to watch (TRC20 or BEP20)")
	listen := flag.String("listen", ":8092", "metrics listen address")
	flag.Parse()

	chain, err := chains.Parse(*chainFlag)
	if err != nil {
		log.Fatalf("chain: %v", err)
	}
	logger := logging.Setup("watcherd", envDefault("WATCHER_ENV", "dev"))

	nodeURL := os.Getenv("WATCHER_NODE_URL")
	contract := os.Getenv("WATCHER_CONTRACT")
	if nodeURL == "" || contract == "" {
		log.Fatalf("WATCHER_NODE_URL and WATCHER_CONTRACT are required")
	}
	decimals := envInt("WATCHER_TOKEN_DECIMALS", 6)
	databaseURL := os.Getenv("DATABASE_URL")
	redisURL := os.Getenv("REDIS_URL")
	if databaseURL == "" || redisURL == "" {
		log.Fatalf("DATABASE_URL and REDIS_URL are required")
	}

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	coord, err := kv.NewRedis(redisURL)
	if err != nil {
		log.Fatalf("open coordinator store: %v", err)
	}
	defer coord.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var backend chainrpc.Backend
	switch chain {
	case chains.TRC20:
		backend, err = chainrpc.NewTron(nodeURL, os.Getenv("WATCHER_API_KEY"), contract, int32(decimals))
	case chains.BEP20:
		backend, err = chainrpc.DialEVM(ctx, nodeURL, contract, int32(decimals))
	}
	if err != nil {
		log.Fatalf("chain backend: %v", err)
	}

	w := watcher.New(watcher.Config{
		Chain:         chain,
		Confirmations: envInt("WATCHER_CONFIRMATIONS", 0),
	}, backend, storage.New(db), coord, logger,
		watcher.WithMetrics(watcher.DefaultMetrics()))

	metricsServer := &http.Server{
		Addr:              *listen,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("metrics serve: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("watcher starting", "chain", string(chain))
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("watch: %v", err)
	}
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("parse %s: %v", key, err)
	}
	return v
}
