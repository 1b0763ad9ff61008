package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"geoattend/internal/config"
	"geoattend/internal/ledger"
	"geoattend/internal/logger"
	"geoattend/internal/offline"
	"geoattend/internal/store"
)

// Worker drains the offline check-in queue into the ledger on a fixed interval.
// It stands in for the reconnect event a client would raise: anything queued while
// connectivity was down gets replayed here, in queue order.
func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	if err := checkStorageBackend(cfg.StorageBackend); err != nil {
		log.Fatal("unsupported configuration", zap.Error(err))
	}

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("db connect failed", zap.Error(err))
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		log.Fatal("migrate failed", zap.Error(err))
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var queue offline.Queue
	if cfg.QueueBackend == "memory" {
		queue = offline.NewInMemoryQueue()
	} else {
		queue = offline.NewRedisQueue(redisClient.Client, "geoattend:pending-checkins")
	}

	chain := ledger.New(ledger.NewPostgresStore(db.Client), log)
	reconciler := offline.NewReconciler(queue, chain, log)

	log.Info("offline sync worker started", zap.Duration("interval", cfg.SyncInterval))

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			synced, err := reconciler.Sync(ctx)
			if err != nil {
				// Items that failed stay queued; the next tick retries in order.
				log.Warn("sync pass incomplete", zap.Int("synced", synced), zap.Error(err))
				continue
			}
			if synced > 0 {
				log.Info("sync pass complete", zap.Int("synced", synced))
			}
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		}
	}
}

// checkStorageBackend rejects backends the worker cannot share with the API.
// An in-memory ledger lives inside the API process, so a separate worker could
// never see its sessions; that setup drains the queue through POST /v1/sync.
func checkStorageBackend(backend string) error {
	if backend == "memory" {
		return fmt.Errorf("storage backend %q is process-local; the sync worker requires postgres", backend)
	}
	return nil
}
