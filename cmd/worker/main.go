package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"queryhub/internal/config"
	"queryhub/internal/db"
	"queryhub/internal/runs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()
	store := db.NewStore(pool)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(time.Duration(cfg.WorkerTickSeconds) * time.Second)
	defer ticker.Stop()

	staleAfter := time.Duration(cfg.StaleRunSeconds) * time.Second
	log.Printf("worker started (tick=%ds stale_after=%s)", cfg.WorkerTickSeconds, staleAfter)

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker stopping")
			return
		case <-ticker.C:
			reapStaleRuns(ctx, store, staleAfter)
		}
	}
}

func reapStaleRuns(ctx context.Context, store runs.Store, staleAfter time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	ids, err := runs.FailStaleRuns(ctx, store, staleAfter, time.Now())
	if err != nil {
		log.Printf("reap stale runs: %v", err)
		return
	}
	for _, id := range ids {
		log.Printf("reaped stale run %s", id)
	}
}
