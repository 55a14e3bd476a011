package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"queryhub/internal/agent"
	"queryhub/internal/config"
	"queryhub/internal/db"
	"queryhub/internal/httpapi"
	"queryhub/internal/objstore"
	"queryhub/internal/runs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.AgentURL == "" {
		log.Fatal("config: QUERYHUB_AGENT_URL is required")
	}

	pool, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()
	store := db.NewStore(pool)

	objCfg := cfg.ObjstoreConfig()
	var (
		files   objstore.Store
		uploads objstore.Assumer
	)
	if cfg.ObjstoreProvider != "" {
		files, err = objstore.New(objCfg)
		if err != nil {
			log.Fatalf("objstore: %v", err)
		}
		uploads, err = objstore.NewAssumer(objCfg)
		if err != nil {
			log.Printf("objstore: direct uploads disabled: %v", err)
			uploads = nil
		}
	} else {
		log.Printf("objstore: no provider configured; file uploads disabled")
	}

	dispatcher, err := agent.NewDispatcher(agent.DispatcherConfig{
		URL:     cfg.AgentURL,
		Timeout: time.Duration(cfg.AgentTimeoutSeconds) * time.Second,
	})
	if err != nil {
		log.Fatalf("agent: %v", err)
	}

	broker := httpapi.NewBroker()
	executor := runs.NewExecutor(store, dispatcher, runs.ExecutorConfig{
		Workers:           cfg.ExecutorWorkers,
		QueueSize:         cfg.ExecutorQueueSize,
		HeartbeatInterval: time.Duration(cfg.StaleRunSeconds) * time.Second / 4,
		Notifier:          broker,
	})

	// Runs owned by a previous process that died can never finish.
	recoverCtx, cancelRecover := context.WithTimeout(context.Background(), 10*time.Second)
	stale, err := runs.FailStaleRuns(recoverCtx, store, time.Duration(cfg.StaleRunSeconds)*time.Second, time.Now())
	cancelRecover()
	if err != nil {
		log.Printf("startup recovery: %v", err)
	} else if len(stale) > 0 {
		log.Printf("startup recovery: failed %d abandoned runs", len(stale))
	}

	svc := runs.NewService(runs.ServiceDeps{
		Store:    store,
		Files:    files,
		Executor: executor,
		Limits: runs.Limits{
			ConversationsPerDay:       cfg.DailyConversationLimit,
			RunsPerConversationPerDay: cfg.DailyRunLimit,
		},
	})

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Runs:       svc,
			Users:      store,
			Broker:     broker,
			Pepper:     cfg.APIKeyPepper,
			AdminToken: cfg.AdminToken,

			Objstore:       objCfg,
			Files:          files,
			Uploads:        uploads,
			MaxUploadBytes: cfg.MaxUploadBytes,

			IPRateLimitPerMinute: cfg.IPRateLimitPerMinute,
			CORSOrigins:          cfg.CORSOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("api listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}

	// In-flight agent calls get the agent timeout to finish before they are cancelled.
	execCtx, cancelExec := context.WithTimeout(context.Background(), time.Duration(cfg.AgentTimeoutSeconds)*time.Second+5*time.Second)
	defer cancelExec()
	if err := executor.Shutdown(execCtx); err != nil {
		log.Printf("executor shutdown: %v", err)
	}
}
