package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/activities"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/app"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/config"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/observability/logger"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/workflows"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	logger.Init(logger.Config{Env: cfg.Env, Level: cfg.LogLevel, Service: "signtusk-worker"})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	healthSrv := startHealthServer(cfg.WorkerHealthAddr)
	defer func() {
		_ = healthSrv.Shutdown(context.Background())
	}()

	application, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to build application: %v", err)
	}
	defer application.Close()

	temporalClient, err := client.NewClient(client.Options{
		HostPort:  cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
	})
	if err != nil {
		log.Fatalf("failed to create temporal client: %v", err)
	}
	defer temporalClient.Close()

	acts := activities.New(application.Signer)
	w := worker.New(temporalClient, cfg.TemporalTaskQueue, worker.Options{})
	w.RegisterWorkflow(workflows.BatchSigningWorkflow)
	w.RegisterActivityWithOptions(acts.SignDocument, activity.RegisterOptions{Name: activities.SignDocumentActivityName})

	go func() {
		<-ctx.Done()
		w.Stop()
	}()

	log.Printf("signtusk worker listening on task queue %s", cfg.TemporalTaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker exited: %v", err)
	}
}

func startHealthServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("health server error: %v", err)
		}
	}()
	return srv
}
