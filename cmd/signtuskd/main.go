package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/app"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/config"
	httpinfra "github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/http"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/observability/logger"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:          "signtuskd",
		Short:        "Document signing service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the build version",
			Run: func(*cobra.Command, []string) {
				fmt.Println(version)
			},
		},
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	logger.Init(logger.Config{Env: cfg.Env, Level: cfg.LogLevel, Service: "signtuskd"})
	defer logger.Sync()

	application, err := app.Build(ctx, cfg)
	if err != nil {
		log.Printf("failed to build application: %v", err)
		return err
	}
	defer application.Close()

	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Store:        application.Store,
		Signer:       application.Signer,
		Orchestrator: application.Orchestrator,
		Audit:        application.Audit,
		Engine:       application.Engine,
		TSAClient:    application.TSAClient,
		Failover:     application.Failover,
	})
	logger.S().Infow("signtuskd listening", "addr", cfg.HTTPAddr)
	return srv.Run()
}
