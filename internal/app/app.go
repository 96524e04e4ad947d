package app

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/config"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/certcache"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/crypto"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/db"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/keys"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/keys/awskms"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/keys/gcpkms"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/keys/pkcs11hsm"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/keys/soft"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/policy"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/queue"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/recordmem"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/tsa"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/observability/logger"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/usecase"
)

// App wires the signing pipeline once so the API server and the batch worker
// assemble the same stack from the same configuration.
type App struct {
	Cfg      config.Config
	Store    *db.Store
	Registry *keys.Registry
	Engine   *crypto.Engine

	Audit        *usecase.AuditTrail
	TSAClient    *tsa.Client
	Failover     domain.FailoverConfig
	Signer       *usecase.DocumentSigner
	Orchestrator *usecase.Orchestrator
	Queue        *queue.Memory
}

func Build(ctx context.Context, cfg config.Config) (*App, error) {
	store, err := db.NewStore(cfg)
	if err != nil {
		return nil, err
	}
	var auditRepo usecase.AuditRecordRepository
	var batchRepo usecase.BatchRepository
	if store.Available() {
		if err := store.Migrate(); err != nil {
			return nil, err
		}
		auditRepo = db.NewTimestampAuditRepository(store.DB)
		batchRepo = db.NewBatchReportRepository(store.DB)
	} else {
		auditRepo = recordmem.NewAuditRepository()
		batchRepo = recordmem.NewBatchRepository()
	}

	registry, err := buildRegistry(ctx, cfg)
	if err != nil {
		return nil, err
	}

	audit := usecase.NewAuditTrail(auditRepo, nil)
	tsaClient := tsa.NewClient(audit)

	primary, fallbacks, err := cfg.TSAEndpoints()
	if err != nil {
		return nil, err
	}
	failover := domain.FailoverConfig{
		Primary:             primary,
		Fallbacks:           fallbacks,
		MaxFailoverAttempts: cfg.TSAMaxFailoverAttempts,
		AttemptTimeout:      cfg.TSAAttemptTimeout,
		FailoverTimeout:     cfg.TSAFailoverTimeout,
	}

	signer := &usecase.DocumentSigner{
		Engine:   crypto.NewEngine(registry).WithChainCache(certcache.New(cfg.CertCacheTTL)),
		Registry: registry,
		TSA:      tsaClient,
		Failover: failover,
	}
	if cfg.PolicyBundlePath != "" {
		gate, err := policy.NewEngineFromBundlePath(ctx, cfg.PolicyBundlePath, cfg.PolicyBundleID)
		if err != nil {
			return nil, err
		}
		signer.Policy = gate
		logger.L().Info("policy bundle loaded",
			zap.String("path", cfg.PolicyBundlePath), zap.String("bundle_id", cfg.PolicyBundleID))
	}

	jobQueue := queue.NewMemory()
	orchestrator := usecase.NewOrchestrator(signer)
	orchestrator.Queue = jobQueue
	orchestrator.Repo = batchRepo
	if cfg.BatchMaxConcurrency > 0 {
		orchestrator.DefaultConcurrency = cfg.BatchMaxConcurrency
	}
	orchestrator.DefaultRetryBudget = cfg.BatchRetryBudget
	if cfg.QueuePollInterval > 0 {
		orchestrator.PollInterval = cfg.QueuePollInterval
	}
	if cfg.QueueSettleTimeout > 0 {
		orchestrator.QueueSettleTimeout = cfg.QueueSettleTimeout
	}

	return &App{
		Cfg:          cfg,
		Store:        store,
		Registry:     registry,
		Engine:       signer.Engine,
		Audit:        audit,
		TSAClient:    tsaClient,
		Failover:     failover,
		Signer:       signer,
		Orchestrator: orchestrator,
		Queue:        jobQueue,
	}, nil
}

// buildRegistry registers every provider the configuration names. The soft
// provider is always present; hardware and cloud providers join when their
// settings are set. One provider failing to initialize stops startup instead
// of silently running without it.
func buildRegistry(ctx context.Context, cfg config.Config) (*keys.Registry, error) {
	registry := keys.NewRegistry()

	softCfg := map[string]string{
		"pkcs12_path":     cfg.SoftPKCS12Path,
		"pkcs12_password": cfg.SoftPKCS12Password,
		"cert_pem_path":   cfg.SoftCertPEMPath,
		"key_pem_path":    cfg.SoftKeyPEMPath,
	}
	if err := registry.Register(ctx, "soft", soft.NewManager(), softCfg); err != nil {
		return nil, err
	}

	if cfg.AWSRegion != "" {
		manager, err := awskms.NewManagerFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(ctx, "awskms", manager, nil); err != nil {
			return nil, err
		}
	}
	if cfg.GCPProjectID != "" {
		manager, err := gcpkms.NewManagerFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(ctx, "gcpkms", manager, nil); err != nil {
			return nil, err
		}
	}
	if cfg.PKCS11ModulePath != "" {
		p11Cfg := map[string]string{
			"module_path": cfg.PKCS11ModulePath,
			"slot":        strconv.Itoa(cfg.PKCS11Slot),
			"pin":         cfg.PKCS11PIN,
		}
		if err := registry.Register(ctx, "pkcs11", pkcs11hsm.NewManager(), p11Cfg); err != nil {
			return nil, err
		}
	}

	logger.L().Info("signing providers registered", zap.Strings("providers", registry.Available()))
	return registry, nil
}

// Close releases provider sessions and drains the in-process queue.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	if a.Queue != nil {
		a.Queue.Close()
	}
	if a.Registry != nil {
		return a.Registry.Close()
	}
	return nil
}
