package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/config"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/crypto"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/db"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/ratelimit"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/infra/tsa"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/usecase"
)

type Server struct {
	cfg   config.Config
	store *db.Store
	r     *gin.Engine

	signer       *usecase.DocumentSigner
	orchestrator *usecase.Orchestrator
	audit        *usecase.AuditTrail
	engine       *crypto.Engine
	tsaClient    *tsa.Client
	failover     domain.FailoverConfig

	rateLimiter       domain.RateLimiter
	rateLimitRequests int
	rateLimitWindow   time.Duration
}

type ServerDeps struct {
	Store        *db.Store
	Signer       *usecase.DocumentSigner
	Orchestrator *usecase.Orchestrator
	Audit        *usecase.AuditTrail
	Engine       *crypto.Engine
	TSAClient    *tsa.Client
	Failover     domain.FailoverConfig
	RateLimiter  domain.RateLimiter
}

func NewServer(cfg config.Config, deps ServerDeps) *Server {
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		cfg:          cfg,
		store:        deps.Store,
		r:            r,
		signer:       deps.Signer,
		orchestrator: deps.Orchestrator,
		audit:        deps.Audit,
		engine:       deps.Engine,
		tsaClient:    deps.TSAClient,
		failover:     deps.Failover,
	}
	s.initRateLimit(deps.RateLimiter)
	s.routes()
	return s
}

func (s *Server) initRateLimit(override domain.RateLimiter) {
	if override != nil {
		s.rateLimiter = override
	}
	if s.rateLimiter == nil && s.cfg.RateLimitRequests > 0 {
		if s.cfg.RedisAddr != "" {
			if limiter, err := ratelimit.NewRedisLimiter(s.cfg.RedisAddr, s.cfg.RedisPassword, s.cfg.RedisDB, nil); err == nil {
				s.rateLimiter = limiter
			}
		}
		if s.rateLimiter == nil {
			s.rateLimiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryConfig{
				MaxKeys: s.cfg.RateLimitMaxKeys,
			})
		}
	}
	s.rateLimitRequests = s.cfg.RateLimitRequests
	if s.cfg.RateLimitWindowSeconds > 0 {
		s.rateLimitWindow = time.Duration(s.cfg.RateLimitWindowSeconds) * time.Second
	}
}

func (s *Server) routes() {
	s.r.GET("/healthz", s.handleHealth)
	s.r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.r.Group("/v1")
	v1.Use(s.rateLimitMiddleware())
	{
		v1.POST("/signatures", s.handleSign)
		v1.POST("/signatures/verify", s.handleVerify)
		v1.POST("/signatures/embed", s.handleEmbed)

		v1.POST("/timestamps", s.handleTimestamp)
		v1.POST("/timestamps/verify", s.handleTimestampVerify)

		v1.POST("/batches", s.handleStartBatch)
		v1.GET("/batches/:batch_id", s.handleBatchReport)
		v1.GET("/batches/:batch_id/progress", s.handleBatchProgress)
		v1.GET("/batches/:batch_id/documents/:document_id", s.handleBatchDocument)
		v1.POST("/batches/:batch_id/cancel", s.handleBatchCancel)

		v1.GET("/audit/records", s.handleAuditRecords)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "no such route")
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	dbMode := "no-db"
	if s.store.Available() {
		dbMode = "db"
	}
	health := domain.HealthStatus{State: domain.HealthHealthy}
	if s.orchestrator != nil {
		health = s.orchestrator.GetHealthStatus()
	}
	status := http.StatusOK
	if health.State == domain.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"status":         string(health.State),
		"active_batches": health.ActiveBatches,
		"mode":           dbMode,
	})
}

func (s *Server) Run() error {
	return s.r.Run(s.cfg.HTTPAddr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.r
}
