package db

import (
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/config"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/domain"
	"github.com/CodeMinds-Digital/dso-signtusk-sub003/internal/observability/logger"
)

var errDBUnavailable = domain.NewError(domain.CodeBackendUnavailable, "database is not configured")

type Store struct {
	DB *gorm.DB
}

// NewStore connects to Postgres, or starts in no-db mode when no DSN is set.
// In no-db mode repositories report unavailable and the service falls back to
// in-memory records.
func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		logger.L().Info("POSTGRES_DSN not set; starting in no-db mode")
		return &Store{DB: nil}, nil
	}

	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, domain.WrapError(domain.CodeBackendUnavailable, "connect postgres", err)
	}
	return &Store{DB: gdb}, nil
}

func (s *Store) Available() bool {
	return s != nil && s.DB != nil
}

// Migrate creates the service tables. Called once at startup.
func (s *Store) Migrate() error {
	if !s.Available() {
		return nil
	}
	return s.DB.AutoMigrate(&TimestampAuditModel{}, &BatchReportModel{})
}
