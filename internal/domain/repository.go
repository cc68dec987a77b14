package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
// All methods require tenantID for strict multi-tenancy isolation.
type Repository interface {
	// Transaction operations. Persisted transactions are the source of
	// MostRecentLocation for the geographic anomaly detector.
	SaveTransaction(ctx context.Context, tenantID string, tx *Transaction) error
	GetTransaction(ctx context.Context, tenantID, txID string) (*Transaction, error)
	MostRecentLocation(ctx context.Context, tenantID, accountID string, before time.Time) (*Geolocation, error)

	// Risk assessment operations
	SaveAssessment(ctx context.Context, tenantID string, a *RiskAssessment) error
	GetAssessment(ctx context.Context, tenantID, assessmentID string) (*RiskAssessment, error)

	// Custom rule configuration operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is "sqlite" or "postgres"
	Driver string

	// SQLite settings (community tier)
	SQLitePath string

	// PostgreSQL settings (pro tier)
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
