// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction with tenant isolation.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tenantID string, tx *domain.Transaction) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	var merchantID, merchantName, merchantCategory any
	if tx.Merchant != nil {
		merchantID = tx.Merchant.ID
		merchantName = tx.Merchant.Name
		merchantCategory = tx.Merchant.Category
	}

	var lat, lon, country, city any
	if tx.Location != nil {
		lat = tx.Location.Latitude
		lon = tx.Location.Longitude
		country = tx.Location.Country
		city = tx.Location.City
	}

	query := `
		INSERT INTO transactions (
			id, tenant_id, account_id, type, channel, amount, currency,
			merchant_id, merchant_name, merchant_category,
			location_lat, location_lon, location_country, location_city,
			device_id, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tenantID, tx.AccountID, tx.Type, tx.Channel,
		tx.Amount.Value.String(), tx.Amount.Currency,
		merchantID, merchantName, merchantCategory,
		lat, lon, country, city,
		tx.DeviceID, tx.Timestamp, tx.CreatedAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID with tenant isolation.
func (r *SQLRepository) GetTransaction(ctx context.Context, tenantID string, txID string) (*domain.Transaction, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, account_id, type, channel, amount, currency,
			   merchant_id, merchant_name, merchant_category,
			   location_lat, location_lon, location_country, location_city,
			   device_id, timestamp, created_at
		FROM transactions
		WHERE tenant_id = ? AND id = ?
	`

	var tx domain.Transaction
	var amount string
	var channel, deviceID sql.NullString
	var merchantID, merchantName, merchantCategory sql.NullString
	var lat, lon sql.NullFloat64
	var country, city sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, txID).Scan(
		&tx.ID, &tx.TenantID, &tx.AccountID, &tx.Type, &channel,
		&amount, &tx.Amount.Currency,
		&merchantID, &merchantName, &merchantCategory,
		&lat, &lon, &country, &city,
		&deviceID, &tx.Timestamp, &tx.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	tx.Amount.Value, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount for transaction %s: %w", txID, err)
	}

	tx.Channel = channel.String
	tx.DeviceID = deviceID.String

	if merchantID.Valid {
		tx.Merchant = &domain.Merchant{
			ID:       merchantID.String,
			Name:     merchantName.String,
			Category: merchantCategory.String,
		}
	}
	if lat.Valid && lon.Valid {
		tx.Location = &domain.Geolocation{
			Latitude:   lat.Float64,
			Longitude:  lon.Float64,
			Country:    country.String,
			City:       city.String,
			ObservedAt: tx.Timestamp,
		}
	}

	return &tx, nil
}

// MostRecentLocation returns the location of the account's latest
// transaction strictly before the given time, or nil when the account has
// no prior located transaction.
func (r *SQLRepository) MostRecentLocation(ctx context.Context, tenantID string, accountID string, before time.Time) (*domain.Geolocation, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT location_lat, location_lon, location_country, location_city, timestamp
		FROM transactions
		WHERE tenant_id = ? AND account_id = ?
		  AND timestamp < ?
		  AND location_lat IS NOT NULL AND location_lon IS NOT NULL
		ORDER BY timestamp DESC
		LIMIT 1
	`

	var loc domain.Geolocation
	var country, city sql.NullString

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, accountID, before).Scan(
		&loc.Latitude, &loc.Longitude, &country, &city, &loc.ObservedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	loc.Country = country.String
	loc.City = city.String
	return &loc, nil
}

// SaveAssessment stores a risk assessment with tenant isolation.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, a *domain.RiskAssessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	triggers, _ := json.Marshal(a.RuleTriggers)

	var prediction any
	if a.Prediction != nil {
		data, _ := json.Marshal(a.Prediction)
		prediction = string(data)
	}

	var completedAt any
	if a.Completed() {
		completedAt = a.CompletedAt
	}

	query := `
		INSERT INTO assessments (
			id, tenant_id, transaction_id, score, decision,
			rule_triggers, prediction, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, tenantID, a.TransactionID, a.Score, string(a.Decision),
		string(triggers), prediction, a.CreatedAt, completedAt,
	)
	return err
}

// GetAssessment retrieves a risk assessment by ID with tenant isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*domain.RiskAssessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, transaction_id, score, decision,
			   rule_triggers, prediction, created_at, completed_at
		FROM assessments
		WHERE tenant_id = ? AND id = ?
	`

	var id, rowTenantID, transactionID string
	var score int
	var decision sql.NullString
	var triggersJSON string
	var predictionJSON sql.NullString
	var createdAt time.Time
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, assessmentID).Scan(
		&id, &rowTenantID, &transactionID, &score, &decision,
		&triggersJSON, &predictionJSON, &createdAt, &completedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var triggers []domain.RuleTrigger
	if err := json.Unmarshal([]byte(triggersJSON), &triggers); err != nil {
		return nil, fmt.Errorf("corrupt rule triggers for assessment %s: %w", assessmentID, err)
	}

	var prediction *domain.MLPrediction
	if predictionJSON.Valid && predictionJSON.String != "" {
		prediction = &domain.MLPrediction{}
		if err := json.Unmarshal([]byte(predictionJSON.String), prediction); err != nil {
			return nil, fmt.Errorf("corrupt prediction for assessment %s: %w", assessmentID, err)
		}
	}

	var done time.Time
	if completedAt.Valid {
		done = completedAt.Time
	}

	return domain.RehydrateAssessment(
		id, rowTenantID, transactionID, score, triggers, prediction,
		domain.Decision(decision.String), createdAt, done,
	), nil
}

// SaveRuleConfig upserts a custom rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, expression, severity, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			severity = excluded.severity,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Expression, int(rule.Severity), enabled,
		now, now,
	)
	return err
}

// GetRuleConfig retrieves a rule configuration with tenant isolation.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, severity, enabled, created_at, updated_at
		FROM rule_configs
		WHERE tenant_id = ? AND id = ?
	`

	var cfg domain.RuleConfig
	var description sql.NullString
	var severity, enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &description,
		&cfg.Expression, &severity, &enabled,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Description = description.String
	cfg.Severity = domain.Severity(severity)
	cfg.Enabled = enabled == 1

	return &cfg, nil
}

// ListRuleConfigs retrieves all enabled rule configurations for a tenant.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, expression, severity, enabled, created_at, updated_at
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var description sql.NullString
		var severity, enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &description,
			&cfg.Expression, &severity, &enabled,
			&cfg.CreatedAt, &cfg.UpdatedAt,
		); err != nil {
			return nil, err
		}

		cfg.Description = description.String
		cfg.Severity = domain.Severity(severity)
		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
