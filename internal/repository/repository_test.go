package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "kestrel-test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func testTransaction(id, accountID string, amount float64, loc *domain.Geolocation, ts time.Time) *domain.Transaction {
	return &domain.Transaction{
		ID:        id,
		TenantID:  "tenant-001",
		AccountID: accountID,
		Type:      "purchase",
		Channel:   "web",
		Amount:    domain.Money{Value: decimal.NewFromFloat(amount), Currency: "USD"},
		Merchant:  &domain.Merchant{ID: "m-1", Name: "Acme", Category: "retail"},
		Location:  loc,
		DeviceID:  "dev-1",
		Timestamp: ts,
		CreatedAt: ts,
	}
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	loc := &domain.Geolocation{Latitude: 40.71, Longitude: -74.01, Country: "US", City: "New York"}
	tx := testTransaction("tx-1", "acct-1", 1234.56, loc, ts)

	if err := repo.SaveTransaction(ctx, "tenant-001", tx); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := repo.GetTransaction(ctx, "tenant-001", "tx-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if got.AccountID != "acct-1" {
		t.Errorf("account = %s, want acct-1", got.AccountID)
	}
	if !got.Amount.Value.Equal(decimal.NewFromFloat(1234.56)) {
		t.Errorf("amount = %s, want 1234.56", got.Amount.Value)
	}
	if got.Merchant == nil || got.Merchant.Category != "retail" {
		t.Errorf("merchant not restored: %+v", got.Merchant)
	}
	if got.Location == nil || got.Location.Latitude != 40.71 {
		t.Errorf("location not restored: %+v", got.Location)
	}
}

func TestTransactionWithoutOptionalContext(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tx := testTransaction("tx-bare", "acct-1", 10, nil, time.Now().UTC())
	tx.Merchant = nil
	tx.DeviceID = ""

	if err := repo.SaveTransaction(ctx, "tenant-001", tx); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := repo.GetTransaction(ctx, "tenant-001", "tx-bare")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Merchant != nil {
		t.Errorf("expected nil merchant, got %+v", got.Merchant)
	}
	if got.Location != nil {
		t.Errorf("expected nil location, got %+v", got.Location)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetTransaction(context.Background(), "tenant-001", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestTransactionTenantIsolation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	tx := testTransaction("tx-iso", "acct-1", 10, nil, time.Now().UTC())
	repo.SaveTransaction(ctx, "tenant-001", tx)

	if _, err := repo.GetTransaction(ctx, "tenant-002", "tx-iso"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for other tenant, got %v", err)
	}
}

func TestMostRecentLocation(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	nyc := &domain.Geolocation{Latitude: 40.71, Longitude: -74.01, Country: "US"}
	london := &domain.Geolocation{Latitude: 51.51, Longitude: -0.13, Country: "GB"}

	repo.SaveTransaction(ctx, "tenant-001", testTransaction("tx-1", "acct-1", 10, nyc, base))
	repo.SaveTransaction(ctx, "tenant-001", testTransaction("tx-2", "acct-1", 10, london, base.Add(time.Hour)))
	// Located transaction on another account must not leak in.
	repo.SaveTransaction(ctx, "tenant-001", testTransaction("tx-3", "acct-2", 10, nyc, base.Add(2*time.Hour)))
	// Unlocated transaction after London must be skipped.
	repo.SaveTransaction(ctx, "tenant-001", testTransaction("tx-4", "acct-1", 10, nil, base.Add(90*time.Minute)))

	loc, err := repo.MostRecentLocation(ctx, "tenant-001", "acct-1", base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if loc == nil || loc.Country != "GB" {
		t.Errorf("expected most recent located transaction (London), got %+v", loc)
	}

	// Before the first transaction there is no history.
	loc, err = repo.MostRecentLocation(ctx, "tenant-001", "acct-1", base)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if loc != nil {
		t.Errorf("expected nil before first transaction, got %+v", loc)
	}
}

func TestAssessmentRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	triggers := []domain.RuleTrigger{
		{RuleID: "amount-large", Name: "Large Amount", Severity: domain.SeverityMedium, Value: 20000},
	}
	prediction := &domain.MLPrediction{ModelID: "fraud-v1", FraudProbability: 0.8, Confidence: 0.9}

	a, err := domain.NewRiskAssessment("tenant-001", "tx-1", 85, triggers, prediction)
	if err != nil {
		t.Fatalf("assessment: %v", err)
	}
	if err := a.Complete(domain.DecisionReview); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := repo.SaveAssessment(ctx, "tenant-001", a); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := repo.GetAssessment(ctx, "tenant-001", a.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}

	if got.Score != 85 {
		t.Errorf("score = %d, want 85", got.Score)
	}
	if got.Level() != domain.LevelHigh {
		t.Errorf("level = %s, want HIGH", got.Level())
	}
	if got.Decision != domain.DecisionReview {
		t.Errorf("decision = %s, want REVIEW", got.Decision)
	}
	if !got.Completed() {
		t.Error("rehydrated assessment must be completed")
	}
	if len(got.RuleTriggers) != 1 || got.RuleTriggers[0].RuleID != "amount-large" {
		t.Errorf("triggers not restored: %+v", got.RuleTriggers)
	}
	if got.Prediction == nil || got.Prediction.FraudProbability != 0.8 {
		t.Errorf("prediction not restored: %+v", got.Prediction)
	}
	if len(got.DomainEvents()) != 0 {
		t.Error("rehydration must not emit domain events")
	}
}

func TestGetAssessmentNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.GetAssessment(context.Background(), "tenant-001", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRuleConfigUpsertAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule := &domain.RuleConfig{
		ID:         "atm-night",
		Name:       "ATM at night",
		Expression: `channel == "atm"`,
		Severity:   domain.SeverityHigh,
		Enabled:    true,
	}

	if err := repo.SaveRuleConfig(ctx, "tenant-001", rule); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := repo.GetRuleConfig(ctx, "tenant-001", "atm-night")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Severity != domain.SeverityHigh {
		t.Errorf("severity = %d, want %d", got.Severity, domain.SeverityHigh)
	}

	// Upsert: same id, new severity.
	rule.Severity = domain.SeverityCritical
	if err := repo.SaveRuleConfig(ctx, "tenant-001", rule); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, _ = repo.GetRuleConfig(ctx, "tenant-001", "atm-night")
	if got.Severity != domain.SeverityCritical {
		t.Errorf("severity after upsert = %d, want %d", got.Severity, domain.SeverityCritical)
	}

	// Disabled rules are excluded from the list.
	disabled := &domain.RuleConfig{ID: "off", Name: "off", Expression: "false", Severity: domain.SeverityLow, Enabled: false}
	repo.SaveRuleConfig(ctx, "tenant-001", disabled)

	configs, err := repo.ListRuleConfigs(ctx, "tenant-001")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(configs) != 1 {
		t.Errorf("expected 1 enabled config, got %d", len(configs))
	}
}

func TestRepositoryRequiresTenantID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.SaveTransaction(ctx, "", testTransaction("tx", "acct", 1, nil, time.Now())); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := repo.GetAssessment(ctx, "", "id"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := repo.ListRuleConfigs(ctx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestNewUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "oracle"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
