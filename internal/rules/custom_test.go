package rules

import (
	"context"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestCustomRuleLifecycle(t *testing.T) {
	custom, err := NewCustomRules()
	if err != nil {
		t.Fatalf("failed to create custom rules: %v", err)
	}

	if custom.Count() != 0 {
		t.Errorf("expected 0 rules, got %d", custom.Count())
	}

	rule := &domain.RuleConfig{
		ID:         "atm-cash-burst",
		TenantID:   "tenant-001",
		Name:       "ATM Cash Burst",
		Expression: `channel == "atm" && amount > 500.0 && velocity_1h_count > 3`,
		Severity:   domain.SeverityHigh,
		Enabled:    true,
	}

	if err := custom.LoadRule(rule); err != nil {
		t.Fatalf("failed to load rule: %v", err)
	}
	if custom.Count() != 1 {
		t.Errorf("expected 1 rule, got %d", custom.Count())
	}
}

func TestCustomRuleInvalidExpression(t *testing.T) {
	custom, _ := NewCustomRules()

	err := custom.LoadRule(&domain.RuleConfig{
		ID:         "broken",
		Expression: "this is not CEL !!!",
		Enabled:    true,
	})
	if err == nil {
		t.Error("expected error for invalid CEL expression")
	}

	err = custom.ValidateRule(&domain.RuleConfig{
		ID:         "non-bool",
		Expression: "amount + 1.0",
	})
	if err == nil {
		t.Error("expected error for non-bool expression")
	}
}

func TestCustomRuleEvaluation(t *testing.T) {
	custom, _ := NewCustomRules()

	custom.LoadRule(&domain.RuleConfig{
		ID:         "atm-cash-burst",
		TenantID:   "tenant-001",
		Name:       "ATM Cash Burst",
		Expression: `channel == "atm" && amount > 500.0`,
		Severity:   domain.SeverityHigh,
		Enabled:    true,
	})

	ctx := context.Background()
	metrics := metricsWithCounts(0, 0)
	normal := domain.NormalGeographicContext()

	tx := amountTx(750)
	tx.Channel = "atm"

	triggers := custom.Evaluate(ctx, tx, metrics, normal)
	if len(triggers) != 1 {
		t.Fatalf("expected 1 trigger, got %d", len(triggers))
	}
	if triggers[0].RuleID != "atm-cash-burst" || triggers[0].Severity != domain.SeverityHigh {
		t.Errorf("unexpected trigger %+v", triggers[0])
	}

	// Same rule, different channel: must not fire.
	tx.Channel = "web"
	if triggers := custom.Evaluate(ctx, tx, metrics, normal); len(triggers) != 0 {
		t.Errorf("expected no triggers for web channel, got %v", triggers)
	}
}

func TestCustomRuleTenantScoping(t *testing.T) {
	custom, _ := NewCustomRules()

	custom.LoadRule(&domain.RuleConfig{
		ID:         "other-tenant-rule",
		TenantID:   "tenant-002",
		Expression: `amount > 0.0`,
		Severity:   domain.SeverityLow,
		Enabled:    true,
	})

	tx := amountTx(100) // tenant-001
	triggers := custom.Evaluate(context.Background(), tx, metricsWithCounts(0, 0), domain.NormalGeographicContext())
	if len(triggers) != 0 {
		t.Errorf("rule for another tenant must not fire, got %v", triggers)
	}
}

func TestCustomRuleReload(t *testing.T) {
	custom, _ := NewCustomRules()

	custom.LoadRule(&domain.RuleConfig{ID: "old", Expression: "amount > 1.0", Enabled: true})

	err := custom.ReloadRules([]*domain.RuleConfig{
		{ID: "new-a", Expression: "amount > 10.0", Enabled: true},
		{ID: "disabled", Expression: "amount > 20.0", Enabled: false},
	})
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	if custom.Count() != 1 {
		t.Errorf("expected 1 rule after reload (disabled skipped, old dropped), got %d", custom.Count())
	}
}

func TestCustomRuleGeoVariables(t *testing.T) {
	custom, _ := NewCustomRules()

	custom.LoadRule(&domain.RuleConfig{
		ID:         "fast-mover",
		Name:       "Fast Mover",
		Expression: `impossible_travel && distance_km > 1000.0`,
		Severity:   domain.SeverityCritical,
		Enabled:    true,
	})

	geo := domain.GeographicContext{
		ImpossibleTravel: true,
		DistanceKm:       5570,
		RequiredSpeedKmh: 5570,
	}

	triggers := custom.Evaluate(context.Background(), amountTx(100), metricsWithCounts(0, 0), geo)
	if len(triggers) != 1 || triggers[0].RuleID != "fast-mover" {
		t.Errorf("expected geo-driven custom rule to fire, got %v", triggers)
	}
}
