package rules

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func amountTx(amount float64) *domain.Transaction {
	return &domain.Transaction{
		ID:        "tx-1",
		TenantID:  "tenant-001",
		AccountID: "acct-1",
		Type:      "purchase",
		Amount:    domain.Money{Value: decimal.NewFromFloat(amount), Currency: "USD"},
		Timestamp: time.Now().UTC(),
	}
}

func metricsWithCounts(count5m, count1h int64) *domain.VelocityMetrics {
	return &domain.VelocityMetrics{
		AccountID: "acct-1",
		Windows: map[string]domain.WindowMetrics{
			"5m":  {Count: count5m, Total: decimal.Zero},
			"1h":  {Count: count1h, Total: decimal.Zero},
			"24h": {Count: count1h, Total: decimal.Zero},
		},
	}
}

func triggerIDs(triggers []domain.RuleTrigger) map[string]bool {
	ids := make(map[string]bool, len(triggers))
	for _, t := range triggers {
		ids[t.RuleID] = true
	}
	return ids
}

func TestAmountRuleBoundaries(t *testing.T) {
	engine := NewEngine(domain.RulesConfig{}, nil)
	ctx := context.Background()
	normal := domain.NormalGeographicContext()

	t.Run("AtThreshold", func(t *testing.T) {
		triggers := engine.Evaluate(ctx, amountTx(10000), metricsWithCounts(0, 0), normal)
		if len(triggers) != 0 {
			t.Errorf("amount=10000 must not trigger, got %d triggers", len(triggers))
		}
	})

	t.Run("LargeOnly", func(t *testing.T) {
		triggers := engine.Evaluate(ctx, amountTx(10001), metricsWithCounts(0, 0), normal)
		ids := triggerIDs(triggers)
		if len(triggers) != 1 || !ids[RuleLargeAmount] {
			t.Errorf("amount=10001 must trigger only Large Amount, got %v", triggers)
		}
		if triggers[0].Severity != domain.SeverityMedium {
			t.Errorf("Large Amount severity = %s, want MEDIUM", triggers[0].Severity)
		}
	})

	t.Run("BothFireAboveHigherThreshold", func(t *testing.T) {
		triggers := engine.Evaluate(ctx, amountTx(50001), metricsWithCounts(0, 0), normal)
		ids := triggerIDs(triggers)
		if len(triggers) != 2 || !ids[RuleLargeAmount] || !ids[RuleVeryLargeAmount] {
			t.Errorf("amount=50001 must trigger both amount rules, got %v", triggers)
		}
	})
}

func TestVelocityRules(t *testing.T) {
	engine := NewEngine(domain.RulesConfig{}, nil)
	ctx := context.Background()
	normal := domain.NormalGeographicContext()
	tx := amountTx(100)

	t.Run("BelowThresholds", func(t *testing.T) {
		triggers := engine.Evaluate(ctx, tx, metricsWithCounts(6, 20), normal)
		if len(triggers) != 0 {
			t.Errorf("counts at thresholds must not trigger, got %v", triggers)
		}
	})

	t.Run("HighVelocity5m", func(t *testing.T) {
		triggers := engine.Evaluate(ctx, tx, metricsWithCounts(7, 7), normal)
		ids := triggerIDs(triggers)
		if len(triggers) != 1 || !ids[RuleHighVelocity5m] {
			t.Errorf("expected only High Velocity 5min, got %v", triggers)
		}
		if triggers[0].Severity != domain.SeverityHigh {
			t.Errorf("severity = %s, want HIGH", triggers[0].Severity)
		}
	})

	t.Run("BothVelocityRulesFire", func(t *testing.T) {
		triggers := engine.Evaluate(ctx, tx, metricsWithCounts(25, 25), normal)
		ids := triggerIDs(triggers)
		if !ids[RuleHighVelocity5m] || !ids[RuleExtremeVelocity] {
			t.Errorf("expected both velocity rules, got %v", triggers)
		}
	})
}

func TestImpossibleTravelRule(t *testing.T) {
	engine := NewEngine(domain.RulesConfig{}, nil)
	ctx := context.Background()

	geo := domain.GeographicContext{
		ImpossibleTravel: true,
		DistanceKm:       5570,
		RequiredSpeedKmh: 5570,
	}

	triggers := engine.Evaluate(ctx, amountTx(100), metricsWithCounts(0, 0), geo)
	if len(triggers) != 1 || triggers[0].RuleID != RuleImpossibleTravel {
		t.Fatalf("expected Impossible Travel trigger, got %v", triggers)
	}
	if triggers[0].Severity != domain.SeverityCritical {
		t.Errorf("severity = %s, want CRITICAL", triggers[0].Severity)
	}
	if triggers[0].Value != 5570 {
		t.Errorf("trigger value = %f, want required speed 5570", triggers[0].Value)
	}
}

func TestRulesAccumulateIndependently(t *testing.T) {
	engine := NewEngine(domain.RulesConfig{}, nil)
	ctx := context.Background()

	geo := domain.GeographicContext{ImpossibleTravel: true, RequiredSpeedKmh: 2000}
	triggers := engine.Evaluate(ctx, amountTx(60000), metricsWithCounts(10, 30), geo)

	if len(triggers) != 5 {
		t.Fatalf("expected all 5 builtin rules to fire, got %d: %v", len(triggers), triggers)
	}

	// MEDIUM(25) + HIGH(40) + HIGH(40) + CRITICAL(60) + CRITICAL(60)
	if got := domain.TotalSeverity(triggers); got != 225 {
		t.Errorf("aggregate rule score = %d, want 225 (unbounded before fusion)", got)
	}
}

func TestConfigurableThresholds(t *testing.T) {
	engine := NewEngine(domain.RulesConfig{
		LargeAmount:       500,
		VeryLargeAmount:   1000,
		HighVelocity5m:    2,
		ExtremeVelocity1h: 3,
	}, nil)
	ctx := context.Background()
	normal := domain.NormalGeographicContext()

	triggers := engine.Evaluate(ctx, amountTx(750), metricsWithCounts(3, 4), normal)
	ids := triggerIDs(triggers)
	if !ids[RuleLargeAmount] || !ids[RuleHighVelocity5m] || !ids[RuleExtremeVelocity] {
		t.Errorf("custom thresholds not honored, got %v", triggers)
	}
	if ids[RuleVeryLargeAmount] {
		t.Errorf("amount=750 below custom very-large threshold, got %v", triggers)
	}
}
