// Package rules evaluates deterministic fraud rules against a transaction,
// its velocity metrics, and its geographic context.
package rules

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Builtin rule identifiers.
const (
	RuleLargeAmount      = "amount-large"
	RuleVeryLargeAmount  = "amount-very-large"
	RuleHighVelocity5m   = "velocity-5m-high"
	RuleExtremeVelocity  = "velocity-1h-extreme"
	RuleImpossibleTravel = "geo-impossible-travel"
)

// Engine evaluates the builtin rule set plus any loaded custom rules.
// Evaluation is pure and side-effect-free; triggers accumulate
// independently and no rule suppresses another.
type Engine struct {
	cfg             domain.RulesConfig
	largeAmount     decimal.Decimal
	veryLargeAmount decimal.Decimal
	custom          *CustomRules
}

// NewEngine creates a rule engine. custom may be nil.
func NewEngine(cfg domain.RulesConfig, custom *CustomRules) *Engine {
	if cfg.LargeAmount <= 0 {
		cfg.LargeAmount = 10000
	}
	if cfg.VeryLargeAmount <= 0 {
		cfg.VeryLargeAmount = 50000
	}
	if cfg.HighVelocity5m <= 0 {
		cfg.HighVelocity5m = 6
	}
	if cfg.ExtremeVelocity1h <= 0 {
		cfg.ExtremeVelocity1h = 20
	}

	return &Engine{
		cfg:             cfg,
		largeAmount:     decimal.NewFromFloat(cfg.LargeAmount),
		veryLargeAmount: decimal.NewFromFloat(cfg.VeryLargeAmount),
		custom:          custom,
	}
}

// Evaluate returns the triggers fired by a transaction. Both amount rules
// fire together above the higher threshold; both velocity rules can fire
// simultaneously.
func (e *Engine) Evaluate(ctx context.Context, tx *domain.Transaction, velocity *domain.VelocityMetrics, geo domain.GeographicContext) []domain.RuleTrigger {
	var triggers []domain.RuleTrigger

	amount := tx.Amount.Value
	amountValue, _ := amount.Float64()

	if amount.GreaterThan(e.largeAmount) {
		triggers = append(triggers, domain.RuleTrigger{
			RuleID:      RuleLargeAmount,
			Name:        "Large Amount",
			Severity:    domain.SeverityMedium,
			Description: fmt.Sprintf("amount %s exceeds %.0f", amount, e.cfg.LargeAmount),
			Value:       amountValue,
		})
	}
	if amount.GreaterThan(e.veryLargeAmount) {
		triggers = append(triggers, domain.RuleTrigger{
			RuleID:      RuleVeryLargeAmount,
			Name:        "Very Large Amount",
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("amount %s exceeds %.0f", amount, e.cfg.VeryLargeAmount),
			Value:       amountValue,
		})
	}

	count5m := velocity.Window(domain.WindowFiveMinutes.Name).Count
	if count5m > e.cfg.HighVelocity5m {
		triggers = append(triggers, domain.RuleTrigger{
			RuleID:      RuleHighVelocity5m,
			Name:        "High Velocity 5min",
			Severity:    domain.SeverityHigh,
			Description: fmt.Sprintf("%d transactions in 5 minutes exceeds %d", count5m, e.cfg.HighVelocity5m),
			Value:       float64(count5m),
		})
	}

	count1h := velocity.Window(domain.WindowOneHour.Name).Count
	if count1h > e.cfg.ExtremeVelocity1h {
		triggers = append(triggers, domain.RuleTrigger{
			RuleID:      RuleExtremeVelocity,
			Name:        "Extreme Velocity 1hr",
			Severity:    domain.SeverityCritical,
			Description: fmt.Sprintf("%d transactions in 1 hour exceeds %d", count1h, e.cfg.ExtremeVelocity1h),
			Value:       float64(count1h),
		})
	}

	if geo.ImpossibleTravel {
		triggers = append(triggers, domain.RuleTrigger{
			RuleID:      RuleImpossibleTravel,
			Name:        "Impossible Travel",
			Severity:    domain.SeverityCritical,
			Description: fmt.Sprintf("required speed %.0f km/h over %.0f km", geo.RequiredSpeedKmh, geo.DistanceKm),
			Value:       geo.RequiredSpeedKmh,
		})
	}

	if e.custom != nil {
		triggers = append(triggers, e.custom.Evaluate(ctx, tx, velocity, geo)...)
	}

	return triggers
}
