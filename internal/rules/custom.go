package rules

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// CustomRules holds tenant-defined CEL rules evaluated alongside the
// builtin rule set. An expression returning true fires the rule at its
// configured severity.
type CustomRules struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledRule
}

type compiledRule struct {
	config  *domain.RuleConfig
	program cel.Program
}

// NewCustomRules creates an empty custom rule set.
func NewCustomRules() (*CustomRules, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("tx_type", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("merchant_category", cel.StringType),
		cel.Variable("device_id", cel.StringType),
		cel.Variable("velocity_5m_count", cel.IntType),
		cel.Variable("velocity_1h_count", cel.IntType),
		cel.Variable("velocity_24h_count", cel.IntType),
		cel.Variable("distinct_merchants_24h", cel.IntType),
		cel.Variable("distinct_locations_24h", cel.IntType),
		cel.Variable("impossible_travel", cel.BoolType),
		cel.Variable("distance_km", cel.DoubleType),
		cel.Variable("required_speed_kmh", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &CustomRules{
		env:      env,
		compiled: make(map[string]*compiledRule),
	}, nil
}

// ValidateRule compiles a rule without loading it.
func (c *CustomRules) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	_, err := c.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule.
func (c *CustomRules) LoadRule(cfg *domain.RuleConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	compiled, err := c.compileRule(cfg)
	if err != nil {
		return err
	}

	c.compiled[cfg.ID] = compiled
	return nil
}

// ReloadRules replaces all loaded rules. Enables hot reloading from the
// repository.
func (c *CustomRules) ReloadRules(configs []*domain.RuleConfig) error {
	newRules := make(map[string]*compiledRule)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := c.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	c.compiled = newRules
	return nil
}

// ReloadTenantRules replaces one tenant's loaded rules, leaving rules of
// other tenants untouched. Configs belonging to a different tenant are
// rejected.
func (c *CustomRules) ReloadTenantRules(tenantID string, configs []*domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	staged := make(map[string]*compiledRule)
	for _, cfg := range configs {
		if cfg.TenantID != tenantID {
			return fmt.Errorf("rule %s belongs to tenant %q, not %q", cfg.ID, cfg.TenantID, tenantID)
		}
		if !cfg.Enabled {
			continue
		}
		compiled, err := c.compileRule(cfg)
		if err != nil {
			return err
		}
		staged[cfg.ID] = compiled
	}

	for id, rule := range c.compiled {
		if rule.config.TenantID == tenantID {
			delete(c.compiled, id)
		}
	}
	for id, rule := range staged {
		c.compiled[id] = rule
	}

	return nil
}

// Count returns the number of loaded rules.
func (c *CustomRules) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.compiled)
}

// Evaluate runs all loaded rules for the tenant. Expression evaluation
// errors are logged and treated as not-fired rather than failing the call.
func (c *CustomRules) Evaluate(ctx context.Context, tx *domain.Transaction, velocity *domain.VelocityMetrics, geo domain.GeographicContext) []domain.RuleTrigger {
	c.mu.RLock()
	rules := make([]*compiledRule, 0, len(c.compiled))
	for _, r := range c.compiled {
		rules = append(rules, r)
	}
	c.mu.RUnlock()

	if len(rules) == 0 {
		return nil
	}

	activation := buildActivation(tx, velocity, geo)

	var triggers []domain.RuleTrigger
	for _, rule := range rules {
		if rule.config.TenantID != "" && rule.config.TenantID != tx.TenantID {
			continue
		}

		out, _, err := rule.program.Eval(activation)
		if err != nil {
			slog.Warn("custom rule evaluation failed",
				"rule_id", rule.config.ID,
				"error", err,
			)
			continue
		}

		fired, ok := out.(types.Bool)
		if !ok || !bool(fired) {
			continue
		}

		value, _ := tx.Amount.Value.Float64()
		triggers = append(triggers, domain.RuleTrigger{
			RuleID:      rule.config.ID,
			Name:        rule.config.Name,
			Severity:    rule.config.Severity,
			Description: rule.config.Description,
			Value:       value,
		})
	}

	return triggers
}

func buildActivation(tx *domain.Transaction, velocity *domain.VelocityMetrics, geo domain.GeographicContext) map[string]any {
	amount, _ := tx.Amount.Value.Float64()

	merchantCategory := ""
	if tx.Merchant != nil {
		merchantCategory = tx.Merchant.Category
	}

	day := velocity.Window(domain.WindowOneDay.Name)

	speed := geo.RequiredSpeedKmh
	if math.IsInf(speed, 1) {
		speed = math.MaxFloat64
	}

	return map[string]any{
		"amount":                 amount,
		"currency":               tx.Amount.Currency,
		"tx_type":                tx.Type,
		"channel":                tx.Channel,
		"merchant_category":      merchantCategory,
		"device_id":              tx.DeviceID,
		"velocity_5m_count":      velocity.Window(domain.WindowFiveMinutes.Name).Count,
		"velocity_1h_count":      velocity.Window(domain.WindowOneHour.Name).Count,
		"velocity_24h_count":     day.Count,
		"distinct_merchants_24h": day.DistinctMerchants,
		"distinct_locations_24h": day.DistinctLocations,
		"impossible_travel":      geo.ImpossibleTravel,
		"distance_km":            geo.DistanceKm,
		"required_speed_kmh":     speed,
	}
}

func (c *CustomRules) compileRule(cfg *domain.RuleConfig) (*compiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}

	ast, issues := c.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &compiledRule{config: cfg, program: program}, nil
}
