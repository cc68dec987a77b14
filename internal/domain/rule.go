package domain

import "time"

// Severity is the weighted point value a triggered rule contributes to the
// aggregate rule score.
type Severity int

const (
	SeverityLow      Severity = 10
	SeverityMedium   Severity = 25
	SeverityHigh     Severity = 40
	SeverityCritical Severity = 60
)

// String returns the severity label.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// RuleTrigger is one fired rule for a transaction. A transaction may produce
// zero or more triggers; severities sum to the aggregate rule score.
type RuleTrigger struct {
	RuleID      string   `json:"ruleId"`
	Name        string   `json:"name"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Value       float64  `json:"value"`
}

// TotalSeverity sums the severities of a set of triggers. Unbounded here;
// clamping happens only at the composite-score stage.
func TotalSeverity(triggers []RuleTrigger) int {
	total := 0
	for _, t := range triggers {
		total += int(t.Severity)
	}
	return total
}

// RuleConfig is a tenant-defined custom rule evaluated alongside the builtin
// rule set. The expression is a CEL program over transaction, velocity, and
// geographic variables; a true result fires the rule at the given severity.
type RuleConfig struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenantId"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Expression  string    `json:"expression"`
	Severity    Severity  `json:"severity"`
	Enabled     bool      `json:"enabled"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
