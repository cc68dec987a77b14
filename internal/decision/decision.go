// Package decision maps risk levels to decisions and finalizes assessments.
package decision

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// handler supplies the default decision for a risk level.
type handler func(a *domain.RiskAssessment) domain.Decision

// Engine finalizes risk assessments through a per-level handler table.
type Engine struct {
	handlers map[domain.RiskLevel]handler
}

// NewEngine creates a decision engine with the default per-level handlers:
// LOW allows, MEDIUM challenges, HIGH reviews, CRITICAL blocks.
func NewEngine() *Engine {
	return &Engine{
		handlers: map[domain.RiskLevel]handler{
			domain.LevelLow:      func(*domain.RiskAssessment) domain.Decision { return domain.DecisionAllow },
			domain.LevelMedium:   func(*domain.RiskAssessment) domain.Decision { return domain.DecisionChallenge },
			domain.LevelHigh:     func(*domain.RiskAssessment) domain.Decision { return domain.DecisionReview },
			domain.LevelCritical: func(*domain.RiskAssessment) domain.Decision { return domain.DecisionBlock },
		},
	}
}

// Decide finalizes the assessment with the default decision for its level.
func (e *Engine) Decide(a *domain.RiskAssessment) (domain.Decision, error) {
	h, ok := e.handlers[a.Level()]
	if !ok {
		return "", fmt.Errorf("%w: no handler for level %s", domain.ErrBusinessRule, a.Level())
	}
	return e.finalize(a, h(a))
}

// DecideWith finalizes the assessment with a caller-requested decision.
// The aggregate invariants still apply: a CRITICAL assessment must block
// and a LOW assessment must never block; violations leave the assessment
// unfinalized.
func (e *Engine) DecideWith(a *domain.RiskAssessment, d domain.Decision) (domain.Decision, error) {
	return e.finalize(a, d)
}

func (e *Engine) finalize(a *domain.RiskAssessment, d domain.Decision) (domain.Decision, error) {
	if err := a.Complete(d); err != nil {
		return "", err
	}
	return d, nil
}

// DefaultDecision returns the default decision for a risk level without
// touching any assessment.
func (e *Engine) DefaultDecision(level domain.RiskLevel) domain.Decision {
	if h, ok := e.handlers[level]; ok {
		return h(nil)
	}
	return domain.DecisionReview
}
