package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RiskLevel is a deterministic banding of the composite risk score.
type RiskLevel string

const (
	LevelLow      RiskLevel = "LOW"      // 0-40
	LevelMedium   RiskLevel = "MEDIUM"   // 41-70
	LevelHigh     RiskLevel = "HIGH"     // 71-90
	LevelCritical RiskLevel = "CRITICAL" // 91-100
)

// Decision is the actionable outcome of a risk assessment.
type Decision string

const (
	DecisionAllow     Decision = "ALLOW"
	DecisionChallenge Decision = "CHALLENGE"
	DecisionReview    Decision = "REVIEW"
	DecisionBlock     Decision = "BLOCK"
)

// MinScore and MaxScore bound the composite risk score.
const (
	MinScore = 0
	MaxScore = 100
)

// ClampScore bounds a raw composite score to [MinScore, MaxScore].
func ClampScore(score int) int {
	if score < MinScore {
		return MinScore
	}
	if score > MaxScore {
		return MaxScore
	}
	return score
}

// LevelForScore maps a risk score to its risk level. Total over [0,100].
func LevelForScore(score int) RiskLevel {
	switch {
	case score <= 40:
		return LevelLow
	case score <= 70:
		return LevelMedium
	case score <= 90:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Domain event types emitted by the RiskAssessment aggregate.
const (
	EventAssessmentCompleted = "RiskAssessmentCompleted"
	EventHighRiskDetected    = "HighRiskDetected"
)

// DomainEvent is an immutable fact emitted when the assessment aggregate
// changes state, buffered on the aggregate until drained by a publisher.
type DomainEvent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	TenantID      string    `json:"tenantId"`
	AssessmentID  string    `json:"assessmentId"`
	TransactionID string    `json:"transactionId"`
	Score         int       `json:"score"`
	Level         RiskLevel `json:"level"`
	Decision      Decision  `json:"decision"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// RiskAssessment is the aggregate holding the outcome of scoring one
// transaction. It is owned exclusively by the scoring call that constructs
// it until handed off, so it requires no locking.
type RiskAssessment struct {
	ID            string
	TenantID      string
	TransactionID string
	Score         int
	RuleTriggers  []RuleTrigger
	Prediction    *MLPrediction
	Decision      Decision
	CreatedAt     time.Time
	CompletedAt   time.Time

	completed bool
	events    []DomainEvent
}

// NewRiskAssessment creates an assessment with an initial score and optional
// pre-populated rule triggers and ML prediction.
func NewRiskAssessment(tenantID, transactionID string, score int, triggers []RuleTrigger, prediction *MLPrediction) (*RiskAssessment, error) {
	if transactionID == "" {
		return nil, fmt.Errorf("%w: transaction id is required", ErrBusinessRule)
	}
	if score < MinScore || score > MaxScore {
		return nil, fmt.Errorf("%w: risk score %d outside [%d,%d]", ErrBusinessRule, score, MinScore, MaxScore)
	}

	return &RiskAssessment{
		ID:            uuid.New().String(),
		TenantID:      tenantID,
		TransactionID: transactionID,
		Score:         score,
		RuleTriggers:  triggers,
		Prediction:    prediction,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// RehydrateAssessment rebuilds a persisted assessment. A non-zero completedAt
// marks it finalized; no domain events are emitted on rehydration.
func RehydrateAssessment(id, tenantID, transactionID string, score int, triggers []RuleTrigger, prediction *MLPrediction, decision Decision, createdAt, completedAt time.Time) *RiskAssessment {
	return &RiskAssessment{
		ID:            id,
		TenantID:      tenantID,
		TransactionID: transactionID,
		Score:         score,
		RuleTriggers:  triggers,
		Prediction:    prediction,
		Decision:      decision,
		CreatedAt:     createdAt,
		CompletedAt:   completedAt,
		completed:     !completedAt.IsZero(),
	}
}

// Level derives the risk level from the score. Never stored independently.
func (a *RiskAssessment) Level() RiskLevel {
	return LevelForScore(a.Score)
}

// Completed reports whether the assessment has been finalized.
func (a *RiskAssessment) Completed() bool {
	return a.completed
}

// AddRuleEvaluation appends a rule trigger. Only allowed before completion.
func (a *RiskAssessment) AddRuleEvaluation(t RuleTrigger) error {
	if a.completed {
		return ErrAssessmentCompleted
	}
	a.RuleTriggers = append(a.RuleTriggers, t)
	return nil
}

// Complete finalizes the assessment with a decision. It validates the
// aggregate invariants before mutating anything: a CRITICAL assessment must
// be blocked, and a LOW assessment must never be blocked. On violation the
// assessment is left unmodified and unfinalized.
func (a *RiskAssessment) Complete(decision Decision) error {
	if a.completed {
		return ErrAssessmentCompleted
	}

	switch decision {
	case DecisionAllow, DecisionChallenge, DecisionReview, DecisionBlock:
	default:
		return fmt.Errorf("%w: unknown decision %q", ErrBusinessRule, decision)
	}

	level := a.Level()
	if level == LevelCritical && decision != DecisionBlock {
		return fmt.Errorf("%w: critical risk requires BLOCK, got %s", ErrBusinessRule, decision)
	}
	if level == LevelLow && decision == DecisionBlock {
		return fmt.Errorf("%w: low risk must not be blocked", ErrBusinessRule)
	}

	now := time.Now().UTC()
	a.Decision = decision
	a.CompletedAt = now
	a.completed = true

	a.events = append(a.events, a.newEvent(EventAssessmentCompleted, now))
	if level == LevelHigh || level == LevelCritical {
		a.events = append(a.events, a.newEvent(EventHighRiskDetected, now))
	}

	return nil
}

// DomainEvents returns a read-only copy of the buffered domain events.
func (a *RiskAssessment) DomainEvents() []DomainEvent {
	out := make([]DomainEvent, len(a.events))
	copy(out, a.events)
	return out
}

// ClearDomainEvents drains the event buffer, typically after the publisher
// has delivered the events.
func (a *RiskAssessment) ClearDomainEvents() {
	a.events = nil
}

func (a *RiskAssessment) newEvent(eventType string, at time.Time) DomainEvent {
	return DomainEvent{
		ID:            uuid.New().String(),
		Type:          eventType,
		TenantID:      a.TenantID,
		AssessmentID:  a.ID,
		TransactionID: a.TransactionID,
		Score:         a.Score,
		Level:         a.Level(),
		Decision:      a.Decision,
		OccurredAt:    at,
	}
}
