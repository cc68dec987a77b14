// Package scoring orchestrates the fraud risk scoring pipeline.
package scoring

import (
	"context"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var tracer = otel.Tracer("kestrel-scoring")

// VelocityTracker is the velocity dependency of the scoring service.
type VelocityTracker interface {
	RecordActivity(ctx context.Context, tx *domain.Transaction) error
	CurrentMetrics(ctx context.Context, tx *domain.Transaction) (*domain.VelocityMetrics, error)
}

// GeoDetector is the geographic anomaly dependency of the scoring service.
type GeoDetector interface {
	Evaluate(ctx context.Context, tx *domain.Transaction) (domain.GeographicContext, error)
}

// RuleEvaluator is the rule engine dependency of the scoring service.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, tx *domain.Transaction, velocity *domain.VelocityMetrics, geo domain.GeographicContext) []domain.RuleTrigger
}

// DecisionEngine finalizes assessments with the default decision for their
// level.
type DecisionEngine interface {
	Decide(a *domain.RiskAssessment) (domain.Decision, error)
}

// Service fuses velocity, geographic, rule, and ML signals into a bounded
// composite risk score and finalized RiskAssessment. The service owns no
// persistent state and is safe to invoke concurrently for different
// transactions.
type Service struct {
	predictor  domain.MLPredictionPort
	tracker    VelocityTracker
	detector   GeoDetector
	rules      RuleEvaluator
	decisions  DecisionEngine
	mlWeight   float64
	ruleWeight float64
}

// NewService creates a scoring service. Weights default to 0.6 ML / 0.4
// rules when unset.
func NewService(predictor domain.MLPredictionPort, tracker VelocityTracker, detector GeoDetector, rules RuleEvaluator, decisions DecisionEngine, cfg domain.ScoringConfig) *Service {
	mlWeight := cfg.MLWeight
	ruleWeight := cfg.RuleWeight
	if mlWeight <= 0 && ruleWeight <= 0 {
		mlWeight = 0.6
		ruleWeight = 0.4
	}

	return &Service{
		predictor:  predictor,
		tracker:    tracker,
		detector:   detector,
		rules:      rules,
		decisions:  decisions,
		mlWeight:   mlWeight,
		ruleWeight: ruleWeight,
	}
}

// Assess scores a transaction and returns the finalized assessment.
//
// ML prediction failure is degradable: the unavailable sentinel is
// substituted and scoring proceeds on rules alone. Velocity-store and
// history failures are fatal to the call; no partial score is returned.
func (s *Service) Assess(ctx context.Context, tx *domain.Transaction) (*domain.RiskAssessment, error) {
	ctx, span := tracer.Start(ctx, "scoring.Assess")
	defer span.End()

	span.SetAttributes(
		attribute.String("transaction.id", tx.ID),
		attribute.String("tenant.id", tx.TenantID),
	)

	prediction := s.predict(ctx, tx)

	if err := s.tracker.RecordActivity(ctx, tx); err != nil {
		return nil, err
	}

	metrics, err := s.tracker.CurrentMetrics(ctx, tx)
	if err != nil {
		return nil, err
	}

	geoContext, err := s.detector.Evaluate(ctx, tx)
	if err != nil {
		return nil, err
	}

	triggers := s.rules.Evaluate(ctx, tx, metrics, geoContext)

	score := s.compositeScore(prediction.FraudProbability, domain.TotalSeverity(triggers))

	assessment, err := domain.NewRiskAssessment(tx.TenantID, tx.ID, score, triggers, &prediction)
	if err != nil {
		return nil, err
	}

	decision, err := s.decisions.Decide(assessment)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("risk.score", score),
		attribute.String("risk.level", string(assessment.Level())),
		attribute.String("risk.decision", string(decision)),
	)

	slog.Debug("transaction assessed",
		"tx_id", tx.ID,
		"tenant_id", tx.TenantID,
		"score", score,
		"level", assessment.Level(),
		"decision", decision,
		"triggers", len(triggers),
		"ml_unavailable", prediction.Unavailable(),
	)

	return assessment, nil
}

// predict fetches the ML fraud probability, degrading to the unavailable
// sentinel on any failure.
func (s *Service) predict(ctx context.Context, tx *domain.Transaction) domain.MLPrediction {
	if s.predictor == nil {
		return domain.UnavailablePrediction()
	}

	prediction, err := s.predictor.Predict(ctx, tx)
	if err != nil {
		slog.Warn("ml prediction unavailable, degrading to rules",
			"tx_id", tx.ID,
			"error", err,
		)
		return domain.UnavailablePrediction()
	}
	return prediction
}

// compositeScore fuses the ML probability and aggregate rule severity into
// a bounded [0,100] score.
func (s *Service) compositeScore(fraudProbability float64, ruleScore int) int {
	raw := s.mlWeight*100*fraudProbability + s.ruleWeight*float64(ruleScore)
	return domain.ClampScore(int(math.Round(raw)))
}
