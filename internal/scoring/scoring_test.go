package scoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/geo"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/velocity"
)

type stubPredictor struct {
	prediction domain.MLPrediction
	err        error
}

func (s stubPredictor) Predict(ctx context.Context, tx *domain.Transaction) (domain.MLPrediction, error) {
	return s.prediction, s.err
}

type stubHistory struct{}

func (stubHistory) MostRecentLocation(ctx context.Context, tenantID, accountID string, before time.Time) (*domain.Geolocation, error) {
	return nil, nil
}

type stubRules struct {
	triggers []domain.RuleTrigger
}

func (s stubRules) Evaluate(ctx context.Context, tx *domain.Transaction, v *domain.VelocityMetrics, g domain.GeographicContext) []domain.RuleTrigger {
	return s.triggers
}

func scoringTx(amount float64) *domain.Transaction {
	return &domain.Transaction{
		ID:        "tx-1",
		TenantID:  "tenant-001",
		AccountID: "acct-1",
		Type:      "purchase",
		Amount:    domain.Money{Value: decimal.NewFromFloat(amount), Currency: "USD"},
		Timestamp: time.Now().UTC(),
	}
}

func newService(predictor domain.MLPredictionPort, ruleEval RuleEvaluator) *Service {
	tracker := velocity.NewTracker(velocity.NewMemoryStore(), nil, 0)
	detector := geo.NewDetector(stubHistory{}, 965)
	if ruleEval == nil {
		ruleEval = rules.NewEngine(domain.RulesConfig{}, nil)
	}
	return NewService(predictor, tracker, detector, ruleEval, decision.NewEngine(), domain.ScoringConfig{MLWeight: 0.6, RuleWeight: 0.4})
}

func TestCompositeScoreDeterminism(t *testing.T) {
	// round(0.6*100*0.15 + 0.4*(25+40)) = round(9+26) = 35
	predictor := stubPredictor{prediction: domain.MLPrediction{
		ModelID:          "fraud-v1",
		FraudProbability: 0.15,
		Confidence:       0.8,
	}}
	ruleEval := stubRules{triggers: []domain.RuleTrigger{
		{RuleID: "r1", Severity: domain.SeverityMedium},
		{RuleID: "r2", Severity: domain.SeverityHigh},
	}}

	svc := newService(predictor, ruleEval)

	a, err := svc.Assess(context.Background(), scoringTx(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Score != 35 {
		t.Errorf("composite score = %d, want 35", a.Score)
	}
	if a.Level() != domain.LevelLow {
		t.Errorf("level = %s, want LOW", a.Level())
	}
	if a.Decision != domain.DecisionAllow {
		t.Errorf("decision = %s, want ALLOW", a.Decision)
	}
	if !a.Completed() {
		t.Error("expected completed assessment")
	}
}

func TestAssessClampsScore(t *testing.T) {
	predictor := stubPredictor{prediction: domain.MLPrediction{FraudProbability: 1, Confidence: 1}}
	ruleEval := stubRules{triggers: []domain.RuleTrigger{
		{RuleID: "r1", Severity: domain.SeverityCritical},
		{RuleID: "r2", Severity: domain.SeverityCritical},
		{RuleID: "r3", Severity: domain.SeverityCritical},
	}}

	svc := newService(predictor, ruleEval)

	// 0.6*100*1 + 0.4*180 = 132, clamped to 100.
	a, err := svc.Assess(context.Background(), scoringTx(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Score != 100 {
		t.Errorf("score = %d, want 100 (clamped)", a.Score)
	}
	if a.Decision != domain.DecisionBlock {
		t.Errorf("decision = %s, want BLOCK", a.Decision)
	}
}

func TestAssessDegradesOnPredictionFailure(t *testing.T) {
	predictor := stubPredictor{err: errors.New("model service down")}

	svc := newService(predictor, nil)

	// amount=20000 fires Large Amount (25): score = 0.4*25 = 10.
	a, err := svc.Assess(context.Background(), scoringTx(20000))
	if err != nil {
		t.Fatalf("scoring must degrade, not fail: %v", err)
	}
	if a.Prediction == nil || !a.Prediction.Unavailable() {
		t.Errorf("expected unavailable prediction sentinel, got %+v", a.Prediction)
	}
	if a.Score != 10 {
		t.Errorf("score = %d, want 10 (rules only)", a.Score)
	}
	if !a.Completed() {
		t.Error("expected completed assessment despite ML failure")
	}
}

func TestAssessNilPredictor(t *testing.T) {
	svc := newService(nil, nil)

	a, err := svc.Assess(context.Background(), scoringTx(100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Prediction.Unavailable() {
		t.Error("expected sentinel with no predictor configured")
	}
	if a.Score != 0 {
		t.Errorf("score = %d, want 0", a.Score)
	}
}

type brokenTracker struct{}

func (brokenTracker) RecordActivity(ctx context.Context, tx *domain.Transaction) error {
	return domain.ErrUnavailable
}

func (brokenTracker) CurrentMetrics(ctx context.Context, tx *domain.Transaction) (*domain.VelocityMetrics, error) {
	return nil, domain.ErrUnavailable
}

func TestAssessVelocityFailureIsFatal(t *testing.T) {
	predictor := stubPredictor{prediction: domain.MLPrediction{FraudProbability: 0.5, Confidence: 0.5}}
	svc := NewService(predictor, brokenTracker{}, geo.NewDetector(stubHistory{}, 965), rules.NewEngine(domain.RulesConfig{}, nil), decision.NewEngine(), domain.ScoringConfig{})

	if _, err := svc.Assess(context.Background(), scoringTx(100)); !errors.Is(err, domain.ErrUnavailable) {
		t.Errorf("expected ErrUnavailable propagated, got %v", err)
	}
}

func TestAssessRecordsVelocity(t *testing.T) {
	store := velocity.NewMemoryStore()
	tracker := velocity.NewTracker(store, nil, 0)
	svc := NewService(nil, tracker, geo.NewDetector(stubHistory{}, 965), rules.NewEngine(domain.RulesConfig{}, nil), decision.NewEngine(), domain.ScoringConfig{})

	ctx := context.Background()
	tx := scoringTx(100)

	// Eight rapid assessments push the 5-minute count past the threshold
	// of 6; the seventh onward sees counts above it.
	var last *domain.RiskAssessment
	for i := 0; i < 8; i++ {
		a, err := svc.Assess(ctx, tx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		last = a
	}

	found := false
	for _, trig := range last.RuleTriggers {
		if trig.RuleID == rules.RuleHighVelocity5m {
			found = true
		}
	}
	if !found {
		t.Errorf("expected High Velocity 5min after 8 rapid transactions, got %v", last.RuleTriggers)
	}
}
