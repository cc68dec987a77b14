package domain

import (
	"errors"
	"testing"
)

func TestLevelForScore(t *testing.T) {
	cases := []struct {
		score int
		want  RiskLevel
	}{
		{0, LevelLow},
		{40, LevelLow},
		{41, LevelMedium},
		{70, LevelMedium},
		{71, LevelHigh},
		{90, LevelHigh},
		{91, LevelCritical},
		{100, LevelCritical},
	}

	for _, c := range cases {
		if got := LevelForScore(c.score); got != c.want {
			t.Errorf("LevelForScore(%d) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestLevelForScoreTotal(t *testing.T) {
	// Every score in range maps to exactly one level, and levels never
	// regress as the score climbs.
	order := map[RiskLevel]int{LevelLow: 0, LevelMedium: 1, LevelHigh: 2, LevelCritical: 3}

	prev := LevelLow
	for s := MinScore; s <= MaxScore; s++ {
		level := LevelForScore(s)
		if _, ok := order[level]; !ok {
			t.Fatalf("LevelForScore(%d) returned unknown level %s", s, level)
		}
		if order[level] < order[prev] {
			t.Fatalf("level regressed at score %d: %s after %s", s, level, prev)
		}
		prev = level
	}
}

func TestClampScore(t *testing.T) {
	if got := ClampScore(-5); got != 0 {
		t.Errorf("ClampScore(-5) = %d, want 0", got)
	}
	if got := ClampScore(150); got != 100 {
		t.Errorf("ClampScore(150) = %d, want 100", got)
	}
	if got := ClampScore(42); got != 42 {
		t.Errorf("ClampScore(42) = %d, want 42", got)
	}
}

func TestNewRiskAssessmentValidation(t *testing.T) {
	if _, err := NewRiskAssessment("t1", "", 50, nil, nil); !errors.Is(err, ErrBusinessRule) {
		t.Errorf("expected ErrBusinessRule for missing tx id, got %v", err)
	}
	if _, err := NewRiskAssessment("t1", "tx-1", 101, nil, nil); !errors.Is(err, ErrBusinessRule) {
		t.Errorf("expected ErrBusinessRule for out-of-range score, got %v", err)
	}
	if _, err := NewRiskAssessment("t1", "tx-1", -1, nil, nil); !errors.Is(err, ErrBusinessRule) {
		t.Errorf("expected ErrBusinessRule for negative score, got %v", err)
	}

	a, err := NewRiskAssessment("t1", "tx-1", 35, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.ID == "" {
		t.Error("expected generated assessment id")
	}
	if a.Completed() {
		t.Error("new assessment must not be completed")
	}
}

func TestCompleteInvariants(t *testing.T) {
	decisions := []Decision{DecisionAllow, DecisionChallenge, DecisionReview, DecisionBlock}

	// Representative score per level.
	levels := []struct {
		score int
		level RiskLevel
	}{
		{20, LevelLow},
		{55, LevelMedium},
		{80, LevelHigh},
		{95, LevelCritical},
	}

	for _, lv := range levels {
		for _, d := range decisions {
			a, err := NewRiskAssessment("t1", "tx-1", lv.score, nil, nil)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			err = a.Complete(d)

			shouldFail := (lv.level == LevelCritical && d != DecisionBlock) ||
				(lv.level == LevelLow && d == DecisionBlock)

			if shouldFail {
				if !errors.Is(err, ErrBusinessRule) {
					t.Errorf("Complete(%s) at level %s: expected ErrBusinessRule, got %v", d, lv.level, err)
				}
				if a.Completed() {
					t.Errorf("Complete(%s) at level %s: assessment must stay unfinalized on violation", d, lv.level)
				}
				if len(a.DomainEvents()) != 0 {
					t.Errorf("Complete(%s) at level %s: no events on violation", d, lv.level)
				}
			} else {
				if err != nil {
					t.Errorf("Complete(%s) at level %s: unexpected error %v", d, lv.level, err)
				}
				if !a.Completed() {
					t.Errorf("Complete(%s) at level %s: expected completed", d, lv.level)
				}
				if a.Decision != d {
					t.Errorf("Complete(%s) at level %s: decision = %s", d, lv.level, a.Decision)
				}
			}
		}
	}
}

func TestCompleteEventLaw(t *testing.T) {
	cases := []struct {
		score      int
		decision   Decision
		wantEvents int
	}{
		{20, DecisionAllow, 1},     // LOW
		{55, DecisionChallenge, 1}, // MEDIUM
		{80, DecisionReview, 2},    // HIGH
		{95, DecisionBlock, 2},     // CRITICAL
	}

	for _, c := range cases {
		a, err := NewRiskAssessment("t1", "tx-1", c.score, nil, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := a.Complete(c.decision); err != nil {
			t.Fatalf("Complete failed at score %d: %v", c.score, err)
		}

		events := a.DomainEvents()
		if len(events) != c.wantEvents {
			t.Errorf("score %d: got %d events, want %d", c.score, len(events), c.wantEvents)
			continue
		}

		if events[0].Type != EventAssessmentCompleted {
			t.Errorf("score %d: first event = %s, want %s", c.score, events[0].Type, EventAssessmentCompleted)
		}
		if c.wantEvents == 2 && events[1].Type != EventHighRiskDetected {
			t.Errorf("score %d: second event = %s, want %s", c.score, events[1].Type, EventHighRiskDetected)
		}
		for _, ev := range events {
			if ev.AssessmentID != a.ID || ev.TransactionID != a.TransactionID {
				t.Errorf("event %s carries wrong aggregate identifiers", ev.Type)
			}
		}
	}
}

func TestClearDomainEvents(t *testing.T) {
	a, _ := NewRiskAssessment("t1", "tx-1", 95, nil, nil)
	if err := a.Complete(DecisionBlock); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(a.DomainEvents()) != 2 {
		t.Fatalf("expected 2 buffered events, got %d", len(a.DomainEvents()))
	}

	// Mutating the returned slice must not affect the buffer.
	events := a.DomainEvents()
	events[0].Type = "tampered"
	if a.DomainEvents()[0].Type != EventAssessmentCompleted {
		t.Error("DomainEvents must return a copy")
	}

	a.ClearDomainEvents()
	if len(a.DomainEvents()) != 0 {
		t.Error("expected empty buffer after clear")
	}
}

func TestCompleteIsTerminal(t *testing.T) {
	a, _ := NewRiskAssessment("t1", "tx-1", 55, nil, nil)
	if err := a.Complete(DecisionChallenge); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := a.Complete(DecisionReview); !errors.Is(err, ErrAssessmentCompleted) {
		t.Errorf("second Complete: expected ErrAssessmentCompleted, got %v", err)
	}
	if err := a.AddRuleEvaluation(RuleTrigger{RuleID: "r1"}); !errors.Is(err, ErrAssessmentCompleted) {
		t.Errorf("AddRuleEvaluation after completion: expected ErrAssessmentCompleted, got %v", err)
	}
}

func TestAddRuleEvaluation(t *testing.T) {
	a, _ := NewRiskAssessment("t1", "tx-1", 55, nil, nil)
	if err := a.AddRuleEvaluation(RuleTrigger{RuleID: "r1", Severity: SeverityMedium}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.RuleTriggers) != 1 {
		t.Errorf("expected 1 trigger, got %d", len(a.RuleTriggers))
	}
}

func TestTotalSeverity(t *testing.T) {
	triggers := []RuleTrigger{
		{Severity: SeverityMedium},
		{Severity: SeverityHigh},
	}
	if got := TotalSeverity(triggers); got != 65 {
		t.Errorf("TotalSeverity = %d, want 65", got)
	}
	if got := TotalSeverity(nil); got != 0 {
		t.Errorf("TotalSeverity(nil) = %d, want 0", got)
	}
}

func TestCompleteRejectsUnknownDecision(t *testing.T) {
	a, _ := NewRiskAssessment("t1", "tx-1", 55, nil, nil)
	if err := a.Complete(Decision("ESCALATE")); !errors.Is(err, ErrBusinessRule) {
		t.Errorf("expected ErrBusinessRule for unknown decision, got %v", err)
	}
	if a.Completed() {
		t.Error("assessment must stay unfinalized")
	}
}
