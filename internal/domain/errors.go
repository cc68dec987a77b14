package domain

import "errors"

var (
	// ErrBusinessRule marks violations of aggregate invariants, e.g. an
	// incompatible (risk level, decision) pair at completion time.
	ErrBusinessRule = errors.New("business rule violation")

	// ErrUnavailable marks infrastructure failures that are fatal to a
	// scoring call, e.g. an unreachable velocity store.
	ErrUnavailable = errors.New("dependency unavailable")

	// ErrAssessmentCompleted is returned when mutating a completed assessment.
	ErrAssessmentCompleted = errors.New("assessment already completed")
)
