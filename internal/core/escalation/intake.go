package escalation

import "fmt"

// IntakeMode controls whether a failure on the intake topic consumes retry budget.
type IntakeMode string

const (
	// IntakeUnified routes intake failures through Decide with attempt 0, so a
	// lineage makes at most maxRetries operation attempts in total.
	IntakeUnified IntakeMode = "unified"

	// IntakeReference always forwards an intake failure as Retry(0). The intake
	// attempt is free, giving 1+maxRetries attempts in total.
	IntakeReference IntakeMode = "reference"
)

// ParseIntakeMode validates a configured mode. Empty selects IntakeUnified.
func ParseIntakeMode(s string) (IntakeMode, error) {
	switch IntakeMode(s) {
	case "", IntakeUnified:
		return IntakeUnified, nil
	case IntakeReference:
		return IntakeReference, nil
	default:
		return "", fmt.Errorf("unknown intake mode %q", s)
	}
}

// IntakeDecision decides the fate of a message seen on the intake topic.
func IntakeDecision(mode IntakeMode, outcome Outcome, maxRetries int) Decision {
	if outcome == OutcomeSuccess {
		return Success()
	}
	if mode == IntakeReference {
		return Retry(0)
	}
	return Decide(OutcomeFailure, 0, maxRetries)
}

// TotalAttempts is the largest number of operation attempts one lineage can make.
func TotalAttempts(mode IntakeMode, maxRetries int) int {
	if mode == IntakeReference {
		// intake + attempts 0..maxRetries-1 on the retry topic
		return 1 + maxRetries
	}
	if maxRetries < 1 {
		return 1
	}
	return maxRetries
}
