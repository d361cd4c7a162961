// Package escalation decides what happens to a work item after each processing attempt.
package escalation

import "fmt"

// Outcome is the result of one operation attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failure"
}

// OutcomeOf maps an operation error to an Outcome. Every error is retryable.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	return OutcomeFailure
}

// Action is the routing action chosen for a work item.
type Action int

const (
	ActionSuccess Action = iota
	ActionRetry
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionSuccess:
		return "success"
	case ActionRetry:
		return "retry"
	case ActionDeadLetter:
		return "dead_letter"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the policy verdict. NextAttempt is only meaningful for ActionRetry.
type Decision struct {
	Action      Action
	NextAttempt int
}

func Success() Decision       { return Decision{Action: ActionSuccess} }
func Retry(next int) Decision { return Decision{Action: ActionRetry, NextAttempt: next} }
func DeadLetter() Decision    { return Decision{Action: ActionDeadLetter} }

func (d Decision) String() string {
	if d.Action == ActionRetry {
		return fmt.Sprintf("retry(%d)", d.NextAttempt)
	}
	return d.Action.String()
}

// Decide is the single authority on the retry/dead-letter boundary.
//
// Success wins regardless of the attempt count. On failure the attempt is
// incremented; reaching maxRetries escalates to dead-letter.
func Decide(outcome Outcome, current, maxRetries int) Decision {
	if outcome == OutcomeSuccess {
		return Success()
	}

	next := current + 1
	if next >= maxRetries {
		return DeadLetter()
	}
	return Retry(next)
}
