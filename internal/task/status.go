// Package task defines the work-item state machine and audit vocabulary.
package task

import "fmt"

// Status is a task lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
	StatusFailed     Status = "failed"
)

// Actor types recorded in the audit trail.
const (
	ActorHuman        = "human"
	ActorCoder        = "coder"
	ActorReviewer     = "reviewer"
	ActorOrchestrator = "orchestrator"
	ActorMerge        = "merge"
)

// DefaultRejectionThreshold is the rejection count at which the
// orchestrator escalates to a dispute instead of another review round.
const DefaultRejectionThreshold = 15

// transitions is the allowed edge set of the state machine. skipped is an
// operator decision reachable from any non-terminal state and is handled
// separately in CanTransition.
var transitions = map[Status][]Status{
	StatusPending:    {StatusInProgress},
	StatusInProgress: {StatusReview, StatusInProgress, StatusFailed},
	StatusReview:     {StatusCompleted, StatusInProgress},
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusReview, StatusCompleted,
		StatusSkipped, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether s ends the task lifecycle.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusFailed
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	if to == StatusSkipped {
		return !from.IsTerminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns a descriptive error for an illegal edge.
func ValidateTransition(from, to Status) error {
	if !from.IsValid() {
		return fmt.Errorf("unknown status %q", from)
	}
	if !to.IsValid() {
		return fmt.Errorf("unknown status %q", to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	return nil
}

// ValidatePath reports whether a sequence of audit transitions forms a
// valid walk of the state machine, starting from task creation.
func ValidatePath(path []Status) error {
	if len(path) == 0 {
		return nil
	}
	if path[0] != StatusPending {
		return fmt.Errorf("lifecycle must begin at pending, got %s", path[0])
	}
	for i := 1; i < len(path); i++ {
		if err := ValidateTransition(path[i-1], path[i]); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	return nil
}
