// Package events provides event types and publishing infrastructure for
// steroids.
package events

import (
	"time"
)

// EventType defines the type of event.
type EventType string

const (
	// EventTransition indicates a task status change.
	EventTransition EventType = "transition"
	// EventInvocation indicates a provider invocation finished.
	EventInvocation EventType = "invocation"
	// EventDispute indicates a dispute was opened or resolved.
	EventDispute EventType = "dispute"
	// EventIncident indicates the health detector recorded an incident.
	EventIncident EventType = "incident"
	// EventRunner indicates a runner lifecycle change.
	EventRunner EventType = "runner"
	// EventLock indicates a lease was acquired, renewed, or released.
	EventLock EventType = "lock"
	// EventWakeup indicates a wakeup pass finished.
	EventWakeup EventType = "wakeup"
	// EventError indicates a non-fatal loop error.
	EventError EventType = "error"
)

// Event represents a published event.
type Event struct {
	Type   EventType `json:"type"`
	TaskID string    `json:"task_id"`
	Data   any       `json:"data"`
	Time   time.Time `json:"time"`
}

// NewEvent creates a new event with the current timestamp.
func NewEvent(eventType EventType, taskID string, data any) Event {
	return Event{
		Type:   eventType,
		TaskID: taskID,
		Data:   data,
		Time:   time.Now(),
	}
}

// TransitionData describes a task status change.
type TransitionData struct {
	From           string `json:"from"`
	To             string `json:"to"`
	Actor          string `json:"actor"`
	ActorType      string `json:"actor_type"`
	RejectionCount int    `json:"rejection_count,omitempty"`
	CommitSHA      string `json:"commit_sha,omitempty"`
	Notes          string `json:"notes,omitempty"`
}

// InvocationData describes a finished provider invocation.
type InvocationData struct {
	Role            string  `json:"role"`
	Model           string  `json:"model,omitempty"`
	ExitCode        int     `json:"exit_code"`
	DurationSeconds float64 `json:"duration_seconds"`
	TimedOut        bool    `json:"timed_out,omitempty"`
	Hung            bool    `json:"hung,omitempty"`
}

// IncidentData describes a detected failure.
type IncidentData struct {
	FailureMode string `json:"failure_mode"`
	RunnerID    string `json:"runner_id,omitempty"`
	Detail      string `json:"detail,omitempty"`
}

// RunnerData describes a runner lifecycle change.
type RunnerData struct {
	RunnerID string `json:"runner_id"`
	Status   string `json:"status"`
	Project  string `json:"project,omitempty"`
}
