// Package hooks delivers outbound event notifications to configured
// webhook and script sinks.
package hooks

import (
	"time"
)

// Event names emitted by the core.
const (
	EventTaskCompleted    = "task.completed"
	EventTaskFailed       = "task.failed"
	EventSectionCompleted = "section.completed"
	EventHealthChanged    = "health.changed"
	EventDisputeCreated   = "dispute.created"
	EventDisputeResolved  = "dispute.resolved"
	EventCreditExhausted  = "credit.exhausted"
	EventCreditResolved   = "credit.resolved"
	EventProjectCompleted = "project.completed"
)

// ProjectInfo identifies the project an event belongs to.
type ProjectInfo struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// TaskInfo is the task body carried by task.* events.
type TaskInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Section   string `json:"section,omitempty"`
	SectionID string `json:"sectionId,omitempty"`
}

// SectionInfo is the section body carried by section.completed.
type SectionInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	TaskCount int    `json:"taskCount"`
}

// HealthInfo is the body of health.changed.
type HealthInfo struct {
	Score         int    `json:"score"`
	PreviousScore int    `json:"previousScore"`
	Status        string `json:"status"`
}

// DisputeInfo is the body of dispute.* events.
type DisputeInfo struct {
	ID         string `json:"id"`
	TaskID     string `json:"taskId"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Reason     string `json:"reason"`
	CreatedBy  string `json:"createdBy"`
	Resolution string `json:"resolution,omitempty"`
}

// CreditInfo is the body of credit.* events.
type CreditInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Role     string `json:"role"`
	Message  string `json:"message,omitempty"`
}

// SummaryInfo is the body of project.completed.
type SummaryInfo struct {
	TotalTasks int      `json:"totalTasks"`
	Files      []string `json:"files,omitempty"`
}

// Envelope is the wire payload every sink receives. Event-specific
// bodies are optional; only the fields relevant to the event are set.
type Envelope struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Project   ProjectInfo `json:"project"`

	Task       *TaskInfo    `json:"task,omitempty"`
	Reason     string       `json:"reason,omitempty"`
	Section    *SectionInfo `json:"section,omitempty"`
	Tasks      []TaskInfo   `json:"tasks,omitempty"`
	Health     *HealthInfo  `json:"health,omitempty"`
	Dispute    *DisputeInfo `json:"dispute,omitempty"`
	Credit     *CreditInfo  `json:"credit,omitempty"`
	Resolution string       `json:"resolution,omitempty"`
	Summary    *SummaryInfo `json:"summary,omitempty"`
}

// NewEnvelope creates an envelope stamped with the current time.
func NewEnvelope(event string, project ProjectInfo) Envelope {
	return Envelope{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Project:   project,
	}
}
