package events

import (
	"time"

	"github.com/safedesk/safety-orchestrator/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventCaseCreated       EventType = "CASE_CREATED"
	EventCaseAssigned      EventType = "CASE_ASSIGNED"
	EventCaseStatusChanged EventType = "CASE_STATUS_CHANGED"
	EventCaseClosed        EventType = "CASE_CLOSED"
	EventCaseSLABreached   EventType = "CASE_SLA_BREACHED"
	EventRiskClassified    EventType = "RISK_CLASSIFIED"
	EventRoutingCompleted  EventType = "ROUTING_COMPLETED"
	EventAgentError        EventType = "AGENT_ERROR"
	EventAnalytics         EventType = "ANALYTICS_EVENT"
	EventExecutionStep     EventType = "EXECUTION_STEP"
	EventExecutionFinished EventType = "EXECUTION_FINISHED"
)

// AllEventTypes lists the closed set of event types.
var AllEventTypes = []EventType{
	EventCaseCreated,
	EventCaseAssigned,
	EventCaseStatusChanged,
	EventCaseClosed,
	EventCaseSLABreached,
	EventRiskClassified,
	EventRoutingCompleted,
	EventAgentError,
	EventAnalytics,
	EventExecutionStep,
	EventExecutionFinished,
}

// Valid reports whether t belongs to the closed set.
func (t EventType) Valid() bool {
	for _, known := range AllEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Event sources.
const (
	SourceRouter    = "router"
	SourceCases     = "case_lifecycle"
	SourceTracker   = "execution_tracker"
	SourceAnalytics = "analytics"
)

// Event represents a transient domain event. It is persisted only if a
// subscriber chooses to.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Source    string    `json:"source"`
	CaseID    string    `json:"case_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// CaseCreatedPayload payload.
type CaseCreatedPayload struct {
	Severity    domain.CaseSeverity `json:"severity"`
	SessionID   string              `json:"session_id"`
	ExecutionID string              `json:"execution_id,omitempty"`
	SLABreachAt time.Time           `json:"sla_breach_at"`
}

// CaseAssignedPayload payload.
type CaseAssignedPayload struct {
	OldAssignee *string           `json:"old_assignee,omitempty"`
	NewAssignee string            `json:"new_assignee"`
	Status      domain.CaseStatus `json:"status"`
}

// CaseStatusChangedPayload payload.
type CaseStatusChangedPayload struct {
	OldStatus domain.CaseStatus `json:"old_status"`
	NewStatus domain.CaseStatus `json:"new_status"`
}

// CaseClosedPayload payload.
type CaseClosedPayload struct {
	OldStatus domain.CaseStatus `json:"old_status"`
	Reason    string            `json:"reason"`
	ClosedAt  time.Time         `json:"closed_at"`
}

// CaseSLABreachedPayload payload.
type CaseSLABreachedPayload struct {
	Severity    domain.CaseSeverity `json:"severity"`
	Status      domain.CaseStatus   `json:"status"`
	SLABreachAt time.Time           `json:"sla_breach_at"`
	DetectedAt  time.Time           `json:"detected_at"`
}

// RiskClassifiedPayload payload. Diagnostic notes are deliberately absent.
type RiskClassifiedPayload struct {
	ExecutionID string           `json:"execution_id"`
	SessionID   string           `json:"session_id"`
	RiskLevel   domain.RiskLevel `json:"risk_level"`
	Intent      string           `json:"intent"`
	NextStep    domain.NextStep  `json:"next_step"`
	Handoff     bool             `json:"handoff"`
	FailClosed  bool             `json:"fail_closed"`
	Overridden  bool             `json:"overridden"`
}

// RoutingCompletedPayload payload.
type RoutingCompletedPayload struct {
	ExecutionID string          `json:"execution_id"`
	SessionID   string          `json:"session_id"`
	Variant     domain.NextStep `json:"variant"`
	Fallback    bool            `json:"fallback"`
}

// AgentErrorPayload payload.
type AgentErrorPayload struct {
	ExecutionID string `json:"execution_id,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
	Stage       string `json:"stage"`
	Error       string `json:"error"`
}

// AnalyticsPayload payload. Only k-anonymous aggregates are ever attached.
type AnalyticsPayload struct {
	Metric  string         `json:"metric"`
	GroupBy string         `json:"group_by"`
	Counts  map[string]int `json:"counts"`
}

// ExecutionStepPayload payload.
type ExecutionStepPayload struct {
	ExecutionID string           `json:"execution_id"`
	Step        domain.NodeEntry `json:"step"`
}

// ExecutionFinishedPayload payload.
type ExecutionFinishedPayload struct {
	ExecutionID string                 `json:"execution_id"`
	Status      domain.ExecutionStatus `json:"status"`
	Path        []string               `json:"path"`
	Errors      []string               `json:"errors,omitempty"`
}
