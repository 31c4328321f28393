package dto

import (
	"time"

	"github.com/safedesk/safety-orchestrator/internal/domain"
)

// AssignCaseRequest payload.
type AssignCaseRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// UpdateCaseStatusRequest payload.
type UpdateCaseStatusRequest struct {
	Status domain.CaseStatus `json:"status"`
}

// CloseCaseRequest payload.
type CloseCaseRequest struct {
	Reason string `json:"reason"`
}

// CaseResponse is the staff view of a case. The user hash is never exposed.
type CaseResponse struct {
	ID              string              `json:"id"`
	ExecutionID     string              `json:"execution_id,omitempty"`
	Status          domain.CaseStatus   `json:"status"`
	Severity        domain.CaseSeverity `json:"severity"`
	AssignedTo      *string             `json:"assigned_to"`
	SummaryRedacted string              `json:"summary_redacted"`
	SLABreachAt     time.Time           `json:"sla_breach_at"`
	SLABreached     bool                `json:"sla_breached"`
	CloseReason     string              `json:"close_reason,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	ClosedAt        *time.Time          `json:"closed_at,omitempty"`
}

// AnalyticsResponse wraps an aggregate that passed the privacy guard.
type AnalyticsResponse struct {
	GroupBy string         `json:"group_by"`
	Counts  map[string]int `json:"counts"`
}
