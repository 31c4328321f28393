package dto

import "github.com/safedesk/safety-orchestrator/internal/domain"

// ClassifyRequest is one user message submitted for triage.
type ClassifyRequest struct {
	SessionID string            `json:"session_id"`
	Text      string            `json:"text"`
	Meta      map[string]string `json:"meta"`
}

// ResourceItem is a self-help link.
type ResourceItem struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// ClassifyResponse embeds the verdict so its four fields stay top-level.
type ClassifyResponse struct {
	domain.RiskClassification
	ExecutionID string         `json:"execution_id"`
	CaseID      string         `json:"case_id,omitempty"`
	HandoffID   string         `json:"handoff_id,omitempty"`
	Resources   []ResourceItem `json:"resources,omitempty"`
	Fallback    bool           `json:"fallback,omitempty"`
}
