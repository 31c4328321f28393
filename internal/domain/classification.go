package domain

import "maps"

// RiskLevel is the ordinal severity of detected self-harm or crisis risk.
type RiskLevel int

const (
	RiskNone     RiskLevel = 0
	RiskLow      RiskLevel = 1
	RiskElevated RiskLevel = 2
	RiskImminent RiskLevel = 3
)

// Valid reports whether the level is inside the 0..3 range.
func (r RiskLevel) Valid() bool {
	return r >= RiskNone && r <= RiskImminent
}

// IsCrisis reports whether the level always requires a human.
func (r RiskLevel) IsCrisis() bool {
	return r >= RiskImminent
}

// NextStep is the routing decision made after classification.
type NextStep string

const (
	NextStepCoach    NextStep = "coach"
	NextStepHuman    NextStep = "human"
	NextStepResource NextStep = "resource"
)

// Valid reports whether the step is one of the known routing targets.
func (n NextStep) Valid() bool {
	switch n {
	case NextStepCoach, NextStepHuman, NextStepResource:
		return true
	}
	return false
}

// ClassificationRequest is a single user message submitted for triage.
type ClassificationRequest struct {
	sessionID string
	text      string
	meta      map[string]string
}

// NewClassificationRequest copies meta so later mutation by the caller is not observed.
func NewClassificationRequest(sessionID, text string, meta map[string]string) ClassificationRequest {
	return ClassificationRequest{
		sessionID: sessionID,
		text:      text,
		meta:      maps.Clone(meta),
	}
}

func (r ClassificationRequest) SessionID() string { return r.sessionID }

func (r ClassificationRequest) Text() string { return r.text }

// Meta returns a copy of the metadata map.
func (r ClassificationRequest) Meta() map[string]string {
	return maps.Clone(r.meta)
}

// MetaValue returns a single metadata entry.
func (r ClassificationRequest) MetaValue(key string) string {
	return r.meta[key]
}

// RiskClassification is the triage verdict for one request.
// DiagnosticNotes and FailedClosed stay internal and are never encoded.
type RiskClassification struct {
	RiskLevel       RiskLevel `json:"risk_level"`
	Intent          string    `json:"intent"`
	NextStep        NextStep  `json:"next_step"`
	Handoff         bool      `json:"handoff"`
	DiagnosticNotes string    `json:"-"`
	FailedClosed    bool      `json:"-"`
}

// FailClosed is the verdict used whenever the classifier cannot answer.
func FailClosed(notes string) RiskClassification {
	return RiskClassification{
		RiskLevel:       RiskElevated,
		Intent:          "unknown",
		NextStep:        NextStepHuman,
		Handoff:         true,
		DiagnosticNotes: notes,
		FailedClosed:    true,
	}
}

// SeverityForRisk maps a risk level onto case severity.
func SeverityForRisk(level RiskLevel) CaseSeverity {
	switch {
	case level >= RiskImminent:
		return SeverityCritical
	case level == RiskElevated:
		return SeverityHigh
	case level == RiskLow:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
