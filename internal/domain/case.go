package domain

import "time"

// CaseStatus enumerates lifecycle states for safety-desk cases.
type CaseStatus string

const (
	CaseStatusNew        CaseStatus = "new"
	CaseStatusInProgress CaseStatus = "in_progress"
	CaseStatusWaiting    CaseStatus = "waiting"
	CaseStatusClosed     CaseStatus = "closed"
)

// Valid reports whether the status is a known lifecycle state.
func (s CaseStatus) Valid() bool {
	switch s {
	case CaseStatusNew, CaseStatusInProgress, CaseStatusWaiting, CaseStatusClosed:
		return true
	}
	return false
}

// Open reports whether the case still needs attention.
func (s CaseStatus) Open() bool {
	return s != CaseStatusClosed
}

// CaseSeverity enumerates SLA urgency.
type CaseSeverity string

const (
	SeverityLow      CaseSeverity = "low"
	SeverityMedium   CaseSeverity = "med"
	SeverityHigh     CaseSeverity = "high"
	SeverityCritical CaseSeverity = "critical"
)

// Valid reports whether the severity is known.
func (s CaseSeverity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Case is a safety-desk work item requiring human follow-up.
type Case struct {
	ID               string
	ExecutionID      string
	UserHash         string
	SessionID        string
	Status           CaseStatus
	Severity         CaseSeverity
	AssignedTo       *string
	SummaryRedacted  string
	SLABreachAt      time.Time
	BreachNotifiedAt *time.Time
	CloseReason      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ClosedAt         *time.Time
}

// BreachNotified reports whether the SLA alarm already fired.
func (c *Case) BreachNotified() bool {
	return c.BreachNotifiedAt != nil
}

// Clone returns a copy that shares no pointers with c.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	out := *c
	if c.AssignedTo != nil {
		v := *c.AssignedTo
		out.AssignedTo = &v
	}
	if c.BreachNotifiedAt != nil {
		v := *c.BreachNotifiedAt
		out.BreachNotifiedAt = &v
	}
	if c.ClosedAt != nil {
		v := *c.ClosedAt
		out.ClosedAt = &v
	}
	return &out
}
