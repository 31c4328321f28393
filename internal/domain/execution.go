package domain

import "time"

// ExecutionStatus is the terminal outcome of one orchestration run.
type ExecutionStatus string

const (
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

// NodeEntry is one visit to a state-machine node. Entries are never rewritten.
type NodeEntry struct {
	Seq       int           `json:"seq"`
	Node      string        `json:"node"`
	EnteredAt time.Time     `json:"entered_at"`
	Duration  time.Duration `json:"duration"`
	Outcome   string        `json:"outcome"`
}

// ExecutionRecord is the audit trail of a single router invocation.
type ExecutionRecord struct {
	ExecutionID string          `json:"execution_id"`
	SessionID   string          `json:"session_id"`
	Status      ExecutionStatus `json:"status"`
	Steps       []NodeEntry     `json:"steps"`
	Errors      []string        `json:"errors,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// Clone returns a deep copy for read-only consumers.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Steps = append([]NodeEntry(nil), r.Steps...)
	out.Errors = append([]string(nil), r.Errors...)
	if r.FinishedAt != nil {
		v := *r.FinishedAt
		out.FinishedAt = &v
	}
	return &out
}

// Path lists node names in visit order.
func (r *ExecutionRecord) Path() []string {
	path := make([]string, 0, len(r.Steps))
	for _, step := range r.Steps {
		path = append(path, step.Node)
	}
	return path
}
