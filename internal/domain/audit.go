package domain

import "time"

// AuditEntry is an immutable persisted copy of a bus event.
type AuditEntry struct {
	ID         string
	EventID    string
	EventType  string
	Source     string
	CaseID     *string
	Payload    map[string]any
	OccurredAt time.Time
	CreatedAt  time.Time
}
