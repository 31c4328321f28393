package events

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/safedesk/safety-orchestrator/internal/domain"
)

// AuditStore persists audit entries.
type AuditStore interface {
	Create(ctx context.Context, entry *domain.AuditEntry) error
}

// AuditLogger copies every event it receives into durable storage.
type AuditLogger struct {
	store  AuditStore
	logger *zap.Logger
}

// NewAuditLogger creates the subscriber.
func NewAuditLogger(store AuditStore, logger *zap.Logger) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditLogger{store: store, logger: logger}
}

// Register subscribes the logger to every event type.
func (a *AuditLogger) Register(bus Dispatcher) {
	for _, t := range AllEventTypes {
		bus.Subscribe(t, a.Handle)
	}
}

// Handle persists one event.
func (a *AuditLogger) Handle(ctx context.Context, event Event) error {
	payload, err := payloadMap(event.Payload)
	if err != nil {
		return fmt.Errorf("audit payload: %w", err)
	}
	entry := &domain.AuditEntry{
		EventID:    event.ID,
		EventType:  string(event.Type),
		Source:     event.Source,
		Payload:    payload,
		OccurredAt: event.Timestamp,
	}
	if event.CaseID != "" {
		caseID := event.CaseID
		entry.CaseID = &caseID
	}
	if err := a.store.Create(ctx, entry); err != nil {
		return fmt.Errorf("audit persist: %w", err)
	}
	a.logger.Debug("audit entry stored",
		zap.String("event_type", entry.EventType),
		zap.String("event_id", entry.EventID))
	return nil
}

func payloadMap(payload any) (map[string]any, error) {
	if payload == nil {
		return map[string]any{}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{"value": json.RawMessage(raw)}, nil
	}
	return out, nil
}
