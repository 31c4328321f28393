package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/safedesk/safety-orchestrator/internal/config"
	"github.com/safedesk/safety-orchestrator/internal/domain"
	"github.com/safedesk/safety-orchestrator/internal/events"
	"github.com/safedesk/safety-orchestrator/internal/repository"
	apperrors "github.com/safedesk/safety-orchestrator/pkg/util/errorutil"
)

// allowedTransitions is the case state machine. new→closed lets the desk
// dismiss a case nobody picked up.
var allowedTransitions = map[domain.CaseStatus][]domain.CaseStatus{
	domain.CaseStatusNew:        {domain.CaseStatusInProgress, domain.CaseStatusClosed},
	domain.CaseStatusInProgress: {domain.CaseStatusWaiting, domain.CaseStatusClosed},
	domain.CaseStatusWaiting:    {domain.CaseStatusInProgress, domain.CaseStatusClosed},
}

// CanTransition reports whether from→to is an edge of the case state machine.
func CanTransition(from, to domain.CaseStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ComputeSLADeadline returns startedAt plus minutes.
func ComputeSLADeadline(startedAt time.Time, minutes int) time.Time {
	return startedAt.Add(time.Duration(minutes) * time.Minute)
}

// SLAPolicy maps severity to response window in minutes.
type SLAPolicy map[domain.CaseSeverity]int

// SLAPolicyFromConfig builds the policy from configuration.
func SLAPolicyFromConfig(cfg config.SLAConfig) SLAPolicy {
	return SLAPolicy{
		domain.SeverityLow:      cfg.LowMinutes,
		domain.SeverityMedium:   cfg.MediumMinutes,
		domain.SeverityHigh:     cfg.HighMinutes,
		domain.SeverityCritical: cfg.CriticalMinutes,
	}
}

// DefaultSLAPolicy returns the built-in windows.
func DefaultSLAPolicy() SLAPolicy {
	return SLAPolicy{
		domain.SeverityLow:      24 * 60,
		domain.SeverityMedium:   8 * 60,
		domain.SeverityHigh:     60,
		domain.SeverityCritical: 15,
	}
}

// Minutes returns the window for severity. Unknown severities get the
// tightest configured window.
func (p SLAPolicy) Minutes(severity domain.CaseSeverity) int {
	if m, ok := p[severity]; ok {
		return m
	}
	tightest := 0
	for _, m := range p {
		if tightest == 0 || m < tightest {
			tightest = m
		}
	}
	return tightest
}

// CaseService is the case lifecycle manager.
type CaseService struct {
	cases      repository.CaseRepository
	staff      repository.StaffRepository
	locker     CaseLocker
	dispatcher events.Dispatcher
	sla        SLAPolicy
	logger     *zap.Logger
	now        func() time.Time
}

// CaseDependencies bundles collaborators for the case service.
type CaseDependencies struct {
	CaseRepo   repository.CaseRepository
	StaffRepo  repository.StaffRepository
	Locker     CaseLocker
	Dispatcher events.Dispatcher
	SLA        SLAPolicy
	Logger     *zap.Logger
	Clock      func() time.Time
}

// CreateCaseInput describes a new safety-desk case.
type CreateCaseInput struct {
	UserHash        string
	SessionID       string
	ExecutionID     string
	Severity        domain.CaseSeverity
	SummaryRedacted string
}

// CaseListFilter describes triage queue filters.
type CaseListFilter struct {
	Status     *domain.CaseStatus
	AssignedTo *string
	Limit      int
	Offset     int
}

// NewCaseService constructs the service.
func NewCaseService(deps CaseDependencies) *CaseService {
	s := &CaseService{
		cases:      deps.CaseRepo,
		staff:      deps.StaffRepo,
		locker:     deps.Locker,
		dispatcher: deps.Dispatcher,
		sla:        deps.SLA,
		logger:     deps.Logger,
		now:        deps.Clock,
	}
	if s.locker == nil {
		s.locker = NewKeyedLocker()
	}
	if s.sla == nil {
		s.sla = DefaultSLAPolicy()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.logger = s.logger.Named("cases")
	return s
}

// CreateCase opens a case in status new. The insert is the only write, so a
// cancelled caller never leaves a partial case behind.
func (s *CaseService) CreateCase(ctx context.Context, input CreateCaseInput) (*domain.Case, error) {
	if !input.Severity.Valid() {
		return nil, apperrors.NewValidationError("invalid severity", map[string]any{"severity": input.Severity})
	}
	if strings.TrimSpace(input.UserHash) == "" || strings.TrimSpace(input.SessionID) == "" {
		return nil, apperrors.NewValidationError("user hash and session id are required", nil)
	}

	now := s.now().UTC()
	c := &domain.Case{
		ID:              uuid.NewString(),
		ExecutionID:     input.ExecutionID,
		UserHash:        input.UserHash,
		SessionID:       input.SessionID,
		Status:          domain.CaseStatusNew,
		Severity:        input.Severity,
		SummaryRedacted: input.SummaryRedacted,
		SLABreachAt:     ComputeSLADeadline(now, s.sla.Minutes(input.Severity)),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.cases.Create(ctx, c); err != nil {
		return nil, fmt.Errorf("create case: %w", err)
	}

	s.logger.Info("case created",
		zap.String("case_id", c.ID),
		zap.String("severity", string(c.Severity)),
		zap.Time("sla_breach_at", c.SLABreachAt))
	s.publishEvent(ctx, events.Event{
		Type:   events.EventCaseCreated,
		CaseID: c.ID,
		Payload: events.CaseCreatedPayload{
			Severity:    c.Severity,
			SessionID:   c.SessionID,
			ExecutionID: c.ExecutionID,
			SLABreachAt: c.SLABreachAt,
		},
	})
	return c, nil
}

// GetCase fetches a case by id.
func (s *CaseService) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	c, err := s.cases.GetByID(ctx, caseID)
	if err != nil {
		return nil, caseNotFound(caseID, err)
	}
	return c, nil
}

// ListCases returns the triage queue, soonest breach first.
func (s *CaseService) ListCases(ctx context.Context, filter CaseListFilter) ([]domain.Case, error) {
	if filter.Status != nil && !filter.Status.Valid() {
		return nil, apperrors.NewValidationError("invalid status filter", map[string]any{"status": *filter.Status})
	}
	return s.cases.ListWithFilter(ctx, repository.CaseFilter{
		Status:     filter.Status,
		AssignedTo: filter.AssignedTo,
		Limit:      filter.Limit,
		Offset:     filter.Offset,
	})
}

// AssignCase hands a case to a staff member. new and waiting cases move to
// in_progress; an in_progress case only changes hands.
func (s *CaseService) AssignCase(ctx context.Context, caseID, assigneeID string) (*domain.Case, error) {
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		return nil, apperrors.NewValidationError("assignee_id is required", nil)
	}
	if err := s.ensureAssignable(ctx, assigneeID); err != nil {
		return nil, err
	}

	var (
		oldAssignee *string
		oldStatus   domain.CaseStatus
	)
	updated, err := s.mutate(ctx, caseID, func(c *domain.Case) error {
		oldStatus = c.Status
		if c.Status == domain.CaseStatusClosed {
			return invalidTransition(c.Status, domain.CaseStatusInProgress)
		}
		if c.AssignedTo != nil {
			prev := *c.AssignedTo
			oldAssignee = &prev
		}
		assignee := assigneeID
		c.AssignedTo = &assignee
		c.Status = domain.CaseStatusInProgress
		c.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(ctx, events.Event{
		Type:   events.EventCaseAssigned,
		CaseID: updated.ID,
		Payload: events.CaseAssignedPayload{
			OldAssignee: oldAssignee,
			NewAssignee: assigneeID,
			Status:      updated.Status,
		},
	})
	if oldStatus != updated.Status {
		s.publishStatusChange(ctx, updated.ID, oldStatus, updated.Status)
	}
	return updated, nil
}

// UpdateStatus moves an open case along the state machine. Closing goes
// through CloseCase so a reason is always recorded.
func (s *CaseService) UpdateStatus(ctx context.Context, caseID string, status domain.CaseStatus) (*domain.Case, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidationError("invalid status", map[string]any{"status": status})
	}
	if status == domain.CaseStatusClosed {
		return nil, apperrors.NewValidationError("use close to close a case", nil)
	}

	var oldStatus domain.CaseStatus
	updated, err := s.mutate(ctx, caseID, func(c *domain.Case) error {
		oldStatus = c.Status
		if !CanTransition(c.Status, status) {
			return invalidTransition(c.Status, status)
		}
		c.Status = status
		c.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.publishStatusChange(ctx, updated.ID, oldStatus, updated.Status)
	return updated, nil
}

// CloseCase closes an open case. Closing a closed case is an error.
func (s *CaseService) CloseCase(ctx context.Context, caseID, reason string) (*domain.Case, error) {
	var oldStatus domain.CaseStatus
	updated, err := s.mutate(ctx, caseID, func(c *domain.Case) error {
		oldStatus = c.Status
		if c.Status == domain.CaseStatusClosed {
			return doubleClose(c)
		}
		if !CanTransition(c.Status, domain.CaseStatusClosed) {
			return invalidTransition(c.Status, domain.CaseStatusClosed)
		}
		now := s.now().UTC()
		c.Status = domain.CaseStatusClosed
		c.CloseReason = strings.TrimSpace(reason)
		c.ClosedAt = &now
		c.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("case closed", zap.String("case_id", updated.ID), zap.String("from", string(oldStatus)))
	s.publishEvent(ctx, events.Event{
		Type:   events.EventCaseClosed,
		CaseID: updated.ID,
		Payload: events.CaseClosedPayload{
			OldStatus: oldStatus,
			Reason:    updated.CloseReason,
			ClosedAt:  *updated.ClosedAt,
		},
	})
	return updated, nil
}

// SweepBreaches publishes CASE_SLA_BREACHED once for every open case whose
// deadline has passed. It returns how many cases it claimed.
func (s *CaseService) SweepBreaches(ctx context.Context, now time.Time) (int, error) {
	breached, err := s.cases.ListBreached(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list breached cases: %w", err)
	}

	var errs []error
	notified := 0
	for _, c := range breached {
		claimed, err := s.cases.MarkBreachNotified(ctx, c.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("case %s: %w", c.ID, err))
			continue
		}
		if !claimed {
			continue
		}
		notified++
		s.logger.Warn("case SLA breached",
			zap.String("case_id", c.ID),
			zap.String("severity", string(c.Severity)),
			zap.Time("sla_breach_at", c.SLABreachAt))
		s.publishEvent(ctx, events.Event{
			Type:   events.EventCaseSLABreached,
			CaseID: c.ID,
			Payload: events.CaseSLABreachedPayload{
				Severity:    c.Severity,
				Status:      c.Status,
				SLABreachAt: c.SLABreachAt,
				DetectedAt:  now,
			},
		})
	}
	return notified, errors.Join(errs...)
}

// mutate runs fn under the per-case lock inside the repository's
// read-modify-write. The lock is released before events are published.
func (s *CaseService) mutate(ctx context.Context, caseID string, fn repository.CaseMutation) (*domain.Case, error) {
	unlock, err := s.locker.Lock(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("lock case %s: %w", caseID, err)
	}
	defer unlock()

	updated, err := s.cases.Mutate(ctx, caseID, fn)
	if err != nil {
		return nil, caseNotFound(caseID, err)
	}
	return updated, nil
}

func (s *CaseService) ensureAssignable(ctx context.Context, assigneeID string) error {
	if s.staff == nil {
		return nil
	}
	staff, err := s.staff.GetByID(ctx, assigneeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NewNotFound("staff member", map[string]any{"assignee_id": assigneeID})
		}
		return err
	}
	if !staff.Active {
		return apperrors.Wrap(ErrAssigneeInactive, "VALIDATION_FAILED", ErrAssigneeInactive.Error(), http.StatusBadRequest,
			map[string]any{"assignee_id": assigneeID})
	}
	return nil
}

func (s *CaseService) publishStatusChange(ctx context.Context, caseID string, from, to domain.CaseStatus) {
	s.publishEvent(ctx, events.Event{
		Type:   events.EventCaseStatusChanged,
		CaseID: caseID,
		Payload: events.CaseStatusChangedPayload{
			OldStatus: from,
			NewStatus: to,
		},
	})
}

func (s *CaseService) publishEvent(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	event.Source = events.SourceCases
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	s.dispatcher.Publish(ctx, event)
}
