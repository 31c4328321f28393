package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/safedesk/safety-orchestrator/internal/domain"
	"github.com/safedesk/safety-orchestrator/internal/policy"
	"github.com/safedesk/safety-orchestrator/internal/service"
)

// State is a node of the routing state machine.
type State string

const (
	StateIngested       State = "INGESTED"
	StateClassified     State = "CLASSIFIED"
	StateRoutedCoach    State = "ROUTED_COACH"
	StateRoutedHuman    State = "ROUTED_HUMAN"
	StateRoutedResource State = "ROUTED_RESOURCE"
	StateCompleted      State = "COMPLETED"
	StateFailed         State = "FAILED"
)

// Variant is the closed set of routing targets.
type Variant int

const (
	VariantCoach Variant = iota + 1
	VariantHuman
	VariantResource
)

// VariantFor maps a next step onto its variant. Anything unknown escalates.
func VariantFor(step domain.NextStep) Variant {
	switch step {
	case domain.NextStepCoach:
		return VariantCoach
	case domain.NextStepResource:
		return VariantResource
	default:
		return VariantHuman
	}
}

func (v Variant) String() string {
	switch v {
	case VariantCoach:
		return string(domain.NextStepCoach)
	case VariantResource:
		return string(domain.NextStepResource)
	default:
		return string(domain.NextStepHuman)
	}
}

// State returns the ROUTED_* node for v.
func (v Variant) State() State {
	switch v {
	case VariantCoach:
		return StateRoutedCoach
	case VariantResource:
		return StateRoutedResource
	default:
		return StateRoutedHuman
	}
}

// RouteContext is what a handler knows about the request besides the verdict.
type RouteContext struct {
	ExecutionID string
	SessionID   string
	UserHash    string
	Summary     string
	Meta        map[string]string
	Experiment  *policy.ExperimentTag
}

// Resource is a static self-help item.
type Resource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Outcome is what a handler produced.
type Outcome struct {
	Variant   Variant
	CaseID    string
	HandoffID string
	Resources []Resource
}

// Handler serves one variant.
type Handler interface {
	Handle(ctx context.Context, cls domain.RiskClassification, rc RouteContext) (Outcome, error)
}

// CaseCreator opens safety-desk cases.
type CaseCreator interface {
	CreateCase(ctx context.Context, input service.CreateCaseInput) (*domain.Case, error)
}

// CoachHandoff passes a conversation to the self-serve coaching flow and
// returns its reference.
type CoachHandoff interface {
	Handoff(ctx context.Context, rc RouteContext, cls domain.RiskClassification) (string, error)
}

// ResourceLookup finds static resources for an intent and risk level.
type ResourceLookup interface {
	Lookup(ctx context.Context, intent string, level domain.RiskLevel) ([]Resource, error)
}

type humanHandler struct {
	cases CaseCreator
}

// Handle creates the case only once the routing decision is final. A
// cancelled request creates nothing.
func (h humanHandler) Handle(ctx context.Context, cls domain.RiskClassification, rc RouteContext) (Outcome, error) {
	if h.cases == nil {
		return Outcome{}, errNoCaseManager
	}
	if err := ctx.Err(); err != nil {
		return Outcome{}, fmt.Errorf("escalation abandoned: %w", err)
	}
	c, err := h.cases.CreateCase(ctx, service.CreateCaseInput{
		UserHash:        rc.UserHash,
		SessionID:       rc.SessionID,
		ExecutionID:     rc.ExecutionID,
		Severity:        domain.SeverityForRisk(cls.RiskLevel),
		SummaryRedacted: rc.Summary,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("create case: %w", err)
	}
	return Outcome{Variant: VariantHuman, CaseID: c.ID}, nil
}

type coachHandler struct {
	coach CoachHandoff
}

func (h coachHandler) Handle(ctx context.Context, cls domain.RiskClassification, rc RouteContext) (Outcome, error) {
	ref, err := h.coach.Handoff(ctx, rc, cls)
	if err != nil {
		return Outcome{}, fmt.Errorf("coach handoff: %w", err)
	}
	return Outcome{Variant: VariantCoach, HandoffID: ref}, nil
}

type resourceHandler struct {
	lookup ResourceLookup
}

var (
	errNoResources   = errors.New("no resources found")
	errNoCaseManager = errors.New("no case manager configured")
)

func (h resourceHandler) Handle(ctx context.Context, cls domain.RiskClassification, _ RouteContext) (Outcome, error) {
	resources, err := h.lookup.Lookup(ctx, cls.Intent, cls.RiskLevel)
	if err != nil {
		return Outcome{}, fmt.Errorf("resource lookup: %w", err)
	}
	if len(resources) == 0 {
		return Outcome{}, errNoResources
	}
	return Outcome{Variant: VariantResource, Resources: resources}, nil
}
