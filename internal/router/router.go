// Package router runs the safety orchestration state machine:
// INGESTED → CLASSIFIED → ROUTED_{COACH,HUMAN,RESOURCE} → COMPLETED, with
// FAILED reachable from any step.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/safedesk/safety-orchestrator/internal/classifier"
	"github.com/safedesk/safety-orchestrator/internal/domain"
	"github.com/safedesk/safety-orchestrator/internal/events"
	"github.com/safedesk/safety-orchestrator/internal/policy"
	"github.com/safedesk/safety-orchestrator/internal/tracker"
)

// ErrRoutingFailed is returned when the selected handler failed. The
// accompanying Result still carries the fallback output, if any.
var ErrRoutingFailed = errors.New("routing failed")

const (
	metaUserID     = "user_id"
	metaExperiment = "experiment"

	summaryMaxRunes = 280
	fallbackTimeout = 2 * time.Second
)

// Classifier is the risk classifier adapter.
type Classifier interface {
	Classify(ctx context.Context, sessionID, text string, meta map[string]string) (domain.RiskClassification, error)
}

// Recorder receives routing metrics.
type Recorder interface {
	RecordRoute(variant string, overridden, failClosed bool)
	RecordRoutingFailure(variant string, fallback bool)
}

// Result is the outcome of one invocation. EscalationFailed is set when the
// human handler failed, so no case reached the safety desk even if fallback
// resources were returned.
type Result struct {
	ExecutionID      string
	Classification   domain.RiskClassification
	Overridden       bool
	Outcome          Outcome
	Fallback         bool
	EscalationFailed bool
}

// Dependencies bundles router collaborators.
type Dependencies struct {
	Classifier    Classifier
	Cases         CaseCreator
	Coach         CoachHandoff
	Resources     ResourceLookup
	Tracker       *tracker.Tracker
	Dispatcher    events.Dispatcher
	Policy        *policy.Engine
	Pseudonymizer *Pseudonymizer
	Metrics       Recorder
	Logger        *zap.Logger
}

// Router is the orchestration state machine.
type Router struct {
	classifier    Classifier
	human         Handler
	coach         Handler
	resource      Handler
	fallback      ResourceLookup
	tracker       *tracker.Tracker
	dispatcher    events.Dispatcher
	policy        *policy.Engine
	pseudonymizer *Pseudonymizer
	metrics       Recorder
	logger        *zap.Logger
}

// New builds a router. Missing coach and resource collaborators default to
// LoggingCoach and StaticCatalog, a missing classifier fails every request
// closed, and the tracker defaults to tracker.Default().
func New(deps Dependencies) *Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	coach := deps.Coach
	if coach == nil {
		coach = NewLoggingCoach(logger)
	}
	catalog := NewStaticCatalog()
	resources := deps.Resources
	if resources == nil {
		resources = catalog
	}
	tr := deps.Tracker
	if tr == nil {
		tr = tracker.Default()
	}
	engine := deps.Policy
	if engine == nil {
		engine = policy.NewEngine()
	}
	cls := deps.Classifier
	if cls == nil {
		cls = classifier.NewAdapter(classifier.Unavailable{}, classifier.DefaultPolicy(), logger)
	}
	pseudo := deps.Pseudonymizer
	if pseudo == nil {
		pseudo = NewPseudonymizer("")
	}
	return &Router{
		classifier:    cls,
		human:         humanHandler{cases: deps.Cases},
		coach:         coachHandler{coach: coach},
		resource:      resourceHandler{lookup: resources},
		fallback:      catalog,
		tracker:       tr,
		dispatcher:    deps.Dispatcher,
		policy:        engine,
		pseudonymizer: pseudo,
		metrics:       deps.Metrics,
		logger:        logger.Named("router"),
	}
}

// Route classifies req and dispatches it to exactly one handler. Empty text
// is rejected before any state is entered. On handler failure the run ends
// in FAILED and Route returns the fallback Result together with
// ErrRoutingFailed.
func (r *Router) Route(ctx context.Context, req domain.ClassificationRequest) (*Result, error) {
	if strings.TrimSpace(req.Text()) == "" {
		return nil, classifier.ValidationError(classifier.ErrEmptyText)
	}

	run := r.tracker.Start(ctx, req.SessionID())
	result := &Result{ExecutionID: run.ID()}

	run.Enter(ctx, string(StateIngested))
	run.Complete(ctx, "accepted")

	run.Enter(ctx, string(StateClassified))
	cls, err := r.classifier.Classify(ctx, req.SessionID(), req.Text(), req.Meta())
	if err != nil {
		// The adapter only errors on invalid input, which was checked above.
		cls = domain.FailClosed("classifier rejected request: " + err.Error())
		run.Fail(err)
	}
	cls, overridden := enforceEscalation(cls)
	result.Classification = cls
	result.Overridden = overridden
	run.Complete(ctx, fmt.Sprintf("risk=%d next=%s", cls.RiskLevel, cls.NextStep))

	r.publish(ctx, events.EventRiskClassified, "", events.RiskClassifiedPayload{
		ExecutionID: run.ID(),
		SessionID:   req.SessionID(),
		RiskLevel:   cls.RiskLevel,
		Intent:      cls.Intent,
		NextStep:    cls.NextStep,
		Handoff:     cls.Handoff,
		FailClosed:  cls.FailedClosed,
		Overridden:  overridden,
	})
	if cls.FailedClosed {
		r.logger.Warn("classification failed closed",
			zap.String("execution_id", run.ID()),
			zap.String("notes", cls.DiagnosticNotes))
	}

	rc := RouteContext{
		ExecutionID: run.ID(),
		SessionID:   req.SessionID(),
		UserHash:    r.userHash(req),
		Summary:     policy.Summarize(req.Text(), summaryMaxRunes),
		Meta:        req.Meta(),
	}
	r.applyExperiment(ctx, run, req, cls, &rc)

	variant := VariantFor(cls.NextStep)
	run.Enter(ctx, string(variant.State()))
	outcome, err := r.handlerFor(variant).Handle(ctx, cls, rc)
	if err != nil {
		return r.fail(ctx, run, result, variant, cls, rc.SessionID, err)
	}
	run.Complete(ctx, "handled")
	result.Outcome = outcome

	run.Enter(ctx, string(StateCompleted))
	r.publish(ctx, events.EventRoutingCompleted, outcome.CaseID, events.RoutingCompletedPayload{
		ExecutionID: run.ID(),
		SessionID:   req.SessionID(),
		Variant:     cls.NextStep,
	})
	run.Finish(ctx, domain.ExecutionSucceeded)
	if r.metrics != nil {
		r.metrics.RecordRoute(variant.String(), overridden, cls.FailedClosed)
	}
	return result, nil
}

// enforceEscalation applies the router's own rule: imminent risk always goes
// to a human, and a human route always hands off.
func enforceEscalation(cls domain.RiskClassification) (domain.RiskClassification, bool) {
	overridden := false
	if cls.RiskLevel.IsCrisis() && cls.NextStep != domain.NextStepHuman {
		cls.NextStep = domain.NextStepHuman
		overridden = true
	}
	if !cls.NextStep.Valid() {
		cls.NextStep = domain.NextStepHuman
		overridden = true
	}
	if cls.NextStep == domain.NextStepHuman && !cls.Handoff {
		cls.Handoff = true
		overridden = true
	}
	return cls, overridden
}

func (r *Router) handlerFor(v Variant) Handler {
	switch v {
	case VariantCoach:
		return r.coach
	case VariantResource:
		return r.resource
	default:
		return r.human
	}
}

// applyExperiment keeps an experiment tag only when policy allows it on this
// flow. A rejected tag is stripped and reported; routing continues.
func (r *Router) applyExperiment(ctx context.Context, run *tracker.Run, req domain.ClassificationRequest, cls domain.RiskClassification, rc *RouteContext) {
	name := strings.TrimSpace(req.MetaValue(metaExperiment))
	if name == "" {
		return
	}
	tag := policy.ExperimentTag{
		Name:       name,
		CrisisFlow: cls.RiskLevel.IsCrisis() || cls.NextStep == domain.NextStepHuman,
	}
	if err := r.policy.EnsureNoCrisisExperiments(tag); err != nil {
		delete(rc.Meta, metaExperiment)
		run.Fail(err)
		r.logger.Warn("experiment stripped from crisis flow",
			zap.String("execution_id", rc.ExecutionID),
			zap.String("experiment", name))
		r.publish(ctx, events.EventAgentError, "", events.AgentErrorPayload{
			ExecutionID: rc.ExecutionID,
			SessionID:   rc.SessionID,
			Stage:       "policy",
			Error:       err.Error(),
		})
		return
	}
	rc.Experiment = &tag
}

// fail moves the run to FAILED, raises the alarm and tries the resource-only
// fallback so the caller still gets something useful.
func (r *Router) fail(ctx context.Context, run *tracker.Run, result *Result, variant Variant, cls domain.RiskClassification, sessionID string, cause error) (*Result, error) {
	run.Complete(ctx, "error")
	run.Fail(cause)
	run.Enter(ctx, string(StateFailed))
	result.EscalationFailed = variant == VariantHuman

	r.logger.Error("routing handler failed",
		zap.String("execution_id", run.ID()),
		zap.String("variant", variant.String()),
		zap.Int("risk_level", int(cls.RiskLevel)),
		zap.Error(cause))
	r.publish(ctx, events.EventAgentError, "", events.AgentErrorPayload{
		ExecutionID: run.ID(),
		SessionID:   sessionID,
		Stage:       string(variant.State()),
		Error:       cause.Error(),
	})

	fbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fallbackTimeout)
	defer cancel()
	resources, err := r.fallback.Lookup(fbCtx, cls.Intent, cls.RiskLevel)
	switch {
	case err != nil:
		run.Fail(fmt.Errorf("fallback: %w", err))
		run.Complete(ctx, "fallback unavailable")
	case len(resources) > 0:
		result.Fallback = true
		result.Outcome = Outcome{Variant: VariantResource, Resources: resources}
		run.Complete(ctx, fmt.Sprintf("fallback resources=%d", len(resources)))
		r.publish(ctx, events.EventRoutingCompleted, "", events.RoutingCompletedPayload{
			ExecutionID: run.ID(),
			SessionID:   sessionID,
			Variant:     domain.NextStepResource,
			Fallback:    true,
		})
	default:
		run.Complete(ctx, "fallback empty")
	}
	run.Finish(ctx, domain.ExecutionFailed)

	if r.metrics != nil {
		r.metrics.RecordRoutingFailure(variant.String(), result.Fallback)
	}
	return result, fmt.Errorf("%w: %s handler: %w", ErrRoutingFailed, variant, cause)
}

func (r *Router) userHash(req domain.ClassificationRequest) string {
	id := strings.TrimSpace(req.MetaValue(metaUserID))
	if id == "" {
		id = "session:" + req.SessionID()
	}
	return r.pseudonymizer.Hash(id)
}

func (r *Router) publish(ctx context.Context, eventType events.EventType, caseID string, payload any) {
	if r.dispatcher == nil {
		return
	}
	r.dispatcher.Publish(ctx, events.Event{
		Type:    eventType,
		Source:  events.SourceRouter,
		CaseID:  caseID,
		Payload: payload,
	})
}
