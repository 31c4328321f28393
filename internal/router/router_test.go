package router

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/safedesk/safety-orchestrator/internal/classifier"
	"github.com/safedesk/safety-orchestrator/internal/domain"
	"github.com/safedesk/safety-orchestrator/internal/events"
	"github.com/safedesk/safety-orchestrator/internal/observability"
	"github.com/safedesk/safety-orchestrator/internal/repository"
	"github.com/safedesk/safety-orchestrator/internal/service"
	"github.com/safedesk/safety-orchestrator/internal/tracker"
)

type classifierFunc func(ctx context.Context, sessionID, text string, meta map[string]string) (domain.RiskClassification, error)

func (f classifierFunc) Classify(ctx context.Context, sessionID, text string, meta map[string]string) (domain.RiskClassification, error) {
	return f(ctx, sessionID, text, meta)
}

func fixed(cls domain.RiskClassification) Classifier {
	return classifierFunc(func(context.Context, string, string, map[string]string) (domain.RiskClassification, error) {
		return cls, nil
	})
}

type coachFunc func(ctx context.Context, rc RouteContext, cls domain.RiskClassification) (string, error)

func (f coachFunc) Handoff(ctx context.Context, rc RouteContext, cls domain.RiskClassification) (string, error) {
	return f(ctx, rc, cls)
}

type harness struct {
	bus     *events.Bus
	cases   *service.CaseService
	repo    repository.CaseRepository
	tracker *tracker.Tracker
	metrics *observability.Metrics

	mu     sync.Mutex
	events []events.Event
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		bus:     events.NewBus(nil),
		repo:    repository.NewMemoryCaseRepository(),
		metrics: observability.NewMetrics(),
	}
	h.bus.SubscribeAll(func(_ context.Context, e events.Event) error {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
		return nil
	})
	h.cases = service.NewCaseService(service.CaseDependencies{CaseRepo: h.repo, Dispatcher: h.bus})
	h.tracker = tracker.New(nil, h.bus, nil)
	return h
}

func (h *harness) router(cls Classifier, coach CoachHandoff) *Router {
	return New(Dependencies{
		Classifier:    cls,
		Cases:         h.cases,
		Coach:         coach,
		Tracker:       h.tracker,
		Dispatcher:    h.bus,
		Pseudonymizer: NewPseudonymizer("test-key"),
		Metrics:       h.metrics,
		Logger:        zap.NewNop(),
	})
}

func (h *harness) count(eventType events.EventType) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.events {
		if e.Type == eventType {
			n++
		}
	}
	return n
}

func (h *harness) allCases(t *testing.T) []domain.Case {
	t.Helper()
	cases, err := h.repo.ListWithFilter(context.Background(), repository.CaseFilter{})
	if err != nil {
		t.Fatal(err)
	}
	return cases
}

func request(text string, meta map[string]string) domain.ClassificationRequest {
	return domain.NewClassificationRequest("session-1", text, meta)
}

func TestImminentRiskAlwaysEscalates(t *testing.T) {
	steps := []domain.NextStep{domain.NextStepCoach, domain.NextStepResource, domain.NextStepHuman, "bogus"}
	intents := []string{"", "venting", "self_harm", "smalltalk"}
	for _, step := range steps {
		for _, intent := range intents {
			for _, handoff := range []bool{false, true} {
				h := newHarness(t)
				r := h.router(fixed(domain.RiskClassification{
					RiskLevel: domain.RiskImminent,
					Intent:    intent,
					NextStep:  step,
					Handoff:   handoff,
				}), nil)

				res, err := r.Route(context.Background(), request("I can't go on", nil))
				if err != nil {
					t.Fatalf("step=%s intent=%q: %v", step, intent, err)
				}
				if res.Classification.NextStep != domain.NextStepHuman || !res.Classification.Handoff {
					t.Fatalf("step=%s intent=%q: got %+v", step, intent, res.Classification)
				}
				cases := h.allCases(t)
				if len(cases) != 1 || cases[0].Severity != domain.SeverityCritical {
					t.Fatalf("expected one critical case, got %+v", cases)
				}
				if cases[0].ExecutionID != res.ExecutionID || res.Outcome.CaseID != cases[0].ID {
					t.Fatal("case must carry the execution id")
				}
			}
		}
	}
}

func TestClassifierTimeoutEscalatesToHuman(t *testing.T) {
	h := newHarness(t)
	slow := classifier.CapabilityFunc(func(ctx context.Context, _ classifier.CapabilityRequest) (classifier.CapabilityResult, error) {
		<-ctx.Done()
		return classifier.CapabilityResult{}, ctx.Err()
	})
	adapter := classifier.NewAdapter(slow, classifier.Policy{Attempts: 2, Timeout: 20 * time.Millisecond}, nil)
	r := h.router(adapter, nil)

	res, err := r.Route(context.Background(), request("hello?", nil))
	if err != nil {
		t.Fatal(err)
	}
	cls := res.Classification
	if cls.RiskLevel != domain.RiskElevated || cls.NextStep != domain.NextStepHuman || !cls.Handoff {
		t.Fatalf("expected fail-closed escalation, got %+v", cls)
	}
	cases := h.allCases(t)
	if len(cases) != 1 || cases[0].Severity != domain.SeverityHigh {
		t.Fatalf("expected one high case, got %+v", cases)
	}
	if h.metrics.Snapshot().FailClosed != 1 {
		t.Fatal("fail-closed not counted")
	}
}

func TestRiskOnlyVerdictRoutesByLevel(t *testing.T) {
	tests := []struct {
		level int
		want  domain.NextStep
		cases int
	}{
		{0, domain.NextStepResource, 0},
		{1, domain.NextStepCoach, 0},
		{2, domain.NextStepHuman, 1},
	}
	for _, tt := range tests {
		h := newHarness(t)
		capability := classifier.CapabilityFunc(func(context.Context, classifier.CapabilityRequest) (classifier.CapabilityResult, error) {
			return classifier.CapabilityResult{RiskLevel: classifier.Level(tt.level), Intent: "greeting"}, nil
		})
		adapter := classifier.NewAdapter(capability, classifier.Policy{Attempts: 1, Timeout: time.Second}, nil)
		r := h.router(adapter, nil)

		res, err := r.Route(context.Background(), request("hi there", nil))
		if err != nil {
			t.Fatalf("level %d: %v", tt.level, err)
		}
		if res.Classification.NextStep != tt.want {
			t.Fatalf("level %d: routed to %s, want %s", tt.level, res.Classification.NextStep, tt.want)
		}
		if got := len(h.allCases(t)); got != tt.cases {
			t.Fatalf("level %d: %d cases opened, want %d", tt.level, got, tt.cases)
		}
	}
}

func TestVerdictWithoutRiskLevelEscalates(t *testing.T) {
	h := newHarness(t)
	capability := classifier.CapabilityFunc(func(context.Context, classifier.CapabilityRequest) (classifier.CapabilityResult, error) {
		return classifier.CapabilityResult{Intent: "suicidal ideation", NextStep: "coach"}, nil
	})
	adapter := classifier.NewAdapter(capability, classifier.Policy{Attempts: 1, Timeout: time.Second}, nil)
	r := h.router(adapter, nil)

	res, err := r.Route(context.Background(), request("I don't want to be here anymore", nil))
	if err != nil {
		t.Fatal(err)
	}
	cls := res.Classification
	if cls.NextStep != domain.NextStepHuman || !cls.Handoff || !cls.FailedClosed {
		t.Fatalf("expected fail-closed escalation, got %+v", cls)
	}
	if len(h.allCases(t)) != 1 {
		t.Fatal("expected a safety-desk case")
	}
}

func TestEmptyTextRejectedBeforeIngest(t *testing.T) {
	h := newHarness(t)
	r := h.router(fixed(domain.RiskClassification{NextStep: domain.NextStepCoach}), nil)

	res, err := r.Route(context.Background(), request("   ", nil))
	if res != nil || !errors.Is(err, classifier.ErrEmptyText) {
		t.Fatalf("expected validation error, got %v, %v", res, err)
	}
	if h.count(events.EventExecutionStep) != 0 || h.count(events.EventRiskClassified) != 0 {
		t.Fatal("rejected input must not enter the state machine")
	}
}

func TestCoachRouteRecordsPath(t *testing.T) {
	h := newHarness(t)
	r := h.router(fixed(domain.RiskClassification{RiskLevel: domain.RiskLow, Intent: "stress", NextStep: domain.NextStepCoach}), nil)
	ctx := context.Background()

	res, err := r.Route(ctx, request("work is a lot", nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome.Variant != VariantCoach || res.Outcome.HandoffID == "" || res.Classification.Handoff {
		t.Fatalf("unexpected outcome %+v", res)
	}
	rec, err := h.tracker.Get(ctx, res.ExecutionID)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"INGESTED", "CLASSIFIED", "ROUTED_COACH", "COMPLETED"}
	path := rec.Path()
	if len(path) != len(want) {
		t.Fatalf("path = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("path = %v, want %v", path, want)
		}
	}
	if rec.Status != domain.ExecutionSucceeded {
		t.Fatalf("status = %s", rec.Status)
	}
	if h.count(events.EventRoutingCompleted) != 1 || len(h.allCases(t)) != 0 {
		t.Fatal("coach route should complete without a case")
	}
}

func TestResourceRouteReturnsCatalog(t *testing.T) {
	h := newHarness(t)
	r := h.router(fixed(domain.RiskClassification{Intent: "grief", NextStep: domain.NextStepResource}), nil)

	res, err := r.Route(context.Background(), request("my dog died", nil))
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome.Variant != VariantResource || len(res.Outcome.Resources) == 0 {
		t.Fatalf("unexpected outcome %+v", res.Outcome)
	}
	if res.Outcome.Resources[0].Title != "Coping with loss" {
		t.Fatalf("topic resource should lead, got %+v", res.Outcome.Resources)
	}
}

func TestHandlerFailureFallsBackToResources(t *testing.T) {
	h := newHarness(t)
	broken := coachFunc(func(context.Context, RouteContext, domain.RiskClassification) (string, error) {
		return "", errors.New("coach service down")
	})
	r := h.router(fixed(domain.RiskClassification{RiskLevel: domain.RiskLow, Intent: "anxiety", NextStep: domain.NextStepCoach}), broken)
	ctx := context.Background()

	res, err := r.Route(ctx, request("panic attacks", nil))
	if !errors.Is(err, ErrRoutingFailed) {
		t.Fatalf("expected ErrRoutingFailed, got %v", err)
	}
	if res == nil || !res.Fallback || len(res.Outcome.Resources) == 0 {
		t.Fatalf("expected fallback resources, got %+v", res)
	}
	if h.count(events.EventAgentError) != 1 {
		t.Fatal("failure must raise AGENT_ERROR")
	}

	rec, _ := h.tracker.Get(ctx, res.ExecutionID)
	path := rec.Path()
	if rec.Status != domain.ExecutionFailed || path[len(path)-1] != "FAILED" {
		t.Fatalf("expected FAILED terminal node, got %v (%s)", path, rec.Status)
	}
	if len(rec.Errors) == 0 {
		t.Fatal("failure cause not recorded")
	}
	if snap := h.metrics.Snapshot(); snap.RoutingFailures["coach"] != 1 || snap.Fallbacks != 1 {
		t.Fatalf("metrics = %+v", snap)
	}
}

func TestCancelledRequestCreatesNoCase(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancelling := classifierFunc(func(context.Context, string, string, map[string]string) (domain.RiskClassification, error) {
		cancel()
		return domain.RiskClassification{RiskLevel: domain.RiskImminent, NextStep: domain.NextStepHuman, Handoff: true}, nil
	})
	r := h.router(cancelling, nil)

	_, err := r.Route(ctx, request("goodbye", nil))
	if !errors.Is(err, ErrRoutingFailed) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled routing failure, got %v", err)
	}
	if cases := h.allCases(t); len(cases) != 0 {
		t.Fatalf("cancelled request left %d cases", len(cases))
	}
}

func TestCrisisExperimentIsStripped(t *testing.T) {
	h := newHarness(t)
	var seen *RouteContext
	r := New(Dependencies{
		Classifier: fixed(domain.RiskClassification{RiskLevel: domain.RiskImminent, NextStep: domain.NextStepHuman, Handoff: true}),
		Cases: caseCreatorFunc(func(ctx context.Context, in service.CreateCaseInput) (*domain.Case, error) {
			return h.cases.CreateCase(ctx, in)
		}),
		Tracker:    h.tracker,
		Dispatcher: h.bus,
	})
	r.human = recordingHandler{inner: r.human, seen: &seen}

	res, err := r.Route(context.Background(), request("crisis", map[string]string{"experiment": "tone-b"}))
	if err != nil {
		t.Fatal(err)
	}
	if seen == nil || seen.Experiment != nil || seen.Meta["experiment"] != "" {
		t.Fatalf("experiment tag reached the crisis handler: %+v", seen)
	}
	if h.count(events.EventAgentError) != 1 {
		t.Fatal("violation must be reported")
	}
	rec, _ := h.tracker.Get(context.Background(), res.ExecutionID)
	if len(rec.Errors) != 1 || rec.Status != domain.ExecutionSucceeded {
		t.Fatalf("violation should be recorded without failing the run: %+v", rec)
	}
}

func TestExperimentKeptOnNonCrisisFlow(t *testing.T) {
	h := newHarness(t)
	var got RouteContext
	coach := coachFunc(func(_ context.Context, rc RouteContext, _ domain.RiskClassification) (string, error) {
		got = rc
		return "ref", nil
	})
	r := h.router(fixed(domain.RiskClassification{RiskLevel: domain.RiskLow, NextStep: domain.NextStepCoach}), coach)

	if _, err := r.Route(context.Background(), request("meh", map[string]string{"experiment": "tone-b"})); err != nil {
		t.Fatal(err)
	}
	if got.Experiment == nil || got.Experiment.Name != "tone-b" {
		t.Fatalf("experiment should be kept, got %+v", got.Experiment)
	}
}

func TestSummaryAndUserHashArePrivate(t *testing.T) {
	h := newHarness(t)
	r := h.router(fixed(domain.RiskClassification{RiskLevel: domain.RiskElevated, NextStep: domain.NextStepHuman}), nil)

	_, err := r.Route(context.Background(), request("call me on +1 555 123 4567 or jo@example.com", map[string]string{"user_id": "u-42"}))
	if err != nil {
		t.Fatal(err)
	}
	c := h.allCases(t)[0]
	if c.UserHash == "u-42" || c.UserHash != NewPseudonymizer("test-key").Hash("u-42") {
		t.Fatalf("unexpected user hash %q", c.UserHash)
	}
	if c.SummaryRedacted != "call me on [phone] or [email]" {
		t.Fatalf("summary not redacted: %q", c.SummaryRedacted)
	}
}

func TestPseudonymizerIsKeyed(t *testing.T) {
	a := NewPseudonymizer("key-a")
	if a.Hash("user") != a.Hash("user") {
		t.Fatal("hash must be stable")
	}
	if a.Hash("user") == NewPseudonymizer("key-b").Hash("user") {
		t.Fatal("different keys must give different hashes")
	}
	long := NewPseudonymizer(string(make([]byte, 200)))
	if len(long.Hash("user")) != 64 {
		t.Fatal("oversized keys must still work")
	}
}

type caseCreatorFunc func(ctx context.Context, in service.CreateCaseInput) (*domain.Case, error)

func (f caseCreatorFunc) CreateCase(ctx context.Context, in service.CreateCaseInput) (*domain.Case, error) {
	return f(ctx, in)
}

type recordingHandler struct {
	inner Handler
	seen  **RouteContext
}

func (r recordingHandler) Handle(ctx context.Context, cls domain.RiskClassification, rc RouteContext) (Outcome, error) {
	copied := rc
	*r.seen = &copied
	return r.inner.Handle(ctx, cls, rc)
}
