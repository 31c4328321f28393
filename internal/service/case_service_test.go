package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/safedesk/safety-orchestrator/internal/domain"
	"github.com/safedesk/safety-orchestrator/internal/events"
	"github.com/safedesk/safety-orchestrator/internal/repository"
	apperrors "github.com/safedesk/safety-orchestrator/pkg/util/errorutil"
)

type fixture struct {
	svc    *CaseService
	repo   repository.CaseRepository
	staff  repository.StaffRepository
	bus    *events.Bus
	clock  *fakeClock
	events []events.Event
	mu     sync.Mutex
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:  repository.NewMemoryCaseRepository(),
		staff: repository.NewMemoryStaffRepository(),
		bus:   events.NewBus(nil),
		clock: &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	f.bus.SubscribeAll(func(_ context.Context, e events.Event) error {
		f.mu.Lock()
		f.events = append(f.events, e)
		f.mu.Unlock()
		return nil
	})
	f.svc = NewCaseService(CaseDependencies{
		CaseRepo:   f.repo,
		StaffRepo:  f.staff,
		Dispatcher: f.bus,
		Clock:      f.clock.Now,
	})
	return f
}

func (f *fixture) eventTypes() []events.EventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.EventType, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.Type)
	}
	return out
}

func (f *fixture) addStaff(t *testing.T, active bool) string {
	t.Helper()
	member := &domain.StaffMember{
		Name:   "Agent",
		Email:  uuid.NewString() + "@desk.example",
		Role:   domain.StaffRoleAgent,
		Active: active,
	}
	if err := f.staff.Create(context.Background(), member); err != nil {
		t.Fatal(err)
	}
	return member.ID
}

func (f *fixture) create(t *testing.T, severity domain.CaseSeverity) *domain.Case {
	t.Helper()
	c, err := f.svc.CreateCase(context.Background(), CreateCaseInput{
		UserHash:  "hash",
		SessionID: "session",
		Severity:  severity,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return c
}

func TestComputeSLADeadlineIsPure(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	want := time.Date(2025, 1, 1, 0, 30, 0, 0, time.UTC)
	first := ComputeSLADeadline(start, 30)
	second := ComputeSLADeadline(start, 30)
	if !first.Equal(want) || !second.Equal(first) {
		t.Fatalf("deadline = %v, %v; want %v", first, second, want)
	}
}

func TestCreateCaseSetsDeadlineAndPublishes(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, domain.SeverityCritical)

	if c.Status != domain.CaseStatusNew {
		t.Fatalf("status = %s", c.Status)
	}
	want := f.clock.Now().Add(15 * time.Minute)
	if !c.SLABreachAt.Equal(want) {
		t.Fatalf("sla_breach_at = %v, want %v", c.SLABreachAt, want)
	}
	types := f.eventTypes()
	if len(types) != 1 || types[0] != events.EventCaseCreated {
		t.Fatalf("events = %v", types)
	}
}

func TestCreateCaseValidates(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateCase(context.Background(), CreateCaseInput{UserHash: "h", SessionID: "s", Severity: "urgent"})
	var de *apperrors.DomainError
	if !errors.As(err, &de) || de.HTTPStatus != 400 {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCloseTwiceIsDoubleClose(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, domain.SeverityCritical)

	closed, err := f.svc.CloseCase(context.Background(), c.ID, "resolved")
	if err != nil {
		t.Fatalf("first close: %v", err)
	}
	if closed.Status != domain.CaseStatusClosed || closed.ClosedAt == nil || closed.CloseReason != "resolved" {
		t.Fatalf("unexpected closed case %+v", closed)
	}

	_, err = f.svc.CloseCase(context.Background(), c.ID, "again")
	if !errors.Is(err, ErrDoubleClose) {
		t.Fatalf("expected ErrDoubleClose, got %v", err)
	}
	var de *apperrors.DomainError
	if !errors.As(err, &de) || de.Code != "DOUBLE_CLOSE" || de.HTTPStatus != 409 {
		t.Fatalf("expected 409 DOUBLE_CLOSE, got %v", err)
	}
}

func TestUnknownCaseIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	staffID := f.addStaff(t, true)

	checks := map[string]error{}
	_, checks["get"] = f.svc.GetCase(ctx, "missing")
	_, checks["assign"] = f.svc.AssignCase(ctx, "missing", staffID)
	_, checks["close"] = f.svc.CloseCase(ctx, "missing", "x")
	for op, err := range checks {
		if !errors.Is(err, ErrCaseNotFound) {
			t.Errorf("%s: expected ErrCaseNotFound, got %v", op, err)
		}
	}
}

func TestListCasesFiltersAndOrders(t *testing.T) {
	f := newFixture(t)
	low := f.create(t, domain.SeverityLow)
	f.clock.Advance(time.Second)
	critical := f.create(t, domain.SeverityCritical)
	f.clock.Advance(time.Second)
	high := f.create(t, domain.SeverityHigh)
	f.clock.Advance(time.Second)
	closed := f.create(t, domain.SeverityCritical)
	if _, err := f.svc.CloseCase(context.Background(), closed.ID, "dup"); err != nil {
		t.Fatal(err)
	}

	status := domain.CaseStatusNew
	got, err := f.svc.ListCases(context.Background(), CaseListFilter{Status: &status})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{critical.ID, high.ID, low.ID}
	if len(got) != len(want) {
		t.Fatalf("got %d cases, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ID != want[i] || got[i].Status != domain.CaseStatusNew {
			t.Fatalf("position %d: got %s (%s)", i, got[i].ID, got[i].Severity)
		}
		if i > 0 && got[i].SLABreachAt.Before(got[i-1].SLABreachAt) {
			t.Fatal("cases not ordered by sla_breach_at")
		}
	}

	bad := domain.CaseStatus("archived")
	if _, err := f.svc.ListCases(context.Background(), CaseListFilter{Status: &bad}); err == nil {
		t.Fatal("expected validation error for unknown status")
	}
}

func TestAssignCaseTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.addStaff(t, true)
	second := f.addStaff(t, true)
	c := f.create(t, domain.SeverityHigh)

	assigned, err := f.svc.AssignCase(ctx, c.ID, first)
	if err != nil {
		t.Fatal(err)
	}
	if assigned.Status != domain.CaseStatusInProgress || *assigned.AssignedTo != first {
		t.Fatalf("unexpected case after assign %+v", assigned)
	}

	if _, err := f.svc.UpdateStatus(ctx, c.ID, domain.CaseStatusWaiting); err != nil {
		t.Fatal(err)
	}
	reassigned, err := f.svc.AssignCase(ctx, c.ID, second)
	if err != nil {
		t.Fatal(err)
	}
	if reassigned.Status != domain.CaseStatusInProgress || *reassigned.AssignedTo != second {
		t.Fatalf("waiting case should resume on assign: %+v", reassigned)
	}

	if _, err := f.svc.CloseCase(ctx, c.ID, "done"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.AssignCase(ctx, c.ID, first); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("assigning a closed case: expected ErrInvalidTransition, got %v", err)
	}
}

func TestAssignRejectsUnknownOrInactiveStaff(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, domain.SeverityLow)
	inactive := f.addStaff(t, false)

	if _, err := f.svc.AssignCase(context.Background(), c.ID, inactive); !errors.Is(err, ErrAssigneeInactive) {
		t.Fatalf("expected ErrAssigneeInactive, got %v", err)
	}
	var de *apperrors.DomainError
	_, err := f.svc.AssignCase(context.Background(), c.ID, "ghost")
	if !errors.As(err, &de) || de.HTTPStatus != 404 {
		t.Fatalf("expected 404 for unknown staff, got %v", err)
	}
	if _, err := f.svc.AssignCase(context.Background(), c.ID, " "); err == nil {
		t.Fatal("expected validation error for blank assignee")
	}
}

func TestUpdateStatusEnforcesTable(t *testing.T) {
	tests := []struct {
		name  string
		setup []domain.CaseStatus
		to    domain.CaseStatus
		ok    bool
	}{
		{"new to waiting", nil, domain.CaseStatusWaiting, false},
		{"new to in_progress", nil, domain.CaseStatusInProgress, true},
		{"in_progress to waiting", []domain.CaseStatus{domain.CaseStatusInProgress}, domain.CaseStatusWaiting, true},
		{"waiting to in_progress", []domain.CaseStatus{domain.CaseStatusInProgress, domain.CaseStatusWaiting}, domain.CaseStatusInProgress, true},
		{"in_progress to new", []domain.CaseStatus{domain.CaseStatusInProgress}, domain.CaseStatusNew, false},
		{"waiting to waiting", []domain.CaseStatus{domain.CaseStatusInProgress, domain.CaseStatusWaiting}, domain.CaseStatusWaiting, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.create(t, domain.SeverityMedium)
			for _, step := range tt.setup {
				if _, err := f.svc.UpdateStatus(context.Background(), c.ID, step); err != nil {
					t.Fatalf("setup %s: %v", step, err)
				}
			}
			_, err := f.svc.UpdateStatus(context.Background(), c.ID, tt.to)
			if tt.ok && err != nil {
				t.Fatalf("expected success, got %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("expected ErrInvalidTransition, got %v", err)
			}
		})
	}
}

func TestUpdateStatusRefusesClose(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, domain.SeverityMedium)
	if _, err := f.svc.UpdateStatus(context.Background(), c.ID, domain.CaseStatusClosed); err == nil {
		t.Fatal("closing must go through CloseCase")
	}
}

func TestConcurrentAssignAndCloseAreSerialized(t *testing.T) {
	f := newFixture(t)
	staffID := f.addStaff(t, true)
	c := f.create(t, domain.SeverityHigh)

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	closes := 0
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = f.svc.AssignCase(context.Background(), c.ID, staffID)
		}()
		go func() {
			defer wg.Done()
			if _, err := f.svc.CloseCase(context.Background(), c.ID, "race"); err == nil {
				mu.Lock()
				closes++
				mu.Unlock()
			} else if !errors.Is(err, ErrDoubleClose) {
				t.Errorf("unexpected close error: %v", err)
			}
		}()
	}
	wg.Wait()

	if closes != 1 {
		t.Fatalf("exactly one close should win, got %d", closes)
	}
	final, _ := f.svc.GetCase(context.Background(), c.ID)
	if final.Status != domain.CaseStatusClosed {
		t.Fatalf("final status = %s", final.Status)
	}
}

func TestSweepBreachesNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	critical := f.create(t, domain.SeverityCritical)
	f.create(t, domain.SeverityLow)
	closed := f.create(t, domain.SeverityCritical)
	if _, err := f.svc.CloseCase(context.Background(), closed.ID, "handled"); err != nil {
		t.Fatal(err)
	}

	f.clock.Advance(16 * time.Minute)
	n, err := f.svc.SweepBreaches(context.Background(), f.clock.Now())
	if err != nil || n != 1 {
		t.Fatalf("first sweep = %d, %v", n, err)
	}
	n, err = f.svc.SweepBreaches(context.Background(), f.clock.Now().Add(time.Hour))
	if err != nil || n != 0 {
		t.Fatalf("second sweep = %d, %v; breach must fire once", n, err)
	}

	var breached []string
	f.mu.Lock()
	for _, e := range f.events {
		if e.Type == events.EventCaseSLABreached {
			breached = append(breached, e.CaseID)
		}
	}
	f.mu.Unlock()
	if len(breached) != 1 || breached[0] != critical.ID {
		t.Fatalf("breach events = %v", breached)
	}

	got, _ := f.svc.GetCase(context.Background(), critical.ID)
	if !got.BreachNotified() {
		t.Fatal("breach flag not stored")
	}
	if !got.SLABreachAt.Equal(critical.SLABreachAt) {
		t.Fatal("sla_breach_at must not be recomputed")
	}
}

func TestSLAPolicyMinutes(t *testing.T) {
	p := SLAPolicy{domain.SeverityHigh: 60, domain.SeverityCritical: 15}
	if p.Minutes(domain.SeverityHigh) != 60 {
		t.Fatal("configured severity should use its window")
	}
	if p.Minutes(domain.SeverityLow) != 15 {
		t.Fatal("unconfigured severity should use the tightest window")
	}
}

func TestKeyedLockerHonoursContext(t *testing.T) {
	l := NewKeyedLocker()
	unlock, err := l.Lock(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := l.Lock(ctx, "c1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	unlock()
	unlock()

	again, err := l.Lock(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	again()
	if len(l.locks) != 0 {
		t.Fatalf("lock entries leaked: %d", len(l.locks))
	}
}
