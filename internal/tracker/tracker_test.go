package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/safedesk/safety-orchestrator/internal/domain"
	"github.com/safedesk/safety-orchestrator/internal/events"
	"github.com/safedesk/safety-orchestrator/internal/repository"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(10 * time.Millisecond)
	return c.now
}

func newTestTracker(t *testing.T) (*Tracker, *events.Bus, repository.ExecutionRepository) {
	t.Helper()
	bus := events.NewBus(nil)
	store := repository.NewMemoryExecutionRepository()
	clock := &stepClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	return New(store, bus, nil, WithClock(clock.Now)), bus, store
}

func TestRunRecordsPathInOrder(t *testing.T) {
	tr, _, store := newTestTracker(t)
	ctx := context.Background()

	run := tr.Start(ctx, "session-1")
	run.Enter(ctx, "INGESTED")
	run.Complete(ctx, "accepted")
	run.Enter(ctx, "CLASSIFIED")
	run.Enter(ctx, "ROUTED_HUMAN")
	run.Finish(ctx, domain.ExecutionSucceeded)

	rec, err := tr.Get(ctx, run.ID())
	if err != nil {
		t.Fatal(err)
	}
	path := rec.Path()
	want := []string{"INGESTED", "CLASSIFIED", "ROUTED_HUMAN"}
	if len(path) != len(want) {
		t.Fatalf("path = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] || rec.Steps[i].Seq != i+1 {
			t.Fatalf("step %d = %+v", i, rec.Steps[i])
		}
	}
	if rec.Steps[0].Outcome != "accepted" || rec.Steps[1].Outcome != "left" || rec.Steps[2].Outcome != "succeeded" {
		t.Fatalf("unexpected outcomes %+v", rec.Steps)
	}
	if rec.Steps[0].Duration <= 0 {
		t.Fatalf("duration not recorded: %+v", rec.Steps[0])
	}
	if rec.Status != domain.ExecutionSucceeded || rec.FinishedAt == nil {
		t.Fatalf("terminal status not recorded: %+v", rec)
	}

	stored, err := store.GetByID(ctx, run.ID())
	if err != nil || len(stored.Steps) != 3 {
		t.Fatalf("record not persisted: %+v, %v", stored, err)
	}
}

func TestReentryAppendsNewEntry(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()

	run := tr.Start(ctx, "s")
	run.Enter(ctx, "CLASSIFIED")
	run.Complete(ctx, "retry")
	first, _ := tr.Get(ctx, run.ID())

	run.Enter(ctx, "CLASSIFIED")
	run.Complete(ctx, "ok")
	run.Finish(ctx, domain.ExecutionSucceeded)

	rec, _ := tr.Get(ctx, run.ID())
	if len(rec.Steps) != 2 || rec.Steps[0] != first.Steps[0] {
		t.Fatalf("re-entry must append, got %+v", rec.Steps)
	}
	if rec.Steps[1].Outcome != "ok" {
		t.Fatalf("second visit outcome = %q", rec.Steps[1].Outcome)
	}
}

func TestGetReturnsIndependentCopy(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()
	run := tr.Start(ctx, "s")
	run.Enter(ctx, "INGESTED")
	run.Fail(errors.New("boom"))
	run.Finish(ctx, domain.ExecutionFailed)

	rec, _ := tr.Get(ctx, run.ID())
	rec.Steps[0].Node = "TAMPERED"
	rec.Errors[0] = "hidden"

	again, _ := tr.Get(ctx, run.ID())
	if again.Steps[0].Node != "INGESTED" || again.Errors[0] != "boom" {
		t.Fatalf("stored record was mutated through a read: %+v", again)
	}
}

func TestFinishIsTerminal(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	ctx := context.Background()
	run := tr.Start(ctx, "s")
	run.Enter(ctx, "INGESTED")
	run.Finish(ctx, domain.ExecutionFailed)
	run.Enter(ctx, "CLASSIFIED")
	run.Fail(errors.New("late"))
	run.Finish(ctx, domain.ExecutionSucceeded)

	rec, _ := tr.Get(ctx, run.ID())
	if len(rec.Steps) != 1 || rec.Status != domain.ExecutionFailed || len(rec.Errors) != 0 {
		t.Fatalf("finished run changed: %+v", rec)
	}
}

func TestTrackerPublishesStepAndFinishedEvents(t *testing.T) {
	tr, bus, _ := newTestTracker(t)
	ctx := context.Background()

	var steps []string
	var finished []events.ExecutionFinishedPayload
	bus.Subscribe(events.EventExecutionStep, func(_ context.Context, e events.Event) error {
		steps = append(steps, e.Payload.(events.ExecutionStepPayload).Step.Node)
		return nil
	})
	bus.Subscribe(events.EventExecutionFinished, func(_ context.Context, e events.Event) error {
		finished = append(finished, e.Payload.(events.ExecutionFinishedPayload))
		return nil
	})

	run := tr.Start(ctx, "s")
	run.Enter(ctx, "INGESTED")
	run.Enter(ctx, "CLASSIFIED")
	run.Finish(ctx, domain.ExecutionSucceeded)

	if len(steps) != 2 || steps[0] != "INGESTED" || steps[1] != "CLASSIFIED" {
		t.Fatalf("step events = %v", steps)
	}
	if len(finished) != 1 || finished[0].ExecutionID != run.ID() || len(finished[0].Path) != 2 {
		t.Fatalf("finished events = %+v", finished)
	}
}

func TestGetUnknownExecution(t *testing.T) {
	tr, _, _ := newTestTracker(t)
	if _, err := tr.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDefaultSetupReset(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	first := Default()
	if first != Default() {
		t.Fatal("Default should be stable")
	}
	custom := Setup(repository.NewMemoryExecutionRepository(), events.NewBus(nil), nil)
	if Default() != custom {
		t.Fatal("Setup should replace the default tracker")
	}
	Reset()
	if Default() == custom {
		t.Fatal("Reset should discard the tracker")
	}
}
