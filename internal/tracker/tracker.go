// Package tracker records the path each orchestration run takes through the
// router state machine. Records are append-only and exposed read-only.
package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/safedesk/safety-orchestrator/internal/domain"
	"github.com/safedesk/safety-orchestrator/internal/events"
	"github.com/safedesk/safety-orchestrator/internal/repository"
)

// ErrNotFound is returned by Get for unknown execution ids.
var ErrNotFound = errors.New("execution not found")

// Tracker creates runs and serves their records.
type Tracker struct {
	store  repository.ExecutionRepository
	bus    events.Dispatcher
	logger *zap.Logger
	now    func() time.Time

	mu   sync.RWMutex
	live map[string]*Run
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New builds a tracker. A nil store keeps records in memory only.
func New(store repository.ExecutionRepository, bus events.Dispatcher, logger *zap.Logger, opts ...Option) *Tracker {
	if store == nil {
		store = repository.NewMemoryExecutionRepository()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		store:  store,
		bus:    bus,
		logger: logger.Named("tracker"),
		now:    time.Now,
		live:   map[string]*Run{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start opens a new run for sessionID.
func (t *Tracker) Start(ctx context.Context, sessionID string) *Run {
	run := &Run{
		tracker: t,
		record: domain.ExecutionRecord{
			ExecutionID: uuid.NewString(),
			SessionID:   sessionID,
			Status:      domain.ExecutionRunning,
			StartedAt:   t.now().UTC(),
		},
	}
	t.mu.Lock()
	t.live[run.record.ExecutionID] = run
	t.mu.Unlock()

	t.persist(ctx, run.snapshot())
	return run
}

// Get returns a copy of the record. Callers cannot change tracked state.
func (t *Tracker) Get(ctx context.Context, executionID string) (*domain.ExecutionRecord, error) {
	t.mu.RLock()
	run, ok := t.live[executionID]
	t.mu.RUnlock()
	if ok {
		return run.snapshot(), nil
	}

	rec, err := t.store.GetByID(ctx, executionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rec.Clone(), nil
}

// persist writes the record. Storage failures are logged: losing an audit
// write must not change the routing outcome.
func (t *Tracker) persist(ctx context.Context, rec *domain.ExecutionRecord) {
	if err := t.store.Save(context.WithoutCancel(ctx), rec); err != nil {
		t.logger.Error("execution record not saved",
			zap.String("execution_id", rec.ExecutionID),
			zap.Int("steps", len(rec.Steps)),
			zap.Error(err))
	}
}

func (t *Tracker) publish(ctx context.Context, eventType events.EventType, payload any) {
	if t.bus == nil {
		return
	}
	t.bus.Publish(ctx, events.Event{
		Type:    eventType,
		Source:  events.SourceTracker,
		Payload: payload,
	})
}

func (t *Tracker) release(executionID string) {
	t.mu.Lock()
	delete(t.live, executionID)
	t.mu.Unlock()
}

// Run is one orchestration invocation. It is driven by a single goroutine;
// readers go through Tracker.Get.
type Run struct {
	tracker *Tracker

	mu      sync.Mutex
	record  domain.ExecutionRecord
	pending *domain.NodeEntry
	done    bool
}

// ID returns the execution id.
func (r *Run) ID() string {
	return r.record.ExecutionID
}

// Enter starts a visit to node. An unfinished previous visit is closed with
// outcome "left". Entering the same node again appends a new entry.
func (r *Run) Enter(ctx context.Context, node string) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	closed := r.closePendingLocked("left")
	r.pending = &domain.NodeEntry{
		Seq:       len(r.record.Steps) + 1,
		Node:      node,
		EnteredAt: r.tracker.now().UTC(),
	}
	r.mu.Unlock()

	if closed != nil {
		r.emitStep(ctx, *closed)
	}
}

// Complete closes the current visit with outcome.
func (r *Run) Complete(ctx context.Context, outcome string) {
	r.mu.Lock()
	closed := r.closePendingLocked(outcome)
	r.mu.Unlock()

	if closed != nil {
		r.emitStep(ctx, *closed)
	}
}

// Fail records an error against the run without finishing it.
func (r *Run) Fail(err error) {
	if err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done {
		r.record.Errors = append(r.record.Errors, err.Error())
	}
}

// Finish closes any open visit, sets the terminal status and releases the
// run. Calls after the first are ignored.
func (r *Run) Finish(ctx context.Context, status domain.ExecutionStatus) {
	r.mu.Lock()
	if r.done {
		r.mu.Unlock()
		return
	}
	closed := r.closePendingLocked(string(status))
	r.done = true
	r.record.Status = status
	finished := r.tracker.now().UTC()
	r.record.FinishedAt = &finished
	snapshot := r.record.Clone()
	r.mu.Unlock()

	if closed != nil {
		r.tracker.publish(ctx, events.EventExecutionStep, events.ExecutionStepPayload{
			ExecutionID: snapshot.ExecutionID,
			Step:        *closed,
		})
	}
	r.tracker.persist(ctx, snapshot)
	r.tracker.release(snapshot.ExecutionID)
	r.tracker.publish(ctx, events.EventExecutionFinished, events.ExecutionFinishedPayload{
		ExecutionID: snapshot.ExecutionID,
		Status:      status,
		Path:        snapshot.Path(),
		Errors:      snapshot.Errors,
	})
}

func (r *Run) closePendingLocked(outcome string) *domain.NodeEntry {
	if r.pending == nil {
		return nil
	}
	entry := *r.pending
	entry.Duration = r.tracker.now().UTC().Sub(entry.EnteredAt)
	entry.Outcome = outcome
	r.record.Steps = append(r.record.Steps, entry)
	r.pending = nil
	return &entry
}

func (r *Run) emitStep(ctx context.Context, entry domain.NodeEntry) {
	snapshot := r.snapshot()
	r.tracker.persist(ctx, snapshot)
	r.tracker.publish(ctx, events.EventExecutionStep, events.ExecutionStepPayload{
		ExecutionID: snapshot.ExecutionID,
		Step:        entry,
	})
}

func (r *Run) snapshot() *domain.ExecutionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.Clone()
}
