package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/safedesk/safety-orchestrator/internal/domain"
)

func TestPublishContinuesAfterFailingHandler(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	bus := NewBus(zap.New(core))

	var calls []string
	bus.Subscribe(EventCaseCreated, func(context.Context, Event) error {
		calls = append(calls, "A")
		return errors.New("boom")
	})
	bus.Subscribe(EventCaseCreated, func(context.Context, Event) error {
		calls = append(calls, "B")
		return nil
	})

	bus.Publish(context.Background(), Event{Type: EventCaseCreated})

	if len(calls) != 2 || calls[0] != "A" || calls[1] != "B" {
		t.Fatalf("expected A then B, got %v", calls)
	}
	if bus.HandlerFailures() != 1 {
		t.Fatalf("expected 1 failure, got %d", bus.HandlerFailures())
	}
	if logs.FilterMessage("event handler failed").Len() != 1 {
		t.Fatalf("expected failure to be logged, got %v", logs.All())
	}
}

func TestPublishRecoversHandlerPanic(t *testing.T) {
	bus := NewBus(nil)
	delivered := false
	bus.Subscribe(EventAgentError, func(context.Context, Event) error {
		panic("handler exploded")
	})
	bus.Subscribe(EventAgentError, func(context.Context, Event) error {
		delivered = true
		return nil
	})

	bus.Publish(context.Background(), Event{Type: EventAgentError})

	if !delivered {
		t.Fatal("second handler should run after a panic")
	}
	if bus.HandlerFailures() != 1 {
		t.Fatalf("expected panic counted as failure, got %d", bus.HandlerFailures())
	}
}

func TestPublishWithoutSubscribersIsDropped(t *testing.T) {
	bus := NewBus(nil)
	bus.Publish(context.Background(), Event{Type: EventAnalytics})
	if bus.Dropped() != 1 {
		t.Fatalf("expected dropped=1, got %d", bus.Dropped())
	}
}

func TestPublishOnlyReachesMatchingType(t *testing.T) {
	bus := NewBus(nil)
	var got []EventType
	bus.Subscribe(EventCaseClosed, func(_ context.Context, e Event) error {
		got = append(got, e.Type)
		return nil
	})
	bus.Publish(context.Background(), Event{Type: EventCaseCreated})
	bus.Publish(context.Background(), Event{Type: EventCaseClosed})
	if len(got) != 1 || got[0] != EventCaseClosed {
		t.Fatalf("unexpected deliveries %v", got)
	}
}

func TestPublishFillsIDAndTimestamp(t *testing.T) {
	bus := NewBus(nil)
	var seen Event
	bus.Subscribe(EventRiskClassified, func(_ context.Context, e Event) error {
		seen = e
		return nil
	})
	bus.Publish(context.Background(), Event{Type: EventRiskClassified})
	if seen.ID == "" || seen.Timestamp.IsZero() {
		t.Fatalf("expected id and timestamp, got %+v", seen)
	}
}

func TestDefaultIsLazyAndResettable(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	first := Default()
	if first != Default() {
		t.Fatal("Default should return the same instance")
	}
	first.Subscribe(EventCaseCreated, func(context.Context, Event) error { return nil })

	Reset()
	second := Default()
	if second == first {
		t.Fatal("Reset should discard the previous bus")
	}
	second.Publish(context.Background(), Event{Type: EventCaseCreated})
	if second.Dropped() != 1 {
		t.Fatal("subscriptions must not survive Reset")
	}
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	bus := NewBus(nil)
	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Subscribe(EventAnalytics, func(context.Context, Event) error {
				mu.Lock()
				count++
				mu.Unlock()
				return nil
			})
		}()
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), Event{Type: EventAnalytics})
		}()
	}
	wg.Wait()

	mu.Lock()
	before := count
	mu.Unlock()
	bus.Publish(context.Background(), Event{Type: EventAnalytics})
	mu.Lock()
	defer mu.Unlock()
	if count-before != 20 {
		t.Fatalf("expected all 20 subscribers after registration, got %d", count-before)
	}
}

type fakeAuditStore struct {
	entries []*domain.AuditEntry
	err     error
}

func (f *fakeAuditStore) Create(_ context.Context, entry *domain.AuditEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

func TestAuditLoggerPersistsEvents(t *testing.T) {
	bus := NewBus(nil)
	store := &fakeAuditStore{}
	NewAuditLogger(store, zap.NewNop()).Register(bus)

	bus.Publish(context.Background(), Event{
		Type:    EventCaseClosed,
		Source:  SourceCases,
		CaseID:  "case-1",
		Payload: CaseClosedPayload{OldStatus: domain.CaseStatusInProgress, Reason: "resolved"},
	})

	if len(store.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(store.entries))
	}
	entry := store.entries[0]
	if entry.CaseID == nil || *entry.CaseID != "case-1" {
		t.Fatalf("case id not carried: %+v", entry)
	}
	if entry.Payload["reason"] != "resolved" {
		t.Fatalf("payload not flattened: %v", entry.Payload)
	}
}

func TestAuditStoreFailureDoesNotReachPublisher(t *testing.T) {
	bus := NewBus(nil)
	NewAuditLogger(&fakeAuditStore{err: errors.New("db down")}, zap.NewNop()).Register(bus)
	bus.Publish(context.Background(), Event{Type: EventCaseCreated})
	if bus.HandlerFailures() != 1 {
		t.Fatalf("expected store failure to be isolated, got %d", bus.HandlerFailures())
	}
}

type fakePublisher struct {
	attrs []map[string]string
}

func (f *fakePublisher) Publish(_ context.Context, _ []byte, attrs map[string]string) error {
	f.attrs = append(f.attrs, attrs)
	return nil
}

func TestForwarderPublishesRegisteredTypes(t *testing.T) {
	bus := NewBus(nil)
	pub := &fakePublisher{}
	NewForwarder(pub, zap.NewNop()).Register(bus, EventAnalytics)

	bus.Publish(context.Background(), Event{Type: EventAnalytics, Source: SourceAnalytics})
	bus.Publish(context.Background(), Event{Type: EventCaseCreated})

	if len(pub.attrs) != 1 {
		t.Fatalf("expected 1 forwarded message, got %d", len(pub.attrs))
	}
	if pub.attrs[0]["event_type"] != string(EventAnalytics) {
		t.Fatalf("unexpected attributes %v", pub.attrs[0])
	}
}
