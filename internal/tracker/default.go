package tracker

import (
	"sync"

	"go.uber.org/zap"

	"github.com/safedesk/safety-orchestrator/internal/events"
	"github.com/safedesk/safety-orchestrator/internal/repository"
)

var (
	defaultMu      sync.Mutex
	defaultTracker *Tracker
)

// Default returns the process-wide tracker, building an in-memory one on
// first use that publishes to events.Default().
func Default() *Tracker {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultTracker == nil {
		defaultTracker = New(nil, events.Default(), nil)
	}
	return defaultTracker
}

// Setup replaces the process-wide tracker. Call it once at startup.
func Setup(store repository.ExecutionRepository, bus events.Dispatcher, logger *zap.Logger) *Tracker {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultTracker = New(store, bus, logger)
	return defaultTracker
}

// Reset discards the process-wide tracker. Tests only.
func Reset() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultTracker = nil
}
