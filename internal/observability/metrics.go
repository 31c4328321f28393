package observability

import (
	"maps"
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters.
type Metrics struct {
	mu             sync.Mutex
	requestCount   map[string]int64
	errorCount     map[string]int64
	routingCount   map[string]int64
	routingFailure map[string]int64
	overrides      int64
	failClosed     int64
	fallbacks      int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Requests        map[string]int64 `json:"requests"`
	Errors          map[string]int64 `json:"errors"`
	Routes          map[string]int64 `json:"routes"`
	RoutingFailures map[string]int64 `json:"routing_failures"`
	Overrides       int64            `json:"risk_overrides"`
	FailClosed      int64            `json:"fail_closed"`
	Fallbacks       int64            `json:"fallbacks"`
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount:   make(map[string]int64),
		errorCount:     make(map[string]int64),
		routingCount:   make(map[string]int64),
		routingFailure: make(map[string]int64),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, _ time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordRoute counts a completed routing decision.
func (m *Metrics) RecordRoute(variant string, overridden, failClosed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routingCount[variant]++
	if overridden {
		m.overrides++
	}
	if failClosed {
		m.failClosed++
	}
}

// RecordRoutingFailure counts a handler failure and whether the
// resource fallback produced output.
func (m *Metrics) RecordRoutingFailure(variant string, fallback bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routingFailure[variant]++
	if fallback {
		m.fallbacks++
	}
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Requests:        maps.Clone(m.requestCount),
		Errors:          maps.Clone(m.errorCount),
		Routes:          maps.Clone(m.routingCount),
		RoutingFailures: maps.Clone(m.routingFailure),
		Overrides:       m.overrides,
		FailClosed:      m.failClosed,
		Fallbacks:       m.fallbacks,
	}
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
