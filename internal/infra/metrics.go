package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	bidsAccepted       atomic.Uint64
	bidsRejected       atomic.Uint64
	listingsClosed     atomic.Uint64
	settlementsDone    atomic.Uint64
	settlementRetries  atomic.Uint64
	escalations        atomic.Uint64
	eventsRelayed      atomic.Uint64
	relayFailures      atomic.Uint64
	notificationsDrops atomic.Uint64

	// Latency tracking (bid placement)
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	circuitOpen       atomic.Int32 // 1 = open, 0 = closed
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordBid records a bid decision with its handling latency.
func (m *Metrics) RecordBid(accepted bool, latency time.Duration) {
	if accepted {
		m.bidsAccepted.Add(1)
	} else {
		m.bidsRejected.Add(1)
	}
	m.latencySumNs.Add(latency.Nanoseconds())
	m.latencyCount.Add(1)
}

// RecordClose records a listing transition to Closed.
func (m *Metrics) RecordClose() {
	m.listingsClosed.Add(1)
}

// RecordSettlement records a finished settlement.
func (m *Metrics) RecordSettlement() {
	m.settlementsDone.Add(1)
}

// RecordSettlementRetry records one failed settlement attempt that will be retried.
func (m *Metrics) RecordSettlementRetry() {
	m.settlementRetries.Add(1)
}

// RecordEscalation records a settlement handed to manual reconciliation.
func (m *Metrics) RecordEscalation() {
	m.escalations.Add(1)
}

// RecordRelay records the outcome of one outbox delivery.
func (m *Metrics) RecordRelay(ok bool) {
	if ok {
		m.eventsRelayed.Add(1)
	} else {
		m.relayFailures.Add(1)
	}
}

// RecordDroppedNotification records a message not delivered to a slow subscriber.
func (m *Metrics) RecordDroppedNotification() {
	m.notificationsDrops.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// SetCircuitState sets the circuit breaker state (true = open).
func (m *Metrics) SetCircuitState(open bool) {
	if open {
		m.circuitOpen.Store(1)
	} else {
		m.circuitOpen.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	BidsAccepted         uint64
	BidsRejected         uint64
	ListingsClosed       uint64
	SettlementsDone      uint64
	SettlementRetries    uint64
	Escalations          uint64
	EventsRelayed        uint64
	RelayFailures        uint64
	DroppedNotifications uint64
	AvgBidLatencyNs      int64
	ActiveConnections    int32
	CircuitOpen          bool
	Timestamp            time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		BidsAccepted:         m.bidsAccepted.Load(),
		BidsRejected:         m.bidsRejected.Load(),
		ListingsClosed:       m.listingsClosed.Load(),
		SettlementsDone:      m.settlementsDone.Load(),
		SettlementRetries:    m.settlementRetries.Load(),
		Escalations:          m.escalations.Load(),
		EventsRelayed:        m.eventsRelayed.Load(),
		RelayFailures:        m.relayFailures.Load(),
		DroppedNotifications: m.notificationsDrops.Load(),
		AvgBidLatencyNs:      avgLatency,
		ActiveConnections:    m.activeConnections.Load(),
		CircuitOpen:          m.circuitOpen.Load() == 1,
		Timestamp:            time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.bidsAccepted.Store(0)
	m.bidsRejected.Store(0)
	m.listingsClosed.Store(0)
	m.settlementsDone.Store(0)
	m.settlementRetries.Store(0)
	m.escalations.Store(0)
	m.eventsRelayed.Store(0)
	m.relayFailures.Store(0)
	m.notificationsDrops.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.circuitOpen.Store(0)
}
