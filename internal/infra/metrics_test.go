package infra

import (
	"testing"
	"time"
)

func TestMetrics_RecordBid(t *testing.T) {
	m := &Metrics{}

	m.RecordBid(true, time.Microsecond)
	m.RecordBid(true, 2*time.Microsecond)
	m.RecordBid(false, 3*time.Microsecond)

	snap := m.Snapshot()

	if snap.BidsAccepted != 2 {
		t.Errorf("Expected 2 accepted bids, got %d", snap.BidsAccepted)
	}
	if snap.BidsRejected != 1 {
		t.Errorf("Expected 1 rejected bid, got %d", snap.BidsRejected)
	}

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgBidLatencyNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgBidLatencyNs)
	}
}

func TestMetrics_Settlement(t *testing.T) {
	m := &Metrics{}

	m.RecordClose()
	m.RecordSettlementRetry()
	m.RecordSettlementRetry()
	m.RecordSettlement()
	m.RecordEscalation()

	snap := m.Snapshot()
	if snap.ListingsClosed != 1 || snap.SettlementsDone != 1 {
		t.Errorf("unexpected close/settle counts: %+v", snap)
	}
	if snap.SettlementRetries != 2 {
		t.Errorf("Expected 2 retries, got %d", snap.SettlementRetries)
	}
	if snap.Escalations != 1 {
		t.Errorf("Expected 1 escalation, got %d", snap.Escalations)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := &Metrics{}

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	snap := m.Snapshot()
	if snap.ActiveConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", snap.ActiveConnections)
	}

	m.DecrementConnections()
	snap = m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
}

func TestMetrics_CircuitState(t *testing.T) {
	m := &Metrics{}

	if m.Snapshot().CircuitOpen {
		t.Error("Expected circuit closed initially")
	}

	m.SetCircuitState(true)
	if !m.Snapshot().CircuitOpen {
		t.Error("Expected circuit open")
	}

	m.SetCircuitState(false)
	if m.Snapshot().CircuitOpen {
		t.Error("Expected circuit closed")
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordBid(true, time.Millisecond)
	m.RecordRelay(true)
	m.RecordRelay(false)
	m.RecordDroppedNotification()
	m.IncrementConnections()
	m.SetCircuitState(true)

	m.Reset()

	snap := m.Snapshot()
	if snap.BidsAccepted != 0 || snap.EventsRelayed != 0 || snap.RelayFailures != 0 ||
		snap.DroppedNotifications != 0 || snap.ActiveConnections != 0 || snap.CircuitOpen {
		t.Errorf("Expected all metrics reset, got %+v", snap)
	}
}
