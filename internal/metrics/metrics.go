package metrics

import "sync"

// Event names. Relayed signals are counted per type under EventSignalRelayed
// with the type appended, e.g. "signal_relayed_offer".
const (
	EventSignalRelayed   = "signal_relayed_"
	EventValidationError = "validation_error"
	EventRateLimited     = "rate_limited"
	EventRoomCreated     = "room_created"
	EventRoomDeleted     = "room_deleted"
	EventRoomSwept       = "room_swept"
	EventChatMessage     = "chat_message"
	EventSlowConsumer    = "slow_consumer"
)

// Metrics is a concurrency-safe registry of counters and gauges.
type Metrics struct {
	mu     sync.Mutex
	m      map[string]uint64
	gauges map[string]int64
}

// New creates an empty set of counters and gauges
func New() *Metrics {
	return &Metrics{
		m:      make(map[string]uint64),
		gauges: make(map[string]int64),
	}
}

// Inc adds one to the named counter
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

// Add adds n to the named counter
func (m *Metrics) Add(name string, n uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

// Get returns the current value of the named counter
func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// SetGauge records the current value of a gauge
func (m *Metrics) SetGauge(name string, v int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.gauges[name] = v
	m.mu.Unlock()
}

// Snapshot returns a copy of all counters
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// Gauges returns a copy of all gauges
func (m *Metrics) Gauges() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.gauges))
	for k, v := range m.gauges {
		out[k] = v
	}
	return out
}
