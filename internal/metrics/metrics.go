package metrics

import "sync"

// Event counter names used across the signaling service.
const (
	AuthFailure       = "auth_failure"
	RoomsCreated      = "rooms_created"
	RoomsJoined       = "rooms_joined"
	RoomsReady        = "rooms_ready"
	RoomsDeleted      = "rooms_deleted"
	SignalsRelayed    = "signals_relayed"
	SignalsDropped    = "signals_dropped"
	PeerDisconnects   = "peer_disconnects"
	MalformedMessages = "malformed_messages"
	RateLimited       = "rate_limited"
	TooManyRooms      = "too_many_rooms"
)

// Metrics is a minimal, concurrency-safe counter registry. It keeps the
// signaling handlers observable and testable without pulling a full metrics
// backend into the hot path; /metrics exposes the counters for scraping.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
