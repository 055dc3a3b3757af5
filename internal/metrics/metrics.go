package metrics

import "sync"

// Event names.
const (
	SessionOpened    = "session_opened"
	SessionClosed    = "session_closed"
	ControlReceived  = "control_received"
	ControlFailed    = "control_failed"
	ControlRateLimit = "control_rate_limited"
	BinaryReceived   = "binary_received"
	BinaryDelivered  = "binary_delivered"
	BinaryDropped    = "binary_dropped"
	PeerCreated      = "peer_created"
	PeerReleased     = "peer_released"
	HandlerIgnored   = "handler_not_implemented"
	ErrorFramesSent  = "error_frames_sent"
)

// Metrics is a minimal, concurrency-safe counter registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
