package logging

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Metrics is a lock-light registry of named counters and gauges.
type Metrics struct {
	values sync.Map // string -> *atomic.Uint64
}

func (m *Metrics) slot(key string) *atomic.Uint64 {
	if existing, ok := m.values.Load(key); ok {
		return existing.(*atomic.Uint64)
	}
	created, _ := m.values.LoadOrStore(key, new(atomic.Uint64))
	return created.(*atomic.Uint64)
}

// TelemetryAdd increments the named counter.
func (m *Metrics) TelemetryAdd(key string, delta uint64) {
	if m == nil || key == "" {
		return
	}
	m.slot(key).Add(delta)
}

// TelemetryStore overwrites the named gauge.
func (m *Metrics) TelemetryStore(key string, value uint64) {
	if m == nil || key == "" {
		return
	}
	m.slot(key).Store(value)
}

// Snapshot copies every recorded value.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.values.Range(func(key, value any) bool {
		out[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return out
}

// Keys lists the recorded metric names in sorted order.
func (m *Metrics) Keys() []string {
	snapshot := m.Snapshot()
	keys := make([]string, 0, len(snapshot))
	for k := range snapshot {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
