// Package health provides HealthView implementations: a default
// in-process store for a single proxy instance, and a Redis-backed store
// for sharing health state across a proxy fleet.
package health

import (
	"sync"

	"github.com/v1siuol/trafficserver/pkg/nexthop"
)

type entry struct {
	available bool
	reason    nexthop.Reason
}

// MemoryStore is the default in-process HealthView: a single RWMutex over
// a hostname-keyed map. Reads and writes are immediately visible to every
// goroutine in the same process; there is no cross-process propagation.
type MemoryStore struct {
	mu     sync.RWMutex
	status map[string]entry
}

// NewMemoryStore returns an empty store. Every hostname is available
// until explicitly marked down.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{status: make(map[string]entry)}
}

func (m *MemoryStore) IsAvailable(hostname string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.status[hostname]
	if !ok {
		return true
	}
	return e.available
}

func (m *MemoryStore) MarkDown(hostname string, reason nexthop.Reason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status[hostname] = entry{available: false, reason: reason}
}

func (m *MemoryStore) MarkUp(hostname string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.status, hostname)
}

// Reason returns the last recorded down-reason for hostname, if any.
func (m *MemoryStore) Reason(hostname string) (nexthop.Reason, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.status[hostname]
	if !ok || e.available {
		return "", false
	}
	return e.reason, true
}
