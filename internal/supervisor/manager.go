package supervisor

import (
	"context"
	"sort"
	"sync"

	"github.com/pimonitor/pimonitor-core/internal/transport"
)

// Manager runs at most one supervisor per device.
type Manager struct {
	registry Registry
	tr       transport.Transport
	logger   Logger

	mu          sync.Mutex
	supervisors map[string]*Supervisor
	closed      bool
}

// NewManager creates a manager whose supervisors share tr.
func NewManager(registry Registry, tr transport.Transport) *Manager {
	return &Manager{
		registry:    registry,
		tr:          tr,
		logger:      noopLogger{},
		supervisors: make(map[string]*Supervisor),
	}
}

// SetLogger sets the logger for the manager and the supervisors it starts.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Ensure starts a supervisor for hostID unless one is already running.
// It returns true if a new supervisor was started.
func (m *Manager) Ensure(ctx context.Context, hostID, apiURL string) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	if _, ok := m.supervisors[hostID]; ok {
		m.mu.Unlock()
		return false
	}
	sup := New(hostID, apiURL, m.registry, m.tr)
	sup.SetLogger(m.logger)
	m.supervisors[hostID] = sup
	m.mu.Unlock()

	if err := sup.Start(ctx); err != nil {
		m.logger.Error("starting supervisor", "host_id", hostID, "api_url", apiURL, "error", err)
		m.mu.Lock()
		delete(m.supervisors, hostID)
		m.mu.Unlock()
		return false
	}
	return true
}

// Stop stops the supervisor for hostID, if any. A later Ensure starts a
// fresh one.
func (m *Manager) Stop(hostID string) {
	m.mu.Lock()
	sup, ok := m.supervisors[hostID]
	delete(m.supervisors, hostID)
	m.mu.Unlock()

	if ok {
		sup.Stop()
	}
}

// StopAll stops every supervisor and refuses new ones.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.closed = true
	sups := make([]*Supervisor, 0, len(m.supervisors))
	for _, s := range m.supervisors {
		sups = append(sups, s)
	}
	m.supervisors = make(map[string]*Supervisor)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range sups {
		wg.Add(1)
		go func(s *Supervisor) {
			defer wg.Done()
			s.Stop()
		}(s)
	}
	wg.Wait()

	m.logger.Info("all supervisors stopped", "count", len(sups))
}

// HostIDs returns the supervised devices, sorted.
func (m *Manager) HostIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.supervisors))
	for id := range m.supervisors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of running supervisors.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.supervisors)
}
