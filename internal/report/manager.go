package report

import (
	"sync"

	"github.com/google/uuid"

	"github.com/somnari/somnari-backend/internal/logger"
)

// Manager hands out one Instance per user. Instances are created lazily
// and own their state until CloseAll; nothing report-related lives in a
// process-wide singleton.
type Manager struct {
	mu        sync.Mutex
	instances map[uuid.UUID]*Instance

	deps     Deps
	notifier Notifier
	opts     Options
	log      *logger.Logger
}

func NewManager(deps Deps, notifier Notifier, opts Options, baseLog *logger.Logger) *Manager {
	return &Manager{
		instances: make(map[uuid.UUID]*Instance),
		deps:      deps,
		notifier:  notifier,
		opts:      opts,
		log:       baseLog.With("component", "ReportManager"),
	}
}

func (m *Manager) Instance(userID uuid.UUID) *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in, ok := m.instances[userID]; ok {
		return in
	}
	in := NewInstance(userID, m.deps, m.notifier, m.opts, m.log)
	m.instances[userID] = in
	return in
}

// ResolveConsent routes a gate callback to the owning user's instance.
func (m *Manager) ResolveConsent(userID uuid.UUID, sessionID uuid.UUID, outcome ConsentOutcome, reason string) {
	m.mu.Lock()
	in, ok := m.instances[userID]
	m.mu.Unlock()
	if !ok {
		m.log.Debug("consent callback for unknown user dropped", "user_id", userID, "session_id", sessionID)
		return
	}
	in.ResolveConsent(sessionID, outcome, reason)
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	instances := make([]*Instance, 0, len(m.instances))
	for _, in := range m.instances {
		instances = append(instances, in)
	}
	m.instances = make(map[uuid.UUID]*Instance)
	m.mu.Unlock()

	for _, in := range instances {
		in.Close()
	}
}
