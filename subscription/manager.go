package subscription

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskflow/domain"
)

// Source opens live task subscriptions.
type Source interface {
	Subscribe(ctx context.Context, ownerID string, onSnapshot func([]domain.Task), onError func(error)) (unsubscribe func())
}

// Sink receives the snapshots of the active subscription.
type Sink interface {
	SetTasks(tasks []domain.Task)
	SetLoading(loading bool)
}

// Manager keeps at most one live subscription feeding a Sink.
type Manager struct {
	source Source
	sink   Sink
	logger log.FieldLogger

	// opMu serializes Activate and Deactivate.
	opMu        sync.Mutex
	active      bool
	owner       string
	unsubscribe func()
	stopExpiry  func() bool

	// mu guards gen; deliveries from an older generation are dropped.
	mu  sync.Mutex
	gen uint64
}

func NewManager(source Source, sink Sink, logger log.FieldLogger) *Manager {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Manager{source: source, sink: sink, logger: logger}
}

// Activate subscribes to the tasks of ownerID. It is a no-op when that owner is
// already active; a different owner replaces the current subscription. The
// subscription ends, as if deactivated, when ctx is done.
func (m *Manager) Activate(ctx context.Context, ownerID string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.active && m.owner == ownerID {
		return
	}
	m.teardown()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	m.sink.SetLoading(true)
	m.unsubscribe = m.source.Subscribe(ctx, ownerID,
		func(tasks []domain.Task) { m.deliver(gen, tasks) },
		func(err error) { m.report(gen, ownerID, err) },
	)
	m.active, m.owner = true, ownerID
	m.stopExpiry = context.AfterFunc(ctx, func() { m.expire(gen) })
	m.logger.WithField("owner", ownerID).Info("task subscription activated")
}

// Deactivate closes the current subscription. No snapshot reaches the Sink
// after it returns.
func (m *Manager) Deactivate() {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.teardown() {
		m.sink.SetLoading(false)
	}
}

// Active reports the owner of the live subscription, if any.
func (m *Manager) Active() (string, bool) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.owner, m.active
}

func (m *Manager) teardown() bool {
	if !m.active {
		return false
	}
	m.mu.Lock()
	m.gen++
	m.mu.Unlock()

	// Unsubscribe waits for in-flight callbacks, which need mu; call it unlocked.
	if m.stopExpiry != nil {
		m.stopExpiry()
		m.stopExpiry = nil
	}
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.active = false
	unsubscribe()
	m.logger.WithField("owner", m.owner).Info("task subscription closed")
	m.owner = ""
	return true
}

// expire tears down the subscription of generation gen after its context ended.
func (m *Manager) expire(gen uint64) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	m.mu.Lock()
	current := m.gen == gen
	m.mu.Unlock()
	if !current {
		return
	}
	m.logger.WithField("owner", m.owner).Warn("task subscription context ended")
	if m.teardown() {
		m.sink.SetLoading(false)
	}
}

func (m *Manager) deliver(gen uint64, tasks []domain.Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return
	}
	m.sink.SetTasks(tasks)
	m.sink.SetLoading(false)
}

func (m *Manager) report(gen uint64, ownerID string, err error) {
	m.mu.Lock()
	current := m.gen == gen
	m.mu.Unlock()
	if !current {
		return
	}
	m.logger.WithError(err).WithField("owner", ownerID).Error("task subscription error")
}
