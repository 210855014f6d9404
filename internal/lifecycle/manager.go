// Package lifecycle implements the task-scoped resource registry with
// guaranteed, idempotent, reverse-order teardown.
package lifecycle

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/models"
)

// Releaser tears down one registered resource. Implementations must swallow
// their own errors internally where possible; any error returned here is
// logged and does not stop sibling releases.
type Releaser func() error

type entry struct {
	resource models.Resource
	release  Releaser
	released bool
}

// Manager owns resource release for every live task. Registration and
// release are both safe for concurrent use; release of a given resource is
// idempotent.
type Manager struct {
	logger arbor.ILogger
	mu     sync.Mutex
	byTask map[string][]*entry
}

func NewManager(logger arbor.ILogger) *Manager {
	return &Manager{logger: logger, byTask: make(map[string][]*entry)}
}

// Register adds a resource under taskID's registry. Resources are released
// in reverse registration order on ReleaseTask.
func (m *Manager) Register(taskID string, resource models.Resource, release Releaser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byTask[taskID] = append(m.byTask[taskID], &entry{resource: resource, release: release})
}

// ReleaseResource releases a single resource immediately, ahead of task
// termination (e.g. a page that was not kept open across a browser fetch).
// Idempotent: a second call is a no-op.
func (m *Manager) ReleaseResource(taskID, resourceID string) {
	m.mu.Lock()
	var target *entry
	for _, e := range m.byTask[taskID] {
		if e.resource.ResourceID == resourceID {
			target = e
			break
		}
	}
	m.mu.Unlock()
	if target != nil {
		m.release(target)
	}
}

// ReleaseTask releases every resource registered under taskID, in reverse
// registration order, and clears the registry entry. Safe to call more than
// once; a second call releases nothing.
func (m *Manager) ReleaseTask(taskID string) {
	m.mu.Lock()
	entries := m.byTask[taskID]
	delete(m.byTask, taskID)
	m.mu.Unlock()

	for i := len(entries) - 1; i >= 0; i-- {
		m.release(entries[i])
	}
}

// ReleaseAll releases every resource registered under any task, for process
// shutdown.
func (m *Manager) ReleaseAll() {
	m.mu.Lock()
	taskIDs := make([]string, 0, len(m.byTask))
	for taskID := range m.byTask {
		taskIDs = append(taskIDs, taskID)
	}
	m.mu.Unlock()

	for _, taskID := range taskIDs {
		m.ReleaseTask(taskID)
	}
}

// ResourceCount reports how many resources remain registered for taskID
// (released or not); intended for tests and diagnostics.
func (m *Manager) ResourceCount(taskID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byTask[taskID])
}

func (m *Manager) release(e *entry) {
	m.mu.Lock()
	if e.released {
		m.mu.Unlock()
		return
	}
	e.released = true
	m.mu.Unlock()

	if err := e.release(); err != nil {
		m.logger.Warn().
			Err(err).
			Str("resource_id", e.resource.ResourceID).
			Str("kind", string(e.resource.Kind)).
			Msg("resource release failed")
	}
}
