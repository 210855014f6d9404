// Package budget implements per-task page/time/LLM-ratio admission control
//.
package budget

import (
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/models"
)

// AdmissionKind is what the caller is asking permission to do.
type AdmissionKind string

const (
	AdmitFetch AdmissionKind = "fetch"
	AdmitLLM   AdmissionKind = "llm"
)

// Store persists TaskBudget rows. A minimal in-memory implementation is
// provided below; production wiring may back this with the sqlite jobs database.
type Store interface {
	Get(taskID string) (models.TaskBudget, bool)
	Put(b models.TaskBudget) error
}

// MemStore is a concurrency-safe in-memory Store.
type MemStore struct {
	mu   sync.Mutex
	data map[string]models.TaskBudget
}

func NewMemStore() *MemStore { return &MemStore{data: make(map[string]models.TaskBudget)} }

func (s *MemStore) Get(taskID string) (models.TaskBudget, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[taskID]
	return b, ok
}

func (s *MemStore) Put(b models.TaskBudget) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[b.TaskID] = b
	return nil
}

// Manager enforces admission and post-completion accounting for task budgets.
type Manager struct {
	logger       arbor.ILogger
	store        Store
	warmupWindow time.Duration
	mu           sync.Mutex
}

func NewManager(logger arbor.ILogger, store Store, warmupWindow time.Duration) *Manager {
	return &Manager{logger: logger, store: store, warmupWindow: warmupWindow}
}

// StartTask creates a budget for a new task. maxPages==0 forbids all fetches.
func (m *Manager) StartTask(taskID string, maxPages int, maxTime time.Duration, maxLLMRatio float64, now time.Time) error {
	return m.store.Put(models.TaskBudget{
		TaskID:      taskID,
		StartTime:   now,
		MaxPages:    maxPages,
		MaxTime:     maxTime,
		MaxLLMRatio: maxLLMRatio,
		Active:      true,
	})
}

// Snapshot returns the current budget state for taskID, for status reporting.
func (m *Manager) Snapshot(taskID string) (models.TaskBudget, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store.Get(taskID)
}

// AdmitFetch reports whether one more fetch may proceed for taskID.
func (m *Manager) AdmitFetch(taskID string, now time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.store.Get(taskID)
	if !ok {
		return false, "unknown_task"
	}
	if !b.Active {
		return false, string(b.ExceededReason)
	}
	if b.PagesFetched >= b.MaxPages {
		m.exceed(&b, models.ExceededPageLimit, now)
		return false, string(models.ExceededPageLimit)
	}
	if b.MaxTime > 0 && b.Elapsed(now) >= b.MaxTime {
		m.exceed(&b, models.ExceededTimeLimit, now)
		return false, string(models.ExceededTimeLimit)
	}
	return true, ""
}

// AdmitLLM reports whether an LLM call of estimated duration est may proceed,
// using a warm-up exemption: the ratio is not checked before elapsed reaches
// the configured warm-up window, and admission projects (llm+est)/(elapsed+est).
func (m *Manager) AdmitLLM(taskID string, est time.Duration, now time.Time) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.store.Get(taskID)
	if !ok {
		return false, "unknown_task"
	}
	if !b.Active {
		return false, string(b.ExceededReason)
	}
	elapsed := b.Elapsed(now)
	if elapsed < m.warmupWindow {
		return true, ""
	}
	projectedElapsed := elapsed + est
	projectedLLM := b.LLMSeconds + est.Seconds()
	if projectedElapsed.Seconds() <= 0 {
		return true, ""
	}
	ratio := projectedLLM / projectedElapsed.Seconds()
	if ratio > b.MaxLLMRatio {
		m.exceed(&b, models.ExceededLLMRatio, now)
		return false, string(models.ExceededLLMRatio)
	}
	return true, ""
}

// RecordFetch increments the page counter after a fetch job completes.
func (m *Manager) RecordFetch(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.store.Get(taskID)
	if !ok {
		return nil
	}
	b.PagesFetched++
	return m.store.Put(b)
}

// RecordLLM records wall-time spent in an LLM call after it completes.
func (m *Manager) RecordLLM(taskID string, spent time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.store.Get(taskID)
	if !ok {
		return nil
	}
	b.LLMSeconds += spent.Seconds()
	return m.store.Put(b)
}

func (m *Manager) exceed(b *models.TaskBudget, reason models.ExceededReason, now time.Time) {
	b.Active = false
	b.ExceededReason = reason
	if err := m.store.Put(*b); err != nil {
		m.logger.Warn().Err(err).Str("task_id", b.TaskID).Msg("failed to persist exceeded budget")
	}
	m.logger.Info().Str("task_id", b.TaskID).Str("reason", string(reason)).Msg("task budget exceeded")
}
