package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/lancet/internal/common"
)

func newTestManager() *Manager {
	return NewManager(common.NewTestLogger(), NewMemStore(), 30*time.Second)
}

func TestMaxPagesZeroForbidsAllFetches(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	require.NoError(t, m.StartTask("t1", 0, time.Hour, 1.0, now))

	ok, reason := m.AdmitFetch("t1", now)
	assert.False(t, ok)
	assert.Equal(t, "page_limit", reason)
}

func TestPagesFetchedNeverExceedsMaxPages(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	require.NoError(t, m.StartTask("t1", 2, time.Hour, 1.0, now))

	ok, _ := m.AdmitFetch("t1", now)
	require.True(t, ok)
	require.NoError(t, m.RecordFetch("t1"))

	ok, _ = m.AdmitFetch("t1", now)
	require.True(t, ok)
	require.NoError(t, m.RecordFetch("t1"))

	ok, reason := m.AdmitFetch("t1", now)
	assert.False(t, ok)
	assert.Equal(t, "page_limit", reason)
}

func TestLLMRatioExemptDuringWarmup(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	require.NoError(t, m.StartTask("t1", 100, time.Hour, 0.1, now))

	ok, _ := m.AdmitLLM("t1", 10*time.Second, now.Add(5*time.Second))
	assert.True(t, ok, "LLM ratio should not be enforced before the warm-up window elapses")
}

func TestLLMRatioEnforcedAfterWarmup(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	require.NoError(t, m.StartTask("t1", 100, time.Hour, 0.1, now))

	// 40s elapsed, requesting a 30s LLM call against a 10% ratio cap.
	ok, reason := m.AdmitLLM("t1", 30*time.Second, now.Add(40*time.Second))
	assert.False(t, ok)
	assert.Equal(t, "llm_ratio", reason)
}

func TestExceededBudgetFailsFastOnFurtherAdmission(t *testing.T) {
	m := newTestManager()
	now := time.Now()
	require.NoError(t, m.StartTask("t1", 0, time.Hour, 1.0, now))

	ok, _ := m.AdmitFetch("t1", now)
	require.False(t, ok)

	ok, reason := m.AdmitFetch("t1", now)
	assert.False(t, ok)
	assert.Equal(t, "page_limit", reason)
}
