package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/lancet/internal/budget"
	"github.com/ternarybob/lancet/internal/common"
	"github.com/ternarybob/lancet/internal/models"
)

// memJobStore is an in-memory JobStore double exercising the same CAS
// contract the sqlite-backed store implements.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]*models.Job)}
}

func (s *memJobStore) Insert(ctx context.Context, job models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memJobStore) ClaimNext(ctx context.Context, slot models.Slot, now time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *models.Job
	for _, j := range s.jobs {
		if j.Slot != slot || j.State != models.JobStateQueued {
			continue
		}
		if best == nil || j.Priority < best.Priority || (j.Priority == best.Priority && j.QueuedAt.Before(best.QueuedAt)) {
			best = j
		}
	}
	if best == nil {
		return nil, nil
	}
	best.State = models.JobStateRunning
	started := now
	best.StartedAt = &started
	cp := *best
	return &cp, nil
}

func (s *memJobStore) FinalizeTerminal(ctx context.Context, jobID string, state models.JobState, output, errMsg string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || j.State != models.JobStateRunning {
		return false, nil
	}
	j.State = state
	j.Output = output
	j.Error = errMsg
	finished := now
	j.FinishedAt = &finished
	return true, nil
}

func (s *memJobStore) Cancel(ctx context.Context, jobID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok || (j.State != models.JobStateQueued && j.State != models.JobStateRunning) {
		return false, nil
	}
	j.State = models.JobStateCancelled
	finished := now
	j.FinishedAt = &finished
	return true, nil
}

func (s *memJobStore) Get(ctx context.Context, jobID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (s *memJobStore) StartupReset(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.State == models.JobStateQueued || j.State == models.JobStateRunning {
			j.State = models.JobStateFailed
			j.Error = models.ServerRestartResetReason
			finished := now
			j.FinishedAt = &finished
			n++
		}
	}
	return n, nil
}

func (s *memJobStore) RunningCountForSlot(ctx context.Context, slot models.Slot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Slot == slot && j.State == models.JobStateRunning {
			n++
		}
	}
	return n, nil
}

func (s *memJobStore) AnyRunningInSlots(ctx context.Context, slots []models.Slot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[models.Slot]bool)
	for _, sl := range slots {
		set[sl] = true
	}
	for _, j := range s.jobs {
		if set[j.Slot] && j.State == models.JobStateRunning {
			return true, nil
		}
	}
	return false, nil
}

func (s *memJobStore) RecentForTask(ctx context.Context, taskID string, limit int) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Job
	for _, j := range s.jobs {
		if j.TaskID == taskID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (s *memJobStore) QueueDepthAndRunning(ctx context.Context, taskID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	depth, running := 0, 0
	for _, j := range s.jobs {
		if j.TaskID != taskID {
			continue
		}
		switch j.State {
		case models.JobStateQueued:
			depth++
		case models.JobStateRunning:
			running++
		}
	}
	return depth, running, nil
}

func (s *memJobStore) ExistsCitationGraphForSearch(ctx context.Context, searchID string) (bool, error) {
	return false, nil
}

func newTestScheduler(store *memJobStore) *Scheduler {
	s, _ := newTestSchedulerWithEvents(store)
	return s
}

func newTestSchedulerWithEvents(store *memJobStore) (*Scheduler, *EventBus) {
	logger := common.NewTestLogger()
	budgetMgr := budget.NewManager(logger, budget.NewMemStore(), 30*time.Second)
	slotLimits := map[models.Slot]int{
		models.SlotNetworkClient: 4,
		models.SlotCPUNLP:        8,
		models.SlotGPU:           1,
		models.SlotBrowserHeadful: 1,
	}
	events := NewEventBus()
	return NewScheduler(logger, store, budgetMgr, slotLimits, events), events
}

func TestPriorityOrdering(t *testing.T) {
	store := newMemJobStore()
	s := newTestScheduler(store)
	ctx := context.Background()
	now := time.Now()

	priorities := []int{90, 10, 50}
	for _, p := range priorities {
		p := p
		res := s.Submit(ctx, models.JobKindTargetQueue, "{}", &p, "task-1", "", now)
		require.True(t, res.Accepted)
	}

	var claimed []int
	for i := 0; i < 3; i++ {
		job, err := store.ClaimNext(ctx, models.SlotNetworkClient, now)
		require.NoError(t, err)
		require.NotNil(t, job)
		claimed = append(claimed, job.Priority)
		_, err = store.FinalizeTerminal(ctx, job.ID, models.JobStateCompleted, "", "", now)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{10, 50, 90}, claimed)
}

func TestStartupResetOnlyTouchesQueuedAndRunning(t *testing.T) {
	store := newMemJobStore()
	ctx := context.Background()
	now := time.Now()

	seed := func(state models.JobState) {
		id := uuid.NewString()
		store.jobs[id] = &models.Job{ID: id, TaskID: "t", Kind: models.JobKindFetch, Slot: models.SlotNetworkClient, State: state, QueuedAt: now}
	}
	seed(models.JobStateQueued)
	seed(models.JobStateRunning)
	seed(models.JobStateCompleted)
	seed(models.JobStateCancelled)

	n, err := store.StartupReset(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n2, err := store.StartupReset(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n2, "startup_reset must be idempotent")
}

func TestExclusiveSlotGroupBlocksTheOtherMember(t *testing.T) {
	store := newMemJobStore()
	s := newTestScheduler(store)
	ctx := context.Background()
	now := time.Now()

	id := uuid.NewString()
	store.jobs[id] = &models.Job{ID: id, TaskID: "t", Kind: models.JobKindLLM, Slot: models.SlotGPU, State: models.JobStateRunning, QueuedAt: now}

	busy, err := s.exclusiveSlotBusy(ctx, models.SlotBrowserHeadful)
	require.NoError(t, err)
	assert.True(t, busy, "a running gpu job must block the browser_headful slot")

	busySameSlot, err := s.exclusiveSlotBusy(ctx, models.SlotGPU)
	require.NoError(t, err)
	assert.False(t, busySameSlot, "exclusivity blocks the other group member, not same-slot admission")

	res := s.Submit(ctx, models.JobKindFetch, "{}", nil, "t2", "", now)
	require.True(t, res.Accepted, "fetch on network_client is unaffected by gpu exclusivity")
}

func TestBudgetExceededRejectsFetchSubmit(t *testing.T) {
	store := newMemJobStore()
	s := newTestScheduler(store)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.budget.StartTask("t1", 0, time.Hour, 1.0, now))

	res := s.Submit(ctx, models.JobKindFetch, "{}", nil, "t1", "", now)
	assert.False(t, res.Accepted)
	assert.Contains(t, res.Reason, "budget_exceeded")
}
