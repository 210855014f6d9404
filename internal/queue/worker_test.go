package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/lancet/internal/budget"
	"github.com/ternarybob/lancet/internal/common"
	"github.com/ternarybob/lancet/internal/lifecycle"
	"github.com/ternarybob/lancet/internal/models"
)

func newTestPool(t *testing.T, store *memJobStore, actions map[models.JobKind]ActionFunc) (*WorkerPool, *Scheduler) {
	return newTestPoolWithLifecycle(t, store, actions, nil)
}

func newTestPoolWithLifecycle(t *testing.T, store *memJobStore, actions map[models.JobKind]ActionFunc, lifecycleMgr *lifecycle.Manager) (*WorkerPool, *Scheduler) {
	logger := common.NewTestLogger()
	budgetMgr := budget.NewManager(logger, budget.NewMemStore(), 30*time.Second)
	limits := map[models.Slot]int{models.SlotNetworkClient: 2}
	events := NewEventBus()
	s := NewScheduler(logger, store, budgetMgr, limits, events)
	pool := NewWorkerPool(logger, store, s, events, actions, limits, 10*time.Millisecond, lifecycleMgr)
	return pool, s
}

func TestWorkerClaimsAndCompletesSingleJob(t *testing.T) {
	store := newMemJobStore()
	done := make(chan struct{})
	actions := map[models.JobKind]ActionFunc{
		models.JobKindFetch: func(ctx context.Context, job models.Job) (ActionResult, error) {
			close(done)
			return ActionResult{Output: "ok"}, nil
		},
	}
	pool, s := newTestPool(t, store, actions)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	res := s.Submit(ctx, models.JobKindFetch, "{}", nil, "task-1", "", time.Now())
	require.True(t, res.Accepted)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("action never ran")
	}

	require.Eventually(t, func() bool {
		job, err := store.Get(ctx, res.JobID)
		return err == nil && job != nil && job.State == models.JobStateCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestWorkerFailureWritesErrorNeverEmpty(t *testing.T) {
	store := newMemJobStore()
	actions := map[models.JobKind]ActionFunc{
		models.JobKindFetch: func(ctx context.Context, job models.Job) (ActionResult, error) {
			return ActionResult{}, errors.New("")
		},
	}
	pool, s := newTestPool(t, store, actions)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	res := s.Submit(ctx, models.JobKindFetch, "{}", nil, "task-1", "", time.Now())
	require.True(t, res.Accepted)

	require.Eventually(t, func() bool {
		job, err := store.Get(ctx, res.JobID)
		return err == nil && job != nil && job.State == models.JobStateFailed
	}, time.Second, 10*time.Millisecond)

	job, err := store.Get(ctx, res.JobID)
	require.NoError(t, err)
	assert.NotEmpty(t, job.Error)
}

func TestCancelTaskStopsInFlightActionWithoutKillingWorker(t *testing.T) {
	store := newMemJobStore()
	started := make(chan struct{})
	actions := map[models.JobKind]ActionFunc{
		models.JobKindFetch: func(ctx context.Context, job models.Job) (ActionResult, error) {
			if job.TaskID != "task-1" {
				return ActionResult{Output: "ok"}, nil
			}
			close(started)
			<-ctx.Done()
			return ActionResult{}, ctx.Err()
		},
	}
	pool, s := newTestPool(t, store, actions)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	res := s.Submit(ctx, models.JobKindFetch, "{}", nil, "task-1", "", time.Now())
	require.True(t, res.Accepted)

	<-started
	n := pool.CancelTask("task-1")
	assert.Equal(t, 1, n)

	require.Eventually(t, func() bool {
		job, err := store.Get(ctx, res.JobID)
		return err == nil && job != nil && job.State == models.JobStateCancelled
	}, time.Second, 10*time.Millisecond)

	// Worker must still be alive: submit a second job for a different task
	// and confirm it is claimed and completed.
	res2 := s.Submit(ctx, models.JobKindFetch, "{}", nil, "task-2", "", time.Now())
	require.True(t, res2.Accepted)
	require.Eventually(t, func() bool {
		job, err := store.Get(ctx, res2.JobID)
		return err == nil && job != nil && job.State == models.JobStateCompleted
	}, time.Second, 10*time.Millisecond)
}

func TestTargetExecutionCompletionEnqueuesVerifyNLIUnconditionally(t *testing.T) {
	store := newMemJobStore()
	actions := map[models.JobKind]ActionFunc{
		models.JobKindTargetQueue: func(ctx context.Context, job models.Job) (ActionResult, error) {
			return ActionResult{Output: "{}"}, nil
		},
	}
	pool, s := newTestPool(t, store, actions)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	res := s.Submit(ctx, models.JobKindTargetQueue, "{}", nil, "task-1", "", time.Now())
	require.True(t, res.Accepted)

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		for _, j := range store.jobs {
			if j.Kind == models.JobKindVerifyNLI && j.TaskID == "task-1" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestTerminalFinalizationReleasesTaskLifecycleResources(t *testing.T) {
	store := newMemJobStore()
	lifecycleMgr := lifecycle.NewManager(common.NewTestLogger())
	released := make(chan struct{})
	lifecycleMgr.Register("task-1", models.Resource{ResourceID: "browser-0", Kind: models.ResourceBrowser}, func() error {
		close(released)
		return nil
	})

	actions := map[models.JobKind]ActionFunc{
		models.JobKindFetch: func(ctx context.Context, job models.Job) (ActionResult, error) {
			return ActionResult{Output: "ok"}, nil
		},
	}
	pool, s := newTestPoolWithLifecycle(t, store, actions, lifecycleMgr)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	defer pool.Stop()

	res := s.Submit(ctx, models.JobKindFetch, "{}", nil, "task-1", "", time.Now())
	require.True(t, res.Accepted)

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("lifecycle resource was never released on terminal finalization")
	}
	assert.Equal(t, 0, lifecycleMgr.ResourceCount("task-1"))
}

func TestCancelRegistryDeregistersAfterCompletion(t *testing.T) {
	r := newCancelRegistry()
	id := uuid.NewString()
	_, cancel := context.WithCancel(context.Background())
	r.register("task-1", id, cancel)
	assert.Equal(t, 1, r.cancelAll("task-1"))
	r.deregister("task-1", id)
	assert.Equal(t, 0, r.cancelAll("task-1"))
}
