package queue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/lancet/internal/common"
	"github.com/ternarybob/lancet/internal/models"
)

func TestAuthQueueEnqueueTransitionsToAwaitingAuth(t *testing.T) {
	store := newMemJobStore()
	ctx := context.Background()
	now := time.Now()

	id := uuid.NewString()
	store.jobs[id] = &models.Job{ID: id, TaskID: "t", Kind: models.JobKindTargetQueue, Slot: models.SlotNetworkClient, State: models.JobStateRunning, QueuedAt: now}

	q := NewAuthQueue(common.NewTestLogger(), store, newTestScheduler(store), nil)
	queueID, err := q.Enqueue(ctx, "t", id, "captcha")
	require.NoError(t, err)
	assert.Equal(t, id, queueID)
	assert.Equal(t, models.JobStateAwaitingAuth, store.jobs[id].State)
}

func TestAuthQueueEnqueueSignalsTaskEvent(t *testing.T) {
	store := newMemJobStore()
	ctx := context.Background()
	now := time.Now()

	id := uuid.NewString()
	store.jobs[id] = &models.Job{ID: id, TaskID: "t", Kind: models.JobKindTargetQueue, Slot: models.SlotNetworkClient, State: models.JobStateRunning, QueuedAt: now}

	scheduler, events := newTestSchedulerWithEvents(store)
	q := NewAuthQueue(common.NewTestLogger(), store, scheduler, events)

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	waitDone := make(chan struct{})
	go func() {
		events.Wait(waitCtx, "t")
		close(waitDone)
	}()

	// Give the waiter a moment to register before the signal fires.
	time.Sleep(10 * time.Millisecond)

	_, err := q.Enqueue(ctx, "t", id, "captcha")
	require.NoError(t, err)

	select {
	case <-waitDone:
	case <-time.After(time.Second):
		t.Fatal("awaiting_auth transition never signalled the task event")
	}
}

func TestAuthQueueEnqueueNoopWhenNotRunning(t *testing.T) {
	store := newMemJobStore()
	ctx := context.Background()
	now := time.Now()

	id := uuid.NewString()
	store.jobs[id] = &models.Job{ID: id, TaskID: "t", Kind: models.JobKindTargetQueue, Slot: models.SlotNetworkClient, State: models.JobStateCompleted, QueuedAt: now}

	q := NewAuthQueue(common.NewTestLogger(), store, newTestScheduler(store), nil)
	queueID, err := q.Enqueue(ctx, "t", id, "captcha")
	require.NoError(t, err)
	assert.Empty(t, queueID)
}

func TestResolveAuthResubmitsOnResolved(t *testing.T) {
	store := newMemJobStore()
	ctx := context.Background()
	now := time.Now()

	id := uuid.NewString()
	store.jobs[id] = &models.Job{ID: id, TaskID: "t", Kind: models.JobKindTargetQueue, Slot: models.SlotNetworkClient, State: models.JobStateAwaitingAuth, Input: `{"kind":"url","value":"https://example.com"}`, QueuedAt: now}

	q := NewAuthQueue(common.NewTestLogger(), store, newTestScheduler(store), nil)
	ok, err := q.ResolveAuth(ctx, id, "resolved")
	require.NoError(t, err)
	assert.True(t, ok)

	var resubmitted int
	for _, j := range store.jobs {
		if j.ID != id && j.TaskID == "t" && j.State == models.JobStateQueued {
			resubmitted++
		}
	}
	assert.Equal(t, 1, resubmitted, "resolved outcome must resubmit a fresh job")
}

func TestResolveAuthLeavesAbandonedJobTerminal(t *testing.T) {
	store := newMemJobStore()
	ctx := context.Background()
	now := time.Now()

	id := uuid.NewString()
	store.jobs[id] = &models.Job{ID: id, TaskID: "t", Kind: models.JobKindTargetQueue, Slot: models.SlotNetworkClient, State: models.JobStateAwaitingAuth, QueuedAt: now}

	q := NewAuthQueue(common.NewTestLogger(), store, newTestScheduler(store), nil)
	ok, err := q.ResolveAuth(ctx, id, "abandoned")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.JobStateAwaitingAuth, store.jobs[id].State)
	assert.Len(t, store.jobs, 1, "abandoned outcome must not resubmit")
}

func TestResolveAuthUnknownJobReturnsFalse(t *testing.T) {
	store := newMemJobStore()
	q := NewAuthQueue(common.NewTestLogger(), store, newTestScheduler(store), nil)
	ok, err := q.ResolveAuth(context.Background(), "missing", "resolved")
	require.NoError(t, err)
	assert.False(t, ok)
}
