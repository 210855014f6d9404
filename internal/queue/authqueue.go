package queue

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/models"
)

// AuthQueue transitions a challenged job to awaiting_auth and resolves it
// later via resolve_auth, satisfying internal/fetch.AuthQueue.
type AuthQueue struct {
	logger    arbor.ILogger
	store     JobStore
	scheduler *Scheduler
	events    *EventBus
}

func NewAuthQueue(logger arbor.ILogger, store JobStore, scheduler *Scheduler, events *EventBus) *AuthQueue {
	return &AuthQueue{logger: logger, store: store, scheduler: scheduler, events: events}
}

// Enqueue transitions jobID to awaiting_auth. The job's own id doubles as
// the queue id resolve_auth later addresses.
func (q *AuthQueue) Enqueue(ctx context.Context, taskID, jobID, class string) (string, error) {
	ok, err := q.store.FinalizeTerminal(ctx, jobID, models.JobStateAwaitingAuth, "", class, time.Now())
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	q.logger.Info().Str("task_id", taskID).Str("job_id", jobID).Str("class", class).Msg("job awaiting human auth resolution")
	if q.events != nil && taskID != "" {
		q.events.Signal(taskID)
	}
	return jobID, nil
}

// ResolveAuth implements resolve_auth(queue_id, outcome). "resolved"
// resubmits a fresh job cloned from the original input so the worker pool
// retries the navigation; "abandoned" leaves the job terminal as-is.
func (q *AuthQueue) ResolveAuth(ctx context.Context, queueID, outcome string) (bool, error) {
	job, err := q.store.Get(ctx, queueID)
	if err != nil {
		return false, err
	}
	if job == nil || job.State != models.JobStateAwaitingAuth {
		return false, nil
	}

	if outcome != "resolved" {
		q.logger.Info().Str("queue_id", queueID).Str("outcome", outcome).Msg("auth intervention abandoned")
		return true, nil
	}

	result := q.scheduler.Submit(ctx, job.Kind, job.Input, &job.Priority, job.TaskID, job.ID, time.Now())
	if !result.Accepted {
		q.logger.Warn().Str("queue_id", queueID).Str("reason", result.Reason).Msg("failed to resubmit job after auth resolution")
		return false, nil
	}
	return true, nil
}
