// Package queue implements the Job Scheduler (K) and Queue Worker Pool (L):
// a slot-based, priority-driven, database-backed job dispatcher with
// exclusivity constraints and cooperative cancellation.
package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/budget"
	"github.com/ternarybob/lancet/internal/models"
)

// JobStore is the durable CAS persistence the scheduler drives. Implemented
// by internal/storage/sqlite.JobStore.
type JobStore interface {
	Insert(ctx context.Context, job models.Job) error
	ClaimNext(ctx context.Context, slot models.Slot, now time.Time) (*models.Job, error)
	FinalizeTerminal(ctx context.Context, jobID string, state models.JobState, output, errMsg string, now time.Time) (bool, error)
	Cancel(ctx context.Context, jobID string, now time.Time) (bool, error)
	Get(ctx context.Context, jobID string) (*models.Job, error)
	StartupReset(ctx context.Context, now time.Time) (int, error)
	RunningCountForSlot(ctx context.Context, slot models.Slot) (int, error)
	AnyRunningInSlots(ctx context.Context, slots []models.Slot) (bool, error)
	RecentForTask(ctx context.Context, taskID string, limit int) ([]models.Job, error)
	QueueDepthAndRunning(ctx context.Context, taskID string) (depth int, running int, err error)
	ExistsCitationGraphForSearch(ctx context.Context, searchID string) (bool, error)
}

// SubmitResult is the outcome of a submit() call.
type SubmitResult struct {
	Accepted bool
	JobID    string
	Slot     models.Slot
	ETA      time.Duration
	Reason   string
}

// Status is the get_status()-shaped view over a task's jobs.
type Status struct {
	QueueDepth   int
	Running      int
	RecentJobs   []models.Job
	AwaitingAuth []models.Job
}

// Scheduler owns submit/cancel/status/startup_reset and the kind→slot→priority
// table and exclusivity groups. It never dispatches a job itself — claim
// happens in the worker pool — but it enforces pre-admission checks at
// submit time so a rejected job never leaves a half-queued row.
type Scheduler struct {
	logger      arbor.ILogger
	store       JobStore
	budget      *budget.Manager
	slotLimits  map[models.Slot]int
	events      *EventBus
	mu          sync.Mutex
}

func NewScheduler(logger arbor.ILogger, store JobStore, budgetMgr *budget.Manager, slotLimits map[models.Slot]int, events *EventBus) *Scheduler {
	return &Scheduler{logger: logger, store: store, budget: budgetMgr, slotLimits: slotLimits, events: events}
}

// Submit enqueues a new job. priority, if nil, defaults to the kind's table priority.
func (s *Scheduler) Submit(ctx context.Context, kind models.JobKind, input string, priority *int, taskID, causeID string, now time.Time) SubmitResult {
	slot, ok := models.SlotForKind(kind)
	if !ok {
		return SubmitResult{Accepted: false, Reason: fmt.Sprintf("unknown_kind:%s", kind)}
	}
	p, _ := models.PriorityForKind(kind)
	if priority != nil {
		p = *priority
	}

	if taskID != "" && kind == models.JobKindFetch {
		// Only a task with a started budget is subject to fetch admission.
		if _, known := s.budget.Snapshot(taskID); known {
			if ok, reason := s.budget.AdmitFetch(taskID, now); !ok {
				return SubmitResult{Accepted: false, Reason: fmt.Sprintf("budget_exceeded:%s", reason)}
			}
		}
	}

	if busy, err := s.exclusiveSlotBusy(ctx, slot); err != nil {
		s.logger.Warn().Err(err).Msg("exclusivity check failed, rejecting submit")
		return SubmitResult{Accepted: false, Reason: "internal_error"}
	} else if busy {
		return SubmitResult{Accepted: false, Reason: "exclusive_slot_busy"}
	}

	job := models.Job{
		ID:       uuid.NewString(),
		TaskID:   taskID,
		Kind:     kind,
		Priority: p,
		Slot:     slot,
		State:    models.JobStateQueued,
		Input:    input,
		QueuedAt: now,
		CauseID:  causeID,
	}
	if err := s.store.Insert(ctx, job); err != nil {
		s.logger.Error().Err(err).Msg("failed to insert job")
		return SubmitResult{Accepted: false, Reason: "internal_error"}
	}

	depth, err := s.store.RunningCountForSlot(ctx, slot)
	if err != nil {
		depth = 0
	}
	eta := estimateETA(depth, s.slotLimits[slot])

	s.logger.Info().Str("job_id", job.ID).Str("kind", string(kind)).Str("slot", string(slot)).Int("priority", p).Msg("job submitted")
	return SubmitResult{Accepted: true, JobID: job.ID, Slot: slot, ETA: eta}
}

// exclusiveSlotBusy reports whether slot belongs to an exclusivity group
// that already has a running job in a different member slot.
func (s *Scheduler) exclusiveSlotBusy(ctx context.Context, slot models.Slot) (bool, error) {
	for _, group := range models.ExclusiveSlotGroups {
		inGroup := false
		var others []models.Slot
		for _, g := range group {
			if g == slot {
				inGroup = true
			} else {
				others = append(others, g)
			}
		}
		if !inGroup {
			continue
		}
		busy, err := s.store.AnyRunningInSlots(ctx, others)
		if err != nil {
			return false, err
		}
		if busy {
			return true, nil
		}
	}
	return false, nil
}

// Cancel transitions a job to cancelled from {queued, running}.
func (s *Scheduler) Cancel(ctx context.Context, jobID string, now time.Time) (bool, error) {
	ok, err := s.store.Cancel(ctx, jobID, now)
	if err != nil {
		return false, err
	}
	if ok {
		job, _ := s.store.Get(ctx, jobID)
		if job != nil && s.events != nil {
			s.events.Signal(job.TaskID)
		}
	}
	return ok, nil
}

// StatusOf returns a job row by id, or nil if it doesn't exist.
func (s *Scheduler) StatusOf(ctx context.Context, jobID string) (*models.Job, error) {
	return s.store.Get(ctx, jobID)
}

// TaskStatus assembles the get_status() shape for a task.
func (s *Scheduler) TaskStatus(ctx context.Context, taskID string, recentLimit int) (Status, error) {
	depth, running, err := s.store.QueueDepthAndRunning(ctx, taskID)
	if err != nil {
		return Status{}, err
	}
	recent, err := s.store.RecentForTask(ctx, taskID, recentLimit)
	if err != nil {
		return Status{}, err
	}
	var awaiting []models.Job
	for _, j := range recent {
		if j.State == models.JobStateAwaitingAuth {
			awaiting = append(awaiting, j)
		}
	}
	return Status{QueueDepth: depth, Running: running, RecentJobs: recent, AwaitingAuth: awaiting}, nil
}

// StartupReset must run once before any worker starts.
func (s *Scheduler) StartupReset(ctx context.Context, now time.Time) (int, error) {
	return s.store.StartupReset(ctx, now)
}

// estimateETA is a coarse queue-position estimate: full slots push the ETA
// out by a fixed per-slot service-time assumption.
func estimateETA(runningCount, limit int) time.Duration {
	if limit <= 0 {
		return 0
	}
	if runningCount < limit {
		return 0
	}
	const assumedServiceTime = 5 * time.Second
	return assumedServiceTime
}
