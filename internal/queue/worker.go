package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/common"
	"github.com/ternarybob/lancet/internal/lifecycle"
	"github.com/ternarybob/lancet/internal/models"
)

// ActionResult is what a job action hands back to the worker loop for
// finalisation and follow-up enqueueing.
type ActionResult struct {
	Output                string
	SearchID              string
	PaperIDsWithAbstracts bool
}

// ActionFunc executes one job's work. Implementations must honor ctx
// cancellation at every suspension point.
type ActionFunc func(ctx context.Context, job models.Job) (ActionResult, error)

// targetExecutionKinds are the job kinds whose successful completion
// triggers the unconditional verify_nli / conditional citation_graph
// follow-up enqueue.
var targetExecutionKinds = map[models.JobKind]bool{
	models.JobKindTargetQueue: true,
}

// cancelRegistry tracks in-flight action cancel funcs per task, so
// cancel_task can abort every job belonging to a task without killing the
// worker goroutine running it.
type cancelRegistry struct {
	mu  sync.Mutex
	byTask map[string]map[string]context.CancelFunc
}

func newCancelRegistry() *cancelRegistry {
	return &cancelRegistry{byTask: make(map[string]map[string]context.CancelFunc)}
}

func (r *cancelRegistry) register(taskID, jobID string, cancel context.CancelFunc) {
	if taskID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byTask[taskID] == nil {
		r.byTask[taskID] = make(map[string]context.CancelFunc)
	}
	r.byTask[taskID][jobID] = cancel
}

func (r *cancelRegistry) deregister(taskID, jobID string) {
	if taskID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byTask[taskID]; ok {
		delete(m, jobID)
		if len(m) == 0 {
			delete(r.byTask, taskID)
		}
	}
}

// cancelAll fires every registered cancel func for taskID and reports how many fired.
func (r *cancelRegistry) cancelAll(taskID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byTask[taskID]
	if !ok {
		return 0
	}
	n := 0
	for _, cancel := range m {
		cancel()
		n++
	}
	return n
}

// WorkerPool runs N goroutines per slot family, each looping
// claim -> execute -> finalize -> notify.
type WorkerPool struct {
	logger       arbor.ILogger
	store        JobStore
	scheduler    *Scheduler
	events       *EventBus
	actions      map[models.JobKind]ActionFunc
	pollInterval time.Duration
	slotLimits   map[models.Slot]int
	cancels      *cancelRegistry
	lifecycleMgr *lifecycle.Manager

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewWorkerPool(logger arbor.ILogger, store JobStore, scheduler *Scheduler, events *EventBus, actions map[models.JobKind]ActionFunc, slotLimits map[models.Slot]int, pollInterval time.Duration, lifecycleMgr *lifecycle.Manager) *WorkerPool {
	return &WorkerPool{
		logger:       logger,
		store:        store,
		scheduler:    scheduler,
		events:       events,
		actions:      actions,
		pollInterval: pollInterval,
		slotLimits:   slotLimits,
		cancels:      newCancelRegistry(),
		lifecycleMgr: lifecycleMgr,
	}
}

// Start launches the worker goroutines and returns immediately. Callers must
// call Stop on shutdown.
func (p *WorkerPool) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for slot, limit := range p.slotLimits {
		for i := 0; i < limit; i++ {
			p.wg.Add(1)
			workerID := i
			slot := slot
			name := fmt.Sprintf("queue-worker-%s-%d", slot, workerID)
			common.SafeGoWithContext(ctx, p.logger, name, func() {
				defer p.wg.Done()
				p.loop(ctx, slot, workerID)
			})
		}
	}
}

// Stop cancels every worker loop and waits for them to exit. In-flight
// actions are cancelled too; running jobs revert to their CAS-safe outcome.
func (p *WorkerPool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	if p.lifecycleMgr != nil {
		p.lifecycleMgr.ReleaseAll()
	}
}

// CancelTask aborts every in-flight action for taskID without killing any worker.
func (p *WorkerPool) CancelTask(taskID string) int {
	return p.cancels.cancelAll(taskID)
}

func (p *WorkerPool) loop(ctx context.Context, slot models.Slot, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.store.ClaimNext(ctx, slot, time.Now())
		if err != nil {
			p.logger.Error().Err(err).Str("slot", string(slot)).Int("worker", workerID).Msg("claim failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.pollInterval):
			}
			continue
		}

		p.execute(ctx, *job)
	}
}

func (p *WorkerPool) execute(parent context.Context, job models.Job) {
	action, ok := p.actions[job.Kind]
	if !ok {
		p.finalize(parent, job, models.JobStateFailed, "", "no_action_registered_for_kind", ActionResult{})
		return
	}

	actionCtx, cancel := context.WithCancel(parent)
	p.cancels.register(job.TaskID, job.ID, cancel)
	defer func() {
		p.cancels.deregister(job.TaskID, job.ID)
		cancel()
	}()

	result, err := action(actionCtx, job)

	if actionCtx.Err() == context.Canceled && parent.Err() == nil {
		// Cancelled by cancel_task, not by pool shutdown.
		p.finalize(parent, job, models.JobStateCancelled, result.Output, "cancelled", result)
		return
	}
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = "error: (no message)"
		}
		p.finalize(parent, job, models.JobStateFailed, result.Output, msg, result)
		return
	}
	p.finalize(parent, job, models.JobStateCompleted, result.Output, "", result)
}

func (p *WorkerPool) finalize(ctx context.Context, job models.Job, state models.JobState, output, errMsg string, result ActionResult) {
	ok, err := p.store.FinalizeTerminal(ctx, job.ID, state, output, errMsg, time.Now())
	if err != nil {
		p.logger.Error().Err(err).Str("job_id", job.ID).Msg("failed to finalize job")
		return
	}
	if !ok {
		// A concurrent cancel already won; this worker's result is discarded.
		p.logger.Debug().Str("job_id", job.ID).Msg("finalize lost race to concurrent terminal write")
		return
	}

	if state.IsTerminal() {
		if p.events != nil && job.TaskID != "" {
			p.events.Signal(job.TaskID)
		}
		if p.lifecycleMgr != nil && job.TaskID != "" {
			// Release only once the task has no queued or running job left.
			depth, running, err := p.store.QueueDepthAndRunning(ctx, job.TaskID)
			if err == nil && depth == 0 && running == 0 {
				p.lifecycleMgr.ReleaseTask(job.TaskID)
			}
		}
	}

	if state == models.JobStateCompleted && targetExecutionKinds[job.Kind] && job.TaskID != "" {
		p.enqueueFollowUps(ctx, job, result)
	}
}

func (p *WorkerPool) enqueueFollowUps(ctx context.Context, job models.Job, result ActionResult) {
	now := time.Now()

	verifyResult := p.scheduler.Submit(ctx, models.JobKindVerifyNLI, result.Output, nil, job.TaskID, job.ID, now)
	if !verifyResult.Accepted {
		p.logger.Warn().Str("task_id", job.TaskID).Str("reason", verifyResult.Reason).Msg("failed to enqueue verify_nli follow-up")
	}

	// PaperIDsWithAbstracts is only ever set by a collaborator action (no
	// kind currently registered fills it in); this branch stays dead until
	// one does, by design, not by oversight.
	if !result.PaperIDsWithAbstracts || result.SearchID == "" {
		return
	}
	exists, err := p.store.ExistsCitationGraphForSearch(ctx, result.SearchID)
	if err != nil {
		p.logger.Warn().Err(err).Str("search_id", result.SearchID).Msg("failed to check existing citation_graph job")
		return
	}
	if exists {
		return
	}
	cgResult := p.scheduler.Submit(ctx, models.JobKindCitationGraph, result.Output, nil, job.TaskID, job.ID, now)
	if !cgResult.Accepted {
		p.logger.Warn().Str("task_id", job.TaskID).Str("reason", cgResult.Reason).Msg("failed to enqueue citation_graph follow-up")
	}
}
