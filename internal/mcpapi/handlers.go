package mcpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/budget"
	"github.com/ternarybob/lancet/internal/ingest"
	"github.com/ternarybob/lancet/internal/models"
	"github.com/ternarybob/lancet/internal/queue"
)

func errorResult(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(fmt.Sprintf(format, args...))},
	}, nil
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return errorResult("failed to encode result: %v", err)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(string(data))}}, nil
}

// handleSubmitTarget implements submit_target. A task's first submission
// starts its budget from request overrides or configured defaults; later
// submissions reuse whatever budget is already active.
func handleSubmitTarget(scheduler *queue.Scheduler, budgetMgr *budget.Manager, defaults BudgetDefaults, logger arbor.ILogger) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil || taskID == "" {
			return errorResult("task_id is required")
		}
		kind, err := request.RequireString("kind")
		if err != nil || kind == "" {
			return errorResult("kind is required")
		}
		value, err := request.RequireString("value")
		if err != nil || value == "" {
			return errorResult("value is required")
		}

		input := ingest.TargetInput{
			Kind:  ingest.TargetKind(kind),
			Value: value,
			Options: ingest.TargetOptions{
				UseTor:         request.GetBool("use_tor", false),
				UserInitiated:  request.GetBool("user_initiated", false),
				MaxPages:       request.GetInt("max_pages", defaults.MaxPages),
				MaxTimeSeconds: request.GetInt("max_time_seconds", int(defaults.MaxTime)),
				MaxLLMRatio:    request.GetFloat("max_llm_ratio", defaults.MaxLLMRatio),
			},
		}

		now := time.Now()
		if _, ok := budgetMgr.Snapshot(taskID); !ok {
			if err := budgetMgr.StartTask(taskID, input.Options.MaxPages, time.Duration(input.Options.MaxTimeSeconds)*time.Second, input.Options.MaxLLMRatio, now); err != nil {
				logger.Warn().Err(err).Str("task_id", taskID).Msg("failed to start task budget")
			}
		}

		data, err := json.Marshal(input)
		if err != nil {
			return errorResult("failed to encode target input: %v", err)
		}

		result := scheduler.Submit(ctx, models.JobKindTargetQueue, string(data), nil, taskID, "", now)
		if !result.Accepted {
			return errorResult("submit rejected: %s", result.Reason)
		}
		queueDepth := 0
		if status, err := scheduler.TaskStatus(ctx, taskID, 0); err == nil {
			queueDepth = status.QueueDepth
		}
		return jsonResult(map[string]interface{}{
			"job_id":       result.JobID,
			"queue_depth":  queueDepth,
			"eta_seconds":  result.ETA.Seconds(),
		})
	}
}

// handleCancelTask implements cancel_task. Queued jobs are cancelled via the
// scheduler; in-flight jobs are aborted through the worker pool's cancel
// registry. Only mode="immediate" (the default) is supported.
func handleCancelTask(scheduler *queue.Scheduler, pool *queue.WorkerPool, store queue.JobStore) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil || taskID == "" {
			return errorResult("task_id is required")
		}
		if mode := request.GetString("mode", "immediate"); mode != "immediate" {
			return errorResult("unsupported cancel mode %q", mode)
		}

		recent, err := store.RecentForTask(ctx, taskID, 1000)
		if err != nil {
			return errorResult("failed to list jobs for task: %v", err)
		}

		cancelled := 0
		for _, job := range recent {
			if job.State != models.JobStateQueued {
				continue
			}
			ok, err := scheduler.Cancel(ctx, job.ID, time.Now())
			if err != nil {
				continue
			}
			if ok {
				cancelled++
			}
		}
		cancelled += pool.CancelTask(taskID)

		return jsonResult(map[string]interface{}{"cancelled_jobs": cancelled})
	}
}

// handleGetStatus implements get_status.
func handleGetStatus(scheduler *queue.Scheduler, budgetMgr *budget.Manager) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil || taskID == "" {
			return errorResult("task_id is required")
		}
		recentLimit := request.GetInt("recent_limit", 20)

		status, err := scheduler.TaskStatus(ctx, taskID, recentLimit)
		if err != nil {
			return errorResult("failed to fetch status: %v", err)
		}

		resp := map[string]interface{}{
			"queue": map[string]interface{}{
				"depth":   status.QueueDepth,
				"running": status.Running,
			},
			"recent_jobs":   status.RecentJobs,
			"awaiting_auth": status.AwaitingAuth,
		}
		if b, ok := budgetMgr.Snapshot(taskID); ok {
			resp["budget"] = b
		}
		return jsonResult(resp)
	}
}

// handleWaitForChange implements wait_for_change.
func handleWaitForChange(events *queue.EventBus) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		taskID, err := request.RequireString("task_id")
		if err != nil || taskID == "" {
			return errorResult("task_id is required")
		}
		timeoutS := request.GetInt("timeout_s", 30)

		waitCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutS)*time.Second)
		defer cancel()

		changed := events.Wait(waitCtx, taskID)
		return jsonResult(map[string]interface{}{"changed": changed})
	}
}

// handleResolveAuth implements resolve_auth.
func handleResolveAuth(authQueue *queue.AuthQueue) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		queueID, err := request.RequireString("queue_id")
		if err != nil || queueID == "" {
			return errorResult("queue_id is required")
		}
		outcome, err := request.RequireString("outcome")
		if err != nil || outcome == "" {
			return errorResult("outcome is required")
		}

		ok, err := authQueue.ResolveAuth(ctx, queueID, outcome)
		if err != nil {
			return errorResult("failed to resolve auth: %v", err)
		}
		return jsonResult(map[string]interface{}{"ok": ok})
	}
}
