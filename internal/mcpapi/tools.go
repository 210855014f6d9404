// Package mcpapi exposes the orchestrator-facing tool surface over MCP:
// submit_target, cancel_task, get_status, wait_for_change, resolve_auth.
package mcpapi

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func submitTargetTool() mcp.Tool {
	return mcp.NewTool("submit_target",
		mcp.WithDescription("Submit a target (query, URL, or DOI) for fetching and cross-verification"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task this target belongs to; a new task starts its own budget on first submission"),
		),
		mcp.WithString("kind",
			mcp.Required(),
			mcp.Description("Target kind: query, url, or doi"),
		),
		mcp.WithString("value",
			mcp.Required(),
			mcp.Description("The query string, URL, or DOI identifier"),
		),
		mcp.WithBoolean("use_tor",
			mcp.Description("Route this fetch through Tor if the domain policy allows it"),
		),
		mcp.WithBoolean("user_initiated",
			mcp.Description("Mark this fetch as a user-initiated navigation (affects Sec-Fetch-User and session header synthesis)"),
		),
		mcp.WithNumber("max_pages",
			mcp.Description("Task page budget, set only on the task's first submission (default from configuration)"),
		),
		mcp.WithNumber("max_time_seconds",
			mcp.Description("Task time budget in seconds, set only on the task's first submission"),
		),
		mcp.WithNumber("max_llm_ratio",
			mcp.Description("Task LLM-time-to-wall-time ratio ceiling, set only on the task's first submission"),
		),
	)
}

func cancelTaskTool() mcp.Tool {
	return mcp.NewTool("cancel_task",
		mcp.WithDescription("Cancel every queued and in-flight job for a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task to cancel"),
		),
		mcp.WithString("mode",
			mcp.Description("Cancellation mode; only \"immediate\" is supported"),
		),
	)
}

func getStatusTool() mcp.Tool {
	return mcp.NewTool("get_status",
		mcp.WithDescription("Report queue depth, recent jobs, awaiting-auth jobs, and budget state for a task"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task to report on"),
		),
		mcp.WithNumber("recent_limit",
			mcp.Description("Maximum recent jobs to return (default 20)"),
		),
	)
}

func waitForChangeTool() mcp.Tool {
	return mcp.NewTool("wait_for_change",
		mcp.WithDescription("Block until a task's status changes or the timeout elapses"),
		mcp.WithString("task_id",
			mcp.Required(),
			mcp.Description("Task to watch"),
		),
		mcp.WithNumber("timeout_s",
			mcp.Description("Maximum seconds to wait (default 30)"),
		),
	)
}

func resolveAuthTool() mcp.Tool {
	return mcp.NewTool("resolve_auth",
		mcp.WithDescription("Resolve a job that is awaiting human auth intervention"),
		mcp.WithString("queue_id",
			mcp.Required(),
			mcp.Description("The awaiting-auth job's id, as reported by get_status"),
		),
		mcp.WithString("outcome",
			mcp.Required(),
			mcp.Description("\"resolved\" resubmits the job; any other value leaves it abandoned"),
		),
	)
}
