package mcpapi

import (
	"github.com/mark3labs/mcp-go/server"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lancet/internal/budget"
	"github.com/ternarybob/lancet/internal/common"
	"github.com/ternarybob/lancet/internal/queue"
)

// BudgetDefaults supplies submit_target's fallback budget when a task's
// first submission doesn't override them.
type BudgetDefaults struct {
	MaxPages    int
	MaxTime     int64 // seconds, pre-converted so handlers don't import time math twice
	MaxLLMRatio float64
}

// Deps bundles everything the tool handlers need.
type Deps struct {
	Scheduler *queue.Scheduler
	Pool      *queue.WorkerPool
	Store     queue.JobStore
	Events    *queue.EventBus
	Budget    *budget.Manager
	AuthQueue *queue.AuthQueue
	Logger    arbor.ILogger
	Defaults  BudgetDefaults
}

// NewServer builds the MCP server exposing submit_target, cancel_task,
// get_status, wait_for_change, and resolve_auth.
func NewServer(deps Deps) *server.MCPServer {
	mcpServer := server.NewMCPServer(
		"lancet",
		common.GetVersion(),
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTool(submitTargetTool(), handleSubmitTarget(deps.Scheduler, deps.Budget, deps.Defaults, deps.Logger))
	mcpServer.AddTool(cancelTaskTool(), handleCancelTask(deps.Scheduler, deps.Pool, deps.Store))
	mcpServer.AddTool(getStatusTool(), handleGetStatus(deps.Scheduler, deps.Budget))
	mcpServer.AddTool(waitForChangeTool(), handleWaitForChange(deps.Events))
	mcpServer.AddTool(resolveAuthTool(), handleResolveAuth(deps.AuthQueue))

	return mcpServer
}
