package models

import (
	"encoding/json"
	"time"
)

// JobState represents the lifecycle state of a scheduled job.
//
// Transitions: queued -> running -> {completed, failed, cancelled, awaiting_auth}.
// Terminal states never transition; a conditional update against the current
// state is the only way a transition is ever recorded.
type JobState string

const (
	JobStateQueued      JobState = "queued"
	JobStateRunning     JobState = "running"
	JobStateCompleted   JobState = "completed"
	JobStateFailed      JobState = "failed"
	JobStateCancelled   JobState = "cancelled"
	JobStateAwaitingAuth JobState = "awaiting_auth"
)

// IsTerminal reports whether the state accepts no further writes.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled, JobStateAwaitingAuth:
		return true
	default:
		return false
	}
}

// JobKind is the closed tagged union of schedulable job kinds.
// New kinds are added by extending this enum and the Slot/Priority tables together.
type JobKind string

const (
	JobKindSERP           JobKind = "serp"
	JobKindFetch          JobKind = "fetch"
	JobKindTargetQueue    JobKind = "target_queue"
	JobKindExtract        JobKind = "extract"
	JobKindNLI            JobKind = "nli"
	JobKindEmbed          JobKind = "embed"
	JobKindVerifyNLI      JobKind = "verify_nli"
	JobKindCitationGraph  JobKind = "citation_graph"
	JobKindLLM            JobKind = "llm"
)

// Slot is a bounded-concurrency resource class.
type Slot string

const (
	SlotGPU            Slot = "gpu"
	SlotBrowserHeadful Slot = "browser_headful"
	SlotNetworkClient  Slot = "network_client"
	SlotCPUNLP         Slot = "cpu_nlp"
)

// kindTable is the data-driven kind -> slot -> priority table.
// Lower priority value dispatches first.
var kindTable = map[JobKind]struct {
	Slot     Slot
	Priority int
}{
	JobKindSERP:          {SlotNetworkClient, 10},
	JobKindFetch:         {SlotNetworkClient, 20},
	JobKindTargetQueue:   {SlotNetworkClient, 25},
	JobKindExtract:       {SlotCPUNLP, 30},
	JobKindNLI:           {SlotCPUNLP, 35},
	JobKindEmbed:         {SlotGPU, 40},
	JobKindVerifyNLI:     {SlotCPUNLP, 45},
	JobKindCitationGraph: {SlotCPUNLP, 50},
	JobKindLLM:           {SlotGPU, 60},
}

// SlotForKind returns the slot a kind dispatches on, and whether the kind is known.
func SlotForKind(kind JobKind) (Slot, bool) {
	entry, ok := kindTable[kind]
	if !ok {
		return "", false
	}
	return entry.Slot, true
}

// PriorityForKind returns the dispatch priority for a kind, and whether the kind is known.
func PriorityForKind(kind JobKind) (int, bool) {
	entry, ok := kindTable[kind]
	if !ok {
		return 0, false
	}
	return entry.Priority, true
}

// ExclusiveSlotGroups lists slot sets that may never run concurrently.
// {gpu, browser_headful} captures hardware contention between an on-GPU
// model and an attached browser on the same host.
var ExclusiveSlotGroups = [][]Slot{
	{SlotGPU, SlotBrowserHeadful},
}

// Job is a single unit of scheduled work.
type Job struct {
	ID         string    `json:"id"`
	TaskID     string    `json:"task_id"`
	Kind       JobKind   `json:"kind"`
	Priority   int       `json:"priority"`
	Slot       Slot      `json:"slot"`
	State      JobState  `json:"state"`
	Input      string    `json:"input"`            // JSON-encoded action input
	Output     string    `json:"output,omitempty"` // JSON-encoded action output
	Error      string    `json:"error,omitempty"`
	QueuedAt   time.Time `json:"queued_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	CauseID    string    `json:"cause_id,omitempty"` // job/event that caused this job to be enqueued
}

// SetInput marshals v and stores it as the job's JSON input.
func (j *Job) SetInput(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	j.Input = string(data)
	return nil
}

// DecodeInput unmarshals the job's JSON input into v.
func (j *Job) DecodeInput(v interface{}) error {
	if j.Input == "" {
		return nil
	}
	return json.Unmarshal([]byte(j.Input), v)
}

// SetOutput marshals v and stores it as the job's JSON output.
func (j *Job) SetOutput(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	j.Output = string(data)
	return nil
}

// ServerRestartResetReason is written when startup_reset forces a stuck row to failed.
const ServerRestartResetReason = "server_restart_reset"
