package common

import (
	"github.com/google/uuid"
)

// NewJobID generates a unique job ID with the "job_" prefix.
func NewJobID() string {
	return "job_" + uuid.New().String()
}

// NewTaskID generates a unique task ID with the "task_" prefix.
func NewTaskID() string {
	return "task_" + uuid.New().String()
}

// NewSessionID generates a unique session ID with the "sess_" prefix.
func NewSessionID() string {
	return "sess_" + uuid.New().String()
}

// NewResourceID generates a unique lifecycle resource ID with the "res_" prefix.
func NewResourceID() string {
	return "res_" + uuid.New().String()
}

// NewEdgeID generates a unique verification edge ID with the "edge_" prefix.
func NewEdgeID() string {
	return "edge_" + uuid.New().String()
}
