package runlog

import (
	"errors"
	"time"
)

const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

var ErrNotFound = errors.New("sync run not found")

// Run is the durable audit record of one synchronization.
type Run struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Status       string     `json:"status"` // RUNNING, COMPLETED, FAILED
	Mode         string     `json:"mode"`
	Total        int        `json:"total"`
	Processed    int        `json:"processed"`
	Updated      int        `json:"updated"`
	Created      int        `json:"created"`
	ErrorCount   int        `json:"error_count"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

// Active reports whether the run has not been closed yet.
func (r *Run) Active() bool {
	return r.Status == StatusRunning
}

// Counters are the per-run processing totals.
type Counters struct {
	Processed int
	Updated   int
	Created   int
	Errors    int
}
