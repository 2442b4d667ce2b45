package models

import (
	"net/url"
	"time"
)

// TaskStatus represents the lifecycle state of a generation task.
// Transitions are monotone: pending may move to any terminal state,
// terminal states never change again.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "PENDING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
	TaskStatusTimeout   TaskStatus = "TIMEOUT"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTimeout:
		return true
	}
	return false
}

// WorkerEndpoint identifies one remote inference worker by its base URL.
// The value is immutable; two endpoints are equal iff their URLs are equal,
// so it can be used directly as a map key.
type WorkerEndpoint struct {
	URL string `json:"url"`
}

// Host returns the hostname portion of the endpoint URL, or "" if the URL
// does not parse.
func (w WorkerEndpoint) Host() string {
	u, err := url.Parse(w.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// JobHandle correlates a submitted job to the worker that owns it. Job ids
// are worker-local, so the handle must never be polled against a different
// worker.
type JobHandle struct {
	JobID  string         `json:"job_id"`
	Worker WorkerEndpoint `json:"worker"`
}

// OutputSet maps an output node id to the ordered image blobs it produced.
// Built once per completed job and immutable afterwards.
type OutputSet map[string][][]byte

// Count returns the total number of blobs across all nodes.
func (o OutputSet) Count() int {
	n := 0
	for _, blobs := range o {
		n += len(blobs)
	}
	return n
}

// TaskRecord is the JSON document stored per task in the status store.
type TaskRecord struct {
	Status    TaskStatus     `json:"status"`
	UpdatedAt time.Time      `json:"updated_at"`
	Data      map[string]any `json:"data,omitempty"`
}

// RunReport aggregates the outcome of one orchestrator run.
type RunReport struct {
	RunID       string        `json:"run_id"`
	Planned     int           `json:"planned"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	TimedOut    int           `json:"timed_out"`
	OutputPaths []string      `json:"output_paths"`
	Elapsed     time.Duration `json:"elapsed"`
}
