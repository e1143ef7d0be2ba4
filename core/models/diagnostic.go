package models

import "time"

// DiagnosticRecord describes the outcome of one task on one worker.
type DiagnosticRecord struct {
	Variable       string        `json:"variable"`
	Kind           TaskKind      `json:"kind"`
	OutputPath     string        `json:"output_path"`
	Rank           int           `json:"rank"`
	Status         TaskState     `json:"status"`
	Elapsed        time.Duration `json:"elapsed"`
	Steps          int           `json:"steps"`
	BytesWritten   int64         `json:"bytes_written"`
	BytesRequested int64         `json:"bytes_requested"`
	BytesActual    int64         `json:"bytes_actual"`
	Error          string        `json:"error,omitempty"`
	ErrorKind      string        `json:"error_kind,omitempty"`
	Transitions    []Transition  `json:"transitions,omitempty"`
}

// Failed reports whether the task ended in the failed state.
func (r *DiagnosticRecord) Failed() bool {
	return r.Status == TaskFailed
}

// OnceSet is the metadata every output carries, taken from the reference
// (first) input file.
type OnceSet struct {
	Reference     string   `json:"reference"`
	Unlimited     string   `json:"unlimited"`
	TimeInvariant []string `json:"time_invariant"`
	TimeVariant   []string `json:"time_variant"`
}

// Run summarizes one conversion run for the ledger.
type Run struct {
	ID           string
	Name         string
	WriteMode    string
	Workers      int
	StartedAt    time.Time
	FinishedAt   time.Time
	Tasks        int
	Completed    int
	Skipped      int
	Failed       int
	BytesWritten int64
}

// TaskEvent is a stored state transition of a task within a run.
type TaskEvent struct {
	ID        int64
	RunID     string
	Variable  string
	At        time.Time
	FromState *TaskState
	ToState   TaskState
	Reason    string
}
