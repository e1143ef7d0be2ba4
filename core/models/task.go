package models

import (
	"fmt"
	"strings"
	"time"
)

// WriteMode decides what happens when a task's output file already exists.
type WriteMode int

const (
	WriteNormal WriteMode = iota
	WriteSkip
	WriteOverwrite
	WriteAppend
)

var writeModeNames = map[WriteMode]string{
	WriteNormal:    "normal",
	WriteSkip:      "skip",
	WriteOverwrite: "overwrite",
	WriteAppend:    "append",
}

func (m WriteMode) String() string {
	if s, ok := writeModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("WriteMode(%d)", int(m))
}

// Valid reports whether m is one of the four modes.
func (m WriteMode) Valid() bool {
	_, ok := writeModeNames[m]
	return ok
}

// ParseWriteMode parses a mode name.
func ParseWriteMode(s string) (WriteMode, error) {
	for m, name := range writeModeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return WriteNormal, Configf("unknown write mode %q", s)
}

// WriteModeFromFlags maps the command line switches onto a mode. Appending
// cannot be combined with skipping or overwriting.
func WriteModeFromFlags(skipExisting, overwrite, appendTo bool) (WriteMode, error) {
	switch {
	case appendTo && overwrite:
		return WriteNormal, Configf("cannot append and overwrite at the same time")
	case appendTo && skipExisting:
		return WriteNormal, Configf("cannot append and skip existing files at the same time")
	case skipExisting && overwrite:
		return WriteNormal, Configf("cannot skip and overwrite existing files at the same time")
	case appendTo:
		return WriteAppend, nil
	case overwrite:
		return WriteOverwrite, nil
	case skipExisting:
		return WriteSkip, nil
	default:
		return WriteNormal, nil
	}
}

// TaskKind distinguishes ordinary series tasks from the shared metadata file.
type TaskKind string

const (
	TaskSeries TaskKind = "series"
	TaskOnce   TaskKind = "once"
)

// TaskState is the lifecycle state of a variable task.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskSkipped   TaskState = "skipped"
	TaskOpening   TaskState = "opening"
	TaskStreaming TaskState = "streaming"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
)

// Terminal reports whether no further transition is possible.
func (s TaskState) Terminal() bool {
	return s == TaskSkipped || s == TaskCompleted || s == TaskFailed
}

// SliceSource is the range of time steps one input file contributes.
type SliceSource struct {
	Path  string `json:"path"`
	Start int    `json:"start"`
	Count int    `json:"count"`
}

// VariableTask is the unit of work: produce the time-series file for one
// variable (or the once file) from an ordered list of slices.
type VariableTask struct {
	Index      int           `json:"index"` // declaration order; the once task is -1
	Variable   string        `json:"variable"`
	Kind       TaskKind      `json:"kind"`
	OutputPath string        `json:"output_path"`
	Inputs     []SliceSource `json:"inputs"`
	Chunks     ChunkPolicy   `json:"chunks,omitempty"`
	Weight     int64         `json:"weight"`
}

// Steps returns the total number of time steps across all inputs.
func (t *VariableTask) Steps() int {
	n := 0
	for _, in := range t.Inputs {
		n += in.Count
	}
	return n
}

// Transition records one state change of a task.
type Transition struct {
	From   TaskState `json:"from"`
	To     TaskState `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}
