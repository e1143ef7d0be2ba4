package executor

import (
	"errors"
	"fmt"
	"time"

	"slice2series/core/models"
)

// ErrInvalidTransition is returned for a state change the task lifecycle
// does not allow.
var ErrInvalidTransition = errors.New("invalid task state transition")

var allowedTransitions = map[models.TaskState][]models.TaskState{
	models.TaskPending:   {models.TaskSkipped, models.TaskOpening, models.TaskFailed},
	models.TaskOpening:   {models.TaskStreaming, models.TaskFailed},
	models.TaskStreaming: {models.TaskCompleted, models.TaskFailed},
}

func isAllowedTransition(from, to models.TaskState) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// taskRun tracks one task through its lifecycle and fills its record.
type taskRun struct {
	state models.TaskState
	rec   *models.DiagnosticRecord
	now   func() time.Time
}

func newTaskRun(task models.VariableTask, rank int, now func() time.Time) *taskRun {
	return &taskRun{
		state: models.TaskPending,
		rec: &models.DiagnosticRecord{
			Variable:   task.Variable,
			Kind:       task.Kind,
			OutputPath: task.OutputPath,
			Rank:       rank,
			Status:     models.TaskPending,
		},
		now: now,
	}
}

// to moves the task to state next.
func (r *taskRun) to(next models.TaskState, reason string) error {
	if !isAllowedTransition(r.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, next)
	}
	r.rec.Transitions = append(r.rec.Transitions, models.Transition{
		From:   r.state,
		To:     next,
		At:     r.now(),
		Reason: reason,
	})
	r.state = next
	r.rec.Status = next
	return nil
}

// fail records err and moves the task to failed unless it already ended.
func (r *taskRun) fail(err error) {
	r.rec.Error = err.Error()
	r.rec.ErrorKind = models.ErrorKind(err)
	if r.state.Terminal() {
		return
	}
	// Every non-terminal state may fail.
	_ = r.to(models.TaskFailed, err.Error())
}
