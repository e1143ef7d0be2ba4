package scheduler

import (
	"container/heap"
	"sync"

	"slice2series/core/models"
)

// TaskQueue is a priority queue of one worker's tasks, ordered by
// declaration index
type TaskQueue struct {
	tasks []*QueuedTask
	mu    sync.Mutex
}

// QueuedTask wraps a task with its heap position
type QueuedTask struct {
	Task  models.VariableTask
	Index int // For heap.Interface
}

// NewTaskQueue creates a new task queue holding tasks
func NewTaskQueue(tasks []models.VariableTask) *TaskQueue {
	tq := &TaskQueue{
		tasks: make([]*QueuedTask, 0, len(tasks)),
	}
	for _, t := range tasks {
		tq.tasks = append(tq.tasks, &QueuedTask{Task: t, Index: len(tq.tasks)})
	}
	heap.Init(tq)
	return tq
}

// PopTask removes and returns the earliest declared task
func (tq *TaskQueue) PopTask() (models.VariableTask, bool) {
	tq.mu.Lock()
	defer tq.mu.Unlock()

	if tq.Len() == 0 {
		return models.VariableTask{}, false
	}
	item := heap.Pop(tq).(*QueuedTask)
	return item.Task, true
}

// Take pops up to limit tasks in declaration order. A limit of zero takes
// everything.
func (tq *TaskQueue) Take(limit int) []models.VariableTask {
	var out []models.VariableTask
	for limit <= 0 || len(out) < limit {
		task, ok := tq.PopTask()
		if !ok {
			break
		}
		out = append(out, task)
	}
	return out
}

// Len returns the number of tasks in the queue
func (tq *TaskQueue) Len() int {
	return len(tq.tasks)
}

// Less orders tasks by declaration index
func (tq *TaskQueue) Less(i, j int) bool {
	return tq.tasks[i].Task.Index < tq.tasks[j].Task.Index
}

// Swap swaps two tasks
func (tq *TaskQueue) Swap(i, j int) {
	tq.tasks[i], tq.tasks[j] = tq.tasks[j], tq.tasks[i]
	tq.tasks[i].Index = i
	tq.tasks[j].Index = j
}

// Push implements heap.Interface
func (tq *TaskQueue) Push(x interface{}) {
	n := len(tq.tasks)
	item := x.(*QueuedTask)
	item.Index = n
	tq.tasks = append(tq.tasks, item)
}

// Pop implements heap.Interface
func (tq *TaskQueue) Pop() interface{} {
	old := tq.tasks
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	tq.tasks = old[0 : n-1]
	return item
}
