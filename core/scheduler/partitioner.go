package scheduler

import (
	"fmt"
	"sort"

	"slice2series/core/models"
)

// Partitioner spreads variable tasks over a fixed number of workers. The
// result depends only on the task list and the worker count, so every
// worker computes the same assignment without talking to the others.
type Partitioner struct {
	strategy models.PartitionStrategy
}

// NewPartitioner creates a new partitioner
func NewPartitioner(strategy models.PartitionStrategy) *Partitioner {
	if strategy == "" {
		strategy = models.PartitionRoundRobin
	}
	return &Partitioner{strategy: strategy}
}

// Assignment is the full task-to-worker table.
type Assignment struct {
	workers int
	tasks   []models.VariableTask
	owner   []int   // task position -> worker
	byRank  [][]int // worker -> task positions, in declaration order
}

// Assign computes the assignment of tasks onto workers
func (p *Partitioner) Assign(tasks []models.VariableTask, workers int) (*Assignment, error) {
	if workers < 1 {
		return nil, fmt.Errorf("worker count must be positive, got %d", workers)
	}

	ordered := make([]models.VariableTask, len(tasks))
	copy(ordered, tasks)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	a := &Assignment{
		workers: workers,
		tasks:   ordered,
		owner:   make([]int, len(ordered)),
		byRank:  make([][]int, workers),
	}

	switch p.strategy {
	case models.PartitionRoundRobin:
		for i := range ordered {
			a.owner[i] = i % workers
		}
	case models.PartitionWeighted:
		a.packWeighted()
	default:
		return nil, fmt.Errorf("unknown partition strategy %q", p.strategy)
	}

	for i, w := range a.owner {
		a.byRank[w] = append(a.byRank[w], i)
	}
	return a, nil
}

// Partition returns the tasks worker index owns out of workers
func (p *Partitioner) Partition(tasks []models.VariableTask, workers, index int) ([]models.VariableTask, error) {
	a, err := p.Assign(tasks, workers)
	if err != nil {
		return nil, err
	}
	return a.Tasks(index), nil
}

// packWeighted places the heaviest task first onto the least loaded worker
// (largest-first greedy). Ties go to the lower worker and lower index.
func (a *Assignment) packWeighted() {
	order := make([]int, len(a.tasks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		ti, tj := a.tasks[order[i]], a.tasks[order[j]]
		if ti.Weight != tj.Weight {
			return ti.Weight > tj.Weight
		}
		return ti.Index < tj.Index
	})

	load := make([]int64, a.workers)
	for _, i := range order {
		best := 0
		for w := 1; w < a.workers; w++ {
			if load[w] < load[best] {
				best = w
			}
		}
		a.owner[i] = best
		load[best] += a.tasks[i].Weight
	}
}

// Workers returns the worker count
func (a *Assignment) Workers() int {
	return a.workers
}

// Tasks returns the tasks assigned to worker, in declaration order
func (a *Assignment) Tasks(worker int) []models.VariableTask {
	if worker < 0 || worker >= a.workers {
		return nil
	}
	out := make([]models.VariableTask, 0, len(a.byRank[worker]))
	for _, i := range a.byRank[worker] {
		out = append(out, a.tasks[i])
	}
	return out
}

// Owner returns the worker assigned to variable
func (a *Assignment) Owner(variable string) (int, bool) {
	for i, t := range a.tasks {
		if t.Variable == variable {
			return a.owner[i], true
		}
	}
	return 0, false
}

// Load returns the summed task weight per worker
func (a *Assignment) Load() []int64 {
	load := make([]int64, a.workers)
	for i, w := range a.owner {
		load[w] += a.tasks[i].Weight
	}
	return load
}
