package scheduler

import (
	"go.uber.org/zap"

	"slice2series/core/models"
)

// Scheduler decides which tasks one worker runs in this invocation
type Scheduler struct {
	partitioner *Partitioner
	logger      *zap.Logger
}

// Plan is one worker's share of the work
type Plan struct {
	Rank       int
	Assignment *Assignment
	Run        []models.VariableTask // tasks to execute now, in declaration order
	Deferred   []models.VariableTask // assigned but cut by the output limit
}

// NewScheduler creates a new scheduler
func NewScheduler(strategy models.PartitionStrategy, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		partitioner: NewPartitioner(strategy),
		logger:      logger,
	}
}

// Plan partitions tasks across workers and returns rank's share. A positive
// limit caps how many of rank's tasks run; the rest are deferred.
func (s *Scheduler) Plan(tasks []models.VariableTask, workers, rank, limit int) (*Plan, error) {
	assignment, err := s.partitioner.Assign(tasks, workers)
	if err != nil {
		return nil, err
	}

	queue := NewTaskQueue(assignment.Tasks(rank))
	plan := &Plan{
		Rank:       rank,
		Assignment: assignment,
		Run:        queue.Take(limit),
		Deferred:   queue.Take(0),
	}

	s.logger.Debug("planned tasks",
		zap.Int("rank", rank),
		zap.Int("workers", workers),
		zap.Int("run", len(plan.Run)),
		zap.Int("deferred", len(plan.Deferred)),
	)
	return plan, nil
}
