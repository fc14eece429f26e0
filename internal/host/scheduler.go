package host

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

// ErrNotAssigned is returned by Complete for a task that is not currently
// held by a worker. This covers unknown ids and duplicate reports.
var ErrNotAssigned = errors.New("task is not assigned")

// Assignment records which worker holds a task.
type Assignment struct {
	Task       types.Task `json:"task"`
	WorkerID   uuid.UUID  `json:"worker_id"`
	AssignedAt time.Time  `json:"assigned_at"`
}

// TaskView is a task together with its current status.
type TaskView struct {
	Task   types.Task       `json:"task"`
	Status types.TaskStatus `json:"status"`
}

// Summary counts tasks per status. Failed tasks are waiting in the pending
// queue again.
type Summary struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Assigned  int `json:"assigned"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithRand sets the source used by the random strategy.
func WithRand(r *rand.Rand) SchedulerOption {
	return func(s *Scheduler) { s.rng = r }
}

// WithClock overrides time.Now for assignment timestamps.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the scheduler logger.
func WithLogger(l *zap.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler owns every task and its lifecycle:
//
//	Pending -> Assigned -> Completed
//	Assigned -> Failed (requeued) -> Assigned -> ...
//
// Every task id is in exactly one of the pending queue, the assignment
// table or the completed set.
type Scheduler struct {
	mu       sync.Mutex
	strategy types.DistributionStrategy
	tasks    map[uuid.UUID]types.Task
	status   map[uuid.UUID]types.TaskStatus
	pending  []uuid.UUID
	assigned map[uuid.UUID]Assignment
	// completed is kept as a counter; status holds the per-task state.
	completed int

	rng    *rand.Rand
	now    func() time.Time
	logger *zap.Logger
}

// NewScheduler creates an empty scheduler using strategy for hand-out order.
func NewScheduler(strategy types.DistributionStrategy, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		strategy: strategy,
		tasks:    make(map[uuid.UUID]types.Task),
		status:   make(map[uuid.UUID]types.TaskStatus),
		assigned: make(map[uuid.UUID]Assignment),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.rng == nil {
		s.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return s
}

// Strategy returns the distribution strategy.
func (s *Scheduler) Strategy() types.DistributionStrategy {
	return s.strategy
}

// EnqueueGraph creates runs tasks for graphID, numbered 0..runs-1, all
// sharing config, and appends them to the pending queue.
func (s *Scheduler) EnqueueGraph(graphID string, runs int, config string) []types.Task {
	if runs <= 0 {
		return nil
	}

	created := make([]types.Task, 0, runs)
	for i := 0; i < runs; i++ {
		created = append(created, types.NewTask(graphID, uint32(i), config))
	}

	s.mu.Lock()
	for _, task := range created {
		s.tasks[task.ID] = task
		s.status[task.ID] = types.TaskStatusPending
		s.pending = append(s.pending, task.ID)
	}
	s.mu.Unlock()

	s.logger.Info("graph enqueued",
		zap.String("graph_id", graphID),
		zap.Int("runs", runs))
	return created
}

// NextTask removes one task from the pending queue according to the
// strategy, records it as assigned to workerID and returns it.
func (s *Scheduler) NextTask(workerID uuid.UUID) (types.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return types.Task{}, false
	}

	var idx int
	switch s.strategy {
	case types.StrategyLIFO:
		idx = len(s.pending) - 1
	case types.StrategyRandom:
		idx = s.rng.IntN(len(s.pending))
	default:
		idx = 0
	}

	id := s.pending[idx]
	s.pending = slices.Delete(s.pending, idx, idx+1)

	task := s.tasks[id]
	s.status[id] = types.TaskStatusAssigned
	s.assigned[id] = Assignment{Task: task, WorkerID: workerID, AssignedAt: s.now()}
	return task, true
}

// Complete moves an assigned task to Completed.
func (s *Scheduler) Complete(taskID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status[taskID] != types.TaskStatusAssigned {
		return fmt.Errorf("complete %s: %w", taskID, ErrNotAssigned)
	}

	delete(s.assigned, taskID)
	s.status[taskID] = types.TaskStatusCompleted
	s.completed++
	return nil
}

// Fail gives an assigned task back. The task is requeued at the end the
// strategy dequeues from, so under FIFO and LIFO it is the next one handed
// out. Returns false when the task was not assigned.
func (s *Scheduler) Fail(taskID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failLocked(taskID)
}

func (s *Scheduler) failLocked(taskID uuid.UUID) bool {
	a, ok := s.assigned[taskID]
	if !ok || s.status[taskID] != types.TaskStatusAssigned {
		s.logger.Warn("fail on task that is not assigned", zap.String("task_id", taskID.String()))
		return false
	}

	delete(s.assigned, taskID)
	s.status[taskID] = types.TaskStatusFailed
	if s.strategy == types.StrategyLIFO {
		s.pending = append(s.pending, taskID)
	} else {
		s.pending = slices.Insert(s.pending, 0, taskID)
	}

	s.logger.Warn("task requeued",
		zap.String("task_id", taskID.String()),
		zap.String("graph_id", a.Task.GraphID),
		zap.String("worker_id", a.WorkerID.String()))
	return true
}

// ReclaimExpired fails every assignment older than maxAge and returns the
// requeued task ids.
func (s *Scheduler) ReclaimExpired(maxAge time.Duration) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var expired []Assignment
	for _, a := range s.assigned {
		if now.Sub(a.AssignedAt) > maxAge {
			expired = append(expired, a)
		}
	}
	// Oldest ends up at the dequeue end.
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].AssignedAt.After(expired[j].AssignedAt)
	})

	ids := make([]uuid.UUID, 0, len(expired))
	for _, a := range expired {
		if s.failLocked(a.Task.ID) {
			ids = append(ids, a.Task.ID)
		}
	}
	return ids
}

// StatusSnapshot returns a copy of every task's status.
func (s *Scheduler) StatusSnapshot() map[uuid.UUID]types.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uuid.UUID]types.TaskStatus, len(s.status))
	for id, st := range s.status {
		out[id] = st
	}
	return out
}

// Tasks lists every task with its status, ordered by graph and run.
func (s *Scheduler) Tasks() []TaskView {
	s.mu.Lock()
	views := make([]TaskView, 0, len(s.tasks))
	for id, task := range s.tasks {
		views = append(views, TaskView{Task: task, Status: s.status[id]})
	}
	s.mu.Unlock()

	sort.Slice(views, func(i, j int) bool {
		if views[i].Task.GraphID != views[j].Task.GraphID {
			return views[i].Task.GraphID < views[j].Task.GraphID
		}
		return views[i].Task.RunNumber < views[j].Task.RunNumber
	})
	return views
}

// Assignments lists current assignments, oldest first.
func (s *Scheduler) Assignments() []Assignment {
	s.mu.Lock()
	out := make([]Assignment, 0, len(s.assigned))
	for _, a := range s.assigned {
		out = append(out, a)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].AssignedAt.Before(out[j].AssignedAt)
	})
	return out
}

// TotalCount is the number of tasks ever enqueued.
func (s *Scheduler) TotalCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// CompletedCount is the number of completed tasks.
func (s *Scheduler) CompletedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// PendingCount is the length of the pending queue, requeued tasks included.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Summary counts tasks by status.
func (s *Scheduler) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Summary{Total: len(s.tasks)}
	for _, st := range s.status {
		switch st {
		case types.TaskStatusPending:
			sum.Pending++
		case types.TaskStatusAssigned:
			sum.Assigned++
		case types.TaskStatusCompleted:
			sum.Completed++
		case types.TaskStatusFailed:
			sum.Failed++
		}
	}
	return sum
}
