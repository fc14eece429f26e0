package types

import "github.com/google/uuid"

// TaskResult is what a worker reports after running a task. Higher fitness
// is better. A result is never mutated once created.
type TaskResult struct {
	TaskID           uuid.UUID `json:"task_id"`
	GraphID          string    `json:"graph_id"`
	WorkerID         uuid.UUID `json:"worker_id"`
	Fitness          float64   `json:"fitness"`
	SolutionData     []byte    `json:"solution_data"`
	IterationsRun    uint32    `json:"iterations_run"`
	ProcessingTimeMs uint64    `json:"processing_time_ms"`
}
