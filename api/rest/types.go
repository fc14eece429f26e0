package rest

import (
	"github.com/google/uuid"

	"github.com/hscHeric/kambo-hive-lib/internal/host"
	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse summarizes the host.
type StatusResponse struct {
	Strategy            types.DistributionStrategy `json:"strategy"`
	Tasks               host.Summary               `json:"tasks"`
	ResultsCollected    int                        `json:"results_collected"`
	Graphs              []string                   `json:"graphs"`
	ActiveConnections   int64                      `json:"active_connections"`
	AcceptedConnections int64                      `json:"accepted_connections"`
	UptimeSeconds       int64                      `json:"uptime_seconds"`
}

// TaskListResponse lists tasks with their status.
type TaskListResponse struct {
	Tasks []host.TaskView `json:"tasks"`
	Total int             `json:"total"`
}

// AssignmentListResponse lists the tasks currently held by workers.
type AssignmentListResponse struct {
	Assignments []host.Assignment `json:"assignments"`
	Total       int               `json:"total"`
}

// ResultsResponse groups collected results by graph.
type ResultsResponse struct {
	Graphs map[string][]types.TaskResult `json:"graphs"`
	Total  int                           `json:"total"`
}

// EnqueueGraphRequest asks the host to schedule runs of a graph.
type EnqueueGraphRequest struct {
	ID     string `json:"id"`
	Runs   int    `json:"runs"`
	Config string `json:"config"`
}

// EnqueueGraphResponse reports the tasks created for a graph.
type EnqueueGraphResponse struct {
	GraphID string      `json:"graph_id"`
	Runs    int         `json:"runs"`
	TaskIDs []uuid.UUID `json:"task_ids"`
}

// FailTaskResponse confirms a task was put back in the queue.
type FailTaskResponse struct {
	TaskID uuid.UUID `json:"task_id"`
	Status string    `json:"status"`
}
