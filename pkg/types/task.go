package types

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Task is one GA run of a graph. It is immutable once created and is
// identified by ID.
type Task struct {
	ID        uuid.UUID `json:"id"`
	GraphID   string    `json:"graph_id"`
	RunNumber uint32    `json:"run_number"`
	// Config is the serialized algorithm configuration, passed through
	// untouched to the runner.
	Config string `json:"config"`
}

// NewTask creates a task with a freshly generated ID.
func NewTask(graphID string, runNumber uint32, config string) Task {
	return Task{
		ID:        uuid.New(),
		GraphID:   graphID,
		RunNumber: runNumber,
		Config:    config,
	}
}

// TaskStatus is the lifecycle state of a task inside the scheduler.
type TaskStatus int

const (
	// TaskStatusPending means the task waits in the pending queue.
	TaskStatusPending TaskStatus = iota
	// TaskStatusAssigned means a worker holds the task.
	TaskStatusAssigned
	// TaskStatusCompleted means a result was accepted. Terminal.
	TaskStatusCompleted
	// TaskStatusFailed means the task was given back and requeued.
	TaskStatusFailed
)

var taskStatusNames = map[TaskStatus]string{
	TaskStatusPending:   "pending",
	TaskStatusAssigned:  "assigned",
	TaskStatusCompleted: "completed",
	TaskStatusFailed:    "failed",
}

// String returns the lowercase status name.
func (s TaskStatus) String() string {
	if name, ok := taskStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", int(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s TaskStatus) MarshalText() ([]byte, error) {
	if _, ok := taskStatusNames[s]; !ok {
		return nil, fmt.Errorf("invalid task status: %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TaskStatus) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for status, n := range taskStatusNames {
		if n == name {
			*s = status
			return nil
		}
	}
	return fmt.Errorf("invalid task status: %q", string(text))
}
