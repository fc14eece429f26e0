package host

import (
	"github.com/google/uuid"

	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

// TaskQueue is the part of the scheduler the connection server needs.
type TaskQueue interface {
	// NextTask atomically hands a pending task to workerID.
	NextTask(workerID uuid.UUID) (types.Task, bool)

	// Complete marks an assigned task as done.
	Complete(taskID uuid.UUID) error
}

// ResultRecorder stores accepted results.
type ResultRecorder interface {
	Record(result types.TaskResult)
}

var (
	_ TaskQueue      = (*Scheduler)(nil)
	_ ResultRecorder = (*ResultStore)(nil)
)
