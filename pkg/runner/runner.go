// Package runner defines how a worker executes a task. The GA itself is not
// part of this module: callers plug it in through the Runner interface or
// run it as an external program with Command.
package runner

import (
	"github.com/google/uuid"

	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

// Runner executes one task synchronously and always produces a result.
type Runner interface {
	Run(task types.Task, workerID uuid.UUID) types.TaskResult
}

// Func adapts a plain function to Runner.
type Func func(task types.Task, workerID uuid.UUID) types.TaskResult

// Run calls f.
func (f Func) Run(task types.Task, workerID uuid.UUID) types.TaskResult {
	return f(task, workerID)
}
