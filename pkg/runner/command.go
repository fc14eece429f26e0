package runner

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

// FailedFitness marks a result whose run did not finish. The protocol has
// no failure report, so a failed run still reports a result that can never
// be the best one.
const FailedFitness = -math.MaxFloat64

// Output is what an external GA program prints on stdout.
type Output struct {
	Fitness       float64 `json:"fitness"`
	SolutionData  string  `json:"solution_data"`
	IterationsRun uint32  `json:"iterations_run"`
}

// Command runs an external program per task. The task is written to its
// stdin as JSON; the program must print an Output document on stdout.
type Command struct {
	Path    string
	Args    []string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewCommand creates a Command runner with no timeout.
func NewCommand(path string, args []string, logger *zap.Logger) *Command {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{Path: path, Args: args, Logger: logger}
}

// Run implements Runner.
func (c *Command) Run(task types.Task, workerID uuid.UUID) types.TaskResult {
	start := time.Now()
	out, err := c.execute(task)
	elapsed := uint64(time.Since(start).Milliseconds())

	result := types.TaskResult{
		TaskID:           task.ID,
		GraphID:          task.GraphID,
		WorkerID:         workerID,
		ProcessingTimeMs: elapsed,
	}
	if err != nil {
		c.Logger.Error("ga program failed",
			zap.String("task_id", task.ID.String()),
			zap.String("graph_id", task.GraphID),
			zap.Error(err))
		result.Fitness = FailedFitness
		result.SolutionData = []byte(err.Error())
		return result
	}

	result.Fitness = out.Fitness
	result.SolutionData = []byte(out.SolutionData)
	result.IterationsRun = out.IterationsRun
	return result
}

func (c *Command) execute(task types.Task) (*Output, error) {
	input, err := sonic.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}

	ctx := context.Background()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.Path, c.Args...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("run %s: %w: %s", c.Path, err, msg)
		}
		return nil, fmt.Errorf("run %s: %w", c.Path, err)
	}

	var out Output
	if err := sonic.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err != nil {
		return nil, fmt.Errorf("decode output of %s: %w", c.Path, err)
	}
	return &out, nil
}
