// Package snapshot periodically persists the host's collected results so a
// crash loses at most one interval of work. A snapshot is the full result
// set, rewritten on every save.
package snapshot

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

// Source provides the results to persist. host.ResultStore implements it.
type Source interface {
	AllResults() map[string][]types.TaskResult
	TotalCount() int
}

// Sink persists one snapshot.
type Sink interface {
	Name() string
	Write(ctx context.Context, snap Snapshot) error
}

// Entry is one result as stored in a snapshot.
type Entry struct {
	TaskID           uuid.UUID `json:"task_id"`
	WorkerID         uuid.UUID `json:"worker_id"`
	Fitness          float64   `json:"fitness"`
	SolutionData     string    `json:"solution_data"`
	IterationsRun    uint32    `json:"iterations_run"`
	ProcessingTimeMs uint64    `json:"processing_time_ms"`
}

// Graph groups the entries of one graph.
type Graph struct {
	Name    string  `json:"name"`
	Results []Entry `json:"results"`
}

// Snapshot is the result set ordered by graph name.
type Snapshot []Graph

// Build converts grouped results into a snapshot.
func Build(results map[string][]types.TaskResult) Snapshot {
	snap := make(Snapshot, 0, len(results))
	for name, rs := range results {
		g := Graph{Name: name, Results: make([]Entry, 0, len(rs))}
		for _, r := range rs {
			g.Results = append(g.Results, Entry{
				TaskID:           r.TaskID,
				WorkerID:         r.WorkerID,
				Fitness:          r.Fitness,
				SolutionData:     string(r.SolutionData),
				IterationsRun:    r.IterationsRun,
				ProcessingTimeMs: r.ProcessingTimeMs,
			})
		}
		snap = append(snap, g)
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].Name < snap[j].Name })
	return snap
}

// Len is the number of entries across all graphs.
func (s Snapshot) Len() int {
	n := 0
	for _, g := range s {
		n += len(g.Results)
	}
	return n
}
