// Package report builds the summary the host writes when it shuts down and
// serves on its status API.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/bytedance/sonic"
	"github.com/duke-git/lancet/v2/maputil"
	"github.com/google/uuid"

	"github.com/hscHeric/kambo-hive-lib/internal/host"
	"github.com/hscHeric/kambo-hive-lib/internal/snapshot"
	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

// maxTrackedMs caps processing times fed to the histogram at one day.
const maxTrackedMs = 24 * 60 * 60 * 1000

// Report is the final summary of a host run.
type Report struct {
	GeneratedAt time.Time      `json:"generated_at"`
	TaskSummary host.Summary   `json:"task_summary"`
	Graphs      []GraphReport  `json:"graphs"`
	Workers     []WorkerReport `json:"workers"`
}

// GraphReport aggregates the results of one graph.
type GraphReport struct {
	GraphID               string             `json:"graph_id"`
	ResultsCollected      int                `json:"results_collected"`
	BestFitness           float64            `json:"best_fitness"`
	BestTaskID            uuid.UUID          `json:"best_task_id"`
	AvgProcessingTimeMs   float64            `json:"avg_processing_time_ms"`
	TotalProcessingTimeMs uint64             `json:"total_processing_time_ms"`
	P50ProcessingTimeMs   int64              `json:"p50_processing_time_ms"`
	P95ProcessingTimeMs   int64              `json:"p95_processing_time_ms"`
	P99ProcessingTimeMs   int64              `json:"p99_processing_time_ms"`
	Results               []types.TaskResult `json:"results,omitempty"`
}

// WorkerReport aggregates the results delivered by one worker.
type WorkerReport struct {
	WorkerID              uuid.UUID `json:"worker_id"`
	TasksCompleted        int       `json:"tasks_completed"`
	TotalProcessingTimeMs uint64    `json:"total_processing_time_ms"`
	AvgProcessingTimeMs   float64   `json:"avg_processing_time_ms"`
}

// Options controls what a report includes.
type Options struct {
	// IncludeResults embeds every raw result in its graph section.
	IncludeResults bool
}

// Generate builds a report from a task summary and the grouped results.
func Generate(summary host.Summary, results map[string][]types.TaskResult, now time.Time, opts Options) Report {
	r := Report{
		GeneratedAt: now,
		TaskSummary: summary,
		Graphs:      make([]GraphReport, 0, len(results)),
	}

	type workerAcc struct {
		count int
		total uint64
	}
	workers := make(map[uuid.UUID]*workerAcc)

	graphIDs := maputil.Keys(results)
	sort.Strings(graphIDs)
	for _, graphID := range graphIDs {
		rs := results[graphID]
		if len(rs) == 0 {
			continue
		}
		r.Graphs = append(r.Graphs, graphReport(graphID, rs, opts))

		for _, res := range rs {
			acc, ok := workers[res.WorkerID]
			if !ok {
				acc = &workerAcc{}
				workers[res.WorkerID] = acc
			}
			acc.count++
			acc.total += res.ProcessingTimeMs
		}
	}

	r.Workers = make([]WorkerReport, 0, len(workers))
	for id, acc := range workers {
		r.Workers = append(r.Workers, WorkerReport{
			WorkerID:              id,
			TasksCompleted:        acc.count,
			TotalProcessingTimeMs: acc.total,
			AvgProcessingTimeMs:   float64(acc.total) / float64(acc.count),
		})
	}
	sort.Slice(r.Workers, func(i, j int) bool {
		if r.Workers[i].TasksCompleted != r.Workers[j].TasksCompleted {
			return r.Workers[i].TasksCompleted > r.Workers[j].TasksCompleted
		}
		return r.Workers[i].WorkerID.String() < r.Workers[j].WorkerID.String()
	})
	return r
}

func graphReport(graphID string, rs []types.TaskResult, opts Options) GraphReport {
	hist := hdrhistogram.New(1, maxTrackedMs, 3)
	g := GraphReport{
		GraphID:          graphID,
		ResultsCollected: len(rs),
		BestFitness:      rs[0].Fitness,
		BestTaskID:       rs[0].TaskID,
	}

	for _, res := range rs {
		if res.Fitness > g.BestFitness {
			g.BestFitness = res.Fitness
			g.BestTaskID = res.TaskID
		}
		g.TotalProcessingTimeMs += res.ProcessingTimeMs
		_ = hist.RecordValue(int64(min(res.ProcessingTimeMs, maxTrackedMs)))
	}

	g.AvgProcessingTimeMs = float64(g.TotalProcessingTimeMs) / float64(len(rs))
	g.P50ProcessingTimeMs = hist.ValueAtQuantile(50)
	g.P95ProcessingTimeMs = hist.ValueAtQuantile(95)
	g.P99ProcessingTimeMs = hist.ValueAtQuantile(99)
	if opts.IncludeResults {
		g.Results = rs
	}
	return g
}

// Save writes the report as indented JSON.
func Save(path string, r Report) error {
	data, err := sonic.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := snapshot.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
