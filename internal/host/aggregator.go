package host

import (
	"bytes"
	"sort"
	"sync"

	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

// ResultStore accumulates accepted results grouped by graph. Results are
// only appended, never removed.
type ResultStore struct {
	mu      sync.RWMutex
	results map[string][]types.TaskResult
	total   int
}

// NewResultStore creates an empty store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		results: make(map[string][]types.TaskResult),
	}
}

// Record appends result under its graph.
func (r *ResultStore) Record(result types.TaskResult) {
	result.SolutionData = bytes.Clone(result.SolutionData)

	r.mu.Lock()
	r.results[result.GraphID] = append(r.results[result.GraphID], result)
	r.total++
	r.mu.Unlock()
}

// AllResults returns a point-in-time copy of every result by graph.
func (r *ResultStore) AllResults() map[string][]types.TaskResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string][]types.TaskResult, len(r.results))
	for graphID, results := range r.results {
		out[graphID] = cloneResults(results)
	}
	return out
}

// GraphResults returns a copy of the results of one graph.
func (r *ResultStore) GraphResults(graphID string) []types.TaskResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneResults(r.results[graphID])
}

// Graphs returns the ids of graphs with at least one result, sorted.
func (r *ResultStore) Graphs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.results))
	for graphID := range r.results {
		ids = append(ids, graphID)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// BestResult returns the result with the highest fitness for graphID.
func (r *ResultStore) BestResult(graphID string) (types.TaskResult, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	results := r.results[graphID]
	if len(results) == 0 {
		return types.TaskResult{}, false
	}
	best := results[0]
	for _, res := range results[1:] {
		if res.Fitness > best.Fitness {
			best = res
		}
	}
	best.SolutionData = bytes.Clone(best.SolutionData)
	return best, true
}

// TotalCount is the number of recorded results.
func (r *ResultStore) TotalCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

func cloneResults(in []types.TaskResult) []types.TaskResult {
	if in == nil {
		return nil
	}
	out := make([]types.TaskResult, len(in))
	for i, res := range in {
		res.SolutionData = bytes.Clone(res.SolutionData)
		out[i] = res
	}
	return out
}
