package rest

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hscHeric/kambo-hive-lib/internal/host"
	"github.com/hscHeric/kambo-hive-lib/internal/report"
	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

type fakeConns struct{ active, accepted int64 }

func (f fakeConns) ActiveConnections() int64   { return f.active }
func (f fakeConns) AcceptedConnections() int64 { return f.accepted }

func newTestServer(t *testing.T) (*Server, *host.Scheduler, *host.ResultStore) {
	t.Helper()
	sched := host.NewScheduler(types.StrategyFIFO, host.WithLogger(zap.NewNop()))
	results := host.NewResultStore()
	srv := NewServer(sched, results, fakeConns{active: 2, accepted: 5}, Config{}, zap.NewNop())
	return srv, sched, results
}

func doJSON(t *testing.T, srv *Server, method, target, body string, out any) int {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(raw, out), string(raw))
	}
	return resp.StatusCode
}

func TestHealthCheck(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, path := range []string{"/health", "/api/v1/health"} {
		var result HealthResponse
		code := doJSON(t, srv, http.MethodGet, path, "", &result)
		assert.Equal(t, fiber.StatusOK, code)
		assert.Equal(t, "healthy", result.Status)
	}
}

func TestGetStatus(t *testing.T) {
	srv, sched, results := newTestServer(t)
	sched.EnqueueGraph("g1", 3, "cfg")
	worker := uuid.New()
	task, ok := sched.NextTask(worker)
	require.True(t, ok)
	require.NoError(t, sched.Complete(task.ID))
	results.Record(types.TaskResult{TaskID: task.ID, GraphID: "g1", WorkerID: worker, Fitness: 4})

	var status StatusResponse
	code := doJSON(t, srv, http.MethodGet, "/api/v1/status", "", &status)
	require.Equal(t, fiber.StatusOK, code)

	assert.Equal(t, types.StrategyFIFO, status.Strategy)
	assert.Equal(t, host.Summary{Total: 3, Pending: 2, Completed: 1}, status.Tasks)
	assert.Equal(t, 1, status.ResultsCollected)
	assert.Equal(t, []string{"g1"}, status.Graphs)
	assert.Equal(t, int64(2), status.ActiveConnections)
	assert.Equal(t, int64(5), status.AcceptedConnections)
}

func TestListTasks_Filters(t *testing.T) {
	srv, sched, _ := newTestServer(t)
	sched.EnqueueGraph("a", 2, "")
	sched.EnqueueGraph("b", 1, "")
	_, ok := sched.NextTask(uuid.New())
	require.True(t, ok)

	var all TaskListResponse
	require.Equal(t, fiber.StatusOK, doJSON(t, srv, http.MethodGet, "/api/v1/tasks", "", &all))
	assert.Equal(t, 3, all.Total)

	var onlyB TaskListResponse
	require.Equal(t, fiber.StatusOK, doJSON(t, srv, http.MethodGet, "/api/v1/tasks?graph=b", "", &onlyB))
	require.Len(t, onlyB.Tasks, 1)
	assert.Equal(t, "b", onlyB.Tasks[0].Task.GraphID)

	var assigned TaskListResponse
	require.Equal(t, fiber.StatusOK, doJSON(t, srv, http.MethodGet, "/api/v1/tasks?status=assigned", "", &assigned))
	require.Len(t, assigned.Tasks, 1)
	assert.Equal(t, types.TaskStatusAssigned, assigned.Tasks[0].Status)
	assert.Equal(t, "a", assigned.Tasks[0].Task.GraphID)

	var errResp ErrorResponse
	code := doJSON(t, srv, http.MethodGet, "/api/v1/tasks?status=bogus", "", &errResp)
	assert.Equal(t, fiber.StatusBadRequest, code)
	assert.Equal(t, "invalid_request", errResp.Error)
}

func TestListAssignments(t *testing.T) {
	srv, sched, _ := newTestServer(t)
	sched.EnqueueGraph("g", 2, "")
	worker := uuid.New()
	task, ok := sched.NextTask(worker)
	require.True(t, ok)

	var resp AssignmentListResponse
	require.Equal(t, fiber.StatusOK, doJSON(t, srv, http.MethodGet, "/api/v1/assignments", "", &resp))
	require.Equal(t, 1, resp.Total)
	assert.Equal(t, task.ID, resp.Assignments[0].Task.ID)
	assert.Equal(t, worker, resp.Assignments[0].WorkerID)
}

func TestFailTask(t *testing.T) {
	srv, sched, _ := newTestServer(t)
	sched.EnqueueGraph("g", 2, "")
	task, ok := sched.NextTask(uuid.New())
	require.True(t, ok)

	var resp FailTaskResponse
	code := doJSON(t, srv, http.MethodPost, "/api/v1/tasks/"+task.ID.String()+"/fail", "", &resp)
	require.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, task.ID, resp.TaskID)
	assert.Equal(t, "failed", resp.Status)

	// The requeued task is handed out next under FIFO.
	next, ok := sched.NextTask(uuid.New())
	require.True(t, ok)
	assert.Equal(t, task.ID, next.ID)
}

func TestFailTask_Errors(t *testing.T) {
	srv, sched, _ := newTestServer(t)
	created := sched.EnqueueGraph("g", 1, "")

	var errResp ErrorResponse
	code := doJSON(t, srv, http.MethodPost, "/api/v1/tasks/not-a-uuid/fail", "", &errResp)
	assert.Equal(t, fiber.StatusBadRequest, code)

	code = doJSON(t, srv, http.MethodPost, "/api/v1/tasks/"+created[0].ID.String()+"/fail", "", &errResp)
	assert.Equal(t, fiber.StatusConflict, code)
	assert.Equal(t, "conflict", errResp.Error)
	assert.Equal(t, 1, sched.PendingCount())
}

func TestListResults(t *testing.T) {
	srv, _, results := newTestServer(t)
	results.Record(types.TaskResult{TaskID: uuid.New(), GraphID: "a", Fitness: 1, SolutionData: []byte("x")})
	results.Record(types.TaskResult{TaskID: uuid.New(), GraphID: "a", Fitness: 2})
	results.Record(types.TaskResult{TaskID: uuid.New(), GraphID: "b", Fitness: 3})

	var all ResultsResponse
	require.Equal(t, fiber.StatusOK, doJSON(t, srv, http.MethodGet, "/api/v1/results", "", &all))
	assert.Equal(t, 3, all.Total)
	assert.Len(t, all.Graphs["a"], 2)
	assert.Len(t, all.Graphs["b"], 1)
	assert.Equal(t, []byte("x"), all.Graphs["a"][0].SolutionData)

	var one ResultsResponse
	require.Equal(t, fiber.StatusOK, doJSON(t, srv, http.MethodGet, "/api/v1/results?graph=b", "", &one))
	assert.Equal(t, 1, one.Total)
	assert.Len(t, one.Graphs, 1)

	var none ResultsResponse
	require.Equal(t, fiber.StatusOK, doJSON(t, srv, http.MethodGet, "/api/v1/results?graph=missing", "", &none))
	assert.Equal(t, 0, none.Total)
	assert.Empty(t, none.Graphs["missing"])
}

func TestGetReport(t *testing.T) {
	srv, sched, results := newTestServer(t)
	sched.EnqueueGraph("g", 2, "")
	worker := uuid.New()
	for range 2 {
		task, ok := sched.NextTask(worker)
		require.True(t, ok)
		require.NoError(t, sched.Complete(task.ID))
		results.Record(types.TaskResult{TaskID: task.ID, GraphID: "g", WorkerID: worker, Fitness: float64(task.RunNumber), ProcessingTimeMs: 10})
	}

	var r report.Report
	require.Equal(t, fiber.StatusOK, doJSON(t, srv, http.MethodGet, "/api/v1/report", "", &r))
	assert.Equal(t, 2, r.TaskSummary.Completed)
	require.Len(t, r.Graphs, 1)
	assert.Equal(t, 2, r.Graphs[0].ResultsCollected)
	assert.Equal(t, float64(1), r.Graphs[0].BestFitness)
	assert.Empty(t, r.Graphs[0].Results)
	require.Len(t, r.Workers, 1)
	assert.Equal(t, worker, r.Workers[0].WorkerID)

	var withResults report.Report
	require.Equal(t, fiber.StatusOK, doJSON(t, srv, http.MethodGet, "/api/v1/report?results=true", "", &withResults))
	require.Len(t, withResults.Graphs, 1)
	assert.Len(t, withResults.Graphs[0].Results, 2)
}

func TestEnqueueGraph(t *testing.T) {
	srv, sched, _ := newTestServer(t)

	var resp EnqueueGraphResponse
	code := doJSON(t, srv, http.MethodPost, "/api/v1/graphs", `{"id":"petersen","runs":4,"config":"{\"pop\":10}"}`, &resp)
	require.Equal(t, fiber.StatusCreated, code)
	assert.Equal(t, "petersen", resp.GraphID)
	assert.Equal(t, 4, resp.Runs)
	assert.Len(t, resp.TaskIDs, 4)
	assert.Equal(t, 4, sched.PendingCount())

	task, ok := sched.NextTask(uuid.New())
	require.True(t, ok)
	assert.Equal(t, `{"pop":10}`, task.Config)
}

func TestEnqueueGraph_Invalid(t *testing.T) {
	srv, sched, _ := newTestServer(t)

	cases := map[string]string{
		"malformed": `{"id":`,
		"no id":     `{"runs":2}`,
		"no runs":   `{"id":"g"}`,
		"negative":  `{"id":"g","runs":-1}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var errResp ErrorResponse
			code := doJSON(t, srv, http.MethodPost, "/api/v1/graphs", body, &errResp)
			assert.Equal(t, fiber.StatusBadRequest, code)
			assert.Equal(t, "invalid_request", errResp.Error)
		})
	}
	assert.Equal(t, 0, sched.TotalCount())
}

func TestUnknownRoute(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var errResp ErrorResponse
	code := doJSON(t, srv, http.MethodGet, "/api/v1/nope", "", &errResp)
	assert.Equal(t, fiber.StatusNotFound, code)
	assert.Equal(t, "not_found", errResp.Error)
}

func TestRun_ShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	sched := host.NewScheduler(types.StrategyFIFO)
	srv := NewServer(sched, host.NewResultStore(), nil, Config{Address: addr}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
