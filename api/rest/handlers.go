package rest

import (
	"strings"
	"time"

	"github.com/duke-git/lancet/v2/slice"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hscHeric/kambo-hive-lib/internal/host"
	"github.com/hscHeric/kambo-hive-lib/internal/report"
	"github.com/hscHeric/kambo-hive-lib/pkg/types"
)

// healthCheck handles GET /health
func (s *Server) healthCheck(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// getStatus handles GET /api/v1/status
func (s *Server) getStatus(c *fiber.Ctx) error {
	resp := StatusResponse{
		Strategy:         s.scheduler.Strategy(),
		Tasks:            s.scheduler.Summary(),
		ResultsCollected: s.results.TotalCount(),
		Graphs:           s.results.Graphs(),
		UptimeSeconds:    int64(time.Since(s.startedAt).Seconds()),
	}
	if s.conns != nil {
		resp.ActiveConnections = s.conns.ActiveConnections()
		resp.AcceptedConnections = s.conns.AcceptedConnections()
	}
	return c.JSON(resp)
}

// listTasks handles GET /api/v1/tasks[?graph=&status=]
func (s *Server) listTasks(c *fiber.Ctx) error {
	tasks := s.scheduler.Tasks()

	if graph := c.Query("graph"); graph != "" {
		tasks = slice.Filter(tasks, func(_ int, v host.TaskView) bool {
			return v.Task.GraphID == graph
		})
	}

	if raw := c.Query("status"); raw != "" {
		var status types.TaskStatus
		if err := status.UnmarshalText([]byte(strings.ToLower(raw))); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		tasks = slice.Filter(tasks, func(_ int, v host.TaskView) bool {
			return v.Status == status
		})
	}

	return c.JSON(TaskListResponse{Tasks: tasks, Total: len(tasks)})
}

// listAssignments handles GET /api/v1/assignments
func (s *Server) listAssignments(c *fiber.Ctx) error {
	assignments := s.scheduler.Assignments()
	return c.JSON(AssignmentListResponse{Assignments: assignments, Total: len(assignments)})
}

// failTask handles POST /api/v1/tasks/:id/fail
func (s *Server) failTask(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid task id: "+err.Error())
	}

	if !s.scheduler.Fail(id) {
		return fiber.NewError(fiber.StatusConflict, "task "+id.String()+" is not assigned")
	}

	s.logger.Info("task requeued by operator", zap.String("task_id", id.String()))
	return c.JSON(FailTaskResponse{TaskID: id, Status: types.TaskStatusFailed.String()})
}

// listResults handles GET /api/v1/results[?graph=]
func (s *Server) listResults(c *fiber.Ctx) error {
	graphs := make(map[string][]types.TaskResult)
	total := 0

	if graph := c.Query("graph"); graph != "" {
		rs := s.results.GraphResults(graph)
		if rs == nil {
			rs = []types.TaskResult{}
		}
		graphs[graph] = rs
		total = len(rs)
	} else {
		graphs = s.results.AllResults()
		for _, rs := range graphs {
			total += len(rs)
		}
	}

	return c.JSON(ResultsResponse{Graphs: graphs, Total: total})
}

// getReport handles GET /api/v1/report[?results=true]
func (s *Server) getReport(c *fiber.Ctx) error {
	r := report.Generate(
		s.scheduler.Summary(),
		s.results.AllResults(),
		time.Now(),
		report.Options{IncludeResults: c.QueryBool("results", false)},
	)
	return c.JSON(r)
}

// enqueueGraph handles POST /api/v1/graphs
func (s *Server) enqueueGraph(c *fiber.Ctx) error {
	var req EnqueueGraphRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "failed to parse request body: "+err.Error())
	}

	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "graph id is required")
	}
	if req.Runs <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "runs must be greater than 0")
	}

	created := s.scheduler.EnqueueGraph(req.ID, req.Runs, req.Config)
	ids := slice.Map(created, func(_ int, t types.Task) uuid.UUID { return t.ID })

	return c.Status(fiber.StatusCreated).JSON(EnqueueGraphResponse{
		GraphID: req.ID,
		Runs:    len(created),
		TaskIDs: ids,
	})
}
