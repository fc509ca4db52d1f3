package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/checkpoint"
	"github.com/fyrsmithlabs/orchestrd/internal/orchestrator"
	"github.com/fyrsmithlabs/orchestrd/internal/runner"
)

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status:          "ok",
		Version:         s.version,
		PendingRequests: len(s.hitl.GetPendingRequests("")),
		EventStream:     s.nc != nil && s.nc.IsConnected(),
	}
	for _, w := range s.runner.List() {
		resp.Workflows++
		if !w.Done() {
			resp.Running++
		}
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePlan(c echo.Context) error {
	var a orchestrator.Analysis
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	plan, err := s.runner.Plan(a)
	if err != nil {
		return s.workflowError(err)
	}
	return c.JSON(http.StatusOK, PlanResponse{Plan: plan, Rendered: plan.String()})
}

func (s *Server) handleStartWorkflow(c echo.Context) error {
	var req runner.StartRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	wf, err := s.runner.Start(c.Request().Context(), req)
	if err != nil {
		return s.workflowError(err)
	}
	return c.JSON(http.StatusAccepted, wf)
}

func (s *Server) handleListWorkflows(c echo.Context) error {
	return c.JSON(http.StatusOK, WorkflowList{Workflows: s.runner.List()})
}

func (s *Server) handleGetWorkflow(c echo.Context) error {
	wf, ok := s.runner.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}
	return c.JSON(http.StatusOK, wf)
}

func (s *Server) handleCancelWorkflow(c echo.Context) error {
	var body CancelRequest
	// an empty body is fine
	_ = c.Bind(&body)
	id := c.Param("id")
	if err := s.runner.Cancel(id, body.Reason); err != nil {
		return s.workflowError(err)
	}
	wf, _ := s.runner.Get(id)
	return c.JSON(http.StatusAccepted, wf)
}

func (s *Server) handleResumeWorkflow(c echo.Context) error {
	var a orchestrator.Analysis
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	wf, err := s.runner.Resume(c.Request().Context(), c.Param("id"), a)
	if err != nil {
		return s.workflowError(err)
	}
	return c.JSON(http.StatusAccepted, wf)
}

// workflowError maps runner and planner errors to HTTP errors
func (s *Server) workflowError(err error) error {
	switch {
	case errors.Is(err, runner.ErrInvalidRequest), errors.Is(err, checkpoint.ErrInvalidID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, runner.ErrWorkflowNotFound), errors.Is(err, checkpoint.ErrSnapshotNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, runner.ErrWorkflowExists), errors.Is(err, runner.ErrWorkflowFinished):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrUnknownNode), errors.Is(err, orchestrator.ErrInvalidPlan):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, runner.ErrNoCheckpoints):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	case errors.Is(err, runner.ErrShuttingDown):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	s.logger.Error("workflow request failed", zap.Error(err))
	return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
}
