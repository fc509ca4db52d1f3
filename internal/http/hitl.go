package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
)

func (s *Server) handleListRequests(c echo.Context) error {
	return c.JSON(http.StatusOK, RequestList{Requests: s.hitl.GetPendingRequests(c.QueryParam("workflow_id"))})
}

func (s *Server) handleGetRequest(c echo.Context) error {
	req, ok := s.hitl.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "request not found")
	}
	return c.JSON(http.StatusOK, req)
}

// handleRespond submits a human response. Invalid or late responses get 409
// and leave the request as it was.
func (s *Server) handleRespond(c echo.Context) error {
	var resp hitl.Response
	if err := c.Bind(&resp); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	resp.RequestID = c.Param("id")
	if resp.Action == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "action field is required")
	}
	if resp.RespondedAt.IsZero() {
		resp.RespondedAt = time.Now().UTC()
	}

	if err := s.hitl.Respond(resp); err != nil {
		switch {
		case errors.Is(err, hitl.ErrUnknownRequest):
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		case errors.Is(err, hitl.ErrAlreadyFinalized), errors.Is(err, hitl.ErrInvalidResponse):
			return echo.NewHTTPError(http.StatusConflict, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	status := hitl.RequestStatus("")
	if req, ok := s.hitl.Get(resp.RequestID); ok {
		status = req.Status
	}
	return c.JSON(http.StatusOK, RespondResult{RequestID: resp.RequestID, Status: status})
}

func (s *Server) handleCancelRequest(c echo.Context) error {
	var body CancelRequest
	_ = c.Bind(&body)
	id := c.Param("id")
	if body.Reason == "" {
		body.Reason = "cancelled via api"
	}
	if !s.hitl.CancelRequest(id, body.Reason) {
		if _, ok := s.hitl.Get(id); ok {
			return echo.NewHTTPError(http.StatusConflict, "request is not pending")
		}
		return echo.NewHTTPError(http.StatusNotFound, "request not found")
	}
	req, _ := s.hitl.Get(id)
	return c.JSON(http.StatusOK, req)
}
