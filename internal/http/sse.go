package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// handleWorkflowEvents streams a workflow's progress as server-sent events.
//
// Engine events are sent with the phase status as the event name (started,
// completed, failed, warning, waiting); human checkpoint events are sent as
// hitl.<type>. When the workflow finishes a final "done" event carries the
// workflow view and the stream closes.
//
//	event: started
//	data: {"workflow_id":"wf-1","node":"coder","phase_status":"started",...}
//
//	event: done
//	data: {"workflow_id":"wf-1","status":"completed",...}
func (s *Server) handleWorkflowEvents(c echo.Context) error {
	if s.nc == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "event stream not configured")
	}
	id := c.Param("id")
	if _, ok := s.runner.Get(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "workflow not found")
	}

	// subscribe before checking completion so no event falls in between
	msgs := make(chan *nats.Msg, 64)
	subs := make([]*nats.Subscription, 0, 2)
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()
	for _, subject := range []string{s.subjects.WorkflowEvents(id), s.subjects.WorkflowHITLEvents(id)} {
		sub, err := s.nc.ChanSubscribe(subject, msgs)
		if err != nil {
			return fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	ctx := c.Request().Context()
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.runner.Wait(waitCtx, id)
	}()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set(echo.HeaderCacheControl, "no-cache")
	w.Header().Set(echo.HeaderConnection, "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case msg := <-msgs:
			s.writeEvent(c, eventName(msg.Subject), msg.Data)

		case <-done:
			if ctx.Err() != nil {
				return nil
			}
			s.drain(c, msgs)
			wf, _ := s.runner.Get(id)
			wf.Events = nil
			wf.State = nil
			data, err := json.Marshal(wf)
			if err != nil {
				return err
			}
			s.writeEvent(c, "done", data)
			return nil

		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			w.Flush()

		case <-ctx.Done():
			s.logger.Debug("event stream client disconnected", zap.String("workflow_id", id))
			return nil
		}
	}
}

// drain forwards events already delivered to msgs
func (s *Server) drain(c echo.Context, msgs <-chan *nats.Msg) {
	// give in-flight publishes a moment to arrive after the run ends
	_ = s.nc.FlushTimeout(time.Second)
	for {
		select {
		case msg := <-msgs:
			s.writeEvent(c, eventName(msg.Subject), msg.Data)
		default:
			return
		}
	}
}

func (s *Server) writeEvent(c echo.Context, name string, data []byte) {
	w := c.Response()
	fmt.Fprintf(w, "event: %s\n", name)
	fmt.Fprintf(w, "data: %s\n\n", data)
	w.Flush()
}

// eventName derives the SSE event name from a subject:
// <prefix>.workflows.<id>.events.<status> or <prefix>.hitl.<wf>.<req>.<type>
func eventName(subject string) string {
	parts := strings.Split(subject, ".")
	last := parts[len(parts)-1]
	if len(parts) >= 4 && parts[len(parts)-4] == "hitl" {
		return "hitl." + last
	}
	return last
}
