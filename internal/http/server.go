// Package http serves the orchestrd REST API: workflow lifecycle, human
// checkpoint requests, server-sent progress events and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/hitl"
	"github.com/fyrsmithlabs/orchestrd/internal/logging"
	"github.com/fyrsmithlabs/orchestrd/internal/natsbus"
	"github.com/fyrsmithlabs/orchestrd/internal/runner"
)

// Server provides HTTP endpoints for orchestrd.
type Server struct {
	echo    *echo.Echo
	runner  *runner.Runner
	hitl    *hitl.Manager
	logger  *zap.Logger
	config  *Config
	version string

	nc        *nats.Conn
	subjects  natsbus.Subjects
	heartbeat time.Duration
}

// Config holds HTTP server configuration.
type Config struct {
	Addr string
}

// Option configures a Server
type Option func(*Server)

// WithEventStream enables GET /api/v1/workflows/:id/events by bridging NATS
// subjects to server-sent events.
func WithEventStream(nc *nats.Conn, subjects natsbus.Subjects) Option {
	return func(s *Server) {
		s.nc = nc
		s.subjects = subjects
	}
}

// WithVersion sets the version reported by /health
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// WithMetrics records otel request metrics
func WithMetrics(m *HTTPMetrics) Option {
	return func(s *Server) {
		if m != nil {
			s.echo.Use(m.MetricsMiddleware())
		}
	}
}

// NewServer creates a new HTTP server.
func NewServer(r *runner.Runner, m *hitl.Manager, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if r == nil {
		return nil, errors.New("runner cannot be nil")
	}
	if m == nil {
		return nil, errors.New("hitl manager cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Addr: "127.0.0.1:9191"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:      e,
		runner:    r,
		hitl:      m,
		logger:    logger,
		config:    cfg,
		version:   "dev",
		heartbeat: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s, nil
}

func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			reqID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), reqID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/plan", s.handlePlan)

	wf := v1.Group("/workflows")
	wf.POST("", s.handleStartWorkflow)
	wf.GET("", s.handleListWorkflows)
	wf.GET("/:id", s.handleGetWorkflow)
	wf.POST("/:id/cancel", s.handleCancelWorkflow)
	wf.POST("/:id/resume", s.handleResumeWorkflow)
	wf.GET("/:id/events", s.handleWorkflowEvents)

	req := v1.Group("/hitl/requests")
	req.GET("", s.handleListRequests)
	req.GET("/:id", s.handleGetRequest)
	req.POST("/:id/respond", s.handleRespond)
	req.POST("/:id/cancel", s.handleCancelRequest)
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.config.Addr))
	if err := s.echo.Start(s.config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
