// Package server exposes the agent over HTTP: streaming execution, task
// queries and cancellation, capability cards, health and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/mohammad-safakhou/sentinel/internal/agent/core"
	"github.com/mohammad-safakhou/sentinel/internal/capability"
)

// Orchestrator is the task surface the handlers need.
type Orchestrator interface {
	Submit(ctx context.Context, command string, opts core.SubmitOptions) (string, error)
	Subscribe(ctx context.Context, id string) (<-chan core.Event, error)
	CancelTask(id string) error
	GetTask(ctx context.Context, id string) (core.TaskRecord, error)
	ListTasks(ctx context.Context, c core.Criteria) ([]core.TaskRecord, int, error)
}

// Server owns the echo instance.
type Server struct {
	e      *echo.Echo
	tasks  *TasksHandler
	logger *log.Logger
}

type Option func(*Server)

func WithLogger(l *log.Logger) Option { return func(s *Server) { s.logger = l } }

// New builds the router. registry may be nil when no capability cards should be served.
func New(orch Orchestrator, registry *capability.Registry, opts ...Option) *Server {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(echo.WrapMiddleware(otelhttp.NewMiddleware("sentinel.http",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string { return r.Method + " " + r.URL.Path }),
	)))
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	registerDocs(e)

	s.tasks = &TasksHandler{orch: orch, registry: registry, logger: s.logger, heartbeat: 15 * time.Second}
	s.tasks.Register(e.Group("/api/agent"))
	s.e = e
	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Start serves on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.logger.Printf("listening on %s", addr)
	if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }

// handleError renders every failure as {"error": msg}.
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	msg := err.Error()
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		if he.Message != nil {
			msg = fmt.Sprint(he.Message)
		}
	case errors.Is(err, core.ErrTaskNotFound):
		code = http.StatusNotFound
	case errors.Is(err, core.ErrTaskFinished):
		code = http.StatusConflict
	case errors.Is(err, core.ErrInvalidSubmission):
		code = http.StatusBadRequest
	}
	req := c.Request()
	s.logger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
	if !c.Response().Committed {
		_ = c.JSON(code, map[string]interface{}{"error": msg})
	}
}
