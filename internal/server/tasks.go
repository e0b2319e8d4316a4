package server

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mohammad-safakhou/sentinel/internal/agent/core"
	"github.com/mohammad-safakhou/sentinel/internal/capability"
)

var tasksTracer = otel.Tracer("sentinel/internal/server/tasks")

// TasksHandler serves /api/agent.
type TasksHandler struct {
	orch      Orchestrator
	registry  *capability.Registry
	logger    *log.Logger
	heartbeat time.Duration
}

func (h *TasksHandler) Register(g *echo.Group) {
	g.POST("/execute", h.execute)
	g.POST("/tasks", h.submit)
	g.GET("/tasks", h.list)
	g.GET("/tasks/:id", h.get)
	g.GET("/tasks/:id/events", h.events)
	g.POST("/tasks/:id/cancel", h.cancel)
	g.GET("/capabilities", h.capabilities)
}

type executeRequest struct {
	Command        string     `json:"command"`
	MaxSteps       int        `json:"max_steps"`
	TimeoutSeconds int        `json:"timeout_seconds"`
	Platforms      []string   `json:"platforms"`
	Since          *time.Time `json:"since"`
	Until          *time.Time `json:"until"`
}

func (r executeRequest) options() (core.SubmitOptions, error) {
	if strings.TrimSpace(r.Command) == "" {
		return core.SubmitOptions{}, echo.NewHTTPError(http.StatusBadRequest, "command is required")
	}
	if r.MaxSteps < 0 || r.TimeoutSeconds < 0 {
		return core.SubmitOptions{}, echo.NewHTTPError(http.StatusBadRequest, "max_steps and timeout_seconds cannot be negative")
	}
	if r.Since != nil && r.Until != nil && r.Until.Before(*r.Since) {
		return core.SubmitOptions{}, echo.NewHTTPError(http.StatusBadRequest, "until must not precede since")
	}
	var platforms []string
	for _, p := range r.Platforms {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			platforms = append(platforms, p)
		}
	}
	return core.SubmitOptions{
		MaxSteps:  r.MaxSteps,
		Timeout:   time.Duration(r.TimeoutSeconds) * time.Second,
		Platforms: platforms,
		Since:     r.Since,
		Until:     r.Until,
	}, nil
}

func bindExecute(c echo.Context) (executeRequest, core.SubmitOptions, error) {
	var req executeRequest
	if err := c.Bind(&req); err != nil {
		return req, core.SubmitOptions{}, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	opts, err := req.options()
	return req, opts, err
}

// execute starts a task and streams its events over SSE. A client that goes
// away only stops the stream; the task runs on and can be followed again.
func (h *TasksHandler) execute(c echo.Context) error {
	ctx, span := tasksTracer.Start(c.Request().Context(), "TasksHandler.execute")
	defer span.End()
	req, opts, err := bindExecute(c)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	id, err := h.orch.Submit(ctx, req.Command, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.String("task_id", id))
	events, err := h.orch.Subscribe(c.Request().Context(), id)
	if err != nil {
		return err
	}
	flusher, err := openStream(c)
	if err != nil {
		return err
	}
	return pump(c, flusher, events, h.heartbeat)
}

func (h *TasksHandler) submit(c echo.Context) error {
	ctx, span := tasksTracer.Start(c.Request().Context(), "TasksHandler.submit")
	defer span.End()
	req, opts, err := bindExecute(c)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	id, err := h.orch.Submit(ctx, req.Command, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.String("task_id", id))
	c.Response().Header().Set(echo.HeaderLocation, "/api/agent/tasks/"+id)
	return c.JSON(http.StatusAccepted, map[string]string{"task_id": id, "status": string(core.PhaseIdle)})
}

// events replays a task's stream from the first step and follows it live.
func (h *TasksHandler) events(c echo.Context) error {
	id := c.Param("id")
	events, err := h.orch.Subscribe(c.Request().Context(), id)
	if err != nil {
		return err
	}
	flusher, err := openStream(c)
	if err != nil {
		return err
	}
	return pump(c, flusher, events, h.heartbeat)
}

func (h *TasksHandler) get(c echo.Context) error {
	ctx, span := tasksTracer.Start(c.Request().Context(), "TasksHandler.get")
	defer span.End()
	id := c.Param("id")
	span.SetAttributes(attribute.String("task_id", id))
	rec, err := h.orch.GetTask(ctx, id)
	if err != nil {
		span.RecordError(err)
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

type listResponse struct {
	Tasks  []taskSummary `json:"tasks"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

type taskSummary struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`
	Status      core.Phase `json:"status"`
	Progress    int        `json:"progress"`
	ItemCount   int        `json:"intelligence_count"`
	TotalTokens int64      `json:"total_tokens"`
	StepCount   int        `json:"step_count"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func summarize(rec core.TaskRecord) taskSummary {
	return taskSummary{
		ID:          rec.ID,
		Command:     rec.Command,
		Status:      rec.Status,
		Progress:    rec.Progress,
		ItemCount:   len(rec.Items),
		TotalTokens: rec.TotalTokens,
		StepCount:   rec.StepCount,
		ErrorKind:   rec.ErrorKind,
		CreatedAt:   rec.CreatedAt,
		CompletedAt: rec.CompletedAt,
	}
}

func queryInt(c echo.Context, name string, def, max int) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be a non-negative integer")
	}
	if max > 0 && n > max {
		n = max
	}
	return n, nil
}

func (h *TasksHandler) list(c echo.Context) error {
	limit, err := queryInt(c, "limit", 20, 100)
	if err != nil {
		return err
	}
	offset, err := queryInt(c, "offset", 0, 0)
	if err != nil {
		return err
	}
	status := core.Phase(strings.ToLower(strings.TrimSpace(c.QueryParam("status"))))
	if status != "" && !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status "+string(status))
	}
	recs, total, err := h.orch.ListTasks(c.Request().Context(), core.Criteria{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		return err
	}
	out := listResponse{Tasks: make([]taskSummary, 0, len(recs)), Total: total, Limit: limit, Offset: offset}
	for _, rec := range recs {
		out.Tasks = append(out.Tasks, summarize(rec))
	}
	return c.JSON(http.StatusOK, out)
}

func (h *TasksHandler) cancel(c echo.Context) error {
	id := c.Param("id")
	if err := h.orch.CancelTask(id); err != nil {
		return err
	}
	h.logger.Printf("task %s cancelled by request from %s", id, c.RealIP())
	return c.JSON(http.StatusAccepted, map[string]string{"task_id": id, "status": "cancelling"})
}

func (h *TasksHandler) capabilities(c echo.Context) error {
	if h.registry == nil {
		return c.JSON(http.StatusOK, []capability.Descriptor{})
	}
	return c.JSON(http.StatusOK, h.registry.Descriptors())
}
