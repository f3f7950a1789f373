package server

import (
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"ragagent/internal/assistant"
	"ragagent/internal/domain"
	"ragagent/internal/trace"
)

type CheckHandler struct {
	rt Runtime
}

func NewCheckHandler(rt Runtime) *CheckHandler {
	return &CheckHandler{rt: rt}
}

func (h *CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok", "index": h.rt.Stats()})
}

func (h *CheckHandler) HandleMetrics(c *fiber.Ctx) error {
	var sb strings.Builder
	if err := h.rt.Metrics().WriteText(&sb); err != nil {
		return err
	}
	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4; charset=utf-8")
	return c.SendString(sb.String())
}

// ToolHandler serves the shell tools and the agent.
type ToolHandler struct {
	rt     Runtime
	logger *slog.Logger
}

func NewToolHandler(rt Runtime, logger *slog.Logger) *ToolHandler {
	return &ToolHandler{rt: rt, logger: logger}
}

type toolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func (h *ToolHandler) HandleList(c *fiber.Ctx) error {
	shellTools := h.rt.Shell().Tools()
	shell := make([]toolInfo, 0, len(shellTools))
	for _, t := range shellTools {
		shell = append(shell, toolInfo{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	return c.JSON(fiber.Map{"shell": shell, "agent": h.rt.AgentTools()})
}

// HandleInvoke runs a shell tool. Tool failures are already turned into
// apology text, so every known tool answers 200.
func (h *ToolHandler) HandleInvoke(c *fiber.Ctx) error {
	name := c.Params("name")
	t := h.rt.Shell().Tool(name)
	if t == nil {
		return ErrNotFound("tool " + name)
	}

	var req QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrBadRequest()
	}
	if errs := validateRequest(&req); errs != nil {
		return NewValidationError(errs)
	}

	out, err := t.Execute(c.UserContext(), map[string]any{"query": req.Query})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"tool": name, "response": out})
}

// HandleAgentRun runs the document agent through the shell, so a failed
// run answers 200 with the apology and is traced like a voice call.
func (h *ToolHandler) HandleAgentRun(c *fiber.Ctx) error {
	var req QueryRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrBadRequest()
	}
	if errs := validateRequest(&req); errs != nil {
		return NewValidationError(errs)
	}

	start := time.Now()
	answer, err := h.rt.Shell().Invoke(c.UserContext(), assistant.DocumentAgentToolName, req.Query)
	if err != nil {
		return err
	}
	h.logger.Debug("agent run", "duration", time.Since(start))
	return c.JSON(fiber.Map{"answer": answer, "responseTime": time.Since(start).Milliseconds()})
}

// IndexHandler reports on and refreshes the document index.
type IndexHandler struct {
	rt     Runtime
	logger *slog.Logger
}

func NewIndexHandler(rt Runtime, logger *slog.Logger) *IndexHandler {
	return &IndexHandler{rt: rt, logger: logger}
}

func (h *IndexHandler) HandleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"success": true, "index": h.rt.Stats()})
}

func (h *IndexHandler) HandleUpdate(c *fiber.Ctx) error {
	res, err := h.rt.Update(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "Index updated successfully", "result": res})
}

func (h *IndexHandler) HandleRebuild(c *fiber.Ctx) error {
	res, err := h.rt.Rebuild(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "RAG embeddings recreated successfully", "result": res})
}

// TraceHandler lists, adds and clears call traces.
type TraceHandler struct {
	store domain.TraceStore
}

func NewTraceHandler(store domain.TraceStore) *TraceHandler {
	return &TraceHandler{store: store}
}

func (h *TraceHandler) available() error {
	if h.store == nil {
		return NewError(fiber.StatusServiceUnavailable, "call traces are disabled")
	}
	return nil
}

func (h *TraceHandler) HandleList(c *fiber.Ctx) error {
	if err := h.available(); err != nil {
		return err
	}
	limit := c.QueryInt("limit", trace.DefaultListLimit)
	traces, err := h.store.ListTraces(c.UserContext(), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "traces": traces})
}

func (h *TraceHandler) HandleAdd(c *fiber.Ctx) error {
	if err := h.available(); err != nil {
		return err
	}
	var req TraceRequest
	if err := c.BodyParser(&req); err != nil {
		return ErrBadRequest()
	}
	if errs := validateRequest(&req); errs != nil {
		return NewValidationError(errs)
	}

	t := domain.CallTrace{
		ID:           req.ID,
		SessionID:    req.SessionID,
		MessageType:  domain.TraceMessageType(req.MessageType),
		Message:      req.Message,
		ResponseTime: req.ResponseTime,
		TokenCount:   req.TokenCount,
		Confidence:   req.Confidence,
		Status:       domain.TraceStatus(req.Status),
		Metadata:     req.Metadata,
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if req.Timestamp != nil {
		t.Timestamp = *req.Timestamp
	} else {
		t.Timestamp = time.Now()
	}
	if t.MessageType == "" {
		t.MessageType = domain.TraceUser
	}
	if t.Status == "" {
		t.Status = domain.TraceSuccess
	}

	if err := h.store.AddTrace(c.UserContext(), t); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "Call trace added successfully", "trace": t})
}

func (h *TraceHandler) HandleClear(c *fiber.Ctx) error {
	if err := h.available(); err != nil {
		return err
	}
	if err := h.store.ClearTraces(c.UserContext()); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true, "message": "All call traces have been cleared successfully"})
}
