package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ab1355/ModuMind/internal/archive"
	"github.com/ab1355/ModuMind/internal/export"
	"github.com/ab1355/ModuMind/internal/orchestrator"
	"github.com/ab1355/ModuMind/internal/registry"
	"github.com/ab1355/ModuMind/internal/task"
)

// SubmitRequest is the body of POST /v1/tasks. Wait makes the call block
// until the task is terminal.
type SubmitRequest struct {
	orchestrator.Request
	Wait bool `json:"wait,omitempty"`
}

// RegisterRequest is the body of POST /v1/agents.
type RegisterRequest struct {
	Name         string   `json:"name"`
	Address      string   `json:"address"`
	Capabilities []string `json:"capabilities"`
}

// HistoryResponse is the body of GET /v1/agents/:name/history.
type HistoryResponse struct {
	Agent   string                 `json:"agent"`
	Entries []archive.HistoryEntry `json:"entries"`
}

type handlers struct {
	engine  *orchestrator.Engine
	agents  *registry.Store
	archive archive.Store
	logger  *zap.SugaredLogger
}

func (h *handlers) submitTask(c *fiber.Ctx) error {
	var req SubmitRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	wait := req.Wait || c.QueryBool("wait")

	ctx := c.UserContext()
	if !wait {
		snap, err := h.engine.Submit(ctx, req.Request)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusAccepted).JSON(snap)
	}

	snap, err := h.engine.Run(ctx, req.Request)
	if err != nil && snap.Task.ID == "" {
		return err
	}
	return c.JSON(snap)
}

func (h *handlers) listTasks(c *fiber.Ctx) error {
	page, err := h.engine.List(task.Filter{
		Status:    task.Status(c.Query("status")),
		PageToken: c.Query("page_token"),
		PageSize:  c.QueryInt("page_size"),
	})
	if err != nil {
		return err
	}
	return c.JSON(page)
}

func (h *handlers) getTask(c *fiber.Ctx) error {
	snap, err := h.snapshot(c)
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

func (h *handlers) taskGraph(c *fiber.Ctx) error {
	snap, err := h.snapshot(c)
	if err != nil {
		return err
	}
	switch strings.ToLower(c.Query("format", "json")) {
	case "mermaid":
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(export.GenerateMermaid(snap))
	case "json":
		return c.JSON(export.ExportGraph(snap, time.Now()))
	default:
		return fiber.NewError(fiber.StatusBadRequest, "format must be json or mermaid")
	}
}

// snapshot looks the task up in the engine, then in the archive.
func (h *handlers) snapshot(c *fiber.Ctx) (task.Snapshot, error) {
	id := c.Params("id")
	snap, err := h.engine.Get(id)
	if err == nil || !errors.Is(err, orchestrator.ErrTaskNotFound) || h.archive == nil {
		return snap, err
	}
	archived, aerr := h.archive.Get(c.UserContext(), id)
	if aerr != nil {
		return task.Snapshot{}, err
	}
	return archived, nil
}

func (h *handlers) cancelTask(c *fiber.Ctx) error {
	id := c.Params("id")
	snap, err := h.engine.Cancel(id)
	if errors.Is(err, orchestrator.ErrTaskNotFound) && h.archive != nil {
		if archived, aerr := h.archive.Get(c.UserContext(), id); aerr == nil {
			return fmt.Errorf("%w: %s is %s", orchestrator.ErrTaskTerminal, id, archived.Task.Status)
		}
	}
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

func (h *handlers) listAgents(c *fiber.Ctx) error {
	var agents []registry.Descriptor
	if capability := c.Query("capability"); capability != "" {
		agents = h.agents.List(capability)
	} else {
		agents = h.agents.All()
	}
	if agents == nil {
		agents = []registry.Descriptor{}
	}
	return c.JSON(agents)
}

func (h *handlers) registerAgent(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	if err := h.agents.Register(registry.Descriptor{
		Name:         req.Name,
		Address:      req.Address,
		Capabilities: req.Capabilities,
	}); err != nil {
		return err
	}
	d, err := h.agents.Get(strings.TrimSpace(req.Name))
	if err != nil {
		return err
	}
	h.logger.Infow("agent_registered", "agent", d.Name, "address", d.Address, "capabilities", d.Capabilities)
	return c.Status(fiber.StatusCreated).JSON(d)
}

func (h *handlers) deregisterAgent(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := h.agents.Deregister(name); err != nil {
		return err
	}
	h.logger.Infow("agent_deregistered", "agent", name)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *handlers) agentHistory(c *fiber.Ctx) error {
	name := c.Params("name")
	resp := HistoryResponse{Agent: name, Entries: []archive.HistoryEntry{}}
	if h.archive == nil {
		return c.JSON(resp)
	}
	entries, err := h.archive.AgentHistory(c.UserContext(), name, c.QueryInt("limit"))
	if err != nil {
		return err
	}
	if entries != nil {
		resp.Entries = entries
	}
	return c.JSON(resp)
}
