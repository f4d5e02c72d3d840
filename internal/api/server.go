// Package api exposes the orchestrator over HTTP: task submission, status,
// cancellation, DAG export and agent registration.
package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ab1355/ModuMind/internal/archive"
	"github.com/ab1355/ModuMind/internal/config"
	"github.com/ab1355/ModuMind/internal/orchestrator"
	"github.com/ab1355/ModuMind/internal/registry"
)

// RequestIDHeader carries the request ID in and out.
const RequestIDHeader = "X-Request-ID"

// Deps are the components the API serves.
type Deps struct {
	Engine  *orchestrator.Engine
	Agents  *registry.Store
	Archive archive.Store
	Logger  *zap.SugaredLogger
}

// Server is the inbound HTTP API.
type Server struct {
	app    *fiber.App
	addr   string
	logger *zap.SugaredLogger
}

// NewServer builds the fiber app and registers every route.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		IdleTimeout:           cfg.IdleTimeout,
		BodyLimit:             cfg.BodyLimit,
		Immutable:             true,
		ErrorHandler:          errorHandler(log),
		DisableStartupMessage: true,
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(requestID)
	app.Use(accessLog(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	h := &handlers{
		engine:  deps.Engine,
		agents:  deps.Agents,
		archive: deps.Archive,
		logger:  log,
	}
	v1 := app.Group("/v1")
	v1.Post("/tasks", h.submitTask)
	v1.Get("/tasks", h.listTasks)
	v1.Get("/tasks/:id", h.getTask)
	v1.Get("/tasks/:id/graph", h.taskGraph)
	v1.Post("/tasks/:id/cancel", h.cancelTask)
	v1.Get("/agents", h.listAgents)
	v1.Post("/agents", h.registerAgent)
	v1.Delete("/agents/:name", h.deregisterAgent)
	v1.Get("/agents/:name/history", h.agentHistory)

	return &Server{app: app, addr: cfg.Address(), logger: log}
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves until Shutdown.
func (s *Server) Listen() error {
	s.logger.Infow("api_listening", "address", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func requestID(c *fiber.Ctx) error {
	id := c.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Locals("request_id", id)
	c.Set(RequestIDHeader, id)
	return c.Next()
}

func accessLog(log *zap.SugaredLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		route := ""
		if c.Route() != nil {
			route = c.Route().Path
		}
		log.Infow("http_access",
			"method", c.Method(),
			"path", c.Path(),
			"route", route,
			"status", c.Response().StatusCode(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.IP(),
			"request_id", c.Locals("request_id"),
		)
		return err
	}
}
