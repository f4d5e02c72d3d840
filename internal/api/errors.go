package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ab1355/ModuMind/internal/archive"
	"github.com/ab1355/ModuMind/internal/orchestrator"
	"github.com/ab1355/ModuMind/internal/registry"
	"github.com/ab1355/ModuMind/internal/task"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, orchestrator.ErrTaskNotFound),
		errors.Is(err, registry.ErrUnknownAgent),
		errors.Is(err, archive.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidGraph),
		errors.Is(err, registry.ErrInvalidDescriptor),
		errors.Is(err, task.ErrInvalidPageToken):
		return fiber.StatusBadRequest
	case errors.Is(err, orchestrator.ErrTaskTerminal),
		errors.Is(err, registry.ErrDuplicateAgent):
		return fiber.StatusConflict
	case errors.Is(err, orchestrator.ErrShuttingDown):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func errorHandler(log *zap.SugaredLogger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := statusFor(err)
		fields := []any{
			"method", c.Method(),
			"path", c.Path(),
			"status", code,
			"error", err.Error(),
			"request_id", c.Locals("request_id"),
		}
		if code >= fiber.StatusInternalServerError {
			log.Errorw("request_failed", fields...)
		} else {
			log.Warnw("request_rejected", fields...)
		}
		return c.Status(code).JSON(ErrorResponse{Error: err.Error()})
	}
}
