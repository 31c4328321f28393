package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/safedesk/safety-orchestrator/internal/domain"
	"github.com/safedesk/safety-orchestrator/internal/tracker"
	apperrors "github.com/safedesk/safety-orchestrator/pkg/util/errorutil"
)

// ExecutionReader serves execution records.
type ExecutionReader interface {
	Get(ctx context.Context, executionID string) (*domain.ExecutionRecord, error)
}

// ExecutionsHandler exposes the routing audit trail to staff.
type ExecutionsHandler struct {
	tracker ExecutionReader
}

// NewExecutionsHandler constructs handler.
func NewExecutionsHandler(t ExecutionReader) *ExecutionsHandler {
	return &ExecutionsHandler{tracker: t}
}

// GetExecution GET /v1/executions/:id.
func (h *ExecutionsHandler) GetExecution(c *fiber.Ctx) error {
	id := c.Params("id")
	rec, err := h.tracker.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, tracker.ErrNotFound) {
			return apperrors.NewNotFound("execution", map[string]any{"execution_id": id})
		}
		return err
	}
	return c.JSON(fiber.Map{"data": rec})
}
