package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/safedesk/safety-orchestrator/internal/api/dto"
	"github.com/safedesk/safety-orchestrator/internal/domain"
	"github.com/safedesk/safety-orchestrator/internal/router"
	apperrors "github.com/safedesk/safety-orchestrator/pkg/util/errorutil"
)

// Router runs one classification request through orchestration.
type Router interface {
	Route(ctx context.Context, req domain.ClassificationRequest) (*router.Result, error)
}

// ClassifyHandler is the entry point used by the chat frontends.
type ClassifyHandler struct {
	router Router
}

// NewClassifyHandler constructs handler.
func NewClassifyHandler(r Router) *ClassifyHandler {
	return &ClassifyHandler{router: r}
}

// Classify POST /v1/classify. A failed coach or resource handler with a
// usable fallback still answers 200 with fallback set. A failed escalation
// always answers 503 so it is never mistaken for an open case; the fallback
// resources travel in the error details.
func (h *ClassifyHandler) Classify(c *fiber.Ctx) error {
	var req dto.ClassifyRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return apperrors.NewValidationError("session_id required", nil)
	}

	res, err := h.router.Route(c.UserContext(), domain.NewClassificationRequest(req.SessionID, req.Text, req.Meta))
	if err != nil {
		if !errors.Is(err, router.ErrRoutingFailed) {
			return err
		}
		if res != nil && res.EscalationFailed {
			return apperrors.Wrap(err, "ESCALATION_FAILED", "safety desk escalation failed", http.StatusServiceUnavailable,
				map[string]any{"execution_id": res.ExecutionID, "resources": resourceItems(res.Outcome.Resources)})
		}
		if res == nil || !res.Fallback {
			return apperrors.Wrap(err, "ROUTING_FAILED", "request could not be routed", http.StatusServiceUnavailable,
				map[string]any{"execution_id": executionID(res)})
		}
	}
	return c.JSON(fiber.Map{"data": classifyResponse(res)})
}

func executionID(res *router.Result) string {
	if res == nil {
		return ""
	}
	return res.ExecutionID
}

func classifyResponse(res *router.Result) dto.ClassifyResponse {
	return dto.ClassifyResponse{
		RiskClassification: res.Classification,
		ExecutionID:        res.ExecutionID,
		CaseID:             res.Outcome.CaseID,
		HandoffID:          res.Outcome.HandoffID,
		Resources:          resourceItems(res.Outcome.Resources),
		Fallback:           res.Fallback,
	}
}

func resourceItems(resources []router.Resource) []dto.ResourceItem {
	var out []dto.ResourceItem
	for _, r := range resources {
		out = append(out, dto.ResourceItem{Title: r.Title, URL: r.URL})
	}
	return out
}
