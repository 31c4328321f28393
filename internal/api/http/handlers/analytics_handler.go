package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/safedesk/safety-orchestrator/internal/api/dto"
	"github.com/safedesk/safety-orchestrator/internal/repository"
	"github.com/safedesk/safety-orchestrator/internal/service"
)

// AnalyticsHandler serves privacy-guarded aggregates.
type AnalyticsHandler struct {
	analytics *service.AnalyticsService
}

// NewAnalyticsHandler constructs handler.
func NewAnalyticsHandler(analytics *service.AnalyticsService) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: analytics}
}

// CaseCounts GET /v1/analytics/cases?group_by=status|severity.
func (h *AnalyticsHandler) CaseCounts(c *fiber.Ctx) error {
	groupBy := c.Query("group_by", repository.GroupBySeverity)
	counts, err := h.analytics.CaseCounts(c.UserContext(), groupBy)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.AnalyticsResponse{GroupBy: groupBy, Counts: counts}})
}
