package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/safedesk/safety-orchestrator/internal/api/dto"
	"github.com/safedesk/safety-orchestrator/internal/domain"
	"github.com/safedesk/safety-orchestrator/internal/service"
	apperrors "github.com/safedesk/safety-orchestrator/pkg/util/errorutil"
)

// CasesHandler serves the safety-desk queue.
type CasesHandler struct {
	cases *service.CaseService
	now   func() time.Time
}

// NewCasesHandler constructs handler.
func NewCasesHandler(cases *service.CaseService) *CasesHandler {
	return &CasesHandler{cases: cases, now: time.Now}
}

// ListCases GET /v1/cases.
func (h *CasesHandler) ListCases(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	filter := service.CaseListFilter{}
	if status := c.Query("status"); status != "" {
		s := domain.CaseStatus(status)
		filter.Status = &s
	}
	if assignee := c.Query("assigned_to"); assignee != "" {
		filter.AssignedTo = &assignee
	}
	if parseBoolQuery(c, "mine", false) {
		filter.AssignedTo = &staff.ID
	}
	filter.Limit, filter.Offset = parsePage(c, 100)

	list, err := h.cases.ListCases(c.UserContext(), filter)
	if err != nil {
		return err
	}
	items := make([]dto.CaseResponse, 0, len(list))
	for i := range list {
		items = append(items, h.caseResponse(&list[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// GetCase GET /v1/cases/:id.
func (h *CasesHandler) GetCase(c *fiber.Ctx) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	found, err := h.cases.GetCase(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.caseResponse(found)})
}

// AssignCase POST /v1/cases/:id/assign. An empty assignee means self-assign;
// only leads and admins may assign someone else.
func (h *CasesHandler) AssignCase(c *fiber.Ctx) error {
	staff, err := staffPrincipal(c)
	if err != nil {
		return err
	}
	id, err := caseID(c)
	if err != nil {
		return err
	}
	var req dto.AssignCaseRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	if req.AssigneeID == "" {
		req.AssigneeID = staff.ID
	}
	if req.AssigneeID != staff.ID && staff.Role == domain.StaffRoleAgent {
		return apperrors.NewForbidden("agents may only assign cases to themselves")
	}

	updated, err := h.cases.AssignCase(c.UserContext(), id, req.AssigneeID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.caseResponse(updated)})
}

// UpdateStatus POST /v1/cases/:id/status.
func (h *CasesHandler) UpdateStatus(c *fiber.Ctx) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	var req dto.UpdateCaseStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	updated, err := h.cases.UpdateStatus(c.UserContext(), id, req.Status)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.caseResponse(updated)})
}

// CloseCase POST /v1/cases/:id/close.
func (h *CasesHandler) CloseCase(c *fiber.Ctx) error {
	id, err := caseID(c)
	if err != nil {
		return err
	}
	var req dto.CloseCaseRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return apperrors.NewValidationError("invalid payload", nil)
		}
	}
	updated, err := h.cases.CloseCase(c.UserContext(), id, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": h.caseResponse(updated)})
}

// caseID rejects ids that cannot exist before they reach a uuid column.
func caseID(c *fiber.Ctx) (string, error) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", apperrors.NewNotFound("case", map[string]any{"case_id": id})
	}
	return id, nil
}

func (h *CasesHandler) caseResponse(cs *domain.Case) dto.CaseResponse {
	return dto.CaseResponse{
		ID:              cs.ID,
		ExecutionID:     cs.ExecutionID,
		Status:          cs.Status,
		Severity:        cs.Severity,
		AssignedTo:      cs.AssignedTo,
		SummaryRedacted: cs.SummaryRedacted,
		SLABreachAt:     cs.SLABreachAt,
		SLABreached:     cs.Status.Open() && !h.now().Before(cs.SLABreachAt),
		CloseReason:     cs.CloseReason,
		CreatedAt:       cs.CreatedAt,
		UpdatedAt:       cs.UpdatedAt,
		ClosedAt:        cs.ClosedAt,
	}
}
