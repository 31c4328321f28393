package service

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/safedesk/safety-orchestrator/internal/domain"
	apperrors "github.com/safedesk/safety-orchestrator/pkg/util/errorutil"
)

var (
	ErrCaseNotFound       = errors.New("case not found")
	ErrDoubleClose        = errors.New("case already closed")
	ErrInvalidTransition  = errors.New("invalid case status transition")
	ErrAssigneeInactive   = errors.New("assignee is not an active staff member")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

func caseNotFound(caseID string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.Wrap(ErrCaseNotFound, "NOT_FOUND", "case not found", http.StatusNotFound,
			map[string]any{"case_id": caseID})
	}
	return err
}

func doubleClose(c *domain.Case) error {
	details := map[string]any{"case_id": c.ID}
	if c.ClosedAt != nil {
		details["closed_at"] = c.ClosedAt
	}
	return apperrors.Wrap(ErrDoubleClose, "DOUBLE_CLOSE", "case is already closed", http.StatusConflict, details)
}

func invalidTransition(from, to domain.CaseStatus) error {
	return apperrors.Wrap(ErrInvalidTransition, "INVALID_TRANSITION", "status transition not allowed", http.StatusConflict,
		map[string]any{"from": from, "to": to})
}
