package service

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/safedesk/safety-orchestrator/internal/domain"
	"github.com/safedesk/safety-orchestrator/internal/repository"
	apperrors "github.com/safedesk/safety-orchestrator/pkg/util/errorutil"
)

// StaffService manages the safety-desk roster.
type StaffService struct {
	staff repository.StaffRepository
	auth  *AuthService
}

// StaffListFilters define listing parameters.
type StaffListFilters struct {
	Role   *domain.StaffRole
	Active *bool
	Limit  int
	Offset int
}

// StaffUpdate carries optional changes to a staff member.
type StaffUpdate struct {
	Name   *string
	Role   *domain.StaffRole
	Active *bool
}

// NewStaffService constructs the service. Account creation goes through
// authService so passwords are hashed in one place.
func NewStaffService(staff repository.StaffRepository, authService *AuthService) *StaffService {
	return &StaffService{staff: staff, auth: authService}
}

func requireAdmin(actor *domain.StaffMember) error {
	if actor == nil || actor.Role != domain.StaffRoleAdmin {
		return apperrors.NewForbidden("admin role required")
	}
	return nil
}

func requireLead(actor *domain.StaffMember) error {
	if actor == nil || (actor.Role != domain.StaffRoleLead && actor.Role != domain.StaffRoleAdmin) {
		return apperrors.NewForbidden("lead role required")
	}
	return nil
}

// CreateStaffMember adds a new staff account.
func (s *StaffService) CreateStaffMember(ctx context.Context, actor *domain.StaffMember, name, email, password string, role domain.StaffRole) (*domain.StaffMember, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	return s.auth.RegisterStaff(ctx, name, email, password, role)
}

// ListStaffMembers lists staff with filters. Leads need it to pick assignees.
func (s *StaffService) ListStaffMembers(ctx context.Context, actor *domain.StaffMember, filters StaffListFilters) ([]domain.StaffMember, error) {
	if err := requireLead(actor); err != nil {
		return nil, err
	}
	return s.staff.List(ctx, repository.StaffFilter{
		Role:   filters.Role,
		Active: filters.Active,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	})
}

// GetStaffMemberByID fetches staff.
func (s *StaffService) GetStaffMemberByID(ctx context.Context, actor *domain.StaffMember, id string) (*domain.StaffMember, error) {
	if err := requireLead(actor); err != nil {
		return nil, err
	}
	staff, err := s.staff.GetByID(ctx, id)
	if err != nil {
		return nil, staffLookupError(id, err)
	}
	return staff, nil
}

// UpdateStaffMember changes name, role or active flag. Admins cannot
// deactivate or demote themselves.
func (s *StaffService) UpdateStaffMember(ctx context.Context, actor *domain.StaffMember, staffID string, update StaffUpdate) (*domain.StaffMember, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	staff, err := s.staff.GetByID(ctx, staffID)
	if err != nil {
		return nil, staffLookupError(staffID, err)
	}

	if update.Name != nil {
		name := strings.TrimSpace(*update.Name)
		if name == "" {
			return nil, apperrors.NewValidationError("name cannot be empty", nil)
		}
		staff.Name = name
	}
	if update.Role != nil {
		switch *update.Role {
		case domain.StaffRoleAgent, domain.StaffRoleLead, domain.StaffRoleAdmin:
		default:
			return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": *update.Role})
		}
		if staff.ID == actor.ID && *update.Role != domain.StaffRoleAdmin {
			return nil, apperrors.NewConflict("admins cannot demote themselves", nil)
		}
		staff.Role = *update.Role
	}
	if update.Active != nil {
		if staff.ID == actor.ID && !*update.Active {
			return nil, apperrors.NewConflict("admins cannot deactivate themselves", nil)
		}
		staff.Active = *update.Active
	}

	if err := s.staff.Update(ctx, staff); err != nil {
		return nil, apperrors.MapError(err)
	}
	return staff, nil
}

func staffLookupError(id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFound("staff", map[string]any{"staff_id": id})
	}
	return apperrors.MapError(err)
}
