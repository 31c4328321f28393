package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/safedesk/safety-orchestrator/internal/auth"
	"github.com/safedesk/safety-orchestrator/internal/domain"
	"github.com/safedesk/safety-orchestrator/internal/repository"
	apperrors "github.com/safedesk/safety-orchestrator/pkg/util/errorutil"
)

// AuthService authenticates safety-desk staff.
type AuthService struct {
	staff      repository.StaffRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
}

// NewAuthService builds the service.
func NewAuthService(staff repository.StaffRepository, tokens *auth.TokenManager, bcryptCost int) *AuthService {
	return &AuthService{staff: staff, tokenMgr: tokens, bcryptCost: bcryptCost}
}

// LoginStaff authenticates staff and returns a role-bearing token.
func (s *AuthService) LoginStaff(ctx context.Context, email, password string) (*domain.StaffMember, string, time.Time, error) {
	staff, err := s.staff.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, "", time.Time{}, invalidCredentials()
		}
		return nil, "", time.Time{}, err
	}
	if !staff.Active {
		return nil, "", time.Time{}, apperrors.NewForbidden("staff account inactive")
	}
	if err := auth.ComparePassword(staff.PasswordHash, password); err != nil {
		return nil, "", time.Time{}, invalidCredentials()
	}
	token, exp, err := s.tokenMgr.GenerateToken(staff.ID, domain.SubjectTypeStaff, &staff.Role)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return staff, token, exp, nil
}

// RegisterStaff creates a staff account. Used for seeding and by admins.
func (s *AuthService) RegisterStaff(ctx context.Context, name, email, password string, role domain.StaffRole) (*domain.StaffMember, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || len(password) < 8 {
		return nil, apperrors.NewValidationError("email and a password of at least 8 characters are required", nil)
	}
	switch role {
	case domain.StaffRoleAgent, domain.StaffRoleLead, domain.StaffRoleAdmin:
	default:
		return nil, apperrors.NewValidationError("invalid role", map[string]any{"role": role})
	}
	if _, err := s.staff.GetByEmail(ctx, email); err == nil {
		return nil, apperrors.NewConflict("email already registered", nil)
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	hash, err := auth.HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	staff := &domain.StaffMember{
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
	}
	if err := s.staff.Create(ctx, staff); err != nil {
		return nil, err
	}
	return staff, nil
}

// EnsureBootstrapAdmin creates the first admin account if email is unused.
// It reports whether an account was created.
func (s *AuthService) EnsureBootstrapAdmin(ctx context.Context, email, password string) (bool, error) {
	if strings.TrimSpace(email) == "" {
		return false, nil
	}
	if _, err := s.staff.GetByEmail(ctx, strings.TrimSpace(email)); err == nil {
		return false, nil
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return false, err
	}
	if _, err := s.RegisterStaff(ctx, "Bootstrap Admin", email, password, domain.StaffRoleAdmin); err != nil {
		return false, err
	}
	return true, nil
}

func invalidCredentials() error {
	return apperrors.Wrap(ErrInvalidCredentials, "UNAUTHORIZED", ErrInvalidCredentials.Error(), http.StatusUnauthorized, nil)
}
