package domain

import "time"

// StaffRole enumerates safety-desk operator roles.
type StaffRole string

const (
	StaffRoleAgent StaffRole = "SAFETY_AGENT"
	StaffRoleLead  StaffRole = "SAFETY_LEAD"
	StaffRoleAdmin StaffRole = "ADMIN"
)

// StaffMember models a safety-desk responder.
type StaffMember struct {
	ID           string
	Name         string
	Email        string
	PasswordHash string
	Role         StaffRole
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
