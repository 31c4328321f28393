package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/safedesk/safety-orchestrator/internal/api/http/handlers"
	"github.com/safedesk/safety-orchestrator/internal/auth"
	"github.com/safedesk/safety-orchestrator/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Classify       *handlers.ClassifyHandler
	Cases          *handlers.CasesHandler
	Executions     *handlers.ExecutionsHandler
	Analytics      *handlers.AnalyticsHandler
	Staff          *handlers.StaffHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	v1 := app.Group("/v1")
	v1.Post("/classify", cfg.Classify.Classify)
	v1.Post("/auth/staff/login", cfg.Staff.Login)

	staff := v1.Group("", cfg.AuthMiddleware.Handle, auth.RequireStaffRole())
	staff.Get("/cases", cfg.Cases.ListCases)
	staff.Get("/cases/:id", cfg.Cases.GetCase)
	staff.Post("/cases/:id/assign", cfg.Cases.AssignCase)
	staff.Post("/cases/:id/status", cfg.Cases.UpdateStatus)
	staff.Post("/cases/:id/close", cfg.Cases.CloseCase)

	leads := auth.RequireStaffRole(domain.StaffRoleLead, domain.StaffRoleAdmin)
	staff.Get("/executions/:id", leads, cfg.Executions.GetExecution)
	staff.Get("/analytics/cases", leads, cfg.Analytics.CaseCounts)
	staff.Get("/metrics", leads, cfg.Health.Metrics)
	staff.Get("/staff", leads, cfg.Staff.ListStaff)
	staff.Get("/staff/:id", leads, cfg.Staff.GetStaff)
	staff.Post("/staff", cfg.Staff.CreateStaff)
	staff.Patch("/staff/:id", cfg.Staff.UpdateStaff)
}
